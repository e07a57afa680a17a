package api

import (
	"context"
	"net"
	"net/http"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/Resinat/Tagscope/internal/render"
	"github.com/Resinat/Tagscope/internal/service"
)

// ServerConfig wires a Server.
type ServerConfig struct {
	ListenAddress string
	Port          int
	// AdminToken guards /api/. Empty disables auth.
	AdminToken   string
	MaxBodyBytes int64
	SystemInfo   service.SystemService
	// Harness may be nil, in which case only system routes are served.
	Harness *service.Harness
	Charts  *render.ChartCache

	// Defaults for POST /api/v1/actions/acquire.
	ExposureMs            int
	CoincidenceWindowBins int
}

// Server wraps the HTTP server and mux for the tagscope API.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates a new API server wired with all routes.
func NewServer(cfg ServerConfig) *Server {
	mux := http.NewServeMux()

	// Public (no auth)
	var ping func(ctx context.Context) error
	if cfg.Harness != nil {
		ping = cfg.Harness.Ping
	}
	mux.Handle("GET /healthz", HandleHealthz(ping))

	// Authenticated routes
	authed := http.NewServeMux()
	if cfg.SystemInfo != nil {
		authed.Handle("GET /api/v1/system/info", HandleSystemInfo(cfg.SystemInfo))
	}

	if h := cfg.Harness; h != nil {
		authed.Handle("GET /api/v1/device", HandleDevice(h))

		// Live views.
		authed.Handle("GET /api/v1/live", HandleListLive(h))
		authed.Handle("GET /api/v1/live/{name}", HandleLiveFrame(h))
		charts := cfg.Charts
		if charts == nil {
			charts = render.NewChartCache(render.ChartRenderer{}, 0)
		}
		authed.Handle("GET /api/v1/live/{name}/chart.png", HandleLiveChart(h, charts))

		// Runs.
		authed.Handle("GET /api/v1/runs", HandleListRuns(h))
		authed.Handle("GET /api/v1/runs/{id}", HandleGetRun(h))
		authed.Handle("DELETE /api/v1/runs/{id}", HandleDeleteRun(h))

		// Measurements.
		authed.Handle("POST /api/v1/actions/acquire", HandleAcquire(h, cfg.ExposureMs, cfg.CoincidenceWindowBins))
		authed.Handle("POST /api/v1/actions/sweep", HandleSweep(h))
		authed.Handle("POST /api/v1/actions/hbt", HandleHBT(h))
		authed.Handle("POST /api/v1/actions/hg2", HandleCaptureHg2(h))
	}

	limitedAuthed := RequestBodyLimitMiddleware(cfg.MaxBodyBytes, authed)
	mux.Handle("/api/", AuthMiddleware(cfg.AdminToken, limitedAuthed))

	srv := &http.Server{
		Addr:    net.JoinHostPort(cfg.ListenAddress, strconv.Itoa(cfg.Port)),
		Handler: AccessLogMiddleware(log.WithField("component", "api"), mux),
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// ListenAndServe starts the HTTP server. It blocks until the server stops.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.mux
}
