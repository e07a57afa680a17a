package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"emperror.dev/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Resinat/Tagscope/internal/api"
	"github.com/Resinat/Tagscope/internal/buildinfo"
	"github.com/Resinat/Tagscope/internal/render"
	"github.com/Resinat/Tagscope/internal/schedule"
	"github.com/Resinat/Tagscope/internal/service"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var noLive bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the live view, the HTTP API and scheduled captures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts, !noLive)
		},
	}
	cmd.Flags().BoolVar(&noLive, "no-live", false, "Do not run the live view")
	return cmd
}

func serve(ctx context.Context, opts *rootOptions, withLive bool) error {
	a, err := openApp(opts)
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck
	cfg := a.cfg
	logger := log.WithField("component", "serve")

	charts := render.NewChartCache(a.chart, cfg.ChartCacheEntries)
	defer charts.Close()

	srv := api.NewServer(api.ServerConfig{
		ListenAddress: cfg.ListenAddress,
		Port:          cfg.Port,
		AdminToken:    cfg.AdminToken,
		MaxBodyBytes:  int64(cfg.APIMaxBodyBytes),
		SystemInfo: service.NewMemorySystemService(service.SystemInfo{
			Version:   buildinfo.Version,
			GitCommit: buildinfo.GitCommit,
			BuildTime: buildinfo.BuildTime,
			StartedAt: time.Now().UTC(),
			Device:    cfg.Device,
		}),
		Harness:               a.harness,
		Charts:                charts,
		ExposureMs:            cfg.ExposureMs,
		CoincidenceWindowBins: cfg.CoincidenceWindowBins,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var (
		wg      sync.WaitGroup
		errOnce sync.Once
		runErr  error
	)
	fail := func(err error) {
		errOnce.Do(func() { runErr = err })
		cancel()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.WithField("addr", srv.Addr()).Info("API server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fail(errors.WrapIf(err, "api server"))
		}
	}()

	if withLive {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.sess.Live(runCtx, liveConfig(cfg), nil); err != nil && runCtx.Err() == nil {
				fail(errors.WrapIf(err, "live view"))
			}
		}()
	}

	if cfg.Hg2Schedule != "" {
		sched, err := schedule.New("hg2", cfg.Hg2Schedule, func(ctx context.Context) error {
			_, err := a.harness.CaptureHg2(ctx, a.harness.Hg2Defaults())
			return err
		})
		if err != nil {
			fail(err)
		} else {
			sched.Start()
			defer sched.Stop()
		}
	}

	<-runCtx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("API server shutdown")
	}
	wg.Wait()
	logger.Info("stopped")
	return runErr
}
