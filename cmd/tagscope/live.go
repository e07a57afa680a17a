package main

import (
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Resinat/Tagscope/internal/render"
)

func newLiveCmd(opts *rootOptions) *cobra.Command {
	var (
		channels []int
		capacity int
		elapsed  bool
		noChart  bool
	)
	cmd := &cobra.Command{
		Use:   "live",
		Short: "Plot live count rates until interrupted",
		Long:  `live polls the coincidence counters and keeps a rolling window of the selected counters. Every refresh is logged and, unless --no-chart is set, drawn to <export_dir>/counts.png.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			lc := liveConfig(a.cfg)
			if cmd.Flags().Changed("channels") {
				lc.Channels = channels
			}
			if cmd.Flags().Changed("capacity") {
				lc.Capacity = capacity
			}
			lc.ElapsedAxis = elapsed

			renderers := render.Multi{render.LogRenderer{Logger: log.WithField("component", "live")}}
			if !noChart {
				renderers = append(renderers, a.chart)
			}
			return a.sess.Live(ctx, lc, renderers)
		},
	}
	cmd.Flags().IntSliceVar(&channels, "channels", nil, "Counter indices to plot (default: live_channels)")
	cmd.Flags().IntVar(&capacity, "capacity", 0, "Samples kept per counter (default: window_capacity)")
	cmd.Flags().BoolVar(&elapsed, "elapsed", false, "Plot seconds since the first sample instead of seconds ago")
	cmd.Flags().BoolVar(&noChart, "no-chart", false, "Only log the counts")
	return cmd
}
