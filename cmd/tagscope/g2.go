package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Resinat/Tagscope/internal/service"
)

func newHBTCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "g2",
		Aliases: []string{"hbt"},
		Short:   "Capture the HBT g2 and export it to HBTG2.txt",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			res, err := a.harness.HBT(cmd.Context())
			if err != nil {
				return err
			}
			writeG2Result(cmd.OutOrStdout(), res)
			return nil
		},
	}
}

func newHg2Cmd(opts *rootOptions) *cobra.Command {
	var (
		idler, ch1, ch2    int
		binWidth, binCount int
		wait               string
	)
	cmd := &cobra.Command{
		Use:   "hg2",
		Short: "Integrate a heralded g2, export it and chart it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			p := a.harness.Hg2Defaults()
			flags := cmd.Flags()
			if flags.Changed("idler") {
				p.Idler = idler
			}
			if flags.Changed("channel1") {
				p.Channel1 = ch1
			}
			if flags.Changed("channel2") {
				p.Channel2 = ch2
			}
			if flags.Changed("bin-width") {
				p.BinWidth = binWidth
			}
			if flags.Changed("bin-count") {
				p.BinCount = binCount
			}
			if flags.Changed("wait") {
				if p.Wait, err = parseWait(wait); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := a.harness.CaptureHg2(ctx, p)
			if err != nil {
				return err
			}
			writeG2Result(cmd.OutOrStdout(), res)
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&idler, "idler", 0, "Idler (herald) channel")
	f.IntVar(&ch1, "channel1", 0, "First signal channel")
	f.IntVar(&ch2, "channel2", 0, "Second signal channel")
	f.IntVar(&binWidth, "bin-width", 0, "Histogram bin width in timebase units")
	f.IntVar(&binCount, "bin-count", 0, "Histogram bins per side")
	f.StringVar(&wait, "wait", "", "Integration time, e.g. 5s")
	return cmd
}

func writeG2Result(w io.Writer, res *service.G2Result) {
	fmt.Fprintf(w, "Run %s: %d values\n", res.Run.ID, len(res.Values))
	fmt.Fprintf(w, "Export: %s (%s)\n", res.Export.Path, res.Export.Digest)
	if res.ChartPath != "" {
		fmt.Fprintf(w, "Chart:  %s\n", res.ChartPath)
	}
}

func parseWait(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("wait: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("wait: must be non-negative, got %s", d)
	}
	return d, nil
}
