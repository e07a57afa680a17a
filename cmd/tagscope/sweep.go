package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Resinat/Tagscope/internal/plan"
	"github.com/Resinat/Tagscope/internal/service"
)

func newSweepCmd(opts *rootOptions) *cobra.Command {
	var planPath string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Sweep the coincidence window and export counts per window",
		Long:  `sweep acquires once per coincidence window of the plan and writes coincWin_<N>ns.txt to the export directory. Without --plan the default 1 to 50 ns sweep at 20 ms exposure is used.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := plan.Default()
			if planPath != "" {
				var err error
				if p, err = plan.Load(planPath); err != nil {
					return err
				}
			}

			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			sweepID, err := a.harness.Sweep(ctx, p, func(res service.SweepResult) {
				fmt.Fprintf(out, "%6g ns  %7d bins  %s  %s\n",
					res.Point.WindowNs, res.Point.Acquisition.CoincidenceWindowBins, res.Export.Path, res.Export.Digest)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Sweep %s done\n", sweepID)
			return nil
		},
	}
	cmd.Flags().StringVar(&planPath, "plan", "", "YAML sweep plan")
	return cmd
}
