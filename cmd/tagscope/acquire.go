package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAcquireCmd(opts *rootOptions) *cobra.Command {
	var exposureMs, bins int
	cmd := &cobra.Command{
		Use:   "acquire",
		Short: "Take one acquisition and print the counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			if !cmd.Flags().Changed("exposure") {
				exposureMs = a.cfg.ExposureMs
			}
			if !cmd.Flags().Changed("bins") {
				bins = a.cfg.CoincidenceWindowBins
			}
			res, err := a.harness.Acquire(cmd.Context(), exposureMs, bins)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			acq := res.Acquisition
			fmt.Fprintf(out, "Run %s: exposure %d ms, window %d bins, %d updates, data lost %t\n",
				res.Run.ID, acq.ExposureMs, acq.CoincidenceWindowBins, acq.Counters.Updates, acq.DataLost)
			writeCounters(out, acq.Counters.Values)
			fmt.Fprintf(out, "Timestamps: %d\n", acq.Timestamps.Valid)
			return nil
		},
	}
	cmd.Flags().IntVar(&exposureMs, "exposure", 0, "Exposure time in ms (default: exposure_ms)")
	cmd.Flags().IntVar(&bins, "bins", 0, "Coincidence window in bins (default: coincidence_window_bins)")
	return cmd
}
