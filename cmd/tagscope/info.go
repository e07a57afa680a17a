package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Resinat/Tagscope/internal/device"
)

func newInfoCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Print the device settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			report, err := a.harness.Describe(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			writeReport(out, report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

func writeReport(w io.Writer, r device.Report) {
	fmt.Fprintf(w, "Calibration:        %s\n", r.CalibrationState)
	fmt.Fprintf(w, "Timebase:           %g s\n", r.TimebaseSeconds)
	fmt.Fprintf(w, "Buffer size:        %d\n", r.BufferSize)
	fmt.Fprintf(w, "Exposure:           %d ms\n", r.Params.ExposureMs)
	fmt.Fprintf(w, "Coincidence window: %d bins (%g ns)\n",
		r.Params.CoincidenceWindowBins, device.BinsToNs(r.Params.CoincidenceWindowBins, r.TimebaseSeconds))
	channels := make([]string, len(r.EnabledChannels))
	for i, ch := range r.EnabledChannels {
		channels[i] = fmt.Sprint(ch)
	}
	fmt.Fprintf(w, "Enabled channels:   %s\n", strings.Join(channels, " "))
	fmt.Fprintf(w, "Clock:              locked=%t uplink=%t\n", r.Clock.Locked, r.Clock.Uplink)
	fmt.Fprintf(w, "Counter updates:    %d\n", r.Counters.Updates)
	writeCounters(w, r.Counters.Values)
}

// writeCounters prints the non-zero counters by name.
func writeCounters(w io.Writer, values []int64) {
	for i, v := range values {
		if v == 0 {
			continue
		}
		fmt.Fprintf(w, "  %-10s %d\n", device.CounterName(i), v)
	}
}
