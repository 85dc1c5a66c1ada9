package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the current status of beacon",
		Long:    `Get the daemon status, its configuration and a summary of tracked devices.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := apiClient.GetStatus()
			if err != nil {
				return fmt.Errorf("failed to get daemon status: %w", err)
			}
			conf, err := apiClient.GetConfig()
			if err != nil {
				return fmt.Errorf("failed to get config: %w", err)
			}
			devices, err := apiClient.GetDevices()
			if err != nil {
				return fmt.Errorf("failed to get devices: %w", err)
			}

			cmd.Println(bold("Daemon:"))
			cmd.Printf("  Version: %s\n", bold("%s", st.Version))
			cmd.Printf("  Started: %s\n", ago(st.StartedAt))
			cmd.Printf("  Source: %s %s\n", bold("%s", st.Source), bool2Text(st.SourceUp))
			cmd.Printf("  Samples in the last minute: %s\n", bold("%d", st.SamplesLastMinute))
			cmd.Printf("  Last sample: %s\n", ago(st.LastSampleAt))
			cmd.Printf("  Last maintenance: %s\n", ago(st.LastMaintenance))
			if !st.NextMaintenance.IsZero() {
				cmd.Printf("  Next maintenance: %s\n", st.NextMaintenance.Local().Format(time.DateTime))
			}

			cmd.Println()

			cmd.Println(bold("Devices:"))
			cmd.Printf("  Tracked: %s, calibrated: %s\n", bold("%d", st.TrackedDevices), bold("%d", st.CalibratedDevices))
			for _, d := range devices {
				line := fmt.Sprintf("    %s  %s  %.1f dBm", d.DeviceID, statusText(d.Status), d.SmoothedRSSI)
				if d.Stale {
					line += " (stale)"
				}
				cmd.Println(line)
			}

			cmd.Println()

			cmd.Println(bold("Configuration:"))
			if conf.Alpha != nil {
				cmd.Printf("  Smoothing factor: %s\n", bold("%g", *conf.Alpha))
			}
			if conf.Margin != nil {
				cmd.Printf("  Margin: %s\n", bold("%g dB", *conf.Margin))
			}
			if conf.DebounceCount != nil {
				cmd.Printf("  Debounce: %s\n", bold("%d samples", *conf.DebounceCount))
			}
			if conf.StaleTimeoutSeconds != nil {
				cmd.Printf("  Stale timeout: %s\n", bold("%ds", *conf.StaleTimeoutSeconds))
			}
			if conf.RecordSamples != nil {
				cmd.Printf("  Record samples: %s\n", bool2Text(*conf.RecordSamples))
			}
			if conf.AllowNonRootAccess != nil {
				cmd.Printf("  Allow non-root users to access the daemon: %s\n", bool2Text(*conf.AllowNonRootAccess))
			}
			return nil
		},
	}
}
