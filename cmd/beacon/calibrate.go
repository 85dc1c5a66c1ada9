package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/charlie0129/beacon/pkg/calibration"
	"github.com/charlie0129/beacon/pkg/client"
	"github.com/charlie0129/beacon/pkg/events"
)

func printCalibration(cmd *cobra.Command, r calibration.Result) {
	cmd.Printf("Run: %s\n", bold("%s", r.ID))
	cmd.Printf("Device: %s\n", bold("%s", r.DeviceID))
	cmd.Printf("Reference RSSI: %s\n", bold("%.1f dBm", r.ReferenceRSSI))
	cmd.Printf("Readings: %s (std dev %.2f dB)\n", bold("%d", r.SampleCount), r.StdDev())
	cmd.Printf("Computed: %s\n", r.ComputedAt.Local().Format(time.DateTime))
	if r.Partial {
		cmd.Println("Partial: the window was cut short")
	}
}

func NewCalibrateCommand() *cobra.Command {
	var (
		duration time.Duration
		follow   bool
	)

	cmd := &cobra.Command{
		Use:   "calibrate <device>",
		Short: "Record the reference signal strength of a device",
		Long: `Record the reference signal strength of a device.

Hold the device at the distance that should count as "present" while the
calibration window runs. Readings of the device during the window are
averaged into its reference RSSI. Presence tracking of the device resumes
when the window ends.`,
		Example: `  beacon calibrate AA:BB:CC:DD:EE:FF --duration 30s --follow`,
		GroupID: gCalibration,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deviceID := args[0]

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var wg sync.WaitGroup
			watchCtx, cancelWatch := context.WithCancel(ctx)
			defer func() {
				cancelWatch()
				wg.Wait()
			}()
			if follow {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_ = apiClient.WatchEvents(watchCtx, func(e events.Event) bool {
						if e.Name != events.CalibrationSample || !eventForDevice(e, deviceID) {
							return true
						}
						p, err := events.DecodeAs[events.CalibrationSampleEvent](e)
						if err == nil {
							cmd.Printf("  reading %d dBm\n", p.RSSI)
						}
						return true
					})
				}()
			}

			cmd.Printf("Calibrating %s, keep the device in place...\n", deviceID)
			res, err := apiClient.Calibrate(ctx, deviceID, duration)
			switch {
			case client.IsStatus(err, http.StatusConflict):
				return fmt.Errorf("%s is already being calibrated: %w", deviceID, err)
			case client.IsStatus(err, http.StatusUnprocessableEntity):
				return fmt.Errorf("no readings of %s arrived during the window: %w", deviceID, err)
			case err != nil:
				return err
			}

			cmd.Println()
			printCalibration(cmd, *res)
			return nil
		},
	}

	f := cmd.Flags()
	f.DurationVar(&duration, "duration", 0, "length of the calibration window (default: daemon setting)")
	f.BoolVarP(&follow, "follow", "f", false, "print readings as they arrive")

	return cmd
}

func NewCalibrationCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "calibration",
		Aliases: []string{"calibrations"},
		Short:   "Inspect stored calibration runs",
		GroupID: gCalibration,
	}

	var (
		deviceID string
		limit    int
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the current profile of every device, or the run history of one device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			runs, err := apiClient.ListCalibrations(deviceID, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				cmd.Println("No calibration runs.")
				return nil
			}
			for _, r := range runs {
				partial := ""
				if r.Partial {
					partial = " (partial)"
				}
				cmd.Printf("%s  %s  %s  %d readings  %s%s\n",
					r.ID, bold("%s", r.DeviceID), bold("%.1f dBm", r.ReferenceRSSI),
					r.SampleCount, r.ComputedAt.Local().Format(time.DateTime), partial)
			}
			return nil
		},
	}
	listCmd.Flags().StringVarP(&deviceID, "device", "d", "", "show the run history of this device")
	listCmd.Flags().IntVar(&limit, "limit", 0, "maximum number of runs to show with --device")

	showCmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a calibration run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := apiClient.GetCalibration(args[0])
			if err != nil {
				return err
			}
			printCalibration(cmd, *r)
			return nil
		},
	}

	profileCmd := &cobra.Command{
		Use:   "profile <device>",
		Short: "Show the calibration profile in use for a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := apiClient.GetDeviceCalibration(args[0])
			if err != nil {
				if errors.Is(err, client.ErrNotFound) {
					return fmt.Errorf("%s has never been calibrated", args[0])
				}
				return err
			}
			printCalibration(cmd, *r)
			return nil
		},
	}

	cmd.AddCommand(listCmd, showCmd, profileCmd)
	return cmd
}
