package main

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/beacon/pkg/presence"
	"github.com/charlie0129/beacon/pkg/version"
)

func getVersion() (clientVersion string, daemonVersion string, err error) {
	daemonVersion, err = apiClient.GetVersion()
	return version.Version, daemonVersion, err
}

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version.Version, version.GitCommit)
		},
	}
}

func statusText(st presence.Status) string {
	switch st {
	case presence.StatusPresent:
		return color.New(color.Bold, color.FgGreen).Sprint(st)
	case presence.StatusAbsent:
		return color.New(color.Bold, color.FgRed).Sprint(st)
	default:
		return color.New(color.Bold, color.FgYellow).Sprint(st)
	}
}

func printDevice(cmd *cobra.Command, st presence.State) {
	cmd.Printf("%s  %s\n", bold("%s", st.DeviceID), statusText(st.Status))
	cmd.Printf("  Smoothed RSSI: %s (last %d dBm, %d samples)\n", bold("%.1f dBm", st.SmoothedRSSI), st.LastRSSI, st.SampleCount)
	if st.Calibrated {
		cmd.Printf("  Reference RSSI: %s\n", bold("%.1f dBm", st.ReferenceRSSI))
		cmd.Printf("  Estimated distance: %s\n", bold("~%.1f m", st.EstimatedDistance))
	} else {
		cmd.Printf("  Calibrated: %s\n", bool2Text(false))
	}
	cmd.Printf("  Last sample: %s\n", ago(st.LastSampleAt))
	if !st.LastTransitionAt.IsZero() {
		cmd.Printf("  Last transition: %s\n", ago(st.LastTransitionAt))
	}
	if st.Stale {
		cmd.Printf("  %s\n", color.YellowString("No recent samples"))
	}
}

func NewDevicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "devices [device]",
		Aliases: []string{"device", "query"},
		Short:   "Show presence of tracked devices",
		GroupID: gBasic,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				st, err := apiClient.GetDevice(args[0])
				if err != nil {
					return fmt.Errorf("failed to get device: %w", err)
				}
				printDevice(cmd, *st)
				return nil
			}

			devices, err := apiClient.GetDevices()
			if err != nil {
				return fmt.Errorf("failed to get devices: %w", err)
			}
			if len(devices) == 0 {
				cmd.Println("No devices tracked yet.")
				return nil
			}
			for i, st := range devices {
				if i > 0 {
					cmd.Println()
				}
				printDevice(cmd, st)
			}
			return nil
		},
	}
}

func NewEvictCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "evict <device>",
		Short:   "Forget the presence state of a device",
		Long:    "Forget the presence state of a device. Its calibration profile is kept and the device is tracked again on its next sample.",
		GroupID: gBasic,
		Args:    cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ret, err := apiClient.EvictDevice(args[0])
			if err != nil {
				return fmt.Errorf("failed to evict device: %w", err)
			}
			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}
			logrus.Infof("successfully evicted %s", args[0])
			return nil
		},
	}
}

func NewLastSeenCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "last-seen",
		Short:   "Show when each device was last seen, from the device log",
		GroupID: gBasic,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			seen, err := apiClient.GetLastSeen()
			if err != nil {
				return fmt.Errorf("failed to get last seen devices: %w", err)
			}
			sort.Slice(seen, func(i, j int) bool { return seen[i].LastSeen > seen[j].LastSeen })
			for _, s := range seen {
				cmd.Printf("%s  %s\n", bold("%s", s.MAC), ago(unixTime(s.LastSeen)))
			}
			return nil
		},
	}
}
