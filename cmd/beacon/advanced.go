package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func reportSet(what string, ret string, value any) {
	if ret != "" {
		logrus.Infof("daemon responded: %s", ret)
	}
	logrus.Infof("successfully set %s to %v", what, value)
}

func NewAlphaCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "alpha <factor>",
		Short:   "Set the RSSI smoothing factor",
		GroupID: gAdvanced,
		Long: `Set the RSSI smoothing factor.

The factor is in (0, 1]. Higher values follow new readings faster, lower
values smooth out more noise. 1 disables smoothing.`,
		RunE: func(_ *cobra.Command, args []string) error {
			alpha, err := parseFloatArg(args, "smoothing factor")
			if err != nil {
				return err
			}
			if alpha <= 0 || alpha > 1 {
				return fmt.Errorf("smoothing factor must be in (0, 1], got %g", alpha)
			}

			ret, err := apiClient.SetAlpha(alpha)
			if err != nil {
				return fmt.Errorf("failed to set smoothing factor: %v", err)
			}
			reportSet("smoothing factor", ret, alpha)
			return nil
		},
	}
}

func NewMarginCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "margin <dB>",
		Short:   "Set how far below its reference a device may drop and still be present",
		GroupID: gAdvanced,
		RunE: func(_ *cobra.Command, args []string) error {
			margin, err := parseFloatArg(args, "margin")
			if err != nil {
				return err
			}
			if margin < 0 {
				return fmt.Errorf("margin must not be negative, got %g", margin)
			}

			ret, err := apiClient.SetMargin(margin)
			if err != nil {
				return fmt.Errorf("failed to set margin: %v", err)
			}
			reportSet("margin", ret, fmt.Sprintf("%g dB", margin))
			return nil
		},
	}
}

func NewDebounceCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "debounce <count>",
		Short:   "Set how many agreeing readings commit a status change",
		GroupID: gAdvanced,
		RunE: func(_ *cobra.Command, args []string) error {
			n, err := parseIntArg(args, "debounce count")
			if err != nil {
				return err
			}
			if n < 2 {
				return fmt.Errorf("debounce count must be at least 2, got %d", n)
			}

			ret, err := apiClient.SetDebounceCount(n)
			if err != nil {
				return fmt.Errorf("failed to set debounce count: %v", err)
			}
			reportSet("debounce count", ret, n)
			return nil
		},
	}
}

func NewStaleTimeoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "stale-timeout <duration>",
		Short:   "Set how long a calibrated device may stay silent before it is absent",
		GroupID: gAdvanced,
		Example: `  beacon stale-timeout 45s
  beacon stale-timeout 120`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			d, err := parseDurationArg(args[0])
			if err != nil {
				return fmt.Errorf("invalid stale timeout: %v", err)
			}
			if d < time.Second {
				return fmt.Errorf("stale timeout must be at least 1s, got %s", d)
			}

			ret, err := apiClient.SetStaleTimeout(d)
			if err != nil {
				return fmt.Errorf("failed to set stale timeout: %v", err)
			}
			reportSet("stale timeout", ret, d.Truncate(time.Second))
			return nil
		},
	}
}

func NewConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "config",
		Short:   "Print the effective daemon configuration as JSON",
		GroupID: gAdvanced,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := apiClient.GetConfig()
			if err != nil {
				return err
			}
			b, err := json.MarshalIndent(conf, "", "  ")
			if err != nil {
				return err
			}
			cmd.Println(string(b))
			return nil
		},
	}
}

func NewMaintenanceCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "maintenance",
		Short:   "Run idle eviction and device log pruning now",
		GroupID: gAdvanced,
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ret, err := apiClient.TriggerMaintenance()
			if err != nil {
				return fmt.Errorf("failed to trigger maintenance: %v", err)
			}
			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}
			return nil
		},
	}
}
