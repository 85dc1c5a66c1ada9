package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/charlie0129/beacon/pkg/client"
	"github.com/charlie0129/beacon/pkg/config"
)

var (
	logLevel       = config.DefaultLogLevel
	unixSocketPath = config.DefaultUnixSocketPath
	configPath     = config.DefaultConfigPath
	databasePath   = config.DefaultDatabasePath
	sourceSpec     = config.DefaultSource
)

var apiClient *client.Client

var (
	gBasic        = "Basic:"
	gCalibration  = "Calibration:"
	gAdvanced     = "Advanced:"
	commandGroups = []string{
		gBasic,
		gCalibration,
		gAdvanced,
	}
)

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.Kitchen,
		})
	}

	return nil
}

func handleCmdError(err error) {
	switch {
	case errors.Is(err, client.ErrDaemonNotRunning):
		fmt.Fprintln(os.Stderr, "\nError: beacon daemon is not running")
		fmt.Fprintln(os.Stderr, "Is the daemon running? Check --daemon-socket or BEACON_SOCKET.")
	case errors.Is(err, client.ErrPermissionDenied):
		fmt.Fprintln(os.Stderr, "\nError: Permission Denied")
		fmt.Fprintln(os.Stderr, "  - Try running the command again with 'sudo'")
		fmt.Fprintln(os.Stderr, "  - Or start the daemon with '--always-allow-non-root-access' to grant permissions to your user")
	}
}

func main() {
	// The daemon is mostly idle between samples.
	if os.Getenv("GOMAXPROCS") == "" {
		runtime.GOMAXPROCS(2)
	}

	// Environment variables only change flag defaults, so a bad value is
	// not fatal.
	e, err := config.ParseEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v, using defaults\n", err)
	}
	logLevel = e.LogLevel
	unixSocketPath = e.UnixSocketPath
	configPath = e.ConfigPath
	databasePath = e.DatabasePath
	sourceSpec = e.Source

	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		handleCmdError(err)
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "beacon",
		Short: "beacon tracks whether radio devices are near, from their signal strength",
		Long: `beacon tracks whether radio devices are near, from their signal strength.

A daemon smooths the RSSI readings of each device, compares them to a
per-device calibrated reference and reports Present or Absent once the
decision has been stable for a few readings.

Website: https://github.com/charlie0129/beacon
Report issues: https://github.com/charlie0129/beacon/issues`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			err := setupLogger()
			if err != nil {
				return err
			}

			apiClient = client.NewClient(unixSocketPath)

			// These commands do not talk to a running daemon.
			switch cmd.Name() {
			case "daemon", "version", "install", "uninstall":
				return nil
			}

			if clientVersion, daemonVersion, err := getVersion(); err == nil {
				if daemonVersion != clientVersion {
					logrus.WithFields(logrus.Fields{
						"clientVersion": clientVersion,
						"daemonVersion": daemonVersion,
					}).Warn("Version mismatch between client and daemon. beacon may not work as expected.")
				}
			} else if errors.Is(err, client.ErrNotFound) {
				logrus.Error("beacon daemon is too old to report its version.")
			}

			return nil
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", logLevel, "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVar(&configPath, "config", configPath, "config file path")
	globalFlags.StringVar(&unixSocketPath, "daemon-socket", unixSocketPath, "beacon daemon unix socket path")

	for _, i := range commandGroups {
		cmd.AddGroup(&cobra.Group{
			ID:    i,
			Title: i,
		})
	}

	cmd.AddCommand(
		NewDaemonCommand(),
		NewVersionCommand(),
		NewStatusCommand(),
		NewDevicesCommand(),
		NewEvictCommand(),
		NewLastSeenCommand(),
		NewPushCommand(),
		NewWatchCommand(),
		NewCalibrateCommand(),
		NewCalibrationCommand(),
		NewAlphaCommand(),
		NewMarginCommand(),
		NewDebounceCommand(),
		NewStaleTimeoutCommand(),
		NewConfigCommand(),
		NewMaintenanceCommand(),
		NewInstallCommand(),
		NewUninstallCommand(),
	)

	return cmd
}
