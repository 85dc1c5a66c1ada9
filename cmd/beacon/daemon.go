package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/beacon/pkg/daemon"
	"github.com/charlie0129/beacon/pkg/version"
)

var (
	// alwaysAllowNonRootAccess indicates whether to always allow non-root users to access the beacon daemon.
	alwaysAllowNonRootAccess = false
	// seedDeviceLog inserts a placeholder row into an empty device log.
	seedDeviceLog = false
)

// NewDaemonCommand .
func NewDaemonCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run beacon daemon in the foreground",
		Long: `Run beacon daemon in the foreground.

The sample source is one of:
  push              samples are sent with 'beacon push' or POST /samples
  stdin             newline-delimited samples on standard input
  file:<path>       newline-delimited samples from a file or FIFO
  exec:<cmd> <args> newline-delimited samples from a scanner's stdout

A sample line is either JSON ({"mac": "AA:BB:CC:DD:EE:FF", "rssi": -45})
or CSV (AA:BB:CC:DD:EE:FF,-45[,unix-timestamp]).`,
		GroupID: gAdvanced,
		RunE: func(_ *cobra.Command, _ []string) error {
			logrus.WithFields(logrus.Fields{
				"version": version.Version,
				"commit":  version.GitCommit,
			}).Info("beacon daemon starting")
			return daemon.Run(daemon.Options{
				ConfigPath:     configPath,
				UnixSocketPath: unixSocketPath,
				DatabasePath:   databasePath,
				Source:         sourceSpec,
				AllowNonRoot:   alwaysAllowNonRootAccess,
				Seed:           seedDeviceLog,
			})
		},
	}

	f := cmd.Flags()

	f.BoolVar(&alwaysAllowNonRootAccess, "always-allow-non-root-access", false,
		"Always allow non-root users to access the daemon.")
	f.StringVar(&databasePath, "db", databasePath, "sqlite database path")
	f.StringVar(&sourceSpec, "source", sourceSpec, "sample source (push, stdin, file:<path>, exec:<command>)")
	f.BoolVar(&seedDeviceLog, "seed", false, "insert a placeholder row into an empty device log")

	return cmd
}
