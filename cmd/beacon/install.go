package main

import (
	"fmt"
	"os"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/beacon/pkg/config"
	daemonutils "github.com/charlie0129/beacon/pkg/utils/daemon"
)

var gInstallation = "Installation:"

func init() {
	commandGroups = append(commandGroups, gInstallation)
}

// NewInstallCommand .
func NewInstallCommand() *cobra.Command {
	var (
		allowNonRootAccess bool
		unitPath           string
	)

	cmd := &cobra.Command{
		Use:     "install",
		Short:   "Install beacon as a systemd service",
		GroupID: gInstallation,
		Long: `Install beacon daemon as a systemd service (system-wide).

This makes beacon run in the background and automatically start on boot. You must run this command as root.

The current --daemon-socket, --config, --db and --source values are written into the service unit.

By default, only root user is allowed to access the beacon daemon. If you want to allow non-root users to access the daemon, use the --allow-non-root-access flag, so you don't have to use sudo every time.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := config.NewFile(configPath)
			if err != nil {
				return err
			}

			conf.SetAllowNonRootAccess(allowNonRootAccess)
			if allowNonRootAccess {
				logrus.Info("non-root users are allowed to access the beacon daemon.")
			} else {
				logrus.Info("only root user is allowed to access the beacon daemon.")
			}

			installer := daemonutils.NewInstaller()
			installer.UnitPath = unitPath
			err = installer.Install(daemonutils.UnitOptions{
				UnixSocketPath: unixSocketPath,
				ConfigPath:     configPath,
				DatabasePath:   databasePath,
				Source:         sourceSpec,
			})
			if err != nil {
				// check if current user is root
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return fmt.Errorf("failed to install daemon: %v", err)
			}

			err = conf.Save()
			if err != nil {
				return pkgerrors.Wrapf(err, "failed to save config")
			}

			logrus.Infof("installation succeeded")

			exePath, _ := os.Executable()

			cmd.Printf("systemd will use the current binary (%s) at startup so please make sure you do not move this binary. Once this binary is moved or deleted, you will need to run `beacon install' again.\n", exePath)

			return nil
		},
	}

	f := cmd.Flags()
	f.BoolVar(&allowNonRootAccess, "allow-non-root-access", false, "Allow non-root users to access beacon daemon.")
	f.StringVar(&databasePath, "db", databasePath, "sqlite database path")
	f.StringVar(&sourceSpec, "source", sourceSpec, "sample source (push, stdin, file:<path>, exec:<command>)")
	f.StringVar(&unitPath, "unit-path", daemonutils.DefaultUnitPath, "systemd unit file path")

	return cmd
}

// NewUninstallCommand .
func NewUninstallCommand() *cobra.Command {
	var unitPath string

	cmd := &cobra.Command{
		Use:     "uninstall",
		Short:   "Uninstall the beacon systemd service",
		GroupID: gInstallation,
		Long: `Uninstall beacon daemon from systemd (system-wide).

This stops beacon and removes its service unit. You must run this command as root.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			installer := daemonutils.NewInstaller()
			installer.UnitPath = unitPath
			err := installer.Uninstall()
			if err != nil {
				// check if current user is root
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return fmt.Errorf("failed to uninstall daemon: %v", err)
			}

			cmd.Println("successfully uninstalled")

			cmd.Printf("Your config is kept in %s and your calibrations in %s, in case you want to use `beacon' again. If you want a complete uninstall, remove them and beacon itself manually.\n", configPath, databasePath)

			return nil
		},
	}

	cmd.Flags().StringVar(&unitPath, "unit-path", daemonutils.DefaultUnitPath, "systemd unit file path")

	return cmd
}
