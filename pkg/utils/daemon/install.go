package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

const DefaultUnitPath = "/etc/systemd/system/beacon.service"

// Installer registers the daemon with systemd.
type Installer struct {
	UnitPath string
	// Run executes a service manager command.
	Run func(name string, args ...string) error
}

func NewInstaller() *Installer {
	return &Installer{
		UnitPath: DefaultUnitPath,
		Run: func(name string, args ...string) error {
			out, err := exec.Command(name, args...).CombinedOutput()
			if err != nil && len(out) > 0 {
				return fmt.Errorf("%w: %s", err, out)
			}
			return err
		},
	}
}

func (i *Installer) unitName() string {
	return filepath.Base(i.UnitPath)
}

// Install writes the service unit for o and starts it. An empty
// o.ExecPath means the current executable.
func (i *Installer) Install(o UnitOptions) error {
	if o.ExecPath == "" {
		exePath, err := os.Executable()
		if err != nil {
			return fmt.Errorf("failed to get the path to the current executable: %w", err)
		}
		exePath, err = filepath.Abs(exePath)
		if err != nil {
			return fmt.Errorf("failed to get the absolute path to the current executable: %w", err)
		}

		err = os.Chmod(exePath, 0755)
		if err != nil {
			return fmt.Errorf("failed to chmod the current executable to 0755: %w", err)
		}
		o.ExecPath = exePath
	}

	logrus.Infof("current executable path: %s", o.ExecPath)

	unit, err := RenderUnit(o)
	if err != nil {
		return err
	}

	logrus.Infof("writing service unit to %s", i.UnitPath)

	err = os.MkdirAll(filepath.Dir(i.UnitPath), 0755)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(i.UnitPath), err)
	}

	// warn if the file already exists
	_, err = os.Stat(i.UnitPath)
	if err == nil {
		logrus.Warnf("%s already exists, overwriting", i.UnitPath)
	}

	err = os.WriteFile(i.UnitPath, []byte(unit), 0644)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", i.UnitPath, err)
	}

	logrus.Infof("starting beacon")

	if err := i.Run("systemctl", "daemon-reload"); err != nil {
		return fmt.Errorf("failed to reload systemd: %w", err)
	}
	if err := i.Run("systemctl", "enable", "--now", i.unitName()); err != nil {
		return fmt.Errorf("failed to enable %s: %w", i.unitName(), err)
	}

	return nil
}

// Uninstall stops the service and removes its unit. A missing unit is not
// an error.
func (i *Installer) Uninstall() error {
	// if the file doesn't exist, we don't need to remove it
	_, err := os.Stat(i.UnitPath)
	if err != nil {
		if os.IsNotExist(err) {
			logrus.Infof("%s does not exist, nothing to uninstall", i.UnitPath)
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", i.UnitPath, err)
	}

	logrus.Infof("stopping beacon")

	err = i.Run("systemctl", "disable", "--now", i.unitName())
	if err != nil {
		return fmt.Errorf("failed to disable %s: %w. Are you root?", i.unitName(), err)
	}

	logrus.Infof("removing service unit")

	err = os.Remove(i.UnitPath)
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w. Are you root?", i.UnitPath, err)
	}

	return i.Run("systemctl", "daemon-reload")
}
