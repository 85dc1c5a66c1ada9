package daemon

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

const maintenanceTimeout = time.Minute

// maintain forgets long-absent devices and prunes the device log. It is run
// by the scheduler.
func (d *Daemon) maintain() error {
	now := time.Now()
	entry := logrus.WithField("task", "maintenance")

	evicted := d.tracker.EvictIdle(now, d.conf.EvictAfter())
	if len(evicted) > 0 {
		entry.WithField("devices", evicted).Info("evicted idle devices")
	}

	days := d.conf.LogRetentionDays()
	if days <= 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
	defer cancel()

	pruned, err := d.store.PruneLog(ctx, now.AddDate(0, 0, -days))
	if err != nil {
		return err
	}
	if pruned > 0 {
		entry.WithField("rows", pruned).Info("pruned device log")
	}
	return nil
}

func (d *Daemon) onMaintenanceError(data any) {
	logrus.WithField("task", "maintenance").Errorf("%v", data)
}
