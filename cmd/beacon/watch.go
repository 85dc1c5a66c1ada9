package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/beacon/pkg/events"
	"github.com/charlie0129/beacon/pkg/presence"
)

func formatEvent(e events.Event) string {
	switch e.Name {
	case events.PresenceTransition:
		p, err := events.DecodeAs[events.PresenceTransitionEvent](e)
		if err != nil {
			break
		}
		return fmt.Sprintf("%s  %s -> %s (%s, %.1f dBm)", bold("%s", p.DeviceID),
			p.From, statusText(presence.Status(p.To)), p.Reason, p.SmoothedRSSI)
	case events.CalibrationStarted:
		p, err := events.DecodeAs[events.CalibrationStartedEvent](e)
		if err != nil {
			break
		}
		return fmt.Sprintf("%s  calibration started (%ds)", bold("%s", p.DeviceID), p.DurationSeconds)
	case events.CalibrationSample:
		p, err := events.DecodeAs[events.CalibrationSampleEvent](e)
		if err != nil {
			break
		}
		return fmt.Sprintf("%s  calibration reading %d dBm", bold("%s", p.DeviceID), p.RSSI)
	case events.CalibrationResult:
		p, err := events.DecodeAs[events.CalibrationResultEvent](e)
		if err != nil {
			break
		}
		if p.Error != "" {
			return fmt.Sprintf("%s  calibration failed: %s", bold("%s", p.DeviceID), p.Error)
		}
		return fmt.Sprintf("%s  calibrated at %.1f dBm from %d readings", bold("%s", p.DeviceID), p.ReferenceRSSI, p.SampleCount)
	}
	return fmt.Sprintf("%s %s", e.Name, string(e.Data))
}

func NewWatchCommand() *cobra.Command {
	var deviceFilter string

	cmd := &cobra.Command{
		Use:     "watch",
		Short:   "Stream presence transitions and calibration progress",
		GroupID: gBasic,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logrus.Debug("watching daemon events")
			return apiClient.WatchEvents(ctx, func(e events.Event) bool {
				if deviceFilter != "" && !eventForDevice(e, deviceFilter) {
					return true
				}
				cmd.Printf("%s  %s\n", time.Now().Format(time.TimeOnly), formatEvent(e))
				return true
			})
		},
	}

	cmd.Flags().StringVarP(&deviceFilter, "device", "d", "", "only show events of this device")

	return cmd
}

func eventForDevice(e events.Event, deviceID string) bool {
	p, err := events.DecodeAs[struct {
		DeviceID string `json:"deviceId"`
	}](e)
	return err == nil && sameDevice(p.DeviceID, deviceID)
}
