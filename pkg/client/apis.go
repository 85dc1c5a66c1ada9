package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/charlie0129/beacon/pkg/calibration"
	"github.com/charlie0129/beacon/pkg/config"
	"github.com/charlie0129/beacon/pkg/presence"
	"github.com/charlie0129/beacon/pkg/scan"
	"github.com/charlie0129/beacon/pkg/storage/sqlite"
	"github.com/charlie0129/beacon/pkg/types"
)

func getJSON[T any](c *Client, path string, what string) (T, error) {
	var v T
	ret, err := c.Get(path)
	if err != nil {
		return v, pkgerrors.Wrapf(err, "failed to get %s", what)
	}
	if err := json.Unmarshal([]byte(ret), &v); err != nil {
		return v, pkgerrors.Wrapf(err, "failed to unmarshal %s", what)
	}
	return v, nil
}

func (c *Client) GetDevices() ([]presence.State, error) {
	return getJSON[[]presence.State](c, "/devices", "devices")
}

func (c *Client) GetDevice(id string) (*presence.State, error) {
	st, err := getJSON[presence.State](c, "/devices/"+url.PathEscape(id), "device "+id)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) EvictDevice(id string) (string, error) {
	return c.Delete("/devices/" + url.PathEscape(id))
}

func (c *Client) GetLastSeen() ([]sqlite.LastSeen, error) {
	return getJSON[[]sqlite.LastSeen](c, "/last-seen", "last seen devices")
}

// PushSamples sends samples to the daemon's push source.
func (c *Client) PushSamples(samples ...scan.WireSample) (*types.IngestResponse, error) {
	payload, err := json.Marshal(samples)
	if err != nil {
		return nil, err
	}
	ret, err := c.Post("/samples", string(payload))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to push samples")
	}

	var resp types.IngestResponse
	if err := json.Unmarshal([]byte(ret), &resp); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal ingest response")
	}
	return &resp, nil
}

// Calibrate runs a calibration window on the daemon and blocks until it
// ends. A zero duration uses the daemon's default.
func (c *Client) Calibrate(ctx context.Context, deviceID string, duration time.Duration) (*calibration.Result, error) {
	payload, err := json.Marshal(types.CalibrateRequest{
		DeviceID:        deviceID,
		DurationSeconds: duration.Seconds(),
	})
	if err != nil {
		return nil, err
	}

	ret, err := c.SendContext(ctx, http.MethodPost, "/calibrations", string(payload))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to calibrate %s", deviceID)
	}

	var res calibration.Result
	if err := json.Unmarshal([]byte(ret), &res); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal calibration result")
	}
	return &res, nil
}

// ListCalibrations returns the profile of every device, or the run history
// of deviceID when it is set.
func (c *Client) ListCalibrations(deviceID string, limit int) ([]calibration.Result, error) {
	path := "/calibrations"
	if deviceID != "" {
		q := url.Values{}
		q.Set("device", deviceID)
		if limit > 0 {
			q.Set("limit", strconv.Itoa(limit))
		}
		path += "?" + q.Encode()
	}
	return getJSON[[]calibration.Result](c, path, "calibrations")
}

func (c *Client) GetCalibration(runID string) (*calibration.Result, error) {
	res, err := getJSON[calibration.Result](c, "/calibrations/"+url.PathEscape(runID), "calibration run "+runID)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// GetDeviceCalibration returns the stored calibration profile of deviceID.
func (c *Client) GetDeviceCalibration(deviceID string) (*calibration.Result, error) {
	res, err := getJSON[calibration.Result](c, "/devices/"+url.PathEscape(deviceID)+"/calibration", "calibration profile of "+deviceID)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) GetConfig() (*config.RawFileConfig, error) {
	conf, err := getJSON[config.RawFileConfig](c, "/config", "config")
	if err != nil {
		return nil, err
	}
	return &conf, nil
}

func (c *Client) SetAlpha(v float64) (string, error) {
	return c.Put("/alpha", strconv.FormatFloat(v, 'f', -1, 64))
}

func (c *Client) SetMargin(v float64) (string, error) {
	return c.Put("/margin", strconv.FormatFloat(v, 'f', -1, 64))
}

func (c *Client) SetDebounceCount(n int) (string, error) {
	return c.Put("/debounce", strconv.Itoa(n))
}

func (c *Client) SetStaleTimeout(d time.Duration) (string, error) {
	return c.Put("/stale-timeout", strconv.Itoa(int(d/time.Second)))
}

func (c *Client) TriggerMaintenance() (string, error) {
	return c.Post("/maintenance", "")
}

func (c *Client) GetStatus() (*types.DaemonStatus, error) {
	st, err := getJSON[types.DaemonStatus](c, "/status", "daemon status")
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) GetVersion() (string, error) {
	return getJSON[string](c, "/version", "version")
}
