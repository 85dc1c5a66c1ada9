package daemon

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/beacon/pkg/calibration"
	"github.com/charlie0129/beacon/pkg/config"
	"github.com/charlie0129/beacon/pkg/presence"
	"github.com/charlie0129/beacon/pkg/scan"
	"github.com/charlie0129/beacon/pkg/storage/sqlite"
	"github.com/charlie0129/beacon/pkg/types"
	"github.com/charlie0129/beacon/pkg/version"
)

func (d *Daemon) setupRoutes() *gin.Engine {
	router := newEngine()

	router.GET("/devices", d.getDevices)
	router.GET("/devices/:id", d.getDevice)
	router.DELETE("/devices/:id", d.deleteDevice)
	router.GET("/devices/:id/calibration", d.getDeviceCalibration)
	router.GET("/last-seen", d.getLastSeen)
	router.POST("/samples", d.postSamples)
	router.POST("/calibrations", d.postCalibration)
	router.GET("/calibrations", d.getCalibrations)
	router.GET("/calibrations/:id", d.getCalibration)
	router.GET("/config", d.getConfig)
	router.PUT("/alpha", d.setAlpha)
	router.PUT("/margin", d.setMargin)
	router.PUT("/debounce", d.setDebounce)
	router.PUT("/stale-timeout", d.setStaleTimeout)
	router.POST("/maintenance", d.postMaintenance)
	router.GET("/status", d.getStatus)
	router.GET("/events", d.getEvents)
	router.GET("/version", getVersion)

	return router
}

func abortWithError(c *gin.Context, code int, err error) {
	c.IndentedJSON(code, err.Error())
	_ = c.AbortWithError(code, err)
}

func (d *Daemon) getDevices(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, d.tracker.QueryAll())
}

func (d *Daemon) getDevice(c *gin.Context) {
	st, err := d.tracker.Query(c.Param("id"))
	if err != nil {
		if errors.Is(err, presence.ErrUnknownDevice) {
			abortWithError(c, http.StatusNotFound, err)
			return
		}
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, st)
}

func (d *Daemon) deleteDevice(c *gin.Context) {
	if err := d.tracker.Evict(c.Param("id")); err != nil {
		if errors.Is(err, presence.ErrUnknownDevice) {
			abortWithError(c, http.StatusNotFound, err)
			return
		}
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, "ok")
}

func (d *Daemon) getLastSeen(c *gin.Context) {
	seen, err := d.store.LastSeen(c.Request.Context())
	if err != nil {
		logrus.Errorf("failed to query last seen: %v", err)
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, seen)
}

// postSamples accepts one sample object or an array of them.
func (d *Daemon) postSamples(c *gin.Context) {
	if d.push == nil {
		abortWithError(c, http.StatusConflict, fmt.Errorf("daemon is not reading from the push source"))
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	var wire []scan.WireSample
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &wire)
	} else {
		var one scan.WireSample
		err = json.Unmarshal(trimmed, &one)
		wire = []scan.WireSample{one}
	}
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	now := time.Now()
	samples := make([]scan.Sample, 0, len(wire))
	for _, w := range wire {
		s, err := w.ToSample(now)
		if err != nil {
			abortWithError(c, http.StatusBadRequest, err)
			return
		}
		samples = append(samples, s)
	}

	resp := types.IngestResponse{}
	for i, s := range samples {
		if err := d.push.Push(s); err != nil {
			resp.Rejected = len(samples) - i
			resp.Error = err.Error()
			logrus.WithField("rejected", resp.Rejected).Warn("push source is full, rejecting samples")
			c.IndentedJSON(http.StatusServiceUnavailable, resp)
			return
		}
		resp.Accepted++
	}
	c.IndentedJSON(http.StatusAccepted, resp)
}

func (d *Daemon) postCalibration(c *gin.Context) {
	var req types.CalibrateRequest
	if err := c.BindJSON(&req); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		return
	}
	if scan.NormalizeDeviceID(req.DeviceID) == "" {
		abortWithError(c, http.StatusBadRequest, fmt.Errorf("deviceId is required"))
		return
	}

	duration := d.conf.DefaultCalibrationDuration()
	if req.DurationSeconds != 0 {
		if req.DurationSeconds < 0 || math.IsNaN(req.DurationSeconds) {
			abortWithError(c, http.StatusBadRequest, fmt.Errorf("%w: got %v seconds", calibration.ErrInvalidDuration, req.DurationSeconds))
			return
		}
		duration = time.Duration(req.DurationSeconds * float64(time.Second))
	}
	if duration > maxCalibrationDuration {
		abortWithError(c, http.StatusBadRequest, fmt.Errorf("calibration duration must not exceed %s", maxCalibrationDuration))
		return
	}

	res, err := d.calibrate(c.Request.Context(), req.DeviceID, duration)
	if err != nil {
		switch {
		case errors.Is(err, calibration.ErrNoReadings):
			abortWithError(c, http.StatusUnprocessableEntity, err)
		case errors.Is(err, scan.ErrTapInUse):
			abortWithError(c, http.StatusConflict, err)
		case errors.Is(err, calibration.ErrInvalidDuration):
			abortWithError(c, http.StatusBadRequest, err)
		default:
			logrus.Errorf("calibration failed: %v", err)
			abortWithError(c, http.StatusInternalServerError, err)
		}
		return
	}
	c.IndentedJSON(http.StatusCreated, res)
}

// getCalibrations lists the current profile of every device, or the run
// history of one device with ?device=<id>.
func (d *Daemon) getCalibrations(c *gin.Context) {
	ctx := c.Request.Context()

	var (
		results []calibration.Result
		err     error
	)
	if device := c.Query("device"); device != "" {
		limit := 0
		if l := c.Query("limit"); l != "" {
			limit, err = strconv.Atoi(l)
			if err != nil {
				abortWithError(c, http.StatusBadRequest, fmt.Errorf("invalid limit %q", l))
				return
			}
		}
		results, err = d.store.CalibrationHistory(ctx, device, limit)
	} else {
		results, err = d.store.LatestCalibrations(ctx)
	}
	if err != nil {
		logrus.Errorf("failed to list calibrations: %v", err)
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, results)
}

func (d *Daemon) getCalibration(c *gin.Context) {
	res, err := d.store.Calibration(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			abortWithError(c, http.StatusNotFound, err)
			return
		}
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, res)
}

// getDeviceCalibration returns the stored profile of one device. It works
// for devices the tracker has not seen since the daemon started.
func (d *Daemon) getDeviceCalibration(c *gin.Context) {
	res, err := d.store.LatestCalibration(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			abortWithError(c, http.StatusNotFound, err)
			return
		}
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, res)
}

func (d *Daemon) getConfig(c *gin.Context) {
	fc, err := config.NewRawFileConfigFromConfig(d.conf)
	if err != nil {
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, fc)
}

// saveAndApply persists the config and hands the new parameters to the
// tracker.
func (d *Daemon) saveAndApply(c *gin.Context, msg string) {
	if err := d.conf.Save(); err != nil {
		logrus.Errorf("saveConfig failed: %v", err)
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	d.tracker.SetParams(paramsFromConfig(d.conf))

	logrus.Info(msg)
	c.IndentedJSON(http.StatusCreated, msg)
}

func (d *Daemon) setAlpha(c *gin.Context) {
	var v float64
	if err := c.BindJSON(&v); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		return
	}
	if err := config.ValidateAlpha(v); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	d.conf.SetAlpha(v)
	d.saveAndApply(c, fmt.Sprintf("set smoothing factor to %v", v))
}

func (d *Daemon) setMargin(c *gin.Context) {
	var v float64
	if err := c.BindJSON(&v); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		return
	}
	if err := config.ValidateMargin(v); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	d.conf.SetMargin(v)
	d.saveAndApply(c, fmt.Sprintf("set presence margin to %v dB", v))
}

func (d *Daemon) setDebounce(c *gin.Context) {
	var v int
	if err := c.BindJSON(&v); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		return
	}
	if err := config.ValidateDebounceCount(v); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	d.conf.SetDebounceCount(v)
	d.saveAndApply(c, fmt.Sprintf("set debounce count to %d", v))
}

// setStaleTimeout takes whole seconds.
func (d *Daemon) setStaleTimeout(c *gin.Context) {
	var seconds int
	if err := c.BindJSON(&seconds); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		return
	}
	timeout := time.Duration(seconds) * time.Second
	if err := config.ValidateStaleTimeout(timeout); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	d.conf.SetStaleTimeout(timeout)
	d.saveAndApply(c, fmt.Sprintf("set stale timeout to %s", timeout))
}

func (d *Daemon) postMaintenance(c *gin.Context) {
	if err := d.scheduler.RunNow(); err != nil {
		abortWithError(c, http.StatusServiceUnavailable, err)
		return
	}
	c.IndentedJSON(http.StatusAccepted, "maintenance triggered")
}

func (d *Daemon) getStatus(c *gin.Context) {
	now := time.Now()
	nextRun, _ := d.scheduler.Status()

	c.IndentedJSON(http.StatusOK, types.DaemonStatus{
		Version:           version.Version,
		StartedAt:         d.startedAt,
		Source:            d.sourceName,
		SourceUp:          d.sourceUp.Load(),
		SamplesLastMinute: d.samples.CountIn(now, time.Minute),
		LastSampleAt:      d.samples.GetLastRecord(),
		TrackedDevices:    d.tracker.Len(),
		CalibratedDevices: len(d.tracker.References()),
		NextMaintenance:   nextRun,
		LastMaintenance:   d.scheduler.LastRun(),
	})
}

// getEvents streams hub events as Server-Sent Events until the client goes
// away or the daemon shuts down.
func (d *Daemon) getEvents(c *gin.Context) {
	ch := d.hub.Subscribe()
	defer d.hub.Unsubscribe(ch)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-d.done:
			return false
		case <-c.Request.Context().Done():
			return false
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, ev.Data)
			return true
		}
	})
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}
