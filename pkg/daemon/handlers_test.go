package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charlie0129/beacon/pkg/calibration"
	"github.com/charlie0129/beacon/pkg/config"
	"github.com/charlie0129/beacon/pkg/events"
	"github.com/charlie0129/beacon/pkg/presence"
	"github.com/charlie0129/beacon/pkg/scan"
	"github.com/charlie0129/beacon/pkg/storage/sqlite"
	"github.com/charlie0129/beacon/pkg/types"
)

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestGetUnknownDevice(t *testing.T) {
	d, _ := newTestDaemon(t, nil, nil)
	router := d.setupRoutes()

	w := doRequest(t, router, http.MethodGet, "/devices/aa:bb", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), presence.ErrUnknownDevice.Error()) {
		t.Fatalf("unexpected body %s", w.Body.String())
	}

	w = doRequest(t, router, http.MethodDelete, "/devices/aa:bb", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on evict, got %d", w.Code)
	}

	w = doRequest(t, router, http.MethodGet, "/devices", "")
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Fatalf("expected empty list, got %d: %s", w.Code, w.Body.String())
	}
}

func TestIngestAndQuery(t *testing.T) {
	d, _ := newTestDaemon(t, nil, nil)
	startTestDaemon(t, d)
	router := d.setupRoutes()

	w := doRequest(t, router, http.MethodPost, "/samples",
		`[{"mac":"AA:BB:CC:DD:EE:FF","rssi":-45,"timestamp":1716400000},{"deviceId":"aa:bb:cc:dd:ee:ff","rssi":-47}]`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if resp := decode[types.IngestResponse](t, w); resp.Accepted != 2 {
		t.Fatalf("unexpected ingest response %+v", resp)
	}

	waitFor(t, "samples to be tracked", func() bool {
		st, err := d.tracker.Query("aa:bb:cc:dd:ee:ff")
		return err == nil && st.SampleCount == 2
	})

	w = doRequest(t, router, http.MethodGet, "/devices/AA:BB:CC:DD:EE:FF", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	st := decode[presence.State](t, w)
	if st.Status != presence.StatusUnknown || st.LastRSSI != -47 {
		t.Fatalf("unexpected state %+v", st)
	}

	w = doRequest(t, router, http.MethodGet, "/last-seen", "")
	seen := decode[[]sqlite.LastSeen](t, w)
	if len(seen) != 1 || seen[0].MAC != "aa:bb:cc:dd:ee:ff" {
		t.Fatalf("unexpected last seen %+v", seen)
	}

	w = doRequest(t, router, http.MethodDelete, "/devices/aa:bb:cc:dd:ee:ff", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 on evict, got %d", w.Code)
	}
	if _, err := d.tracker.Query("aa:bb:cc:dd:ee:ff"); err == nil {
		t.Fatalf("device still tracked after eviction")
	}
}

func TestIngestRejectsBadSamples(t *testing.T) {
	d, _ := newTestDaemon(t, nil, nil)
	router := d.setupRoutes()

	for _, body := range []string{
		`{"mac":"aa","rssi":5000}`,
		`{"rssi":-40}`,
		`{"mac":"aa"}`,
		`not json`,
	} {
		w := doRequest(t, router, http.MethodPost, "/samples", body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, w.Code)
		}
	}
}

func TestIngestBackpressure(t *testing.T) {
	d, _ := newTestDaemon(t, nil, scan.NewPushSource(1))
	router := d.setupRoutes()

	w := doRequest(t, router, http.MethodPost, "/samples", `[{"mac":"aa","rssi":-40},{"mac":"aa","rssi":-41}]`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	resp := decode[types.IngestResponse](t, w)
	if resp.Accepted != 1 || resp.Rejected != 1 {
		t.Fatalf("unexpected ingest response %+v", resp)
	}
}

func TestIngestRequiresPushSource(t *testing.T) {
	d, _ := newTestDaemon(t, nil, &flakySource{})
	w := doRequest(t, d.setupRoutes(), http.MethodPost, "/samples", `{"mac":"aa","rssi":-40}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestCalibrationFlow(t *testing.T) {
	d, _ := newTestDaemon(t, nil, nil)
	startTestDaemon(t, d)
	router := d.setupRoutes()

	type response struct {
		code int
		body string
	}
	respCh := make(chan response, 1)
	go func() {
		w := doRequest(t, router, http.MethodPost, "/calibrations", `{"deviceId":"AA:BB:CC:00:00:01","durationSeconds":1}`)
		respCh <- response{w.Code, w.Body.String()}
	}()

	waitFor(t, "calibration tap", func() bool { return d.dispatcher.Tapped("aa:bb:cc:00:00:01") })

	// A concurrent window on the same device is refused.
	w := doRequest(t, router, http.MethodPost, "/calibrations", `{"deviceId":"aa:bb:cc:00:00:01","durationSeconds":1}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for concurrent calibration, got %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(t, router, http.MethodPost, "/samples", `[
		{"mac":"aa:bb:cc:00:00:01","rssi":-40},
		{"mac":"aa:bb:cc:00:00:01","rssi":-42},
		{"mac":"aa:bb:cc:00:00:02","rssi":-80},
		{"mac":"aa:bb:cc:00:00:01","rssi":-41},
		{"mac":"aa:bb:cc:00:00:01","rssi":-43},
		{"mac":"aa:bb:cc:00:00:01","rssi":-40}
	]`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("ingest failed: %d %s", w.Code, w.Body.String())
	}

	resp := <-respCh
	if resp.code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.code, resp.body)
	}
	var res calibration.Result
	if err := json.Unmarshal([]byte(resp.body), &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.SampleCount != 5 || math.Abs(res.ReferenceRSSI-(-41.2)) > 1e-9 || math.Abs(res.Variance-1.7) > 1e-9 {
		t.Fatalf("unexpected result %+v", res)
	}

	// Samples of other devices kept flowing to the tracker.
	if _, err := d.tracker.Query("aa:bb:cc:00:00:02"); err != nil {
		t.Fatalf("other device not tracked during calibration: %v", err)
	}
	// The calibrated device's samples were consumed by the window only.
	if _, err := d.tracker.Query("aa:bb:cc:00:00:01"); err == nil {
		t.Fatalf("calibration samples leaked to the tracker")
	}

	w = doRequest(t, router, http.MethodGet, "/calibrations", "")
	profiles := decode[[]calibration.Result](t, w)
	if len(profiles) != 1 || profiles[0].ID != res.ID {
		t.Fatalf("unexpected profiles %+v", profiles)
	}

	w = doRequest(t, router, http.MethodGet, "/calibrations/"+res.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for stored run, got %d", w.Code)
	}
	w = doRequest(t, router, http.MethodGet, "/calibrations/nope", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown run, got %d", w.Code)
	}

	// The profile in use is also reachable per device, in any case.
	w = doRequest(t, router, http.MethodGet, "/devices/AA:BB:CC:00:00:01/calibration", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for device profile, got %d", w.Code)
	}
	if profile := decode[calibration.Result](t, w); profile.ID != res.ID {
		t.Fatalf("device profile = %+v, want run %s", profile, res.ID)
	}
	w = doRequest(t, router, http.MethodGet, "/devices/aa:bb:cc:00:00:02/calibration", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for uncalibrated device, got %d", w.Code)
	}

	// The device is now tracked against its new reference.
	doRequest(t, router, http.MethodPost, "/samples", `[{"mac":"aa:bb:cc:00:00:01","rssi":-41},{"mac":"aa:bb:cc:00:00:01","rssi":-41}]`)
	waitFor(t, "device to become present", func() bool {
		st, err := d.tracker.Query("aa:bb:cc:00:00:01")
		return err == nil && st.Status == presence.StatusPresent
	})
}

func TestCalibrationErrors(t *testing.T) {
	d, _ := newTestDaemon(t, nil, nil)
	router := d.setupRoutes()

	tests := []struct {
		body string
		code int
	}{
		{`{"deviceId":"aa","durationSeconds":0.05}`, http.StatusUnprocessableEntity},
		{`{"deviceId":"aa","durationSeconds":-1}`, http.StatusBadRequest},
		{`{"deviceId":"aa","durationSeconds":3600}`, http.StatusBadRequest},
		{`{"durationSeconds":1}`, http.StatusBadRequest},
		{`{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		w := doRequest(t, router, http.MethodPost, "/calibrations", tt.body)
		if w.Code != tt.code {
			t.Fatalf("%s: expected %d, got %d: %s", tt.body, tt.code, w.Code, w.Body.String())
		}
	}
}

func TestSetTunables(t *testing.T) {
	d, _ := newTestDaemon(t, nil, nil)
	router := d.setupRoutes()

	tests := []struct {
		path string
		body string
		code int
	}{
		{"/alpha", "0.5", http.StatusCreated},
		{"/alpha", "0", http.StatusBadRequest},
		{"/alpha", "1.5", http.StatusBadRequest},
		{"/margin", "8", http.StatusCreated},
		{"/margin", "-1", http.StatusBadRequest},
		{"/debounce", "3", http.StatusCreated},
		{"/debounce", "1", http.StatusBadRequest},
		{"/stale-timeout", "60", http.StatusCreated},
		{"/stale-timeout", "0", http.StatusBadRequest},
		{"/alpha", `"fast"`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		w := doRequest(t, router, http.MethodPut, tt.path, tt.body)
		if w.Code != tt.code {
			t.Fatalf("PUT %s %s: expected %d, got %d: %s", tt.path, tt.body, tt.code, w.Code, w.Body.String())
		}
	}

	p := d.tracker.Params()
	if p.Alpha != 0.5 || p.Margin != 8 || p.DebounceCount != 3 || p.StaleTimeout != time.Minute {
		t.Fatalf("params not applied: %+v", p)
	}

	w := doRequest(t, router, http.MethodGet, "/config", "")
	raw := decode[config.RawFileConfig](t, w)
	if *raw.Alpha != 0.5 || *raw.StaleTimeoutSeconds != 60 {
		t.Fatalf("unexpected config %+v", raw)
	}

	// The values survive a reload from disk.
	if err := d.reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if d.conf.Margin() != 8 {
		t.Fatalf("margin not persisted")
	}
}

func TestStatusAndMaintenance(t *testing.T) {
	d, _ := newTestDaemon(t, nil, nil)
	router := d.setupRoutes()

	w := doRequest(t, router, http.MethodPost, "/maintenance", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before start, got %d", w.Code)
	}

	startTestDaemon(t, d)
	d.handleSample(context.Background(), scan.Sample{DeviceID: "d1", RSSI: -50, Timestamp: time.Now()})

	w = doRequest(t, router, http.MethodGet, "/status", "")
	st := decode[types.DaemonStatus](t, w)
	if st.TrackedDevices != 1 || st.SamplesLastMinute != 1 || st.NextMaintenance.IsZero() {
		t.Fatalf("unexpected status %+v", st)
	}

	w = doRequest(t, router, http.MethodPost, "/maintenance", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	waitFor(t, "maintenance run", func() bool { return !d.scheduler.LastRun().IsZero() })
}

func TestEventStream(t *testing.T) {
	d, _ := newTestDaemon(t, nil, nil)
	srv := httptest.NewServer(d.setupRoutes())
	defer srv.Close()
	defer d.shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /events: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("unexpected content type %q", ct)
	}

	waitFor(t, "event subscription", func() bool { return d.hub.Subscribers() == 1 })
	d.publishTransition(presence.Transition{
		DeviceID: "d1",
		From:     presence.StatusUnknown,
		To:       presence.StatusPresent,
		At:       time.Unix(1716400000, 0),
		Reason:   presence.ReasonDebounce,
	})

	var name, data string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" && name != "" {
			break
		}
		if v, ok := strings.CutPrefix(line, "event:"); ok {
			name = v
		}
		if v, ok := strings.CutPrefix(line, "data:"); ok {
			data = v
		}
	}

	if name != events.PresenceTransition {
		t.Fatalf("unexpected event name %q", name)
	}
	payload, err := events.DecodeAs[events.PresenceTransitionEvent](events.Event{Name: name, Data: json.RawMessage(data)})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.DeviceID != "d1" || payload.To != "Present" || payload.Ts != 1716400000 {
		t.Fatalf("unexpected payload %+v", payload)
	}
}
