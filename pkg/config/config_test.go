package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFileDefaults(t *testing.T) {
	f, err := NewFile(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("NewFile on missing file: %v", err)
	}

	if f.Alpha() != 0.2 || f.Margin() != 5 || f.DebounceCount() != 2 {
		t.Fatalf("unexpected presence defaults: %v", f.LogrusFields())
	}
	if f.StaleTimeout() != 30*time.Second || f.SweepInterval() != 5*time.Second {
		t.Fatalf("unexpected timing defaults: %v", f.LogrusFields())
	}
	if f.MaintenanceCron() != "@every 1h" || f.DefaultCalibrationDuration() != 10*time.Second {
		t.Fatalf("unexpected maintenance defaults: %v", f.LogrusFields())
	}
	if !f.RecordSamples() || f.AllowNonRootAccess() {
		t.Fatalf("unexpected flag defaults: %v", f.LogrusFields())
	}
}

func TestFileLoadEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "beacon.json")
	if err := os.WriteFile(path, []byte("  \n"), 0644); err != nil {
		t.Fatal(err)
	}

	f, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile on empty file: %v", err)
	}
	if f.Alpha() != 0.2 {
		t.Fatalf("expected default alpha, got %v", f.Alpha())
	}
}

func TestFileLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"malformed", `{"alpha": `},
		{"alpha out of range", `{"alpha": 1.5}`},
		{"negative margin", `{"margin": -1}`},
		{"debounce too small", `{"debounceCount": 1}`},
		{"stale timeout zero", `{"staleTimeoutSeconds": 0}`},
		{"bad cron", `{"maintenanceCron": "every now and then"}`},
		{"bad exponent", `{"pathLossExponent": 0}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "beacon.json")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := NewFile(path); err == nil {
				t.Fatalf("expected error for %s", tt.content)
			}
		})
	}
}

func TestFileLoadAcceptsSecondsField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "beacon.json")
	if err := os.WriteFile(path, []byte(`{"maintenanceCron": "30 0 3 * * *"}`), 0644); err != nil {
		t.Fatal(err)
	}
	f, err := NewFile(path)
	if err != nil {
		t.Fatalf("six-field schedule rejected: %v", err)
	}
	if f.MaintenanceCron() != "30 0 3 * * *" {
		t.Fatalf("MaintenanceCron = %q", f.MaintenanceCron())
	}
}

func TestFileSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "beacon.json")

	f := NewFileFromConfig(nil, path)
	f.SetAlpha(0.5)
	f.SetMargin(3)
	f.SetDebounceCount(4)
	f.SetStaleTimeout(45 * time.Second)
	f.SetAllowNonRootAccess(true)
	if err := f.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// Unset values are not written, so defaults can change under them.
	if strings.Contains(string(b), "sweepIntervalSeconds") {
		t.Fatalf("unset key written to file: %s", b)
	}

	g, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if g.Alpha() != 0.5 || g.Margin() != 3 || g.DebounceCount() != 4 ||
		g.StaleTimeout() != 45*time.Second || !g.AllowNonRootAccess() {
		t.Fatalf("reloaded config differs: %v", g.LogrusFields())
	}
}

func TestSettersPanicOnInvalidValues(t *testing.T) {
	f := NewFileFromConfig(nil, "")

	tests := []struct {
		name string
		set  func()
	}{
		{"alpha", func() { f.SetAlpha(0) }},
		{"margin", func() { f.SetMargin(-2) }},
		{"debounce", func() { f.SetDebounceCount(1) }},
		{"stale timeout", func() { f.SetStaleTimeout(time.Millisecond) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatalf("expected panic")
				}
			}()
			tt.set()
		})
	}
}

func TestNewRawFileConfigFromConfig(t *testing.T) {
	f := NewFileFromConfig(&RawFileConfig{}, "")
	f.SetMargin(7)

	raw, err := NewRawFileConfigFromConfig(f)
	if err != nil {
		t.Fatalf("NewRawFileConfigFromConfig: %v", err)
	}
	if *raw.Margin != 7 || *raw.StaleTimeoutSeconds != 30 || *raw.MaintenanceCron != "@every 1h" {
		t.Fatalf("unexpected raw config %+v", raw)
	}

	if _, err := NewRawFileConfigFromConfig(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestParseEnv(t *testing.T) {
	t.Setenv("BEACON_SOCKET", "/tmp/b.sock")
	t.Setenv("BEACON_SOURCE", "exec:btmon --json")

	e, err := ParseEnv()
	if err != nil {
		t.Fatalf("ParseEnv: %v", err)
	}
	want := DefaultEnvironment()
	want.UnixSocketPath = "/tmp/b.sock"
	want.Source = "exec:btmon --json"
	if e != want {
		t.Fatalf("got %+v, want %+v", e, want)
	}
}
