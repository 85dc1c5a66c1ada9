package daemon

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type recorder struct {
	calls []string
	err   error
}

func (r *recorder) run(name string, args ...string) error {
	r.calls = append(r.calls, name+" "+strings.Join(args, " "))
	return r.err
}

func TestRenderUnit(t *testing.T) {
	unit, err := RenderUnit(UnitOptions{
		ExecPath:       "/usr/local/bin/beacon",
		UnixSocketPath: "/run/beacon.sock",
		DatabasePath:   "/var/lib/beacon/beacon.db",
		Source:         "exec:btmon --json",
		AllowNonRoot:   true,
	})
	if err != nil {
		t.Fatalf("RenderUnit: %v", err)
	}

	want := `ExecStart=/usr/local/bin/beacon daemon --daemon-socket /run/beacon.sock --db /var/lib/beacon/beacon.db --source "exec:btmon --json" --always-allow-non-root-access`
	if !strings.Contains(unit, want+"\n") {
		t.Errorf("unit does not contain %q:\n%s", want, unit)
	}
	if strings.Contains(unit, "--config") {
		t.Errorf("empty config path should be omitted:\n%s", unit)
	}
}

func TestRenderUnitRequiresExecPath(t *testing.T) {
	if _, err := RenderUnit(UnitOptions{}); err == nil {
		t.Fatal("expected error without executable path")
	}
}

func TestSystemdQuote(t *testing.T) {
	cases := map[string]string{
		"push":          "push",
		"file:/tmp/a b": `"file:/tmp/a b"`,
		"100%":          "100%%",
		"$HOME":         "$$HOME",
		`say "hi"`:      `"say \"hi\""`,
		`C:\scan`:       `"C:\\scan"`,
		"":              `""`,
	}
	for in, want := range cases {
		if got := systemdQuote(in); got != want {
			t.Errorf("systemdQuote(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestInstallUninstall(t *testing.T) {
	rec := &recorder{}
	i := &Installer{
		UnitPath: filepath.Join(t.TempDir(), "system", "beacon.service"),
		Run:      rec.run,
	}

	err := i.Install(UnitOptions{ExecPath: "/usr/local/bin/beacon", Source: "push"})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	b, err := os.ReadFile(i.UnitPath)
	if err != nil {
		t.Fatalf("unit not written: %v", err)
	}
	if !strings.Contains(string(b), "ExecStart=/usr/local/bin/beacon daemon --source push\n") {
		t.Errorf("unexpected unit:\n%s", b)
	}

	if err := i.Uninstall(); err != nil {
		t.Fatalf("Uninstall: %v", err)
	}
	if _, err := os.Stat(i.UnitPath); !os.IsNotExist(err) {
		t.Errorf("unit still present: %v", err)
	}

	want := []string{
		"systemctl daemon-reload",
		"systemctl enable --now beacon.service",
		"systemctl disable --now beacon.service",
		"systemctl daemon-reload",
	}
	if strings.Join(rec.calls, "\n") != strings.Join(want, "\n") {
		t.Errorf("calls = %q, want %q", rec.calls, want)
	}
}

func TestUninstallMissingUnit(t *testing.T) {
	rec := &recorder{}
	i := &Installer{UnitPath: filepath.Join(t.TempDir(), "beacon.service"), Run: rec.run}
	if err := i.Uninstall(); err != nil {
		t.Fatalf("Uninstall: %v", err)
	}
	if len(rec.calls) != 0 {
		t.Errorf("unexpected calls %q", rec.calls)
	}
}

func TestInstallServiceManagerError(t *testing.T) {
	rec := &recorder{err: errors.New("exit status 1")}
	i := &Installer{UnitPath: filepath.Join(t.TempDir(), "beacon.service"), Run: rec.run}
	if err := i.Install(UnitOptions{ExecPath: "/bin/beacon"}); err == nil {
		t.Fatal("expected error")
	}
}
