package daemon

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

var unitTemplate = template.Must(template.New("unit").Parse(`[Unit]
Description=beacon presence daemon
Documentation=https://github.com/charlie0129/beacon
After=network.target bluetooth.target

[Service]
Type=simple
ExecStart={{ .ExecStart }}
Restart=on-failure
RestartSec=5
KillSignal=SIGTERM
TimeoutStopSec=15

[Install]
WantedBy=multi-user.target
`))

// UnitOptions are the daemon flags baked into the service unit.
type UnitOptions struct {
	ExecPath       string
	UnixSocketPath string
	ConfigPath     string
	DatabasePath   string
	Source         string
	AllowNonRoot   bool
}

func (o UnitOptions) args() []string {
	args := []string{o.ExecPath, "daemon"}
	if o.UnixSocketPath != "" {
		args = append(args, "--daemon-socket", o.UnixSocketPath)
	}
	if o.ConfigPath != "" {
		args = append(args, "--config", o.ConfigPath)
	}
	if o.DatabasePath != "" {
		args = append(args, "--db", o.DatabasePath)
	}
	if o.Source != "" {
		args = append(args, "--source", o.Source)
	}
	if o.AllowNonRoot {
		args = append(args, "--always-allow-non-root-access")
	}
	return args
}

// RenderUnit renders a systemd service unit running the daemon.
func RenderUnit(o UnitOptions) (string, error) {
	if o.ExecPath == "" {
		return "", fmt.Errorf("executable path is required")
	}

	quoted := make([]string, 0, 8)
	for _, a := range o.args() {
		quoted = append(quoted, systemdQuote(a))
	}

	var buf bytes.Buffer
	err := unitTemplate.Execute(&buf, struct{ ExecStart string }{strings.Join(quoted, " ")})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// systemdQuote escapes s for an ExecStart= line. systemd expands % and $
// itself, so both are doubled.
func systemdQuote(s string) string {
	s = strings.ReplaceAll(s, "%", "%%")
	s = strings.ReplaceAll(s, "$", "$$")
	if s != "" && !strings.ContainsAny(s, " \t\"'\\") {
		return s
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}
