package scan

import (
	"fmt"
	"strings"
)

// ParseSourceSpec builds a Source from its textual form:
//
//	push              samples arrive through PushSource (the ingest API)
//	stdin             newline-delimited samples on standard input
//	file:<path>       newline-delimited samples from a file or FIFO
//	exec:<cmd> <args> newline-delimited samples from a scanner's stdout
func ParseSourceSpec(spec string) (Source, error) {
	spec = strings.TrimSpace(spec)
	switch {
	case spec == "" || spec == "push":
		return NewPushSource(DefaultPushBuffer), nil
	case spec == "stdin":
		return NewStdinSource(), nil
	case strings.HasPrefix(spec, "file:"):
		path := strings.TrimSpace(strings.TrimPrefix(spec, "file:"))
		if path == "" {
			return nil, fmt.Errorf("file source requires a path")
		}
		return NewFileSource(path), nil
	case strings.HasPrefix(spec, "exec:"):
		fields := strings.Fields(strings.TrimPrefix(spec, "exec:"))
		if len(fields) == 0 {
			return nil, fmt.Errorf("exec source requires a command")
		}
		return NewCommandSource(fields[0], fields[1:]...), nil
	}
	return nil, fmt.Errorf("unknown sample source %q", spec)
}
