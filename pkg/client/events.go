package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/beacon/pkg/events"
)

// WatchEvents streams daemon events to fn until ctx is done, the daemon
// closes the stream, or fn returns false.
func (c *Client) WatchEvents(ctx context.Context, fn func(events.Event) bool) error {
	resp, err := c.do(ctx, http.MethodGet, "/events", "")
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logrus.Debugf("failed to close event stream: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return newStatusError(resp.StatusCode, string(b))
	}

	err = readEvents(resp.Body, fn)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// readEvents parses a text/event-stream body. Only the event and data
// fields are used.
func readEvents(r io.Reader, fn func(events.Event) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		name string
		data strings.Builder
	)
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if name == "" && data.Len() == 0 {
				continue
			}
			ev := events.Event{Name: name, Data: json.RawMessage(data.String())}
			name = ""
			data.Reset()
			if !fn(ev) {
				return nil
			}
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "data":
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(value)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read event stream: %w", err)
	}
	return nil
}
