package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/beacon/pkg/scan"
	"github.com/charlie0129/beacon/pkg/utils/ptr"
)

const pushBatchSize = 256

func toWire(s scan.Sample) scan.WireSample {
	ts := float64(s.Timestamp.Unix()) + float64(s.Timestamp.Nanosecond())/1e9
	return scan.WireSample{
		DeviceID:  s.DeviceID,
		RSSI:      ptr.To(s.RSSI),
		Timestamp: ptr.To(ts),
	}
}

// readSamples parses sample lines from r, skipping blank and comment lines.
func readSamples(r io.Reader, now func() time.Time) ([]scan.WireSample, error) {
	var out []scan.WireSample
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		s, err := scan.ParseLine(sc.Text(), now())
		if errors.Is(err, scan.ErrEmptyLine) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, toWire(s))
	}
	return out, sc.Err()
}

func NewPushCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "push [sample...]",
		Short: "Send samples to the daemon",
		Long: `Send samples to a daemon running with the push source.

Samples are given as arguments or, without arguments, read line by line from
standard input. Each sample is either JSON ({"mac": "AA:BB:CC:DD:EE:FF", "rssi": -45})
or CSV (AA:BB:CC:DD:EE:FF,-45[,unix-timestamp]).`,
		Example: `  beacon push AA:BB:CC:DD:EE:FF,-45
  my-scanner | beacon push`,
		GroupID: gBasic,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				samples []scan.WireSample
				err     error
			)
			if len(args) > 0 {
				samples, err = readSamples(strings.NewReader(strings.Join(args, "\n")), time.Now)
			} else {
				samples, err = readSamples(os.Stdin, time.Now)
			}
			if err != nil {
				return fmt.Errorf("failed to parse samples: %w", err)
			}
			if len(samples) == 0 {
				return fmt.Errorf("no samples given")
			}

			accepted, rejected := 0, 0
			for len(samples) > 0 {
				n := min(pushBatchSize, len(samples))
				resp, err := apiClient.PushSamples(samples[:n]...)
				if err != nil {
					return err
				}
				accepted += resp.Accepted
				rejected += resp.Rejected
				if resp.Error != "" {
					logrus.Warnf("daemon responded: %s", resp.Error)
				}
				samples = samples[n:]
			}

			logrus.WithFields(logrus.Fields{
				"accepted": accepted,
				"rejected": rejected,
			}).Info("samples pushed")
			return nil
		},
	}
}
