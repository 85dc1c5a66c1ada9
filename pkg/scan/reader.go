package scan

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// OpenFunc opens the underlying stream of a ReaderSource.
type OpenFunc func(ctx context.Context) (io.ReadCloser, error)

// ReaderSource reads newline-delimited samples (see ParseLine) from a stream
// that is reopened whenever it fails or ends. Malformed lines are skipped.
type ReaderSource struct {
	name string
	open OpenFunc
	now  func() time.Time

	mu  sync.Mutex
	cur *stream
}

type stream struct {
	rc    io.ReadCloser
	lines chan string
	done  chan struct{}
	// err is written before lines is closed.
	err error
}

// NewReaderSource returns a source that reads lines from whatever open
// returns. name is used in logs and errors.
func NewReaderSource(name string, open OpenFunc) *ReaderSource {
	return &ReaderSource{
		name: name,
		open: open,
		now:  time.Now,
	}
}

// filePollInterval is how often a tailed file is checked for new lines.
var filePollInterval = 250 * time.Millisecond

// NewFileSource reads samples from a regular file or a named pipe. A regular
// file is read once and then followed like tail -f, so every line is
// delivered exactly once. A pipe is reopened when its writer goes away.
func NewFileSource(path string) *ReaderSource {
	return NewReaderSource(path, func(_ context.Context) (io.ReadCloser, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		fi, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		if !fi.Mode().IsRegular() {
			return f, nil
		}
		return newTailFile(f, filePollInterval), nil
	})
}

// tailFile turns EOF on a regular file into a wait for more data. A file
// that shrinks below the read offset was truncated and is read again from
// the start.
type tailFile struct {
	f      *os.File
	poll   time.Duration
	closed chan struct{}
	once   sync.Once
}

func newTailFile(f *os.File, poll time.Duration) *tailFile {
	return &tailFile{f: f, poll: poll, closed: make(chan struct{})}
}

func (t *tailFile) Read(p []byte) (int, error) {
	for {
		n, err := t.f.Read(p)
		if n > 0 {
			return n, nil
		}
		if !errors.Is(err, io.EOF) {
			return 0, err
		}

		if truncated, err := t.truncated(); err != nil {
			return 0, err
		} else if truncated {
			if _, err := t.f.Seek(0, io.SeekStart); err != nil {
				return 0, err
			}
			continue
		}

		select {
		case <-t.closed:
			return 0, io.EOF
		case <-time.After(t.poll):
		}
	}
}

func (t *tailFile) truncated() (bool, error) {
	fi, err := t.f.Stat()
	if err != nil {
		return false, err
	}
	pos, err := t.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return false, err
	}
	return fi.Size() < pos, nil
}

func (t *tailFile) Close() error {
	t.once.Do(func() { close(t.closed) })
	return t.f.Close()
}

// NewStdinSource reads samples from standard input.
func NewStdinSource() *ReaderSource {
	return NewReaderSource("stdin", func(_ context.Context) (io.ReadCloser, error) {
		return io.NopCloser(os.Stdin), nil
	})
}

// NewCommandSource runs an external scanner and reads samples from its
// stdout. The process is restarted when it exits. Its stderr goes to the
// debug log.
func NewCommandSource(name string, args ...string) *ReaderSource {
	return NewReaderSource(name, func(ctx context.Context) (io.ReadCloser, error) {
		cmd := exec.CommandContext(ctx, name, args...)
		stderr := logrus.WithField("scanner", name).WriterLevel(logrus.DebugLevel)
		cmd.Stderr = stderr

		stdout, err := cmd.StdoutPipe()
		if err != nil {
			_ = stderr.Close()
			return nil, err
		}
		if err := cmd.Start(); err != nil {
			_ = stderr.Close()
			return nil, err
		}
		logrus.WithFields(logrus.Fields{
			"scanner": name,
			"pid":     cmd.Process.Pid,
		}).Info("scanner process started")

		return &commandStream{ReadCloser: stdout, cmd: cmd, stderr: stderr}, nil
	})
}

type commandStream struct {
	io.ReadCloser
	cmd    *exec.Cmd
	stderr io.Closer
}

func (c *commandStream) Close() error {
	_ = c.cmd.Process.Kill()
	err := c.cmd.Wait()
	_ = c.stderr.Close()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// Killed or exited on its own; either way the stream is over.
		return nil
	}
	return err
}

// Next returns the next well-formed sample. When the stream cannot be opened
// or has ended, it returns an error wrapping ErrSourceUnavailable and the
// following call reopens the stream.
func (s *ReaderSource) Next(ctx context.Context) (Sample, error) {
	for {
		cur, err := s.ensureOpen(ctx)
		if err != nil {
			return Sample{}, fmt.Errorf("%w: open %s: %w", ErrSourceUnavailable, s.name, err)
		}

		select {
		case <-ctx.Done():
			return Sample{}, ctx.Err()
		case line, ok := <-cur.lines:
			if !ok {
				cause := cur.err
				if cause == nil {
					cause = io.EOF
				}
				s.reset()
				return Sample{}, fmt.Errorf("%w: %s: %w", ErrSourceUnavailable, s.name, cause)
			}

			sample, err := ParseLine(line, s.now())
			if err != nil {
				if !errors.Is(err, ErrEmptyLine) {
					logrus.WithFields(logrus.Fields{
						"source": s.name,
						"line":   line,
					}).WithError(err).Warn("skipping malformed sample")
				}
				continue
			}
			return sample, nil
		}
	}
}

// Close closes the current stream, if any.
func (s *ReaderSource) Close() error {
	s.reset()
	return nil
}

func (s *ReaderSource) ensureOpen(ctx context.Context) (*stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur != nil {
		return s.cur, nil
	}

	rc, err := s.open(ctx)
	if err != nil {
		return nil, err
	}

	cur := &stream{
		rc:    rc,
		lines: make(chan string, 64),
		done:  make(chan struct{}),
	}
	go func() {
		defer close(cur.lines)
		sc := bufio.NewScanner(rc)
		for sc.Scan() {
			select {
			case cur.lines <- sc.Text():
			case <-cur.done:
				return
			}
		}
		cur.err = sc.Err()
	}()

	s.cur = cur
	return cur, nil
}

func (s *ReaderSource) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur == nil {
		return
	}
	close(s.cur.done)
	if err := s.cur.rc.Close(); err != nil {
		logrus.WithField("source", s.name).WithError(err).Debug("failed to close sample stream")
	}
	s.cur = nil
}
