package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/beacon/pkg/calibration"
	"github.com/charlie0129/beacon/pkg/config"
	"github.com/charlie0129/beacon/pkg/events"
	"github.com/charlie0129/beacon/pkg/presence"
	"github.com/charlie0129/beacon/pkg/scan"
	"github.com/charlie0129/beacon/pkg/storage/sqlite"
)

const shutdownTimeout = 5 * time.Second

// Store is the persistence the daemon needs.
type Store interface {
	SaveCalibration(ctx context.Context, res calibration.Result) error
	LatestCalibrations(ctx context.Context) ([]calibration.Result, error)
	LatestCalibration(ctx context.Context, deviceID string) (calibration.Result, error)
	Calibration(ctx context.Context, runID string) (calibration.Result, error)
	CalibrationHistory(ctx context.Context, deviceID string, limit int) ([]calibration.Result, error)
	RecordSamples(ctx context.Context, samples ...scan.Sample) error
	LastSeen(ctx context.Context) ([]sqlite.LastSeen, error)
	PruneLog(ctx context.Context, before time.Time) (int64, error)
}

// Options are the process-level settings of Run.
type Options struct {
	ConfigPath     string
	UnixSocketPath string
	DatabasePath   string
	// Source is a sample source spec, see scan.ParseSourceSpec.
	Source       string
	AllowNonRoot bool
	// Seed inserts the seed row into an empty device log.
	Seed bool
}

type Daemon struct {
	conf  config.Config
	store Store

	source     scan.Source
	sourceName string
	push       *scan.PushSource
	dispatcher *scan.Dispatcher
	tracker    *presence.Tracker
	calibrator *calibration.Calibrator
	hub        *events.EventHub
	scheduler  *Scheduler

	samples   *TimeSeriesRecorder
	sourceUp  atomic.Bool
	startedAt time.Time

	// done is closed when the daemon starts shutting down. Streaming
	// handlers watch it so they do not hold up the http server.
	done     chan struct{}
	doneOnce sync.Once
}

// New wires the components of a daemon together. Nothing is started.
func New(conf config.Config, store Store, source scan.Source) *Daemon {
	d := &Daemon{
		conf:      conf,
		store:     store,
		source:    source,
		hub:       events.NewEventHub(),
		samples:   NewTimeSeriesRecorder(sampleRecordCount),
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	if push, ok := source.(*scan.PushSource); ok {
		d.push = push
	}

	d.tracker = presence.NewTracker(presence.NewStore(), paramsFromConfig(conf),
		presence.WithTransitionHook(d.publishTransition))
	d.dispatcher = scan.NewDispatcher(func(s scan.Sample) { d.tracker.Observe(s) })
	d.calibrator = calibration.NewCalibrator(d.dispatcher)
	d.calibrator.OnSample = d.publishCalibrationSample
	d.scheduler = NewScheduler(d.maintain, d.onMaintenanceError)

	return d
}

func paramsFromConfig(conf config.Config) presence.Params {
	return presence.Params{
		Alpha:            conf.Alpha(),
		Margin:           conf.Margin(),
		DebounceCount:    conf.DebounceCount(),
		StaleTimeout:     conf.StaleTimeout(),
		PathLossExponent: conf.PathLossExponent(),
	}
}

// reload re-reads the config file and applies what can change at runtime.
func (d *Daemon) reload() error {
	if err := d.conf.Load(); err != nil {
		return err
	}
	d.tracker.SetParams(paramsFromConfig(d.conf))
	if err := d.scheduler.Schedule(d.conf.MaintenanceCron()); err != nil {
		return err
	}
	logrus.WithFields(d.conf.LogrusFields()).Info("config reloaded")
	return nil
}

// start launches the background loops. They stop when ctx is done.
func (d *Daemon) start(ctx context.Context, wg *sync.WaitGroup) error {
	if err := d.scheduler.Schedule(d.conf.MaintenanceCron()); err != nil {
		return err
	}
	d.scheduler.Start()

	wg.Add(2)
	go func() {
		defer wg.Done()
		logrus.Debug("drain loop starts")
		d.drainLoop(ctx)
		logrus.Debug("drain loop stopped")
	}()
	go func() {
		defer wg.Done()
		d.sweepLoop(ctx)
	}()
	return nil
}

func (d *Daemon) shutdown() {
	d.doneOnce.Do(func() { close(d.done) })
	d.scheduler.Stop()
}

func Run(opts Options) error {
	conf, err := config.NewFile(opts.ConfigPath)
	if err != nil {
		logrus.Fatalf("failed to parse config during startup: %v", err)
	}
	logrus.WithFields(conf.LogrusFields()).Infof("config loaded")

	if err := os.MkdirAll(filepath.Dir(opts.DatabasePath), 0755); err != nil {
		logrus.Fatalf("failed to create database directory: %v", err)
	}
	store, err := sqlite.Open(opts.DatabasePath)
	if err != nil {
		logrus.Fatalf("failed to open database %s: %v", opts.DatabasePath, err)
	}

	source, err := scan.ParseSourceSpec(opts.Source)
	if err != nil {
		logrus.Fatal(err)
	}
	logrus.WithField("source", opts.Source).Info("sample source configured")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if opts.Seed {
		seeded, err := store.SeedIfEmpty(ctx)
		if err != nil {
			logrus.Errorf("failed to seed device log: %v", err)
		} else if seeded {
			logrus.Info("seeded empty device log")
		}
	}

	d := New(conf, store, source)
	d.sourceName = opts.Source
	if err := d.loadProfiles(ctx); err != nil {
		logrus.Errorf("failed to load calibration profiles: %v", err)
	}

	// Receive SIGHUP to reload config
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for range sigc {
			if err := d.reload(); err != nil {
				logrus.Errorf("failed to reload config: %v", err)
			}
		}
	}()

	srv := &http.Server{
		Handler: d.setupRoutes(),
		// Requests, calibration windows in particular, are cancelled on
		// shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	// A socket left behind by a crashed daemon would make Listen fail.
	if err := os.Remove(opts.UnixSocketPath); err != nil && !os.IsNotExist(err) {
		logrus.Fatal(err)
	}
	l, err := net.Listen("unix", opts.UnixSocketPath)
	if err != nil {
		logrus.Fatal(err)
	}

	if conf.AllowNonRootAccess() || opts.AllowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", opts.UnixSocketPath)
		err = os.Chmod(opts.UnixSocketPath, 0777)
		if err != nil {
			logrus.Fatal(err)
		}
	}

	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal(err)
		}
	}()

	wg := &sync.WaitGroup{}
	if err := d.start(ctx, wg); err != nil {
		logrus.Fatalf("failed to start daemon: %v", err)
	}

	<-ctx.Done()
	logrus.Info("caught termination signal: shutting down.")
	d.shutdown()

	logrus.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	cancel()

	wg.Wait()
	if closer, ok := source.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logrus.Errorf("failed to close sample source: %v", err)
		}
	}

	logrus.Info("closing database")
	if err := store.Close(); err != nil {
		logrus.Errorf("failed to close database: %v", err)
	}

	logrus.Info("exiting")
	return nil
}
