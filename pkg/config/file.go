package config

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/beacon/pkg/utils/ptr"
)

var (
	defaultFileConfig = &RawFileConfig{
		Alpha:                ptr.To(0.2),
		Margin:               ptr.To(5.0),
		DebounceCount:        ptr.To(2),
		StaleTimeoutSeconds:  ptr.To(30),
		SweepIntervalSeconds: ptr.To(5),
		// A day of silence is long enough to forget a device. Its
		// calibration profile is kept.
		EvictAfterSeconds:         ptr.To(24 * 60 * 60),
		MaintenanceCron:           ptr.To("@every 1h"),
		LogRetentionDays:          ptr.To(7),
		RecordSamples:             ptr.To(true),
		PathLossExponent:          ptr.To(2.0),
		DefaultCalibrationSeconds: ptr.To(10),
		AllowNonRootAccess:        ptr.To(false),
	}
)

var _ Config = &File{}

type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}

	f := &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}

	return f
}

type RawFileConfig struct {
	Alpha                     *float64 `json:"alpha,omitempty"`
	Margin                    *float64 `json:"margin,omitempty"`
	DebounceCount             *int     `json:"debounceCount,omitempty"`
	StaleTimeoutSeconds       *int     `json:"staleTimeoutSeconds,omitempty"`
	SweepIntervalSeconds      *int     `json:"sweepIntervalSeconds,omitempty"`
	EvictAfterSeconds         *int     `json:"evictAfterSeconds,omitempty"`
	MaintenanceCron           *string  `json:"maintenanceCron,omitempty"`
	LogRetentionDays          *int     `json:"logRetentionDays,omitempty"`
	RecordSamples             *bool    `json:"recordSamples,omitempty"`
	PathLossExponent          *float64 `json:"pathLossExponent,omitempty"`
	DefaultCalibrationSeconds *int     `json:"defaultCalibrationSeconds,omitempty"`
	AllowNonRootAccess        *bool    `json:"allowNonRootAccess,omitempty"`
}

// NewRawFileConfigFromConfig materializes every effective value of c.
func NewRawFileConfigFromConfig(c Config) (*RawFileConfig, error) {
	if c == nil {
		return nil, pkgerrors.New("config is nil")
	}

	rawConfig := &RawFileConfig{
		Alpha:                     ptr.To(c.Alpha()),
		Margin:                    ptr.To(c.Margin()),
		DebounceCount:             ptr.To(c.DebounceCount()),
		StaleTimeoutSeconds:       ptr.To(int(c.StaleTimeout() / time.Second)),
		SweepIntervalSeconds:      ptr.To(int(c.SweepInterval() / time.Second)),
		EvictAfterSeconds:         ptr.To(int(c.EvictAfter() / time.Second)),
		MaintenanceCron:           ptr.To(c.MaintenanceCron()),
		LogRetentionDays:          ptr.To(c.LogRetentionDays()),
		RecordSamples:             ptr.To(c.RecordSamples()),
		PathLossExponent:          ptr.To(c.PathLossExponent()),
		DefaultCalibrationSeconds: ptr.To(int(c.DefaultCalibrationDuration() / time.Second)),
		AllowNonRootAccess:        ptr.To(c.AllowNonRootAccess()),
	}

	return rawConfig, nil
}

// value returns *v, or *def if v is unset. The caller holds f.mu.
func value[T any](v, def *T) T {
	if v != nil {
		return *v
	}
	return *def
}

func (f *File) raw() *RawFileConfig {
	if f.c == nil {
		panic("config is nil")
	}
	return f.c
}

func (f *File) Alpha() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return value(f.raw().Alpha, defaultFileConfig.Alpha)
}

func (f *File) Margin() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return value(f.raw().Margin, defaultFileConfig.Margin)
}

func (f *File) DebounceCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return value(f.raw().DebounceCount, defaultFileConfig.DebounceCount)
}

func (f *File) StaleTimeout() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return time.Duration(value(f.raw().StaleTimeoutSeconds, defaultFileConfig.StaleTimeoutSeconds)) * time.Second
}

func (f *File) SweepInterval() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()

	seconds := value(f.raw().SweepIntervalSeconds, defaultFileConfig.SweepIntervalSeconds)
	if seconds <= 0 {
		seconds = *defaultFileConfig.SweepIntervalSeconds
	}
	return time.Duration(seconds) * time.Second
}

func (f *File) EvictAfter() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()

	seconds := value(f.raw().EvictAfterSeconds, defaultFileConfig.EvictAfterSeconds)
	if seconds < 0 {
		seconds = 0
	}
	return time.Duration(seconds) * time.Second
}

func (f *File) MaintenanceCron() string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	spec := value(f.raw().MaintenanceCron, defaultFileConfig.MaintenanceCron)
	if strings.TrimSpace(spec) == "" {
		return *defaultFileConfig.MaintenanceCron
	}
	return spec
}

func (f *File) LogRetentionDays() int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	days := value(f.raw().LogRetentionDays, defaultFileConfig.LogRetentionDays)
	if days < 0 {
		days = 0
	}
	return days
}

func (f *File) RecordSamples() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return value(f.raw().RecordSamples, defaultFileConfig.RecordSamples)
}

func (f *File) PathLossExponent() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return value(f.raw().PathLossExponent, defaultFileConfig.PathLossExponent)
}

func (f *File) DefaultCalibrationDuration() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()

	seconds := value(f.raw().DefaultCalibrationSeconds, defaultFileConfig.DefaultCalibrationSeconds)
	if seconds <= 0 {
		seconds = *defaultFileConfig.DefaultCalibrationSeconds
	}
	return time.Duration(seconds) * time.Second
}

func (f *File) AllowNonRootAccess() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return value(f.raw().AllowNonRootAccess, defaultFileConfig.AllowNonRootAccess)
}

func (f *File) SetAlpha(v float64) {
	if err := ValidateAlpha(v); err != nil {
		panic(err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw().Alpha = &v
}

func (f *File) SetMargin(v float64) {
	if err := ValidateMargin(v); err != nil {
		panic(err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw().Margin = &v
}

func (f *File) SetDebounceCount(v int) {
	if err := ValidateDebounceCount(v); err != nil {
		panic(err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw().DebounceCount = &v
}

func (f *File) SetStaleTimeout(d time.Duration) {
	if err := ValidateStaleTimeout(d); err != nil {
		panic(err)
	}

	seconds := int(d / time.Second)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw().StaleTimeoutSeconds = &seconds
}

func (f *File) SetAllowNonRootAccess(b bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.raw().AllowNonRootAccess = &b
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// If the file does not exist, return the empty config.
			// Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	// An empty file is a valid, empty config, which json.Decoder would
	// reject.
	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	err = json.Unmarshal(b, &conf)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	if err := conf.validate(); err != nil {
		return pkgerrors.Wrapf(err, "invalid config in file %s", f.filepath)
	}
	f.c = &conf

	return nil
}

// validate rejects explicit values that the setters would refuse.
func (c *RawFileConfig) validate() error {
	if c.Alpha != nil {
		if err := ValidateAlpha(*c.Alpha); err != nil {
			return err
		}
	}
	if c.Margin != nil {
		if err := ValidateMargin(*c.Margin); err != nil {
			return err
		}
	}
	if c.DebounceCount != nil {
		if err := ValidateDebounceCount(*c.DebounceCount); err != nil {
			return err
		}
	}
	if c.StaleTimeoutSeconds != nil {
		if err := ValidateStaleTimeout(time.Duration(*c.StaleTimeoutSeconds) * time.Second); err != nil {
			return err
		}
	}
	if c.MaintenanceCron != nil && strings.TrimSpace(*c.MaintenanceCron) != "" {
		if err := ValidateCron(*c.MaintenanceCron); err != nil {
			return err
		}
	}
	if c.PathLossExponent != nil && *c.PathLossExponent <= 0 {
		return pkgerrors.Errorf("path loss exponent must be positive, got %v", *c.PathLossExponent)
	}
	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	err = enc.Encode(f.c)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}

func (f *File) LogrusFields() logrus.Fields {
	return logrus.Fields{
		"alpha":                      f.Alpha(),
		"margin":                     f.Margin(),
		"debounceCount":              f.DebounceCount(),
		"staleTimeout":               f.StaleTimeout(),
		"sweepInterval":              f.SweepInterval(),
		"evictAfter":                 f.EvictAfter(),
		"maintenanceCron":            f.MaintenanceCron(),
		"logRetentionDays":           f.LogRetentionDays(),
		"recordSamples":              f.RecordSamples(),
		"pathLossExponent":           f.PathLossExponent(),
		"defaultCalibrationDuration": f.DefaultCalibrationDuration(),
		"allowNonRootAccess":         f.AllowNonRootAccess(),
	}
}
