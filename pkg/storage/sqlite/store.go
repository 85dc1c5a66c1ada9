package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/charlie0129/beacon/pkg/calibration"
	"github.com/charlie0129/beacon/pkg/scan"
	"github.com/charlie0129/beacon/pkg/storage/sqlite/migrations"
)

// ErrNotFound is returned when a calibration run or profile does not exist.
var ErrNotFound = errors.New("record not found")

// Seed row inserted into an empty device log by SeedIfEmpty.
const (
	SeedMAC       = "AA:BB:CC:DD:EE:FF"
	SeedRSSI      = -45
	SeedTimestamp = 1716400000
)

// LastSeen is the most recent log entry of one MAC.
type LastSeen struct {
	MAC      string  `json:"mac"`
	LastSeen float64 `json:"last_seen"`
}

// Store provides SQLite-backed persistence for calibration runs and the
// device log.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func toUnixSeconds(value time.Time) float64 {
	return float64(value.Unix()) + float64(value.Nanosecond())/float64(time.Second)
}

// Open opens (and creates if needed) the database at path and applies
// pending migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// SaveCalibration appends a calibration run. It becomes the profile of its
// device.
func (s *Store) SaveCalibration(ctx context.Context, res calibration.Result) error {
	if strings.TrimSpace(res.ID) == "" {
		return fmt.Errorf("calibration run id is required")
	}
	if strings.TrimSpace(res.DeviceID) == "" {
		return fmt.Errorf("calibration device id is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO calibration_runs (run_id, device_id, reference_rssi, variance, sample_count, partial, computed_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		res.ID,
		scan.NormalizeDeviceID(res.DeviceID),
		res.ReferenceRSSI,
		res.Variance,
		res.SampleCount,
		res.Partial,
		toMillis(res.ComputedAt),
	)
	if err != nil {
		return fmt.Errorf("insert calibration run %s: %w", res.ID, err)
	}
	return nil
}

const calibrationColumns = `run_id, device_id, reference_rssi, variance, sample_count, partial, computed_at`

// LatestCalibrations returns the profile of every calibrated device, ordered
// by device id.
func (s *Store) LatestCalibrations(ctx context.Context) ([]calibration.Result, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+calibrationColumns+`
FROM calibration_runs
WHERE id IN (SELECT MAX(id) FROM calibration_runs GROUP BY device_id)
ORDER BY device_id`)
	if err != nil {
		return nil, fmt.Errorf("query latest calibrations: %w", err)
	}
	return scanCalibrations(rows)
}

// LatestCalibration returns the profile of deviceID.
func (s *Store) LatestCalibration(ctx context.Context, deviceID string) (calibration.Result, error) {
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+calibrationColumns+`
FROM calibration_runs
WHERE device_id = ?
ORDER BY id DESC
LIMIT 1`, scan.NormalizeDeviceID(deviceID))
	res, err := scanCalibration(row)
	if err != nil {
		return calibration.Result{}, fmt.Errorf("get calibration of %s: %w", deviceID, err)
	}
	return res, nil
}

// Calibration returns the run with the given run id.
func (s *Store) Calibration(ctx context.Context, runID string) (calibration.Result, error) {
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+calibrationColumns+`
FROM calibration_runs
WHERE run_id = ?`, runID)
	res, err := scanCalibration(row)
	if err != nil {
		return calibration.Result{}, fmt.Errorf("get calibration run %s: %w", runID, err)
	}
	return res, nil
}

// CalibrationHistory returns up to limit runs of deviceID, newest first.
// limit <= 0 returns all of them.
func (s *Store) CalibrationHistory(ctx context.Context, deviceID string, limit int) ([]calibration.Result, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+calibrationColumns+`
FROM calibration_runs
WHERE device_id = ?
ORDER BY id DESC
LIMIT ?`, scan.NormalizeDeviceID(deviceID), limit)
	if err != nil {
		return nil, fmt.Errorf("query calibration history of %s: %w", deviceID, err)
	}
	return scanCalibrations(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCalibration(row rowScanner) (calibration.Result, error) {
	var (
		res        calibration.Result
		computedAt int64
	)
	err := row.Scan(
		&res.ID,
		&res.DeviceID,
		&res.ReferenceRSSI,
		&res.Variance,
		&res.SampleCount,
		&res.Partial,
		&computedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return calibration.Result{}, ErrNotFound
	}
	if err != nil {
		return calibration.Result{}, err
	}
	res.ComputedAt = fromMillis(computedAt)
	return res, nil
}

func scanCalibrations(rows *sql.Rows) ([]calibration.Result, error) {
	defer rows.Close()

	results := make([]calibration.Result, 0)
	for rows.Next() {
		res, err := scanCalibration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan calibration run: %w", err)
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calibration runs: %w", err)
	}
	return results, nil
}

// RecordSamples appends samples to the device log in one transaction.
func (s *Store) RecordSamples(ctx context.Context, samples ...scan.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin device log transaction: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO device_log (mac, rssi, timestamp) VALUES (?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare device log insert: %w", err)
	}
	defer stmt.Close()

	for _, sample := range samples {
		if _, err := stmt.ExecContext(ctx, sample.DeviceID, sample.RSSI, toUnixSeconds(sample.Timestamp)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert device log entry for %s: %w", sample.DeviceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit device log: %w", err)
	}
	return nil
}

// LastSeen returns the latest log timestamp of every MAC, ordered by MAC.
func (s *Store) LastSeen(ctx context.Context) ([]LastSeen, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT mac, MAX(timestamp) AS last_seen
FROM device_log
GROUP BY mac
ORDER BY mac`)
	if err != nil {
		return nil, fmt.Errorf("query last seen: %w", err)
	}
	defer rows.Close()

	seen := make([]LastSeen, 0)
	for rows.Next() {
		var ls LastSeen
		if err := rows.Scan(&ls.MAC, &ls.LastSeen); err != nil {
			return nil, fmt.Errorf("scan last seen: %w", err)
		}
		seen = append(seen, ls)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate last seen: %w", err)
	}
	return seen, nil
}

// PruneLog deletes device log entries older than before and returns how
// many were removed. The seed row is kept.
func (s *Store) PruneLog(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM device_log
WHERE timestamp < ?
  AND NOT (mac = ? AND rssi = ? AND timestamp = ?)`,
		toUnixSeconds(before), SeedMAC, SeedRSSI, float64(SeedTimestamp),
	)
	if err != nil {
		return 0, fmt.Errorf("prune device log: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune device log: %w", err)
	}
	return n, nil
}

// SeedIfEmpty inserts the seed row when the device log is empty. It reports
// whether the row was inserted.
func (s *Store) SeedIfEmpty(ctx context.Context) (bool, error) {
	result, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO device_log (mac, rssi, timestamp)
SELECT ?, ?, ?
WHERE NOT EXISTS (SELECT 1 FROM device_log)`,
		SeedMAC, SeedRSSI, float64(SeedTimestamp),
	)
	if err != nil {
		return false, fmt.Errorf("seed device log: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("seed device log: %w", err)
	}
	return n > 0, nil
}
