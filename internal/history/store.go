package history

import (
	"context"
	"database/sql"
	"math"
	"os"
	"path/filepath"
	"sync"

	"codeberg.org/mutker/batterywidget/internal/battery"
	"codeberg.org/mutker/batterywidget/internal/errors"
	"codeberg.org/mutker/batterywidget/internal/logger"
	"github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps the snapshot series in a WAL-mode sqlite file. Each
// read is a single statement and sees a consistent snapshot; writes are
// serialized.
type SQLiteStore struct {
	cfg Config
	log logger.Logger

	// mu guards the db handle, which Reset may replace.
	mu      sync.RWMutex
	writeMu sync.Mutex
	db      *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// Open prepares the directory, runs the preflight check and opens the
// history database, creating or migrating the schema as needed.
func Open(cfg Config, log logger.Logger) (*SQLiteStore, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	if _, err := Preflight(cfg.DBPath, cfg.PreflightTimeout, log); err != nil {
		return nil, err
	}

	db, err := openDB(cfg, log)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Msg("History store initialized")

	return newStore(db, cfg, log), nil
}

func newStore(db *sql.DB, cfg Config, log logger.Logger) *SQLiteStore {
	return &SQLiteStore{
		cfg: cfg,
		log: log,
		db:  db,
	}
}

func openDB(cfg Config, log logger.Logger) (*sql.DB, error) {
	errFactory := errors.New()

	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	if err := ValidateAndUpdateSchema(db, cfg.backupDir(), log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	return db, nil
}

func (s *SQLiteStore) Append(ctx context.Context, snap battery.Snapshot) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := s.db.ExecContext(ctx, upsertSnapshotSQL,
		snap.CapturedAtMillis,
		int64(snap.LevelPercent),
		int64(snap.ChargeState),
		int64(snap.PlugSource),
		int64(snap.HealthState),
		int64(snap.TemperatureDeciC),
		int64(snap.VoltageMillivolts),
		snap.Technology,
	)
	if err != nil {
		return classify(err)
	}

	return nil
}

func (s *SQLiteStore) Latest(ctx context.Context) (*battery.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, err := scanSnapshot(s.db.QueryRowContext(ctx, latestSQL))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &snap, nil
}

func (s *SQLiteStore) Range(ctx context.Context, sinceMillis int64) ([]battery.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.query(ctx, rangeSQL, sinceMillis)
}

func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]battery.Snapshot, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.query(ctx, recentSQL, limit)
}

func (s *SQLiteStore) DeleteOlderThan(ctx context.Context, cutoffMillis int64) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, err := s.db.ExecContext(ctx, deleteOlderSQL, cutoffMillis)
	if err != nil {
		return 0, classify(err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify(err)
	}

	return int(n), nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, countSQL).Scan(&n); err != nil {
		return 0, classify(err)
	}

	return n, nil
}

// Reset backs up what it can and recreates an empty schema. When the
// existing file cannot be rewritten in place it is quarantined and a fresh
// file is opened.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	errFactory := errors.New()

	if err := ctx.Err(); err != nil {
		return errFactory.Wrap(errors.ErrCancelled, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := backupDatabase(s.db, s.cfg.backupDir(), "reset", s.log); err != nil {
		s.log.Warn().Err(err).Msg("Backup before reset failed")
	}

	err := dropTables(s.db, s.log)
	if err == nil {
		err = InitSchema(s.db, s.log)
	}
	if err == nil {
		s.log.Warn().Str("path", s.cfg.DBPath).Msg("History store reset")
		return nil
	}
	if s.cfg.DBPath == "" {
		return classify(err)
	}

	s.log.Warn().Err(err).Msg("In-place reset failed, quarantining database")

	if err := s.db.Close(); err != nil {
		s.log.Debug().Err(err).Msg("Failed to close database before quarantine")
	}
	if _, err := quarantine(s.cfg.DBPath, collectExisting(s.cfg.DBPath), s.log); err != nil {
		return errFactory.Wrap(ErrIOFailure, err)
	}

	db, err := openDB(s.cfg, s.log)
	if err != nil {
		return errFactory.Wrap(ErrIOFailure, err)
	}
	s.db = db

	s.log.Warn().Str("path", s.cfg.DBPath).Msg("History store recreated")

	return nil
}

func (s *SQLiteStore) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "checkpoint_wal",
			Error: err.Error(),
		})
	}

	if err := s.db.Close(); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	s.log.Info().Msg("History store closed")

	return nil
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]battery.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []battery.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}

	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanSnapshot decodes one row, rejecting values outside the domain as
// corruption.
func scanSnapshot(row scanner) (battery.Snapshot, error) {
	var (
		capturedAt, level, charge, plug, health, temp, voltage int64
		technology                                             string
	)

	err := row.Scan(&capturedAt, &level, &charge, &plug, &health, &temp, &voltage, &technology)
	if errors.Is(err, sql.ErrNoRows) {
		return battery.Snapshot{}, err
	}
	if err != nil {
		return battery.Snapshot{}, classify(err)
	}

	snap := battery.Snapshot{
		CapturedAtMillis:  capturedAt,
		LevelPercent:      uint8(level),
		ChargeState:       battery.ChargeState(charge),
		PlugSource:        battery.PlugSource(plug),
		HealthState:       battery.HealthState(health),
		TemperatureDeciC:  int32(temp),
		VoltageMillivolts: int32(voltage),
		Technology:        technology,
	}

	bad := ""
	switch {
	case level < 0 || level > 100:
		bad = "level_percent"
	case !inByte(charge) || !snap.ChargeState.Valid():
		bad = "charge_state"
	case !inByte(plug) || !snap.PlugSource.Valid():
		bad = "plug_source"
	case !inByte(health) || !snap.HealthState.Valid():
		bad = "health_state"
	case !inInt32(temp):
		bad = "temperature_deci_c"
	case !inInt32(voltage):
		bad = "voltage_mv"
	}
	if bad != "" {
		return battery.Snapshot{}, errors.New().WithData(ErrCorrupt, struct {
			CapturedAt int64
			Column     string
		}{capturedAt, bad})
	}

	return snap, nil
}

func inByte(v int64) bool {
	return v >= 0 && v <= math.MaxUint8
}

func inInt32(v int64) bool {
	return v >= math.MinInt32 && v <= math.MaxInt32
}

// classify maps a driver error onto the store's error taxonomy.
func classify(err error) error {
	errFactory := errors.New()

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrCorrupt, sqlite3.ErrNotADB:
			return errFactory.Wrap(ErrCorrupt, err)
		}
	}

	return errFactory.Wrap(ErrIOFailure, err)
}
