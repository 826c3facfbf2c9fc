package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/batterywidget/internal/errors"
	"codeberg.org/mutker/batterywidget/internal/logger"
)

// PreflightResult reports the outcome of a startup check of the history file.
type PreflightResult struct {
	Healthy         bool
	Quarantined     bool
	QuarantinePath  string
	Elapsed         time.Duration
	CheckpointError error
	CheckError      error
}

// Preflight runs a bounded WAL checkpoint and quick_check against path.
// A file that fails either is renamed, together with its sidecars, to a
// timestamped quarantine path so the store can start over with a fresh file.
// A missing file is healthy.
func Preflight(path string, timeout time.Duration, log logger.Logger) (PreflightResult, error) {
	errFactory := errors.New()
	res := PreflightResult{}

	if strings.TrimSpace(path) == "" {
		return res, errFactory.New(ErrInvalidDBPath)
	}
	if timeout <= 0 {
		timeout = defaultPreflight
	}

	existing := collectExisting(path)
	if !existing[0].have {
		res.Healthy = true
		return res, nil
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return res, errFactory.Wrap(ErrPreflight, err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", timeout.Milliseconds())); err != nil {
		res.CheckError = err
	} else {
		res.CheckpointError = runCheckpoint(ctx, db)
		res.CheckError = quickCheck(ctx, db)
	}
	res.Elapsed = time.Since(start)

	if res.CheckpointError == nil && res.CheckError == nil {
		res.Healthy = true
		return res, nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return res, errFactory.WithData(ErrPreflight, struct {
			Path    string
			Timeout string
		}{path, timeout.String()})
	}

	_ = db.Close()
	quarantinePath, err := quarantine(path, existing, log)
	if err != nil {
		return res, errFactory.Wrap(ErrPreflight, err)
	}
	res.Quarantined = true
	res.QuarantinePath = quarantinePath

	log.Warn().
		AnErr("checkpoint_error", res.CheckpointError).
		AnErr("check_error", res.CheckError).
		Str("quarantine_path", quarantinePath).
		Dur("elapsed", res.Elapsed).
		Msg("History database failed preflight, quarantined")

	return res, nil
}

func runCheckpoint(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

func quickCheck(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, "PRAGMA quick_check")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return err
		}
		if strings.TrimSpace(status) != "ok" {
			return fmt.Errorf("quick_check reported %q", status)
		}
	}
	return rows.Err()
}

type fileState struct {
	path string
	have bool
}

// collectExisting lists the database file first, then its sidecars.
func collectExisting(path string) []fileState {
	targets := []string{
		path,
		path + "-wal",
		path + "-shm",
		path + "-journal",
	}
	out := make([]fileState, 0, len(targets))
	for _, t := range targets {
		_, err := os.Stat(t)
		out = append(out, fileState{path: t, have: err == nil})
	}
	return out
}

func quarantine(path string, existing []fileState, log logger.Logger) (string, error) {
	ts := time.Now().UTC().Format("20060102T150405.000Z")
	quarantinePath := path + ".bad-" + ts

	for _, state := range existing {
		if !state.have {
			continue
		}
		if err := os.Rename(state.path, state.path+".bad-"+ts); err != nil {
			if os.IsNotExist(err) {
				// Checkpoints may remove sidecars.
				log.Debug().Str("path", state.path).Msg("Expected file missing during quarantine")
				continue
			}
			return "", err
		}
	}

	return quarantinePath, nil
}
