package history

import (
	"database/sql"

	"codeberg.org/mutker/batterywidget/internal/errors"
	"codeberg.org/mutker/batterywidget/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS snapshots (
	       captured_at        INTEGER PRIMARY KEY,
	       level_percent      INTEGER NOT NULL CHECK (level_percent BETWEEN 0 AND 100),
	       charge_state       INTEGER NOT NULL CHECK (typeof(charge_state) = 'integer'),
	       plug_source        INTEGER NOT NULL CHECK (typeof(plug_source) = 'integer'),
	       health_state       INTEGER NOT NULL CHECK (typeof(health_state) = 'integer'),
	       temperature_deci_c INTEGER NOT NULL CHECK (typeof(temperature_deci_c) = 'integer'),
	       voltage_mv         INTEGER NOT NULL CHECK (typeof(voltage_mv) = 'integer'),
	       technology         TEXT NOT NULL DEFAULT ''
	   );`

	upsertSnapshotSQL = `
    INSERT INTO snapshots (
        captured_at, level_percent,
        charge_state, plug_source, health_state,
        temperature_deci_c, voltage_mv, technology
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT (captured_at) DO UPDATE SET
        level_percent      = excluded.level_percent,
        charge_state       = excluded.charge_state,
        plug_source        = excluded.plug_source,
        health_state       = excluded.health_state,
        temperature_deci_c = excluded.temperature_deci_c,
        voltage_mv         = excluded.voltage_mv,
        technology         = excluded.technology`

	snapshotColumns = `captured_at, level_percent, charge_state, plug_source,
        health_state, temperature_deci_c, voltage_mv, technology`

	latestSQL = `SELECT ` + snapshotColumns + `
    FROM snapshots ORDER BY captured_at DESC LIMIT 1`

	rangeSQL = `SELECT ` + snapshotColumns + `
    FROM snapshots WHERE captured_at >= ? ORDER BY captured_at ASC`

	recentSQL = `SELECT ` + snapshotColumns + `
    FROM snapshots ORDER BY captured_at DESC LIMIT ?`

	deleteOlderSQL = `DELETE FROM snapshots WHERE captured_at < ?`

	countSQL = `SELECT COUNT(*) FROM snapshots`
)

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating database...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				if !errors.Is(err, sql.ErrTxDone) {
					log.Debug().Err(err).Msg("Failed to rollback transaction")
				}
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			SQL   string
		}{
			Error: err.Error(),
			SQL:   createTablesSQL,
		})
	}

	if _, err := tx.Exec(`
        INSERT OR REPLACE INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "record_version",
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Schema initialized successfully")

	return nil
}

// GetSchemaVersion returns the current schema version, or 0 for a fresh file.
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
	}

	return version, nil
}

// TableExists checks if a table exists
func TableExists(db *sql.DB, tableName string) (bool, error) {
	errFactory := errors.New()
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}
	return exists, nil
}
