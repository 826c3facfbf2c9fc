package history

import (
	"path/filepath"
	"time"

	"codeberg.org/mutker/batterywidget/internal/errors"
)

const (
	// File system permissions and paths
	defaultDirPerm   = 0o755
	defaultDBPath    = "/var/lib/batterywidget/history.db"
	backupDirName    = "backups"
	defaultPreflight = 2 * time.Second

	// DefaultRecentLimit bounds Recent when no limit is given.
	DefaultRecentLimit = 100
)

type Config struct {
	DBPath string
	// BackupDir receives VACUUM INTO copies made before migrations and
	// resets. Empty means a backups directory next to DBPath.
	BackupDir        string
	PreflightTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		DBPath:           defaultDBPath,
		PreflightTimeout: defaultPreflight,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	return nil
}

func (c Config) backupDir() string {
	if c.BackupDir != "" {
		return c.BackupDir
	}
	return filepath.Join(filepath.Dir(c.DBPath), backupDirName)
}
