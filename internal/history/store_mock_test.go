package history

import (
	"context"
	"testing"

	"codeberg.org/mutker/batterywidget/internal/errors"
	"codeberg.org/mutker/batterywidget/internal/logger"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var snapshotCols = []string{
	"captured_at", "level_percent", "charge_state", "plug_source",
	"health_state", "temperature_deci_c", "voltage_mv", "technology",
}

func newMockStore(t *testing.T) (*SQLiteStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return newStore(db, Config{}, logger.Nop()), mock
}

func TestAppendDriverFailureIsIOFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO snapshots").
		WillReturnError(sqlite3.Error{Code: sqlite3.ErrIoErr})

	err := store.Append(context.Background(), snapshotAt(1, 50))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ErrIOFailure))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestCorruptDriverError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM snapshots ORDER BY captured_at DESC LIMIT 1").
		WillReturnError(sqlite3.Error{Code: sqlite3.ErrCorrupt})

	_, err := store.Latest(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ErrCorrupt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRangeNotADatabaseIsCorrupt(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM snapshots WHERE captured_at >= ?").
		WithArgs(int64(0)).
		WillReturnError(sqlite3.Error{Code: sqlite3.ErrNotADB})

	_, err := store.Range(context.Background(), 0)
	assert.True(t, errors.HasCode(err, ErrCorrupt))
}

func TestRecentOutOfRangeLevelIsCorrupt(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows(snapshotCols).
		AddRow(int64(2), int64(150), int64(0), int64(0), int64(0), int64(0), int64(0), "")
	mock.ExpectQuery("SELECT (.+) FROM snapshots ORDER BY captured_at DESC LIMIT").
		WithArgs(DefaultRecentLimit).
		WillReturnRows(rows)

	_, err := store.Recent(context.Background(), -1)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ErrCorrupt))
}

func TestDeleteOlderThanDriverFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM snapshots WHERE captured_at <").
		WithArgs(int64(1000)).
		WillReturnError(sqlite3.Error{Code: sqlite3.ErrFull})

	_, err := store.DeleteOlderThan(context.Background(), 1000)
	assert.True(t, errors.HasCode(err, ErrIOFailure))
}

func TestDeleteOlderThanReportsRows(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM snapshots WHERE captured_at <").
		WithArgs(int64(1000)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.DeleteOlderThan(context.Background(), 1000)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
