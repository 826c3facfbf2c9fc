package retention_test

import (
	"testing"
	"time"

	"codeberg.org/mutker/batterywidget/internal/retention"
	"github.com/stretchr/testify/assert"
)

func TestCutoff(t *testing.T) {
	now := time.UnixMilli(200)

	cutoff, ok := retention.Cutoff(now, retention.Window{MaxAge: 150 * time.Millisecond})
	assert.True(t, ok)
	assert.Equal(t, int64(50), cutoff)
}

func TestCutoffWeek(t *testing.T) {
	now := time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)

	cutoff, ok := retention.Cutoff(now, retention.Window{MaxAge: 7 * 24 * time.Hour})
	assert.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).UnixMilli(), cutoff)
}

func TestCutoffUnbounded(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)

	for _, maxAge := range []time.Duration{0, -time.Hour} {
		w := retention.Window{MaxAge: maxAge}

		_, ok := retention.Cutoff(now, w)
		assert.False(t, ok)
		assert.True(t, w.Unbounded())
	}

	assert.False(t, retention.Window{MaxAge: time.Second}.Unbounded())
}
