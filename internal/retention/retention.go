// Package retention decides how far back the snapshot history reaches.
package retention

import "time"

// Window bounds the age of retained snapshots. A MaxAge of zero or less
// keeps everything.
type Window struct {
	MaxAge time.Duration
}

// Cutoff returns the capture time, in Unix milliseconds, before which
// snapshots are expired. ok is false when the window is unbounded and
// nothing should be deleted.
func Cutoff(now time.Time, w Window) (cutoffMillis int64, ok bool) {
	if w.Unbounded() {
		return 0, false
	}

	return now.UnixMilli() - w.MaxAge.Milliseconds(), true
}

// Unbounded reports whether the window keeps every snapshot.
func (w Window) Unbounded() bool {
	return w.MaxAge <= 0
}
