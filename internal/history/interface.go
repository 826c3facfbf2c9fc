package history

import (
	"context"

	"codeberg.org/mutker/batterywidget/internal/battery"
)

// Store is the durable, time-ordered series of battery snapshots.
type Store interface {
	// Append stores s keyed by its capture time. A second append with the
	// same capture time replaces the first.
	Append(ctx context.Context, s battery.Snapshot) error
	// Latest returns the newest snapshot, or nil when the store is empty.
	Latest(ctx context.Context) (*battery.Snapshot, error)
	// Range returns snapshots captured at or after sinceMillis, oldest first.
	Range(ctx context.Context, sinceMillis int64) ([]battery.Snapshot, error)
	// Recent returns up to limit snapshots, newest first.
	Recent(ctx context.Context, limit int) ([]battery.Snapshot, error)
	// DeleteOlderThan removes snapshots captured strictly before cutoffMillis.
	DeleteOlderThan(ctx context.Context, cutoffMillis int64) (int, error)
	Count(ctx context.Context) (int, error)
	// Reset discards the stored series and starts over with an empty one.
	Reset(ctx context.Context) error
	Close() error
}
