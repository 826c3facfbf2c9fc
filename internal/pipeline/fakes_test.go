package pipeline_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/batterywidget/internal/battery"
	"codeberg.org/mutker/batterywidget/internal/errors"
	"codeberg.org/mutker/batterywidget/internal/history"
	"codeberg.org/mutker/batterywidget/internal/logger"
	"codeberg.org/mutker/batterywidget/internal/render"
	"codeberg.org/mutker/batterywidget/internal/widget"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu    sync.Mutex
	raw   battery.RawReading
	err   error
	delay time.Duration
	reads int
}

func newFakeSource(level int) *fakeSource {
	return &fakeSource{raw: battery.RawReading{
		Level:   level,
		Scale:   100,
		Status:  battery.StatusDischarging,
		Present: battery.FieldLevel | battery.FieldScale | battery.FieldStatus,
	}}
}

func (f *fakeSource) Read(context.Context) (battery.RawReading, error) {
	f.mu.Lock()
	raw, err, delay := f.raw, f.err, f.delay
	f.reads++
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return raw, err
}

// memStore keeps the series in memory and can be told to fail.
type memStore struct {
	mu        sync.RWMutex
	rows      map[int64]battery.Snapshot
	appendErr error
	latestErr error
	resets    int
}

var _ history.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{rows: map[int64]battery.Snapshot{}}
}

func (m *memStore) sorted() []battery.Snapshot {
	out := make([]battery.Snapshot, 0, len(m.rows))
	for _, s := range m.rows {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CapturedAtMillis < out[j].CapturedAtMillis })
	return out
}

func (m *memStore) Append(_ context.Context, s battery.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.rows[s.CapturedAtMillis] = s
	return nil
}

func (m *memStore) Latest(context.Context) (*battery.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.latestErr != nil {
		return nil, m.latestErr
	}
	all := m.sorted()
	if len(all) == 0 {
		return nil, nil
	}
	s := all[len(all)-1]
	return &s, nil
}

func (m *memStore) Range(_ context.Context, since int64) ([]battery.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []battery.Snapshot
	for _, s := range m.sorted() {
		if s.CapturedAtMillis >= since {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) Recent(_ context.Context, limit int) ([]battery.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.sorted()
	var out []battery.Snapshot
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (m *memStore) DeleteOlderThan(_ context.Context, cutoff int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for ts := range m.rows {
		if ts < cutoff {
			delete(m.rows, ts)
			n++
		}
	}
	return n, nil
}

func (m *memStore) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows), nil
}

func (m *memStore) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = map[int64]battery.Snapshot{}
	m.latestErr = nil
	m.resets++
	return nil
}

func (m *memStore) Close() error { return nil }

type published struct {
	id      string
	surface render.Surface
}

type recordingPublisher struct {
	mu    sync.Mutex
	calls []published
	fail  map[string]error
}

func (p *recordingPublisher) Publish(_ context.Context, id string, s render.Surface) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail[id]; err != nil {
		return err
	}
	p.calls = append(p.calls, published{id: id, surface: s})
	return nil
}

func (p *recordingPublisher) last(id string) (render.Surface, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.calls) - 1; i >= 0; i-- {
		if p.calls[i].id == id {
			return p.calls[i].surface, true
		}
	}
	return render.Surface{}, false
}

func newRegistry(t *testing.T) *widget.Registry {
	t.Helper()
	reg, err := widget.Open(widget.Config{Path: "widgets", FS: vfs.NewMem()}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func coded(code errors.ErrorCode) error {
	return errors.New().New(code)
}
