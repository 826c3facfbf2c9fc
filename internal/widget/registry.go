package widget

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/batterywidget/internal/errors"
	"codeberg.org/mutker/batterywidget/internal/logger"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	jsoniter "github.com/json-iterator/go"
)

const (
	keyPrefix     = "w|"
	defaultDBPath = "/var/lib/batterywidget/widgets"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Instance is one configured consumer of rendered output.
type Instance struct {
	ID        string
	Kind      Kind
	Options   Options
	UpdatedAt time.Time
}

type record struct {
	Kind      string  `json:"kind"`
	Options   Options `json:"options,omitempty"`
	UpdatedAt int64   `json:"updated_at"`
}

type Config struct {
	Path string
	// FS overrides the filesystem pebble writes to; nil uses the OS.
	FS vfs.FS
}

func DefaultConfig() Config {
	return Config{Path: defaultDBPath}
}

// Registry persists widget instances in pebble under keys "w|<id>".
type Registry struct {
	db  *pebble.DB
	log logger.Logger
	now func() time.Time

	// writeMu serializes read-modify-write sequences such as Ensure.
	writeMu sync.Mutex
}

func Open(cfg Config, log logger.Logger) (*Registry, error) {
	errFactory := errors.New()

	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errFactory.WithMessage(ErrRegistryOpen, "widget registry path is empty")
	}

	opts := &pebble.Options{FS: cfg.FS}
	if cfg.FS == nil {
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, errFactory.Wrap(ErrRegistryOpen, err)
		}
	}

	db, err := pebble.Open(cfg.Path, opts)
	if err != nil {
		return nil, errFactory.Wrap(ErrRegistryOpen, err)
	}

	log.Debug().Str("path", cfg.Path).Msg("Widget registry opened")

	return &Registry{db: db, log: log, now: time.Now}, nil
}

// SetKind stores kind and options for id, replacing any previous entry.
func (r *Registry) SetKind(ctx context.Context, id string, kind Kind, opts Options) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	_, err := r.put(ctx, id, kind, opts)
	return err
}

// Ensure registers id with DefaultKind unless it already exists. It
// returns the stored instance and whether it was created.
func (r *Registry) Ensure(ctx context.Context, id string) (*Instance, bool, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	inst, err := r.Get(ctx, id)
	if err != nil || inst != nil {
		return inst, false, err
	}

	inst, err = r.put(ctx, id, DefaultKind, nil)
	if err != nil {
		return nil, false, err
	}

	return inst, true, nil
}

// Get returns the instance stored for id, or nil when id is unknown.
func (r *Registry) Get(ctx context.Context, id string) (*Instance, error) {
	errFactory := errors.New()

	if err := checkCall(ctx, id); err != nil {
		return nil, err
	}

	value, closer, err := r.db.Get(instanceKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, nil
		}
		return nil, errFactory.Wrap(ErrRegistryIO, err)
	}
	defer closer.Close()

	inst, err := r.decode(id, value)
	if err != nil {
		return nil, err
	}

	return &inst, nil
}

// Remove deletes id. Removing an unknown id is not an error.
func (r *Registry) Remove(ctx context.Context, id string) error {
	errFactory := errors.New()

	if err := checkCall(ctx, id); err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.db.Delete(instanceKey(id), pebble.Sync); err != nil {
		return errFactory.Wrap(ErrRegistryIO, err)
	}

	return nil
}

// AllIDs returns every registered id in ascending order.
func (r *Registry) AllIDs(ctx context.Context) ([]string, error) {
	errFactory := errors.New()

	if err := ctx.Err(); err != nil {
		return nil, errFactory.Wrap(errors.ErrCancelled, err)
	}

	iter, err := r.db.NewIter(prefixIterOptions(keyPrefix))
	if err != nil {
		return nil, errFactory.Wrap(ErrRegistryIO, err)
	}
	defer iter.Close()

	// Byte order of "w|<id>" keys is ascending id order.
	ids := []string{}
	for iter.First(); iter.Valid(); iter.Next() {
		ids = append(ids, strings.TrimPrefix(string(iter.Key()), keyPrefix))
	}
	if err := iter.Error(); err != nil {
		return nil, errFactory.Wrap(ErrRegistryIO, err)
	}

	return ids, nil
}

// All returns every registered instance ordered by id.
func (r *Registry) All(ctx context.Context) ([]Instance, error) {
	ids, err := r.AllIDs(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Instance, 0, len(ids))
	for _, id := range ids {
		inst, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if inst != nil {
			out = append(out, *inst)
		}
	}

	return out, nil
}

func (r *Registry) Close() error {
	if err := r.db.Close(); err != nil {
		return errors.New().Wrap(ErrRegistryClose, err)
	}
	return nil
}

func (r *Registry) put(ctx context.Context, id string, kind Kind, opts Options) (*Instance, error) {
	errFactory := errors.New()

	if err := checkCall(ctx, id); err != nil {
		return nil, err
	}
	if !kind.Valid() {
		return nil, errFactory.WithData(ErrUnknownKind, struct {
			ID   string
			Kind uint8
		}{id, uint8(kind)})
	}

	inst := Instance{
		ID:        id,
		Kind:      kind,
		Options:   opts.Clone(),
		UpdatedAt: r.now().UTC().Truncate(time.Millisecond),
	}

	value, err := json.Marshal(record{
		Kind:      kind.String(),
		Options:   inst.Options,
		UpdatedAt: inst.UpdatedAt.UnixMilli(),
	})
	if err != nil {
		return nil, errFactory.Wrap(ErrRegistryCodec, err)
	}

	if err := r.db.Set(instanceKey(id), value, pebble.Sync); err != nil {
		return nil, errFactory.Wrap(ErrRegistryIO, err)
	}

	r.log.Debug().Str("id", id).Str("kind", kind.String()).Msg("Widget instance stored")

	return &inst, nil
}

// decode turns a stored value into an Instance. A kind name this build does
// not know is kept as KindUnknown so rendering can fall back.
func (r *Registry) decode(id string, value []byte) (Instance, error) {
	var rec record
	if err := json.Unmarshal(value, &rec); err != nil {
		return Instance{}, errors.New().Wrap(ErrRegistryCodec, err)
	}

	kind, err := ParseKind(rec.Kind)
	if err != nil {
		r.log.Warn().Str("id", id).Str("kind", rec.Kind).Msg("Stored widget kind is not recognized")
		kind = KindUnknown
	}

	return Instance{
		ID:        id,
		Kind:      kind,
		Options:   rec.Options,
		UpdatedAt: time.UnixMilli(rec.UpdatedAt).UTC(),
	}, nil
}

func checkCall(ctx context.Context, id string) error {
	errFactory := errors.New()

	if err := ctx.Err(); err != nil {
		return errFactory.Wrap(errors.ErrCancelled, err)
	}
	if id == "" {
		return errFactory.New(ErrInvalidID)
	}
	return nil
}

func instanceKey(id string) []byte {
	return []byte(keyPrefix + id)
}

func prefixIterOptions(prefix string) *pebble.IterOptions {
	lower := []byte(prefix)
	upper := make([]byte, len(lower))
	copy(upper, lower)
	upper[len(upper)-1]++

	return &pebble.IterOptions{LowerBound: lower, UpperBound: upper}
}
