// Package publish makes rendered surfaces visible by writing them to disk.
package publish

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"codeberg.org/mutker/batterywidget/internal/errors"
	"codeberg.org/mutker/batterywidget/internal/logger"
	"codeberg.org/mutker/batterywidget/internal/render"
	"github.com/dustin/go-humanize"
	"github.com/zeebo/xxh3"
	"gopkg.in/yaml.v3"
)

const (
	fieldsExt = ".yaml"
	imageExt  = ".png"
	dirPerm   = 0o755
	filePerm  = 0o644
)

// DirSink writes each instance's surface to <dir>/<id>.yaml, or
// <dir>/<id>.png for image surfaces. Files are replaced atomically and a
// surface identical to the last one written for the id is skipped while
// that file still exists.
type DirSink struct {
	dir string
	log logger.Logger

	mu      sync.Mutex
	digests map[string]uint64
	writes  uint64
	skips   uint64
}

func NewDirSink(dir string, log logger.Logger) (*DirSink, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, errors.New().Wrap(ErrWrite, err)
	}

	return &DirSink{
		dir:     dir,
		log:     log.With("publish"),
		digests: make(map[string]uint64),
	}, nil
}

type document struct {
	ID     string    `yaml:"id"`
	Kind   string    `yaml:"kind"`
	NoData bool      `yaml:"no_data,omitempty"`
	Fields yaml.Node `yaml:"fields"`
}

func (s *DirSink) Publish(ctx context.Context, id string, surface render.Surface) error {
	errFactory := errors.New()

	if err := ctx.Err(); err != nil {
		return errFactory.Wrap(errors.ErrCancelled, err)
	}
	if err := validateID(id); err != nil {
		return err
	}

	data, ext, err := encode(id, surface)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	digest := xxh3.Hash(data) ^ xxh3.HashString(ext)
	target := filepath.Join(s.dir, id+ext)
	if prev, ok := s.digests[id]; ok && prev == digest {
		if _, err := os.Stat(target); err == nil {
			s.skips++
			s.log.Debug().Str("id", id).Msg("Surface unchanged, skipping write")
			return nil
		}
		s.log.Debug().Str("id", id).Str("path", target).Msg("Published surface missing, rewriting")
	}

	if err := writeAtomic(s.dir, target, data); err != nil {
		return errFactory.Wrap(ErrWrite, err)
	}

	// A kind change can switch between image and fields output.
	stale := filepath.Join(s.dir, id+otherExt(ext))
	if err := os.Remove(stale); err != nil && !os.IsNotExist(err) {
		s.log.Warn().Err(err).Str("path", stale).Msg("Failed to remove stale surface")
	}

	s.digests[id] = digest
	s.writes++

	s.log.Debug().
		Str("id", id).
		Str("path", target).
		Str("size", humanize.Bytes(uint64(len(data)))).
		Msg("Surface published")

	return nil
}

// Remove deletes every file published for id.
func (s *DirSink) Remove(id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.digests, id)
	for _, ext := range []string{fieldsExt, imageExt} {
		path := filepath.Join(s.dir, id+ext)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errors.New().Wrap(ErrWrite, err)
		}
	}

	return nil
}

// Stats returns how many surfaces were written and how many were skipped
// as unchanged.
func (s *DirSink) Stats() (writes, skips uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes, s.skips
}

func encode(id string, surface render.Surface) ([]byte, string, error) {
	if surface.Image != nil {
		return surface.Image.PNG, imageExt, nil
	}

	doc := document{
		ID:     id,
		Kind:   surface.Kind.String(),
		NoData: surface.NoData,
		Fields: yaml.Node{Kind: yaml.MappingNode},
	}
	for _, f := range surface.Fields {
		doc.Fields.Content = append(doc.Fields.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: f.Key},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: f.Value},
		)
	}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, "", errors.New().Wrap(ErrEncode, err)
	}

	return data, fieldsExt, nil
}

func writeAtomic(dir, target string, data []byte) error {
	tmp, err := os.CreateTemp(dir, filepath.Base(target)+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpName, target)
}

func validateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return errors.New().WithData(ErrInvalidID, struct {
			ID string
		}{id})
	}
	return nil
}

func otherExt(ext string) string {
	if ext == imageExt {
		return fieldsExt
	}
	return imageExt
}
