package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// maxCatalogBytes bounds how much of a source is read.
const maxCatalogBytes = 16 << 20

// ErrNotWatchable is returned by Watch for sources that are not files.
var ErrNotWatchable = errors.New("catalog source cannot be watched")

// Source yields the raw catalog text.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	Name() string
}

// FileSource reads the catalog from a path on disk.
type FileSource struct {
	Path string
}

func (f *FileSource) Open(ctx context.Context) (io.ReadCloser, error) {
	return os.Open(f.Path)
}

func (f *FileSource) Name() string { return f.Path }

// BytesSource serves a fixed catalog, e.g. the embedded default.
type BytesSource struct {
	Label string
	Data  []byte
}

func (b *BytesSource) Open(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.Data)), nil
}

func (b *BytesSource) Name() string { return b.Label }

// Hooks receive reload outcomes; used to feed metrics.
type Hooks struct {
	OnLoad  func(snap *Snapshot)
	OnError func(err error)
}

type loaded struct {
	snap *Snapshot
	raw  []byte
}

// Store keeps the most recent successfully parsed snapshot. A failed reload
// leaves the previous snapshot in place.
type Store struct {
	src      Source
	logger   *slog.Logger
	hooks    Hooks
	debounce time.Duration
	current  atomic.Pointer[loaded]
}

// NewStore creates a store over src. Nothing is read until Reload is called.
func NewStore(src Source, logger *slog.Logger, hooks Hooks) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{src: src, logger: logger, hooks: hooks, debounce: 250 * time.Millisecond}
	s.current.Store(&loaded{snap: &Snapshot{}})
	return s
}

// Snapshot returns the current snapshot. It is never nil.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load().snap
}

// Raw returns the bytes the current snapshot was parsed from.
func (s *Store) Raw() []byte {
	return s.current.Load().raw
}

// Reload reads and parses the source, swapping in the new snapshot on success.
func (s *Store) Reload(ctx context.Context) (*Snapshot, error) {
	raw, err := s.read(ctx)
	if err != nil {
		return s.fail(fmt.Errorf("read catalog %s: %w", s.src.Name(), err))
	}

	snap, err := Parse(bytes.NewReader(raw))
	if err != nil {
		return s.fail(fmt.Errorf("parse catalog %s: %w", s.src.Name(), err))
	}
	snap.LoadedAt = time.Now().UTC()

	for _, sk := range snap.Skipped {
		s.logger.Warn("catalog row skipped",
			slog.String("source", s.src.Name()),
			slog.Int("line", sk.Line),
			slog.Int("fields", sk.Fields),
			slog.String("reason", sk.Reason),
		)
	}

	s.current.Store(&loaded{snap: snap, raw: raw})
	s.logger.Info("catalog loaded",
		slog.String("source", s.src.Name()),
		slog.Int("initiatives", snap.Len()),
		slog.Int("skipped", len(snap.Skipped)),
	)
	if s.hooks.OnLoad != nil {
		s.hooks.OnLoad(snap)
	}

	return snap, nil
}

func (s *Store) fail(err error) (*Snapshot, error) {
	s.logger.Error("catalog reload failed, keeping previous snapshot", slog.Any("err", err))
	if s.hooks.OnError != nil {
		s.hooks.OnError(err)
	}
	return s.Snapshot(), err
}

func (s *Store) read(ctx context.Context) ([]byte, error) {
	rc, err := s.src.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	raw, err := io.ReadAll(io.LimitReader(rc, maxCatalogBytes+1))
	if err != nil {
		return nil, err
	}
	if len(raw) > maxCatalogBytes {
		return nil, fmt.Errorf("catalog exceeds %d bytes", maxCatalogBytes)
	}
	return raw, nil
}

// Watch reloads the catalog whenever its file is written or replaced. It
// blocks until ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	fsrc, ok := s.src.(*FileSource)
	if !ok {
		return ErrNotWatchable
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	target := filepath.Clean(fsrc.Path)
	// watch the directory so atomic replace-by-rename is seen
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}
	s.logger.Info("watching catalog", slog.String("path", target))

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(s.debounce)
			} else {
				timer.Reset(s.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			_, _ = s.Reload(ctx)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("catalog watcher error", slog.Any("err", err))
		}
	}
}
