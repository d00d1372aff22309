package schema

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Holder provides goroutine-safe access to the catalog compiled from a set of schema
// files, recompiling it when the files change.
type Holder struct {
	mu       sync.RWMutex
	catalog  *Catalog
	paths    []string
	logger   zerolog.Logger
	watcher  *fsnotify.Watcher
	onChange []func(*Catalog)
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewHolder compiles the schema files and returns a holder for the resulting catalog.
// Directories are rescanned on every reload, so files added to them are picked up.
func NewHolder(logger zerolog.Logger, paths ...string) (*Holder, error) {
	abs := make([]string, 0, len(paths))
	for _, p := range paths {
		a, err := filepath.Abs(p)
		if err != nil {
			return nil, errors.Wrap(err, "absolute path")
		}
		abs = append(abs, a)
	}

	cat, err := Load(abs...)
	if err != nil {
		return nil, errors.Wrap(err, "load schema")
	}
	return &Holder{catalog: cat, paths: abs, logger: logger, stopCh: make(chan struct{})}, nil
}

// Catalog returns the current catalog.
func (h *Holder) Catalog() *Catalog {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.catalog
}

// Reload recompiles the schema files. If compilation fails the current catalog is kept.
func (h *Holder) Reload() error {
	h.logger.Info().Strs("paths", h.paths).Msg("reloading schema")

	cat, err := Load(h.paths...)
	if err != nil {
		h.logger.Error().Err(err).Msg("schema reload failed, keeping current catalog")
		return errors.Wrap(err, "reload schema")
	}

	h.mu.Lock()
	old := h.catalog
	h.catalog = cat
	listeners := make([]func(*Catalog), len(h.onChange))
	copy(listeners, h.onChange)
	h.mu.Unlock()

	h.logger.Info().Int("old", old.Len()).Int("new", cat.Len()).Msg("schema reloaded")
	for _, fn := range listeners {
		fn(cat)
	}
	return nil
}

// OnChange registers a callback invoked with each newly compiled catalog.
func (h *Holder) OnChange(fn func(*Catalog)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = append(h.onChange, fn)
}

// Watch starts watching the schema files, reloading on change.
func (h *Holder) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create watcher")
	}

	// Watch directories rather than files, to survive editors that save by rename.
	dirs := map[string]bool{}
	for _, p := range h.paths {
		if !isDir(p) {
			dirs[filepath.Dir(p)] = true
			continue
		}
		err = filepath.WalkDir(p, func(path string, de os.DirEntry, err error) error {
			if err == nil && de.IsDir() {
				dirs[path] = true
			}
			return err
		})
		if err != nil {
			_ = watcher.Close()
			return errors.Wrapf(err, "read schema dir %s", p)
		}
	}
	for d := range dirs {
		if err = watcher.Add(d); err != nil {
			_ = watcher.Close()
			return errors.Wrapf(err, "watch directory %s", d)
		}
	}
	h.watcher = watcher

	go h.watchLoop()
	h.logger.Info().Strs("paths", h.paths).Msg("watching schema files for changes")
	return nil
}

// Stop stops watching for changes.
func (h *Holder) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		if h.watcher != nil {
			_ = h.watcher.Close()
		}
	})
}

// watched reports whether name is one of the schema files, or a schema file beneath
// one of the schema directories.
func (h *Holder) watched(name string) bool {
	name = filepath.Clean(name)
	for _, p := range h.paths {
		if name == p {
			return true
		}
		if rel, err := filepath.Rel(p, name); err == nil && !strings.HasPrefix(rel, "..") && isSchemaFile(name) && isDir(p) {
			return true
		}
	}
	return false
}

func (h *Holder) watchLoop() {
	for {
		select {
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if !h.watched(event.Name) || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) {
				continue
			}
			h.logger.Debug().Str("event", event.Op.String()).Str("file", event.Name).Msg("schema file changed")
			if err := h.Reload(); err != nil {
				h.logger.Error().Err(err).Msg("file watch reload failed")
			}

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Msg("file watcher error")

		case <-h.stopCh:
			return
		}
	}
}
