package compendium

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/promptforge-ai/demon-engine/internal/embeddings"
)

// Watcher reloads the catalog file when it changes on disk and atomically
// swaps the Store's snapshot. A catalog edit that fails validation keeps the
// previous snapshot in place.
type Watcher struct {
	store    *Store
	path     string
	embedder embeddings.Embedder
	cache    EmbeddingCache
	watcher  *fsnotify.Watcher

	debounceDelay time.Duration
	pending       bool
	mutex         sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher creates a catalog watcher for the given file
func NewWatcher(store *Store, path string, embedder embeddings.Embedder, cache EmbeddingCache) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		store:         store,
		path:          path,
		embedder:      embedder,
		cache:         cache,
		watcher:       fsw,
		debounceDelay: 500 * time.Millisecond,
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}, nil
}

// Start begins watching the catalog file's directory. Watching the directory
// rather than the file survives editors that replace the file on save.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch catalog directory: %w", err)
	}

	go w.processEvents()
	go w.processDebounced()

	log.Debug("compendium watcher started", "path", w.path)
	return nil
}

// Stop shuts the watcher down
func (w *Watcher) Stop() {
	w.cancel()
	w.watcher.Close()
	<-w.done
}

func (w *Watcher) processEvents() {
	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.mutex.Lock()
			w.pending = true
			w.mutex.Unlock()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("compendium watcher error", "error", err)
		}
	}
}

func (w *Watcher) processDebounced() {
	defer close(w.done)

	ticker := time.NewTicker(w.debounceDelay)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.mutex.Lock()
			fire := w.pending
			w.pending = false
			w.mutex.Unlock()
			if fire {
				w.reload()
			}
		}
	}
}

func (w *Watcher) reload() {
	techniques, err := LoadFile(w.path)
	if err != nil {
		log.Warn("catalog reload failed, keeping previous snapshot", "path", w.path, "error", err)
		return
	}
	vectors, err := EmbedAll(w.ctx, techniques, w.embedder, w.cache)
	if err != nil {
		log.Warn("catalog re-embedding failed, keeping previous snapshot", "path", w.path, "error", err)
		return
	}
	w.store.Reload(techniques, vectors)
	log.Info("compendium reloaded", "path", w.path, "techniques", len(techniques))
}
