package config

import (
	"path/filepath"
	"time"

	"github.com/cuemby/ldengine/pkg/log"
	"github.com/fsnotify/fsnotify"
)

// Watcher watches the config file on disk and calls Store.Reload when it
// settles after a write, debouncing rapid successive saves (editors often
// emit write+chmod+rename for one save).
type Watcher struct {
	store       *Store
	watcher     *fsnotify.Watcher
	debounce    time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	lastWriteAt time.Time
}

// NewWatcher creates a Watcher for store's config file.
func NewWatcher(store *Store) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(store.path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}

	return &Watcher{
		store:    store,
		watcher:  fw,
		debounce: 500 * time.Millisecond,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching in a goroutine. Non-blocking.
func (w *Watcher) Start() {
	go w.run()
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
	w.watcher.Close()
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	target := filepath.Clean(w.store.path)
	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()

	pending := false

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			pending = true
			w.lastWriteAt = time.Now()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.WithComponent("config").Error().Err(err).Msg("config watcher error")

		case <-debounceTicker.C:
			if pending && time.Since(w.lastWriteAt) >= w.debounce {
				pending = false
				if _, err := w.store.Reload(); err != nil {
					log.WithComponent("config").Error().Err(err).Msg("config reload failed, keeping prior configuration")
				} else {
					log.WithComponent("config").Info().Msg("configuration reloaded")
				}
			}
		}
	}
}
