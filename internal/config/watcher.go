package config

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher holds the live Config and reloads it when the backing YAML file
// changes: fsnotify primary, a slow poll loop as a safety net in case the
// filesystem notifier is unavailable (network mounts, some containers).
type Watcher struct {
	path string

	mu  sync.RWMutex
	cfg *Config
}

// NewWatcher loads path once and returns a Watcher around the result.
func NewWatcher(path string) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Watcher{path: path, cfg: cfg}, nil
}

// Current returns the most recently loaded Config. Safe to call from any
// goroutine; callers that need a stable snapshot across multiple reads
// should copy Tunables themselves.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// Start runs the reload loop until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	if w.path == "" {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	usePolling := false
	if err != nil {
		log.Printf("config watcher: fsnotify init failed (%v), falling back to polling", err)
		usePolling = true
	} else if err := watcher.Add(w.path); err != nil {
		log.Printf("config watcher: failed to watch %s (%v), falling back to polling", w.path, err)
		usePolling = true
		watcher.Close()
	}

	if !usePolling {
		go func() {
			defer watcher.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-watcher.Events:
					if !ok {
						return
					}
					if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
						time.Sleep(100 * time.Millisecond)
						w.reload()
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return
					}
					log.Printf("config watcher: error %v", err)
				}
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.reload()
			}
		}
	}()
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		log.Printf("config watcher: reload of %s failed: %v", w.path, err)
		return
	}
	w.mu.Lock()
	w.cfg = cfg
	w.mu.Unlock()
	log.Printf("config watcher: reloaded %s", w.path)
}
