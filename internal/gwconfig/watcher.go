package gwconfig

import (
	"crypto/sha256"
	"log/slog"
	"os"
	"sync"
	"time"
)

// debounce is the time the watcher waits after the first detected change
// before reloading, so a burst of writes to the same file collapses into a
// single reload.
const debounce = 300 * time.Millisecond

// pollInterval is how often the watcher polls file modification times.
// Polling (rather than fsnotify) keeps the dependency surface minimal.
const pollInterval = 1 * time.Second

// Watcher polls a fixed set of config file paths and invokes onChange,
// debounced, whenever any of their contents change. Reloads are serialized:
// a reload request arriving while one is in flight is coalesced into a
// single trailing run.
type Watcher struct {
	paths    []string
	onChange func(paths []string)

	mu       sync.Mutex
	hashes   map[string][sha256.Size]byte
	done     chan struct{}
	stopOnce sync.Once

	reloadMu  sync.Mutex
	reloading bool
	queued    bool
}

// NewWatcher starts polling paths in the background. onChange is invoked
// (not concurrently with itself) whenever a debounced change is detected.
func NewWatcher(paths []string, onChange func(paths []string)) *Watcher {
	w := &Watcher{
		paths:    paths,
		onChange: onChange,
		hashes:   make(map[string][sha256.Size]byte),
		done:     make(chan struct{}),
	}
	for _, p := range paths {
		if h, ok := hashFile(p); ok {
			w.hashes[p] = h
		}
	}
	go w.poll()
	return w
}

// Stop stops the background polling goroutine.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var pendingSince time.Time
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if w.scan() && pendingSince.IsZero() {
				pendingSince = time.Now()
			}
			if !pendingSince.IsZero() && time.Since(pendingSince) >= debounce {
				w.triggerReload()
				pendingSince = time.Time{}
			}
		}
	}
}

// scan re-hashes every watched file and reports whether anything changed.
func (w *Watcher) scan() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	changed := false
	for _, p := range w.paths {
		h, ok := hashFile(p)
		if !ok {
			continue
		}
		if prev, seen := w.hashes[p]; !seen || prev != h {
			w.hashes[p] = h
			changed = true
		}
	}
	return changed
}

// triggerReload invokes onChange, serializing concurrent requests: a reload
// that arrives while one is already running is marked queued and runs once
// more after the current one finishes.
func (w *Watcher) triggerReload() {
	w.reloadMu.Lock()
	if w.reloading {
		w.queued = true
		w.reloadMu.Unlock()
		return
	}
	w.reloading = true
	w.reloadMu.Unlock()

	for {
		slog.Info("gwconfig: reloading configuration", slog.Any("paths", w.paths))
		w.onChange(w.paths)

		w.reloadMu.Lock()
		if !w.queued {
			w.reloading = false
			w.reloadMu.Unlock()
			return
		}
		w.queued = false
		w.reloadMu.Unlock()
	}
}

func hashFile(path string) ([sha256.Size]byte, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("gwconfig: watcher cannot read file", slog.String("path", path), slog.Any("err", err))
		return [sha256.Size]byte{}, false
	}
	return sha256.Sum256(data), true
}
