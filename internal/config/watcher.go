package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ReloadFunc receives the differences between the running and the freshly
// loaded config, together with the new config.
type ReloadFunc func(d ConfigDiff, cfg *Config)

// WatchStats counts the outcomes of content changes seen by a [Watcher].
type WatchStats struct {
	// Reloads is the number of valid edits that replaced the current config.
	Reloads int

	// Rejected is the number of distinct invalid file contents seen.
	Rejected int
}

// Watcher reloads a config file when its content changes. Only content
// counts: a touched but unedited file is ignored. An edit that fails to
// validate leaves the current config in place and is reported once, however
// often it is polled.
type Watcher struct {
	path     string
	interval time.Duration
	onReload ReloadFunc
	onReject func(error)

	mu       sync.Mutex
	current  *Config
	digest   [sha256.Size]byte
	rejected [sha256.Size]byte
	stats    WatchStats
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval of [Watcher.Run]. The default is 5
// seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithRejectHandler registers fn to receive the validation error of every
// newly rejected edit.
func WithRejectHandler(fn func(error)) WatcherOption {
	return func(w *Watcher) { w.onReject = fn }
}

// NewWatcher loads the config at path. Polling starts with [Watcher.Run].
// onReload may be nil.
func NewWatcher(path string, onReload ReloadFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onReload: onReload,
	}
	for _, opt := range opts {
		opt(w)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.digest = sha256.Sum256(data)
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stats returns a snapshot of the reload counters.
func (w *Watcher) Stats() WatchStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Run calls [Watcher.Check] every interval until ctx is done. It always
// returns nil; read and validation failures are logged.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := w.Check(); err != nil {
				slog.Debug("config watcher: check failed", "path", w.path, "err", err)
			}
		}
	}
}

// Check reads the file once. It reports whether a new config replaced the
// current one. The reload callback runs only when the edit changed a setting;
// comment and formatting edits are absorbed silently.
func (w *Watcher) Check() (bool, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return false, fmt.Errorf("config: watcher read: %w", err)
	}
	sum := sha256.Sum256(data)

	w.mu.Lock()
	if sum == w.digest {
		w.mu.Unlock()
		return false, nil
	}
	w.mu.Unlock()

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		w.reject(sum, err)
		return false, err
	}

	w.mu.Lock()
	old := w.current
	w.current = cfg
	w.digest = sum
	w.stats.Reloads++
	w.mu.Unlock()

	d := Diff(old, cfg)
	if d.IsZero() {
		slog.Debug("config watcher: edit changed no setting", "path", w.path)
		return true, nil
	}
	slog.Info("config watcher: configuration reloaded",
		"path", w.path,
		"log_level_changed", d.LogLevelChanged,
		"session_changed", d.SessionChanged,
		"restart_required", d.RestartRequired,
	)
	// Outside the lock so the callback may call Current.
	if w.onReload != nil {
		w.onReload(d, cfg)
	}
	return true, nil
}

func (w *Watcher) reject(sum [sha256.Size]byte, err error) {
	w.mu.Lock()
	seen := sum == w.rejected
	if !seen {
		w.rejected = sum
		w.stats.Rejected++
	}
	w.mu.Unlock()
	if seen {
		return
	}

	slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
	if w.onReject != nil {
		w.onReject(err)
	}
}
