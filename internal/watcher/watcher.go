package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/pygate/pygate/internal/config"
	"github.com/pygate/pygate/internal/observability"
	"github.com/pygate/pygate/internal/policy"
)

// debounceWindow coalesces the write bursts editors produce when saving
const debounceWindow = 250 * time.Millisecond

// Watcher reloads the rules file when it changes on disk. A reload that fails
// to parse or validate leaves the previous snapshot in place; the gate never
// runs on half-applied rules.
type Watcher struct {
	logger  *slog.Logger
	path    string
	store   *config.Store
	engines *policy.Holder
	metrics *observability.Metrics
}

// New creates a watcher for the rules file at path. engines may be nil when
// no policy engine needs recompiling on reload.
func New(logger *slog.Logger, path string, store *config.Store, engines *policy.Holder) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		logger:  logger,
		path:    path,
		store:   store,
		engines: engines,
		metrics: observability.GetMetrics(),
	}
}

// Run watches until the context is cancelled. The parent directory is
// watched rather than the file itself so atomic-rename saves keep working.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		return err
	}

	w.logger.Info("watching rules file", "path", w.path)

	var debounce *time.Timer
	var debounceCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(debounceWindow)
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(debounceWindow)
			}
			debounceCh = debounce.C

		case <-debounceCh:
			debounceCh = nil
			w.reload()

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("rules watcher error", "error", err)
		}
	}
}

// Reload forces a reload outside the watch loop (startup, SIGHUP)
func (w *Watcher) Reload() error {
	return w.reload()
}

func (w *Watcher) reload() error {
	rules, err := config.ParseRules(w.path)
	if err != nil {
		w.metrics.ConfigReloadErrors.Inc()
		w.logger.Error("rules reload failed, keeping previous rules",
			"path", w.path,
			"error", err)
		return err
	}

	// Recompile before publishing the rules so a bad expression leaves the
	// whole previous snapshot (rules and engine) in place together
	if w.engines != nil {
		if err := w.engines.Recompile(w.logger, rules.Policy); err != nil {
			w.metrics.ConfigReloadErrors.Inc()
			w.logger.Error("policy recompile failed, keeping previous rules and engine",
				"path", w.path,
				"error", err)
			return err
		}
	}

	w.store.Replace(rules)
	w.metrics.ConfigReloads.Inc()
	w.logger.Info("rules reloaded",
		"path", w.path,
		"schema_version", rules.SchemaVersion,
		"expression", rules.Policy.Expression,
		"suppressions", len(rules.Suppressions))
	return nil
}
