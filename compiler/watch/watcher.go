// Package watch regenerates bindings when the files a run depends on change.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is the quiet period that must pass after the last change
// before a run starts.
const DefaultDebounce = 100 * time.Millisecond

// RunFunc performs one generation run and returns the files it depends on.
type RunFunc func(ctx context.Context) []string

// Watcher reruns generation whenever one of its dependencies changes.
type Watcher struct {
	run      RunFunc
	debounce time.Duration
	log      *zap.Logger
	deps     atomic.Pointer[depSet]
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period before a rerun.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// New returns a watcher that calls run for every generation.
func New(run RunFunc, opts ...Option) *Watcher {
	w := &Watcher{
		run:      run,
		debounce: DefaultDebounce,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.deps.Store(&depSet{})
	return w
}

// depSet is the dependency set of the last run. It is never modified after
// it is published.
type depSet struct {
	files map[string]struct{}
	dirs  map[string]struct{}
}

func newDepSet(files []string) *depSet {
	s := &depSet{
		files: make(map[string]struct{}, len(files)),
		dirs:  make(map[string]struct{}),
	}
	for _, f := range files {
		f = filepath.Clean(f)
		s.files[f] = struct{}{}
		s.dirs[filepath.Dir(f)] = struct{}{}
	}
	return s
}

// Dependencies returns the files watched after the last run, sorted.
func (w *Watcher) Dependencies() []string {
	s := w.deps.Load()
	files := make([]string, 0, len(s.files))
	for f := range s.files {
		files = append(files, f)
	}
	slices.Sort(files)
	return files
}

// Run generates once and then regenerates on every batch of changes until
// ctx is done. Changes that arrive during a run are coalesced into the next
// one. All watches are released before Run returns.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: create watcher: %w", err)
	}
	defer fsw.Close()

	w.generate(ctx, fsw)
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info("watch stopped")
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			w.log.Debug("dependency changed", zap.String("path", ev.Name), zap.Stringer("op", ev.Op))
			timer.Reset(w.debounce)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", zap.Error(err))
		case <-timer.C:
			if ctx.Err() != nil {
				continue
			}
			w.generate(ctx, fsw)
		}
	}
}

// generate runs once and re-arms the watch on the resulting dependencies.
func (w *Watcher) generate(ctx context.Context, fsw *fsnotify.Watcher) {
	next := newDepSet(w.run(ctx))
	prev := w.deps.Load()
	for dir := range prev.dirs {
		if _, ok := next.dirs[dir]; ok {
			continue
		}
		if err := fsw.Remove(dir); err != nil {
			w.log.Debug("unwatch directory", zap.String("dir", dir), zap.Error(err))
		}
	}
	for dir := range next.dirs {
		if _, ok := prev.dirs[dir]; ok {
			continue
		}
		if err := fsw.Add(dir); err != nil {
			// Retried on the next run.
			delete(next.dirs, dir)
			w.log.Warn("watch directory", zap.String("dir", dir), zap.Error(err))
		}
	}
	w.deps.Store(next)
	w.log.Info("watching dependencies", zap.Int("files", len(next.files)))
}

// relevant reports whether ev touches a watched file. Directories are
// watched so that editors replacing a file by rename are still seen.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
		return false
	}
	_, ok := w.deps.Load().files[filepath.Clean(ev.Name)]
	return ok
}
