// Package watcher reports documents dropped into a directory.
package watcher

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const defaultQuiet = 500 * time.Millisecond

// Watcher collapses the create and write events of a file into one callback
// once the file has been quiet for a while.
type Watcher struct {
	fs    *fsnotify.Watcher
	dir   string
	exts  []string
	quiet time.Duration
}

type Option func(*Watcher)

// WithQuiet sets how long a file must go without writes before it is reported.
func WithQuiet(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.quiet = d
		}
	}
}

// New starts watching dir for files with one of exts (".pdf" by default).
func New(dir string, exts []string, opts ...Option) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, err
	}
	if len(exts) == 0 {
		exts = []string{".pdf"}
	}
	w := &Watcher{fs: fw, dir: dir, quiet: defaultQuiet}
	for _, e := range exts {
		w.exts = append(w.exts, strings.ToLower(e))
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run calls fn for every settled file until ctx is done. Errors from fn are
// logged and watching continues.
func (w *Watcher) Run(ctx context.Context, fn func(path string) error) error {
	ready := make(chan string)
	done := make(chan struct{})
	defer close(done)

	var mu sync.Mutex
	timers := map[string]*time.Timer{}
	defer func() {
		mu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case path := <-ready:
			log.Info().Str("path", path).Msg("document settled")
			if err := fn(path); err != nil {
				log.Error().Err(err).Str("path", path).Msg("watch callback failed")
			}
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !w.matches(event.Name) || (!event.Has(fsnotify.Create) && !event.Has(fsnotify.Write)) {
				continue
			}
			path := event.Name
			mu.Lock()
			if t, ok := timers[path]; ok {
				t.Reset(w.quiet)
			} else {
				timers[path] = time.AfterFunc(w.quiet, func() {
					mu.Lock()
					delete(timers, path)
					mu.Unlock()
					select {
					case ready <- path:
					case <-done:
					}
				})
			}
			mu.Unlock()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Str("dir", w.dir).Msg("watch error")
		}
	}
}

func (w *Watcher) Close() error {
	return w.fs.Close()
}

func (w *Watcher) matches(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range w.exts {
		if ext == e {
			return true
		}
	}
	return false
}

// Watch runs fn for every matching document written to dir until ctx is done.
func Watch(ctx context.Context, dir string, exts []string, fn func(path string) error, opts ...Option) error {
	w, err := New(dir, exts, opts...)
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()
	return w.Run(ctx, fn)
}
