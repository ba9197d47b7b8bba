// Package watcher purges cached derivatives when their source image changes.
package watcher

import (
	"context"
	"github.com/denismitr/respimg/internal/media"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var ErrWatcherFailed = errors.New("watcher failed")

const DefaultDebounce = 500 * time.Millisecond

// Purger drops everything cached for a source
type Purger interface {
	PurgeSource(ctx context.Context, source media.SourceImage) error
}

// Watcher monitors the media root recursively, directories created later included
type Watcher struct {
	layout   media.Layout
	purger   Purger
	debounce time.Duration
	logger   *logrus.Logger
	watcher  *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*time.Timer
	wg      sync.WaitGroup
}

func New(layout media.Layout, purger Purger, debounce time.Duration, logger *logrus.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrapf(ErrWatcherFailed, "could not create fsnotify watcher: %v", err)
	}

	return &Watcher{
		layout:   layout,
		purger:   purger,
		debounce: debounce,
		logger:   logger,
		watcher:  fsWatcher,
		pending:  make(map[string]*time.Timer),
	}, nil
}

// Start adds every directory of the media root, the cache directories excepted
func (w *Watcher) Start() error {
	return w.addTree(w.layout.MediaRoot)
}

// Run processes events until ctx is done, then waits for running purges
func (w *Watcher) Run(ctx context.Context) error {
	defer w.wg.Wait()
	defer w.stopTimers()

	for {
		select {
		case <-ctx.Done():
			return w.watcher.Close()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}

			w.handle(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}

			w.logger.Warnf("watcher error: %v", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if w.layout.InCache(event.Name) || strings.HasPrefix(filepath.Base(event.Name), ".") {
		return
	}

	if event.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn(err)
			}

			return
		}
	}

	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	source, ok := w.layout.SourceFromPath(event.Name)
	if !ok || !media.IsSupportedSource(source.Ext) {
		return
	}

	w.schedule(source)
}

// schedule purges source once no event arrived for it during the debounce period
func (w *Watcher) schedule(source media.SourceImage) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, exists := w.pending[source.Path]; exists && timer.Stop() {
		w.wg.Done()
	}

	w.wg.Add(1)

	var timer *time.Timer
	timer = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()

		w.mu.Lock()
		if w.pending[source.Path] == timer {
			delete(w.pending, source.Path)
		}
		w.mu.Unlock()

		if err := w.purger.PurgeSource(context.Background(), source); err != nil {
			w.logger.WithField("source", source.Path).Errorf("could not purge derivatives: %v", err)
			return
		}

		w.logger.WithField("source", source.Path).Info("source changed, derivatives purged")
	})

	w.pending[source.Path] = timer
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for p, timer := range w.pending {
		if timer.Stop() {
			w.wg.Done()
		}

		delete(w.pending, p)
	}
}

func (w *Watcher) addTree(root string) error {
	return filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}

		if !info.IsDir() {
			return nil
		}

		if w.layout.InCache(p) {
			return filepath.SkipDir
		}

		if err := w.watcher.Add(p); err != nil {
			return errors.Wrapf(ErrWatcherFailed, "could not watch %s: %v", p, err)
		}

		w.logger.Debugf("watching %s", p)

		return nil
	})
}
