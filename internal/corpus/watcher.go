package corpus

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher calls a function once the corpus has been quiet for a debounce
// interval after a change to a supported file.
type Watcher struct {
	root      string
	supported func(name string) bool
	debounce  time.Duration
	onChange  func(ctx context.Context)
	logger    *slog.Logger

	watcher *fsnotify.Watcher
}

// NewWatcher watches root and all its subdirectories.
func NewWatcher(root string, supported func(name string) bool, debounce time.Duration, onChange func(ctx context.Context)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	w := &Watcher{
		root:      root,
		supported: supported,
		debounce:  debounce,
		onChange:  onChange,
		logger:    slog.Default().With("component", "corpus-watcher"),
		watcher:   fw,
	}
	if err := w.addTree(root); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if d.IsDir() {
			if err := w.watcher.Add(path); err != nil {
				w.logger.Warn("cannot watch directory", "dir", path, "error", err)
			}
		}
		return nil
	})
}

// Run processes events until ctx is cancelled, then closes the watcher.
// onChange never runs concurrently with itself.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var (
		mu    sync.Mutex
		timer *time.Timer
		fire  = make(chan struct{}, 1)
	)
	schedule := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, func() {
			select {
			case fire <- struct{}{}:
			default:
			}
		})
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	w.logger.Info("watching corpus", "root", w.root, "debounce", w.debounce)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-fire:
			w.onChange(ctx)
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if w.relevant(event) {
				w.logger.Debug("corpus changed", "path", event.Name, "op", event.Op.String())
				schedule()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				schedule()
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn("cannot watch new directory", "dir", event.Name, "error", err)
			}
			return false
		}
	}
	if !w.supported(filepath.Base(event.Name)) {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
}
