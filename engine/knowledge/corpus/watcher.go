package corpus

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/romdo/go-debounce"

	"github.com/compozy/ragchain/pkg/logger"
)

const (
	DefaultDebounce = 500 * time.Millisecond
	maxWaitFactor   = 10
)

// ChangeFunc receives the sorted set of corpus paths touched since the last call.
type ChangeFunc func(ctx context.Context, paths []string)

// Watcher reports corpus file changes, coalescing bursts of events.
type Watcher struct {
	corpus *FileCorpus
	wait   time.Duration

	mu      sync.Mutex
	pending map[string]struct{}
}

func NewWatcher(c *FileCorpus, wait time.Duration) (*Watcher, error) {
	if c == nil {
		return nil, errors.New("corpus: watcher requires a corpus")
	}
	if wait <= 0 {
		wait = DefaultDebounce
	}
	return &Watcher{corpus: c, wait: wait, pending: make(map[string]struct{})}, nil
}

// Watch blocks until ctx is done. onChange runs on the debounce goroutine and
// never concurrently with itself.
func (w *Watcher) Watch(ctx context.Context, onChange ChangeFunc) error {
	if onChange == nil {
		return errors.New("corpus: change callback is required")
	}
	if err := w.corpus.checkRoot(); err != nil {
		return err
	}
	log := logger.FromContext(ctx)
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("corpus: create watcher: %w", err)
	}
	defer fw.Close()
	dirs, err := w.addTree(fw, w.corpus.root)
	if err != nil {
		return err
	}
	var flushMu sync.Mutex
	flush := func() {
		paths := w.drain()
		if len(paths) == 0 {
			return
		}
		flushMu.Lock()
		defer flushMu.Unlock()
		log.Debug("Corpus change detected", "files", len(paths))
		onChange(ctx, paths)
	}
	trigger, cancel := debounce.NewWithMaxWait(w.wait, w.wait*maxWaitFactor, flush)
	defer cancel()
	log.Info("Watching corpus", "dir", w.corpus.root, "directories", dirs, "debounce", w.wait)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if w.handle(ctx, fw, event) {
				trigger()
			}
		case werr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Error("Corpus watcher error", "error", werr)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, fw *fsnotify.Watcher, event fsnotify.Event) bool {
	if event.Has(fsnotify.Create) {
		if n, err := w.addTree(fw, event.Name); err == nil && n > 0 {
			logger.FromContext(ctx).Debug("Watching new corpus directory", "path", event.Name)
			return false
		}
	}
	if !event.Has(fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename) {
		return false
	}
	if !w.corpus.Matches(event.Name) {
		return false
	}
	w.mu.Lock()
	w.pending[filepath.Clean(event.Name)] = struct{}{}
	w.mu.Unlock()
	return true
}

func (w *Watcher) drain() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) == 0 {
		return nil
	}
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]struct{})
	slices.Sort(paths)
	return paths
}

// addTree registers root and every directory below it. Non-directories add nothing.
func (w *Watcher) addTree(fw *fsnotify.Watcher, root string) (int, error) {
	count := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("corpus: watch %q: %w", path, err)
		}
		count++
		return nil
	})
	return count, err
}
