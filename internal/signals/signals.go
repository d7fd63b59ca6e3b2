// Package signals turns files dropped into a signals directory into
// cooperative cancellation for in-flight runs.
//
// Creating or writing a file named "kill" cancels every context derived from
// the Watcher.
package signals

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDir is the signals directory used by the CLI.
const DefaultDir = ".orca/signals"

const killFile = "kill"

// ErrKilled is the cancellation cause for contexts canceled by a kill file.
var ErrKilled = errors.New("kill signal received")

// Watcher watches a signals directory.
type Watcher struct {
	dir    string
	logger *zap.Logger

	mu      sync.Mutex
	killed  bool
	cancels map[int]context.CancelCauseFunc
	nextID  int

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	closed  bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l.Named("signals")
		}
	}
}

// New creates dir if needed and starts watching it. Without a working
// fsnotify watcher the Watcher still answers Killed by checking the file
// directly.
func New(dir string, opts ...Option) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create signals dir: %w", err)
	}

	w := &Watcher{
		dir:     dir,
		logger:  zap.NewNop(),
		cancels: make(map[int]context.CancelCauseFunc),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("file watcher unavailable, falling back to polling", zap.Error(err))
		return w, nil
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		w.logger.Warn("watch signals dir", zap.String("dir", dir), zap.Error(err))
		return w, nil
	}
	w.watcher = fw

	// A kill file left behind before startup still counts.
	w.poll()

	w.wg.Add(1)
	go w.watch()
	return w, nil
}

func (w *Watcher) watch() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			// Events can trail a Clear; only a file that still exists counts.
			if filepath.Base(ev.Name) == killFile && exists(ev.Name) {
				w.kill()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Debug("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) poll() {
	if exists(filepath.Join(w.dir, killFile)) {
		w.kill()
	}
}

func (w *Watcher) kill() {
	w.mu.Lock()
	if w.killed {
		w.mu.Unlock()
		return
	}
	w.killed = true
	cancels := w.cancels
	w.cancels = make(map[int]context.CancelCauseFunc)
	w.mu.Unlock()

	w.logger.Info("kill signal received", zap.Int("runs", len(cancels)))
	for _, cancel := range cancels {
		cancel(ErrKilled)
	}
}

// Context returns a child of parent that is canceled with cause ErrKilled
// when a kill file appears. Call the returned function to release it.
func (w *Watcher) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)

	w.mu.Lock()
	if w.killed {
		w.mu.Unlock()
		cancel(ErrKilled)
		return ctx, func() {}
	}
	id := w.nextID
	w.nextID++
	w.cancels[id] = cancel
	w.mu.Unlock()

	return ctx, func() {
		w.mu.Lock()
		delete(w.cancels, id)
		w.mu.Unlock()
		cancel(context.Canceled)
	}
}

// Killed reports whether a kill signal has been seen.
func (w *Watcher) Killed() bool {
	if w.watcher == nil {
		w.poll()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.killed
}

// SendKill writes the kill file.
func (w *Watcher) SendKill() error {
	return writeSignal(filepath.Join(w.dir, killFile))
}

// Clear removes the kill file and resets the recorded state. Contexts
// already canceled stay canceled.
func (w *Watcher) Clear() error {
	err := os.Remove(filepath.Join(w.dir, killFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	w.mu.Lock()
	w.killed = false
	w.mu.Unlock()
	return nil
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string { return w.dir }

// Close stops watching. It is safe to call more than once.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.done)
	var err error
	if w.watcher != nil {
		err = w.watcher.Close()
	}
	w.wg.Wait()
	return err
}

func writeSignal(path string) error {
	return os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)), 0o644)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
