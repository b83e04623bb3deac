// Package watcher ingests documents dropped into an inbox directory.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	applog "docrag/internal/platform/log"
)

const defaultDebounce = 500 * time.Millisecond

// IngestFunc handles one settled file.
type IngestFunc func(ctx context.Context, path string) error

// Inbox watches one directory. Files are handed to the ingest func one at a
// time once writes to them have settled.
type Inbox struct {
	dir          string
	supports     func(path string) bool
	ingest       IngestFunc
	debounce     time.Duration
	scanExisting bool

	mu     sync.Mutex
	timers map[string]*time.Timer
	queue  chan string
}

type Option func(*Inbox)

func WithDebounce(d time.Duration) Option {
	return func(in *Inbox) { in.debounce = d }
}

// WithScanExisting queues the files already in the directory when Run starts.
func WithScanExisting() Option {
	return func(in *Inbox) { in.scanExisting = true }
}

// NewInbox creates an inbox over dir. supports filters paths; nil accepts
// every file.
func NewInbox(dir string, supports func(string) bool, ingest IngestFunc, opts ...Option) *Inbox {
	in := &Inbox{
		dir:      filepath.Clean(dir),
		supports: supports,
		ingest:   ingest,
		debounce: defaultDebounce,
		timers:   make(map[string]*time.Timer),
		queue:    make(chan string, 64),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Run watches until ctx is done. The directory is created when missing.
func (in *Inbox) Run(ctx context.Context) error {
	if err := os.MkdirAll(in.dir, 0o755); err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(in.dir); err != nil {
		return err
	}
	applog.Info("[Watcher] Watching inbox", "dir", in.dir)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		in.work(ctx)
	}()

	if in.scanExisting {
		in.scan()
	}

	for {
		select {
		case <-ctx.Done():
			in.stopTimers()
			wg.Wait()
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				wg.Wait()
				return nil
			}
			in.handle(ev)
		case err, ok := <-w.Errors:
			if !ok {
				wg.Wait()
				return nil
			}
			applog.Warn("[Watcher] fsnotify error", "error", err)
		}
	}
}

func (in *Inbox) handle(ev fsnotify.Event) {
	path := ev.Name
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		if !in.accepts(path) {
			return
		}
		in.schedule(path)
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		in.cancel(path)
	}
}

func (in *Inbox) accepts(path string) bool {
	base := filepath.Base(path)
	// editor swap files and partial downloads
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".part") {
		return false
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return in.supports == nil || in.supports(path)
}

func (in *Inbox) schedule(path string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if t, ok := in.timers[path]; ok {
		t.Stop()
	}
	in.timers[path] = time.AfterFunc(in.debounce, func() {
		in.mu.Lock()
		delete(in.timers, path)
		in.mu.Unlock()
		select {
		case in.queue <- path:
		default:
			applog.Warn("[Watcher] Queue full, dropping file", "path", path)
		}
	})
}

func (in *Inbox) cancel(path string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if t, ok := in.timers[path]; ok {
		t.Stop()
		delete(in.timers, path)
	}
}

func (in *Inbox) stopTimers() {
	in.mu.Lock()
	defer in.mu.Unlock()
	for path, t := range in.timers {
		t.Stop()
		delete(in.timers, path)
	}
}

func (in *Inbox) scan() {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		applog.Warn("[Watcher] Initial scan failed", "dir", in.dir, "error", err)
		return
	}
	for _, e := range entries {
		path := filepath.Join(in.dir, e.Name())
		if in.accepts(path) {
			in.schedule(path)
		}
	}
}

func (in *Inbox) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-in.queue:
			start := time.Now()
			if err := in.ingest(ctx, path); err != nil {
				applog.Warn("[Watcher] Ingest failed", "path", path, "error", err)
				continue
			}
			applog.Info("[Watcher] Ingested", "path", path, "elapsed", time.Since(start))
		}
	}
}
