// Package watch optionally watches a corpus directory for new seed
// files dropped in while a run is already underway.
//
// Same fsnotify.Watcher-plus-event-translation-loop shape as
// internal/runtime/vfs/watch_fsnotify.go, feeding
// a lock-free internal/concurrency.MPMCQueue instead of a buffered
// channel so Drain can be called opportunistically from cmd/hfuzz's
// periodic drain goroutine without blocking a watch goroutine that is mid-send.
package watch

import (
	"os"

	"github.com/fsnotify/fsnotify"

	"github.com/hfuzz/hfuzz/internal/concurrency"
)

// queueCapacity bounds how many pending new-seed paths can accumulate
// between Drain calls before new Create/Write events are dropped.
const queueCapacity = 1024

// CorpusWatcher watches one directory for newly created or updated
// regular files under maxFileSz and makes their paths available via
// Drain.
type CorpusWatcher struct {
	w         *fsnotify.Watcher
	queue     *concurrency.MPMCQueue[string]
	done      chan struct{}
	maxFileSz int64
}

// NewCorpusWatcher starts watching dir for Create and Write events,
// filtering to regular files no larger than maxFileSz.
func NewCorpusWatcher(dir string, maxFileSz int64) (*CorpusWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}

	cw := &CorpusWatcher{
		w:         w,
		queue:     concurrency.NewMPMCQueue[string](queueCapacity),
		done:      make(chan struct{}),
		maxFileSz: maxFileSz,
	}

	go cw.loop()

	return cw, nil
}

func (cw *CorpusWatcher) loop() {
	for {
		select {
		case ev, ok := <-cw.w.Events:
			if !ok {
				return
			}

			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 && cw.eligible(ev.Name) {
				cw.queue.Enqueue(ev.Name)
			}
		case _, ok := <-cw.w.Errors:
			if !ok {
				return
			}
		case <-cw.done:
			return
		}
	}
}

// eligible reports whether path is a regular file no larger than
// maxFileSz, filtering out directories, sockets, and oversized files
// before they ever reach the corpus queue.
func (cw *CorpusWatcher) eligible(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}

	if !fi.Mode().IsRegular() {
		return false
	}

	return cw.maxFileSz <= 0 || fi.Size() <= cw.maxFileSz
}

// Drain returns every newly discovered path accumulated since the last
// Drain call, without blocking.
func (cw *CorpusWatcher) Drain() []string {
	var out []string

	var path string

	for cw.queue.Dequeue(&path) {
		out = append(out, path)
	}

	return out
}

// Close stops the watch goroutine and releases the underlying fsnotify
// handle.
func (cw *CorpusWatcher) Close() error {
	close(cw.done)
	return cw.w.Close()
}
