package player

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// sessionWriter coalesces session patches and writes them from its own
// goroutine, so position ticks never wait on storage.
type sessionWriter struct {
	store SessionStore

	mu      sync.Mutex
	pending Session
	dirty   bool

	writeMu sync.Mutex // keeps writes in patch order
	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newSessionWriter(store SessionStore) *sessionWriter {
	w := &sessionWriter{
		store: store,
		wake:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go w.loop()
	return w
}

// Save queues a patch. Pending patches merge, later fields win.
func (w *sessionWriter) Save(patch Session) {
	if patch.IsZero() {
		return
	}
	w.mu.Lock()
	w.pending = w.pending.Merge(patch)
	w.dirty = true
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *sessionWriter) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.wake:
			w.Flush()
		case <-w.stop:
			w.Flush()
			return
		}
	}
}

// Flush writes whatever is pending and returns once it is stored.
func (w *sessionWriter) Flush() {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.Lock()
	if !w.dirty {
		w.mu.Unlock()
		return
	}
	patch := w.pending
	w.pending = Session{}
	w.dirty = false
	w.mu.Unlock()

	if err := w.store.Save(context.Background(), patch); err != nil {
		log.Warn().Err(err).Msg("Failed to save player session")
	}
}

// Close flushes and stops the writer goroutine.
func (w *sessionWriter) Close() {
	w.once.Do(func() {
		close(w.stop)
		<-w.done
	})
}
