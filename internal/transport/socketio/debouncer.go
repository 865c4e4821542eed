package socketio

import (
	"sync"
	"time"
)

// Topic names a kind of push a change needs.
type Topic int

const (
	TopicState    Topic = iota // Transport state, position, volume
	TopicPlaylist              // Library contents or order
)

// BroadcastDebouncer collapses rapid changes into batched broadcasts.
// Changes within the debounce window result in a single broadcast per
// affected topic. A steady stream of changes, such as position ticks, is
// still flushed at least every maxWait.
type BroadcastDebouncer struct {
	window           time.Duration
	maxWait          time.Duration
	stateCallback    func()
	playlistCallback func()

	mu              sync.Mutex
	pendingState    bool
	pendingPlaylist bool
	firstPending    time.Time
	timer           *time.Timer
	stopped         bool
}

// NewBroadcastDebouncer creates a debouncer with the given window. maxWait
// bounds how long a pending broadcast can be postponed; zero means no bound.
func NewBroadcastDebouncer(window, maxWait time.Duration, stateCallback, playlistCallback func()) *BroadcastDebouncer {
	return &BroadcastDebouncer{
		window:           window,
		maxWait:          maxWait,
		stateCallback:    stateCallback,
		playlistCallback: playlistCallback,
	}
}

// Trigger records a change. A playlist change also pushes state, since the
// selection may have moved.
func (d *BroadcastDebouncer) Trigger(topic Topic) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	switch topic {
	case TopicState:
		d.pendingState = true
	case TopicPlaylist:
		d.pendingState = true
		d.pendingPlaylist = true
	}

	now := time.Now()
	if d.firstPending.IsZero() {
		d.firstPending = now
	}

	delay := d.window
	if d.maxWait > 0 {
		if left := d.maxWait - now.Sub(d.firstPending); left < delay {
			delay = max(left, 0)
		}
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(delay, d.flush)
}

// flush fires callbacks for any pending flags and resets them.
func (d *BroadcastDebouncer) flush() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	doState := d.pendingState
	doPlaylist := d.pendingPlaylist
	d.pendingState = false
	d.pendingPlaylist = false
	d.firstPending = time.Time{}
	d.mu.Unlock()

	// Playlist first so clients can resolve the selected id.
	if doPlaylist && d.playlistCallback != nil {
		d.playlistCallback()
	}
	if doState && d.stateCallback != nil {
		d.stateCallback()
	}
}

// Stop prevents any further callbacks from firing.
func (d *BroadcastDebouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pendingState = false
	d.pendingPlaylist = false
}
