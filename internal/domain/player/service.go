package player

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-localplayer/internal/domain/library"
	"github.com/edumarques81/stellar-localplayer/internal/infra/handles"
)

// DefaultVolume is used when no volume has been persisted.
const DefaultVolume = 1.0

// Controller owns the single device binding and the playback state machine.
// It is safe for concurrent use.
type Controller struct {
	mu sync.Mutex

	device      Device
	writer      *sessionWriter
	sessions    SessionStore
	listener    func(Snapshot)
	onCondition func(Condition)
	now         func() time.Time

	state      State
	playlist   *library.Materialization
	selectedID string
	bound      *handles.Handle   // reference held for the current binding
	retiring   []*handles.Handle // previous bindings, released once the new one is ready
	generation uint64
	installed  uint64 // highest materialization sequence installed

	position float64
	duration float64
	volume   float64
	loopOne  bool

	pendingSeek  *float64
	autoplay     bool // play once the current load is ready
	resumeOnLoad bool // restored "was playing" flag, one-shot

	conditions []Condition
	closed     bool
}

// Option is a functional option for configuring the controller.
type Option func(*Controller)

// WithListener registers a callback invoked with a snapshot after every change.
func WithListener(fn func(Snapshot)) Option {
	return func(c *Controller) {
		c.listener = fn
	}
}

// WithConditionHandler registers a callback for non-fatal conditions.
func WithConditionHandler(fn func(Condition)) Option {
	return func(c *Controller) {
		c.onCondition = fn
	}
}

// WithClock overrides the clock used to check remote locator expiry.
func WithClock(fn func() time.Time) Option {
	return func(c *Controller) {
		c.now = fn
	}
}

// NewController creates a controller bound to device, persisting through sessions.
func NewController(device Device, sessions SessionStore, opts ...Option) *Controller {
	c := &Controller{
		device:   device,
		sessions: sessions,
		writer:   newSessionWriter(sessions),
		now:      time.Now,
		state:    StateIdle,
		playlist: library.NewMaterialization(nil),
		volume:   DefaultVolume,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do runs fn under the lock, then reports conditions and the new snapshot
// outside of it.
func (c *Controller) do(fn func() error) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	err := fn()
	snap := c.snapshotLocked()
	conds := c.conditions
	c.conditions = nil
	c.mu.Unlock()

	if c.onCondition != nil {
		for _, cond := range conds {
			c.onCondition(cond)
		}
	}
	if c.listener != nil {
		c.listener(snap)
	}
	return err
}

func (c *Controller) report(kind ConditionKind, err error) {
	log.Warn().Err(err).Str("condition", string(kind)).Str("track", c.selectedID).Msg("Playback condition")
	c.conditions = append(c.conditions, Condition{Kind: kind, TrackID: c.selectedID, Err: err})
}

// Hydrate installs the startup playlist and applies the persisted session:
// volume, loop, selection, a queued seek and the one-shot resume flag.
func (c *Controller) Hydrate(ctx context.Context, mat *library.Materialization) error {
	sess, err := c.sessions.Load(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load player session, using defaults")
		sess = Session{}
	}

	return c.do(func() error {
		old := c.playlist
		c.playlist = mat
		if old != mat {
			old.Release()
		}
		c.installed = max(c.installed, mat.Seq())

		c.volume = DefaultVolume
		if sess.Volume != nil {
			c.volume = clamp(*sess.Volume, 0, 1)
		}
		c.loopOne = sess.LoopOne != nil && *sess.LoopOne

		if sess.SelectedID != nil && mat.IndexOf(*sess.SelectedID) >= 0 {
			c.selectLocked(*sess.SelectedID)
			if sess.Position != nil {
				c.pendingSeek = ptr(max(0, *sess.Position))
				c.position = *c.pendingSeek
				c.writer.Save(Session{Position: ptr(c.position)})
			}
			c.resumeOnLoad = sess.WasPlaying != nil && *sess.WasPlaying
		} else if first, ok := mat.At(0); ok {
			c.selectLocked(first.Track.ID)
		}

		log.Info().
			Int("tracks", mat.Len()).
			Str("selected", c.selectedID).
			Float64("volume", c.volume).
			Bool("loop_one", c.loopOne).
			Bool("resume", c.resumeOnLoad).
			Msg("Player hydrated")
		return nil
	})
}

// SetPlaylist replaces the materialized playlist and releases the previous
// one. If the selected track is gone, its neighbour takes over. A sequenced
// materialization older than one already installed is released and ignored.
func (c *Controller) SetPlaylist(mat *library.Materialization) error {
	return c.do(func() error {
		if seq := mat.Seq(); seq != 0 {
			if seq < c.installed {
				log.Debug().Uint64("seq", seq).Uint64("installed", c.installed).Msg("Stale playlist dropped")
				mat.Release()
				return nil
			}
			c.installed = seq
		}

		old := c.playlist
		oldIdx := old.IndexOf(c.selectedID)
		c.playlist = mat
		if old != mat {
			defer old.Release()
		}

		if c.selectedID == "" || mat.IndexOf(c.selectedID) >= 0 {
			return nil
		}

		wasPlaying := c.state == StatePlaying || c.autoplay
		var next library.Entry
		var ok bool
		if next, ok = mat.At(oldIdx); !ok {
			if next, ok = mat.At(oldIdx - 1); !ok {
				next, ok = mat.At(0)
			}
		}
		if !ok {
			c.unbindLocked()
			return nil
		}
		c.selectLocked(next.Track.ID)
		c.autoplay = wasPlaying
		return nil
	})
}

// SelectTrack binds the device to the track. Unknown ids are a no-op.
func (c *Controller) SelectTrack(id string) error {
	return c.do(func() error {
		c.selectLocked(id)
		return nil
	})
}

// PlayTrack selects the track and starts it once it is loaded.
func (c *Controller) PlayTrack(id string) error {
	return c.do(func() error {
		if !c.selectLocked(id) {
			return nil
		}
		c.autoplay = true
		return nil
	})
}

func (c *Controller) selectLocked(id string) bool {
	idx := c.playlist.IndexOf(id)
	if idx < 0 {
		log.Debug().Str("id", id).Msg("Select ignored, track not in playlist")
		return false
	}
	entry, _ := c.playlist.At(idx)

	c.generation++
	gen := c.generation

	if err := c.device.Stop(); err != nil {
		log.Debug().Err(err).Msg("Device stop failed")
	}
	if c.bound != nil {
		c.retiring = append(c.retiring, c.bound)
		c.bound = nil
	}

	c.selectedID = id
	c.position = 0
	c.duration = 0
	c.pendingSeek = nil
	c.autoplay = false
	c.resumeOnLoad = false
	c.writer.Save(Session{SelectedID: ptr(id), Position: ptr(0.0)})

	if entry.Handle.IsRemote() && entry.Handle.Expired(c.now()) {
		c.state = StateIdle
		c.releaseRetiringLocked()
		c.report(ConditionResourceUnavailable, fmt.Errorf("locator for %s expired", id))
		return false
	}

	c.bound = entry.Handle.Acquire()
	c.state = StateLoading
	if err := c.device.Load(gen, entry.Handle.URL()); err != nil {
		c.state = StateIdle
		c.report(ConditionDeviceError, err)
		return false
	}

	log.Debug().Str("id", id).Uint64("generation", gen).Msg("Track selected")
	return true
}

func (c *Controller) unbindLocked() {
	c.generation++
	if err := c.device.Stop(); err != nil {
		log.Debug().Err(err).Msg("Device stop failed")
	}
	if c.bound != nil {
		c.bound.Release()
		c.bound = nil
	}
	c.releaseRetiringLocked()
	c.selectedID = ""
	c.state = StateIdle
	c.position = 0
	c.duration = 0
	c.pendingSeek = nil
	c.autoplay = false
	c.resumeOnLoad = false
	c.writer.Save(Session{SelectedID: ptr(""), Position: ptr(0.0), WasPlaying: ptr(false)})
}

func (c *Controller) releaseRetiringLocked() {
	for _, h := range c.retiring {
		h.Release()
	}
	c.retiring = nil
}

// Play starts playback. While loading it records the intent to play once
// ready. A device refusal is reported and returned as ErrPlaybackRejected.
func (c *Controller) Play() error {
	return c.do(c.playLocked)
}

func (c *Controller) playLocked() error {
	switch c.state {
	case StatePlaying:
		return nil
	case StateLoading:
		c.autoplay = true
		return nil
	case StateIdle:
		target := c.selectedID
		if c.playlist.IndexOf(target) < 0 {
			first, ok := c.playlist.At(0)
			if !ok {
				return nil
			}
			target = first.Track.ID
		}
		if c.selectLocked(target) {
			c.autoplay = true
		}
		return nil
	}

	if err := c.device.Play(); err != nil {
		c.state = StateReady
		c.report(ConditionPlaybackRejected, err)
		return fmt.Errorf("%w: %v", ErrPlaybackRejected, err)
	}
	c.state = StatePlaying
	c.writer.Save(Session{WasPlaying: ptr(true)})
	return nil
}

// Pause pauses playback, or drops a pending play intent while loading.
func (c *Controller) Pause() error {
	return c.do(func() error {
		c.pauseLocked()
		return nil
	})
}

func (c *Controller) pauseLocked() {
	switch c.state {
	case StateLoading:
		c.autoplay = false
		c.resumeOnLoad = false
	case StatePlaying:
		if err := c.device.Pause(); err != nil {
			log.Warn().Err(err).Msg("Device pause failed")
		}
		c.state = StateReady
		c.writer.Save(Session{WasPlaying: ptr(false)})
	}
}

// TogglePlay pauses when playing and plays otherwise.
func (c *Controller) TogglePlay() error {
	return c.do(func() error {
		if c.state == StatePlaying {
			c.pauseLocked()
			return nil
		}
		return c.playLocked()
	})
}

// Seek moves to t seconds, clamped to the track duration. While loading the
// offset is queued and applied once ready.
func (c *Controller) Seek(t float64) error {
	return c.do(func() error {
		if c.selectedID == "" || c.state == StateIdle {
			return nil
		}
		if c.duration > 0 {
			t = clamp(t, 0, c.duration)
		} else if t < 0 {
			t = 0
		}

		if c.state == StateLoading {
			c.pendingSeek = ptr(t)
			c.position = t
			return nil
		}

		if err := c.device.Seek(t); err != nil {
			c.report(ConditionDeviceError, err)
			return nil
		}
		c.position = t
		c.writer.Save(Session{Position: ptr(t)})
		return nil
	})
}

// SetVolume sets the volume, clamped to [0,1].
func (c *Controller) SetVolume(v float64) error {
	return c.do(func() error {
		v = clamp(v, 0, 1)
		c.volume = v
		if c.bound != nil && c.state != StateLoading && c.state != StateIdle {
			if err := c.device.SetVolume(v); err != nil {
				log.Warn().Err(err).Float64("volume", v).Msg("Device volume failed")
			}
		}
		c.writer.Save(Session{Volume: ptr(v)})
		return nil
	})
}

// ToggleLoop flips the loop-current-track flag.
func (c *Controller) ToggleLoop() error {
	return c.do(func() error {
		c.loopOne = !c.loopOne
		c.writer.Save(Session{LoopOne: ptr(c.loopOne)})
		return nil
	})
}

// Next selects the following track and plays it. No-op at the end of the list.
func (c *Controller) Next() error {
	return c.do(func() error {
		c.stepLocked(1)
		return nil
	})
}

// Prev selects the preceding track and plays it. No-op at the start of the list.
func (c *Controller) Prev() error {
	return c.do(func() error {
		c.stepLocked(-1)
		return nil
	})
}

func (c *Controller) stepLocked(delta int) {
	idx := c.playlist.IndexOf(c.selectedID)
	if idx < 0 {
		return
	}
	target, ok := c.playlist.At(idx + delta)
	if !ok {
		return
	}
	if c.selectLocked(target.Track.ID) {
		c.autoplay = true
	}
}

// Reset stops playback at position 0 and restores default transport settings.
// The library and the selection are kept.
func (c *Controller) Reset() error {
	return c.do(func() error {
		c.pauseLocked()
		c.autoplay = false
		c.resumeOnLoad = false
		c.pendingSeek = nil
		if c.state == StateReady || c.state == StateEnded {
			if err := c.device.Seek(0); err != nil {
				log.Debug().Err(err).Msg("Device seek failed")
			}
		}
		c.position = 0
		c.loopOne = false
		c.volume = DefaultVolume
		if c.bound != nil && c.state != StateLoading && c.state != StateIdle {
			if err := c.device.SetVolume(c.volume); err != nil {
				log.Debug().Err(err).Msg("Device volume failed")
			}
		}
		c.writer.Save(Session{
			Position:   ptr(0.0),
			WasPlaying: ptr(false),
			LoopOne:    ptr(false),
			Volume:     ptr(DefaultVolume),
		})
		return nil
	})
}

// HandleEvent applies a device event. Events from superseded loads are dropped.
func (c *Controller) HandleEvent(ev Event) {
	err := c.do(func() error {
		if ev.Generation != c.generation {
			log.Debug().
				Str("event", ev.Kind.String()).
				Uint64("generation", ev.Generation).
				Uint64("current", c.generation).
				Msg("Stale device event dropped")
			return nil
		}
		c.dispatchLocked(ev)
		return nil
	})
	if err != nil {
		log.Debug().Err(err).Str("event", ev.Kind.String()).Msg("Device event dropped")
	}
}

func (c *Controller) dispatchLocked(ev Event) {
	switch ev.Kind {
	case EventMetadataReady:
		c.onMetadataLocked(ev)
	case EventTimeUpdate:
		c.onTimeUpdateLocked(ev)
	case EventEnded:
		c.onEndedLocked()
	case EventPlay:
		if c.state == StateReady {
			c.state = StatePlaying
			c.writer.Save(Session{WasPlaying: ptr(true)})
		}
	case EventPause:
		if c.state == StatePlaying {
			c.state = StateReady
			c.writer.Save(Session{WasPlaying: ptr(false)})
		}
	case EventError:
		c.onErrorLocked(ev)
	}
}

func (c *Controller) onMetadataLocked(ev Event) {
	if c.state != StateLoading {
		return
	}
	c.duration = ev.Duration

	if c.pendingSeek != nil {
		t := *c.pendingSeek
		if c.duration > 0 {
			t = clamp(t, 0, c.duration)
		}
		c.pendingSeek = nil
		if err := c.device.Seek(t); err != nil {
			log.Warn().Err(err).Float64("position", t).Msg("Queued seek failed")
			t = 0
		}
		c.position = t
	}
	if err := c.device.SetVolume(c.volume); err != nil {
		log.Warn().Err(err).Msg("Device volume failed")
	}

	c.releaseRetiringLocked()
	c.state = StateReady

	if c.autoplay || c.resumeOnLoad {
		c.autoplay = false
		c.resumeOnLoad = false
		_ = c.playLocked()
	}
}

func (c *Controller) onTimeUpdateLocked(ev Event) {
	if c.state == StateLoading || c.state == StateIdle {
		return
	}
	c.position = ev.Position
	if ev.Duration > 0 {
		c.duration = ev.Duration
	}
	c.writer.Save(Session{Position: ptr(ev.Position)})
}

func (c *Controller) onEndedLocked() {
	if c.state != StatePlaying && c.state != StateReady {
		return
	}
	c.state = StateEnded

	if c.loopOne {
		c.position = 0
		if err := c.device.Seek(0); err != nil {
			log.Debug().Err(err).Msg("Device seek failed")
		}
		if err := c.device.Play(); err != nil {
			c.state = StateReady
			c.report(ConditionPlaybackRejected, err)
			c.writer.Save(Session{Position: ptr(0.0), WasPlaying: ptr(false)})
			return
		}
		c.state = StatePlaying
		c.writer.Save(Session{Position: ptr(0.0)})
		return
	}

	idx := c.playlist.IndexOf(c.selectedID)
	if next, ok := c.playlist.At(idx + 1); ok && idx >= 0 {
		if c.selectLocked(next.Track.ID) {
			c.autoplay = true
		}
		return
	}

	c.position = 0
	c.state = StateReady
	c.writer.Save(Session{Position: ptr(0.0), WasPlaying: ptr(false)})
}

func (c *Controller) onErrorLocked(ev Event) {
	err := ev.Err
	if err == nil {
		err = fmt.Errorf("device error")
	}
	c.report(ConditionDeviceError, err)

	c.autoplay = false
	c.resumeOnLoad = false
	c.pendingSeek = nil
	c.releaseRetiringLocked()
	if c.state == StateLoading {
		c.state = StateIdle
	} else {
		c.state = StateReady
	}
	c.writer.Save(Session{WasPlaying: ptr(false)})
}

// Run feeds device events to the controller until ctx is done or the channel
// is closed.
func (c *Controller) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.HandleEvent(ev)
		}
	}
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	idx := c.playlist.IndexOf(c.selectedID)
	snap := Snapshot{
		State:      c.state,
		Status:     c.state.String(),
		SelectedID: c.selectedID,
		Position:   c.position,
		Duration:   c.duration,
		Volume:     c.volume,
		LoopOne:    c.loopOne,
		Playing:    c.state == StatePlaying,
		CanPrev:    idx > 0,
		CanNext:    idx >= 0 && idx < c.playlist.Len()-1,
		Generation: c.generation,
	}
	if e, ok := c.playlist.At(idx); ok {
		snap.Name = e.Track.DisplayName()
	}
	return snap
}

// Playlist returns the entries of the current playlist.
func (c *Controller) Playlist() []library.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playlist.Entries()
}

// Flush blocks until pending session writes are stored.
func (c *Controller) Flush() {
	c.writer.Flush()
}

// Close stops the device, releases every handle reference and flushes the
// session.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.generation++
	if err := c.device.Stop(); err != nil {
		log.Debug().Err(err).Msg("Device stop failed")
	}
	if c.bound != nil {
		c.bound.Release()
		c.bound = nil
	}
	c.releaseRetiringLocked()
	c.playlist.Release()
	c.mu.Unlock()

	c.writer.Close()
	log.Info().Msg("Player closed")
	return nil
}
