package mpd

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/fhs/gompd/v2/mpd"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-localplayer/internal/domain/player"
)

const (
	// DefaultPollInterval is how often MPD status is sampled.
	DefaultPollInterval = 250 * time.Millisecond

	// DefaultMetadataTimeout bounds how long a load waits for MPD to report
	// a duration before declaring the track ready anyway.
	DefaultMetadataTimeout = 2 * time.Second
)

// ErrNotLoaded is returned by transport commands issued before a load.
var ErrNotLoaded = errors.New("no track loaded")

// Conn is the subset of Client used by Device.
type Conn interface {
	Status() (mpd.Attrs, error)
	Replace(uri string) error
	Play(pos int) error
	Pause(pause bool) error
	Stop() error
	Seek(pos time.Duration) error
	SetVolume(vol int) error
}

type phase int

const (
	phaseIdle phase = iota
	phaseLoading
	phaseActive
	phaseEnded
)

// Device implements player.Device on top of an MPD queue holding a single
// entry. Status is polled and translated into player events.
type Device struct {
	conn   Conn
	events chan player.Event

	interval        time.Duration
	metadataTimeout time.Duration
	now             func() time.Time

	mu          sync.Mutex
	gen         uint64
	phase       phase
	loadedAt    time.Time
	lastState   string
	lastErr     string
	pendingSeek float64
}

// DeviceOption configures a Device.
type DeviceOption func(*Device)

// WithPollInterval sets the status sampling interval.
func WithPollInterval(d time.Duration) DeviceOption {
	return func(dev *Device) {
		dev.interval = d
	}
}

// WithMetadataTimeout sets how long a load waits for a duration.
func WithMetadataTimeout(d time.Duration) DeviceOption {
	return func(dev *Device) {
		dev.metadataTimeout = d
	}
}

// NewDevice creates an MPD playback device.
func NewDevice(conn Conn, opts ...DeviceOption) *Device {
	d := &Device{
		conn:            conn,
		events:          make(chan player.Event, 32),
		interval:        DefaultPollInterval,
		metadataTimeout: DefaultMetadataTimeout,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Events returns the device event stream. It is closed when Run returns.
func (d *Device) Events() <-chan player.Event {
	return d.events
}

// Load replaces the MPD queue with url and leaves it paused at the start.
func (d *Device) Load(gen uint64, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.gen = gen
	d.phase = phaseIdle
	d.pendingSeek = 0

	if err := d.conn.Replace(url); err != nil {
		return fmt.Errorf("failed to queue track: %w", err)
	}
	if err := d.conn.Play(0); err != nil {
		return fmt.Errorf("failed to start track: %w", err)
	}
	if err := d.conn.Pause(true); err != nil {
		return fmt.Errorf("failed to pause track: %w", err)
	}

	d.phase = phaseLoading
	d.loadedAt = d.now()
	d.lastState = "pause"
	d.lastErr = ""
	log.Debug().Uint64("generation", gen).Str("url", url).Msg("MPD track loaded")
	return nil
}

// Play resumes playback. After the track ended it restarts from the start,
// or from a position seeked to while ended.
func (d *Device) Play() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.phase {
	case phaseActive:
		if err := d.conn.Pause(false); err != nil {
			return err
		}
	case phaseEnded:
		if err := d.conn.Play(0); err != nil {
			return err
		}
		if d.pendingSeek > 0 {
			if err := d.conn.Seek(seconds(d.pendingSeek)); err != nil {
				log.Debug().Err(err).Msg("MPD seek after restart failed")
			}
		}
		d.pendingSeek = 0
		d.phase = phaseActive
	default:
		return ErrNotLoaded
	}
	d.lastState = "play"
	return nil
}

// Pause pauses playback.
func (d *Device) Pause() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.phase != phaseActive {
		return nil
	}
	if err := d.conn.Pause(true); err != nil {
		return err
	}
	d.lastState = "pause"
	return nil
}

// Stop stops playback. No Ended event follows.
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.phase == phaseIdle {
		return nil
	}
	d.phase = phaseIdle
	return d.conn.Stop()
}

// Seek moves to an absolute position in seconds.
func (d *Device) Seek(pos float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.phase {
	case phaseActive:
		return d.conn.Seek(seconds(pos))
	case phaseEnded:
		d.pendingSeek = pos
		return nil
	default:
		return ErrNotLoaded
	}
}

// SetVolume sets the volume in [0,1].
func (d *Device) SetVolume(v float64) error {
	return d.conn.SetVolume(int(math.Round(v * 100)))
}

// Run polls MPD until ctx is done. A value on changes triggers an immediate
// poll; changes may be nil.
func (d *Device) Run(ctx context.Context, changes <-chan string) {
	defer close(d.events)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
		case <-ticker.C:
		}

		for _, ev := range d.poll() {
			select {
			case d.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

// poll samples MPD status and returns the events it implies.
func (d *Device) poll() []player.Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.phase == phaseIdle || d.phase == phaseEnded {
		return nil
	}

	status, err := d.conn.Status()
	if err != nil {
		log.Debug().Err(err).Msg("MPD status failed")
		return nil
	}

	state := status["state"]
	elapsed := parseSeconds(status["elapsed"])
	duration := parseSeconds(status["duration"])
	mpdErr := status["error"]

	switch d.phase {
	case phaseLoading:
		waited := d.now().Sub(d.loadedAt)
		switch {
		case mpdErr != "":
			d.phase = phaseIdle
			return []player.Event{d.errorEvent(mpdErr)}
		case state == "pause" || state == "play":
			if duration <= 0 && waited < d.metadataTimeout {
				return nil
			}
			d.phase = phaseActive
			d.lastState = state
			return []player.Event{{Kind: player.EventMetadataReady, Generation: d.gen, Duration: duration}}
		case waited >= d.metadataTimeout:
			d.phase = phaseIdle
			return []player.Event{d.errorEvent("track failed to load")}
		}
		return nil

	case phaseActive:
		if mpdErr != "" && mpdErr != d.lastErr {
			d.lastErr = mpdErr
			d.phase = phaseEnded
			return []player.Event{d.errorEvent(mpdErr)}
		}
		if state == "stop" {
			d.phase = phaseEnded
			return []player.Event{{Kind: player.EventEnded, Generation: d.gen}}
		}

		var events []player.Event
		if state != d.lastState {
			d.lastState = state
			kind := player.EventPause
			if state == "play" {
				kind = player.EventPlay
			}
			events = append(events, player.Event{Kind: kind, Generation: d.gen})
		}
		if state == "play" {
			events = append(events, player.Event{
				Kind:       player.EventTimeUpdate,
				Generation: d.gen,
				Position:   elapsed,
				Duration:   duration,
			})
		}
		return events
	}
	return nil
}

func (d *Device) errorEvent(msg string) player.Event {
	return player.Event{Kind: player.EventError, Generation: d.gen, Err: fmt.Errorf("mpd: %s", msg)}
}

func parseSeconds(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
