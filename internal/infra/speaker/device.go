// Package speaker plays tracks on the local sound card. Each load fetches the
// resource handle URL into memory and decodes it with beep.
package speaker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/speaker"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-localplayer/internal/domain/player"
)

const (
	// DefaultSampleRate is the output sample rate.
	DefaultSampleRate = 44100

	// DefaultTickInterval is how often position updates are emitted.
	DefaultTickInterval = 250 * time.Millisecond
)

// ErrNotLoaded is returned by transport commands issued before a load completes.
var ErrNotLoaded = errors.New("no track loaded")

// Output is the audio sink. The speaker package is the production output.
type Output interface {
	Lock()
	Unlock()
	Play(s beep.Streamer)
}

type speakerOutput struct{}

func (speakerOutput) Lock()                { speaker.Lock() }
func (speakerOutput) Unlock()              { speaker.Unlock() }
func (speakerOutput) Play(s beep.Streamer) { speaker.Play(s) }

// InitSpeaker initializes the sound card at sampleRate and returns it as an Output.
func InitSpeaker(sampleRate int) (Output, error) {
	sr := beep.SampleRate(sampleRate)
	if err := speaker.Init(sr, sr.N(time.Second/4)); err != nil {
		return nil, fmt.Errorf("failed to init speaker: %w", err)
	}
	return speakerOutput{}, nil
}

// loaded is the decoded current track.
type loaded struct {
	gen    uint64
	stream beep.StreamSeekCloser
	format beep.Format
	ctrl   *beep.Ctrl
	ended  bool
}

// Device implements player.Device on a beep mixer.
type Device struct {
	out        Output
	sampleRate beep.SampleRate
	client     *http.Client
	tick       time.Duration

	mixer  *beep.Mixer
	volume *effects.Volume

	events chan player.Event
	quit   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	gen     uint64
	cur     *loaded
	playing bool
}

// Option configures a Device.
type Option func(*Device)

// WithHTTPClient sets the client used to fetch track URLs.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Device) {
		d.client = c
	}
}

// WithTickInterval sets the position update interval.
func WithTickInterval(t time.Duration) Option {
	return func(d *Device) {
		d.tick = t
	}
}

// NewDevice creates a device playing into out at sampleRate.
func NewDevice(out Output, sampleRate int, opts ...Option) *Device {
	mixer := &beep.Mixer{}
	d := &Device{
		out:        out,
		sampleRate: beep.SampleRate(sampleRate),
		client:     &http.Client{Timeout: 30 * time.Second},
		tick:       DefaultTickInterval,
		mixer:      mixer,
		volume: &effects.Volume{
			Streamer: mixer,
			Base:     2,
		},
		events: make(chan player.Event, 32),
		quit:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	out.Play(d.volume)
	return d
}

// Events returns the device event stream.
func (d *Device) Events() <-chan player.Event {
	return d.events
}

// Load starts fetching url. MetadataReady or Error follows asynchronously.
func (d *Device) Load(gen uint64, url string) error {
	d.mu.Lock()
	d.gen = gen
	d.clearLocked()
	d.mu.Unlock()

	go d.fetch(gen, url)
	return nil
}

func (d *Device) fetch(gen uint64, url string) {
	stream, format, err := d.open(url)
	if err != nil {
		log.Warn().Err(err).Str("url", url).Msg("Failed to load track")
		d.emit(player.Event{Kind: player.EventError, Generation: gen, Err: err})
		return
	}

	d.mu.Lock()
	if d.gen != gen {
		d.mu.Unlock()
		stream.Close()
		return
	}
	d.cur = &loaded{gen: gen, stream: stream, format: format}
	d.attachLocked(d.cur)
	d.mu.Unlock()

	d.emit(player.Event{
		Kind:       player.EventMetadataReady,
		Generation: gen,
		Duration:   format.SampleRate.D(stream.Len()).Seconds(),
	})
}

func (d *Device) open(url string) (beep.StreamSeekCloser, beep.Format, error) {
	resp, err := d.client.Get(url)
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("failed to fetch track: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, beep.Format{}, fmt.Errorf("failed to fetch track: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("failed to read track: %w", err)
	}
	return Decode(data, resp.Header.Get("Content-Type"))
}

// attachLocked queues lt on the mixer, paused. The callback fires when the
// stream drains.
func (d *Device) attachLocked(lt *loaded) {
	var s beep.Streamer = lt.stream
	if lt.format.SampleRate != d.sampleRate {
		s = beep.Resample(4, lt.format.SampleRate, d.sampleRate, s)
	}
	lt.ctrl = &beep.Ctrl{Streamer: s, Paused: true}
	lt.ended = false

	seq := beep.Seq(lt.ctrl, beep.Callback(func() {
		go d.finished(lt)
	}))

	d.out.Lock()
	d.mixer.Clear()
	d.mixer.Add(seq)
	d.out.Unlock()
}

func (d *Device) finished(lt *loaded) {
	d.mu.Lock()
	if d.cur != lt || lt.ended {
		d.mu.Unlock()
		return
	}
	lt.ended = true
	d.playing = false
	gen := lt.gen
	d.mu.Unlock()

	d.emit(player.Event{Kind: player.EventEnded, Generation: gen})
}

// clearLocked drops the current track without emitting events.
func (d *Device) clearLocked() {
	d.out.Lock()
	d.mixer.Clear()
	d.out.Unlock()

	if d.cur != nil {
		d.cur.stream.Close()
		d.cur = nil
	}
	d.playing = false
}

// Play starts or resumes playback. After the end it restarts from the
// current stream position.
func (d *Device) Play() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cur == nil {
		return ErrNotLoaded
	}
	if d.cur.ended {
		d.out.Lock()
		pos := d.cur.stream.Position()
		d.out.Unlock()
		if pos >= d.cur.stream.Len() {
			if err := d.seekLocked(0); err != nil {
				return err
			}
		}
		d.attachLocked(d.cur)
	}

	d.out.Lock()
	d.cur.ctrl.Paused = false
	d.out.Unlock()
	d.playing = true
	return nil
}

// Pause pauses playback.
func (d *Device) Pause() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cur == nil || d.cur.ctrl == nil {
		return nil
	}
	d.out.Lock()
	d.cur.ctrl.Paused = true
	d.out.Unlock()
	d.playing = false
	return nil
}

// Stop stops playback and drops the current track.
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.gen++
	d.clearLocked()
	return nil
}

// Seek moves to an absolute position in seconds.
func (d *Device) Seek(pos float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cur == nil {
		return ErrNotLoaded
	}
	return d.seekLocked(pos)
}

func (d *Device) seekLocked(pos float64) error {
	n := d.cur.format.SampleRate.N(time.Duration(pos * float64(time.Second)))
	if n < 0 {
		n = 0
	}
	if limit := d.cur.stream.Len(); n > limit {
		n = limit
	}

	d.out.Lock()
	defer d.out.Unlock()
	if err := d.cur.stream.Seek(n); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}
	return nil
}

// SetVolume sets linear gain in [0,1].
func (d *Device) SetVolume(v float64) error {
	d.out.Lock()
	defer d.out.Unlock()

	d.volume.Silent = v <= 0
	d.volume.Volume = gainExponent(v)
	return nil
}

// gainExponent maps linear gain to the base-2 exponent effects.Volume uses.
func gainExponent(v float64) float64 {
	if v <= 0 {
		return 0
	}
	if v > 1 {
		v = 1
	}
	return math.Log2(v)
}

// Run emits position updates while playing until ctx is done.
func (d *Device) Run(ctx context.Context) {
	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.quit:
			return
		case <-ticker.C:
			if ev, ok := d.position(); ok {
				d.emit(ev)
			}
		}
	}
}

func (d *Device) position() (player.Event, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cur == nil || !d.playing || d.cur.ended {
		return player.Event{}, false
	}
	d.out.Lock()
	pos := d.cur.stream.Position()
	d.out.Unlock()

	sr := d.cur.format.SampleRate
	return player.Event{
		Kind:       player.EventTimeUpdate,
		Generation: d.cur.gen,
		Position:   sr.D(pos).Seconds(),
		Duration:   sr.D(d.cur.stream.Len()).Seconds(),
	}, true
}

func (d *Device) emit(ev player.Event) {
	select {
	case d.events <- ev:
	case <-d.quit:
	}
}

// Close stops playback and releases the current track.
func (d *Device) Close() error {
	d.once.Do(func() {
		close(d.quit)
		d.mu.Lock()
		d.clearLocked()
		d.mu.Unlock()
	})
	return nil
}
