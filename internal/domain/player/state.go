// Package player provides the playback controller: the state machine that keeps
// selection, transport state, position, volume and loop in sync with a
// playback device and with durable session storage.
package player

import (
	"context"
	"errors"
)

// State is the controller's playback state.
type State int

const (
	StateIdle    State = iota // No device binding
	StateLoading              // Device told to load, metadata pending
	StateReady                // Metadata known, device paused
	StatePlaying              // Device playing
	StateEnded                // Track finished, transitions out immediately
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Common errors
var (
	// ErrPlaybackRejected indicates the device refused to start. The user may retry.
	ErrPlaybackRejected = errors.New("playback rejected")

	// ErrClosed indicates the controller has been closed.
	ErrClosed = errors.New("controller closed")
)

// EventKind identifies a device event.
type EventKind int

const (
	EventMetadataReady EventKind = iota // Duration known, device paused
	EventTimeUpdate                     // Position tick
	EventEnded                          // Track played to the end
	EventPlay                           // Device started playing
	EventPause                          // Device paused
	EventError                          // Decode or load failure
)

// String returns the event name.
func (k EventKind) String() string {
	switch k {
	case EventMetadataReady:
		return "metadata_ready"
	case EventTimeUpdate:
		return "time_update"
	case EventEnded:
		return "ended"
	case EventPlay:
		return "play"
	case EventPause:
		return "pause"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is emitted by a device. Generation is the value passed to the Load
// call the event belongs to.
type Event struct {
	Kind       EventKind
	Generation uint64
	Position   float64 // Seconds
	Duration   float64 // Seconds, 0 when unknown
	Err        error
}

// Device is the single playback device the controller drives. Load returns
// once the request is issued; completion arrives later as an event tagged
// with gen. Implementations must not call back into the controller from
// inside these methods.
type Device interface {
	Load(gen uint64, url string) error
	Play() error
	Pause() error
	Stop() error
	Seek(seconds float64) error
	SetVolume(volume float64) error
}

// Session is the persisted playback context. Nil fields are unset; as a
// patch, only non-nil fields are written.
type Session struct {
	SelectedID *string  `json:"selectedId,omitempty"`
	Position   *float64 `json:"positionSeconds,omitempty"`
	Volume     *float64 `json:"volume,omitempty"`
	LoopOne    *bool    `json:"loopOne,omitempty"`
	WasPlaying *bool    `json:"wasPlaying,omitempty"`
}

// Merge returns s with every non-nil field of patch applied.
func (s Session) Merge(patch Session) Session {
	if patch.SelectedID != nil {
		s.SelectedID = patch.SelectedID
	}
	if patch.Position != nil {
		s.Position = patch.Position
	}
	if patch.Volume != nil {
		s.Volume = patch.Volume
	}
	if patch.LoopOne != nil {
		s.LoopOne = patch.LoopOne
	}
	if patch.WasPlaying != nil {
		s.WasPlaying = patch.WasPlaying
	}
	return s
}

// IsZero reports whether no field is set.
func (s Session) IsZero() bool {
	return s.SelectedID == nil && s.Position == nil && s.Volume == nil &&
		s.LoopOne == nil && s.WasPlaying == nil
}

// SessionStore persists the session record.
type SessionStore interface {
	Load(ctx context.Context) (Session, error)
	Save(ctx context.Context, patch Session) error
}

// ConditionKind classifies a non-fatal condition reported to the UI.
type ConditionKind string

const (
	ConditionPlaybackRejected    ConditionKind = "playback_rejected"
	ConditionDeviceError         ConditionKind = "device_error"
	ConditionResourceUnavailable ConditionKind = "resource_unavailable"
)

// Condition is a non-fatal problem. The controller never retries on its own.
type Condition struct {
	Kind    ConditionKind `json:"kind"`
	TrackID string        `json:"trackId,omitempty"`
	Err     error         `json:"-"`
}

// Message returns a short description suitable for a notification.
func (c Condition) Message() string {
	switch c.Kind {
	case ConditionPlaybackRejected:
		return "Playback was rejected"
	case ConditionResourceUnavailable:
		return "Track is temporarily unavailable"
	default:
		if c.Err != nil {
			return "Playback error: " + c.Err.Error()
		}
		return "Playback error"
	}
}

// Snapshot is a point-in-time copy of the controller state for rendering.
type Snapshot struct {
	State      State   `json:"-"`
	Status     string  `json:"status"`
	SelectedID string  `json:"selectedId,omitempty"`
	Name       string  `json:"name,omitempty"`
	Position   float64 `json:"position"`
	Duration   float64 `json:"duration"`
	Volume     float64 `json:"volume"`
	LoopOne    bool    `json:"loopOne"`
	Playing    bool    `json:"playing"`
	CanPrev    bool    `json:"canPrev"`
	CanNext    bool    `json:"canNext"`
	Generation uint64  `json:"generation"`
}

func ptr[T any](v T) *T {
	return &v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
