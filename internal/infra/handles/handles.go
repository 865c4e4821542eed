// Package handles provides resource handles: transient locators that let a
// playback device address a stored payload without copying it.
package handles

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultPathPrefix is the URL path under which local handles are served.
const DefaultPathPrefix = "/media/"

// Payload is the content a handle resolves to.
type Payload struct {
	Data    []byte
	Type    string
	Name    string
	ModTime time.Time
	ETag    string
}

// Source loads the payload of a stored track. A nil payload with a nil error
// means the track no longer exists.
type Source interface {
	Payload(ctx context.Context, trackID string) (*Payload, error)
}

// Handle is a locator for one track. Local handles are reference counted and
// revoked when the last reference is released. Remote handles wrap a signed
// URL and are never registered.
type Handle struct {
	token       string
	trackID     string
	url         string
	contentType string
	expiresAt   time.Time

	reg  *Registry
	refs int // guarded by reg.mu
}

// Remote creates an unregistered handle for a signed remote locator.
// A zero expiresAt never expires.
func Remote(trackID, url string, expiresAt time.Time) *Handle {
	return &Handle{
		trackID:   trackID,
		url:       url,
		expiresAt: expiresAt,
	}
}

// URL returns the locator to hand to a playback device.
func (h *Handle) URL() string {
	if h == nil {
		return ""
	}
	return h.url
}

// TrackID returns the id of the track the handle points to.
func (h *Handle) TrackID() string {
	if h == nil {
		return ""
	}
	return h.trackID
}

// ContentType returns the type tag of the payload, if known.
func (h *Handle) ContentType() string {
	if h == nil {
		return ""
	}
	return h.contentType
}

// IsRemote reports whether the handle wraps a remote locator.
func (h *Handle) IsRemote() bool {
	return h != nil && h.reg == nil
}

// Expired reports whether a remote locator is past its signing window.
func (h *Handle) Expired(now time.Time) bool {
	if h == nil {
		return true
	}
	return !h.expiresAt.IsZero() && !now.Before(h.expiresAt)
}

// Live reports whether the handle can still be resolved.
func (h *Handle) Live() bool {
	if h == nil {
		return false
	}
	if h.reg == nil {
		return true
	}
	h.reg.mu.Lock()
	defer h.reg.mu.Unlock()
	return h.refs > 0
}

// Acquire adds a reference and returns the handle for chaining.
// Acquiring a revoked handle has no effect.
func (h *Handle) Acquire() *Handle {
	if h == nil || h.reg == nil {
		return h
	}
	h.reg.mu.Lock()
	defer h.reg.mu.Unlock()
	if h.refs > 0 {
		h.refs++
	}
	return h
}

// Release drops a reference. The token is revoked once no reference is left.
func (h *Handle) Release() {
	if h == nil || h.reg == nil {
		return
	}
	h.reg.release(h)
}

// Registry issues local handles and serves their payloads over HTTP.
type Registry struct {
	mu      sync.Mutex
	baseURL string
	source  Source
	live    map[string]*Handle // by token
	byTrack map[string]*Handle
}

// NewRegistry creates a registry whose handle URLs start with baseURL
// (for example "http://127.0.0.1:3002/media/").
func NewRegistry(baseURL string, source Source) *Registry {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Registry{
		baseURL: baseURL,
		source:  source,
		live:    make(map[string]*Handle),
		byTrack: make(map[string]*Handle),
	}
}

// Open returns a handle for the track holding one new reference. A track has
// at most one live handle; while it is live, Open shares it and its URL.
func (r *Registry) Open(trackID, contentType string) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.byTrack[trackID]; ok && h.refs > 0 {
		h.refs++
		return h
	}

	token := uuid.NewString()
	h := &Handle{
		token:       token,
		trackID:     trackID,
		url:         r.baseURL + token,
		contentType: contentType,
		reg:         r,
		refs:        1,
	}
	r.live[token] = h
	r.byTrack[trackID] = h
	return h
}

// Live returns the number of handles that have not been revoked.
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

func (r *Registry) release(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h.refs == 0 {
		log.Debug().Str("track", h.trackID).Msg("Release on revoked handle ignored")
		return
	}
	h.refs--
	if h.refs == 0 {
		delete(r.live, h.token)
		if r.byTrack[h.trackID] == h {
			delete(r.byTrack, h.trackID)
		}
	}
}

func (r *Registry) lookup(token string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.live[token]
	return h, ok
}

// ServeHTTP serves GET/HEAD requests for <prefix><token>. Range requests are
// supported so players can seek.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token := req.URL.Path
	if i := strings.LastIndex(token, "/"); i >= 0 {
		token = token[i+1:]
	}

	h, ok := r.lookup(token)
	if !ok {
		http.Error(w, "handle revoked", http.StatusGone)
		return
	}

	payload, err := r.source.Payload(req.Context(), h.trackID)
	if err != nil {
		log.Error().Err(err).Str("track", h.trackID).Msg("Failed to load payload")
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}
	if payload == nil {
		http.Error(w, "track not found", http.StatusNotFound)
		return
	}

	contentType := payload.Type
	if contentType == "" {
		contentType = h.contentType
	}
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	if payload.ETag != "" {
		w.Header().Set("ETag", strconv.Quote(payload.ETag))
	}
	w.Header().Set("Cache-Control", "no-store")

	http.ServeContent(w, req, payload.Name, payload.ModTime, bytes.NewReader(payload.Data))
}
