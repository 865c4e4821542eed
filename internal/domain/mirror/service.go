// Package mirror backs tracks up to the remote collaborator and restores the
// saved playlist as remote resource handles.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-localplayer/internal/domain/library"
	"github.com/edumarques81/stellar-localplayer/internal/infra/handles"
	"github.com/edumarques81/stellar-localplayer/internal/infra/remote"
)

// RemoteLocatorTTL is how long a restored signed URL stays usable.
const RemoteLocatorTTL = 24 * time.Hour

// ErrDisabled indicates no remote is configured.
var ErrDisabled = errors.New("remote mirror disabled")

// Remote is the mirror endpoint.
type Remote interface {
	Upload(ctx context.Context, id, name, contentType string, data []byte) (*remote.UploadResult, error)
	SavePlaylist(ctx context.Context, p remote.Playlist) error
	LoadPlaylist(ctx context.Context) (*remote.Playlist, error)
}

// Service mirrors the library. A nil Remote disables it.
type Service struct {
	remote Remote
	ttl    time.Duration
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithTTL overrides RemoteLocatorTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		s.ttl = ttl
	}
}

// WithClock sets the time source.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		s.now = fn
	}
}

// NewService creates a mirror service.
func NewService(r Remote, opts ...Option) *Service {
	s := &Service{
		remote: r,
		ttl:    RemoteLocatorTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enabled reports whether a remote is configured.
func (s *Service) Enabled() bool {
	return s != nil && s.remote != nil
}

// Backup uploads each track under its local id, then saves them as the
// remote playlist. Tracks must carry their payload. Nothing local is changed
// on failure.
func (s *Service) Backup(ctx context.Context, tracks []library.Track) error {
	if !s.Enabled() {
		return ErrDisabled
	}
	if len(tracks) == 0 {
		return nil
	}

	items := make([]remote.Item, 0, len(tracks))
	order := make([]string, 0, len(tracks))
	for _, t := range tracks {
		res, err := s.remote.Upload(ctx, t.ID, t.Name, t.Type, t.Payload)
		if err != nil {
			return fmt.Errorf("failed to upload %q: %w", t.Name, err)
		}
		items = append(items, remote.Item{
			ID:        t.ID,
			Name:      t.Name,
			Path:      res.Path,
			SignedURL: res.SignedURL,
		})
		order = append(order, t.ID)
	}

	if err := s.remote.SavePlaylist(ctx, remote.Playlist{Items: items, Order: order}); err != nil {
		return fmt.Errorf("failed to save remote playlist: %w", err)
	}

	log.Info().Int("count", len(items)).Msg("Backed up tracks to remote")
	return nil
}

// Restore loads the remote playlist as a materialization of remote handles,
// ordered by the remote order. Items missing from the order follow in listing
// order; items without a signed URL are skipped.
func (s *Service) Restore(ctx context.Context) (*library.Materialization, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}

	p, err := s.remote.LoadPlaylist(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load remote playlist: %w", err)
	}

	byID := make(map[string]remote.Item, len(p.Items))
	for _, it := range p.Items {
		if it.ID == "" || it.SignedURL == "" {
			continue
		}
		if _, dup := byID[it.ID]; !dup {
			byID[it.ID] = it
		}
	}

	expires := s.now().Add(s.ttl)
	entries := make([]library.Entry, 0, len(byID))
	used := make(map[string]bool, len(byID))
	add := func(it remote.Item) {
		used[it.ID] = true
		entries = append(entries, library.Entry{
			Track: library.Track{
				ID:   it.ID,
				Name: it.Name,
				Type: library.DefaultType,
			},
			Handle: handles.Remote(it.ID, it.SignedURL, expires),
		})
	}

	for _, id := range p.Order {
		if it, ok := byID[id]; ok && !used[id] {
			add(it)
		}
	}
	for _, it := range p.Items {
		if cand, ok := byID[it.ID]; ok && !used[it.ID] {
			add(cand)
		}
	}

	log.Info().Int("count", len(entries)).Msg("Restored remote playlist")
	return library.NewMaterialization(entries), nil
}
