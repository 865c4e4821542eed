package library

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/dhowden/tag"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/blake2b"
)

// Service composes the blob and order stores into the library operations.
// Mutations are not serialized against each other; each relies on the
// per-record atomicity of the stores.
type Service struct {
	blobs   BlobStore
	order   OrderStore
	handles HandleOpener
	newID   func() string
	now     func() time.Time

	readMu  sync.Mutex // orders Materialize reads by sequence
	readSeq uint64
}

// ServiceOption is a functional option for configuring the service.
type ServiceOption func(*Service)

// WithIDGenerator overrides the track id generator (useful for testing).
func WithIDGenerator(fn func() string) ServiceOption {
	return func(s *Service) {
		s.newID = fn
	}
}

// WithClock overrides the clock used for creation timestamps.
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = fn
	}
}

// NewService creates a new library service.
func NewService(blobs BlobStore, order OrderStore, opener HandleOpener, opts ...ServiceOption) *Service {
	s := &Service{
		blobs:   blobs,
		order:   order,
		handles: opener,
		newID:   uuid.NewString,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddFiles stores every file as a new track and appends the new ids to the
// playlist order. A failed store leaves none of the files behind. A failed
// order write is tolerated: the tracks are recovered by Materialize.
func (s *Service) AddFiles(ctx context.Context, files []File) ([]Track, error) {
	if len(files) == 0 {
		return []Track{}, nil
	}

	added := make([]Track, 0, len(files))
	for _, f := range files {
		track := s.buildTrack(f)
		if err := s.blobs.Put(ctx, track); err != nil {
			s.rollback(ctx, added)
			return nil, fmt.Errorf("failed to store %q: %w", f.Name, err)
		}
		added = append(added, track)
	}

	ids := make([]string, len(added))
	for i, t := range added {
		ids[i] = t.ID
	}
	if err := s.appendOrder(ctx, ids); err != nil {
		log.Warn().Err(err).Int("count", len(ids)).Msg("Failed to append to playlist order, tracks left for reconciliation")
	}

	log.Info().Int("count", len(added)).Msg("Added tracks")

	// Callers get metadata only; the payload stays with the blob store.
	out := make([]Track, len(added))
	for i, t := range added {
		t.Payload = nil
		out[i] = t
	}
	return out, nil
}

func (s *Service) buildTrack(f File) Track {
	sum := blake2b.Sum256(f.Data)
	track := Track{
		ID:        s.newID(),
		Name:      f.Name,
		Size:      int64(len(f.Data)),
		Type:      f.Type,
		CreatedAt: s.now(),
		Checksum:  hex.EncodeToString(sum[:]),
		Payload:   f.Data,
	}

	if m, err := tag.ReadFrom(bytes.NewReader(f.Data)); err == nil {
		track.Title = strings.TrimSpace(m.Title())
		track.Artist = strings.TrimSpace(m.Artist())
		track.Album = strings.TrimSpace(m.Album())
		if track.Type == "" {
			track.Type = mimeForFileType(m.FileType())
		}
	} else {
		log.Debug().Err(err).Str("name", f.Name).Msg("No readable tags")
	}

	if track.Type == "" {
		track.Type = mimeForExtension(f.Name)
	}
	return track
}

func (s *Service) rollback(ctx context.Context, added []Track) {
	for _, t := range added {
		if err := s.blobs.Delete(ctx, t.ID); err != nil {
			log.Error().Err(err).Str("id", t.ID).Msg("Failed to roll back partial add")
		}
	}
}

func (s *Service) appendOrder(ctx context.Context, ids []string) error {
	current, err := s.order.GetOrder(ctx)
	if err != nil {
		return err
	}
	next := make([]string, 0, len(current)+len(ids))
	next = append(next, current...)
	next = append(next, ids...)
	return s.order.SetOrder(ctx, next)
}

// DeleteTrack ensures the track is absent. Unknown ids are a no-op.
func (s *Service) DeleteTrack(ctx context.Context, id string) error {
	if err := s.blobs.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete track %s: %w", id, err)
	}

	current, err := s.order.GetOrder(ctx)
	if err == nil {
		filtered := make([]string, 0, len(current))
		for _, x := range current {
			if x != id {
				filtered = append(filtered, x)
			}
		}
		if len(filtered) != len(current) {
			err = s.order.SetOrder(ctx, filtered)
		}
	}
	if err != nil {
		log.Warn().Err(err).Str("id", id).Msg("Failed to remove id from playlist order")
	}

	log.Info().Str("id", id).Msg("Deleted track")
	return nil
}

// Clear removes every track and empties the playlist order.
func (s *Service) Clear(ctx context.Context) error {
	if err := s.blobs.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear library: %w", err)
	}
	if err := s.order.SetOrder(ctx, []string{}); err != nil {
		log.Warn().Err(err).Msg("Failed to reset playlist order")
	}
	log.Info().Msg("Library cleared")
	return nil
}

// Reorder persists a new playlist order. Unknown and repeated ids are
// dropped before writing.
func (s *Service) Reorder(ctx context.Context, ids []string) error {
	tracks, err := s.blobs.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load tracks: %w", err)
	}

	known := make(map[string]bool, len(tracks))
	for _, t := range tracks {
		known[t.ID] = true
	}

	filtered := make([]string, 0, len(ids))
	for _, id := range ids {
		if known[id] {
			filtered = append(filtered, id)
			known[id] = false
		}
	}

	if err := s.order.SetOrder(ctx, filtered); err != nil {
		return fmt.Errorf("failed to save playlist order: %w", err)
	}

	log.Debug().Int("count", len(filtered)).Int("dropped", len(ids)-len(filtered)).Msg("Playlist reordered")
	return nil
}

// Materialize loads the library in playlist order and opens one handle per
// track. The caller owns the result and must Release it once replaced.
// Results carry increasing sequence numbers in the order their reads ran, so
// a later read is never older than an earlier one.
func (s *Service) Materialize(ctx context.Context) (*Materialization, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()
	s.readSeq++
	seq := s.readSeq

	tracks, err := s.blobs.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load tracks: %w", err)
	}

	order, err := s.order.GetOrder(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load playlist order, using creation order")
		order = nil
	}

	ordered := Reconcile(order, tracks)

	entries := make([]Entry, len(ordered))
	for i, t := range ordered {
		t.Payload = nil
		entries[i] = Entry{
			Track:  t,
			Handle: s.handles.Open(t.ID, t.Type),
		}
	}

	return NewSequencedMaterialization(seq, entries), nil
}

// Reconcile orders tracks by the persisted order. Ids with no backing track
// are dropped, repeated ids keep their first position, and tracks missing from
// the order are appended in the order they were given.
func Reconcile(order []string, tracks []Track) []Track {
	byID := make(map[string]Track, len(tracks))
	for _, t := range tracks {
		byID[t.ID] = t
	}

	placed := make(map[string]bool, len(tracks))
	out := make([]Track, 0, len(tracks))
	for _, id := range order {
		t, ok := byID[id]
		if !ok || placed[id] {
			continue
		}
		placed[id] = true
		out = append(out, t)
	}

	for _, t := range tracks {
		if !placed[t.ID] {
			placed[t.ID] = true
			out = append(out, t)
		}
	}
	return out
}

func mimeForFileType(ft tag.FileType) string {
	switch ft {
	case tag.MP3:
		return "audio/mpeg"
	case tag.FLAC:
		return "audio/flac"
	case tag.OGG:
		return "audio/ogg"
	case tag.M4A, tag.M4B, tag.M4P, tag.ALAC:
		return "audio/mp4"
	case tag.DSF:
		return "audio/dsf"
	default:
		return ""
	}
}

func mimeForExtension(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".mp3":
		return "audio/mpeg"
	case ".flac":
		return "audio/flac"
	case ".wav":
		return "audio/wav"
	case ".ogg", ".oga", ".opus":
		return "audio/ogg"
	case ".m4a", ".mp4", ".aac":
		return "audio/mp4"
	default:
		return DefaultType
	}
}
