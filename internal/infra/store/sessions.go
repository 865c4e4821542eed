package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-localplayer/internal/domain/player"
)

// Sessions is the persisted player session record. Save merges the patch into
// the stored record so concurrent writers of different fields never clobber
// each other.
type Sessions struct {
	db *DB
	mu sync.Mutex // serializes read-modify-write
}

// NewSessions creates a session store on db.
func NewSessions(db *DB) *Sessions {
	return &Sessions{db: db}
}

// Load returns the stored session, zero if none.
func (s *Sessions) Load(ctx context.Context) (player.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// Save merges patch into the stored session.
func (s *Sessions) Save(ctx context.Context, patch player.Session) error {
	if patch.IsZero() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(current.Merge(patch))
	if err != nil {
		return err
	}
	return s.db.putState(ctx, keySession, string(data))
}

func (s *Sessions) load(ctx context.Context) (player.Session, error) {
	value, ok, err := s.db.getState(ctx, keySession)
	if err != nil || !ok {
		return player.Session{}, err
	}

	var sess player.Session
	if err := json.Unmarshal([]byte(value), &sess); err != nil {
		log.Warn().Err(err).Msg("Discarding malformed player session")
		return player.Session{}, nil
	}
	return sess, nil
}
