// Package library provides the local track library: ingestion, ordering and
// materialization of stored tracks into playable entries.
package library

import (
	"context"
	"errors"
	"time"

	"github.com/edumarques81/stellar-localplayer/internal/infra/handles"
)

// DefaultType is the type tag used when neither the caller nor tag sniffing
// can tell what a file is.
const DefaultType = "audio/mpeg"

// Common errors
var (
	// ErrStorageUnavailable indicates the durable backend could not be reached
	// or a write was aborted. The operation has no partial effect.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrNotFound indicates an unknown track id. Delete and select treat it as
	// a no-op.
	ErrNotFound = errors.New("track not found")
)

// Track is a stored audio item. Payload and metadata are immutable after
// ingestion.
type Track struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
	Title     string    `json:"title,omitempty"`  // From embedded tags
	Artist    string    `json:"artist,omitempty"` // From embedded tags
	Album     string    `json:"album,omitempty"`  // From embedded tags
	Checksum  string    `json:"checksum,omitempty"`
	Payload   []byte    `json:"-"`
}

// DisplayName returns the tag title when present, the file name otherwise.
func (t Track) DisplayName() string {
	if t.Title != "" {
		return t.Title
	}
	return t.Name
}

// File is an uploaded payload waiting for ingestion.
type File struct {
	Name string
	Type string
	Data []byte
}

// BlobStore is the durable id -> track mapping.
type BlobStore interface {
	Put(ctx context.Context, track Track) error
	GetAll(ctx context.Context) ([]Track, error)
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}

// OrderStore is the durable single record holding the playlist order.
type OrderStore interface {
	SetOrder(ctx context.Context, ids []string) error
	GetOrder(ctx context.Context) ([]string, error)
}

// HandleOpener issues resource handles for stored tracks.
type HandleOpener interface {
	Open(trackID, contentType string) *handles.Handle
}
