package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/edumarques81/stellar-localplayer/internal/domain/library"
	"github.com/edumarques81/stellar-localplayer/internal/infra/handles"
)

// Blobs is the track blob store. Each call touches a single row, so a track
// is either fully written or absent.
type Blobs struct {
	db *DB
}

// NewBlobs creates a blob store on db.
func NewBlobs(db *DB) *Blobs {
	return &Blobs{db: db}
}

// Put inserts a track. Ids must be fresh; a collision is an error.
func (b *Blobs) Put(ctx context.Context, t library.Track) error {
	db, err := b.db.conn()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO tracks (id, name, size, type, created_at, title, artist, album, checksum, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID, t.Name, t.Size, t.Type, t.CreatedAt.UnixMilli(),
		nullString(t.Title), nullString(t.Artist), nullString(t.Album), nullString(t.Checksum),
		payloadBytes(t.Payload),
	)
	if err != nil {
		return fmt.Errorf("%w: insert track %s: %w", library.ErrStorageUnavailable, t.ID, err)
	}
	return nil
}

// GetAll returns every track with its payload, oldest first.
func (b *Blobs) GetAll(ctx context.Context) ([]library.Track, error) {
	db, err := b.db.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, name, size, type, created_at, title, artist, album, checksum, payload
		FROM tracks ORDER BY created_at, rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: query tracks: %w", library.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	tracks := []library.Track{}
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan track: %w", library.ErrStorageUnavailable, err)
		}
		tracks = append(tracks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: query tracks: %w", library.ErrStorageUnavailable, err)
	}
	return tracks, nil
}

// Get returns one track, or library.ErrNotFound.
func (b *Blobs) Get(ctx context.Context, id string) (library.Track, error) {
	db, err := b.db.conn()
	if err != nil {
		return library.Track{}, err
	}

	row := db.QueryRowContext(ctx, `
		SELECT id, name, size, type, created_at, title, artist, album, checksum, payload
		FROM tracks WHERE id = ?
	`, id)
	t, err := scanTrack(row)
	if err == sql.ErrNoRows {
		return library.Track{}, fmt.Errorf("%w: %s", library.ErrNotFound, id)
	}
	if err != nil {
		return library.Track{}, fmt.Errorf("%w: get track %s: %w", library.ErrStorageUnavailable, id, err)
	}
	return t, nil
}

// Payload implements handles.Source.
func (b *Blobs) Payload(ctx context.Context, id string) (*handles.Payload, error) {
	t, err := b.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &handles.Payload{
		Data:    t.Payload,
		Type:    t.Type,
		Name:    t.Name,
		ModTime: t.CreatedAt,
		ETag:    t.Checksum,
	}, nil
}

// Delete removes a track. Unknown ids are a no-op.
func (b *Blobs) Delete(ctx context.Context, id string) error {
	db, err := b.db.conn()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM tracks WHERE id = ?", id); err != nil {
		return fmt.Errorf("%w: delete track %s: %w", library.ErrStorageUnavailable, id, err)
	}
	return nil
}

// Clear removes every track.
func (b *Blobs) Clear(ctx context.Context) error {
	db, err := b.db.conn()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM tracks"); err != nil {
		return fmt.Errorf("%w: clear tracks: %w", library.ErrStorageUnavailable, err)
	}
	return nil
}

// Count returns the number of stored tracks.
func (b *Blobs) Count(ctx context.Context) (int, error) {
	db, err := b.db.conn()
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tracks").Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count tracks: %w", library.ErrStorageUnavailable, err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTrack(s scanner) (library.Track, error) {
	var t library.Track
	var createdAt int64
	var title, artist, album, checksum sql.NullString
	err := s.Scan(&t.ID, &t.Name, &t.Size, &t.Type, &createdAt, &title, &artist, &album, &checksum, &t.Payload)
	if err != nil {
		return library.Track{}, err
	}
	t.CreatedAt = time.UnixMilli(createdAt)
	t.Title = title.String
	t.Artist = artist.String
	t.Album = album.String
	t.Checksum = checksum.String
	return t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// payloadBytes keeps empty payloads non-NULL.
func payloadBytes(p []byte) []byte {
	if p == nil {
		return []byte{}
	}
	return p
}
