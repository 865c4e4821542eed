package artwork

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dhowden/tag"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-localplayer/internal/domain/library"
)

// Resolver extracts embedded pictures from stored tracks.
type Resolver struct {
	tracks TrackSource
	thumbs *ThumbnailGenerator
}

// NewResolver creates a resolver. thumbs may be nil to serve full size only.
func NewResolver(tracks TrackSource, thumbs *ThumbnailGenerator) *Resolver {
	return &Resolver{
		tracks: tracks,
		thumbs: thumbs,
	}
}

// Resolve returns the picture embedded in the track, scaled to size when
// size is non-zero. Missing tracks return library.ErrNotFound, tracks
// without a picture ErrNoArtwork.
func (r *Resolver) Resolve(ctx context.Context, trackID string, size ThumbnailSize) (*Image, error) {
	track, err := r.tracks.Get(ctx, trackID)
	if err != nil {
		return nil, err
	}

	m, err := tag.ReadFrom(bytes.NewReader(track.Payload))
	if err != nil {
		return nil, ErrNoArtwork
	}
	pic := m.Picture()
	if pic == nil || len(pic.Data) == 0 {
		return nil, ErrNoArtwork
	}

	key := track.Checksum
	if key == "" {
		key = track.ID
	}

	mimeType := pic.MIMEType
	if mimeType == "" || !strings.HasPrefix(mimeType, "image/") {
		mimeType = DetectMimeType(pic.Data)
	}
	img := &Image{Data: pic.Data, MimeType: mimeType, ETag: key}
	if size == 0 || r.thumbs == nil {
		return img, nil
	}

	thumb, err := r.thumbs.Generate(pic.Data, key, size)
	if err != nil {
		log.Debug().Err(err).Str("id", trackID).Msg("Thumbnail failed, serving original")
		return img, nil
	}
	return &Image{Data: thumb, MimeType: "image/jpeg", ETag: fmt.Sprintf("%s_%d", key, size)}, nil
}

// ServeHTTP serves /<prefix>/<trackID>?size=small|medium|large.
func (r *Resolver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := req.URL.Path[strings.LastIndex(req.URL.Path, "/")+1:]
	if id == "" {
		http.Error(w, "track id required", http.StatusBadRequest)
		return
	}
	size, ok := ParseSize(req.URL.Query().Get("size"))
	if !ok {
		http.Error(w, "invalid size", http.StatusBadRequest)
		return
	}

	img, err := r.Resolve(req.Context(), id, size)
	switch {
	case errors.Is(err, library.ErrNotFound), errors.Is(err, ErrNoArtwork):
		http.Error(w, "artwork not found", http.StatusNotFound)
		return
	case err != nil:
		log.Error().Err(err).Str("id", id).Msg("Artwork lookup failed")
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}

	etag := `"` + img.ETag + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, max-age=86400") // Cache for 1 day
	if req.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", img.MimeType)
	w.Write(img.Data)
}

// DetectMimeType detects the MIME type from image data magic bytes.
func DetectMimeType(data []byte) string {
	if len(data) < 4 {
		return "application/octet-stream"
	}

	// JPEG: starts with FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}

	// PNG: starts with 89 50 4E 47 0D 0A 1A 0A
	if len(data) >= 8 &&
		data[0] == 0x89 && data[1] == 'P' && data[2] == 'N' && data[3] == 'G' &&
		data[4] == 0x0D && data[5] == 0x0A && data[6] == 0x1A && data[7] == 0x0A {
		return "image/png"
	}

	// GIF: starts with GIF87a or GIF89a
	if data[0] == 'G' && data[1] == 'I' && data[2] == 'F' && data[3] == '8' {
		return "image/gif"
	}

	// WebP: starts with RIFF....WEBP
	if len(data) >= 12 &&
		data[0] == 'R' && data[1] == 'I' && data[2] == 'F' && data[3] == 'F' &&
		data[8] == 'W' && data[9] == 'E' && data[10] == 'B' && data[11] == 'P' {
		return "image/webp"
	}

	return "application/octet-stream"
}
