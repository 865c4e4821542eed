// Package artwork serves cover art embedded in stored tracks, with cached
// thumbnails for list and grid views.
package artwork

import (
	"context"
	"errors"

	"github.com/edumarques81/stellar-localplayer/internal/domain/library"
)

// ErrNoArtwork is returned when a track carries no embedded picture.
var ErrNoArtwork = errors.New("no artwork found")

// ThumbnailSize represents common thumbnail dimensions.
type ThumbnailSize int

const (
	// ThumbSmall is 150x150 pixels - for list views
	ThumbSmall ThumbnailSize = 150
	// ThumbMedium is 300x300 pixels - for grid views
	ThumbMedium ThumbnailSize = 300
	// ThumbLarge is 500x500 pixels - for detail views
	ThumbLarge ThumbnailSize = 500
)

// ParseSize maps a query value to a thumbnail size. Zero means full size.
func ParseSize(s string) (ThumbnailSize, bool) {
	switch s {
	case "":
		return 0, true
	case "small", "150":
		return ThumbSmall, true
	case "medium", "300":
		return ThumbMedium, true
	case "large", "500":
		return ThumbLarge, true
	}
	return 0, false
}

// Image is resolved artwork.
type Image struct {
	Data     []byte
	MimeType string
	ETag     string
}

// TrackSource loads a stored track with its payload.
type TrackSource interface {
	Get(ctx context.Context, id string) (library.Track, error)
}
