package artwork_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/edumarques81/stellar-localplayer/internal/domain/artwork"
	"github.com/edumarques81/stellar-localplayer/internal/domain/library"
)

// MockTrackSource implements the TrackSource interface for testing.
type MockTrackSource struct {
	tracks map[string]library.Track
	err    error
}

func (m *MockTrackSource) Get(ctx context.Context, id string) (library.Track, error) {
	if m.err != nil {
		return library.Track{}, m.err
	}
	t, ok := m.tracks[id]
	if !ok {
		return library.Track{}, library.ErrNotFound
	}
	return t, nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("Failed to encode png: %v", err)
	}
	return buf.Bytes()
}

// id3WithPicture builds an ID3v2.3 tag holding one APIC frame, followed by
// a few bytes standing in for audio frames.
func id3WithPicture(mimeType string, pic []byte) []byte {
	var body bytes.Buffer
	body.WriteByte(0x00) // ISO-8859-1
	body.WriteString(mimeType)
	body.WriteByte(0x00)
	body.WriteByte(0x03) // Front cover
	body.WriteByte(0x00) // Empty description
	body.Write(pic)

	var frame bytes.Buffer
	frame.WriteString("APIC")
	binary.Write(&frame, binary.BigEndian, uint32(body.Len()))
	frame.Write([]byte{0x00, 0x00})
	frame.Write(body.Bytes())

	size := frame.Len()
	var out bytes.Buffer
	out.WriteString("ID3")
	out.Write([]byte{0x03, 0x00, 0x00})
	out.Write([]byte{
		byte(size>>21&0x7F),
		byte(size>>14&0x7F),
		byte(size>>7&0x7F),
		byte(size&0x7F),
	})
	out.Write(frame.Bytes())
	out.Write(make([]byte, 64))
	return out.Bytes()
}

func newResolver(t *testing.T) (*artwork.Resolver, []byte) {
	t.Helper()
	pic := pngBytes(t, 800, 400)
	src := &MockTrackSource{tracks: map[string]library.Track{
		"art":   {ID: "art", Checksum: "c0ffee", Payload: id3WithPicture("image/png", pic)},
		"plain": {ID: "plain", Payload: []byte("not a tagged file")},
	}}
	return artwork.NewResolver(src, artwork.NewThumbnailGenerator(t.TempDir())), pic
}

func TestResolver_FullSize(t *testing.T) {
	r, pic := newResolver(t)

	img, err := r.Resolve(context.Background(), "art", 0)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if img.MimeType != "image/png" {
		t.Errorf("Expected image/png, got %s", img.MimeType)
	}
	if !bytes.Equal(img.Data, pic) {
		t.Error("Expected embedded picture bytes")
	}
	if img.ETag != "c0ffee" {
		t.Errorf("Expected checksum ETag, got %s", img.ETag)
	}
}

func TestResolver_Thumbnail(t *testing.T) {
	r, _ := newResolver(t)

	img, err := r.Resolve(context.Background(), "art", artwork.ThumbSmall)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if img.MimeType != "image/jpeg" || img.ETag != "c0ffee_150" {
		t.Errorf("Unexpected thumbnail: %s %s", img.MimeType, img.ETag)
	}
	decoded, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		t.Fatalf("Failed to decode thumbnail: %v", err)
	}
	if b := decoded.Bounds(); b.Dx() != 150 || b.Dy() != 75 {
		t.Errorf("Expected 150x75, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestResolver_Errors(t *testing.T) {
	r, _ := newResolver(t)

	if _, err := r.Resolve(context.Background(), "plain", 0); !errors.Is(err, artwork.ErrNoArtwork) {
		t.Errorf("Expected ErrNoArtwork, got %v", err)
	}
	if _, err := r.Resolve(context.Background(), "missing", 0); !errors.Is(err, library.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	broken := artwork.NewResolver(&MockTrackSource{err: library.ErrStorageUnavailable}, nil)
	if _, err := broken.Resolve(context.Background(), "art", 0); !errors.Is(err, library.ErrStorageUnavailable) {
		t.Errorf("Expected ErrStorageUnavailable, got %v", err)
	}
}

func TestResolver_ServeHTTP(t *testing.T) {
	r, _ := newResolver(t)

	tests := []struct {
		name   string
		method string
		target string
		want   int
	}{
		{"full size", http.MethodGet, "/api/v1/art/art", http.StatusOK},
		{"thumbnail", http.MethodGet, "/api/v1/art/art?size=medium", http.StatusOK},
		{"no picture", http.MethodGet, "/api/v1/art/plain", http.StatusNotFound},
		{"unknown track", http.MethodGet, "/api/v1/art/nope", http.StatusNotFound},
		{"bad size", http.MethodGet, "/api/v1/art/art?size=huge", http.StatusBadRequest},
		{"missing id", http.MethodGet, "/api/v1/art/", http.StatusBadRequest},
		{"wrong method", http.MethodPost, "/api/v1/art/art", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.target, nil))
			if rec.Code != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestResolver_NotModified(t *testing.T) {
	r, _ := newResolver(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/art/art", nil)
	req.Header.Set("If-None-Match", `"c0ffee"`)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotModified {
		t.Errorf("Expected 304, got %d", rec.Code)
	}
}

func TestDetectMimeType(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected string
	}{
		{
			name:     "JPEG",
			data:     []byte{0xFF, 0xD8, 0xFF, 0xE0},
			expected: "image/jpeg",
		},
		{
			name:     "PNG",
			data:     []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A},
			expected: "image/png",
		},
		{
			name:     "GIF",
			data:     []byte{'G', 'I', 'F', '8', '9', 'a'},
			expected: "image/gif",
		},
		{
			name:     "WebP",
			data:     []byte{'R', 'I', 'F', 'F', 0, 0, 0, 0, 'W', 'E', 'B', 'P'},
			expected: "image/webp",
		},
		{
			name:     "Unknown",
			data:     []byte{0x00, 0x01, 0x02, 0x03},
			expected: "application/octet-stream",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := artwork.DetectMimeType(tt.data)
			if result != tt.expected {
				t.Errorf("Expected mime type '%s', got '%s'", tt.expected, result)
			}
		})
	}
}

func TestParseSize(t *testing.T) {
	tests := map[string]artwork.ThumbnailSize{
		"":      0,
		"small": artwork.ThumbSmall,
		"300":   artwork.ThumbMedium,
		"large": artwork.ThumbLarge,
	}
	for in, want := range tests {
		got, ok := artwork.ParseSize(in)
		if !ok || got != want {
			t.Errorf("ParseSize(%q) = %d, %v; want %d", in, got, ok, want)
		}
	}
	if _, ok := artwork.ParseSize("tiny"); ok {
		t.Error("Expected unknown size rejected")
	}
}
