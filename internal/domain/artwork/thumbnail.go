package artwork

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif" // GIF decoder
	"image/jpeg"
	_ "image/png" // PNG decoder
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // WebP decoder
)

// ThumbnailGenerator creates thumbnails from source images and caches them
// on disk by content key.
type ThumbnailGenerator struct {
	cacheDir string
}

// NewThumbnailGenerator creates a new thumbnail generator.
func NewThumbnailGenerator(cacheDir string) *ThumbnailGenerator {
	return &ThumbnailGenerator{
		cacheDir: cacheDir,
	}
}

// Path returns where the thumbnail for key and size is cached.
func (g *ThumbnailGenerator) Path(key string, size ThumbnailSize) string {
	return filepath.Join(g.cacheDir, "thumbs", fmt.Sprintf("%s_%d.jpg", key, size))
}

// Generate returns a JPEG thumbnail of src fitting within size. Images
// already smaller than size are re-encoded, not upscaled.
func (g *ThumbnailGenerator) Generate(src []byte, key string, size ThumbnailSize) ([]byte, error) {
	thumbPath := g.Path(key, size)
	if data, err := os.ReadFile(thumbPath); err == nil {
		return data, nil
	}

	img, format, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	log.Debug().
		Str("key", key).
		Str("format", format).
		Int("size", int(size)).
		Msg("Generating thumbnail")

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, g.resize(img, int(size)), &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}

	if err := g.save(thumbPath, buf.Bytes()); err != nil {
		log.Warn().Err(err).Str("path", thumbPath).Msg("Failed to cache thumbnail")
	}
	return buf.Bytes(), nil
}

func (g *ThumbnailGenerator) save(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create thumbnail directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// resize scales an image to fit within the given size while maintaining aspect ratio.
func (g *ThumbnailGenerator) resize(src image.Image, maxSize int) image.Image {
	bounds := src.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()
	if srcW <= maxSize && srcH <= maxSize {
		return src
	}

	var newW, newH int
	if srcW > srcH {
		newW = maxSize
		newH = max(1, int(float64(srcH)*float64(maxSize)/float64(srcW)))
	} else {
		newH = maxSize
		newW = max(1, int(float64(srcW)*float64(maxSize)/float64(srcH)))
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))

	// Scale using CatmullRom (high quality)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	return dst
}
