package speaker

import (
	"bytes"
	"fmt"
	"mime"

	"github.com/faiface/beep"
	"github.com/faiface/beep/flac"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/wav"
)

// seekCloser keeps the bytes.Reader's Seek visible to decoders that type
// assert on it.
type seekCloser struct {
	*bytes.Reader
}

func (seekCloser) Close() error { return nil }

type codec int

const (
	codecUnknown codec = iota
	codecMP3
	codecWAV
	codecFLAC
)

// Decode decodes an in-memory payload. contentType picks the codec; when it
// is missing or unrecognized the payload's magic bytes decide.
func Decode(data []byte, contentType string) (beep.StreamSeekCloser, beep.Format, error) {
	c := codecForType(contentType)
	if c == codecUnknown {
		c = sniff(data)
	}

	var (
		stream beep.StreamSeekCloser
		format beep.Format
		err    error
	)
	switch c {
	case codecMP3:
		stream, format, err = mp3.Decode(seekCloser{bytes.NewReader(data)})
	case codecWAV:
		stream, format, err = wav.Decode(bytes.NewReader(data))
	case codecFLAC:
		stream, format, err = flac.Decode(bytes.NewReader(data))
	default:
		return nil, beep.Format{}, fmt.Errorf("unsupported audio format %q", contentType)
	}
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("failed to decode audio: %w", err)
	}
	return stream, format, nil
}

func codecForType(contentType string) codec {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return codecUnknown
	}
	switch mediaType {
	case "audio/mpeg", "audio/mp3":
		return codecMP3
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		return codecWAV
	case "audio/flac", "audio/x-flac":
		return codecFLAC
	default:
		return codecUnknown
	}
}

func sniff(data []byte) codec {
	switch {
	case bytes.HasPrefix(data, []byte("fLaC")):
		return codecFLAC
	case len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) && string(data[8:12]) == "WAVE":
		return codecWAV
	case bytes.HasPrefix(data, []byte("ID3")):
		return codecMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return codecMP3
	default:
		return codecUnknown
	}
}
