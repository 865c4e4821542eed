package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-localplayer/internal/domain/library"
	"github.com/edumarques81/stellar-localplayer/internal/domain/mirror"
	"github.com/edumarques81/stellar-localplayer/internal/transport/socketio"
)

const (
	uploadField     = "files"
	uploadMemory    = 32 << 20
	backupTimeout   = 10 * time.Minute
	defaultMaxBytes = 1 << 30
)

// uploadHandler ingests multipart uploads into the library, installs the new
// playlist and starts a remote backup when a mirror is configured.
type uploadHandler struct {
	library  *library.Service
	mirror   *mirror.Service
	refresh  func(ctx context.Context) error
	notify   func(socketio.Toast)
	maxBytes int64
}

type uploadResponse struct {
	Tracks []library.Track `json:"tracks"`
}

func (h *uploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	maxBytes := h.maxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(uploadMemory); err != nil {
		http.Error(w, "invalid multipart upload", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	files, err := readUploads(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(files) == 0 {
		http.Error(w, "no files in field "+uploadField, http.StatusBadRequest)
		return
	}

	tracks, err := h.library.AddFiles(r.Context(), files)
	if err != nil {
		log.Error().Err(err).Int("files", len(files)).Msg("Upload failed")
		status := http.StatusInternalServerError
		if errors.Is(err, library.ErrStorageUnavailable) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}

	if h.refresh != nil {
		if err := h.refresh(r.Context()); err != nil {
			log.Warn().Err(err).Msg("Playlist refresh after upload failed")
		}
	}
	if h.mirror.Enabled() {
		go h.backup(tracks, files)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(uploadResponse{Tracks: tracks})
}

// backup runs outside the request. Failures are reported, never rolled back.
func (h *uploadHandler) backup(tracks []library.Track, files []library.File) {
	ctx, cancel := context.WithTimeout(context.Background(), backupTimeout)
	defer cancel()

	withPayload := make([]library.Track, len(tracks))
	for i, t := range tracks {
		t.Payload = files[i].Data
		withPayload[i] = t
	}

	toast := socketio.Toast{Type: "success", Title: "Backup", Message: fmt.Sprintf("Backed up %d tracks", len(tracks))}
	if err := h.mirror.Backup(ctx, withPayload); err != nil {
		log.Warn().Err(err).Int("tracks", len(tracks)).Msg("Remote backup failed")
		toast = socketio.Toast{Type: "warning", Title: "Backup", Message: "Tracks saved locally, remote backup failed"}
	}
	if h.notify != nil {
		h.notify(toast)
	}
}

func readUploads(r *http.Request) ([]library.File, error) {
	headers := r.MultipartForm.File[uploadField]
	files := make([]library.File, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %q: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %q: %w", fh.Filename, err)
		}
		files = append(files, library.File{
			Name: fh.Filename,
			Type: uploadType(fh.Header.Get("Content-Type")),
			Data: data,
		})
	}
	return files, nil
}

// uploadType keeps a declared audio type. Generic types are dropped so the
// library can sniff the payload.
func uploadType(declared string) string {
	mt, _, err := mime.ParseMediaType(declared)
	if err != nil || mt == "application/octet-stream" {
		return ""
	}
	return mt
}
