package main

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/edumarques81/stellar-localplayer/internal/domain/library"
	"github.com/edumarques81/stellar-localplayer/internal/domain/mirror"
	"github.com/edumarques81/stellar-localplayer/internal/infra/handles"
	"github.com/edumarques81/stellar-localplayer/internal/infra/remote"
	"github.com/edumarques81/stellar-localplayer/internal/infra/store"
	"github.com/edumarques81/stellar-localplayer/internal/transport/socketio"
)

type mockRemote struct {
	mu        sync.Mutex
	uploads   map[string][]byte
	uploadErr error
}

func (m *mockRemote) Upload(ctx context.Context, id, name, contentType string, data []byte) (*remote.UploadResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uploadErr != nil {
		return nil, m.uploadErr
	}
	if m.uploads == nil {
		m.uploads = make(map[string][]byte)
	}
	m.uploads[id] = data
	return &remote.UploadResult{Path: id, SignedURL: "https://cdn/" + id}, nil
}

func (m *mockRemote) SavePlaylist(ctx context.Context, p remote.Playlist) error { return nil }

func (m *mockRemote) LoadPlaylist(ctx context.Context) (*remote.Playlist, error) {
	return &remote.Playlist{}, nil
}

type part struct {
	name, contentType string
	data              []byte
}

func multipartBody(t *testing.T, parts ...part) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", `form-data; name="files"; filename="`+p.name+`"`)
		hdr.Set("Content-Type", p.contentType)
		w, err := mw.CreatePart(hdr)
		if err != nil {
			t.Fatalf("CreatePart failed: %v", err)
		}
		w.Write(p.data)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func newUploadHandler(t *testing.T, r mirror.Remote) (*uploadHandler, *library.Service, chan socketio.Toast, *int) {
	t.Helper()
	db := store.NewDB(filepath.Join(t.TempDir(), "library.db"))
	if err := db.Open(); err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	blobs := store.NewBlobs(db)
	lib := library.NewService(blobs, store.NewOrder(db), handles.NewRegistry("http://test/media", blobs))
	toasts := make(chan socketio.Toast, 4)
	refreshes := new(int)

	h := &uploadHandler{
		library: lib,
		mirror:  mirror.NewService(r),
		refresh: func(ctx context.Context) error {
			*refreshes++
			return nil
		},
		notify: func(t socketio.Toast) { toasts <- t },
	}
	return h, lib, toasts, refreshes
}

func TestUploadStoresTracks(t *testing.T) {
	h, lib, _, refreshes := newUploadHandler(t, nil)

	body, ct := multipartBody(t,
		part{"one.mp3", "audio/mpeg", []byte("first")},
		part{"two.bin", "application/octet-stream", []byte("second")},
	)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tracks", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp uploadResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(resp.Tracks) != 2 || resp.Tracks[0].Name != "one.mp3" || resp.Tracks[0].Type != "audio/mpeg" {
		t.Fatalf("Unexpected tracks: %+v", resp.Tracks)
	}
	if *refreshes != 1 {
		t.Errorf("Expected one playlist refresh, got %d", *refreshes)
	}

	mat, err := lib.Materialize(context.Background())
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	defer mat.Release()
	if ids := mat.IDs(); len(ids) != 2 || ids[0] != resp.Tracks[0].ID {
		t.Errorf("Expected upload order kept, got %v", ids)
	}
}

func TestUploadBacksUpToMirror(t *testing.T) {
	r := &mockRemote{}
	h, _, toasts, _ := newUploadHandler(t, r)

	body, ct := multipartBody(t, part{"one.mp3", "audio/mpeg", []byte("payload")})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tracks", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", rec.Code)
	}
	var resp uploadResponse
	json.NewDecoder(rec.Body).Decode(&resp)

	select {
	case toast := <-toasts:
		if toast.Type != "success" {
			t.Errorf("Expected success toast, got %+v", toast)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for backup")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if got := string(r.uploads[resp.Tracks[0].ID]); got != "payload" {
		t.Errorf("Expected payload uploaded under local id, got %q", got)
	}
}

func TestUploadBackupFailureKeepsLocal(t *testing.T) {
	r := &mockRemote{uploadErr: remote.ErrNotSignedIn}
	h, lib, toasts, _ := newUploadHandler(t, r)

	body, ct := multipartBody(t, part{"one.mp3", "audio/mpeg", []byte("x")})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tracks", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", rec.Code)
	}
	select {
	case toast := <-toasts:
		if toast.Type != "warning" {
			t.Errorf("Expected warning toast, got %+v", toast)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for backup")
	}

	mat, err := lib.Materialize(context.Background())
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	defer mat.Release()
	if mat.Len() != 1 {
		t.Errorf("Expected local track kept, got %d", mat.Len())
	}
}

func TestUploadRejectsBadRequests(t *testing.T) {
	h, _, _, _ := newUploadHandler(t, nil)

	tests := []struct {
		name   string
		method string
		build  func() (*bytes.Buffer, string)
		want   int
	}{
		{"wrong method", http.MethodGet, func() (*bytes.Buffer, string) { return &bytes.Buffer{}, "" }, http.StatusMethodNotAllowed},
		{"not multipart", http.MethodPost, func() (*bytes.Buffer, string) { return bytes.NewBufferString("{}"), "application/json" }, http.StatusBadRequest},
		{"no files", http.MethodPost, func() (*bytes.Buffer, string) { return multipartBody(t) }, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := tt.build()
			req := httptest.NewRequest(tt.method, "/api/v1/tracks", body)
			if ct != "" {
				req.Header.Set("Content-Type", ct)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestUploadStorageUnavailable(t *testing.T) {
	h, _, _, _ := newUploadHandler(t, nil)
	db := store.NewDB(filepath.Join(t.TempDir(), "closed.db"))
	h.library = library.NewService(store.NewBlobs(db), store.NewOrder(db), handles.NewRegistry("http://test/media", nil))

	body, ct := multipartBody(t, part{"one.mp3", "audio/mpeg", []byte("x")})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tracks", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rec.Code)
	}
}

func TestUploadType(t *testing.T) {
	tests := map[string]string{
		"audio/flac":               "audio/flac",
		"audio/mpeg; charset=x":    "audio/mpeg",
		"application/octet-stream": "",
		"":                         "",
	}
	for in, want := range tests {
		if got := uploadType(in); got != want {
			t.Errorf("uploadType(%q) = %q, want %q", in, got, want)
		}
	}
}
