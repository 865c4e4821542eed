package socketio_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/edumarques81/stellar-localplayer/internal/domain/library"
	"github.com/edumarques81/stellar-localplayer/internal/domain/mirror"
	"github.com/edumarques81/stellar-localplayer/internal/domain/player"
	"github.com/edumarques81/stellar-localplayer/internal/infra/handles"
	"github.com/edumarques81/stellar-localplayer/internal/infra/store"
	"github.com/edumarques81/stellar-localplayer/internal/transport/socketio"
)

type nopDevice struct{}

func (nopDevice) Load(gen uint64, url string) error { return nil }
func (nopDevice) Play() error                       { return nil }
func (nopDevice) Pause() error                      { return nil }
func (nopDevice) Stop() error                       { return nil }
func (nopDevice) Seek(seconds float64) error        { return nil }
func (nopDevice) SetVolume(volume float64) error    { return nil }

type deps struct {
	library *library.Service
	player  *player.Controller
	reg     *handles.Registry
}

func newDeps(t *testing.T) deps {
	t.Helper()
	db := store.NewDB(filepath.Join(t.TempDir(), "library.db"))
	if err := db.Open(); err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	blobs := store.NewBlobs(db)
	reg := handles.NewRegistry("http://127.0.0.1:3002/media", blobs)
	lib := library.NewService(blobs, store.NewOrder(db), reg)
	ctrl := player.NewController(nopDevice{}, store.NewSessions(db))
	t.Cleanup(func() { ctrl.Close() })

	return deps{library: lib, player: ctrl, reg: reg}
}

func TestNewServer(t *testing.T) {
	d := newDeps(t)

	server, err := socketio.NewServer(d.library, d.player, mirror.NewService(nil))
	if err != nil {
		t.Errorf("NewServer should not return error: %v", err)
	}
	if server == nil {
		t.Fatal("NewServer should return a non-nil server")
	}
	if err := server.Close(); err != nil {
		t.Errorf("Close should not error: %v", err)
	}
}

func TestNewServerRequiresDependencies(t *testing.T) {
	if _, err := socketio.NewServer(nil, nil, nil); err == nil {
		t.Error("Expected error for missing dependencies")
	}
}

func TestServerBroadcastWithoutClients(t *testing.T) {
	d := newDeps(t)

	server, err := socketio.NewServer(d.library, d.player, nil)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	defer server.Close()

	// Smoke test: no clients connected
	server.BroadcastState()
	server.BroadcastPlaylist()
	server.Notify(socketio.Toast{Type: "success", Title: "t", Message: "m"})
	server.OnSnapshot(d.player.Snapshot())
	server.OnCondition(player.Condition{Kind: player.ConditionPlaybackRejected})

	if server.ClientCount() != 0 {
		t.Errorf("Expected 0 clients, got %d", server.ClientCount())
	}
}

func TestServerRefreshInstallsLibrary(t *testing.T) {
	d := newDeps(t)
	ctx := context.Background()

	server, err := socketio.NewServer(d.library, d.player, nil)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	defer server.Close()

	if _, err := d.library.AddFiles(ctx, []library.File{
		{Name: "one.mp3", Type: "audio/mpeg", Data: []byte("one")},
		{Name: "two.mp3", Type: "audio/mpeg", Data: []byte("two")},
	}); err != nil {
		t.Fatalf("AddFiles failed: %v", err)
	}

	if err := server.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	entries := d.player.Playlist()
	if len(entries) != 2 || entries[0].Track.Name != "one.mp3" {
		t.Fatalf("Expected library installed in player, got %d entries", len(entries))
	}

	// Refreshing again swaps materializations without leaking handles.
	if err := server.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if live := d.reg.Live(); live != 2 {
		t.Errorf("Expected 2 live handles after second refresh, got %d", live)
	}
}
