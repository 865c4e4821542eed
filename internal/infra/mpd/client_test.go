package mpd_test

import (
	"testing"
	"time"

	"github.com/edumarques81/stellar-localplayer/internal/infra/mpd"
)

// Nothing listens on this port in the test environment.
const unusedPort = 16600

func TestNewClient(t *testing.T) {
	client := mpd.NewClient("localhost", 6600, "")

	if client == nil {
		t.Error("NewClient should return a non-nil client")
	}
}

func TestClientConnectFailure(t *testing.T) {
	client := mpd.NewClient("localhost", unusedPort, "")

	err := client.Connect()
	if err == nil {
		t.Error("Connect should fail for non-existent server")
		client.Close()
	}
}

func TestClientPingWithoutConnect(t *testing.T) {
	client := mpd.NewClient("localhost", unusedPort, "")

	err := client.Ping()
	if err == nil {
		t.Error("Ping should fail when not connected")
	}
}

func TestClientCommandsWithoutConnect(t *testing.T) {
	client := mpd.NewClient("localhost", unusedPort, "")

	tests := []struct {
		name string
		fn   func() error
	}{
		{"Status", func() error { _, err := client.Status(); return err }},
		{"Play", func() error { return client.Play(0) }},
		{"Pause", func() error { return client.Pause(true) }},
		{"Stop", func() error { return client.Stop() }},
		{"Seek", func() error { return client.Seek(time.Second) }},
		{"SetVolume", func() error { return client.SetVolume(50) }},
		{"ResetModes", func() error { return client.ResetModes() }},
		{"Replace", func() error { return client.Replace("http://localhost/media/x") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err == nil {
				t.Errorf("%s should fail when not connected", tt.name)
			}
		})
	}
}

func TestClientWatchWithoutConnect(t *testing.T) {
	client := mpd.NewClient("localhost", unusedPort, "")

	if _, err := client.Watch("player"); err == nil {
		t.Error("Watch should fail when server is unreachable")
	}
}

func TestClientCloseWithoutConnect(t *testing.T) {
	client := mpd.NewClient("localhost", unusedPort, "")

	if err := client.Close(); err != nil {
		t.Errorf("Close on unconnected client should succeed, got %v", err)
	}
}
