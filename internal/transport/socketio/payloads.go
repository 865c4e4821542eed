package socketio

import (
	"github.com/edumarques81/stellar-localplayer/internal/domain/library"
	"github.com/edumarques81/stellar-localplayer/internal/domain/player"
)

// ArtPath is the HTTP prefix of the cover art endpoint.
const ArtPath = "/api/v1/art/"

// PlaylistItem is one row of the pushPlaylist payload.
type PlaylistItem struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Title     string `json:"title,omitempty"`
	Artist    string `json:"artist,omitempty"`
	Album     string `json:"album,omitempty"`
	Size      int64  `json:"size"`
	Type      string `json:"type"`
	CreatedAt int64  `json:"createdAt"` // Unix milliseconds
	URL       string `json:"url"`
	ArtURL    string `json:"artUrl,omitempty"` // Embedded cover, 404 when absent
	Remote    bool   `json:"remote"`
}

// Toast is a user-facing notification.
type Toast struct {
	Type    string `json:"type"` // success, warning, error
	Title   string `json:"title"`
	Message string `json:"message"`
}

func playlistItems(entries []library.Entry) []PlaylistItem {
	items := make([]PlaylistItem, 0, len(entries))
	for _, e := range entries {
		item := PlaylistItem{
			ID:     e.Track.ID,
			Name:   e.Track.DisplayName(),
			Title:  e.Track.Title,
			Artist: e.Track.Artist,
			Album:  e.Track.Album,
			Size:   e.Track.Size,
			Type:   e.Track.Type,
			URL:    e.Handle.URL(),
			Remote: e.Handle.IsRemote(),
		}
		if !item.Remote {
			item.ArtURL = ArtPath + e.Track.ID
		}
		if !e.Track.CreatedAt.IsZero() {
			item.CreatedAt = e.Track.CreatedAt.UnixMilli()
		}
		items = append(items, item)
	}
	return items
}

func conditionToast(c player.Condition) Toast {
	t := Toast{Type: "warning", Title: "Playback", Message: c.Message()}
	if c.Kind == player.ConditionDeviceError {
		t.Type = "error"
	}
	return t
}

// Clients send either a bare value or {"value": ...}.

func argValue(args []any, key string) (any, bool) {
	if len(args) == 0 || args[0] == nil {
		return nil, false
	}
	if m, ok := args[0].(map[string]any); ok {
		v, ok := m[key]
		return v, ok
	}
	return args[0], true
}

func argFloat(args []any, key string) (float64, bool) {
	v, ok := argValue(args, key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func argString(args []any, key string) (string, bool) {
	v, ok := argValue(args, key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

func argStrings(args []any, key string) ([]string, bool) {
	v, ok := argValue(args, key)
	if !ok {
		return nil, false
	}
	switch list := v.(type) {
	case []string:
		return list, true
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}
