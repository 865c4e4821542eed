// Package socketio provides the Socket.io server for client communication.
package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zishang520/socket.io/servers/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"

	"github.com/edumarques81/stellar-localplayer/internal/domain/library"
	"github.com/edumarques81/stellar-localplayer/internal/domain/mirror"
	"github.com/edumarques81/stellar-localplayer/internal/domain/player"
	"github.com/edumarques81/stellar-localplayer/internal/infra/remote"
)

const (
	// BroadcastWindow is the debounce window for state pushes.
	BroadcastWindow = 50 * time.Millisecond

	// BroadcastMaxWait bounds how stale a pushed position can get.
	BroadcastMaxWait = 250 * time.Millisecond

	requestTimeout = 30 * time.Second
)

// Server handles Socket.io connections and events.
type Server struct {
	io        *socket.Server
	library   *library.Service
	player    *player.Controller
	mirror    *mirror.Service
	debouncer *BroadcastDebouncer
	mu        sync.RWMutex
	clients   map[string]*socket.Socket
}

// NewServer creates a new Socket.io server. mirror may be disabled.
func NewServer(lib *library.Service, ctrl *player.Controller, mir *mirror.Service) (*Server, error) {
	if lib == nil || ctrl == nil {
		return nil, errors.New("library and player are required")
	}

	opts := socket.DefaultServerOptions()
	opts.SetPingTimeout(20 * time.Second)
	opts.SetPingInterval(25 * time.Second)
	opts.SetCors(&types.Cors{
		Origin:      "*",
		Credentials: true,
	})

	s := &Server{
		io:      socket.NewServer(nil, opts),
		library: lib,
		player:  ctrl,
		mirror:  mir,
		clients: make(map[string]*socket.Socket),
	}
	s.debouncer = NewBroadcastDebouncer(BroadcastWindow, BroadcastMaxWait, s.BroadcastState, s.BroadcastPlaylist)

	s.setupHandlers()

	return s, nil
}

// setupHandlers registers all Socket.io event handlers.
func (s *Server) setupHandlers() {
	s.io.On("connection", func(clients ...any) {
		client := clients[0].(*socket.Socket)
		clientID := string(client.Id())

		log.Info().Str("id", clientID).Msg("Client connected")

		s.mu.Lock()
		s.clients[clientID] = client
		s.mu.Unlock()

		// Send initial state after small delay
		go func() {
			time.Sleep(100 * time.Millisecond)
			s.pushPlaylist(client)
			s.pushState(client)
		}()

		client.On("disconnect", func(args ...any) {
			reason := ""
			if len(args) > 0 {
				if r, ok := args[0].(string); ok {
					reason = r
				}
			}
			log.Info().Str("id", clientID).Str("reason", reason).Msg("Client disconnected")

			s.mu.Lock()
			delete(s.clients, clientID)
			s.mu.Unlock()
		})

		client.On("getState", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("getState")
			s.pushState(client)
		})

		client.On("getPlaylist", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("getPlaylist")
			s.pushPlaylist(client)
		})

		// Transport events
		client.On("play", func(args ...any) {
			log.Debug().Str("id", clientID).Interface("data", args).Msg("play")
			if id, ok := argString(args, "id"); ok {
				s.logResult("PlayTrack", s.player.PlayTrack(id))
				return
			}
			s.logResult("Play", s.player.Play())
		})

		client.On("pause", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("pause")
			s.logResult("Pause", s.player.Pause())
		})

		client.On("toggle", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("toggle")
			s.logResult("TogglePlay", s.player.TogglePlay())
		})

		client.On("next", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("next")
			s.logResult("Next", s.player.Next())
		})

		client.On("prev", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("prev")
			s.logResult("Prev", s.player.Prev())
		})

		client.On("seek", func(args ...any) {
			if pos, ok := argFloat(args, "value"); ok {
				log.Debug().Str("id", clientID).Float64("pos", pos).Msg("seek")
				s.logResult("Seek", s.player.Seek(pos))
			}
		})

		client.On("volume", func(args ...any) {
			if vol, ok := argFloat(args, "value"); ok {
				log.Debug().Str("id", clientID).Float64("vol", vol).Msg("volume")
				s.logResult("SetVolume", s.player.SetVolume(vol))
			}
		})

		client.On("toggleLoop", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("toggleLoop")
			s.logResult("ToggleLoop", s.player.ToggleLoop())
		})

		client.On("selectTrack", func(args ...any) {
			if id, ok := argString(args, "id"); ok {
				log.Debug().Str("id", clientID).Str("track", id).Msg("selectTrack")
				s.logResult("SelectTrack", s.player.SelectTrack(id))
			}
		})

		client.On("resetPlayer", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("resetPlayer")
			s.logResult("Reset", s.player.Reset())
		})

		// Library events
		client.On("deleteTrack", func(args ...any) {
			id, ok := argString(args, "id")
			if !ok {
				return
			}
			log.Debug().Str("id", clientID).Str("track", id).Msg("deleteTrack")
			s.mutate(client, "Delete failed", func(ctx context.Context) error {
				return s.library.DeleteTrack(ctx, id)
			})
		})

		client.On("reorder", func(args ...any) {
			ids, ok := argStrings(args, "ids")
			if !ok {
				return
			}
			log.Debug().Str("id", clientID).Int("count", len(ids)).Msg("reorder")
			s.mutate(client, "Reorder failed", func(ctx context.Context) error {
				return s.library.Reorder(ctx, ids)
			})
		})

		client.On("clearLibrary", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("clearLibrary")
			s.mutate(client, "Clear failed", s.library.Clear)
		})

		client.On("restoreRemote", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("restoreRemote")
			go s.restoreRemote(client)
		})
	})
}

// mutate applies a library change, then re-materializes the playlist.
func (s *Server) mutate(client *socket.Socket, title string, fn func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			log.Error().Err(err).Msg(title)
			client.Emit("pushToast", Toast{Type: "error", Title: title, Message: err.Error()})
			return
		}
		if err := s.Refresh(ctx); err != nil {
			client.Emit("pushToast", Toast{Type: "error", Title: "Library unavailable", Message: err.Error()})
		}
	}()
}

func (s *Server) restoreRemote(client *socket.Socket) {
	if !s.mirror.Enabled() {
		client.Emit("pushToast", Toast{Type: "warning", Title: "Remote", Message: "Remote mirror is not configured"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	mat, err := s.mirror.Restore(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Remote restore failed")
		msg := "Remote service is unavailable"
		if errors.Is(err, remote.ErrNotSignedIn) {
			msg = "Sign in to restore your playlist"
		}
		client.Emit("pushToast", Toast{Type: "error", Title: "Remote", Message: msg})
		return
	}

	if err := s.player.SetPlaylist(mat); err != nil {
		mat.Release()
		log.Error().Err(err).Msg("Failed to install restored playlist")
		return
	}
	s.debouncer.Trigger(TopicPlaylist)
	client.Emit("pushToast", Toast{
		Type:    "success",
		Title:   "Remote",
		Message: fmt.Sprintf("Restored %d tracks", mat.Len()),
	})
}

// Refresh re-materializes the library into the controller and schedules a
// playlist broadcast.
func (s *Server) Refresh(ctx context.Context) error {
	mat, err := s.library.Materialize(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to materialize library")
		return err
	}
	if err := s.player.SetPlaylist(mat); err != nil {
		mat.Release()
		return err
	}
	s.debouncer.Trigger(TopicPlaylist)
	return nil
}

func (s *Server) logResult(op string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, player.ErrPlaybackRejected):
		// Reported to clients through the condition toast.
		log.Debug().Err(err).Str("op", op).Msg("Playback rejected")
	default:
		log.Error().Err(err).Str("op", op).Msg("Player command failed")
	}
}

// pushState sends current state to a client.
func (s *Server) pushState(client *socket.Socket) {
	client.Emit("pushState", s.player.Snapshot())
}

// pushPlaylist sends the current playlist to a client.
func (s *Server) pushPlaylist(client *socket.Socket) {
	client.Emit("pushPlaylist", playlistItems(s.player.Playlist()))
}

// OnSnapshot schedules a state broadcast. Register it as the controller listener.
func (s *Server) OnSnapshot(player.Snapshot) {
	s.debouncer.Trigger(TopicState)
}

// OnCondition forwards a playback condition to every client.
func (s *Server) OnCondition(c player.Condition) {
	s.Notify(conditionToast(c))
}

// Notify sends a toast to every client.
func (s *Server) Notify(t Toast) {
	s.io.Emit("pushToast", t)
}

// BroadcastState sends state to all connected clients.
func (s *Server) BroadcastState() {
	snap := s.player.Snapshot()
	s.io.Emit("pushState", snap)

	if log.Trace().Enabled() {
		data, _ := json.Marshal(snap)
		s.mu.RLock()
		clientCount := len(s.clients)
		s.mu.RUnlock()
		log.Trace().RawJSON("state", data).Int("clients", clientCount).Msg("Broadcast state")
	}
}

// BroadcastPlaylist sends the playlist to all connected clients.
func (s *Server) BroadcastPlaylist() {
	s.io.Emit("pushPlaylist", playlistItems(s.player.Playlist()))
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// ServeHTTP implements http.Handler for the Socket.io server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.io.ServeHandler(nil).ServeHTTP(w, r)
}

// Close closes the Socket.io server.
func (s *Server) Close() error {
	s.debouncer.Stop()
	s.io.Close(nil)
	return nil
}
