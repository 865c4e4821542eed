// Package main is the entry point for the Stellar Local player backend.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-localplayer/internal/domain/artwork"
	"github.com/edumarques81/stellar-localplayer/internal/domain/library"
	"github.com/edumarques81/stellar-localplayer/internal/domain/mirror"
	"github.com/edumarques81/stellar-localplayer/internal/domain/player"
	"github.com/edumarques81/stellar-localplayer/internal/infra/handles"
	"github.com/edumarques81/stellar-localplayer/internal/infra/mpd"
	"github.com/edumarques81/stellar-localplayer/internal/infra/remote"
	"github.com/edumarques81/stellar-localplayer/internal/infra/speaker"
	"github.com/edumarques81/stellar-localplayer/internal/infra/store"
	"github.com/edumarques81/stellar-localplayer/internal/transport/socketio"
	"github.com/edumarques81/stellar-localplayer/internal/version"
)

// playbackDevice is a player.Device that reports events on a channel.
type playbackDevice interface {
	player.Device
	Events() <-chan player.Event
}

type deviceConfig struct {
	kind        string
	mpdHost     string
	mpdPort     int
	mpdPassword string
}

func main() {
	// Command line flags
	port := flag.String("port", "3002", "HTTP server port")
	dbPath := flag.String("db", store.DefaultDBPath, "Library database path")
	deviceKind := flag.String("device", "mpd", "Playback device: mpd or speaker")
	mpdHost := flag.String("mpd-host", "localhost", "MPD host")
	mpdPort := flag.Int("mpd-port", 6600, "MPD port")
	mpdPassword := flag.String("mpd-password", "", "MPD password")
	publicURL := flag.String("public-url", "", "Base URL the playback device uses to reach this server (default http://127.0.0.1:<port>)")
	remoteURL := flag.String("remote-url", "", "Remote mirror base URL (optional)")
	remoteToken := flag.String("remote-token", "", "Remote mirror bearer token")
	cacheDir := flag.String("cache-dir", "", "Thumbnail cache directory (default next to the database)")
	maxUploadMB := flag.Int64("max-upload-mb", 1024, "Maximum upload request size in MiB")
	staticDir := flag.String("static", "", "Directory to serve static files from (optional)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if *publicURL == "" {
		*publicURL = "http://127.0.0.1:" + *port
	}
	*publicURL = strings.TrimRight(*publicURL, "/")
	if *cacheDir == "" {
		*cacheDir = filepath.Join(filepath.Dir(*dbPath), "cache")
	}

	// Print startup banner
	versionInfo := version.GetInfo()
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().Msgf("  %s", versionInfo.String())
	log.Info().Msg("  Local Track Player Backend")
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().
		Str("port", *port).
		Str("db", *dbPath).
		Str("device", *deviceKind).
		Str("public_url", *publicURL).
		Bool("remote", *remoteURL != "").
		Msg("Configuration")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open storage
	db := store.NewDB(*dbPath)
	if err := db.Open(); err != nil {
		log.Fatal().Err(err).Msg("Failed to open library database")
	}
	defer db.Close()
	schema, _ := db.SchemaVersion()

	blobs := store.NewBlobs(db)
	registry := handles.NewRegistry(*publicURL+"/media", blobs)
	lib := library.NewService(blobs, store.NewOrder(db), registry)

	// Open the playback device
	device, health, closeDevice, err := openDevice(ctx, deviceConfig{
		kind:        *deviceKind,
		mpdHost:     *mpdHost,
		mpdPort:     *mpdPort,
		mpdPassword: *mpdPassword,
	})
	if err != nil {
		log.Fatal().Err(err).Str("device", *deviceKind).Msg("Failed to open playback device")
	}
	defer closeDevice()

	// Remote mirror is optional
	var mirrorRemote mirror.Remote
	if *remoteURL != "" {
		mirrorRemote = remote.NewClient(*remoteURL, remote.StaticToken(*remoteToken))
	}
	mir := mirror.NewService(mirrorRemote)

	// The controller reports through the server, which is created next and
	// before any controller call.
	var socketServer *socketio.Server
	ctrl := player.NewController(device, store.NewSessions(db),
		player.WithListener(func(s player.Snapshot) { socketServer.OnSnapshot(s) }),
		player.WithConditionHandler(func(c player.Condition) { socketServer.OnCondition(c) }),
	)
	defer ctrl.Close()

	socketServer, err = socketio.NewServer(lib, ctrl, mir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Socket.io server")
	}
	defer socketServer.Close()

	// Load the startup playlist
	mat, err := lib.Materialize(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load library, starting empty")
		mat = library.NewMaterialization(nil)
	}

	// Setup HTTP server
	mux := http.NewServeMux()

	// Socket.io endpoint
	mux.Handle("/socket.io/", socketServer)

	// Track payloads for the playback device
	mux.Handle("/media/", registry)

	// Upload endpoint
	mux.Handle("/api/v1/tracks", &uploadHandler{
		library:  lib,
		mirror:   mir,
		refresh:  socketServer.Refresh,
		notify:   socketServer.Notify,
		maxBytes: *maxUploadMB << 20,
	})

	// Embedded cover art
	mux.Handle("/api/v1/art/", artwork.NewResolver(blobs, artwork.NewThumbnailGenerator(*cacheDir)))

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		status := map[string]any{
			"status":  "ok",
			"device":  *deviceKind,
			"clients": socketServer.ClientCount(),
			"handles": registry.Live(),
		}
		code := http.StatusOK
		if count, err := blobs.Count(r.Context()); err != nil {
			status["status"] = "error"
			status["storage"] = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			status["tracks"] = count
		}
		if err := health(); err != nil {
			status["status"] = "error"
			status["deviceError"] = err.Error()
			code = http.StatusServiceUnavailable
		}
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(status)
	})

	// Version endpoint
	mux.HandleFunc("/api/v1/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(version.GetInfo().WithSchema(schema))
	})

	// Serve static files if directory specified (SPA mode)
	if *staticDir != "" {
		log.Info().Str("dir", *staticDir).Msg("Serving static files")
		fs := http.FileServer(http.Dir(*staticDir))
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			path := *staticDir + r.URL.Path
			if r.URL.Path == "/" {
				path = *staticDir + "/index.html"
			}
			if _, err := os.Stat(path); os.IsNotExist(err) {
				// For SPA routing, serve index.html for non-existing paths
				http.ServeFile(w, r, *staticDir+"/index.html")
				return
			}
			fs.ServeHTTP(w, r)
		})
	}

	// No write timeout: media responses stream for the length of a track.
	server := &http.Server{
		Addr:        ":" + *port,
		Handler:     corsMiddleware(mux),
		ReadTimeout: 5 * time.Minute,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Info().Msg("Shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", server.Addr).Msg("Failed to listen")
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("HTTP server listening")

	// Hydrate only once /media is reachable: it loads the restored track.
	served, err := serve(server, ln, func() error {
		if err := ctrl.Hydrate(ctx, mat); err != nil {
			return err
		}
		go ctrl.Run(ctx, device.Events())
		return nil
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hydrate player")
	}

	if err := <-served; err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("HTTP server error")
	}

	log.Info().Msg("Server stopped")
}

// openDevice connects the configured playback device and starts its event
// loop. It returns a health probe and a close function.
func openDevice(ctx context.Context, cfg deviceConfig) (playbackDevice, func() error, func(), error) {
	switch cfg.kind {
	case "mpd":
		client := mpd.NewClient(cfg.mpdHost, cfg.mpdPort, cfg.mpdPassword)
		if err := client.Connect(); err != nil {
			return nil, nil, nil, err
		}
		if err := client.Ping(); err != nil {
			client.Close()
			return nil, nil, nil, err
		}
		log.Info().Msg("MPD connection verified")

		// The controller owns sequencing; MPD plays one track at a time.
		if err := client.ResetModes(); err != nil {
			log.Warn().Err(err).Msg("Failed to reset MPD playback modes")
		}

		changes, err := client.Watch("player", "mixer")
		if err != nil {
			log.Warn().Err(err).Msg("MPD watcher unavailable, polling only")
			changes = nil
		}

		dev := mpd.NewDevice(client)
		go dev.Run(ctx, changes)
		return dev, client.Ping, func() { client.Close() }, nil

	case "speaker":
		out, err := speaker.InitSpeaker(speaker.DefaultSampleRate)
		if err != nil {
			return nil, nil, nil, err
		}
		dev := speaker.NewDevice(out, speaker.DefaultSampleRate)
		go dev.Run(ctx)
		return dev, func() error { return nil }, func() { dev.Close() }, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown device %q", cfg.kind)
}
