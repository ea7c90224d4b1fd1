// Comfort Companion - voice companion process
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ashureev/comfort-companion/internal/archive"
	"github.com/ashureev/comfort-companion/internal/audio"
	"github.com/ashureev/comfort-companion/internal/capture"
	"github.com/ashureev/comfort-companion/internal/companion"
	"github.com/ashureev/comfort-companion/internal/config"
	"github.com/ashureev/comfort-companion/internal/domain"
	"github.com/ashureev/comfort-companion/internal/playback"
	"github.com/ashureev/comfort-companion/internal/sessionstate"
	"github.com/ashureev/comfort-companion/internal/store"
	"github.com/ashureev/comfort-companion/internal/transport"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidateCompanion(); err != nil {
		slog.Error("Invalid companion configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	kv, err := store.NewSQLite(cfg.DBPath, cfg.StoreQuotaBytes)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := kv.Close(); closeErr != nil {
			slog.Error("Failed to close store", "error", closeErr)
		}
	}()

	state := sessionstate.New(kv, logger)

	if cfg.Companion.ArchiveDir != "" {
		arc, err := archive.New(archive.Config{
			Dir:       cfg.Companion.ArchiveDir,
			QueueSize: cfg.Companion.ArchiveQueueSize,
		}, logger)
		if err != nil {
			slog.Error("Failed to initialize transcript archive", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := arc.Close(); closeErr != nil {
				slog.Error("Failed to close transcript archive", "error", closeErr)
			}
			slog.Info("Transcript archive closed", "stats", arc.Stats())
		}()
		state.OnTranscriptAppend(arc.Record)
		slog.Info("Transcript archive enabled", "dir", cfg.Companion.ArchiveDir)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Companion.PersonaPath != "" {
		persona, err := config.LoadPersona(cfg.Companion.PersonaPath)
		if err != nil {
			slog.Error("Failed to load companion persona", "error", err)
			os.Exit(1)
		}
		seeded, err := state.SeedCompanionConfig(ctx, persona)
		if err != nil && !errors.Is(err, sessionstate.ErrNotPersisted) {
			slog.Error("Failed to seed companion persona", "error", err)
			os.Exit(1)
		}
		slog.Info("Companion persona loaded", "path", cfg.Companion.PersonaPath, "seeded", seeded)
	}

	mode, err := capture.ParseMode(cfg.Companion.CaptureMode)
	if err != nil {
		slog.Error("Invalid capture mode", "error", err)
		os.Exit(1)
	}

	mic := &audio.FFmpegMicrophone{
		Path:    cfg.Companion.FFmpegPath,
		Device:  cfg.Companion.MicDevice,
		Command: cfg.Companion.MicCommand,
		Logger:  logger,
	}
	var player playback.Player = &audio.FFPlayPlayer{
		Path:   cfg.Companion.FFplayPath,
		Volume: cfg.Companion.SpeakerVolume,
	}
	if cfg.Companion.NoSpeaker {
		player = audio.SilentPlayer{}
	}

	ctrl := companion.NewController(state, mic, player, companion.Config{
		CaptureMode: mode,
		Capture: capture.Config{
			ChunkInterval: cfg.Companion.ChunkInterval,
			BoundedWindow: cfg.Companion.BoundedWindow,
		},
		GreetingDelay:        cfg.Companion.GreetingDelay,
		SettleDelay:          cfg.Companion.SettleDelay,
		PermissionRetryDelay: cfg.Companion.PermissionRetryDelay,
		ThinkingTimeout:      cfg.Companion.ThinkingTimeout,
		PollInterval:         cfg.PollInterval,
	}, logger)
	ctrl.Subscribe(func(st domain.StatusSnapshot) {
		slog.Debug("Companion status", "turn", st.Turn, "listening", st.Listening, "speaking", st.Speaking, "safety", st.Safety)
	})

	backendURL := cfg.Companion.BackendURL
	dial := func(ctx context.Context) (companion.Transport, error) {
		return transport.Dial(ctx, backendURL, &transport.Options{Logger: logger})
	}
	sup := companion.NewSupervisor(state, ctrl, dial, cfg.PollInterval, cfg.Companion.ReconnectDelay, logger)

	slog.Info("Starting companion",
		"backend", backendURL,
		"capture_mode", mode.String(),
		"speaker", !cfg.Companion.NoSpeaker,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sup.Run(gctx)
	})
	g.Go(func() error {
		err := state.Watch(gctx, cfg.PollInterval, func(snap sessionstate.Snapshot) {
			slog.Info("Session state changed", "active", snap.Active, "safety", snap.Safety, "kill_switch", snap.KillSwitch)
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if err := g.Wait(); err != nil {
		slog.Error("Companion stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Companion stopped")
}
