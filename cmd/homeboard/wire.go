package main

import (
	"context"
	"fmt"
	"log"
	"strings"

	"homeboard/internal/app"
	"homeboard/internal/backend"
	"homeboard/internal/config"
	"homeboard/internal/intake"
	"homeboard/internal/playback"
	"homeboard/internal/search"
	"homeboard/internal/session"
	"homeboard/internal/store"
)

// daemon is an assembled service plus the resources it holds open.
type daemon struct {
	cfg     config.Config
	service *app.Service
	closers []func()
}

func (d *daemon) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

// assemble connects the local stores and optional services. ctx bounds the
// daemon: playbacks and the scheduler stop when it is cancelled.
func assemble(ctx context.Context) (*daemon, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, err
	}
	d := &daemon{cfg: cfg}

	state, err := session.NewRedisStore(cfg.RedisURL, cfg.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	d.closers = append(d.closers, func() { _ = state.Close() })

	credential, err := session.OpenCredential(ctx, state)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("load credential: %w", err)
	}

	deps := app.Deps{
		Backend:    backend.New(cfg.BackendURL, cfg.BackendTimeout, credential),
		State:      state,
		Credential: credential,
		Ambient: &playback.ExecAmbient{
			Command: cfg.AudioCommand,
			Track:   cfg.AmbientTrack,
			Socket:  cfg.AmbientSocket,
		},
		Player:  playback.ExecPlayer{Command: cfg.AudioCommand},
		Speaker: playback.ExecSpeaker{Command: cfg.SpeechCommand},
	}

	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		d.closers = append(d.closers, func() { _ = db.Close() })
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			d.Close()
			return nil, fmt.Errorf("migrations failed: %w", err)
		}
		deps.Runs = store.NewRunStore(db)
	} else {
		log.Printf("briefing history disabled (DATABASE_URL not set)")
	}

	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		d.closers = append(d.closers, meili.Close)
		deps.Index = meili
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		archive, err := intake.NewMinioArchive(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Printf("WARNING: document archive unavailable: %v", err)
		} else {
			deps.Archive = archive
		}
	}

	d.service = app.New(ctx, cfg, deps)
	d.closers = append(d.closers, d.service.Wait)
	return d, nil
}
