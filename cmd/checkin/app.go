package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/extinguish558/jci-checkin-system-sub000/internal/config"
	"github.com/extinguish558/jci-checkin-system-sub000/internal/models"
	"github.com/extinguish558/jci-checkin-system-sub000/internal/registry"
	"github.com/extinguish558/jci-checkin-system-sub000/internal/remote"
	"github.com/extinguish558/jci-checkin-system-sub000/internal/storage"
	"github.com/extinguish558/jci-checkin-system-sub000/internal/syncer"
)

// app is the wired set of components shared by every subcommand.
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	reg     *registry.Registry
	remote  *remote.RedisStore
	adapter *syncer.Adapter
	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(cfg.LogLevel).
		With().Timestamp().Logger()

	a := &app{cfg: cfg, log: log}

	persister, err := a.openPersister()
	if err != nil {
		return nil, err
	}

	norm, err := registry.NewNormalizer(cfg.RulesFile)
	if err != nil {
		a.Close()
		return nil, err
	}

	opts := registry.Options{
		Persister:  persister,
		Normalizer: norm,
		Logger:     log,
	}

	if cfg.RedisURL != "" {
		store, err := remote.NewRedisStore(cfg.RedisURL, cfg.RedisPrefix)
		if err != nil {
			// Local-first: the event keeps running without the remote store.
			log.Warn().Err(err).Msg("Remote store unavailable, running local-only")
		} else {
			a.remote = store
			a.closers = append(a.closers, store.Close)
			a.adapter = syncer.NewAdapter(store, syncer.Config{WriteTimeout: cfg.WriteTimeout}, log)
			opts.Publisher = a.adapter
		}
	}

	a.reg = registry.New(opts)
	if err := a.reg.Load(ctx); err != nil {
		a.Close()
		return nil, err
	}

	if a.remote != nil {
		snap, err := a.remote.Snapshot(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Initial remote snapshot failed, using local mirror")
		} else {
			a.reg.ApplySnapshot(snap)
		}
	}

	if cfg.EventName != "" && a.reg.Settings().EventName == "" {
		name := cfg.EventName
		if _, err := a.reg.UpdateSettings(models.SettingsPatch{EventName: &name}); err != nil {
			log.Warn().Err(err).Msg("Failed to apply configured event name")
		}
	}
	return a, nil
}

func (a *app) openPersister() (registry.Persister, error) {
	switch a.cfg.Storage {
	case "file":
		s, err := storage.NewFileStore(a.cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		return s, nil
	case "sqlite", "":
		if err := os.MkdirAll(a.cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		s, err := storage.OpenSQLite(filepath.Join(a.cfg.DataDir, "checkin.db"))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", a.cfg.Storage)
	}
}

// Close flushes outbound writes and releases resources.
func (a *app) Close() {
	if a.adapter != nil {
		a.adapter.Flush()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn().Err(err).Msg("Error during shutdown")
		}
	}
}
