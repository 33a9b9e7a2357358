package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/vmunix/bookarr/internal/backend"
	"github.com/vmunix/bookarr/internal/catalog"
	"github.com/vmunix/bookarr/internal/config"
	"github.com/vmunix/bookarr/internal/migrations"
	"github.com/vmunix/bookarr/internal/processor"
)

// loadConfig resolves the --config flag or falls back to discovery.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		discovered, err := config.Discover()
		if err != nil {
			return nil, err
		}
		path = discovered
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// openStore opens the catalog database and applies the schema.
func openStore(cfg *config.Config) (*catalog.Store, func(), error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
		return nil, nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec(migrations.InitialSQL); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return catalog.NewStore(db), func() { _ = db.Close() }, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Server.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// buildRegistry wires the configured download clients.
func buildRegistry(cfg *config.Config, log *slog.Logger) *backend.Registry {
	registry := backend.NewRegistry()
	if b := cfg.Backends.SABnzbd; b != nil {
		registry.Register(backend.NewSABnzbdClient("sabnzbd", b.URL, b.APIKey, log))
	}
	if b := cfg.Backends.QBittorrent; b != nil {
		registry.Register(backend.NewQBittorrentClient("qbittorrent", b.URL, b.Username, b.Password, log))
	}
	if b := cfg.Backends.Direct; b != nil {
		registry.Register(backend.NewDirectBackend("direct", b.Dir))
	}
	return registry
}

// buildOptions maps the processing config onto processor options.
func buildOptions(cfg *config.Config) (processor.Options, error) {
	kinds := make(map[catalog.Kind]processor.KindRules, len(cfg.Kinds))
	for name, k := range cfg.Kinds {
		limits, err := k.Limits()
		if err != nil {
			return processor.Options{}, fmt.Errorf("kinds.%s: %w", name, err)
		}
		kinds[catalog.Kind(name)] = processor.KindRules{
			FileTypes: k.FileTypes,
			Limits:    limits,
		}
	}

	libraries := make(map[catalog.Kind]processor.Library)
	for kind, lib := range map[catalog.Kind]config.LibraryConfig{
		catalog.KindEbook:     cfg.Libraries.Ebook,
		catalog.KindAudioBook: cfg.Libraries.Audiobook,
		catalog.KindMagazine:  cfg.Libraries.Magazine,
		catalog.KindComic:     cfg.Libraries.Comic,
	} {
		if lib.Root != "" {
			libraries[kind] = processor.Library{Root: lib.Root, Naming: lib.Naming}
		}
	}

	p := cfg.Processing
	return processor.Options{
		ScanDirs:        p.ScanDirs,
		SkipExts:        p.SkipExts,
		MatchRatio:      p.MatchRatio,
		Delay:           p.Delay.Duration,
		TaskAge:         p.TaskAge.Duration,
		NotFoundGrace:   p.NotFoundGrace.Duration,
		KeepSeeding:     p.KeepSeeding,
		SeedWait:        p.SeedWait.Duration,
		DelCompleted:    p.DelCompleted,
		DelFailed:       p.DelFailed,
		DestinationCopy: p.DestinationCopy,
		OneFormat:       p.OneFormat,
		Libraries:       libraries,
		Kinds:           kinds,
	}, nil
}
