package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/vmunix/bookarr/internal/backend"
	"github.com/vmunix/bookarr/internal/calibre"
	"github.com/vmunix/bookarr/internal/catalog"
	"github.com/vmunix/bookarr/internal/config"
	"github.com/vmunix/bookarr/internal/migrations"
	"github.com/vmunix/bookarr/internal/notify"
	"github.com/vmunix/bookarr/internal/processor"
)

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runDaemon(configPath string) error {
	if configPath == "" {
		discovered, err := config.Discover()
		if err != nil {
			return err
		}
		configPath = discovered
	}

	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}

	// Create logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))

	// One daemon per database
	if err := os.MkdirAll(filepath.Dir(cfg.Server.LockFile), 0755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	lock := flock.New(cfg.Server.LockFile)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another bookarrd instance holds %s", cfg.Server.LockFile)
	}
	defer func() { _ = lock.Unlock() }()

	// Ensure database directory exists
	dbDir := filepath.Dir(cfg.Database.Path)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return fmt.Errorf("create db dir: %w", err)
	}

	// Open database
	db, err := sql.Open("sqlite", cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer func() { _ = db.Close() }()

	// Run migrations
	if _, err := db.Exec(migrations.InitialSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	store := catalog.NewStore(db)
	registry := buildRegistry(cfg, logger)
	opts, err := buildOptions(cfg)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	var cal *calibre.Importer
	if cfg.Calibre.Binary != "" {
		cal = calibre.NewImporter(cfg.Calibre.Binary, cfg.Calibre.Library, logger)
	}
	notifier := notify.NewNotifier(notify.NewLogSink(logger))

	proc := processor.New(store, registry, cal, notifier, opts, logger)

	logger.Info("daemon starting",
		"version", version,
		"database", cfg.Database.Path,
		"backends", registry.Names(),
		"scan_dirs", cfg.Processing.ScanDirs,
		"poll_interval", cfg.Processing.PollInterval.Duration,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runPoller(ctx, proc, cfg.Processing.PollInterval.Duration, logger.With("component", "poller"))
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("daemon stopped")
	return nil
}

// runPoller runs a processing pass every interval until ctx is done.
func runPoller(ctx context.Context, proc *processor.Processor, interval time.Duration, log *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("poller started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			log.Info("poller stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := proc.Run(ctx, processor.Request{}); err != nil {
				switch {
				case errors.Is(err, processor.ErrNothingToDo):
					log.Debug("nothing to process")
				case errors.Is(err, context.Canceled):
				default:
					log.Error("processing pass failed", "error", err)
				}
			}
		}
	}
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
