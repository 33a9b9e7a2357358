// Package config handles TOML configuration loading with environment variable substitution.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vmunix/bookarr/internal/filter"
)

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig          `toml:"server"`
	Database   DatabaseConfig        `toml:"database"`
	Processing ProcessingConfig      `toml:"processing"`
	Libraries  LibrariesConfig       `toml:"libraries"`
	Kinds      map[string]KindConfig `toml:"kinds"`
	Backends   BackendsConfig        `toml:"backends"`
	Calibre    CalibreConfig         `toml:"calibre"`
}

type ServerConfig struct {
	LogLevel string `toml:"log_level"`
	LockFile string `toml:"lock_file"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

// ProcessingConfig tunes the post-processing pass.
type ProcessingConfig struct {
	ScanDirs        []string `toml:"scan_dirs"`
	SkipExts        []string `toml:"skip_exts"` // incomplete-download markers, never imported
	PollInterval    duration `toml:"poll_interval"`
	MatchRatio      int      `toml:"match_ratio"`
	Delay           duration `toml:"delay"`     // wait after completion before import
	TaskAge         duration `toml:"task_age"`  // abort stalled tasks older than this
	NotFoundGrace   duration `toml:"not_found_grace"`
	KeepSeeding     bool     `toml:"keep_seeding"`
	SeedWait        duration `toml:"seed_wait"`
	DelCompleted    bool     `toml:"del_completed"`
	DelFailed       bool     `toml:"del_failed"`
	DestinationCopy bool     `toml:"destination_copy"` // copy, leaving payload in place for seeding
	OneFormat       bool     `toml:"one_format"`
}

type LibrariesConfig struct {
	Ebook     LibraryConfig `toml:"ebook"`
	Audiobook LibraryConfig `toml:"audiobook"`
	Magazine  LibraryConfig `toml:"magazine"`
	Comic     LibraryConfig `toml:"comic"`
}

type LibraryConfig struct {
	Root   string `toml:"root"`
	Naming string `toml:"naming"`
}

// KindConfig holds per-kind file acceptance and rejection rules.
type KindConfig struct {
	FileTypes   []string `toml:"file_types"`
	BannedExts  []string `toml:"banned_exts"`
	RejectWords []string `toml:"reject_words"`
	MinSize     string   `toml:"min_size"` // "10K", "2M", "1G"
	MaxSize     string   `toml:"max_size"`
}

// Limits converts the size strings into filter limits.
func (k KindConfig) Limits() (filter.Limits, error) {
	minSize, err := filter.ParseSize(k.MinSize)
	if err != nil {
		return filter.Limits{}, fmt.Errorf("min_size: %w", err)
	}
	maxSize, err := filter.ParseSize(k.MaxSize)
	if err != nil {
		return filter.Limits{}, fmt.Errorf("max_size: %w", err)
	}
	return filter.Limits{
		BannedExts:  k.BannedExts,
		RejectWords: k.RejectWords,
		MinSize:     minSize,
		MaxSize:     maxSize,
	}, nil
}

type BackendsConfig struct {
	SABnzbd     *SABnzbdConfig     `toml:"sabnzbd"`
	QBittorrent *QBittorrentConfig `toml:"qbittorrent"`
	Direct      *DirectConfig      `toml:"direct"`
}

type SABnzbdConfig struct {
	URL    string `toml:"url"`
	APIKey string `toml:"api_key"`
}

type QBittorrentConfig struct {
	URL      string `toml:"url"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

type DirectConfig struct {
	Dir string `toml:"dir"`
}

type CalibreConfig struct {
	Binary  string `toml:"binary"`
	Library string `toml:"library"`
}

// duration decodes TOML strings like "15m" or "24h".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// Substitute environment variables
	content := substituteEnvVars(string(data))

	var cfg Config
	if _, err := toml.Decode(content, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Apply defaults
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "info"
	}
	if cfg.Server.LockFile == "" {
		cfg.Server.LockFile = "./data/bookarr.lock"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/bookarr.db"
	}
	if cfg.Processing.PollInterval.Duration == 0 {
		cfg.Processing.PollInterval.Duration = 5 * time.Minute
	}
	if cfg.Processing.MatchRatio == 0 {
		cfg.Processing.MatchRatio = 85
	}
	if cfg.Processing.TaskAge.Duration == 0 {
		cfg.Processing.TaskAge.Duration = 24 * time.Hour
	}
	if cfg.Processing.NotFoundGrace.Duration == 0 {
		cfg.Processing.NotFoundGrace.Duration = 5 * time.Minute
	}
	if cfg.Kinds == nil {
		cfg.Kinds = make(map[string]KindConfig)
	}
	applyKindDefault(cfg.Kinds, "ebook", []string{"epub", "mobi", "azw3", "pdf"})
	applyKindDefault(cfg.Kinds, "audiobook", []string{"mp3", "m4a", "m4b", "flac", "ogg"})
	applyKindDefault(cfg.Kinds, "magazine", []string{"pdf"})
	applyKindDefault(cfg.Kinds, "comic", []string{"cbz", "cbr", "pdf"})

	for name, k := range cfg.Kinds {
		if _, err := k.Limits(); err != nil {
			return nil, fmt.Errorf("kinds.%s: %w", name, err)
		}
	}

	return &cfg, nil
}

func applyKindDefault(kinds map[string]KindConfig, name string, types []string) {
	k := kinds[name]
	if len(k.FileTypes) == 0 {
		k.FileTypes = types
	}
	kinds[name] = k
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		varName := match[2 : len(match)-1] // Strip ${ and }
		if value, ok := os.LookupEnv(varName); ok {
			return value
		}
		return match // Leave unchanged if not found
	})
}
