package config

import (
	"fmt"
	"os"
)

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true, "": true,
}

var knownKinds = map[string]bool{
	"ebook": true, "audiobook": true, "magazine": true, "comic": true,
}

// Validate checks the configuration for errors.
// Returns a slice of error messages (empty if valid).
func (c *Config) Validate() []string {
	var errs []string

	if !validLogLevels[c.Server.LogLevel] {
		errs = append(errs, fmt.Sprintf("server.log_level: must be one of debug, info, warn, error; got %q", c.Server.LogLevel))
	}

	// At least one library root is required
	libs := map[string]LibraryConfig{
		"ebook":     c.Libraries.Ebook,
		"audiobook": c.Libraries.Audiobook,
		"magazine":  c.Libraries.Magazine,
		"comic":     c.Libraries.Comic,
	}
	anyRoot := false
	for name, lib := range libs {
		if lib.Root == "" {
			continue
		}
		anyRoot = true
		if _, err := os.Stat(lib.Root); os.IsNotExist(err) {
			errs = append(errs, fmt.Sprintf("libraries.%s.root: warning: directory %q does not exist", name, lib.Root))
		}
	}
	if !anyRoot {
		errs = append(errs, "libraries: at least one library root must be configured")
	}

	if len(c.Processing.ScanDirs) == 0 && c.Backends.SABnzbd == nil &&
		c.Backends.QBittorrent == nil && c.Backends.Direct == nil {
		errs = append(errs, "processing: no scan_dirs and no backends configured, nothing to process")
	}
	if c.Processing.MatchRatio < 0 || c.Processing.MatchRatio > 100 {
		errs = append(errs, fmt.Sprintf("processing.match_ratio: must be 0-100, got %d", c.Processing.MatchRatio))
	}

	for name, kind := range c.Kinds {
		if !knownKinds[name] {
			errs = append(errs, fmt.Sprintf("kinds.%s: unknown content kind", name))
		}
		if _, err := kind.Limits(); err != nil {
			errs = append(errs, fmt.Sprintf("kinds.%s: %v", name, err))
		}
	}

	if c.Backends.SABnzbd != nil {
		if c.Backends.SABnzbd.URL == "" {
			errs = append(errs, "backends.sabnzbd.url: required when sabnzbd is configured")
		}
		if c.Backends.SABnzbd.APIKey == "" {
			errs = append(errs, "backends.sabnzbd.api_key: required when sabnzbd is configured")
		}
	}
	if c.Backends.QBittorrent != nil && c.Backends.QBittorrent.URL == "" {
		errs = append(errs, "backends.qbittorrent.url: required when qbittorrent is configured")
	}
	if c.Backends.Direct != nil && c.Backends.Direct.Dir == "" {
		errs = append(errs, "backends.direct.dir: required when direct is configured")
	}

	return errs
}
