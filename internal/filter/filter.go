// Package filter rejects releases whose payload contains banned
// extensions, banned words or out-of-bounds file sizes.
package filter

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/vmunix/bookarr/internal/backend"
)

// Limits holds the rejection rules for one content kind.
type Limits struct {
	BannedExts  []string // without the leading dot
	RejectWords []string
	MinSize     int64 // bytes, 0 disables the check
	MaxSize     int64 // bytes, 0 disables the check
}

// Check inspects a payload file list against the limits and returns a
// human-readable rejection reason, or "" when the payload is acceptable.
// Checks run in a fixed order so the reported reason is deterministic:
// banned extension first, then banned word, then size bounds. Reject
// words match whole path tokens, not substrings, and the size bounds
// apply only to files of a wanted type.
func Check(files []backend.TaskFile, wanted []string, limits Limits) string {
	wantedExts := make(map[string]bool, len(wanted))
	for _, t := range wanted {
		wantedExts[strings.ToLower(strings.TrimPrefix(t, "."))] = true
	}

	for _, f := range files {
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(f.Path)), ".")

		for _, banned := range limits.BannedExts {
			if ext == strings.ToLower(strings.TrimPrefix(banned, ".")) {
				return fmt.Sprintf("contains %s file: %s", ext, filepath.Base(f.Path))
			}
		}

		toks := tokens(f.Path)
		for _, word := range limits.RejectWords {
			w := strings.ToLower(strings.TrimSpace(word))
			if w == "" {
				continue
			}
			for _, tok := range toks {
				if tok == w {
					return fmt.Sprintf("contains rejected word %q: %s", w, filepath.Base(f.Path))
				}
			}
		}

		// A small cover or nfo riding along is not grounds to reject
		// the whole payload.
		if !wantedExts[ext] {
			continue
		}
		if limits.MaxSize > 0 && f.Size > limits.MaxSize {
			return fmt.Sprintf("%s too large: %d bytes", filepath.Base(f.Path), f.Size)
		}
		if limits.MinSize > 0 && f.Size > 0 && f.Size < limits.MinSize {
			return fmt.Sprintf("%s too small: %d bytes", filepath.Base(f.Path), f.Size)
		}
	}
	return ""
}

// tokens splits a path into lowercase alphanumeric tokens, separators
// and punctuation discarded.
func tokens(path string) []string {
	return strings.FieldsFunc(strings.ToLower(path), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// ParseSize converts a size string with an optional K, M or G suffix to
// bytes. "0" and "" disable the limit.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	mult := int64(1)
	switch {
	case strings.HasSuffix(strings.ToUpper(s), "G"):
		mult = 1024 * 1024 * 1024
		s = s[:len(s)-1]
	case strings.HasSuffix(strings.ToUpper(s), "M"):
		mult = 1024 * 1024
		s = s[:len(s)-1]
	case strings.HasSuffix(strings.ToUpper(s), "K"):
		mult = 1024
		s = s[:len(s)-1]
	}

	val, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("parse size %q: %w", s, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("parse size %q: negative", s)
	}
	return int64(val * float64(mult)), nil
}
