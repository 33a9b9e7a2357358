// Package calibre hands imported ebooks to an external calibredb
// binary so a Calibre-managed library stays authoritative.
package calibre

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// Importer shells out to calibredb to add books to a Calibre library.
type Importer struct {
	binary  string
	library string
	timeout time.Duration
	log     *slog.Logger

	// run is swapped in tests.
	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewImporter creates a calibredb importer. An empty binary disables it.
func NewImporter(binary, library string, log *slog.Logger) *Importer {
	if log == nil {
		log = slog.Default()
	}
	return &Importer{
		binary:  binary,
		library: library,
		timeout: 2 * time.Minute,
		log:     log.With("component", "calibre"),
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			var out bytes.Buffer
			cmd := exec.CommandContext(ctx, name, args...)
			cmd.Stdout = &out
			cmd.Stderr = &out
			err := cmd.Run()
			return out.Bytes(), err
		},
	}
}

// Enabled reports whether an import should be attempted at all.
func (i *Importer) Enabled() bool { return i.binary != "" }

var addedIDPattern = regexp.MustCompile(`(?i)added book ids?:\s*([0-9, ]+)`)

// Add imports a book file into the Calibre library and returns the
// assigned book ID. calibredb reports duplicates on its exit status, so
// a clean run without an ID means the book was already in the library;
// that is returned as ("", nil).
func (i *Importer) Add(ctx context.Context, path string) (string, error) {
	if !i.Enabled() {
		return "", nil
	}
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	args := []string{"add", "--duplicates", path}
	if i.library != "" {
		args = append(args, "--with-library", i.library)
	}

	out, err := i.run(ctx, i.binary, args...)
	if err != nil {
		return "", fmt.Errorf("calibredb add: %w: %s", err, firstLine(out))
	}

	if m := addedIDPattern.FindSubmatch(out); m != nil {
		id := strings.TrimSpace(strings.Split(string(m[1]), ",")[0])
		i.log.Debug("book added to calibre", "book", path, "calibre_id", id)
		return id, nil
	}
	i.log.Debug("book already present in calibre", "book", path)
	return "", nil
}

func firstLine(out []byte) string {
	s := strings.TrimSpace(string(out))
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	return s
}
