// Package organize copies processed payload files into their final
// library layout and picks the primary file to record on the catalog.
package organize

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/vmunix/bookarr/internal/catalog"
)

// IgnoreMarker is dropped into magazine and comic directories so a
// library scan does not treat their contents as stray books.
const IgnoreMarker = ".ll_ignore"

// companionExts are sidecar files carried along with a book.
var companionExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".opf":  true,
}

// Request describes one import into the library.
type Request struct {
	Kind      catalog.Kind
	SourceDir string
	DestDir   string
	Root      string   // library root DestDir must stay under, "" skips the check
	BaseName  string   // new file stem for kinds that rename
	FileTypes []string // accepted extensions in preference order, no dots
	OneFormat bool     // ebooks: keep only the most preferred format
}

// Organizer copies payloads into the library.
type Organizer struct {
	log *slog.Logger
}

// NewOrganizer creates an organizer.
func NewOrganizer(log *slog.Logger) *Organizer {
	if log == nil {
		log = slog.Default()
	}
	return &Organizer{log: log.With("component", "organize")}
}

// Organize copies the payload's media and companion files into the
// destination and returns the absolute path of the primary file. The
// source directory is never modified, and any copy error aborts the
// import with the source intact.
func (o *Organizer) Organize(req Request) (string, error) {
	if len(req.FileTypes) == 0 {
		return "", fmt.Errorf("no accepted file types for kind %s", req.Kind)
	}
	if req.Root != "" {
		// Naming patterns are expanded from catalog metadata, which can
		// carry path separators or dots.
		if err := ValidatePath(req.DestDir, req.Root); err != nil {
			return "", fmt.Errorf("destination %s: %w", req.DestDir, err)
		}
	}
	if err := o.prepareDest(req.DestDir); err != nil {
		return "", err
	}

	media, companions, err := o.scanSource(req.SourceDir, req.FileTypes)
	if err != nil {
		return "", err
	}
	if len(media) == 0 {
		return "", fmt.Errorf("%s in %s: %w", req.Kind, req.SourceDir, ErrNoMediaFile)
	}

	switch req.Kind {
	case catalog.KindEbook:
		return o.placeRenamed(req, media, companions)
	case catalog.KindMagazine:
		primary, err := o.placeRenamed(req, media[:1], companions)
		if err != nil {
			return "", err
		}
		return primary, o.writeMarker(req.DestDir)
	case catalog.KindAudioBook:
		primary, err := o.placeVerbatim(req, media, companions)
		if err != nil {
			return "", err
		}
		return primary, nil
	case catalog.KindComic:
		primary, err := o.placeVerbatim(req, media, companions)
		if err != nil {
			return "", err
		}
		return primary, o.writeMarker(req.DestDir)
	default:
		return "", fmt.Errorf("unknown content kind %q", req.Kind)
	}
}

// prepareDest creates the destination directory. A stale non-directory
// squatting on the path is removed first.
func (o *Organizer) prepareDest(dir string) error {
	if info, err := os.Stat(dir); err == nil && !info.IsDir() {
		o.log.Warn("removing non-directory at destination path", "path", dir)
		if err := os.Remove(dir); err != nil {
			return fmt.Errorf("clear destination: %w", err)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	return nil
}

// scanSource walks the payload and splits files into media, ordered by
// the preference list then size, and companions.
func (o *Organizer) scanSource(dir string, types []string) (media, companions []string, err error) {
	rank := make(map[string]int, len(types))
	for i, t := range types {
		rank["."+strings.ToLower(strings.TrimPrefix(t, "."))] = i
	}

	sizes := make(map[string]int64)
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		ext := strings.ToLower(filepath.Ext(path))
		if _, ok := rank[ext]; ok {
			info, err := d.Info()
			if err != nil {
				return err
			}
			media = append(media, path)
			sizes[path] = info.Size()
		} else if companionExts[ext] {
			companions = append(companions, path)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("scan source %s: %w", dir, err)
	}

	sort.SliceStable(media, func(i, j int) bool {
		ri := rank[strings.ToLower(filepath.Ext(media[i]))]
		rj := rank[strings.ToLower(filepath.Ext(media[j]))]
		if ri != rj {
			return ri < rj
		}
		return sizes[media[i]] > sizes[media[j]]
	})
	return media, companions, nil
}

// placeRenamed copies media renamed to the base name, one file per
// format, plus renamed companions. Used for ebooks and magazine issues.
func (o *Organizer) placeRenamed(req Request, media, companions []string) (string, error) {
	base := SanitizeFilename(req.BaseName)
	if base == "" {
		return "", fmt.Errorf("empty base name")
	}

	placed := make(map[string]bool)
	var primary string
	for _, src := range media {
		ext := strings.ToLower(filepath.Ext(src))
		if placed[ext] {
			continue
		}
		if req.OneFormat && primary != "" {
			break
		}
		dst := filepath.Join(req.DestDir, base+ext)
		if err := o.copy(src, dst); err != nil {
			return "", err
		}
		placed[ext] = true
		if primary == "" {
			primary = dst
		}
	}

	for _, src := range companions {
		ext := strings.ToLower(filepath.Ext(src))
		if placed[ext] {
			continue
		}
		dst := filepath.Join(req.DestDir, base+ext)
		if err := o.copy(src, dst); err != nil {
			return "", err
		}
		placed[ext] = true
	}
	return primary, nil
}

// placeVerbatim copies files under their original names. Audiobook
// parts and comic issues keep their numbering.
func (o *Organizer) placeVerbatim(req Request, media, companions []string) (string, error) {
	var names []string
	dstByName := make(map[string]string)
	for _, src := range append(append([]string{}, media...), companions...) {
		name := SanitizeFilename(filepath.Base(src))
		dst := filepath.Join(req.DestDir, name)
		if err := o.copy(src, dst); err != nil {
			return "", err
		}
		dstByName[name] = dst
	}
	for _, src := range media {
		names = append(names, SanitizeFilename(filepath.Base(src)))
	}

	primary := PrimaryPart(names)
	if primary == "" {
		return "", fmt.Errorf("%s in %s: %w", req.Kind, req.SourceDir, ErrNoMediaFile)
	}
	return dstByName[primary], nil
}

func (o *Organizer) copy(src, dst string) error {
	size, err := CopyFile(src, dst)
	if err != nil {
		return fmt.Errorf("place %s: %w", filepath.Base(dst), err)
	}
	o.log.Debug("placed file", "dest", dst, "bytes", size)
	return nil
}

func (o *Organizer) writeMarker(dir string) error {
	marker := filepath.Join(dir, IgnoreMarker)
	if _, err := os.Stat(marker); err == nil {
		return nil
	}
	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		return fmt.Errorf("write ignore marker: %w", err)
	}
	return nil
}

// partTokens mark the first part of a numbered set, tried in order.
var partTokens = []string{" 001.", " 01.", " 1.", " 001 ", " 01 ", " 1 ", "001", "01"}

// PrimaryPart picks the file to record as the item's primary out of a
// multi-part set. A single file wins trivially, a file without any
// digits is a whole-book edition and wins outright, otherwise the
// first-part numbering tokens decide.
func PrimaryPart(names []string) string {
	if len(names) == 0 {
		return ""
	}
	if len(names) == 1 {
		return names[0]
	}

	sorted := append([]string{}, names...)
	sort.Strings(sorted)

	for _, name := range sorted {
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		if !strings.ContainsFunc(stem, unicode.IsDigit) {
			return name
		}
	}
	for _, token := range partTokens {
		for _, name := range sorted {
			if strings.Contains(name, token) {
				return name
			}
		}
	}
	return sorted[0]
}
