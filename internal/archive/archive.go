// Package archive turns a matched download payload into a flat
// directory of importable files, extracting any zip, rar or tar
// containers it finds. Working directories carry the ".unpack" suffix
// so the cleanup pass can always identify and remove them.
package archive

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// UnpackSuffix marks directories this package creates.
const UnpackSuffix = ".unpack"

// formats that are zip containers but ARE the payload, never unpacked.
var payloadContainers = map[string]bool{
	".epub": true,
	".cbz":  true,
	".cbr":  true,
}

// sidecar files that travel with a book and survive pruning.
var companionExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".opf":  true,
}

// Resolver extracts archives and isolates loose files.
type Resolver struct {
	log *slog.Logger
}

// NewResolver creates an archive resolver.
func NewResolver(log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{log: log.With("component", "archive")}
}

// Resolve takes a matched payload path, file or directory, and returns
// a directory holding the importable files. Extracted working
// directories keep only files of a wanted type, their sidecars and
// nested archives; an empty fileTypes list keeps everything.
// Directories without archives are returned unchanged, so resolving
// twice is a no-op.
func (r *Resolver) Resolve(path string, fileTypes []string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}

	var wanted map[string]bool
	if len(fileTypes) > 0 {
		wanted = make(map[string]bool, len(fileTypes))
		for _, t := range fileTypes {
			wanted["."+strings.ToLower(strings.TrimPrefix(t, "."))] = true
		}
	}

	if !info.IsDir() {
		return r.resolveFile(path, wanted)
	}
	return r.resolveDir(path, wanted)
}

// resolveFile handles a payload matched as a single file. Archives are
// extracted; anything else is moved into a fresh working directory
// together with its companion files (same stem, different extension).
func (r *Resolver) resolveFile(path string, wanted map[string]bool) (string, error) {
	kind := sniff(path)
	if kind != kindNone && !payloadContainers[strings.ToLower(filepath.Ext(path))] {
		workDir := strings.TrimSuffix(path, filepath.Ext(path)) + UnpackSuffix
		if err := os.MkdirAll(workDir, 0o755); err != nil {
			return "", fmt.Errorf("create work dir: %w", err)
		}
		if err := r.extract(path, kind, workDir); err != nil {
			_ = os.RemoveAll(workDir)
			return "", err
		}
		return r.resolveNested(workDir, wanted)
	}
	return r.isolate(path)
}

// isolate copies a loose file and its companions into a working
// directory, so the organizer always deals with a directory. Copying
// keeps the originals intact for clients that are still seeding them.
func (r *Resolver) isolate(path string) (string, error) {
	parent := filepath.Dir(path)
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	workDir := filepath.Join(parent, stem+UnpackSuffix)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}

	entries, err := os.ReadDir(parent)
	if err != nil {
		return "", fmt.Errorf("read dir %s: %w", parent, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.TrimSuffix(name, filepath.Ext(name)) != stem {
			continue
		}
		if err := copyInto(filepath.Join(parent, name), filepath.Join(workDir, name)); err != nil {
			return "", fmt.Errorf("isolate %s: %w", name, err)
		}
		r.log.Debug("isolated loose file", "file", name, "work_dir", workDir)
	}
	return workDir, nil
}

func copyInto(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}

// resolveDir extracts any archives found directly inside dir.
func (r *Resolver) resolveDir(dir string, wanted map[string]bool) (string, error) {
	archives, err := r.findArchives(dir)
	if err != nil {
		return "", err
	}
	if len(archives) == 0 {
		// Descend one level when the payload is a single wrapper folder.
		entries, err := os.ReadDir(dir)
		if err != nil {
			return "", fmt.Errorf("read dir %s: %w", dir, err)
		}
		if len(entries) == 1 && entries[0].IsDir() {
			return r.resolveDir(filepath.Join(dir, entries[0].Name()), wanted)
		}
		return dir, nil
	}

	workDir := dir + UnpackSuffix
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	for _, a := range archives {
		if err := r.extract(a.path, a.kind, workDir); err != nil {
			_ = os.RemoveAll(workDir)
			return "", err
		}
	}
	return r.resolveNested(workDir, wanted)
}

// resolveNested runs one more extraction round inside a working
// directory, then prunes it. Multipart releases ship zips that each
// hold a rar volume; the volumes only form a readable set once every
// zip is open.
func (r *Resolver) resolveNested(workDir string, wanted map[string]bool) (string, error) {
	archives, err := r.findArchives(workDir)
	if err != nil {
		return "", err
	}
	for _, a := range archives {
		if err := r.extract(a.path, a.kind, workDir); err != nil {
			return "", err
		}
		if err := os.Remove(a.path); err != nil {
			return "", fmt.Errorf("remove extracted archive: %w", err)
		}
	}
	if err := r.prune(workDir, wanted); err != nil {
		return "", err
	}
	return workDir, nil
}

// prune drops extracted files that are neither a wanted type nor a
// sidecar. Only working directories this package created are pruned;
// matched payload directories are never modified.
func (r *Resolver) prune(workDir string, wanted map[string]bool) error {
	if wanted == nil {
		return nil
	}
	return filepath.WalkDir(workDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		ext := strings.ToLower(filepath.Ext(path))
		if wanted[ext] || companionExts[ext] {
			return nil
		}
		r.log.Debug("dropping unwanted member", "file", d.Name())
		return os.Remove(path)
	})
}

type found struct {
	path string
	kind archiveKind
}

// findArchives lists extractable archives directly inside dir, rar
// volume sets reduced to their first volume.
func (r *Resolver) findArchives(dir string) ([]found, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	var result []found
	seenRarSet := false
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if payloadContainers[strings.ToLower(filepath.Ext(path))] {
			continue
		}
		kind := sniff(path)
		if kind == kindNone {
			continue
		}
		if kind == kindRar {
			// rardecode follows the volume chain from the first part.
			if seenRarSet || !firstRarVolume(e.Name()) {
				continue
			}
			seenRarSet = true
		}
		result = append(result, found{path: path, kind: kind})
	}
	return result, nil
}

// firstRarVolume reports whether name looks like the first volume of a
// rar set (or a standalone rar). Later volumes are .r00/.r01 style or
// .partNN.rar with NN > 1.
func firstRarVolume(name string) bool {
	lower := strings.ToLower(name)
	ext := filepath.Ext(lower)
	if len(ext) == 4 && ext[1] == 'r' && ext[2] >= '0' && ext[2] <= '9' {
		return false
	}
	if ext != ".rar" {
		return true
	}
	stem := strings.TrimSuffix(lower, ext)
	if idx := strings.LastIndex(stem, ".part"); idx >= 0 {
		num := strings.TrimLeft(stem[idx+len(".part"):], "0")
		return num == "" || num == "1"
	}
	return true
}

func (r *Resolver) extract(path string, kind archiveKind, dest string) error {
	r.log.Debug("extracting archive", "archive", filepath.Base(path), "kind", kind, "dest", dest)

	var err error
	switch kind {
	case kindZip:
		err = extractZip(path, dest)
	case kindRar:
		err = extractRar(path, dest)
	case kindTar, kindTarGz:
		err = extractTar(path, kind == kindTarGz, dest)
	default:
		err = fmt.Errorf("unknown archive kind")
	}
	if err != nil {
		return fmt.Errorf("extract %s: %w", filepath.Base(path), err)
	}
	return nil
}

type archiveKind int

const (
	kindNone archiveKind = iota
	kindZip
	kindRar
	kindTar
	kindTarGz
)

func (k archiveKind) String() string {
	switch k {
	case kindZip:
		return "zip"
	case kindRar:
		return "rar"
	case kindTar:
		return "tar"
	case kindTarGz:
		return "tar.gz"
	}
	return "none"
}

var (
	zipMagic  = []byte("PK\x03\x04")
	rarMagic4 = []byte("Rar!\x1a\x07\x00")
	rarMagic5 = []byte("Rar!\x1a\x07\x01\x00")
	gzipMagic = []byte{0x1f, 0x8b}
)

// sniff identifies an archive by content, not extension. Obfuscated
// releases routinely mislabel their containers.
func sniff(path string) archiveKind {
	f, err := os.Open(path)
	if err != nil {
		return kindNone
	}
	defer func() { _ = f.Close() }()

	head := make([]byte, 265)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return kindNone
	}
	head = head[:n]

	switch {
	case bytes.HasPrefix(head, zipMagic):
		return kindZip
	case bytes.HasPrefix(head, rarMagic5), bytes.HasPrefix(head, rarMagic4):
		return kindRar
	case bytes.HasPrefix(head, gzipMagic):
		return kindTarGz
	case len(head) >= 262 && bytes.Equal(head[257:262], []byte("ustar")):
		return kindTar
	}
	return kindNone
}
