package backend

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// DirectBackend handles direct HTTP downloads that were saved straight
// into a download directory. The task ID is the folder or file name the
// payload was written under. Everything it knows comes from the disk.
type DirectBackend struct {
	name string
	dir  string
}

// NewDirectBackend creates a direct-download backend rooted at dir.
func NewDirectBackend(name, dir string) *DirectBackend {
	return &DirectBackend{name: name, dir: dir}
}

// Name returns the registry key for this backend.
func (b *DirectBackend) Name() string { return b.name }

func (b *DirectBackend) path(taskID string) string {
	return filepath.Join(b.dir, filepath.Base(taskID))
}

// Progress reports 100/finished once the payload exists on disk.
func (b *DirectBackend) Progress(ctx context.Context, taskID string) (int, bool, error) {
	if _, err := os.Stat(b.path(taskID)); err != nil {
		if os.IsNotExist(err) {
			return -1, false, fmt.Errorf("direct %s: %w", taskID, ErrTaskNotFound)
		}
		return -1, false, fmt.Errorf("stat %s: %w", taskID, err)
	}
	return 100, true, nil
}

// TaskName returns the payload's name on disk.
func (b *DirectBackend) TaskName(ctx context.Context, taskID string) (string, error) {
	if _, _, err := b.Progress(ctx, taskID); err != nil {
		return "", err
	}
	return filepath.Base(taskID), nil
}

// SaveFolder returns the payload's containing directory.
func (b *DirectBackend) SaveFolder(ctx context.Context, taskID string) (string, error) {
	p := b.path(taskID)
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("direct %s: %w", taskID, ErrTaskNotFound)
		}
		return "", fmt.Errorf("stat %s: %w", taskID, err)
	}
	if info.IsDir() {
		return p, nil
	}
	return b.dir, nil
}

// Files walks the payload on disk.
func (b *DirectBackend) Files(ctx context.Context, taskID string) ([]TaskFile, error) {
	root, err := b.SaveFolder(ctx, taskID)
	if err != nil {
		return nil, err
	}

	var files []TaskFile
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, TaskFile{Path: rel, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return files, nil
}

// Delete removes the payload when removeData is set. There is no client
// queue entry to clear.
func (b *DirectBackend) Delete(ctx context.Context, taskID string, removeData bool) error {
	if !removeData {
		return nil
	}
	if err := os.RemoveAll(b.path(taskID)); err != nil {
		return fmt.Errorf("remove %s: %w", taskID, err)
	}
	return nil
}
