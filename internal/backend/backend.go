// Package backend talks to download clients to track task progress,
// locate completed payloads and remove finished tasks.
package backend

import (
	"context"
	"fmt"
	"sort"
)

// TaskFile is one file inside a backend task.
type TaskFile struct {
	Path string // relative to the task's save folder
	Size int64
}

// Backend is a download client the pipeline can query about a task.
type Backend interface {
	// Name returns the registry key for this backend.
	Name() string
	// Progress reports completion percent (0-100) and whether the client
	// considers the task finished. Returns ErrTaskNotFound for unknown
	// tasks and ErrTaskFailed when the client reports the task broken.
	Progress(ctx context.Context, taskID string) (percent int, finished bool, err error)
	// TaskName returns the client's current display name for the task.
	// Magnet tasks are renamed by the client once metadata resolves.
	TaskName(ctx context.Context, taskID string) (string, error)
	// SaveFolder returns the directory the client stores the task under.
	SaveFolder(ctx context.Context, taskID string) (string, error)
	// Files lists the task's payload files. Backends that cannot
	// enumerate files return ErrNotSupported.
	Files(ctx context.Context, taskID string) ([]TaskFile, error)
	// Delete removes the task from the client, and its data when
	// removeData is set. Deleting an unknown task is not an error.
	Delete(ctx context.Context, taskID string, removeData bool) error
}

// Registry maps backend names to configured clients.
type Registry struct {
	backends map[string]Backend
}

// NewRegistry creates an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register adds a backend under its own name.
func (r *Registry) Register(b Backend) {
	r.backends[b.Name()] = b
}

// Get returns the backend registered under name.
func (r *Registry) Get(name string) (Backend, error) {
	b, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, name)
	}
	return b, nil
}

// Names returns the registered backend names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
