// Package memory implements an in-memory issue store for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bueller/bueller/internal/conversation"
	"github.com/bueller/bueller/internal/storage"
	"github.com/bueller/bueller/internal/types"
)

type record struct {
	lifecycle types.Lifecycle
	content   string
	modTime   time.Time
}

// MemoryStorage holds issues in a map keyed by name. The lifecycle recorded
// per name plays the role of the directory, so an issue can only ever be in
// one lifecycle.
type MemoryStorage struct {
	mu     sync.RWMutex
	issues map[string]*record
}

var _ storage.Store = (*MemoryStorage)(nil)

// New creates an empty in-memory store.
func New() *MemoryStorage {
	return &MemoryStorage{issues: make(map[string]*record)}
}

// Put seeds an issue directly into a lifecycle, replacing any existing copy.
func (m *MemoryStorage) Put(lifecycle types.Lifecycle, name, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issues[name] = &record{lifecycle: lifecycle, content: content, modTime: time.Now()}
}

// Content returns the raw bytes of an issue regardless of lifecycle.
func (m *MemoryStorage) Content(name string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.issues[name]
	if !ok {
		return "", false
	}
	return r.content, true
}

// Init is a no-op.
func (m *MemoryStorage) Init(ctx context.Context) error {
	return ctx.Err()
}

// Discover lists issues in a lifecycle, sorted by name.
func (m *MemoryStorage) Discover(ctx context.Context, lifecycle types.Lifecycle) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := []string{}
	for name, r := range m.issues {
		if r.lifecycle == lifecycle {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Load decodes an issue.
func (m *MemoryStorage) Load(ctx context.Context, lifecycle types.Lifecycle, name string) (*types.Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.issues[name]
	if !ok || r.lifecycle != lifecycle {
		return nil, fmt.Errorf("%s/%s: %w", lifecycle, name, storage.ErrNotFound)
	}
	issue := conversation.Parse(r.content)
	issue.Name = name
	issue.Lifecycle = lifecycle
	return issue, nil
}

// Append adds a turn to an issue.
func (m *MemoryStorage) Append(ctx context.Context, lifecycle types.Lifecycle, name string, author types.Author, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !author.IsValid() {
		return fmt.Errorf("append: invalid author %q", author)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.issues[name]
	if !ok || r.lifecycle != lifecycle {
		return fmt.Errorf("append to %s/%s: %w", lifecycle, name, storage.ErrNotFound)
	}
	if !strings.HasSuffix(r.content, "\n") {
		r.content += "\n"
	}
	r.content += conversation.FormatMessage(author, content)
	r.modTime = time.Now()
	return nil
}

// Move relocates an issue between lifecycles.
func (m *MemoryStorage) Move(ctx context.Context, name string, from, to types.Lifecycle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if from == to {
		return fmt.Errorf("move %s: source and destination are both %s", name, from)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.issues[name]
	if !ok || r.lifecycle != from {
		return fmt.Errorf("move %s from %s to %s: source missing: %w", name, from, to, storage.ErrNotFound)
	}
	r.lifecycle = to
	return nil
}

// Create adds a new open issue.
func (m *MemoryStorage) Create(ctx context.Context, name, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.issues[name]; ok {
		return fmt.Errorf("create %s: already present in %s: %w", name, r.lifecycle, storage.ErrConflict)
	}
	m.issues[name] = &record{lifecycle: types.LifecycleOpen, content: content, modTime: time.Now()}
	return nil
}

// Locate reports the lifecycle holding name.
func (m *MemoryStorage) Locate(ctx context.Context, name string) (types.Lifecycle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.issues[name]
	if !ok {
		return "", fmt.Errorf("%s: %w", name, storage.ErrNotFound)
	}
	return r.lifecycle, nil
}

// Stat describes an issue.
func (m *MemoryStorage) Stat(ctx context.Context, lifecycle types.Lifecycle, name string) (storage.Entry, error) {
	if err := ctx.Err(); err != nil {
		return storage.Entry{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.issues[name]
	if !ok || r.lifecycle != lifecycle {
		return storage.Entry{}, fmt.Errorf("%s/%s: %w", lifecycle, name, storage.ErrNotFound)
	}
	return storage.Entry{
		Name:      name,
		Lifecycle: lifecycle,
		Size:      int64(len(r.content)),
		ModTime:   r.modTime,
	}, nil
}
