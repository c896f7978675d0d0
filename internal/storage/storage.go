// Package storage provides the issue store interface and shared errors.
//
// The concrete filesystem implementation lives in the fsstore sub-package;
// an in-memory implementation for tests and dry runs lives in memory.
// Consumers depend on Store rather than on either concrete type.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bueller/bueller/internal/types"
)

// ErrNotFound is returned when an issue file does not exist where expected.
var ErrNotFound = errors.New("issue not found")

// ErrConflict is returned when an operation would clobber an existing issue
// or when the same issue is present in more than one lifecycle directory.
var ErrConflict = errors.New("issue conflict")

// ErrInvalidName is returned for names that are not plain issue file names.
var ErrInvalidName = errors.New("invalid issue name")

// Entry describes an issue file without parsing it.
type Entry struct {
	Name      string          `json:"name"`
	Lifecycle types.Lifecycle `json:"lifecycle"`
	Size      int64           `json:"size"`
	ModTime   time.Time       `json:"mod_time"`
}

// Store owns the durable representation of issues. The lifecycle directory
// holding an issue is its state; Move is the only state transition.
type Store interface {
	// Init creates every lifecycle directory.
	Init(ctx context.Context) error

	// Discover lists issue names in a lifecycle without parsing them.
	Discover(ctx context.Context, lifecycle types.Lifecycle) ([]string, error)

	// Load reads and decodes an issue.
	Load(ctx context.Context, lifecycle types.Lifecycle, name string) (*types.Issue, error)

	// Append adds one encoded turn to the end of an issue. All-or-nothing.
	Append(ctx context.Context, lifecycle types.Lifecycle, name string, author types.Author, content string) error

	// Move relocates an issue between lifecycles atomically.
	Move(ctx context.Context, name string, from, to types.Lifecycle) error

	// Create writes a new issue into the open lifecycle.
	Create(ctx context.Context, name, content string) error

	// Locate reports which lifecycle currently holds name.
	Locate(ctx context.Context, name string) (types.Lifecycle, error)

	// Stat describes an issue file.
	Stat(ctx context.Context, lifecycle types.Lifecycle, name string) (Entry, error)
}
