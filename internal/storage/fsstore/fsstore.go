// Package fsstore implements storage.Store on a directory tree:
//
//	issues/
//	├── open/    <- awaiting or under iteration
//	├── review/  <- resolved, awaiting human review
//	└── stuck/   <- needs human intervention
//
// Every write goes through a hidden temp file in the destination directory
// followed by a rename, so readers see either the old or the new bytes.
package fsstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bueller/bueller/internal/conversation"
	"github.com/bueller/bueller/internal/storage"
	"github.com/bueller/bueller/internal/types"
)

// IssueExt is the file extension of issue files.
const IssueExt = ".md"

// Store is a filesystem-backed issue store rooted at an issues directory.
type Store struct {
	root string
}

var _ storage.Store = (*Store)(nil)

// New returns a store rooted at dir. Directories are created lazily; call
// Init to create them up front.
func New(dir string) *Store {
	return &Store{root: filepath.Clean(dir)}
}

// Root returns the issues directory.
func (s *Store) Root() string {
	return s.root
}

// Path returns the on-disk path of an issue in a lifecycle.
func (s *Store) Path(lifecycle types.Lifecycle, name string) string {
	return filepath.Join(s.root, lifecycle.Dir(), name)
}

// Init creates every lifecycle directory.
func (s *Store) Init(ctx context.Context) error {
	for _, l := range types.Lifecycles {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Join(s.root, l.Dir()), 0o755); err != nil {
			return fmt.Errorf("failed to create %s directory: %w", l, err)
		}
	}
	return nil
}

// Discover lists issue files in a lifecycle directory, sorted by name.
// A missing directory holds no issues.
func (s *Store) Discover(ctx context.Context, lifecycle types.Lifecycle) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !lifecycle.IsValid() {
		return nil, fmt.Errorf("discover: invalid lifecycle %q", lifecycle)
	}

	dir := filepath.Join(s.root, lifecycle.Dir())
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || !IsIssueName(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// Load reads and decodes an issue.
func (s *Store) Load(ctx context.Context, lifecycle types.Lifecycle, name string) (*types.Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validate(lifecycle, name); err != nil {
		return nil, err
	}

	issue, err := conversation.ReadIssue(s.Path(lifecycle, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", storage.ErrNotFound, err)
		}
		return nil, err
	}
	issue.Name = name
	issue.Lifecycle = lifecycle
	return issue, nil
}

// Append adds a formatted turn to the end of the issue file. The file is
// rewritten through a temp file and rename, so an interrupted append leaves
// the previous bytes intact.
func (s *Store) Append(ctx context.Context, lifecycle types.Lifecycle, name string, author types.Author, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validate(lifecycle, name); err != nil {
		return err
	}
	if !author.IsValid() {
		return fmt.Errorf("append: invalid author %q", author)
	}

	path := s.Path(lifecycle, name)
	existing, err := os.ReadFile(path) //nolint:gosec // path is built from a validated name
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("append to %s: %w", path, storage.ErrNotFound)
		}
		return fmt.Errorf("append to %s: %w", path, err)
	}

	var b strings.Builder
	b.Grow(len(existing) + len(content) + 16)
	b.Write(existing)
	// The separator must sit on its own line to be recognized on re-parse.
	if len(existing) == 0 || existing[len(existing)-1] != '\n' {
		b.WriteByte('\n')
	}
	b.WriteString(conversation.FormatMessage(author, content))

	mode := fs.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := writeAtomic(path, []byte(b.String()), mode); err != nil {
		return fmt.Errorf("append to %s: %w", path, err)
	}
	return nil
}

// Move relocates an issue from one lifecycle directory to another with a
// single rename. A missing source means the caller's view of the issue is
// stale and is reported as storage.ErrNotFound.
func (s *Store) Move(ctx context.Context, name string, from, to types.Lifecycle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validate(from, name); err != nil {
		return err
	}
	if !to.IsValid() {
		return fmt.Errorf("move: invalid lifecycle %q", to)
	}
	if from == to {
		return fmt.Errorf("move %s: source and destination are both %s", name, from)
	}

	src := s.Path(from, name)
	dst := s.Path(to, name)

	if _, err := os.Lstat(src); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("move %s from %s to %s: source missing: %w", name, from, to, storage.ErrNotFound)
		}
		return fmt.Errorf("move %s: %w", name, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("move %s: create %s directory: %w", name, to, err)
	}
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("move %s: %s already exists: %w", name, dst, storage.ErrConflict)
	}
	if err := os.Rename(src, dst); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("move %s from %s to %s: source missing: %w", name, from, to, storage.ErrNotFound)
		}
		return fmt.Errorf("move %s: %w", name, err)
	}

	syncDir(filepath.Dir(src))
	syncDir(filepath.Dir(dst))
	return nil
}

// Create writes a new issue into the open directory. It never overwrites an
// existing file.
func (s *Store) Create(ctx context.Context, name, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validate(types.LifecycleOpen, name); err != nil {
		return err
	}
	if l, err := s.Locate(ctx, name); err == nil {
		return fmt.Errorf("create %s: already present in %s: %w", name, l, storage.ErrConflict)
	}

	dir := filepath.Join(s.root, types.LifecycleOpen.Dir())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}

	tmp, err := writeTemp(dir, name, []byte(content), 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	defer func() { _ = os.Remove(tmp) }()

	// Link fails when the destination exists, unlike rename.
	if err := os.Link(tmp, filepath.Join(dir, name)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("create %s: %w", name, storage.ErrConflict)
		}
		return fmt.Errorf("create %s: %w", name, err)
	}
	syncDir(dir)
	return nil
}

// Locate reports which lifecycle directory holds name.
func (s *Store) Locate(ctx context.Context, name string) (types.Lifecycle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !IsIssueName(name) {
		return "", fmt.Errorf("%w: %q", storage.ErrInvalidName, name)
	}

	var found []types.Lifecycle
	for _, l := range types.Lifecycles {
		if _, err := os.Lstat(s.Path(l, name)); err == nil {
			found = append(found, l)
		}
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("%s: %w", name, storage.ErrNotFound)
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("%s present in %v: %w", name, found, storage.ErrConflict)
	}
}

// Stat describes an issue file without reading it.
func (s *Store) Stat(ctx context.Context, lifecycle types.Lifecycle, name string) (storage.Entry, error) {
	if err := ctx.Err(); err != nil {
		return storage.Entry{}, err
	}
	if err := validate(lifecycle, name); err != nil {
		return storage.Entry{}, err
	}
	info, err := os.Stat(s.Path(lifecycle, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return storage.Entry{}, fmt.Errorf("%s/%s: %w", lifecycle, name, storage.ErrNotFound)
		}
		return storage.Entry{}, err
	}
	return storage.Entry{
		Name:      name,
		Lifecycle: lifecycle,
		Size:      info.Size(),
		ModTime:   info.ModTime(),
	}, nil
}

// IsIssueName reports whether name is a visible markdown file name with no
// path components.
func IsIssueName(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	if strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return false
	}
	return strings.HasSuffix(name, IssueExt) && len(name) > len(IssueExt)
}

func validate(lifecycle types.Lifecycle, name string) error {
	if !lifecycle.IsValid() {
		return fmt.Errorf("invalid lifecycle %q", lifecycle)
	}
	if !IsIssueName(name) {
		return fmt.Errorf("%w: %q", storage.ErrInvalidName, name)
	}
	return nil
}

// writeAtomic replaces path with data via a synced temp file and rename.
func writeAtomic(path string, data []byte, mode fs.FileMode) error {
	tmp, err := writeTemp(filepath.Dir(path), filepath.Base(path), data, mode)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	syncDir(filepath.Dir(path))
	return nil
}

// writeTemp writes data to a hidden temp file in dir and returns its path.
// Hidden names keep in-flight writes out of Discover.
func writeTemp(dir, name string, data []byte, mode fs.FileMode) (string, error) {
	f, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return "", err
	}
	tmp := f.Name()
	fail := func(err error) (string, error) {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", err
	}

	if _, err := f.Write(data); err != nil {
		return fail(err)
	}
	if err := f.Sync(); err != nil {
		return fail(err)
	}
	if err := f.Chmod(mode); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return tmp, nil
}

// syncDir flushes directory metadata so renames survive a crash. Best effort:
// some platforms cannot fsync directories.
func syncDir(dir string) {
	d, err := os.Open(dir) //nolint:gosec // dir is inside the issues root
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
