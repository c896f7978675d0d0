// Package lockfile guards an issues directory against concurrent bueller
// runs with an advisory lock on <issues_dir>/.bueller/run.lock.
//
// The lock is held on an open file descriptor, so it is released by the
// kernel if the process dies. The file content (a JSON LockInfo) only tells
// a blocked run who holds it.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// FileName is the lock file inside the state directory.
const FileName = "run.lock"

// ErrLocked is returned by Acquire when another process holds the lock.
var ErrLocked = errors.New("issues directory is locked by another bueller process")

// LockInfo describes the process holding the lock.
type LockInfo struct {
	PID       int       `json:"pid"`
	IssuesDir string    `json:"issues_dir"`
	Command   string    `json:"command,omitempty"`
	Version   string    `json:"version,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Lock is a held run lock.
type Lock struct {
	f    *os.File
	path string
}

// Acquire takes the run lock in stateDir without blocking. When the lock is
// held elsewhere the returned error wraps ErrLocked and names the holder.
func Acquire(stateDir string, info LockInfo) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0o750); err != nil {
		return nil, fmt.Errorf("cannot create %s: %w", stateDir, err)
	}
	path := filepath.Join(stateDir, FileName)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644) //nolint:gosec // path is inside the state dir
	if err != nil {
		return nil, fmt.Errorf("cannot open lock file: %w", err)
	}

	if err := flockExclusive(f); err != nil {
		_ = f.Close()
		if errors.Is(err, errRunLocked) {
			if holder, rerr := ReadLockInfo(stateDir); rerr == nil && holder.PID > 0 {
				return nil, fmt.Errorf("%w (pid %d, %s since %s)", ErrLocked,
					holder.PID, holder.Command, holder.StartedAt.Format(time.RFC3339))
			}
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("cannot lock %s: %w", path, err)
	}

	if info.PID == 0 {
		info.PID = os.Getpid()
	}
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now().UTC()
	}
	data, err := json.Marshal(info)
	if err == nil {
		_ = f.Truncate(0)
		_, _ = f.WriteAt(data, 0)
		_ = f.Sync()
	}

	return &Lock{f: f, path: path}, nil
}

// Release drops the lock. The file is left in place; its content is stale
// once nobody holds the lock.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = l.f.Truncate(0)
	uerr := flockUnlock(l.f)
	cerr := l.f.Close()
	l.f = nil
	if uerr != nil {
		return uerr
	}
	return cerr
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// ReadLockInfo reads the holder description from stateDir's lock file.
// Older plain-PID content is accepted.
func ReadLockInfo(stateDir string) (*LockInfo, error) {
	data, err := os.ReadFile(filepath.Join(stateDir, FileName)) //nolint:gosec // path is inside the state dir
	if err != nil {
		return nil, err
	}

	var info LockInfo
	if err := json.Unmarshal(data, &info); err == nil {
		return &info, nil
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("invalid lock file format: %w", err)
	}
	return &LockInfo{PID: pid}, nil
}

// Held reports whether another live process holds the lock in stateDir, and
// its pid when known.
func Held(stateDir string) (bool, int) {
	f, err := os.OpenFile(filepath.Join(stateDir, FileName), os.O_RDWR, 0) //nolint:gosec // path is inside the state dir
	if err != nil {
		return false, 0
	}
	defer func() { _ = f.Close() }()

	if err := flockExclusive(f); err == nil {
		_ = flockUnlock(f)
		return false, 0
	}
	info, err := ReadLockInfo(stateDir)
	if err != nil || !isProcessRunning(info.PID) {
		return true, 0
	}
	return true, info.PID
}
