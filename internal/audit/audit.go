// Package audit appends an interaction log of agent turns and lifecycle
// transitions to <issues_dir>/.bueller/interactions.jsonl.
//
// The log is append-only JSONL, one Entry per line. Writing it is best
// effort: callers log and continue when Append fails.
package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
)

// FileName is the audit log file inside the state directory.
const FileName = "interactions.jsonl"

// Entry kinds
const (
	KindAgentTurn  = "agent_turn"
	KindContinue   = "continue"
	KindTransition = "transition"
	KindFailure    = "failure"
)

// Entry is one audit record.
type Entry struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	RunID     string    `json:"run_id,omitempty"`
	Issue     string    `json:"issue,omitempty"`
	Iteration int       `json:"iteration,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	Signal   string `json:"signal,omitempty"`
	State    string `json:"state,omitempty"`
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
	Error    string `json:"error,omitempty"`
	Duration int64  `json:"duration_ms,omitempty"`
	Actions  int    `json:"actions,omitempty"`
}

var (
	node     *snowflake.Node
	nodeOnce sync.Once
	nodeErr  error
)

func idNode() (*snowflake.Node, error) {
	nodeOnce.Do(func() {
		node, nodeErr = snowflake.NewNode(int64(os.Getpid() % 1024))
	})
	return node, nodeErr
}

// NewID returns a time-ordered unique id. Run ids and entry ids share the
// generator.
func NewID() (string, error) {
	n, err := idNode()
	if err != nil {
		return "", fmt.Errorf("audit: id generator: %w", err)
	}
	return n.Generate().String(), nil
}

// Log appends entries to one JSONL file.
type Log struct {
	path string
	mu   sync.Mutex
}

// Open returns a log writing to dir/FileName. The directory is created on
// first append.
func Open(dir string) *Log {
	return &Log{path: filepath.Join(dir, FileName)}
}

// Path returns the log file path.
func (l *Log) Path() string {
	return l.path
}

// Append writes e as one line, filling ID and CreatedAt when empty, and
// returns the entry id.
func (l *Log) Append(e *Entry) (string, error) {
	if e == nil {
		return "", errors.New("audit: nil entry")
	}
	if e.Kind == "" {
		return "", errors.New("audit: entry kind is required")
	}
	if e.ID == "" {
		id, err := NewID()
		if err != nil {
			return "", err
		}
		e.ID = id
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	line, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("audit: marshal: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o750); err != nil {
		return "", fmt.Errorf("audit: create dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec // path is inside the issues state dir
	if err != nil {
		return "", fmt.Errorf("audit: open: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("audit: write: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("audit: close: %w", err)
	}
	return e.ID, nil
}

// Read returns every entry in the log, optionally only those for issue.
// A missing log yields no entries. Lines that fail to decode are skipped.
func (l *Log) Read(issue string) ([]Entry, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("audit: open: %w", err)
	}
	defer func() { _ = f.Close() }()

	var out []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		if issue != "" && e.Issue != issue {
			continue
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("audit: scan: %w", err)
	}
	return out, nil
}
