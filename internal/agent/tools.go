package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
)

const (
	maxReadBytes       = 256 << 10
	maxOutputBytes     = 32 << 10
	maxListEntries     = 500
	defaultCmdTimeout  = 2 * time.Minute
	maxCmdTimeout      = 10 * time.Minute
	commandWaitDelay   = 5 * time.Second
	truncationNotice   = "\n... (truncated)"
	errPathOutsideRoot = "path outside working directory"
)

// CommandRunner runs name with args in dir, feeding stdin. Tests substitute
// their own.
type CommandRunner func(ctx context.Context, dir, name string, args []string, stdin string) (stdout, stderr string, err error)

// RunCommand is the default CommandRunner.
func RunCommand(ctx context.Context, dir, name string, args []string, stdin string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec // the agent command is user configuration
	cmd.Dir = dir
	cmd.WaitDelay = commandWaitDelay
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// ReadFileParams for the read_file tool.
type ReadFileParams struct {
	Path string `json:"path" jsonschema:"required,description=File path relative to the working directory"`
}

// WriteFileParams for the write_file tool.
type WriteFileParams struct {
	Path    string `json:"path" jsonschema:"required,description=File path relative to the working directory. Parent directories are created."`
	Content string `json:"content" jsonschema:"required,description=Complete new file content"`
}

// ListFilesParams for the list_files tool.
type ListFilesParams struct {
	Path      string `json:"path,omitempty" jsonschema:"description=Directory relative to the working directory (default: the working directory itself)"`
	Recursive bool   `json:"recursive,omitempty" jsonschema:"description=List subdirectories recursively"`
}

// RunCommandParams for the run_command tool.
type RunCommandParams struct {
	Command        string `json:"command" jsonschema:"required,description=Shell command run with sh -c in the working directory"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" jsonschema:"description=Time limit in seconds (default 120, max 600)"`
}

// ToolSpec describes a tool to a backend.
type ToolSpec struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema
}

var toolSpecs = []ToolSpec{
	{
		Name:        "read_file",
		Description: "Read a text file in the working directory.",
		Schema:      schemaFor(ReadFileParams{}),
	},
	{
		Name:        "write_file",
		Description: "Create or overwrite a file in the working directory.",
		Schema:      schemaFor(WriteFileParams{}),
	},
	{
		Name:        "list_files",
		Description: "List files and directories in the working directory.",
		Schema:      schemaFor(ListFilesParams{}),
	},
	{
		Name:        "run_command",
		Description: "Run a shell command in the working directory and return its combined output.",
		Schema:      schemaFor(RunCommandParams{}),
	},
}

func schemaFor(v any) *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	return reflector.Reflect(v)
}

// Toolbox executes tool calls for one request, confined to a root
// directory, and records the side effects.
type Toolbox struct {
	root   string
	runner CommandRunner
	logger *slog.Logger

	mu      sync.Mutex
	actions []Action
}

// NewToolbox returns a toolbox rooted at root. A nil runner uses RunCommand.
func NewToolbox(root string, runner CommandRunner, logger *slog.Logger) (*Toolbox, error) {
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	if runner == nil {
		runner = RunCommand
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Toolbox{root: abs, runner: runner, logger: logger}, nil
}

// Specs lists the available tools.
func (t *Toolbox) Specs() []ToolSpec {
	return toolSpecs
}

// Root returns the absolute working directory.
func (t *Toolbox) Root() string {
	return t.root
}

// Actions returns the side effects recorded so far.
func (t *Toolbox) Actions() []Action {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Action(nil), t.actions...)
}

func (t *Toolbox) record(a Action) {
	t.mu.Lock()
	t.actions = append(t.actions, a)
	t.mu.Unlock()
}

// Execute runs a tool and returns its output. Failures the agent can act on
// (bad arguments, missing files, escaping paths, failing commands) come back
// as output with isError set rather than as a Go error.
func (t *Toolbox) Execute(ctx context.Context, name, arguments string) (output string, isError bool) {
	var (
		out string
		err error
	)
	switch name {
	case "read_file":
		out, err = t.readFile(arguments)
	case "write_file":
		out, err = t.writeFile(arguments)
	case "list_files":
		out, err = t.listFiles(arguments)
	case "run_command":
		out, err = t.runCommand(ctx, arguments)
	default:
		err = fmt.Errorf("unknown tool: %s", name)
	}
	if err != nil {
		t.logger.DebugContext(ctx, "tool failed", "tool", name, "error", err)
		return "Error: " + err.Error(), true
	}
	return out, false
}

func parseArgs[T any](arguments string) (T, error) {
	var v T
	if strings.TrimSpace(arguments) == "" {
		arguments = "{}"
	}
	if err := json.Unmarshal([]byte(arguments), &v); err != nil {
		return v, fmt.Errorf("parse tool arguments: %w", err)
	}
	return v, nil
}

// resolve maps a user path onto the root and rejects anything that leaves
// it, including through symlinks.
func (t *Toolbox) resolve(p string) (abs, rel string, err error) {
	p = strings.TrimSpace(p)
	if p == "" {
		p = "."
	}
	if filepath.IsAbs(p) {
		abs = filepath.Clean(p)
	} else {
		abs = filepath.Join(t.root, p)
	}
	if !t.within(abs) {
		return "", "", errors.New(errPathOutsideRoot)
	}

	// Check the deepest existing ancestor so a symlinked directory cannot
	// redirect a write.
	probe := abs
	for {
		if resolved, err := filepath.EvalSymlinks(probe); err == nil {
			if !t.within(resolved) {
				return "", "", errors.New(errPathOutsideRoot)
			}
			break
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			break
		}
		probe = parent
	}

	rel, _ = filepath.Rel(t.root, abs)
	return abs, filepath.ToSlash(rel), nil
}

func (t *Toolbox) within(abs string) bool {
	rel, err := filepath.Rel(t.root, abs)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (t *Toolbox) readFile(arguments string) (string, error) {
	params, err := parseArgs[ReadFileParams](arguments)
	if err != nil {
		return "", err
	}
	abs, _, err := t.resolve(params.Path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs) //nolint:gosec // confined to the working directory
	if err != nil {
		return "", fmt.Errorf("cannot read %s: %w", params.Path, err)
	}
	if len(data) > maxReadBytes {
		return string(data[:maxReadBytes]) + truncationNotice, nil
	}
	return string(data), nil
}

func (t *Toolbox) writeFile(arguments string) (string, error) {
	params, err := parseArgs[WriteFileParams](arguments)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(params.Path) == "" {
		return "", errors.New("path is required")
	}
	abs, rel, err := t.resolve(params.Path)
	if err != nil {
		return "", err
	}
	if abs == t.root {
		return "", errors.New("path names the working directory itself")
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("cannot create parent of %s: %w", rel, err)
	}
	if err := os.WriteFile(abs, []byte(params.Content), 0o644); err != nil { //nolint:gosec // agent-created files are ordinary project files
		return "", fmt.Errorf("cannot write %s: %w", rel, err)
	}
	t.record(Action{Kind: ActionWriteFile, Path: rel, Detail: fmt.Sprintf("%d bytes", len(params.Content))})
	return fmt.Sprintf("Wrote %d bytes to %s", len(params.Content), rel), nil
}

func (t *Toolbox) listFiles(arguments string) (string, error) {
	params, err := parseArgs[ListFilesParams](arguments)
	if err != nil {
		return "", err
	}
	abs, _, err := t.resolve(params.Path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("cannot list %s: %w", params.Path, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", params.Path)
	}

	var entries []string
	truncated := false
	walkErr := filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if p == abs {
			return nil
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		if len(entries) >= maxListEntries {
			truncated = true
			return fs.SkipAll
		}
		rel, _ := filepath.Rel(t.root, p)
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			rel += "/"
		}
		entries = append(entries, rel)
		if d.IsDir() && !params.Recursive {
			return filepath.SkipDir
		}
		return nil
	})
	if walkErr != nil {
		return "", fmt.Errorf("cannot list %s: %w", params.Path, walkErr)
	}

	if len(entries) == 0 {
		return "(empty directory)", nil
	}
	sort.Strings(entries)
	out := strings.Join(entries, "\n")
	if truncated {
		out += truncationNotice
	}
	return out, nil
}

func (t *Toolbox) runCommand(ctx context.Context, arguments string) (string, error) {
	params, err := parseArgs[RunCommandParams](arguments)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(params.Command) == "" {
		return "", errors.New("command is required")
	}
	timeout := defaultCmdTimeout
	if params.TimeoutSeconds > 0 {
		timeout = time.Duration(params.TimeoutSeconds) * time.Second
	}
	if timeout > maxCmdTimeout {
		timeout = maxCmdTimeout
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	stdout, stderr, runErr := t.runner(cmdCtx, t.root, "sh", []string{"-c", params.Command}, "")

	output := limitOutput(stdout + stderr)
	detail := "exit 0"
	if runErr != nil {
		detail = runErr.Error()
	}
	t.record(Action{Kind: ActionRunCommand, Detail: params.Command + " (" + detail + ")"})

	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if runErr != nil {
		if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("command timed out after %s\n%s", timeout, output)
		}
		return "", fmt.Errorf("%v\n%s", runErr, output)
	}
	if output == "" {
		return "(no output)", nil
	}
	return output, nil
}

func limitOutput(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	return s[:maxOutputBytes] + truncationNotice
}
