package ui

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/term"
)

// PagerOptions controls pager behavior
type PagerOptions struct {
	// NoPager disables pager for this command (--no-pager flag)
	NoPager bool
}

// shouldUsePager determines if output to w should be piped to a pager.
// Returns false if NoPager is set, BUELLER_NO_PAGER is set, or w is not a
// terminal.
func shouldUsePager(w io.Writer, opts PagerOptions) bool {
	if opts.NoPager {
		return false
	}
	if os.Getenv("BUELLER_NO_PAGER") != "" {
		return false
	}
	return IsTerminal(w)
}

// getPagerCommand returns the pager command to use.
// Checks BUELLER_PAGER, then PAGER, defaults to "less".
func getPagerCommand() string {
	if pager := os.Getenv("BUELLER_PAGER"); pager != "" {
		return pager
	}
	if pager := os.Getenv("PAGER"); pager != "" {
		return pager
	}
	return "less"
}

func terminalHeight(w io.Writer) int {
	f, ok := w.(fdWriter)
	if !ok || !IsTerminal(w) {
		return 0
	}
	_, height, err := term.GetSize(int(f.Fd())) //nolint:gosec // fd fits in int
	if err != nil {
		return 0
	}
	return height
}

// contentHeight counts the number of lines in the content.
func contentHeight(content string) int {
	if content == "" {
		return 0
	}
	return strings.Count(content, "\n") + 1
}

// ToPager pipes content to a pager if appropriate, otherwise writes it to
// the printer's writer. Content that fits the terminal is printed directly.
func (p *Printer) ToPager(content string, opts PagerOptions) error {
	if !shouldUsePager(p.w, opts) {
		_, err := fmt.Fprint(p.w, content)
		return err
	}

	if h := terminalHeight(p.w); h > 0 && contentHeight(content) <= h-1 {
		_, err := fmt.Fprint(p.w, content)
		return err
	}

	// The pager command may include arguments like "less -R".
	parts := strings.Fields(getPagerCommand())
	if len(parts) == 0 {
		_, err := fmt.Fprint(p.w, content)
		return err
	}

	cmd := exec.Command(parts[0], parts[1:]...) // #nosec G204 - pager command is user-configurable
	cmd.Stdin = strings.NewReader(content)
	cmd.Stdout = p.w
	cmd.Stderr = os.Stderr

	// -R: allow ANSI color codes, -F: quit if one screen, -X: keep screen
	if os.Getenv("LESS") == "" {
		cmd.Env = append(os.Environ(), "LESS=-RFX")
	} else {
		cmd.Env = os.Environ()
	}
	return cmd.Run()
}
