// Package ui provides terminal styling for bueller CLI output.
// Uses the Ayu color theme with adaptive light/dark mode support.
//
// Styling is bound to a writer: each Printer owns a lipgloss renderer
// detected from its own io.Writer, so stdout and stderr can differ (one
// piped, one a terminal) and tests can capture plain text.
package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Ayu theme color palette
// Dark: https://terminalcolors.com/themes/ayu/dark/
// Light: https://terminalcolors.com/themes/ayu/light/
var (
	ColorPass = lipgloss.AdaptiveColor{
		Light: "#86b300", // ayu light bright green
		Dark:  "#c2d94c", // ayu dark bright green
	}
	ColorWarn = lipgloss.AdaptiveColor{
		Light: "#f2ae49", // ayu light bright yellow
		Dark:  "#ffb454", // ayu dark bright yellow
	}
	ColorFail = lipgloss.AdaptiveColor{
		Light: "#f07171", // ayu light bright red
		Dark:  "#f07178", // ayu dark bright red
	}
	ColorMuted = lipgloss.AdaptiveColor{
		Light: "#828c99", // ayu light muted
		Dark:  "#6c7680", // ayu dark muted
	}
	ColorAccent = lipgloss.AdaptiveColor{
		Light: "#399ee6", // ayu light bright blue
		Dark:  "#59c2ff", // ayu dark bright blue
	}
)

// Status icons
const (
	IconPass = "✓"
	IconWarn = "⚠"
	IconFail = "✗"
	IconSkip = "-"
	IconInfo = "ℹ"
)

// SeparatorLight is a horizontal rule for summaries.
const SeparatorLight = "──────────────────────────────────────────"

// Printer writes styled text to one writer.
type Printer struct {
	w        io.Writer
	renderer *lipgloss.Renderer
	color    bool

	pass, warn, fail, muted, accent, category, bold lipgloss.Style
}

// Option configures a Printer.
type Option func(*printerOptions)

type printerOptions struct {
	color *bool
}

// WithColor forces color on or off regardless of terminal detection.
func WithColor(on bool) Option {
	return func(o *printerOptions) { o.color = &on }
}

// NewPrinter returns a Printer for w. Color is enabled when w is a terminal,
// subject to NO_COLOR, CLICOLOR and CLICOLOR_FORCE.
func NewPrinter(w io.Writer, opts ...Option) *Printer {
	var o printerOptions
	for _, opt := range opts {
		opt(&o)
	}

	color := ShouldUseColor(w)
	if o.color != nil {
		color = *o.color
	}

	r := lipgloss.NewRenderer(w)
	switch {
	case !color:
		r.SetColorProfile(termenv.Ascii)
	case !IsTerminal(w):
		// Forced color on a pipe: pick a profile and skip background queries.
		r.SetColorProfile(termenv.ANSI256)
		r.SetHasDarkBackground(true)
	}

	p := &Printer{w: w, renderer: r, color: color}
	p.pass = r.NewStyle().Foreground(ColorPass)
	p.warn = r.NewStyle().Foreground(ColorWarn)
	p.fail = r.NewStyle().Foreground(ColorFail)
	p.muted = r.NewStyle().Foreground(ColorMuted)
	p.accent = r.NewStyle().Foreground(ColorAccent)
	p.category = r.NewStyle().Bold(true).Foreground(ColorAccent)
	p.bold = r.NewStyle().Bold(true)
	return p
}

// Writer returns the underlying writer.
func (p *Printer) Writer() io.Writer { return p.w }

// Color reports whether output is styled.
func (p *Printer) Color() bool { return p.color }

// Pass renders text with pass (green) styling
func (p *Printer) Pass(s string) string { return p.pass.Render(s) }

// Warn renders text with warning (yellow) styling
func (p *Printer) Warn(s string) string { return p.warn.Render(s) }

// Fail renders text with fail (red) styling
func (p *Printer) Fail(s string) string { return p.fail.Render(s) }

// Muted renders text with muted (gray) styling
func (p *Printer) Muted(s string) string { return p.muted.Render(s) }

// Accent renders text with accent (blue) styling
func (p *Printer) Accent(s string) string { return p.accent.Render(s) }

// Bold renders text in bold.
func (p *Printer) Bold(s string) string { return p.bold.Render(s) }

// Category renders a section header in uppercase with accent color
func (p *Printer) Category(s string) string { return p.category.Render(strings.ToUpper(s)) }

// Separator renders the light separator line in muted color
func (p *Printer) Separator() string { return p.muted.Render(SeparatorLight) }

// PassIcon renders the pass icon with styling
func (p *Printer) PassIcon() string { return p.pass.Render(IconPass) }

// WarnIcon renders the warning icon with styling
func (p *Printer) WarnIcon() string { return p.warn.Render(IconWarn) }

// FailIcon renders the fail icon with styling
func (p *Printer) FailIcon() string { return p.fail.Render(IconFail) }

// SkipIcon renders the skip icon with styling
func (p *Printer) SkipIcon() string { return p.muted.Render(IconSkip) }

// InfoIcon renders the info icon with styling
func (p *Printer) InfoIcon() string { return p.accent.Render(IconInfo) }

// Printf writes formatted text.
func (p *Printer) Printf(format string, a ...any) {
	_, _ = fmt.Fprintf(p.w, format, a...)
}

// Println writes a line.
func (p *Printer) Println(a ...any) {
	_, _ = fmt.Fprintln(p.w, a...)
}
