package ui

import (
	"github.com/charmbracelet/glamour"
)

// maxReadableWidth caps word wrap; wider lines are hard to scan.
const maxReadableWidth = 100

// RenderMarkdown renders markdown text using glamour.
// Returns the original text when the printer is uncolored or rendering fails.
// Word wraps at terminal width (or 80 columns if width can't be detected).
func (p *Printer) RenderMarkdown(markdown string) string {
	if !p.color {
		return markdown
	}

	wrapWidth := Width(p.w, 80)
	if wrapWidth > maxReadableWidth {
		wrapWidth = maxReadableWidth
	}

	style := "light"
	if p.renderer.HasDarkBackground() {
		style = "dark"
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithColorProfile(p.renderer.ColorProfile()),
		glamour.WithWordWrap(wrapWidth),
	)
	if err != nil {
		return markdown
	}

	rendered, err := renderer.Render(markdown)
	if err != nil {
		return markdown
	}
	return rendered
}
