package output

import (
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

const (
	defaultMarkdownWidth = 80
	minMarkdownWidth     = 20
)

// IsTerminal reports whether stdout is a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// IsInteractive reports whether both stdin and stdout are terminals, so a
// form can be shown.
func IsInteractive() bool {
	return IsTerminal() && term.IsTerminal(int(os.Stdin.Fd()))
}

// TerminalWidth returns the current terminal width, then $COLUMNS, then fallback.
func TerminalWidth(fallback int) int {
	if fallback <= 0 {
		fallback = defaultMarkdownWidth
	}
	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 {
		return width
	}
	if parsed, err := strconv.Atoi(os.Getenv("COLUMNS")); err == nil && parsed > 0 {
		return parsed
	}
	return fallback
}

// RenderNoteBody renders a note body as markdown when stdout is a terminal
// and returns it unchanged otherwise.
func RenderNoteBody(body string) string {
	if !IsTerminal() {
		return body
	}
	out, err := RenderMarkdown(body, TerminalWidth(defaultMarkdownWidth))
	if err != nil {
		return body
	}
	return out
}

// RenderMarkdown renders markdown with Glamour wrapped at width.
func RenderMarkdown(text string, width int) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	width = max(width, minMarkdownWidth)

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}
	rendered, err := renderer.Render(text)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(rendered, "\n"), nil
}
