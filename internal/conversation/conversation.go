// Package conversation encodes and decodes the markdown conversation format
// used by issue files.
//
// An issue file is a sequence of sections separated by a line holding only
// "---". A section is a turn when its trimmed text starts with "@user:" or
// "@claude:"; any other section is dropped without error.
//
//	@user: print hello
//	---
//
//	@claude: Created hello.txt.
//	STATUS: DONE
package conversation

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/bueller/bueller/internal/types"
)

var (
	sectionSeparator = regexp.MustCompile(`\r?\n---\r?\n`)
	turnPattern      = regexp.MustCompile(`^@(user|claude):\s*([\s\S]*)$`)
	separatorLine    = regexp.MustCompile(`(?m)^---(\r?)$`)
)

// Parse decodes issue content into its ordered turns. It never fails:
// unrecognized sections are omitted and the raw content is kept verbatim.
func Parse(content string) *types.Issue {
	issue := &types.Issue{
		Messages:   []types.Message{},
		RawContent: content,
	}

	for _, section := range sectionSeparator.Split(content, -1) {
		trimmed := strings.TrimSpace(section)
		if trimmed == "" {
			continue
		}
		m := turnPattern.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		issue.Messages = append(issue.Messages, types.Message{
			Index:   len(issue.Messages),
			Author:  types.Author(m[1]),
			Content: strings.TrimSpace(m[2]),
		})
	}

	return issue
}

// ReadIssue reads and parses the issue file at path.
func ReadIssue(path string) (*types.Issue, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the issue store
	if err != nil {
		return nil, fmt.Errorf("failed to read issue file at %s: %w", path, err)
	}
	return Parse(string(data)), nil
}

// FormatMessage formats a turn for appending to an issue file. The result is
// appended to the existing bytes as-is; prior content is never re-serialized.
// Separator lines inside content are escaped so the turn parses back whole.
func FormatMessage(author types.Author, content string) string {
	return fmt.Sprintf("---\n\n@%s: %s", author, EscapeSeparators(content))
}

// EscapeSeparators rewrites every line consisting of "---" as "***", the
// equivalent markdown rule, so it cannot split a turn in two.
func EscapeSeparators(content string) string {
	return separatorLine.ReplaceAllString(content, "***$1")
}

// LatestMessage returns the message with the highest index.
func LatestMessage(issue *types.Issue) (types.Message, bool) {
	if issue == nil || len(issue.Messages) == 0 {
		return types.Message{}, false
	}
	return issue.Messages[len(issue.Messages)-1], true
}

// MessagesByAuthor returns the messages written by author, in order.
func MessagesByAuthor(issue *types.Issue, author types.Author) []types.Message {
	var out []types.Message
	if issue == nil {
		return out
	}
	for _, msg := range issue.Messages {
		if msg.Author == author {
			out = append(out, msg)
		}
	}
	return out
}

// Render serializes the recognized turns in canonical form. It is used for
// display only; persistence always appends FormatMessage fragments.
func Render(issue *types.Issue) string {
	if issue == nil {
		return ""
	}
	var b strings.Builder
	for i, msg := range issue.Messages {
		if i == 0 {
			fmt.Fprintf(&b, "@%s: %s\n", msg.Author, msg.Content)
			continue
		}
		b.WriteString(FormatMessage(msg.Author, msg.Content))
		b.WriteString("\n")
	}
	return b.String()
}
