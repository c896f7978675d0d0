// Package naming builds and parses issue file names of the form
// p<priority>-<sequence>-<slug>.md, e.g. p1-001-hello.md. Lexical order of
// these names is processing order.
package naming

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultPriority is used when none is given.
const DefaultPriority = 2

// MaxPriority is the lowest priority (highest number) accepted.
const MaxPriority = 9

var (
	// ErrEmptySlug is returned when neither title nor fallback yields a slug.
	ErrEmptySlug = errors.New("slug cannot be empty")

	nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)
	namePattern  = regexp.MustCompile(`^p(\d+)-(\d+)-([a-z0-9][a-z0-9-]*)\.md$`)
)

// maxSlugLen keeps generated names readable in a directory listing.
const maxSlugLen = 48

// Name is a parsed issue file name.
type Name struct {
	Priority int
	Sequence int
	Slug     string
}

// String renders the file name.
func (n Name) String() string {
	return FileName(n.Priority, n.Sequence, n.Slug)
}

// Slugify lowercases input and collapses runs of other characters to '-'.
// When input produces nothing, fallback is tried.
func Slugify(input, fallback string) (string, error) {
	slug := slugify(input)
	if slug == "" {
		slug = slugify(fallback)
	}
	if slug == "" {
		return "", ErrEmptySlug
	}
	return slug, nil
}

func slugify(s string) string {
	lower := strings.ToLower(strings.TrimSpace(s))
	slug := strings.Trim(nonSlugChars.ReplaceAllString(lower, "-"), "-")
	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(slug[:maxSlugLen], "-")
	}
	return slug
}

// FileName formats an issue file name. Sequences are zero-padded to three
// digits so that up to 999 issues sort correctly.
func FileName(priority, sequence int, slug string) string {
	return fmt.Sprintf("p%d-%03d-%s.md", priority, sequence, slug)
}

// Parse splits a file name into its parts.
func Parse(name string) (Name, error) {
	m := namePattern.FindStringSubmatch(name)
	if m == nil {
		return Name{}, fmt.Errorf("issue name %q does not match p<priority>-<sequence>-<slug>.md", name)
	}
	priority, err := strconv.Atoi(m[1])
	if err != nil {
		return Name{}, fmt.Errorf("issue name %q: priority: %w", name, err)
	}
	seq, err := strconv.Atoi(m[2])
	if err != nil {
		return Name{}, fmt.Errorf("issue name %q: sequence: %w", name, err)
	}
	return Name{Priority: priority, Sequence: seq, Slug: m[3]}, nil
}

// NextSequence returns one more than the highest sequence among names.
// Names that do not parse are ignored.
func NextSequence(names []string) int {
	highest := 0
	for _, name := range names {
		n, err := Parse(name)
		if err != nil {
			continue
		}
		if n.Sequence > highest {
			highest = n.Sequence
		}
	}
	return highest + 1
}

// ValidatePriority checks that p is within 0..MaxPriority.
func ValidatePriority(p int) error {
	if p < 0 || p > MaxPriority {
		return fmt.Errorf("priority must be between 0 and %d, got %d", MaxPriority, p)
	}
	return nil
}
