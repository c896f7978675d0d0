package fixture

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Expect is the decoded expect.toml of a fixture. Paths are relative to the
// fixture's working directory, which holds the issues directory as issues/.
//
//	description = "creates hello.txt"
//	timeout = "60s"
//	max_iterations = 10
//	exists = ["issues/review/p1-001-hello.md", "hello.txt"]
//	not_exists = ["issues/open/p1-001-hello.md"]
//
//	[[contains]]
//	file = "hello.txt"
//	text = "Hello, World!"
//
//	[[matches]]
//	file = "issues/review/p1-001-hello.md"
//	pattern = "(?i)created"
//
//	[[count_at_least]]
//	file = "issues/review/p1-001-hello.md"
//	text = "@claude:"
//	min = 1
type Expect struct {
	Description   string     `toml:"description"`
	Timeout       Duration   `toml:"timeout"`
	MaxIterations int        `toml:"max_iterations"`
	Exists        []string   `toml:"exists"`
	NotExists     []string   `toml:"not_exists"`
	Contains      []Contains `toml:"contains"`
	Matches       []Matches  `toml:"matches"`
	CountAtLeast  []Count    `toml:"count_at_least"`
}

// Contains asserts File contains Text.
type Contains struct {
	File string `toml:"file"`
	Text string `toml:"text"`
}

// Matches asserts File matches the regular expression Pattern.
type Matches struct {
	File    string `toml:"file"`
	Pattern string `toml:"pattern"`
}

// Count asserts Text occurs in File at least Min times.
type Count struct {
	File string `toml:"file"`
	Text string `toml:"text"`
	Min  int    `toml:"min"`
}

// Duration decodes TOML strings such as "90s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// LoadExpect reads and validates an expect.toml file.
func LoadExpect(path string) (*Expect, error) {
	data, err := os.ReadFile(path) //nolint:gosec // fixture paths come from the fixtures directory
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	var e Expect
	md, err := toml.Decode(string(data), &e)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("parse %s: unknown keys %s", filepath.Base(path), strings.Join(keys, ", "))
	}

	for _, m := range e.Matches {
		if _, err := regexp.Compile(m.Pattern); err != nil {
			return nil, fmt.Errorf("parse %s: bad pattern for %s: %w", filepath.Base(path), m.File, err)
		}
	}
	if e.Timeout.Duration < 0 {
		return nil, fmt.Errorf("parse %s: negative timeout", filepath.Base(path))
	}
	if e.Assertions() == 0 {
		return nil, fmt.Errorf("parse %s: no assertions", filepath.Base(path))
	}
	return &e, nil
}

// Assertions counts the checks in e.
func (e *Expect) Assertions() int {
	return len(e.Exists) + len(e.NotExists) + len(e.Contains) + len(e.Matches) + len(e.CountAtLeast)
}

// Verify checks every assertion against root and reports all failures.
func (e *Expect) Verify(root string) error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("FAIL: "+format, args...))
	}
	read := func(file string) (string, bool) {
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(file)))
		if err != nil {
			fail("File does not exist: %s", file)
			return "", false
		}
		return string(data), true
	}

	for _, f := range e.Exists {
		if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(f))); err != nil {
			fail("File does not exist: %s", f)
		}
	}
	for _, f := range e.NotExists {
		if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(f))); err == nil {
			fail("File should not exist: %s", f)
		}
	}
	for _, c := range e.Contains {
		if content, ok := read(c.File); ok && !strings.Contains(content, c.Text) {
			fail("File %s does not contain '%s'", c.File, c.Text)
		}
	}
	for _, m := range e.Matches {
		if content, ok := read(m.File); ok && !regexp.MustCompile(m.Pattern).MatchString(content) {
			fail("File %s does not match pattern %s", m.File, m.Pattern)
		}
	}
	for _, c := range e.CountAtLeast {
		if content, ok := read(c.File); ok {
			if n := strings.Count(content, c.Text); n < c.Min {
				fail("Expected at least %d of '%s' in %s, got %d", c.Min, c.Text, c.File, n)
			}
		}
	}
	return errors.Join(errs...)
}
