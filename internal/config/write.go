package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the on-disk layout of config.yaml.
type fileConfig struct {
	MaxIterations  int       `yaml:"max_iterations"`
	Timeout        string    `yaml:"timeout"`
	Concurrency    int       `yaml:"concurrency"`
	WorkDir        string    `yaml:"work_dir"`
	ContinuePrompt string    `yaml:"continue_prompt"`
	Agent          fileAgent `yaml:"agent"`
}

type fileAgent struct {
	Backend       string   `yaml:"backend"`
	Command       string   `yaml:"command"`
	Args          []string `yaml:"args,flow"`
	Model         string   `yaml:"model"`
	MaxTokens     int      `yaml:"max_tokens"`
	MaxToolRounds int      `yaml:"max_tool_rounds"`
	Retries       int      `yaml:"retries"`
	BaseURL       string   `yaml:"base_url,omitempty"`
}

const header = `# bueller configuration
#
# Every key can be overridden with a BUELLER_* environment variable, e.g.
# BUELLER_MAX_ITERATIONS=5 or BUELLER_AGENT_BACKEND=anthropic. API keys are
# read from BUELLER_AGENT_API_KEY, ANTHROPIC_API_KEY or OPENAI_API_KEY and are
# never written here.

`

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		IssuesDir:      DefaultIssuesDir,
		MaxIterations:  DefaultMaxIterations,
		Timeout:        DefaultTimeout,
		Concurrency:    DefaultConcurrency,
		ContinuePrompt: DefaultContinuePrompt,
		Agent: AgentConfig{
			Backend:       BackendCLI,
			Command:       DefaultCommand,
			Args:          append([]string(nil), DefaultArgs...),
			MaxTokens:     DefaultMaxTokens,
			MaxToolRounds: DefaultMaxToolRounds,
			Retries:       DefaultRetries,
		},
	}
}

// Marshal renders c as config.yaml content. IssuesDir and the API key are
// omitted: the file lives inside the issues directory and must not hold
// secrets.
func Marshal(c *Config) ([]byte, error) {
	fc := fileConfig{
		MaxIterations:  c.MaxIterations,
		Timeout:        c.Timeout.String(),
		Concurrency:    c.Concurrency,
		WorkDir:        c.WorkDir,
		ContinuePrompt: c.ContinuePrompt,
		Agent: fileAgent{
			Backend:       c.Agent.Backend,
			Command:       c.Agent.Command,
			Args:          c.Agent.Args,
			Model:         c.Agent.Model,
			MaxTokens:     c.Agent.MaxTokens,
			MaxToolRounds: c.Agent.MaxToolRounds,
			Retries:       c.Agent.Retries,
			BaseURL:       c.Agent.BaseURL,
		},
	}
	body, err := yaml.Marshal(&fc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return append([]byte(header), body...), nil
}

// WriteDefault writes the default configuration to path, creating parent
// directories. An existing file is left untouched and ErrConfigExists is
// returned.
func WriteDefault(path string) error {
	data, err := Marshal(Defaults())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600) //nolint:gosec // path is chosen by the caller
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%s: %w", path, ErrConfigExists)
		}
		return fmt.Errorf("failed to create config: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write config: %w", err)
	}
	return f.Close()
}
