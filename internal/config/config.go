// Package config loads bueller run configuration.
//
// Precedence, highest first: command-line flags, BUELLER_* environment
// variables (a .env file in the working directory is loaded first and never
// overrides the real environment), the config file, built-in defaults.
//
// The config file is the first that exists of:
//
//	--config <path>
//	<issues_dir>/.bueller/config.yaml
//	./.bueller.yaml
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// ErrConfigExists is returned by WriteDefault when the file is already there.
var ErrConfigExists = errors.New("config file already exists")

const (
	// StateDirName holds bueller bookkeeping inside the issues directory.
	StateDirName = ".bueller"
	// FileName is the config file name inside StateDirName.
	FileName = "config.yaml"
	// LocalFileName is the fallback config file in the working directory.
	LocalFileName = ".bueller.yaml"

	envPrefix = "BUELLER"
)

// Backend names.
const (
	BackendCLI       = "cli"
	BackendAnthropic = "anthropic"
	BackendOpenAI    = "openai"
)

// DefaultContinuePrompt is appended as a user turn when the agent neither
// finishes nor gives up and budget remains.
const DefaultContinuePrompt = "Continue working on this issue. When you finish your reply, end it with a single line: STATUS: DONE, STATUS: CONTINUE or STATUS: STUCK."

// Defaults
const (
	DefaultIssuesDir     = "issues"
	DefaultMaxIterations = 10
	DefaultTimeout       = 30 * time.Minute
	DefaultConcurrency   = 1
	DefaultCommand       = "claude"
	DefaultMaxTokens     = 8192
	DefaultMaxToolRounds = 50
	DefaultRetries       = 4
)

// DefaultArgs are passed to the agent CLI. The prompt goes on stdin.
var DefaultArgs = []string{"--print", "--output-format", "json", "--dangerously-skip-permissions"}

// FlagKeys maps command-line flag names to config keys. Only flags present
// in the FlagSet handed to Load are bound.
var FlagKeys = map[string]string{
	"issues-dir":     "issues_dir",
	"max-iterations": "max_iterations",
	"timeout":        "timeout",
	"timeout-ms":     "timeout_ms",
	"concurrency":    "concurrency",
	"work-dir":       "work_dir",
	"backend":        "agent.backend",
	"model":          "agent.model",
}

// Config is the resolved run configuration.
type Config struct {
	IssuesDir      string
	MaxIterations  int
	Timeout        time.Duration // Whole-run limit; 0 disables it
	Concurrency    int
	WorkDir        string // Agent working directory; empty means the current directory
	ContinuePrompt string
	Agent          AgentConfig

	// File is the config file that was read, if any.
	File string
}

// AgentConfig selects and tunes the agent backend.
type AgentConfig struct {
	Backend       string
	Command       string
	Args          []string
	Model         string
	MaxTokens     int
	MaxToolRounds int
	Retries       int
	APIKey        string
	BaseURL       string
}

// LoadOptions control where configuration is read from.
type LoadOptions struct {
	ConfigFile string         // Explicit config file; must exist when set
	Flags      *pflag.FlagSet // Flags to bind; may be nil
	EnvFile    string         // Defaults to .env; a missing file is ignored
}

// StateDir returns the bookkeeping directory for an issues directory.
func StateDir(issuesDir string) string {
	return filepath.Join(issuesDir, StateDirName)
}

// Path returns the default config file path for an issues directory.
func Path(issuesDir string) string {
	return filepath.Join(StateDir(issuesDir), FileName)
}

// Load resolves configuration from defaults, file, environment and flags.
func Load(opts LoadOptions) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if opts.Flags != nil {
		for flag, key := range FlagKeys {
			f := opts.Flags.Lookup(flag)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag --%s: %w", flag, err)
			}
		}
	}

	file, err := findConfigFile(opts.ConfigFile, v.GetString("issues_dir"))
	if err != nil {
		return nil, err
	}
	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", file, err)
		}
	}

	cfg := &Config{
		IssuesDir:      v.GetString("issues_dir"),
		MaxIterations:  v.GetInt("max_iterations"),
		Timeout:        v.GetDuration("timeout"),
		Concurrency:    v.GetInt("concurrency"),
		WorkDir:        v.GetString("work_dir"),
		ContinuePrompt: v.GetString("continue_prompt"),
		Agent: AgentConfig{
			Backend:       strings.ToLower(strings.TrimSpace(v.GetString("agent.backend"))),
			Command:       v.GetString("agent.command"),
			Args:          v.GetStringSlice("agent.args"),
			Model:         v.GetString("agent.model"),
			MaxTokens:     v.GetInt("agent.max_tokens"),
			MaxToolRounds: v.GetInt("agent.max_tool_rounds"),
			Retries:       v.GetInt("agent.retries"),
			APIKey:        v.GetString("agent.api_key"),
			BaseURL:       v.GetString("agent.base_url"),
		},
		File: file,
	}
	if ms := v.GetInt64("timeout_ms"); ms > 0 {
		cfg.Timeout = time.Duration(ms) * time.Millisecond
	}
	if strings.TrimSpace(cfg.ContinuePrompt) == "" {
		cfg.ContinuePrompt = DefaultContinuePrompt
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("issues_dir", DefaultIssuesDir)
	v.SetDefault("max_iterations", DefaultMaxIterations)
	v.SetDefault("timeout", DefaultTimeout)
	v.SetDefault("timeout_ms", 0)
	v.SetDefault("concurrency", DefaultConcurrency)
	v.SetDefault("work_dir", "")
	v.SetDefault("continue_prompt", DefaultContinuePrompt)
	v.SetDefault("agent.backend", BackendCLI)
	v.SetDefault("agent.command", DefaultCommand)
	v.SetDefault("agent.args", DefaultArgs)
	v.SetDefault("agent.model", "")
	v.SetDefault("agent.max_tokens", DefaultMaxTokens)
	v.SetDefault("agent.max_tool_rounds", DefaultMaxToolRounds)
	v.SetDefault("agent.retries", DefaultRetries)
	v.SetDefault("agent.api_key", "")
	v.SetDefault("agent.base_url", "")
}

func findConfigFile(explicit, issuesDir string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file %s: %w", explicit, err)
		}
		return explicit, nil
	}
	for _, candidate := range []string{Path(issuesDir), LocalFileName} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", nil
}

// Validate checks values that would make a run meaningless.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.IssuesDir) == "" {
		problems = append(problems, "issues_dir must not be empty")
	}
	if c.MaxIterations <= 0 {
		problems = append(problems, fmt.Sprintf("max_iterations must be positive, got %d", c.MaxIterations))
	}
	if c.Timeout < 0 {
		problems = append(problems, fmt.Sprintf("timeout must not be negative, got %s", c.Timeout))
	}
	if c.Concurrency < 1 {
		problems = append(problems, fmt.Sprintf("concurrency must be at least 1, got %d", c.Concurrency))
	}
	switch c.Agent.Backend {
	case BackendCLI:
		if strings.TrimSpace(c.Agent.Command) == "" {
			problems = append(problems, "agent.command must not be empty for the cli backend")
		}
	case BackendAnthropic, BackendOpenAI:
	default:
		problems = append(problems, fmt.Sprintf("unknown agent.backend %q (expected cli, anthropic or openai)", c.Agent.Backend))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
