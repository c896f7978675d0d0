package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate runs the test from an empty working directory so stray .env or
// .bueller.yaml files do not leak in.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(LoadOptions{})
	require.NoError(t, err)

	assert.Equal(t, DefaultIssuesDir, cfg.IssuesDir)
	assert.Equal(t, DefaultMaxIterations, cfg.MaxIterations)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, DefaultConcurrency, cfg.Concurrency)
	assert.Equal(t, DefaultContinuePrompt, cfg.ContinuePrompt)
	assert.Equal(t, BackendCLI, cfg.Agent.Backend)
	assert.Equal(t, DefaultArgs, cfg.Agent.Args)
	assert.Empty(t, cfg.File)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFileInIssuesDir(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "issues", ".bueller", "config.yaml"), `
max_iterations: 3
timeout: 2m
agent:
  backend: anthropic
  model: claude-sonnet-4-5
`)

	cfg, err := Load(LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxIterations)
	assert.Equal(t, 2*time.Minute, cfg.Timeout)
	assert.Equal(t, BackendAnthropic, cfg.Agent.Backend)
	assert.Equal(t, "claude-sonnet-4-5", cfg.Agent.Model)
	assert.Equal(t, Path("issues"), cfg.File)
}

func TestLoadLocalFallbackFile(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, LocalFileName), "concurrency: 3\n")

	cfg, err := Load(LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Concurrency)
	assert.Equal(t, LocalFileName, cfg.File)
}

func TestLoadExplicitFileMustExist(t *testing.T) {
	dir := isolate(t)
	_, err := Load(LoadOptions{ConfigFile: filepath.Join(dir, "nope.yaml")})
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPrecedence(t *testing.T) {
	dir := isolate(t)
	file := filepath.Join(dir, "custom.yaml")
	writeFile(t, file, "max_iterations: 3\nconcurrency: 2\ntimeout: 1m\n")
	t.Setenv("BUELLER_MAX_ITERATIONS", "5")
	t.Setenv("BUELLER_CONCURRENCY", "6")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("max-iterations", DefaultMaxIterations, "")
	flags.Int("concurrency", DefaultConcurrency, "")
	flags.Duration("timeout", DefaultTimeout, "")
	require.NoError(t, flags.Parse([]string{"--max-iterations=9"}))

	cfg, err := Load(LoadOptions{ConfigFile: file, Flags: flags})
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.MaxIterations, "flag beats env and file")
	assert.Equal(t, 6, cfg.Concurrency, "env beats file")
	assert.Equal(t, time.Minute, cfg.Timeout, "file beats unchanged flag default")
}

func TestTimeoutMillisecondsAlias(t *testing.T) {
	isolate(t)
	t.Setenv("BUELLER_TIMEOUT_MS", "60000")

	cfg, err := Load(LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.Timeout)
}

func TestNestedAgentEnv(t *testing.T) {
	isolate(t)
	t.Setenv("BUELLER_AGENT_BACKEND", "OpenAI")
	t.Setenv("BUELLER_AGENT_API_KEY", "sk-test")

	cfg, err := Load(LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, BackendOpenAI, cfg.Agent.Backend)
	assert.Equal(t, "sk-test", cfg.Agent.APIKey)
}

func TestDotEnvFile(t *testing.T) {
	dir := isolate(t)
	const key = "BUELLER_WORK_DIR"
	if _, set := os.LookupEnv(key); set {
		t.Skipf("%s already set in environment", key)
	}
	t.Cleanup(func() { _ = os.Unsetenv(key) })
	writeFile(t, filepath.Join(dir, ".env"), key+"=/tmp/agent-work\n")

	cfg, err := Load(LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/agent-work", cfg.WorkDir)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero iterations", func(c *Config) { c.MaxIterations = 0 }},
		{"negative timeout", func(c *Config) { c.Timeout = -time.Second }},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }},
		{"unknown backend", func(c *Config) { c.Agent.Backend = "gemini" }},
		{"empty command", func(c *Config) { c.Agent.Command = " " }},
		{"empty issues dir", func(c *Config) { c.IssuesDir = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}

	cfg := Defaults()
	cfg.Timeout = 0
	assert.NoError(t, cfg.Validate(), "zero timeout disables the limit")
}

func TestWriteDefaultRoundTrip(t *testing.T) {
	dir := isolate(t)
	path := Path(filepath.Join(dir, "issues"))

	require.NoError(t, WriteDefault(path))
	err := WriteDefault(path)
	assert.ErrorIs(t, err, ErrConfigExists)

	cfg, err := Load(LoadOptions{ConfigFile: path})
	require.NoError(t, err)

	want := Defaults()
	want.File = path
	assert.Equal(t, want, cfg)
}
