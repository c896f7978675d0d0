package fixture

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bueller/bueller/internal/agent"
	"github.com/bueller/bueller/internal/logging"
	"github.com/bueller/bueller/internal/ui"
)

const helloExpect = `
description = "creates hello.txt"
exists = ["hello.txt", "issues/review/p1-001-hello.md"]
not_exists = ["issues/open/p1-001-hello.md"]

[[contains]]
file = "hello.txt"
text = "Hello, World!"

[[contains]]
file = "issues/review/p1-001-hello.md"
text = "@claude:"
`

func addFixture(t *testing.T, dir, name, expect string) {
	t.Helper()
	writeFile(t, filepath.Join(dir, name, SetupDir, "open", "p1-001-hello.md"),
		"@user: Create hello.txt containing Hello, World!\n")
	if expect != "" {
		writeFile(t, filepath.Join(dir, name, ExpectFile), expect)
	}
}

// helloGateway writes hello.txt into the working directory and finishes.
func helloGateway() agent.Gateway {
	return agent.GatewayFunc(func(_ context.Context, req agent.Request) (*agent.Response, error) {
		if err := os.WriteFile(filepath.Join(req.WorkDir, "hello.txt"), []byte("Hello, World!\n"), 0o644); err != nil {
			return nil, err
		}
		return &agent.Response{Content: "Created hello.txt.\n\nSTATUS: DONE"}, nil
	})
}

func newRunner(t *testing.T, gw agent.Gateway) *Runner {
	t.Helper()
	base := t.TempDir()
	return &Runner{
		Dir:      filepath.Join(base, "fixtures"),
		TempBase: filepath.Join(base, "tmp"),
		Gateway:  gw,
		Logger:   logging.Discard(),
	}
}

func TestRunnerPasses(t *testing.T) {
	r := newRunner(t, helloGateway())
	addFixture(t, r.Dir, "simple-task", helloExpect)

	var seen []string
	r.OnResult = func(res Result) { seen = append(seen, res.Name) }

	s, err := r.RunAll(context.Background())
	require.NoError(t, err)
	assert.True(t, s.OK())
	assert.Equal(t, 1, s.Total)
	assert.Equal(t, 1, s.Passed)
	assert.Equal(t, []string{"simple-task"}, seen)

	res := s.Results[0]
	assert.NoError(t, res.Err)
	assert.FileExists(t, filepath.Join(res.Dir, OutputFile))
	assert.FileExists(t, filepath.Join(res.Dir, "issues", "review", "p1-001-hello.md"))
}

func TestRunnerReportsAssertionFailures(t *testing.T) {
	gw := agent.GatewayFunc(func(context.Context, agent.Request) (*agent.Response, error) {
		return &agent.Response{Content: "I can't do that.\n\nSTATUS: STUCK"}, nil
	})
	r := newRunner(t, gw)
	addFixture(t, r.Dir, "simple-task", helloExpect)

	s, err := r.RunAll(context.Background())
	require.NoError(t, err)
	assert.False(t, s.OK())
	assert.Equal(t, []string{"simple-task"}, s.FailedNames())
	assert.Contains(t, s.Results[0].Err.Error(), "File does not exist: hello.txt")
}

func TestRunnerTimeout(t *testing.T) {
	gw := agent.GatewayFunc(func(ctx context.Context, _ agent.Request) (*agent.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	r := newRunner(t, gw)
	addFixture(t, r.Dir, "slow", "timeout = \"100ms\"\nexists = [\"hello.txt\"]\n")

	s, err := r.RunAll(context.Background())
	require.NoError(t, err)
	require.Len(t, s.Results, 1)
	assert.True(t, s.Results[0].Timeout)
	assert.Equal(t, []string{"slow (timeout)"}, s.FailedNames())
}

func TestRunnerBrokenFixtures(t *testing.T) {
	r := newRunner(t, helloGateway())
	addFixture(t, r.Dir, "no-expect", "")
	writeFile(t, filepath.Join(r.Dir, "no-setup", ExpectFile), "exists = [\"a\"]\n")

	s, err := r.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, s.Failed)
	assert.Contains(t, s.Results[0].Err.Error(), "expect.toml")
	assert.Contains(t, s.Results[1].Err.Error(), "setup directory not found")

	res := r.Run(context.Background(), "missing")
	assert.False(t, res.Passed)
	assert.Contains(t, res.Err.Error(), "fixture directory not found")
}

func TestRunnerNoFixtures(t *testing.T) {
	r := newRunner(t, helloGateway())
	require.NoError(t, os.MkdirAll(r.Dir, 0o755))
	_, err := r.RunAll(context.Background())
	assert.True(t, errors.Is(err, ErrNoFixtures))

	r.Dir = filepath.Join(r.Dir, "absent")
	_, err = r.RunAll(context.Background())
	assert.Error(t, err)
}

func TestRunnerNamedFixtures(t *testing.T) {
	r := newRunner(t, helloGateway())
	addFixture(t, r.Dir, "a", helloExpect)
	addFixture(t, r.Dir, "b", helloExpect)

	s, err := r.RunAll(context.Background(), "b")
	require.NoError(t, err)
	require.Equal(t, 1, s.Total)
	assert.Equal(t, "b", s.Results[0].Name)
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	p := ui.NewPrinter(&buf, ui.WithColor(false))
	PrintSummary(p, Summary{Total: 1, Passed: 1, Results: []Result{{Name: "a", Passed: true}}})
	out := buf.String()
	assert.Contains(t, out, "Test Results")
	assert.Contains(t, out, "Total:  1")
	assert.Contains(t, out, "Failed: 0")
	assert.Contains(t, out, "All tests passed!")

	buf.Reset()
	PrintSummary(p, Summary{
		Total: 2, Passed: 0, Failed: 2, TempBase: ".test-tmp",
		Results: []Result{{Name: "a", Err: errors.New("x")}, {Name: "b", Timeout: true, Err: errors.New("y")}},
	})
	out = buf.String()
	assert.Contains(t, out, "Failed tests:")
	assert.Contains(t, out, "  - a\n")
	assert.Contains(t, out, "  - b (timeout)\n")
	assert.Contains(t, out, "Test artifacts preserved in: .test-tmp")
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	p := ui.NewPrinter(&buf, ui.WithColor(false))
	PrintResult(p, Result{Name: "a", Err: errors.New("FAIL: one\nFAIL: two")})
	assert.Contains(t, buf.String(), "    FAIL: one\n    FAIL: two\n")
}

func TestResultJSON(t *testing.T) {
	data, err := Result{Name: "slow", Timeout: true, Err: errors.New("took too long")}.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"slow","passed":false,"timeout":true,"error":"took too long","duration_ms":0}`, string(data))
}
