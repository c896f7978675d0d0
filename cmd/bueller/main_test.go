package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/bueller/bueller/internal/controller"
	"github.com/bueller/bueller/internal/conversation"
	"github.com/bueller/bueller/internal/storage/fsstore"
	"github.com/bueller/bueller/internal/types"
	"github.com/bueller/bueller/internal/ui"
)

func plainPrinter(buf *bytes.Buffer) *ui.Printer {
	return ui.NewPrinter(buf, ui.WithColor(false))
}

func TestIssueName(t *testing.T) {
	tests := map[string]string{
		"p1-001-hello.md":              "p1-001-hello.md",
		"p1-001-hello":                 "p1-001-hello.md",
		"issues/open/p1-001-hello.md":  "p1-001-hello.md",
		"  issues/stuck/p2-004-x.md  ": "p2-004-x.md",
	}
	for in, want := range tests {
		assert.Equal(t, want, issueName(in), in)
	}
}

func TestCreateIssue(t *testing.T) {
	ctx := context.Background()
	store := fsstore.New(t.TempDir())
	require.NoError(t, store.Init(ctx))

	name, err := createIssue(ctx, store, "Say Hello!", "", 1)
	require.NoError(t, err)
	assert.Equal(t, "p1-001-say-hello.md", name)

	issue, err := store.Load(ctx, types.LifecycleOpen, name)
	require.NoError(t, err)
	require.Len(t, issue.Messages, 1)
	assert.Equal(t, types.AuthorUser, issue.Messages[0].Author)
	assert.Equal(t, "Say Hello!", issue.Messages[0].Content)

	// Sequences continue past issues in other lifecycles.
	require.NoError(t, store.Move(ctx, name, types.LifecycleOpen, types.LifecycleReview))
	name, err = createIssue(ctx, store, "second", "Do the second thing.\n", 2)
	require.NoError(t, err)
	assert.Equal(t, "p2-002-second.md", name)

	issue, err = store.Load(ctx, types.LifecycleOpen, name)
	require.NoError(t, err)
	assert.Equal(t, "Do the second thing.", issue.Messages[0].Content)

	_, err = createIssue(ctx, store, "!!!", "", 2)
	require.NoError(t, err, "falls back to a generic slug")
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := fsstore.New(root)
	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.Create(ctx, "p1-001-a.md", "@user: a\n"))
	require.NoError(t, store.Create(ctx, "p1-002-b.md", "@user: b\n"))
	require.NoError(t, store.Move(ctx, "p1-002-b.md", types.LifecycleOpen, types.LifecycleStuck))

	old := time.Now().Add(-72 * time.Hour)
	require.NoError(t, os.Chtimes(store.Path(types.LifecycleOpen, "p1-001-a.md"), old, old))

	report, err := buildStatus(ctx, store, nil)
	require.NoError(t, err)
	require.Len(t, report.Lifecycles, 3)
	assert.Equal(t, 1, report.Lifecycles[0].Count)
	assert.Equal(t, 0, report.Lifecycles[1].Count)
	assert.Equal(t, "p1-002-b.md", report.Lifecycles[2].Issues[0].Name)

	since := time.Now().Add(-24 * time.Hour)
	report, err = buildStatus(ctx, store, &since)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Lifecycles[0].Count)
	assert.Equal(t, 1, report.Lifecycles[2].Count)

	var buf bytes.Buffer
	require.NoError(t, writeStatus(&buf, plainPrinter(&buf), report, "text"))
	assert.Contains(t, buf.String(), "OPEN (0)")
	assert.Contains(t, buf.String(), "STUCK (1)")
	assert.Contains(t, buf.String(), "p1-002-b.md")

	buf.Reset()
	require.NoError(t, writeStatus(&buf, plainPrinter(&buf), report, "yaml"))
	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Contains(t, decoded, "lifecycles")

	buf.Reset()
	require.NoError(t, writeStatus(&buf, plainPrinter(&buf), report, "json"))
	assert.True(t, strings.HasPrefix(buf.String(), "{"))

	assert.Error(t, writeStatus(&buf, plainPrinter(&buf), report, "xml"))
}

func TestConversationMarkdown(t *testing.T) {
	issue := conversation.Parse("@user: Make hello.txt\n\n---\n\n@claude: Done.\n\nSTATUS: DONE\n")
	issue.Name = "p1-001-hello.md"
	issue.Lifecycle = types.LifecycleReview

	md := conversationMarkdown(issue)
	assert.Contains(t, md, "# p1-001-hello.md")
	assert.Contains(t, md, "*review*")
	assert.Contains(t, md, "## @user\n\nMake hello.txt\n")
	assert.Contains(t, md, "## @claude\n\nDone.")
	assert.True(t, strings.HasSuffix(md, "*STATUS: DONE*\n"))

	empty := conversationMarkdown(&types.Issue{Name: "p1-002-x.md", Lifecycle: types.LifecycleOpen})
	assert.Contains(t, empty, "(no conversation)")
}

func TestPrintRun(t *testing.T) {
	var buf bytes.Buffer
	p := plainPrinter(&buf)

	printRunResult(p, controller.Result{Name: "p1-001-a.md", State: types.StateDone, Iterations: 1, To: types.LifecycleReview})
	printRunResult(p, controller.Result{Name: "p1-002-b.md", State: types.StateTimedOut, Iterations: 2, Err: controller.ErrTimeout})
	printRunResult(p, controller.Result{Name: "p1-003-c.md", State: types.StateFailed, Err: errors.New("agent exploded\ndetails")})
	out := buf.String()
	assert.Contains(t, out, "p1-001-a.md → review (done, 1 iteration,")
	assert.Contains(t, out, "p1-002-b.md (timeout) (timeout, 2 iterations,")
	assert.Contains(t, out, "    agent exploded\n")
	assert.NotContains(t, out, "details")

	buf.Reset()
	printRunSummary(p, controller.NewSummary("run-1", []controller.Result{
		{Name: "p1-001-a.md", State: types.StateDone, To: types.LifecycleReview},
		{Name: "p1-002-b.md", State: types.StateTimedOut},
	}))
	out = buf.String()
	assert.Contains(t, out, "Total:  2")
	assert.Contains(t, out, "Passed: 1")
	assert.Contains(t, out, "Failed: 1")
	assert.Contains(t, out, "  - p1-002-b.md (timeout)\n")

	buf.Reset()
	printRunSummary(p, controller.NewSummary("run-2", nil))
	assert.Contains(t, buf.String(), "No open issues")
}

func TestVersionString(t *testing.T) {
	assert.Equal(t, Version+" ("+Build+")", fullVersionString(""))
	assert.Equal(t, Version+" ("+Build+": 0123456789ab)", fullVersionString("0123456789abcdef"))
}

func TestOutputJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, outputJSON(&buf, map[string]int{"a": 1}))
	assert.Equal(t, "{\n  \"a\": 1\n}\n", buf.String())
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"run", "init", "new", "status", "show", "reply", "watch", "fixtures", "version"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
	for _, name := range []string{"run", "watch"} {
		cmd, _, _ := rootCmd.Find([]string{name})
		for _, flag := range []string{"max-iterations", "timeout", "timeout-ms", "concurrency", "work-dir", "backend", "model"} {
			assert.NotNil(t, cmd.Flags().Lookup(flag), "%s --%s", name, flag)
		}
	}
}
