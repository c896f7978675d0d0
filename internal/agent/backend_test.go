package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bueller/bueller/internal/config"
	"github.com/bueller/bueller/internal/logging"
	"github.com/bueller/bueller/internal/types"
)

// scriptedServer replies with its bodies in order and records requests.
type scriptedServer struct {
	t      *testing.T
	mu     sync.Mutex
	steps  []scriptedReply
	bodies []map[string]any
}

type scriptedReply struct {
	status int
	body   string
}

func newScriptedServer(t *testing.T, steps ...scriptedReply) (*scriptedServer, *httptest.Server) {
	s := &scriptedServer{t: t, steps: steps}
	srv := httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(srv.Close)
	return s, srv
}

func (s *scriptedServer) serve(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)

	s.mu.Lock()
	s.bodies = append(s.bodies, body)
	if len(s.steps) == 0 {
		s.mu.Unlock()
		http.Error(w, `{"error":"script exhausted"}`, http.StatusTeapot)
		return
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(step.status)
	_, _ = io.WriteString(w, step.body)
}

func (s *scriptedServer) requests() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.bodies...)
}

func helloRequest(workDir string) Request {
	return Request{
		IssueName: "p1-001-hello.md",
		WorkDir:   workDir,
		Iteration: 1,
		Messages:  []types.Message{{Index: 0, Author: types.AuthorUser, Content: "Create hello.txt containing Hello"}},
	}
}

const anthropicToolUse = `{
  "id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
  "content": [
    {"type": "text", "text": "Creating the file."},
    {"type": "tool_use", "id": "toolu_1", "name": "write_file", "input": {"path": "hello.txt", "content": "Hello"}}
  ],
  "stop_reason": "tool_use", "stop_sequence": null,
  "usage": {"input_tokens": 10, "output_tokens": 5}
}`

const anthropicFinal = `{
  "id": "msg_2", "type": "message", "role": "assistant", "model": "claude-test",
  "content": [{"type": "text", "text": "Created hello.txt\nSTATUS: DONE"}],
  "stop_reason": "end_turn", "stop_sequence": null,
  "usage": {"input_tokens": 20, "output_tokens": 7}
}`

const anthropicOverloaded = `{"type": "error", "error": {"type": "overloaded_error", "message": "Overloaded"}}`

func newTestAnthropic(t *testing.T, baseURL string) *Anthropic {
	t.Helper()
	a, err := NewAnthropic(config.AgentConfig{
		Backend: config.BackendAnthropic,
		Model:   "claude-test",
		APIKey:  "test-key",
		BaseURL: baseURL,
		Retries: 2,
	}, logging.Discard())
	require.NoError(t, err)
	a.retry.initialInterval = time.Millisecond
	return a
}

func TestAnthropicToolLoop(t *testing.T) {
	server, srv := newScriptedServer(t,
		scriptedReply{http.StatusOK, anthropicToolUse},
		scriptedReply{http.StatusOK, anthropicFinal},
	)
	a := newTestAnthropic(t, srv.URL)
	work := t.TempDir()

	resp, err := a.Respond(context.Background(), helloRequest(work))
	require.NoError(t, err)

	assert.Equal(t, "Creating the file.\n\nCreated hello.txt\nSTATUS: DONE", resp.Content)
	assert.Equal(t, int64(30), resp.InputTokens)
	assert.Equal(t, int64(12), resp.OutputTokens)
	assert.Equal(t, []Action{{Kind: ActionWriteFile, Path: "hello.txt", Detail: "5 bytes"}}, resp.Actions)

	data, err := os.ReadFile(filepath.Join(work, "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Hello", string(data))

	reqs := server.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "claude-test", reqs[0]["model"])
	assert.Len(t, reqs[0]["tools"], 4)
	// The second request carries the tool exchange.
	assert.Len(t, reqs[1]["messages"], 3)
}

func TestAnthropicRetriesOverload(t *testing.T) {
	server, srv := newScriptedServer(t,
		scriptedReply{529, anthropicOverloaded},
		scriptedReply{http.StatusOK, anthropicFinal},
	)
	a := newTestAnthropic(t, srv.URL)

	resp, err := a.Respond(context.Background(), helloRequest(t.TempDir()))
	require.NoError(t, err)
	assert.Contains(t, resp.Content, "STATUS: DONE")
	assert.Len(t, server.requests(), 2)
}

func TestAnthropicClientErrorNotRetried(t *testing.T) {
	server, srv := newScriptedServer(t,
		scriptedReply{http.StatusBadRequest, `{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`},
	)
	a := newTestAnthropic(t, srv.URL)

	_, err := a.Respond(context.Background(), helloRequest(t.TempDir()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 attempt")
	assert.Len(t, server.requests(), 1)
}

func TestAnthropicToolRoundLimit(t *testing.T) {
	_, srv := newScriptedServer(t,
		scriptedReply{http.StatusOK, anthropicToolUse},
		scriptedReply{http.StatusOK, anthropicToolUse},
	)
	a := newTestAnthropic(t, srv.URL)
	a.maxRounds = 2

	_, err := a.Respond(context.Background(), helloRequest(t.TempDir()))
	assert.ErrorIs(t, err, ErrToolRoundsExceeded)
}

func TestAnthropicRequiresKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := NewAnthropic(config.AgentConfig{Backend: config.BackendAnthropic}, nil)
	assert.ErrorIs(t, err, ErrAPIKeyRequired)
}

const openaiToolCall = `{
  "id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-test",
  "choices": [{
    "index": 0, "finish_reason": "tool_calls",
    "message": {"role": "assistant", "content": "",
      "tool_calls": [{"id": "call_1", "type": "function",
        "function": {"name": "write_file", "arguments": "{\"path\":\"hello.txt\",\"content\":\"Hello\"}"}}]}
  }],
  "usage": {"prompt_tokens": 11, "completion_tokens": 3, "total_tokens": 14}
}`

const openaiFinal = `{
  "id": "chatcmpl-2", "object": "chat.completion", "created": 2, "model": "gpt-test",
  "choices": [{
    "index": 0, "finish_reason": "stop",
    "message": {"role": "assistant", "content": "Created hello.txt\nSTATUS: DONE"}
  }],
  "usage": {"prompt_tokens": 21, "completion_tokens": 6, "total_tokens": 27}
}`

func newTestOpenAI(t *testing.T, baseURL string) *OpenAI {
	t.Helper()
	o, err := NewOpenAI(config.AgentConfig{
		Backend: config.BackendOpenAI,
		Model:   "gpt-test",
		APIKey:  "test-key",
		BaseURL: baseURL + "/v1",
		Retries: 2,
	}, logging.Discard())
	require.NoError(t, err)
	o.retry.initialInterval = time.Millisecond
	return o
}

func TestOpenAIToolLoop(t *testing.T) {
	server, srv := newScriptedServer(t,
		scriptedReply{http.StatusOK, openaiToolCall},
		scriptedReply{http.StatusOK, openaiFinal},
	)
	o := newTestOpenAI(t, srv.URL)
	work := t.TempDir()

	resp, err := o.Respond(context.Background(), helloRequest(work))
	require.NoError(t, err)
	assert.Equal(t, "Created hello.txt\nSTATUS: DONE", resp.Content)
	assert.Equal(t, int64(32), resp.InputTokens)
	assert.Equal(t, int64(9), resp.OutputTokens)
	require.Len(t, resp.Actions, 1)
	assert.Equal(t, "hello.txt", resp.Actions[0].Path)

	data, err := os.ReadFile(filepath.Join(work, "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Hello", string(data))

	reqs := server.requests()
	require.Len(t, reqs, 2)
	// system, user, assistant tool call, tool result
	assert.Len(t, reqs[1]["messages"], 4)
}

func TestOpenAIRetriesServerError(t *testing.T) {
	server, srv := newScriptedServer(t,
		scriptedReply{http.StatusServiceUnavailable, `{"error":{"message":"unavailable","type":"server_error"}}`},
		scriptedReply{http.StatusOK, openaiFinal},
	)
	o := newTestOpenAI(t, srv.URL)

	resp, err := o.Respond(context.Background(), helloRequest(t.TempDir()))
	require.NoError(t, err)
	assert.Contains(t, resp.Content, "STATUS: DONE")
	assert.Len(t, server.requests(), 2)
}

func TestOpenAIRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewOpenAI(config.AgentConfig{Backend: config.BackendOpenAI}, nil)
	assert.ErrorIs(t, err, ErrAPIKeyRequired)
}

func TestNewSelectsBackend(t *testing.T) {
	g, err := New(config.AgentConfig{Backend: config.BackendCLI}, nil)
	require.NoError(t, err)
	assert.IsType(t, &CLI{}, g)

	g, err = New(config.AgentConfig{Backend: config.BackendAnthropic, APIKey: "k"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Anthropic{}, g)

	g, err = New(config.AgentConfig{Backend: config.BackendOpenAI, APIKey: "k"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &OpenAI{}, g)

	_, err = New(config.AgentConfig{Backend: "carrier-pigeon"}, nil)
	assert.True(t, errors.Is(err, config.ErrInvalidConfig))
}

func TestGatewayFunc(t *testing.T) {
	var g Gateway = GatewayFunc(func(_ context.Context, req Request) (*Response, error) {
		return &Response{Content: req.IssueName}, nil
	})
	resp, err := g.Respond(context.Background(), Request{IssueName: "x.md"})
	require.NoError(t, err)
	assert.Equal(t, "x.md", resp.Content)
}
