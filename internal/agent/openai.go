package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/bueller/bueller/internal/config"
	"github.com/bueller/bueller/internal/telemetry"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4.1"

// OpenAI drives an OpenAI-compatible chat completions endpoint with a tool
// loop.
type OpenAI struct {
	client    *openai.Client
	model     string
	maxTokens int
	maxRounds int
	retry     retryPolicy
	runner    CommandRunner
	logger    *slog.Logger
}

var _ Gateway = (*OpenAI)(nil)

// NewOpenAI returns an OpenAI gateway. OPENAI_API_KEY is used when the
// config carries no key.
func NewOpenAI(cfg config.AgentConfig, logger *slog.Logger) (*OpenAI, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set OPENAI_API_KEY or agent.api_key", ErrAPIKeyRequired)
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &OpenAI{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     model,
		maxTokens: orDefault(cfg.MaxTokens, config.DefaultMaxTokens),
		maxRounds: orDefault(cfg.MaxToolRounds, config.DefaultMaxToolRounds),
		retry:     retryPolicy{retries: cfg.Retries, retryable: isOpenAIRetryable},
		runner:    RunCommand,
		logger:    logger,
	}, nil
}

// Respond runs the tool loop until the model answers without tool calls.
func (o *OpenAI) Respond(ctx context.Context, req Request) (*Response, error) {
	ctx, span := telemetry.Tracer(instrumentationScope).Start(ctx, "openai.respond")
	defer span.End()
	span.SetAttributes(
		attribute.String("bueller.agent.model", o.model),
		attribute.String("bueller.issue", req.IssueName),
		attribute.Int("bueller.iteration", req.Iteration),
	)

	resp, err := o.respond(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int64("bueller.agent.input_tokens", resp.InputTokens),
		attribute.Int64("bueller.agent.output_tokens", resp.OutputTokens),
	)
	return resp, nil
}

func (o *OpenAI) respond(ctx context.Context, req Request) (*Response, error) {
	toolbox, err := NewToolbox(req.WorkDir, o.runner, o.logger)
	if err != nil {
		return nil, err
	}
	system, err := SystemPrompt(req)
	if err != nil {
		return nil, err
	}

	messages := append([]openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleSystem,
		Content: system,
	}}, openaiMessages(chatTurns(req))...)
	tools := openaiTools(toolbox.Specs())

	result := &Response{Model: o.model}
	var text []string
	for round := 1; ; round++ {
		if round > o.maxRounds {
			return nil, fmt.Errorf("%w: %d rounds", ErrToolRoundsExceeded, o.maxRounds)
		}

		completion, err := o.call(ctx, openai.ChatCompletionRequest{
			Model:      o.model,
			Messages:   messages,
			Tools:      tools,
			ToolChoice: "auto",
			MaxTokens:  o.maxTokens,
		})
		if err != nil {
			return nil, err
		}
		result.InputTokens += int64(completion.Usage.PromptTokens)
		result.OutputTokens += int64(completion.Usage.CompletionTokens)
		if len(completion.Choices) == 0 {
			return nil, errors.New("openai response has no choices")
		}

		msg := completion.Choices[0].Message
		if s := strings.TrimSpace(msg.Content); s != "" {
			text = append(text, s)
		}
		if len(msg.ToolCalls) == 0 {
			break
		}

		messages = append(messages, openai.ChatCompletionMessage{
			Role:      openai.ChatMessageRoleAssistant,
			Content:   msg.Content,
			ToolCalls: msg.ToolCalls,
		})
		for _, tc := range msg.ToolCalls {
			out, isErr := toolbox.Execute(ctx, tc.Function.Name, tc.Function.Arguments)
			o.logger.DebugContext(ctx, "tool executed", "tool", tc.Function.Name, "is_error", isErr, "round", round)
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    out,
				ToolCallID: tc.ID,
			})
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	result.Actions = toolbox.Actions()
	result.Content = strings.Join(text, "\n\n")
	if result.Content == "" {
		return nil, ErrEmptyResponse
	}
	return result, nil
}

func (o *OpenAI) call(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	var resp openai.ChatCompletionResponse
	attempts, err := o.retry.do(ctx, func() error {
		t0 := time.Now()
		r, err := o.client.CreateChatCompletion(ctx, req)
		if err != nil {
			o.logger.DebugContext(ctx, "openai request failed", "error", err)
			return err
		}
		recordUsage(ctx, config.BackendOpenAI, o.model, int64(r.Usage.PromptTokens), int64(r.Usage.CompletionTokens), time.Since(t0))
		resp = r
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return resp, err
		}
		return resp, fmt.Errorf("openai request failed after %d attempt(s): %w", attempts, err)
	}
	return resp, nil
}

func openaiMessages(turns []turn) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, t := range turns {
		r := openai.ChatMessageRoleUser
		if t.Role == roleAssistant {
			r = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: r, Content: t.Content})
	}
	return messages
}

func openaiTools(specs []ToolSpec) []openai.Tool {
	tools := make([]openai.Tool, len(specs))
	for i, s := range specs {
		tools[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.Schema,
			},
		}
	}
	return tools
}

func isOpenAIRetryable(err error) bool {
	if isTransient(err) {
		return true
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	return false
}
