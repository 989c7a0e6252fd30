// Package anthropic adapts the Anthropic Messages API to ai.Client.
//
// The Messages API has no response format parameter, so structured calls
// carry the JSON schema in the system prompt and decode the reply leniently.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/OFFIS-RIT/compass/backend/pkg/ai"
)

const defaultMaxTokens = 4096

// Messager is the subset of the SDK messages service the client calls.
type Messager interface {
	New(ctx context.Context, params sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

type AnthropicClient struct {
	ai.Metrics

	model       string
	temperature float64
	messages    Messager
}

type NewAnthropicClientParams struct {
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
}

func NewAnthropicClient(params NewAnthropicClientParams) *AnthropicClient {
	opts := []option.RequestOption{option.WithAPIKey(params.APIKey)}
	if params.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(params.BaseURL))
	}
	c := sdk.NewClient(opts...)
	return NewAnthropicClientWithMessager(params, &c.Messages)
}

// NewAnthropicClientWithMessager builds a client on an existing messages
// service, which tests replace with a fake.
func NewAnthropicClientWithMessager(params NewAnthropicClientParams, m Messager) *AnthropicClient {
	return &AnthropicClient{
		model:       params.Model,
		temperature: params.Temperature,
		messages:    m,
	}
}

var _ ai.Client = (*AnthropicClient)(nil)

func (c *AnthropicClient) send(ctx context.Context, prompt string, options ai.GenerateOptions) (string, error) {
	maxTokens := options.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := sdk.MessageNewParams{
		Model:       sdk.Model(options.Model),
		MaxTokens:   maxTokens,
		Messages:    []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(prompt))},
		Temperature: sdk.Float(options.Temperature),
	}
	for _, sp := range options.SystemPrompts {
		params.System = append(params.System, sdk.TextBlockParam{Text: sp})
	}

	start := time.Now()
	resp, err := c.messages.New(ctx, params)
	if err != nil {
		return "", err
	}
	c.AddMetrics(ai.ModelMetrics{
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
		TotalTokens:  int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		DurationMs:   time.Since(start).Milliseconds(),
	})

	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if resp.StopReason == sdk.StopReasonMaxTokens {
		return "", fmt.Errorf("%w (stop_reason: %s, max_tokens: %d)", ai.ErrTruncated, resp.StopReason, maxTokens)
	}
	if text == "" {
		return "", fmt.Errorf("%w (stop_reason: %s)", ai.ErrEmptyResponse, resp.StopReason)
	}
	return text, nil
}

func (c *AnthropicClient) GenerateCompletion(
	ctx context.Context,
	prompt string,
	opts ...ai.GenerateOption,
) (string, error) {
	options := ai.ApplyOptions(ai.GenerateOptions{
		Model:       c.model,
		Temperature: 0.3,
	}, opts...)
	return c.send(ctx, prompt, options)
}

func (c *AnthropicClient) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...ai.GenerateOption,
) error {
	schema, err := json.Marshal(ai.GenerateSchema(out))
	if err != nil {
		return err
	}
	options := ai.ApplyOptions(ai.GenerateOptions{
		Model:       c.model,
		Temperature: c.temperature,
	}, opts...)
	options.SystemPrompts = append(options.SystemPrompts, fmt.Sprintf(
		"Respond with a single JSON object named %q (%s) that validates against this JSON schema. Output JSON only.\n%s",
		name, description, schema,
	))

	text, err := c.send(ctx, prompt, options)
	if err != nil {
		return err
	}
	return ai.UnmarshalFlexible(stripCodeFences(text), out)
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if _, rest, ok := strings.Cut(s, "\n"); ok {
		s = rest
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
