package openai

import (
	"github.com/OFFIS-RIT/compass/backend/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIClient implements ai.Client against the OpenAI chat completions API
// or any compatible endpoint.
//
// An OpenAIClient should be created using NewOpenAIClient.
type OpenAIClient struct {
	ai.Metrics

	model       string
	temperature float64
	baseURL     string

	Client *openai.Client
}

// NewOpenAIClientParams configures a new OpenAIClient.
//
// BaseURL is optional and selects an OpenAI compatible endpoint. Temperature is
// the default sampling temperature for structured extraction.
type NewOpenAIClientParams struct {
	Model       string
	BaseURL     string
	APIKey      string
	Temperature float64
}

// NewOpenAIClient creates a client for params.
//
// Example:
//
//	client := openai.NewOpenAIClient(openai.NewOpenAIClientParams{
//		Model:  "gpt-4o-mini",
//		APIKey: os.Getenv("AI_KEY"),
//	})
func NewOpenAIClient(params NewOpenAIClientParams) *OpenAIClient {
	options := []option.RequestOption{
		option.WithAPIKey(params.APIKey),
	}
	if params.BaseURL != "" {
		options = append(options, option.WithBaseURL(params.BaseURL))
	}
	client := openai.NewClient(options...)

	return &OpenAIClient{
		model:       params.Model,
		temperature: params.Temperature,
		baseURL:     params.BaseURL,
		Client:      &client,
	}
}

var _ ai.Client = (*OpenAIClient)(nil)
