package ollama

import (
	"net/http"
	"net/url"

	"github.com/OFFIS-RIT/compass/backend/pkg/ai"
	"github.com/OFFIS-RIT/compass/backend/pkg/segment"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/semaphore"
)

// OllamaClient implements ai.Client using a locally hosted Ollama server.
// Concurrent requests are bounded by a weighted semaphore.
type OllamaClient struct {
	ai.Metrics

	model       string
	temperature float64

	reqLock *semaphore.Weighted
	tokens  *segment.TokenCounter

	Client *api.Client
}

// NewOllamaClientParams contains configuration options for creating a new OllamaClient.
type NewOllamaClientParams struct {
	Model       string
	Temperature float64

	BaseURL string
	ApiKey  string

	// MaxConcurrentRequests defaults to 1.
	MaxConcurrentRequests int64
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewOllamaClient connects to the Ollama server at BaseURL, or the default
// local address when it is empty.
func NewOllamaClient(params NewOllamaClientParams) (*OllamaClient, error) {
	var (
		u   *url.URL
		err error
	)
	if params.BaseURL != "" {
		u, err = url.Parse(params.BaseURL)
		if err != nil {
			return nil, err
		}
	}

	httpClient := http.DefaultClient
	if params.ApiKey != "" {
		httpClient = &http.Client{
			Transport: &headerTransport{
				headers: map[string]string{"Authorization": "Bearer " + params.ApiKey},
				rt:      http.DefaultTransport,
			},
		}
	}

	maxReq := params.MaxConcurrentRequests
	if maxReq <= 0 {
		maxReq = 1
	}

	return &OllamaClient{
		model:       params.Model,
		temperature: params.Temperature,
		reqLock:     semaphore.NewWeighted(maxReq),
		tokens:      segment.LazyTokenCounter(segment.DefaultEncoder),
		Client:      api.NewClient(u, httpClient),
	}, nil
}

var _ ai.Client = (*OllamaClient)(nil)
