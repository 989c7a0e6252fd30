package ai

import (
	"math"
	"sync"
)

// Metrics accumulates token usage across requests. Adapters embed it to
// satisfy the metric half of Client.
type Metrics struct {
	mu      sync.Mutex
	metrics ModelMetrics
}

// ResetMetrics clears all accumulated token and timing metrics to zero.
func (m *Metrics) ResetMetrics() {
	m.mu.Lock()
	m.metrics = ModelMetrics{}
	m.mu.Unlock()
}

// GetMetrics returns the accumulated token usage and timing metrics since the last reset.
func (m *Metrics) GetMetrics() ModelMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metrics
}

// AddMetrics folds one request's usage into the totals.
func (m *Metrics) AddMetrics(add ModelMetrics) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.metrics.InputTokens += add.InputTokens
	m.metrics.OutputTokens += add.OutputTokens
	m.metrics.TotalTokens += add.TotalTokens
	m.metrics.DurationMs += add.DurationMs

	if m.metrics.DurationMs > 0 {
		tokensPerSecond := (float64(m.metrics.TotalTokens) * 1000.0) / float64(m.metrics.DurationMs)
		m.metrics.TokenPerSecond = float32(math.Round(tokensPerSecond*100) / 100)
	}
}
