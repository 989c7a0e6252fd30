package segment

import (
	"fmt"
	"sync"

	"github.com/OFFIS-RIT/compass/backend/pkg/logger"

	"github.com/pkoukk/tiktoken-go"
)

const DefaultEncoder = "o200k_base"

// TokenCounter counts model tokens of passages for logging and metrics.
// The encoding is loaded at most once.
type TokenCounter struct {
	name string
	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

// NewTokenCounter loads the named tiktoken encoding. An empty name uses
// DefaultEncoder.
func NewTokenCounter(encoding string) (*TokenCounter, error) {
	c := LazyTokenCounter(encoding)
	c.once.Do(c.load)
	if c.err != nil {
		return nil, c.err
	}
	return c, nil
}

// LazyTokenCounter returns a counter that loads its encoding on the first
// Count. tiktoken may fetch the BPE file over the network, so construction
// stays offline. If loading fails the counter counts nothing.
func LazyTokenCounter(encoding string) *TokenCounter {
	if encoding == "" {
		encoding = DefaultEncoder
	}
	return &TokenCounter{name: encoding}
}

func (c *TokenCounter) load() {
	enc, err := tiktoken.GetEncoding(c.name)
	if err != nil {
		c.err = fmt.Errorf("load token encoding %q: %w", c.name, err)
		logger.Warn("[Segment] token counting disabled", "err", c.err)
		return
	}
	c.enc = enc
}

// Count returns the number of tokens in text. A nil counter counts nothing.
func (c *TokenCounter) Count(text string) int {
	if c == nil {
		return 0
	}
	c.once.Do(c.load)
	if c.enc == nil {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}
