// Package extract turns report text into events, factors and variables by
// asking an extraction model for schema-constrained JSON, one passage at a
// time, and rebuilding verbatim evidence from the locators it returns.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator"
	"golang.org/x/time/rate"

	"github.com/OFFIS-RIT/compass/backend/pkg/ai"
	"github.com/OFFIS-RIT/compass/backend/pkg/common"
	"github.com/OFFIS-RIT/compass/backend/pkg/locate"
	"github.com/OFFIS-RIT/compass/backend/pkg/logger"
	"github.com/OFFIS-RIT/compass/backend/pkg/segment"
)

// Mode selects how a caller feeds text to the extractor.
type Mode string

const (
	// ModePassage extracts per section, segmented into passages.
	ModePassage Mode = "passage"
	// ModeAggregate extracts once per company over all of its section text.
	ModeAggregate Mode = "aggregate"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModePassage, ModeAggregate:
		return m, nil
	case "":
		return ModePassage, nil
	}
	return "", fmt.Errorf("unknown extraction mode %q", s)
}

const DefaultRetryBackoff = 1500 * time.Millisecond

type Config struct {
	Segment segment.Options
	// MaxRetries is the number of extra attempts per passage after a failure.
	MaxRetries   int
	RetryBackoff time.Duration
	// RatePerSecond caps oracle calls. Zero or less disables the limiter.
	RatePerSecond float64
	Dedup         DedupPolicy
	SystemPrompt  string
	Instruction   string
	// TokenEncoder names the tiktoken encoding for passage metrics. Empty
	// disables token counting. The encoding loads on the first passage.
	TokenEncoder string
	// MaxTokens caps the answer length of each oracle call. Zero keeps the
	// adapter default.
	MaxTokens int64
}

func DefaultConfig() Config {
	return Config{
		Segment:      segment.Options{MaxChars: segment.DefaultMaxChars, OverlapSentences: 1},
		RetryBackoff: DefaultRetryBackoff,
		Dedup:        DedupNone,
		SystemPrompt: DefaultSystemPrompt,
		Instruction:  defaultInstruction(),
	}
}

// ExtractionError reports a passage whose oracle call failed on every
// attempt.
type ExtractionError struct {
	Passage  int
	Attempts int
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract passage %d failed after %d attempt(s): %v", e.Passage, e.Attempts, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Result holds extracted entities without ids or section attribution.
type Result struct {
	Events    []common.Entity `json:"events"`
	Factors   []common.Entity `json:"factors"`
	Variables []common.Entity `json:"variables"`
}

func (r Result) Len() int {
	return len(r.Events) + len(r.Factors) + len(r.Variables)
}

// All returns events, factors and variables in that order.
func (r Result) All() []common.Entity {
	out := make([]common.Entity, 0, r.Len())
	out = append(out, r.Events...)
	out = append(out, r.Factors...)
	return append(out, r.Variables...)
}

// SectionResult pairs a section row with what was extracted from it.
type SectionResult struct {
	common.SectionRow
	Result
}

type Extractor struct {
	client   ai.Client
	cfg      Config
	validate *validator.Validate
	limiter  *rate.Limiter
	tokens   *segment.TokenCounter
	sleep    func(ctx context.Context, d time.Duration) error
}

type Option func(*Extractor)

// WithSleep replaces the wait between retry attempts.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Extractor) {
		e.sleep = fn
	}
}

// WithTokenCounter sets the counter used for passage token metrics.
func WithTokenCounter(c *segment.TokenCounter) Option {
	return func(e *Extractor) {
		e.tokens = c
	}
}

func NewExtractor(client ai.Client, cfg Config, opts ...Option) (*Extractor, error) {
	if client == nil {
		return nil, errors.New("extraction client is nil")
	}
	if cfg.Dedup == "" {
		cfg.Dedup = DedupNone
	}
	if _, err := ParseDedupPolicy(string(cfg.Dedup)); err != nil {
		return nil, err
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff < 0 {
		cfg.RetryBackoff = 0
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Instruction == "" {
		cfg.Instruction = defaultInstruction()
	}

	e := &Extractor{
		client:   client,
		cfg:      cfg,
		validate: newValidator(),
		sleep:    sleepContext,
	}
	if cfg.RatePerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	for _, o := range opts {
		o(e)
	}
	if e.tokens == nil && cfg.TokenEncoder != "" {
		e.tokens = segment.LazyTokenCounter(cfg.TokenEncoder)
	}
	return e, nil
}

func (e *Extractor) Config() Config {
	return e.cfg
}

// Extract segments text into passages and extracts each one in order. The
// per-passage results are merged under the configured dedup policy.
func (e *Extractor) Extract(ctx context.Context, text string) (Result, error) {
	passages := segment.Segment(text, e.cfg.Segment)
	outs := make([]Result, 0, len(passages))
	for i, p := range passages {
		res, err := e.extractPassage(ctx, i, p)
		if err != nil {
			return Result{}, err
		}
		outs = append(outs, res)
	}
	return Merge(e.cfg.Dedup, outs...), nil
}

// ExtractAggregate sends the whole text in a single call without segmenting.
func (e *Extractor) ExtractAggregate(ctx context.Context, text string) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, nil
	}
	return e.extractPassage(ctx, 0, text)
}

// ExtractTexts runs Extract over each text. Blank texts give empty results.
func (e *Extractor) ExtractTexts(ctx context.Context, texts []string) ([]Result, error) {
	out := make([]Result, 0, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			out = append(out, Result{})
			continue
		}
		res, err := e.Extract(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		out = append(out, res)
	}
	return out, nil
}

// ExtractSections runs Extract over each row's contents, keeping the row
// metadata next to its result.
func (e *Extractor) ExtractSections(ctx context.Context, rows []common.SectionRow) ([]SectionResult, error) {
	out := make([]SectionResult, 0, len(rows))
	for _, row := range rows {
		sr := SectionResult{SectionRow: row}
		if strings.TrimSpace(row.Contents) != "" {
			res, err := e.Extract(ctx, row.Contents)
			if err != nil {
				return nil, fmt.Errorf("section %d (%s): %w", row.SectionID, row.SectionName, err)
			}
			sr.Result = res
		}
		out = append(out, sr)
	}
	return out, nil
}

func (e *Extractor) extractPassage(ctx context.Context, index int, passage string) (Result, error) {
	logger.Debug("[Extract] passage",
		"index", index,
		"chars", len([]rune(passage)),
		"tokens", e.tokens.Count(passage),
	)

	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := e.cfg.RetryBackoff * time.Duration(attempt)
			logger.Warn("[Extract] retrying passage", "index", index, "attempt", attempt+1, "wait", wait, "err", lastErr)
			if err := e.sleep(ctx, wait); err != nil {
				return Result{}, err
			}
		}
		resp, err := e.call(ctx, passage)
		if err == nil {
			return e.toResult(passage, resp), nil
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		lastErr = err
	}
	return Result{}, &ExtractionError{Passage: index, Attempts: e.cfg.MaxRetries + 1, Err: lastErr}
}

func (e *Extractor) call(ctx context.Context, passage string) (*Response, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	opts := []ai.GenerateOption{ai.WithSystemPrompts(e.cfg.SystemPrompt)}
	if e.cfg.MaxTokens > 0 {
		opts = append(opts, ai.WithMaxTokens(e.cfg.MaxTokens))
	}
	var resp Response
	err := e.client.GenerateCompletionWithFormat(
		ctx,
		schemaName,
		schemaDescription,
		PromptFor(e.cfg.Instruction, passage),
		&resp,
		opts...,
	)
	if err != nil {
		if errors.Is(err, ai.ErrMalformedJSON) {
			return nil, fmt.Errorf("%w: %w", ErrSchema, err)
		}
		return nil, err
	}
	if err := validateResponse(e.validate, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (e *Extractor) toResult(passage string, r *Response) Result {
	res := Result{
		Events:    make([]common.Entity, 0, len(r.Events)),
		Factors:   make([]common.Entity, 0, len(r.Factors)),
		Variables: make([]common.Entity, 0, len(r.Variables)),
	}
	for _, it := range r.Events {
		res.Events = append(res.Events, common.Entity{
			Kind:      common.KindEvent,
			Name:      strings.TrimSpace(it.Name),
			Evidence:  evidence(passage, it.Contents, it.LocatorFields),
			Period:    trimmed(it.Period),
			EventType: it.EventType,
		})
	}
	for _, it := range r.Factors {
		res.Factors = append(res.Factors, common.Entity{
			Kind:     common.KindFactor,
			Name:     strings.TrimSpace(it.Name),
			Evidence: evidence(passage, it.Contents, it.LocatorFields),
			Period:   trimmed(it.Period),
		})
	}
	for _, it := range r.Variables {
		res.Variables = append(res.Variables, common.Entity{
			Kind:     common.KindVariable,
			Name:     strings.TrimSpace(it.Name),
			Evidence: evidence(passage, it.Contents, it.LocatorFields),
			Period:   trimmed(it.Period),
			Value:    strings.TrimSpace(it.Value),
			Unit:     trimmed(it.Unit),
		})
	}
	return res
}

// evidence rebuilds the item's evidence from its locators. When no locator
// resolves, a quote that occurs verbatim in the passage is used instead.
func evidence(passage, contents string, l LocatorFields) string {
	if ev := locate.Reconstruct(passage, l.Locators()...); ev != "" {
		return ev
	}
	if c := strings.TrimSpace(contents); c != "" && strings.Contains(passage, c) {
		return c
	}
	return ""
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
