// Package bootstrap builds the store, model client and pipeline described
// by a configuration record.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/OFFIS-RIT/compass/backend/internal/config"
	"github.com/OFFIS-RIT/compass/backend/pkg/ai"
	aai "github.com/OFFIS-RIT/compass/backend/pkg/ai/anthropic"
	oai "github.com/OFFIS-RIT/compass/backend/pkg/ai/ollama"
	gai "github.com/OFFIS-RIT/compass/backend/pkg/ai/openai"
	"github.com/OFFIS-RIT/compass/backend/pkg/extract"
	"github.com/OFFIS-RIT/compass/backend/pkg/ids"
	"github.com/OFFIS-RIT/compass/backend/pkg/leaselock"
	"github.com/OFFIS-RIT/compass/backend/pkg/pipeline"
	"github.com/OFFIS-RIT/compass/backend/pkg/store"
	pgstore "github.com/OFFIS-RIT/compass/backend/pkg/store/pgx"
	"github.com/OFFIS-RIT/compass/backend/pkg/store/sqlite"
)

// Store opens the configured database.
func Store(ctx context.Context, cfg config.DatabaseConfig) (store.EFVStorage, error) {
	switch cfg.Driver {
	case "sqlite":
		st, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "postgres", "":
		st, err := pgstore.Connect(ctx, cfg.URL)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

// AIClient builds the configured model adapter.
func AIClient(cfg config.AIConfig) (ai.Client, error) {
	switch cfg.Adapter {
	case "ollama":
		client, err := oai.NewOllamaClient(oai.NewOllamaClientParams{
			Model:                 cfg.Model,
			Temperature:           cfg.Temperature,
			BaseURL:               cfg.URL,
			ApiKey:                cfg.Key,
			MaxConcurrentRequests: cfg.Parallel,
		})
		if err != nil {
			return nil, fmt.Errorf("create ollama client: %w", err)
		}
		return client, nil
	case "anthropic":
		return aai.NewAnthropicClient(aai.NewAnthropicClientParams{
			Model:       cfg.Model,
			APIKey:      cfg.Key,
			BaseURL:     cfg.URL,
			Temperature: cfg.Temperature,
		}), nil
	case "openai", "":
		return gai.NewOpenAIClient(gai.NewOpenAIClientParams{
			Model:       cfg.Model,
			BaseURL:     cfg.URL,
			APIKey:      cfg.Key,
			Temperature: cfg.Temperature,
		}), nil
	}
	return nil, fmt.Errorf("unknown ai adapter %q", cfg.Adapter)
}

// Pipeline wires a pipeline over st. A nil client leaves the pipeline
// without a model extractor.
func Pipeline(cfg *config.Config, st store.EFVStorage, client ai.Client) (*pipeline.Pipeline, error) {
	alloc, err := ids.NewSnowflake(cfg.IDs.Datacenter, cfg.IDs.Worker)
	if err != nil {
		return nil, err
	}
	pc, err := cfg.PipelineConfig()
	if err != nil {
		return nil, err
	}

	var ex *extract.Extractor
	if client != nil {
		ec, err := cfg.ExtractConfig()
		if err != nil {
			return nil, err
		}
		ex, err = extract.NewExtractor(client, ec)
		if err != nil {
			return nil, err
		}
	}
	return pipeline.New(st, ex, alloc, pc), nil
}

// Locker returns the cross-process job lock for postgres deployments. The
// embedded store is single-process, so sqlite gets no locker and a no-op
// closer.
func Locker(ctx context.Context, cfg config.DatabaseConfig, worker string) (*leaselock.Locker, func(), error) {
	if cfg.Driver == "sqlite" {
		return nil, func() {}, nil
	}
	pool, err := pgxpool.New(ctx, cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect lock pool: %w", err)
	}
	opts := leaselock.DefaultOptions()
	opts.TokenPrefix = worker + "-"
	return leaselock.New(pool, opts), pool.Close, nil
}
