package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/OFFIS-RIT/compass/backend/pkg/extract"
	"github.com/OFFIS-RIT/compass/backend/pkg/segment"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "compass.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestConfig_Defaults(t *testing.T) {
	cfg := NewDefaultConfig()
	if cfg.Segmenter.MaxChars != 1800 {
		t.Errorf("Segmenter.MaxChars = %d, want 1800", cfg.Segmenter.MaxChars)
	}
	if cfg.Segmenter.OverlapSentences != 1 {
		t.Errorf("Segmenter.OverlapSentences = %d, want 1", cfg.Segmenter.OverlapSentences)
	}
	if cfg.Extraction.RetryBackoffSeconds != 1.5 {
		t.Errorf("Extraction.RetryBackoffSeconds = %v, want 1.5", cfg.Extraction.RetryBackoffSeconds)
	}
	if cfg.Ranking.Weights.Company != 0.55 || cfg.Ranking.Weights.Global != 0.45 {
		t.Errorf("unexpected ranking weights %+v", cfg.Ranking.Weights)
	}
	if !cfg.Ranking.UseGlobal {
		t.Errorf("Ranking.UseGlobal default should be true")
	}
	if cfg.AI.MaxTokens != 0 {
		t.Errorf("AI.MaxTokens = %d, want 0", cfg.AI.MaxTokens)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestConfig_LoadFileThenEnv(t *testing.T) {
	path := writeConfig(t, `
[database]
driver = "sqlite"
sqlite_path = "/tmp/efv.db"

[ai]
max_tokens = 8192

[extraction]
mode = "aggregate"
max_retries = 2
retry_backoff_seconds = 0.5
dedup = "evidence"
exclude_sections = ["Contacts"]

[ranking]
k_var = 3
use_global = false

[ranking.weights]
weight_company = 1.0
weight_global = 0.0
weight_frequency = 0.0
both_bonus = 0.0
`)
	t.Setenv("EXTRACT_MAX_RETRIES", "4")
	t.Setenv("PORT", "9090")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.SQLitePath != "/tmp/efv.db" {
		t.Errorf("unexpected database section %+v", cfg.Database)
	}
	if cfg.Extraction.MaxRetries != 4 {
		t.Errorf("Extraction.MaxRetries = %d, want 4 from env", cfg.Extraction.MaxRetries)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %q, want 9090", cfg.Server.Port)
	}
	// Unset keys keep their defaults.
	if cfg.Ranking.KFactor != 10 {
		t.Errorf("Ranking.KFactor = %d, want default 10", cfg.Ranking.KFactor)
	}

	ex, err := cfg.ExtractConfig()
	if err != nil {
		t.Fatalf("ExtractConfig: %v", err)
	}
	if ex.RetryBackoff != 500*time.Millisecond {
		t.Errorf("RetryBackoff = %v, want 500ms", ex.RetryBackoff)
	}
	if ex.Dedup != extract.DedupEvidence {
		t.Errorf("Dedup = %q, want evidence", ex.Dedup)
	}
	if ex.Segment.MaxChars != 1800 {
		t.Errorf("Segment.MaxChars = %d, want 1800", ex.Segment.MaxChars)
	}
	if ex.MaxTokens != 8192 {
		t.Errorf("MaxTokens = %d, want 8192", ex.MaxTokens)
	}
	if ex.TokenEncoder != segment.DefaultEncoder {
		t.Errorf("TokenEncoder = %q, want %q", ex.TokenEncoder, segment.DefaultEncoder)
	}

	pc, err := cfg.PipelineConfig()
	if err != nil {
		t.Fatalf("PipelineConfig: %v", err)
	}
	if pc.Mode != extract.ModeAggregate || len(pc.ExcludeSections) != 1 {
		t.Errorf("unexpected pipeline config %+v", pc)
	}

	ro := cfg.RankOptions()
	if ro.UseGlobal || ro.KVariable != 3 || ro.Weights.Company != 1.0 {
		t.Errorf("unexpected rank options %+v", ro)
	}
}

func TestConfig_ExcludeSectionsEnv(t *testing.T) {
	t.Setenv("EXCLUDE_SECTIONS", "Contacts, Issuer Profile")
	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)
	if len(cfg.Extraction.ExcludeSections) != 2 || cfg.Extraction.ExcludeSections[1] != "Issuer Profile" {
		t.Errorf("unexpected exclude sections %v", cfg.Extraction.ExcludeSections)
	}
}

func TestConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown driver", "[database]\ndriver = \"mysql\""},
		{"unknown adapter", "[ai]\nadapter = \"gemini\""},
		{"unknown mode", "[extraction]\nmode = \"batch\""},
		{"unknown dedup", "[extraction]\ndedup = \"name\""},
		{"negative weight", "[ranking.weights]\nweight_company = -1.0"},
		{"zero max chars", "[segmenter]\nmax_chars = 0"},
		{"bad toml", "[database\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.body)); err == nil {
				t.Fatalf("expected error for %s", tt.name)
			}
		})
	}
}

func TestQueueURL(t *testing.T) {
	q := QueueConfig{Host: "mq", Port: "5672", User: "u", Password: "p"}
	if got := q.URL(); got != "amqp://u:p@mq:5672/" {
		t.Fatalf("expected amqp://u:p@mq:5672/, got %s", got)
	}
}
