// Package config builds the immutable configuration record shared by the
// server, the worker and the CLI.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/OFFIS-RIT/compass/backend/internal/util"
	"github.com/OFFIS-RIT/compass/backend/pkg/extract"
	"github.com/OFFIS-RIT/compass/backend/pkg/pipeline"
	"github.com/OFFIS-RIT/compass/backend/pkg/rank"
	"github.com/OFFIS-RIT/compass/backend/pkg/segment"
)

type Config struct {
	Debug      bool             `toml:"debug"`
	Database   DatabaseConfig   `toml:"database"`
	AI         AIConfig         `toml:"ai"`
	Segmenter  SegmenterConfig  `toml:"segmenter"`
	Extraction ExtractionConfig `toml:"extraction"`
	Ranking    RankingConfig    `toml:"ranking"`
	IDs        IDsConfig        `toml:"ids"`
	Server     ServerConfig     `toml:"server"`
	Queue      QueueConfig      `toml:"queue"`
	S3         S3Config         `toml:"s3"`
}

type DatabaseConfig struct {
	Driver     string `toml:"driver" validate:"oneof=postgres sqlite"`
	URL        string `toml:"url"`
	SQLitePath string `toml:"sqlite_path"`
	Migrations string `toml:"migrations"`
}

type AIConfig struct {
	Adapter     string  `toml:"adapter" validate:"oneof=openai ollama anthropic"`
	Model       string  `toml:"model"`
	URL         string  `toml:"url"`
	Key         string  `toml:"key"`
	Temperature float64 `toml:"temperature" validate:"gte=0"`
	// Parallel bounds concurrent requests of the ollama adapter.
	Parallel int64 `toml:"parallel" validate:"gte=0"`
	// MaxTokens caps each answer. An answer cut off at the cap fails the
	// call. Zero keeps the adapter default.
	MaxTokens int64 `toml:"max_tokens" validate:"gte=0"`
}

type SegmenterConfig struct {
	MaxChars         int    `toml:"max_chars" validate:"gt=0"`
	OverlapSentences int    `toml:"overlap_sentences" validate:"gte=0"`
	TokenEncoder     string `toml:"token_encoder"`
}

type ExtractionConfig struct {
	Mode                string   `toml:"mode" validate:"oneof=passage aggregate"`
	MaxRetries          int      `toml:"max_retries" validate:"gte=0"`
	RetryBackoffSeconds float64  `toml:"retry_backoff_seconds" validate:"gte=0"`
	RatePerSecond       float64  `toml:"rate_per_second" validate:"gte=0"`
	Dedup               string   `toml:"dedup" validate:"oneof=none evidence name+evidence"`
	ExcludeSections     []string `toml:"exclude_sections"`
}

type RankingConfig struct {
	Weights   rank.Weights `toml:"weights"`
	KVariable int          `toml:"k_var" validate:"gte=0"`
	KFactor   int          `toml:"k_factor" validate:"gte=0"`
	KEvent    int          `toml:"k_event" validate:"gte=0"`
	UseGlobal bool         `toml:"use_global"`
}

type IDsConfig struct {
	Datacenter int64 `toml:"datacenter" validate:"gte=0,lte=31"`
	Worker     int64 `toml:"worker" validate:"gte=0,lte=31"`
}

type ServerConfig struct {
	Port         string `toml:"port"`
	AuthURL      string `toml:"auth_url"`
	MasterAPIKey string `toml:"master_api_key"`
}

type QueueConfig struct {
	Host     string `toml:"host"`
	Port     string `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

// URL is the AMQP connection string.
func (q QueueConfig) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", q.User, q.Password, q.Host, q.Port)
}

type S3Config struct {
	Region    string `toml:"region"`
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
}

func NewDefaultConfig() *Config {
	ex := extract.DefaultConfig()
	ro := rank.DefaultOptions()
	return &Config{
		Database: DatabaseConfig{
			Driver:     "postgres",
			SQLitePath: "compass.db",
			Migrations: "migrations/postgres",
		},
		AI: AIConfig{
			Adapter:  "openai",
			Model:    "gpt-4o-mini",
			Parallel: 1,
		},
		Segmenter: SegmenterConfig{
			MaxChars:         ex.Segment.MaxChars,
			OverlapSentences: ex.Segment.OverlapSentences,
			TokenEncoder:     segment.DefaultEncoder,
		},
		Extraction: ExtractionConfig{
			Mode:                string(extract.ModePassage),
			RetryBackoffSeconds: ex.RetryBackoff.Seconds(),
			Dedup:               string(ex.Dedup),
			ExcludeSections:     extract.DefaultExcludeSections,
		},
		Ranking: RankingConfig{
			Weights:   ro.Weights,
			KVariable: ro.KVariable,
			KFactor:   ro.KFactor,
			KEvent:    ro.KEvent,
			UseGlobal: ro.UseGlobal,
		},
		IDs:    IDsConfig{Datacenter: 1, Worker: 1},
		Server: ServerConfig{Port: "8080"},
		Queue:  QueueConfig{Host: "localhost", Port: "5672", User: "guest", Password: "guest"},
		S3:     S3Config{Region: "eu-central-1", Bucket: "compass"},
	}
}

// Load applies defaults, then each existing TOML file in order, then
// environment overrides, and validates the result.
func Load(paths ...string) (*Config, error) {
	cfg := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Debug = util.GetEnvBool("DEBUG", cfg.Debug)

	cfg.Database.Driver = util.GetEnvString("DATABASE_DRIVER", cfg.Database.Driver)
	cfg.Database.URL = util.GetEnvString("DATABASE_URL", cfg.Database.URL)
	cfg.Database.SQLitePath = util.GetEnvString("SQLITE_PATH", cfg.Database.SQLitePath)
	cfg.Database.Migrations = util.GetEnvString("MIGRATIONS_PATH", cfg.Database.Migrations)

	cfg.AI.Adapter = util.GetEnvString("AI_ADAPTER", cfg.AI.Adapter)
	cfg.AI.Model = util.GetEnvString("AI_CHAT_EXTRACT_MODEL", cfg.AI.Model)
	cfg.AI.URL = util.GetEnvString("AI_CHAT_URL", cfg.AI.URL)
	cfg.AI.Key = util.GetEnvString("AI_CHAT_KEY", cfg.AI.Key)
	cfg.AI.Temperature = util.GetEnvNumeric("AI_TEMPERATURE", cfg.AI.Temperature)
	cfg.AI.Parallel = int64(util.GetEnvInt("AI_PARALLEL_REQ", int(cfg.AI.Parallel)))
	cfg.AI.MaxTokens = int64(util.GetEnvInt("AI_MAX_TOKENS", int(cfg.AI.MaxTokens)))

	cfg.Segmenter.MaxChars = util.GetEnvInt("SEGMENT_MAX_CHARS", cfg.Segmenter.MaxChars)
	cfg.Segmenter.OverlapSentences = util.GetEnvInt("SEGMENT_OVERLAP_SENTENCES", cfg.Segmenter.OverlapSentences)
	cfg.Segmenter.TokenEncoder = util.GetEnvString("TOKEN_ENCODER", cfg.Segmenter.TokenEncoder)

	cfg.Extraction.Mode = util.GetEnvString("EXTRACT_MODE", cfg.Extraction.Mode)
	cfg.Extraction.MaxRetries = util.GetEnvInt("EXTRACT_MAX_RETRIES", cfg.Extraction.MaxRetries)
	cfg.Extraction.RetryBackoffSeconds = util.GetEnvNumeric("EXTRACT_RETRY_BACKOFF", cfg.Extraction.RetryBackoffSeconds)
	cfg.Extraction.RatePerSecond = util.GetEnvNumeric("EXTRACT_RATE_PER_SECOND", cfg.Extraction.RatePerSecond)
	cfg.Extraction.Dedup = util.GetEnvString("EXTRACT_DEDUP", cfg.Extraction.Dedup)
	cfg.Extraction.ExcludeSections = util.GetEnvList("EXCLUDE_SECTIONS", cfg.Extraction.ExcludeSections)

	cfg.Ranking.UseGlobal = util.GetEnvBool("RANK_USE_GLOBAL", cfg.Ranking.UseGlobal)

	cfg.IDs.Datacenter = int64(util.GetEnvInt("ID_DATACENTER", int(cfg.IDs.Datacenter)))
	cfg.IDs.Worker = int64(util.GetEnvInt("ID_WORKER", int(cfg.IDs.Worker)))

	cfg.Server.Port = util.GetEnvString("PORT", cfg.Server.Port)
	cfg.Server.AuthURL = util.GetEnvString("AUTH_URL", cfg.Server.AuthURL)
	cfg.Server.MasterAPIKey = util.GetEnvString("MASTER_API_KEY", cfg.Server.MasterAPIKey)

	cfg.Queue.Host = util.GetEnvString("RABBITMQ_HOST", cfg.Queue.Host)
	cfg.Queue.Port = util.GetEnvString("RABBITMQ_PORT", cfg.Queue.Port)
	cfg.Queue.User = util.GetEnvString("RABBITMQ_USER", cfg.Queue.User)
	cfg.Queue.Password = util.GetEnvString("RABBITMQ_PASSWORD", cfg.Queue.Password)

	cfg.S3.Region = util.GetEnvString("AWS_REGION", cfg.S3.Region)
	cfg.S3.Endpoint = util.GetEnvString("AWS_ENDPOINT", cfg.S3.Endpoint)
	cfg.S3.AccessKey = util.GetEnvString("AWS_ACCESS_KEY", cfg.S3.AccessKey)
	cfg.S3.SecretKey = util.GetEnvString("AWS_SECRET_KEY", cfg.S3.SecretKey)
	cfg.S3.Bucket = util.GetEnvString("AWS_BUCKET", cfg.S3.Bucket)
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ExtractConfig converts the segmenter and extraction sections into the
// extractor's configuration.
func (c *Config) ExtractConfig() (extract.Config, error) {
	dedup, err := extract.ParseDedupPolicy(c.Extraction.Dedup)
	if err != nil {
		return extract.Config{}, err
	}
	ex := extract.DefaultConfig()
	ex.Segment = segment.Options{
		MaxChars:         c.Segmenter.MaxChars,
		OverlapSentences: c.Segmenter.OverlapSentences,
	}
	ex.TokenEncoder = c.Segmenter.TokenEncoder
	ex.MaxTokens = c.AI.MaxTokens
	ex.MaxRetries = c.Extraction.MaxRetries
	ex.RetryBackoff = time.Duration(c.Extraction.RetryBackoffSeconds * float64(time.Second))
	ex.RatePerSecond = c.Extraction.RatePerSecond
	ex.Dedup = dedup
	return ex, nil
}

func (c *Config) PipelineConfig() (pipeline.Config, error) {
	mode, err := extract.ParseMode(c.Extraction.Mode)
	if err != nil {
		return pipeline.Config{}, err
	}
	return pipeline.Config{Mode: mode, ExcludeSections: c.Extraction.ExcludeSections}, nil
}

func (c *Config) RankOptions() rank.Options {
	return rank.Options{
		Weights:   c.Ranking.Weights,
		KVariable: c.Ranking.KVariable,
		KFactor:   c.Ranking.KFactor,
		KEvent:    c.Ranking.KEvent,
		UseGlobal: c.Ranking.UseGlobal,
	}
}
