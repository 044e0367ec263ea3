package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v2"
)

type StorageConfig struct {
	DatabaseDir string `yaml:"database_dir" toml:"database_dir" validate:"required"`
	CacheDir    string `yaml:"cache_dir" toml:"cache_dir" validate:"required"`
}

type FetchConfig struct {
	UserAgent       string   `yaml:"user_agent" toml:"user_agent" validate:"required"`
	TimeoutSec      int      `yaml:"timeout_sec" toml:"timeout_sec" validate:"gte=1"`
	DelayMS         int      `yaml:"delay_ms" toml:"delay_ms" validate:"gte=0"`
	RenderWaitMS    int      `yaml:"render_wait_ms" toml:"render_wait_ms" validate:"gte=0"`
	MaxHops         int      `yaml:"max_hops" toml:"max_hops" validate:"gte=1"`
	RespectRobots   bool     `yaml:"respect_robots" toml:"respect_robots"`
	RandomUserAgent bool     `yaml:"random_user_agent" toml:"random_user_agent"`
	FollowPatterns  []string `yaml:"follow_patterns" toml:"follow_patterns"`
	ExcludePatterns []string `yaml:"exclude_patterns" toml:"exclude_patterns"`
	MaxPages        int      `yaml:"max_pages" toml:"max_pages" validate:"gte=0"`
}

type ExtractConfig struct {
	MinContentLength int `yaml:"min_content_length" toml:"min_content_length" validate:"gte=0"`
}

type EmbeddingConfig struct {
	BaseURL   string `yaml:"base_url" toml:"base_url" validate:"omitempty,url"`
	Model     string `yaml:"model" toml:"model"`
	APIKey    string `yaml:"api_key" toml:"api_key"`
	MaxTokens int    `yaml:"max_tokens" toml:"max_tokens" validate:"gte=1"`
}

// Enabled reports whether a similarity backend is configured.
func (c EmbeddingConfig) Enabled() bool {
	return c.Model != "" && (c.BaseURL != "" || c.APIKey != "")
}

// TranslationConfig points at an OpenAI-compatible chat endpoint used to
// translate stored sections. APIKey falls back to the embedding key.
type TranslationConfig struct {
	BaseURL string `yaml:"base_url" toml:"base_url" validate:"omitempty,url"`
	Model   string `yaml:"model" toml:"model"`
	APIKey  string `yaml:"api_key" toml:"api_key"`
	From    string `yaml:"from" toml:"from" validate:"required"`
	To      string `yaml:"to" toml:"to" validate:"required"`
	DelayMS int    `yaml:"delay_ms" toml:"delay_ms" validate:"gte=0"`
}

func (c TranslationConfig) Enabled() bool {
	return c.Model != "" && (c.BaseURL != "" || c.APIKey != "")
}

func (c TranslationConfig) Delay() time.Duration {
	return time.Duration(c.DelayMS) * time.Millisecond
}

type DoclingConfig struct {
	URL string `yaml:"url" toml:"url" validate:"omitempty,url"`
}

type DBConfig struct {
	Connection  string `yaml:"connection" toml:"connection"`
	Database    string `yaml:"database" toml:"database" validate:"required_with=Connection"`
	Collections struct {
		Sections     string `yaml:"sections" toml:"sections"`
		DriftHistory string `yaml:"drift_history" toml:"drift_history"`
	} `yaml:"collections" toml:"collections"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" toml:"format" validate:"oneof=text json"`
}

type SpiderConfig struct {
	Storage     StorageConfig     `yaml:"storage" toml:"storage"`
	Fetch       FetchConfig       `yaml:"fetch" toml:"fetch"`
	Extract     ExtractConfig     `yaml:"extract" toml:"extract"`
	Embedding   EmbeddingConfig   `yaml:"embedding" toml:"embedding"`
	Translation TranslationConfig `yaml:"translation" toml:"translation"`
	Docling     DoclingConfig     `yaml:"docling" toml:"docling"`
	DB          DBConfig          `yaml:"db" toml:"db"`
	Logging     LoggingConfig     `yaml:"logging" toml:"logging"`
}

var ErrInvalidConfig = errors.New("invalid config")

// Default returns the configuration used when no file is given.
func Default() *SpiderConfig {
	var cfg SpiderConfig
	cfg.Storage.DatabaseDir = "database"
	cfg.Storage.CacheDir = "cache"
	cfg.Fetch.UserAgent = "drift_spider/1.0"
	cfg.Fetch.TimeoutSec = 30
	cfg.Fetch.DelayMS = 1000
	cfg.Fetch.RenderWaitMS = 0
	cfg.Fetch.MaxHops = 15
	cfg.Fetch.RespectRobots = true
	cfg.Extract.MinContentLength = 100
	cfg.Embedding.MaxTokens = 8000
	cfg.Translation.From = "sv"
	cfg.Translation.To = "en"
	cfg.Translation.DelayMS = 500
	cfg.DB.Collections.Sections = "sections"
	cfg.DB.Collections.DriftHistory = "drift_history"
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	return &cfg
}

// LoadConfig reads a YAML or TOML file (chosen by extension) on top of the
// defaults, applies environment overrides and validates the result. An empty
// path skips the file.
func LoadConfig(path string) (*SpiderConfig, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		switch strings.ToLower(filepath.Ext(path)) {
		case ".toml":
			err = toml.Unmarshal(data, cfg)
		default:
			err = yaml.Unmarshal(data, cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not load .env", slog.Any("err", err))
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *SpiderConfig) applyEnv() {
	overrides := []struct {
		key    string
		target *string
	}{
		{"OPENAI_API_KEY", &c.Embedding.APIKey},
		{"EMBEDDING_BASE_URL", &c.Embedding.BaseURL},
		{"EMBEDDING_MODEL", &c.Embedding.Model},
		{"TRANSLATION_BASE_URL", &c.Translation.BaseURL},
		{"TRANSLATION_MODEL", &c.Translation.Model},
		{"DOCLING_URL", &c.Docling.URL},
		{"MONGO_URI", &c.DB.Connection},
		{"DATABASE_DIR", &c.Storage.DatabaseDir},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.key); v != "" {
			*o.target = v
		}
	}
	if c.Translation.APIKey == "" {
		c.Translation.APIKey = c.Embedding.APIKey
	}
}

var validate = validator.New()

func (c *SpiderConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func (c FetchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

func (c FetchConfig) Delay() time.Duration {
	return time.Duration(c.DelayMS) * time.Millisecond
}

func (c FetchConfig) RenderWait() time.Duration {
	return time.Duration(c.RenderWaitMS) * time.Millisecond
}
