package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv     = "VINTED_LENS_CONFIG"
	databaseDSNEnv    = "DATABASE_DSN"
	embeddingURLEnv   = "EMBEDDING_URL"
	embeddingKeyEnv   = "EMBEDDING_API_KEY"
	telegramTokenEnv  = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv = "TELEGRAM_CHAT_ID"
)

// Config holds high-level settings required across the application.
type Config struct {
	Database      DatabaseConfig     `yaml:"database"`
	Source        SourceConfig       `yaml:"source"`
	Embedding     EmbeddingConfig    `yaml:"embedding"`
	Images        ImageConfig        `yaml:"images"`
	Crawler       CrawlerConfig      `yaml:"crawler"`
	Ingest        IngestConfig       `yaml:"ingest"`
	Notifications NotificationConfig `yaml:"notifications"`
	Logging       LoggingConfig      `yaml:"logging"`
}

// DatabaseConfig describes the vector-store connection target. An empty DSN
// selects the in-memory store.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// SourceConfig describes the catalog portal and how politely to query it.
type SourceConfig struct {
	BaseURL        string        `yaml:"baseUrl"`
	MinInterval    time.Duration `yaml:"minInterval"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

// EmbeddingConfig points at the external image-embedding service.
type EmbeddingConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"apiKey"`
}

// ImageConfig bounds photo downloads against the image host, which is rate
// limited independently of the catalog API.
type ImageConfig struct {
	Workers       int           `yaml:"workers"`
	DownloadDelay time.Duration `yaml:"downloadDelay"`
	Timeout       time.Duration `yaml:"timeout"`
}

// CrawlerConfig bounds the category-hierarchy crawl.
type CrawlerConfig struct {
	SeedURL    string        `yaml:"seedUrl"`
	MaxPages   int           `yaml:"maxPages"`
	Delay      time.Duration `yaml:"delay"`
	OutputPath string        `yaml:"outputPath"`
}

// IngestConfig lists collection targets and shared pipeline parameters.
type IngestConfig struct {
	Targets      []TargetConfig `yaml:"targets"`
	PerPage      int            `yaml:"perPage"`
	MaxPages     int            `yaml:"maxPages"`
	LookbackDays int            `yaml:"lookbackDays"`
	Interval     time.Duration  `yaml:"interval"`
}

// TargetConfig selects one slice of the catalog: either a free-text query or an
// explicit catalog id. CatalogID wins when both are set.
type TargetConfig struct {
	Name      string `yaml:"name"`
	Query     string `yaml:"query"`
	CatalogID int64  `yaml:"catalogId"`
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// LoggingConfig controls slog verbosity.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()

	if len(cfg.Ingest.Targets) == 0 {
		cfg.Ingest.Targets = defaultConfig().Ingest.Targets
	}

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}

	if v := os.Getenv(embeddingURLEnv); v != "" {
		c.Embedding.Endpoint = v
	}

	if v := os.Getenv(embeddingKeyEnv); v != "" {
		c.Embedding.APIKey = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}

	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}
}

func mergeConfig(base, override Config) Config {
	if override.Database.DSN != "" {
		base.Database = override.Database
	}

	if override.Source.BaseURL != "" {
		base.Source.BaseURL = override.Source.BaseURL
	}
	if override.Source.MinInterval > 0 {
		base.Source.MinInterval = override.Source.MinInterval
	}
	if override.Source.RequestTimeout > 0 {
		base.Source.RequestTimeout = override.Source.RequestTimeout
	}

	if override.Embedding.Endpoint != "" {
		base.Embedding.Endpoint = override.Embedding.Endpoint
	}
	if override.Embedding.APIKey != "" {
		base.Embedding.APIKey = override.Embedding.APIKey
	}

	if override.Images.Workers > 0 {
		base.Images.Workers = override.Images.Workers
	}
	if override.Images.DownloadDelay > 0 {
		base.Images.DownloadDelay = override.Images.DownloadDelay
	}
	if override.Images.Timeout > 0 {
		base.Images.Timeout = override.Images.Timeout
	}

	if override.Crawler.SeedURL != "" {
		base.Crawler.SeedURL = override.Crawler.SeedURL
	}
	if override.Crawler.MaxPages > 0 {
		base.Crawler.MaxPages = override.Crawler.MaxPages
	}
	if override.Crawler.Delay > 0 {
		base.Crawler.Delay = override.Crawler.Delay
	}
	if override.Crawler.OutputPath != "" {
		base.Crawler.OutputPath = override.Crawler.OutputPath
	}

	if override.Ingest.PerPage > 0 {
		base.Ingest.PerPage = override.Ingest.PerPage
	}
	if override.Ingest.MaxPages > 0 {
		base.Ingest.MaxPages = override.Ingest.MaxPages
	}
	if override.Ingest.LookbackDays > 0 {
		base.Ingest.LookbackDays = override.Ingest.LookbackDays
	}
	if override.Ingest.Interval > 0 {
		base.Ingest.Interval = override.Ingest.Interval
	}
	if len(override.Ingest.Targets) > 0 {
		base.Ingest.Targets = override.Ingest.Targets
	}

	if override.Notifications.Telegram.BotToken != "" {
		base.Notifications.Telegram.BotToken = override.Notifications.Telegram.BotToken
	}
	if override.Notifications.Telegram.ChatID != "" {
		base.Notifications.Telegram.ChatID = override.Notifications.Telegram.ChatID
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}

	return base
}

func defaultConfig() Config {
	return Config{
		Database: DatabaseConfig{DSN: ""},
		Source: SourceConfig{
			BaseURL:        "https://www.vinted.fr",
			MinInterval:    900 * time.Millisecond,
			RequestTimeout: 12 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Endpoint: "http://localhost:8100",
			APIKey:   "",
		},
		Images: ImageConfig{
			Workers:       4,
			DownloadDelay: 100 * time.Millisecond,
			Timeout:       15 * time.Second,
		},
		Crawler: CrawlerConfig{
			SeedURL:    "https://www.vinted.fr",
			MaxPages:   5000,
			Delay:      200 * time.Millisecond,
			OutputPath: "catalog_ids.csv",
		},
		Ingest: IngestConfig{
			Targets: []TargetConfig{
				{Name: "robes", Query: "robe"},
			},
			PerPage:      20,
			MaxPages:     3,
			LookbackDays: 730,
		},
		Notifications: NotificationConfig{
			Telegram: TelegramConfig{BotToken: "", ChatID: ""},
		},
		Logging: LoggingConfig{Level: "info"},
	}
}
