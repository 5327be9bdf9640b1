package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v2"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"

	defaultUserAgent = "Mozilla/5.0 (compatible; stressfree/1.0)"
	defaultLedger    = "download_progress.txt"

	defaultChunkSize         = 1024
	defaultRetryDelaySeconds = 60
	defaultMaxRedirects      = 10
	defaultMaxDepth          = 64
	defaultListingRetryMax   = 3
	defaultListingTimeoutSec = 30

	envPrefix = "SF_"
)

type TransportConfig struct {
	UserAgent             string `yaml:"user_agent"`
	ListingRetryMax       int    `yaml:"listing_retry_max"`
	ListingTimeoutSeconds int    `yaml:"listing_timeout_seconds"`
}

func (c *TransportConfig) ListingTimeout() time.Duration {
	return time.Duration(c.ListingTimeoutSeconds) * time.Second
}

type TransferConfig struct {
	ChunkSize         int    `yaml:"chunk_size"`
	RetryDelaySeconds int    `yaml:"retry_delay_seconds"`
	MaxAttempts       int    `yaml:"max_attempts"` // 0 means retry forever
	MaxRedirects      int    `yaml:"max_redirects"`
	LedgerFileName    string `yaml:"ledger_filename"`
}

func (c *TransferConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

type CrawlerConfig struct {
	MaxDepth int `yaml:"max_depth"`
}

type Config struct {
	URL         string          `yaml:"url"`
	Destination string          `yaml:"destination"`
	Username    string          `yaml:"username"`
	Password    string          `yaml:"password"`
	LogLevel    string          `yaml:"log_level"`
	Debug       bool            `yaml:"debug"`
	Transport   TransportConfig `yaml:"transport"`
	Transfer    TransferConfig  `yaml:"transfer"`
	Crawler     CrawlerConfig   `yaml:"crawler"`
}

func (c *Config) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = LogLevelInfo
	}
	if c.Transport.UserAgent == "" {
		c.Transport.UserAgent = defaultUserAgent
	}
	if c.Transport.ListingRetryMax == 0 {
		c.Transport.ListingRetryMax = defaultListingRetryMax
	}
	if c.Transport.ListingTimeoutSeconds == 0 {
		c.Transport.ListingTimeoutSeconds = defaultListingTimeoutSec
	}
	if c.Transfer.ChunkSize == 0 {
		c.Transfer.ChunkSize = defaultChunkSize
	}
	if c.Transfer.RetryDelaySeconds == 0 {
		c.Transfer.RetryDelaySeconds = defaultRetryDelaySeconds
	}
	if c.Transfer.MaxRedirects == 0 {
		c.Transfer.MaxRedirects = defaultMaxRedirects
	}
	if c.Transfer.LedgerFileName == "" {
		c.Transfer.LedgerFileName = defaultLedger
	}
	if c.Crawler.MaxDepth == 0 {
		c.Crawler.MaxDepth = defaultMaxDepth
	}
}

// Load reads the yaml config file when it exists, applies environment
// overrides (SF_URL, SF_DESTINATION, ...) and fills in defaults. A missing
// file is not an error: everything can come from flags and environment.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("cannot read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.SetDefaults()

	return cfg, nil
}

func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

func (c *Config) applyEnv() {
	if v := os.Getenv(envPrefix + "URL"); v != "" {
		c.URL = v
	}
	if v := os.Getenv(envPrefix + "DESTINATION"); v != "" {
		c.Destination = v
	}
	if v := os.Getenv(envPrefix + "USERNAME"); v != "" {
		c.Username = v
	}
	if v := os.Getenv(envPrefix + "PASSWORD"); v != "" {
		c.Password = v
	}
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(envPrefix + "DEBUG"); v != "" {
		c.Debug = cast.ToBool(v)
	}
	if v := os.Getenv(envPrefix + "CHUNK_SIZE"); v != "" {
		c.Transfer.ChunkSize = cast.ToInt(v)
	}
	if v := os.Getenv(envPrefix + "RETRY_DELAY_SECONDS"); v != "" {
		c.Transfer.RetryDelaySeconds = cast.ToInt(v)
	}
	if v := os.Getenv(envPrefix + "MAX_ATTEMPTS"); v != "" {
		c.Transfer.MaxAttempts = cast.ToInt(v)
	}
	if v := os.Getenv(envPrefix + "MAX_DEPTH"); v != "" {
		c.Crawler.MaxDepth = cast.ToInt(v)
	}
}
