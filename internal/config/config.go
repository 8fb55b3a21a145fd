// ABOUTME: Configuration loading and parsing for chord
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete chord configuration
type Config struct {
	Bot     BotConfig     `yaml:"bot"`
	API     APIConfig     `yaml:"api"`
	Gateway GatewayConfig `yaml:"gateway"`
	Voice   VoiceConfig   `yaml:"voice"`
	Logging LoggingConfig `yaml:"logging"`
}

// BotConfig holds the token and the intent bitfield sent with IDENTIFY
type BotConfig struct {
	Token   string `yaml:"token"`
	Intents int    `yaml:"intents"`
}

// APIConfig holds the REST surface configuration
type APIConfig struct {
	BaseURL string `yaml:"base_url"`

	RequestTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	RequestTimeoutRaw string `yaml:"request_timeout"`
}

// GatewayConfig holds the WebSocket gateway configuration.
// ShardCount zero means auto from the gateway bot endpoint; ShardIDs
// empty means run every shard in [0, count).
type GatewayConfig struct {
	URL        string `yaml:"url"`
	ShardCount int    `yaml:"shard_count"`
	ShardIDs   []int  `yaml:"shard_ids"`
}

// VoiceConfig holds the media transport configuration
type VoiceConfig struct {
	Enabled bool `yaml:"enabled"`

	SilenceTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	SilenceTimeoutRaw string `yaml:"silence_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Bot.Token == "" {
		return fmt.Errorf("bot.token is required")
	}

	if c.Gateway.ShardCount < 0 {
		return fmt.Errorf("gateway.shard_count must not be negative")
	}
	for _, id := range c.Gateway.ShardIDs {
		if id < 0 {
			return fmt.Errorf("gateway.shard_ids must not be negative")
		}
		if c.Gateway.ShardCount > 0 && id >= c.Gateway.ShardCount {
			return fmt.Errorf("gateway.shard_ids entry %d exceeds shard_count %d", id, c.Gateway.ShardCount)
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.API.RequestTimeoutRaw != "" {
		cfg.API.RequestTimeout, err = time.ParseDuration(cfg.API.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing request_timeout %q: %w", cfg.API.RequestTimeoutRaw, err)
		}
	}

	if cfg.Voice.SilenceTimeoutRaw != "" {
		cfg.Voice.SilenceTimeout, err = time.ParseDuration(cfg.Voice.SilenceTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing silence_timeout %q: %w", cfg.Voice.SilenceTimeoutRaw, err)
		}
	}

	return nil
}
