// Package config loads publisher settings from PUBLISHER_* environment
// variables, an optional .env file and an optional YAML providers file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/yvrxbt/pricing-publisher/internal/schema"
	"github.com/yvrxbt/pricing-publisher/internal/transport"
)

const envPrefix = "PUBLISHER"

var ErrInvalid = errors.New("invalid configuration")

var knownSinks = map[string]struct{}{"log": {}, "redis": {}, "postgres": {}}

type Config struct {
	Pairs     []string `envconfig:"PAIRS" default:"BTC/USDT,ETH/USDT,SOL/USDT,USDC/USDT"`
	Exchanges []string `envconfig:"EXCHANGES" default:"binance,bybit,coinbase,hyperliquid"`
	DryRun    bool     `envconfig:"DRY_RUN" default:"false"`

	RetryDelay       time.Duration `envconfig:"RETRY_DELAY" default:"5s"`
	MaxRetryDelay    time.Duration `envconfig:"MAX_RETRY_DELAY" default:"5s"`
	IdleTimeout      time.Duration `envconfig:"IDLE_TIMEOUT" default:"30s"`
	PingInterval     time.Duration `envconfig:"PING_INTERVAL" default:"15s"`
	HandshakeTimeout time.Duration `envconfig:"HANDSHAKE_TIMEOUT" default:"30s"`
	MockInterval     time.Duration `envconfig:"MOCK_INTERVAL" default:"500ms"`

	ChannelSize         int           `envconfig:"CHANNEL_SIZE" default:"1000"`
	HealthCheckInterval time.Duration `envconfig:"HEALTH_CHECK_INTERVAL" default:"10s"`
	StaleAfter          time.Duration `envconfig:"STALE_AFTER" default:"30s"`
	PublishTimeout      time.Duration `envconfig:"PUBLISH_TIMEOUT" default:"2s"`

	Sinks         []string      `envconfig:"SINKS" default:"log"`
	RedisAddr     string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	RedisTTL      time.Duration `envconfig:"REDIS_TTL" default:"60s"`
	RedisChannel  string        `envconfig:"REDIS_CHANNEL"`
	PostgresDSN   string        `envconfig:"POSTGRES_DSN"`

	// HTTPAddr empty disables the HTTP surface.
	HTTPAddr  string `envconfig:"HTTP_ADDR" default:":8080"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	ProvidersFile string                    `envconfig:"PROVIDERS_FILE"`
	Providers     map[string]ProviderConfig `ignored:"true"`
}

// ProviderConfig holds per-provider overrides from the providers file.
type ProviderConfig struct {
	Endpoint  string   `yaml:"endpoint"`
	APIKey    string   `yaml:"api_key"`
	APISecret string   `yaml:"api_secret"`
	Pairs     []string `yaml:"pairs"`
}

type providersFile struct {
	Providers map[string]ProviderConfig `yaml:"providers"`
}

type settings struct {
	envFiles      []string
	providersFile string
	overrides     []func(*Config)
}

type Option func(*settings)

// WithEnvFile loads path before reading the environment. Variables already
// set in the process win.
func WithEnvFile(path string) Option {
	return func(s *settings) { s.envFiles = append(s.envFiles, path) }
}

func WithProvidersFile(path string) Option {
	return func(s *settings) { s.providersFile = path }
}

// WithOverride mutates the loaded config before validation.
func WithOverride(fn func(*Config)) Option {
	return func(s *settings) { s.overrides = append(s.overrides, fn) }
}

func Load(opts ...Option) (Config, error) {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}

	if len(s.envFiles) > 0 {
		if err := godotenv.Load(s.envFiles...); err != nil {
			return Config{}, fmt.Errorf("load env file: %w", err)
		}
	} else if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return Config{}, fmt.Errorf("load .env: %w", err)
		}
	}

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	path := s.providersFile
	if path == "" {
		path = cfg.ProvidersFile
	}
	if path != "" {
		providers, err := loadProviders(path)
		if err != nil {
			return Config{}, err
		}
		cfg.Providers = providers
	}

	for _, fn := range s.overrides {
		fn(&cfg)
	}

	cfg.Exchanges = normalize(cfg.Exchanges, strings.ToLower)
	cfg.Sinks = normalize(cfg.Sinks, strings.ToLower)

	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return cfg, nil
}

func loadProviders(path string) (map[string]ProviderConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read providers file: %w", err)
	}
	var f providersFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: providers file %s: %w", ErrInvalid, path, err)
	}
	out := make(map[string]ProviderConfig, len(f.Providers))
	for name, p := range f.Providers {
		out[strings.ToLower(strings.TrimSpace(name))] = p
	}
	return out, nil
}

func (c *Config) validate() error {
	if len(c.Exchanges) == 0 {
		return errors.New("no exchanges configured")
	}
	if _, err := c.TradingPairs(); err != nil {
		return err
	}
	for name := range c.Providers {
		if _, err := c.PairsFor(name); err != nil {
			return err
		}
	}

	for name, d := range map[string]time.Duration{
		"RETRY_DELAY":           c.RetryDelay,
		"IDLE_TIMEOUT":          c.IdleTimeout,
		"HANDSHAKE_TIMEOUT":     c.HandshakeTimeout,
		"HEALTH_CHECK_INTERVAL": c.HealthCheckInterval,
		"STALE_AFTER":           c.StaleAfter,
		"PUBLISH_TIMEOUT":       c.PublishTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.MaxRetryDelay < 0 || c.PingInterval < 0 {
		return errors.New("MAX_RETRY_DELAY and PING_INTERVAL must not be negative")
	}
	if c.PingInterval > 0 && c.PingInterval >= c.IdleTimeout {
		return fmt.Errorf("PING_INTERVAL %s must be shorter than IDLE_TIMEOUT %s", c.PingInterval, c.IdleTimeout)
	}
	if c.ChannelSize <= 0 {
		return fmt.Errorf("CHANNEL_SIZE must be positive, got %d", c.ChannelSize)
	}

	for _, s := range c.Sinks {
		if _, ok := knownSinks[s]; !ok {
			return fmt.Errorf("unknown sink %q", s)
		}
		if s == "redis" && c.RedisAddr == "" {
			return errors.New("redis sink needs REDIS_ADDR")
		}
		if s == "postgres" && c.PostgresDSN == "" {
			return errors.New("postgres sink needs POSTGRES_DSN")
		}
	}
	return nil
}

// TradingPairs parses the global pair list.
func (c Config) TradingPairs() ([]schema.TradingPair, error) {
	return parsePairs(c.Pairs)
}

// PairsFor returns the provider's own pair list when the providers file sets
// one, the global list otherwise.
func (c Config) PairsFor(name string) ([]schema.TradingPair, error) {
	if p, ok := c.Providers[name]; ok && len(p.Pairs) > 0 {
		pairs, err := parsePairs(p.Pairs)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		return pairs, nil
	}
	return c.TradingPairs()
}

func (c Config) Provider(name string) ProviderConfig {
	return c.Providers[name]
}

func (c Config) TransportOptions() transport.Options {
	return transport.Options{
		HandshakeTimeout: c.HandshakeTimeout,
		IdleTimeout:      c.IdleTimeout,
		PingInterval:     c.PingInterval,
	}
}

func parsePairs(raw []string) ([]schema.TradingPair, error) {
	if len(raw) == 0 {
		return nil, errors.New("no trading pairs configured")
	}
	out := make([]schema.TradingPair, 0, len(raw))
	seen := make(map[schema.TradingPair]struct{}, len(raw))
	for _, r := range raw {
		if strings.TrimSpace(r) == "" {
			continue
		}
		p, err := schema.ParseTradingPair(r)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, errors.New("no trading pairs configured")
	}
	return out, nil
}

func normalize(in []string, fn func(string) string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = fn(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
