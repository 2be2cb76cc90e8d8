package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SourceKind identifies which adapter a SourceSpec configures.
type SourceKind string

const (
	SourceKindRSS         SourceKind = "rss"
	SourceKindTwitter     SourceKind = "twitter"
	SourceKindCryptoPanic SourceKind = "cryptopanic"
	SourceKindLunarCrush  SourceKind = "lunarcrush"
	SourceKindPushshift   SourceKind = "pushshift"
)

// SourcesConfig is the top-level sentiment-source configuration file.
type SourcesConfig struct {
	Sources map[SourceKind]SourceSpec `yaml:"sources"`
}

// SourceSpec is a tagged-variant config entry: Kind selects which of the
// kind-specific blocks below applies. Only the block matching Kind is
// read; the others may be present but are ignored.
type SourceSpec struct {
	Kind              SourceKind       `yaml:"kind"`
	Enabled           bool             `yaml:"enabled"`
	PollIntervalMs    int              `yaml:"poll_interval_ms"`
	MaxResultsPerPoll int              `yaml:"max_results_per_poll"`
	RateLimit         RateLimitSpec    `yaml:"rate_limit"`
	Retry             RetrySpec        `yaml:"retry"`
	RSS               *RSSSpec         `yaml:"rss,omitempty"`
	Twitter           *TwitterSpec     `yaml:"twitter,omitempty"`
	CryptoPanic       *CryptoPanicSpec `yaml:"cryptopanic,omitempty"`
	LunarCrush        *LunarCrushSpec  `yaml:"lunarcrush,omitempty"`
	Pushshift         *PushshiftSpec   `yaml:"pushshift,omitempty"`
}

// RateLimitSpec configures the adapter's token-bucket limiter.
type RateLimitSpec struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// RetrySpec configures exponential backoff bounds.
type RetrySpec struct {
	BaseMs int `yaml:"base_ms"`
	MaxMs  int `yaml:"max_ms"`
}

// RSSSpec is the RSS-kind configuration block.
type RSSSpec struct {
	FeedURL string `yaml:"feed_url"`
}

// TwitterSpec is the Twitter-kind configuration block. BearerEnvVar
// names the environment variable holding the bearer token
// (TWITTER_BEARER_TOKEN by convention); it is never stored in the file
// itself.
type TwitterSpec struct {
	BearerEnvVar string        `yaml:"bearer_env_var"`
	Rules        []TwitterRule `yaml:"rules"`
	StreamURL    string        `yaml:"stream_url"`
	TestWSURL    string        `yaml:"test_ws_url"`
}

// TwitterRule mirrors adapter.TwitterRule for config-file round-tripping.
type TwitterRule struct {
	Value string `yaml:"value"`
	Tag   string `yaml:"tag"`
}

// CryptoPanicSpec is the CryptoPanic-kind configuration block.
type CryptoPanicSpec struct {
	APIKeyEnvVar string `yaml:"api_key_env_var"`
	BaseURL      string `yaml:"base_url"`
}

// LunarCrushSpec is the LunarCrush-kind configuration block.
type LunarCrushSpec struct {
	APIKeyEnvVar string `yaml:"api_key_env_var"`
	BaseURL      string `yaml:"base_url"`
}

// PushshiftSpec is the Pushshift-kind configuration block. Disabled by
// default: see adapter.PushshiftConfig's doc comment.
type PushshiftSpec struct {
	BaseURL    string   `yaml:"base_url"`
	Subreddits []string `yaml:"subreddits"`
}

// Well-known environment variable names recognized by LoadSourcesConfig
// callers when a SourceSpec's *EnvVar field is left blank.
const (
	EnvTwitterBearerToken = "TWITTER_BEARER_TOKEN"
	EnvCryptoPanicAPIKey  = "CRYPTOPANIC_API_KEY"
	EnvLunarCrushAPIKey   = "LUNARCRUSH_API_KEY"
	EnvCronSecret         = "CRON_SECRET"
)

// LoadSourcesConfig reads and validates a sources.yaml file.
func LoadSourcesConfig(path string) (*SourcesConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources config: %w", err)
	}

	var cfg SourcesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse sources config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sources config: %w", err)
	}
	return &cfg, nil
}

// Validate ensures every configured SourceSpec carries the block
// matching its Kind and resolves required credentials.
func (c *SourcesConfig) Validate() error {
	for name, spec := range c.Sources {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("source %s (%s): %w", name, spec.Kind, err)
		}
	}
	return nil
}

func (s *SourceSpec) Validate() error {
	if s.PollIntervalMs < 0 {
		return fmt.Errorf("poll_interval_ms cannot be negative")
	}

	switch s.Kind {
	case SourceKindRSS:
		if s.RSS == nil || s.RSS.FeedURL == "" {
			return fmt.Errorf("rss source requires rss.feed_url")
		}
	case SourceKindTwitter:
		if s.Twitter == nil {
			return fmt.Errorf("twitter source requires a twitter block")
		}
		if s.Enabled && s.ResolveCredential(s.Twitter.BearerEnvVar, EnvTwitterBearerToken) == "" {
			return fmt.Errorf("twitter source enabled but %s is unset", envOrDefault(s.Twitter.BearerEnvVar, EnvTwitterBearerToken))
		}
	case SourceKindCryptoPanic:
		if s.CryptoPanic == nil {
			return fmt.Errorf("cryptopanic source requires a cryptopanic block")
		}
		if s.Enabled && s.ResolveCredential(s.CryptoPanic.APIKeyEnvVar, EnvCryptoPanicAPIKey) == "" {
			return fmt.Errorf("cryptopanic source enabled but %s is unset", envOrDefault(s.CryptoPanic.APIKeyEnvVar, EnvCryptoPanicAPIKey))
		}
	case SourceKindLunarCrush:
		if s.LunarCrush == nil {
			return fmt.Errorf("lunarcrush source requires a lunarcrush block")
		}
		if s.Enabled && s.ResolveCredential(s.LunarCrush.APIKeyEnvVar, EnvLunarCrushAPIKey) == "" {
			return fmt.Errorf("lunarcrush source enabled but %s is unset", envOrDefault(s.LunarCrush.APIKeyEnvVar, EnvLunarCrushAPIKey))
		}
	case SourceKindPushshift:
		if s.Pushshift == nil {
			return fmt.Errorf("pushshift source requires a pushshift block")
		}
	default:
		return fmt.Errorf("unknown source kind %q", s.Kind)
	}
	return nil
}

// ResolveCredential reads the environment variable named by envVar, or
// fallback if envVar is blank.
func (s *SourceSpec) ResolveCredential(envVar, fallback string) string {
	return os.Getenv(envOrDefault(envVar, fallback))
}

func envOrDefault(envVar, fallback string) string {
	if envVar != "" {
		return envVar
	}
	return fallback
}

// PollInterval returns the configured poll interval as a time.Duration,
// defaulting to defaultMs when unset. A zero result leaves the adapter's
// own default interval in place.
func (s *SourceSpec) PollInterval(defaultMs int) time.Duration {
	ms := s.PollIntervalMs
	if ms <= 0 {
		ms = defaultMs
	}
	return time.Duration(ms) * time.Millisecond
}
