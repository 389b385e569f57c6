// Package config loads the bffkit YAML configuration.
package config

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jzx17/bffkit/pkg/retry"
)

// Config is the root of the configuration file
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Retry   RetrySection  `yaml:"retry"`
	OAuth   OAuthConfig   `yaml:"oauth"`
	Storage StorageConfig `yaml:"storage"`
	LLM     LLMConfig     `yaml:"llm"`
}

// LogConfig selects level and encoding of the process logger
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RetryConfig is the serialized form of a retry policy
type RetryConfig struct {
	Retries            int   `yaml:"retries"`
	DelayMs            int64 `yaml:"delay_ms"`
	ExponentialBackoff bool  `yaml:"exponential_backoff"`
	TimeoutMs          int64 `yaml:"timeout_ms"`
}

// RetrySection holds the default policy and named overrides
type RetrySection struct {
	Default  RetryConfig            `yaml:"default"`
	Profiles map[string]RetryConfig `yaml:"profiles"`
}

// OAuthConfig configures the client-credentials token source
type OAuthConfig struct {
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
	ExpirySkewMs int64    `yaml:"expiry_skew_ms"`
}

// StorageConfig configures the S3 object store
type StorageConfig struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	Profile  string `yaml:"profile"`
}

// LLMConfig configures the chat completion client
type LLMConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	Model        string `yaml:"model"`
	SystemPrompt string `yaml:"system_prompt"`
}

const (
	defaultRetries      = 3
	defaultDelayMs      = 200
	defaultExpirySkewMs = 30_000
	defaultModel        = "gpt-4o-mini"
)

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Retry: RetrySection{
			Default: RetryConfig{Retries: defaultRetries, DelayMs: defaultDelayMs},
		},
		OAuth: OAuthConfig{ExpirySkewMs: defaultExpirySkewMs},
		LLM:   LLMConfig{Model: defaultModel},
	}
}

// Load reads, expands and validates the file at path.
// ${VAR} references are replaced with environment values before decoding.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	return cfg, nil
}

// envPattern matches ${NAME} references. A bare $ is literal, so secrets and
// prompts containing dollar signs survive decoding.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(ref string) string {
		return os.Getenv(envPattern.FindStringSubmatch(ref)[1])
	})
}

// Decode parses YAML from r on top of Default and validates the result.
// ${NAME} references are replaced with the environment value before parsing.
func Decode(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()

	expanded := expandEnv(string(raw))
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Log.Level, err)
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, want text or json", c.Log.Format)
	}

	if err := c.Retry.Default.validate("retry.default"); err != nil {
		return err
	}
	for name, profile := range c.Retry.Profiles {
		if err := profile.validate("retry.profiles." + name); err != nil {
			return err
		}
	}

	if c.OAuth.TokenURL != "" {
		if _, err := url.ParseRequestURI(c.OAuth.TokenURL); err != nil {
			return fmt.Errorf("invalid oauth.token_url: %w", err)
		}
		if c.OAuth.ClientID == "" {
			return fmt.Errorf("oauth.client_id is required when oauth.token_url is set")
		}
	}
	if c.OAuth.ExpirySkewMs < 0 {
		return fmt.Errorf("oauth.expiry_skew_ms must not be negative")
	}

	if c.LLM.BaseURL != "" {
		if _, err := url.ParseRequestURI(c.LLM.BaseURL); err != nil {
			return fmt.Errorf("invalid llm.base_url: %w", err)
		}
	}

	return nil
}

func (r RetryConfig) validate(path string) error {
	switch {
	case r.Retries < 0:
		return fmt.Errorf("%s.retries must not be negative", path)
	case r.DelayMs < 0:
		return fmt.Errorf("%s.delay_ms must not be negative", path)
	case r.TimeoutMs < 0:
		return fmt.Errorf("%s.timeout_ms must not be negative", path)
	}
	return nil
}

// Lookup returns the named retry profile and whether it is defined
func (r RetrySection) Lookup(name string) (RetryConfig, bool) {
	profile, ok := r.Profiles[name]
	return profile, ok
}

// Profile returns the named retry profile, or the default one when it is not defined
func (r RetrySection) Profile(name string) RetryConfig {
	if profile, ok := r.Profiles[name]; ok {
		return profile
	}
	return r.Default
}

// Delay returns the configured pause
func (r RetryConfig) Delay() time.Duration {
	return time.Duration(r.DelayMs) * time.Millisecond
}

// Timeout returns the configured budget, zero when unset
func (r RetryConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutMs) * time.Millisecond
}

// ExpirySkew returns how long before expiry a cached token is refreshed
func (o OAuthConfig) ExpirySkew() time.Duration {
	return time.Duration(o.ExpirySkewMs) * time.Millisecond
}

// PolicyFor converts a RetryConfig into a policy. Conditions are left to the caller.
func PolicyFor[T any](rc RetryConfig) retry.Policy[T] {
	return retry.Policy[T]{
		Retries:            rc.Retries,
		Delay:              rc.Delay(),
		ExponentialBackoff: rc.ExponentialBackoff,
		Timeout:            rc.Timeout(),
	}
}
