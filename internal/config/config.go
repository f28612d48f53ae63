// Package config loads engine configuration from config files and
// environment variables via viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const appName = "demonengine"

// Config is the full engine configuration
type Config struct {
	Compendium CompendiumConfig `mapstructure:"compendium"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding"`
	Matcher    MatcherConfig    `mapstructure:"matcher"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Runner     RunnerConfig     `mapstructure:"runner"`
	Provider   ProviderConfig   `mapstructure:"provider"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Surfaces   SurfacesConfig   `mapstructure:"surfaces"`
	Debug      bool             `mapstructure:"debug"`
}

// CompendiumConfig locates and tunes the technique catalog
type CompendiumConfig struct {
	CatalogPath string `mapstructure:"catalogPath"` // empty selects the embedded default catalog
	Watch       bool   `mapstructure:"watch"`
}

// EmbeddingConfig selects the embedding capability
type EmbeddingConfig struct {
	Provider string `mapstructure:"provider"` // ollama, openai, local
	APIKey   string `mapstructure:"apiKey"`
	BaseURL  string `mapstructure:"baseURL"`
	Model    string `mapstructure:"model"`
}

// MatcherConfig tunes candidate retrieval
type MatcherConfig struct {
	MaxCandidates       int     `mapstructure:"maxCandidates"`
	SimilarityThreshold float64 `mapstructure:"similarityThreshold"`
}

// PipelineConfig tunes composition
type PipelineConfig struct {
	MaxLength      int `mapstructure:"maxLength"`
	QuickMaxLength int `mapstructure:"quickMaxLength"`
}

// RunnerConfig tunes execution retry and circuit breaking
type RunnerConfig struct {
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxAttempts      int           `mapstructure:"maxAttempts"`
	BaseDelay        time.Duration `mapstructure:"baseDelay"`
	FailureThreshold int           `mapstructure:"failureThreshold"`
	CoolDown         time.Duration `mapstructure:"coolDown"`
}

// ProviderConfig selects the LLM provider
type ProviderConfig struct {
	Name     string `mapstructure:"name"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"apiKey"`
	Fallback string `mapstructure:"fallback"` // provider tried when the primary's breaker is open
}

// CacheConfig tunes the pipeline fingerprint cache
type CacheConfig struct {
	Enabled    bool  `mapstructure:"enabled"`
	MaxEntries int64 `mapstructure:"maxEntries"`
}

// StorageConfig locates the execution-record database
type StorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// SurfacesConfig configures per-surface gating
type SurfacesConfig struct {
	ProOnly          []string `mapstructure:"proOnly"`
	RateLimitPerMin  int      `mapstructure:"rateLimitPerMin"`
	TelemetryEnabled bool     `mapstructure:"telemetryEnabled"`
}

// Global configuration instance
var cfg *Config

// Load initializes configuration from config files and DEMON_ environment
// variables. Subsequent calls return the already-loaded instance.
func Load(debug bool) (*Config, error) {
	if cfg != nil {
		return cfg, nil
	}

	configureViper()
	setDefaults(debug)

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// No config file is fine, env vars and defaults carry the load
	}

	loaded := &Config{}
	if err := viper.Unmarshal(loaded); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg = loaded
	return cfg, nil
}

// Get returns the loaded configuration, or nil before Load
func Get() *Config {
	return cfg
}

// Reset clears the loaded instance. Tests only.
func Reset() {
	cfg = nil
	viper.Reset()
}

func configureViper() {
	viper.SetConfigName(fmt.Sprintf(".%s", appName))
	viper.SetConfigType("json")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME")
	viper.AddConfigPath(fmt.Sprintf("$HOME/.config/%s", appName))
	viper.SetEnvPrefix("DEMON")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

func setDefaults(debug bool) {
	viper.SetDefault("debug", debug)

	viper.SetDefault("compendium.catalogPath", "")
	viper.SetDefault("compendium.watch", false)

	viper.SetDefault("embedding.provider", "ollama")
	viper.SetDefault("embedding.baseURL", "http://localhost:11434")
	viper.SetDefault("embedding.model", "nomic-embed-text")

	viper.SetDefault("matcher.maxCandidates", 15)
	viper.SetDefault("matcher.similarityThreshold", 0.7)

	viper.SetDefault("pipeline.maxLength", 5)
	viper.SetDefault("pipeline.quickMaxLength", 2)

	viper.SetDefault("runner.timeout", "25s")
	viper.SetDefault("runner.maxAttempts", 3)
	viper.SetDefault("runner.baseDelay", "500ms")
	viper.SetDefault("runner.failureThreshold", 3)
	viper.SetDefault("runner.coolDown", "30s")

	viper.SetDefault("provider.name", "groq")
	viper.SetDefault("provider.fallback", "openrouter")

	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("cache.maxEntries", 1024)

	viper.SetDefault("storage.enabled", true)
	viper.SetDefault("storage.path", "data/demonengine.db")

	viper.SetDefault("surfaces.proOnly", []string{"agent"})
	viper.SetDefault("surfaces.rateLimitPerMin", 30)
	viper.SetDefault("surfaces.telemetryEnabled", true)
}
