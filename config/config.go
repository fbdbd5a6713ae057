// Package config manages application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"ytingest/internal/retry"
)

// EnvPrefix prefixes every environment override, e.g. YTINGEST_CHANNEL_ID.
const EnvPrefix = "YTINGEST"

// Config holds all settings for an ingestion run.
type Config struct {
	// ChannelID is the target channel; videos from other channels are excluded.
	ChannelID string `json:"channel_id" mapstructure:"channel_id" validate:"required"`
	// ChannelName must match a playlist's channel title for it to be ingested.
	ChannelName string `json:"channel_name" mapstructure:"channel_name" validate:"required"`
	// APIKey is the Data API v3 key.
	APIKey string `json:"api_key" mapstructure:"api_key" validate:"required"`
	// APIBaseURL is the Data API root, overridable for tests.
	APIBaseURL string `json:"api_base_url" mapstructure:"api_base_url" validate:"required,url"`
	// DescriptionMarker cuts the trimmed description; empty keeps it whole.
	DescriptionMarker string `json:"description_marker" mapstructure:"description_marker"`

	// MaxConnections bounds concurrent upstream connections per host.
	MaxConnections int `json:"max_connections" mapstructure:"max_connections" validate:"min=1"`
	// RequestTimeout bounds a single upstream request.
	RequestTimeout time.Duration `json:"request_timeout" mapstructure:"request_timeout" validate:"gt=0"`

	// ReadQuota, WriteQuota and APIQuota are per-run ceilings (0 = unbounded).
	ReadQuota  int64 `json:"read_quota" mapstructure:"read_quota" validate:"gte=0"`
	WriteQuota int64 `json:"write_quota" mapstructure:"write_quota" validate:"gte=0"`
	APIQuota   int64 `json:"api_quota" mapstructure:"api_quota" validate:"gte=0"`

	// TranscriptWorkers is the size of the transcript fetch pool.
	TranscriptWorkers int `json:"transcript_workers" mapstructure:"transcript_workers" validate:"min=1"`
	// TranscriptLanguage is the caption language requested from timedtext.
	TranscriptLanguage string `json:"transcript_language" mapstructure:"transcript_language" validate:"required"`

	// StoreBackend selects the document store.
	StoreBackend string `json:"store_backend" mapstructure:"store_backend" validate:"oneof=memory file mongo"`
	// StorePath is the JSON file used by the file backend.
	StorePath string `json:"store_path" mapstructure:"store_path" validate:"required_if=StoreBackend file"`
	// MongoURI and MongoDatabase configure the mongo backend.
	MongoURI      string `json:"mongo_uri" mapstructure:"mongo_uri" validate:"required_if=StoreBackend mongo"`
	MongoDatabase string `json:"mongo_database" mapstructure:"mongo_database" validate:"required_if=StoreBackend mongo"`

	// RedisAddr enables the Redis ETag cache; empty uses an in-process cache.
	RedisAddr string `json:"redis_addr" mapstructure:"redis_addr"`
	// MetricsFile receives a Prometheus textfile after each run; empty disables it.
	MetricsFile string `json:"metrics_file" mapstructure:"metrics_file"`

	LogLevel  string `json:"log_level" mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `json:"log_format" mapstructure:"log_format" validate:"oneof=text json"`

	// MaxRetries is the maximum number of retries for failed upstream requests
	MaxRetries int `json:"max_retries" mapstructure:"max_retries" validate:"gte=0"`
	// InitialBackoff is the initial backoff duration for retries
	InitialBackoff time.Duration `json:"initial_backoff" mapstructure:"initial_backoff" validate:"gt=0"`
	// MaxBackoff is the maximum backoff duration for retries
	MaxBackoff time.Duration `json:"max_backoff" mapstructure:"max_backoff" validate:"gt=0,gtefield=InitialBackoff"`
	// BackoffMultiplier is the multiplier for exponential backoff (must be > 1)
	BackoffMultiplier float64 `json:"backoff_multiplier" mapstructure:"backoff_multiplier" validate:"gt=1"`

	// DebugPlaylistLimit caps resolved playlists in debug runs (0 = all).
	DebugPlaylistLimit int `json:"debug_playlist_limit" mapstructure:"debug_playlist_limit" validate:"gte=0"`
}

// DefaultConfig returns configuration with safe defaults.
func DefaultConfig() *Config {
	return &Config{
		APIBaseURL:         "https://www.googleapis.com/youtube/v3",
		MaxConnections:     20,
		RequestTimeout:     30 * time.Second,
		ReadQuota:          45000,
		WriteQuota:         18000,
		APIQuota:           9000,
		TranscriptWorkers:  4,
		TranscriptLanguage: "en",
		StoreBackend:       "file",
		StorePath:          "ytingest-store.json",
		MongoDatabase:      "ytingest",
		LogLevel:           "info",
		LogFormat:          "text",
		MaxRetries:         5,
		InitialBackoff:     1 * time.Second,
		MaxBackoff:         30 * time.Second,
		BackoffMultiplier:  2.0,
		DebugPlaylistLimit: 3,
	}
}

// Load builds the configuration. Priority: flags > env vars > .env file >
// config file > defaults. path names the config file; empty searches
// ytingest.{json,yaml,toml} in the working directory and then
// ~/.config/ytingest/. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	// .env only fills variables the environment does not already set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("ytingest")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/ytingest")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		for key, name := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag --%s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		// The default locations are optional; an explicit path is not.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// flagKeys maps config keys to the command-line flags that override them.
var flagKeys = map[string]string{
	"log_level":     "log-level",
	"store_backend": "store",
}

// setDefaults registers every key so AutomaticEnv can reach it during
// Unmarshal, including the required ones without a default.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("channel_id", "")
	v.SetDefault("channel_name", "")
	v.SetDefault("api_key", "")
	v.SetDefault("api_base_url", d.APIBaseURL)
	v.SetDefault("description_marker", "")

	v.SetDefault("max_connections", d.MaxConnections)
	v.SetDefault("request_timeout", d.RequestTimeout)

	v.SetDefault("read_quota", d.ReadQuota)
	v.SetDefault("write_quota", d.WriteQuota)
	v.SetDefault("api_quota", d.APIQuota)

	v.SetDefault("transcript_workers", d.TranscriptWorkers)
	v.SetDefault("transcript_language", d.TranscriptLanguage)

	v.SetDefault("store_backend", d.StoreBackend)
	v.SetDefault("store_path", d.StorePath)
	v.SetDefault("mongo_uri", "")
	v.SetDefault("mongo_database", d.MongoDatabase)

	v.SetDefault("redis_addr", "")
	v.SetDefault("metrics_file", "")

	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)

	v.SetDefault("max_retries", d.MaxRetries)
	v.SetDefault("initial_backoff", d.InitialBackoff)
	v.SetDefault("max_backoff", d.MaxBackoff)
	v.SetDefault("backoff_multiplier", d.BackoffMultiplier)

	v.SetDefault("debug_playlist_limit", d.DebugPlaylistLimit)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.Split(f.Tag.Get("json"), ",")[0]
	})
	return v
}

// Validate checks that configuration values are valid and consistent.
// It returns an error naming every invalid key.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// RetryConfig maps the retry keys onto the upstream retry policy.
func (c *Config) RetryConfig() retry.Config {
	rc := retry.DefaultConfig()
	rc.MaxRetries = c.MaxRetries
	rc.InitialBackoff = c.InitialBackoff
	rc.MaxBackoff = c.MaxBackoff
	rc.Multiplier = c.BackoffMultiplier
	return rc
}
