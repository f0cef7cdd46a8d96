package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/megfs/meg/internal/core"
	"github.com/megfs/meg/internal/store"
	"github.com/spf13/viper"
)

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	S3     S3Config     `mapstructure:"s3"`
	Cache  CacheConfig  `mapstructure:"cache"`
}

type ServerConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	APIKey        string `mapstructure:"api_key"`
	ForceDownload bool   `mapstructure:"force_download"`
}

type S3Config struct {
	URL       string `mapstructure:"url"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
}

// CacheConfig selects the cache backend. Only the in-memory provider
// ships; the backend string is kept for forward compatibility with
// remote providers.
type CacheConfig struct {
	Backend string        `mapstructure:"backend"`
	BodyTTL time.Duration `mapstructure:"body_ttl"`
}

// envBindings maps config keys onto the environment variables the
// deployment contract names. MEG_PORT wins over PORT when both are set.
var envBindings = map[string][]string{
	"s3.url":         {"S3_URL"},
	"s3.region":      {"S3_REGION"},
	"s3.access_key":  {"S3_ACCESS_KEY"},
	"s3.secret_key":  {"S3_SECRET_KEY"},
	"s3.bucket":      {"S3_BUCKET"},
	"server.host":    {"MEG_HOST"},
	"server.port":    {"MEG_PORT", "PORT"},
	"server.api_key": {"MEG_API_KEY"},
}

// Load reads configuration from file
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// Expand environment variables in string values
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envKey := strings.TrimSuffix(strings.TrimPrefix(val, "${"), "}")
			v.Set(key, os.Getenv(envKey))
		}
	}

	return unmarshal(v)
}

// FromEnv builds a config from environment variables alone.
func FromEnv() (*Config, error) {
	return unmarshal(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, envs := range envBindings {
		v.BindEnv(append([]string{key}, envs...)...)
	}
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("cache.backend", "in-memory")
	v.SetDefault("cache.body_ttl", 30*time.Minute)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// Defaults returns a config with sensible defaults
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, _ := unmarshal(v)
	return cfg
}

// ResolveBucket returns the bucket to serve from. An explicit bucket
// always wins; otherwise the bucket is extracted from the S3 URL.
func (c *Config) ResolveBucket() (string, error) {
	if c.S3.Bucket != "" {
		return c.S3.Bucket, nil
	}
	if c.S3.URL == "" {
		return "", core.WrapError(core.ErrConfigMissing,
			fmt.Errorf("neither bucket nor S3 URL configured"))
	}
	return store.ParseBucketURL(c.S3.URL)
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("server port %d out of range", c.Server.Port))
	}
	if _, err := c.ResolveBucket(); err != nil {
		return err
	}

	switch {
	case c.Cache.Backend == "in-memory":
	case strings.HasPrefix(c.Cache.Backend, "redis:"):
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("cache backend %q: redis provider not built in; supply a custom cache.Provider", c.Cache.Backend))
	default:
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("unknown cache backend %q", c.Cache.Backend))
	}

	if c.Cache.BodyTTL < 0 || c.Cache.BodyTTL > 48*time.Hour {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("cache body TTL %s out of range [0, 48h]", c.Cache.BodyTTL))
	}
	return nil
}
