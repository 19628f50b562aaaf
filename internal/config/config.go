// Package config loads server configuration from environment, .env files,
// and an optional config.yaml using Viper, the way the rest of the stack does.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all server configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Logging LoggingConfig `mapstructure:"logging"`
	GC      GCConfig      `mapstructure:"gc"`
	Notify  NotifyConfig  `mapstructure:"notify"`
}

// ServerConfig holds HTTP/WebSocket listener settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	GinMode         string        `mapstructure:"gin_mode"`
	GraphQLEndpoint string        `mapstructure:"graphql_endpoint"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	WorkerPoolSize  int           `mapstructure:"worker_pool_size"`
}

// AuthConfig holds token-verification settings.
type AuthConfig struct {
	// PublicKeyPath is the RS-256 public key used to verify bearer tokens,
	// relative to the executable unless absolute.
	PublicKeyPath string `mapstructure:"public_key_path"`
	Algorithm     string `mapstructure:"algorithm"`
	// AllowAll, when true, swaps in the trivially-allow authorizer. Dev only.
	AllowAll bool `mapstructure:"allow_all"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// GCConfig controls the singleton-storage garbage-collection grace period.
type GCConfig struct {
	GracePeriod time.Duration `mapstructure:"grace_period"`
	// Debug shortens GracePeriod to 10s, matching debug-build behavior.
	Debug bool `mapstructure:"debug"`
}

// EffectiveGracePeriod returns the grace period, shortened under Debug.
func (g GCConfig) EffectiveGracePeriod() time.Duration {
	if g.Debug {
		return 10 * time.Second
	}
	return g.GracePeriod
}

// NotifyConfig controls the notify-coalescing debounce window.
type NotifyConfig struct {
	DebounceWindow time.Duration `mapstructure:"debounce_window"`
}

// Load reads configuration from (in increasing priority) defaults, an
// optional config.yaml, a .env file, and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()
	viper.SetEnvPrefix("GRAPHQL_VSS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.gin_mode", "release")
	viper.SetDefault("server.graphql_endpoint", "/graphql")
	viper.SetDefault("server.read_timeout", 60*time.Second)
	viper.SetDefault("server.write_timeout", 60*time.Second)
	viper.SetDefault("server.worker_pool_size", 8)

	viper.SetDefault("auth.public_key_path", "keys/jwtRS256.key.pub")
	viper.SetDefault("auth.algorithm", "RS256")
	viper.SetDefault("auth.allow_all", false)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")

	viper.SetDefault("gc.grace_period", 300*time.Second)

	viper.SetDefault("notify.debounce_window", time.Millisecond)
}
