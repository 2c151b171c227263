package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                     = "CANVAS"
	defaultHTTPAddress            = "0.0.0.0:8080"
	defaultDatabasePath           = "canvas.db"
	defaultLogLevel               = "info"
	defaultPersistIntervalSeconds = 10
	defaultPreviewOriginPattern   = `^https://canvas-[a-z0-9-]+-discoursegraphs\.vercel\.app$`
)

var (
	defaultAllowedOrigins = []string{
		"https://discoursegraphs.com",
		"https://app.discoursegraphs.com",
	}
	defaultAllowedOriginPrefixes = []string{
		"http://localhost:",
		"http://127.0.0.1:",
	}
)

// AppConfig captures runtime configuration for the canvas sync server.
type AppConfig struct {
	HTTPAddress           string
	DatabasePath          string
	LogLevel              string
	PersistInterval       time.Duration
	AllowedOrigins        []string
	AllowedOriginPrefixes []string
	PreviewOriginPattern  string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("persist.interval_seconds", defaultPersistIntervalSeconds)
	configViper.SetDefault("cors.origins", defaultAllowedOrigins)
	configViper.SetDefault("cors.origin_prefixes", defaultAllowedOriginPrefixes)
	configViper.SetDefault("cors.preview_pattern", defaultPreviewOriginPattern)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:           configViper.GetString("http.address"),
		DatabasePath:          configViper.GetString("database.path"),
		LogLevel:              configViper.GetString("log.level"),
		PersistInterval:       time.Duration(configViper.GetInt("persist.interval_seconds")) * time.Second,
		AllowedOrigins:        configViper.GetStringSlice("cors.origins"),
		AllowedOriginPrefixes: configViper.GetStringSlice("cors.origin_prefixes"),
		PreviewOriginPattern:  configViper.GetString("cors.preview_pattern"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.PersistInterval <= 0 {
		return fmt.Errorf("persist.interval_seconds must be positive")
	}
	if len(c.AllowedOrigins) == 0 && len(c.AllowedOriginPrefixes) == 0 && strings.TrimSpace(c.PreviewOriginPattern) == "" {
		return fmt.Errorf("at least one allowed origin, prefix or pattern is required")
	}
	return nil
}
