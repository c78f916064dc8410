package config

// Package config provides a reusable loader for the indexer's configuration
// files and environment variables. It is versioned so that applications can
// depend on a stable API contract.
//
// Version: v0.1.0

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for a single indexer process. It
// mirrors the structure of the YAML files under cmd/indexer/config.
type Config struct {
	Sources struct {
		Wasm string `mapstructure:"wasm" json:"wasm"`
	} `mapstructure:"sources" json:"sources"`

	Database struct {
		URL      string `mapstructure:"url" json:"url"`
		MaxConns int32  `mapstructure:"max_conns" json:"max_conns"`
	} `mapstructure:"database" json:"database"`

	Batch               int     `mapstructure:"batch" json:"batch"`
	InitialBlockHeight  *uint64 `mapstructure:"initial_block_height" json:"initial_block_height"`
	CacheUpdatesEnabled bool    `mapstructure:"cache_updates_enabled" json:"cache_updates_enabled"`
	WebhooksEnabled     bool    `mapstructure:"webhooks_enabled" json:"webhooks_enabled"`
	ChainID             string  `mapstructure:"chain_id" json:"chain_id"`

	Soketi struct {
		Host   string `mapstructure:"host" json:"host"`
		AppID  string `mapstructure:"app_id" json:"app_id"`
		Key    string `mapstructure:"key" json:"key"`
		Secret string `mapstructure:"secret" json:"secret"`
		UseTLS bool   `mapstructure:"use_tls" json:"use_tls"`
	} `mapstructure:"soketi" json:"soketi"`

	Webhooks []WebhookDef `mapstructure:"webhooks" json:"webhooks"`

	Server struct {
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	} `mapstructure:"server" json:"server"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
	} `mapstructure:"logging" json:"logging"`

	Sentry struct {
		DSN string `mapstructure:"dsn" json:"dsn"`
	} `mapstructure:"sentry" json:"sentry"`
}

// WebhookDef is one config-driven subscription definition: a key-prefix
// filter on a contract paired with a delivery endpoint.
type WebhookDef struct {
	Name         string `mapstructure:"name" json:"name"`
	Contract     string `mapstructure:"contract" json:"contract"`
	KeyPrefix    string `mapstructure:"key_prefix" json:"key_prefix"`
	EndpointType string `mapstructure:"endpoint_type" json:"endpoint_type"` // "url" | "soketi"

	// Url endpoint fields.
	Method  string            `mapstructure:"method" json:"method"`
	URL     string            `mapstructure:"url" json:"url"`
	Headers map[string]string `mapstructure:"headers" json:"headers"`

	// Soketi endpoint fields.
	Channel string `mapstructure:"channel" json:"channel"`
	Event   string `mapstructure:"event" json:"event"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and
// returned.
//
// The function uses the provided environment name to merge additional
// config files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/indexer/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("merge %s config: %w", env, err)
		}
	}

	viper.AutomaticEnv() // picks up from .env

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if AppConfig.Batch <= 0 {
		AppConfig.Batch = 5000
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the WASMIDX_ENV environment
// variable to select which override file (if any) to merge over default.yaml.
func LoadFromEnv() (*Config, error) {
	return Load(os.Getenv("WASMIDX_ENV"))
}
