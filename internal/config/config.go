// Package config loads daemon settings from config.yaml under the app
// config directory, overridable via KEYHAVEN_-prefixed environment
// variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/keyhaven-io/keyhaven-walletd/internal/constants"
	"github.com/keyhaven-io/keyhaven-walletd/internal/store"
)

const (
	configName = "config"
	configType = "yaml"
	envPrefix  = "KEYHAVEN"
)

// Config is the resolved daemon configuration.
type Config struct {
	// ListenHost and ListenPort bind the operator HTTP API. The server
	// additionally refuses non-loopback peers regardless of the bind.
	ListenHost string
	ListenPort int

	// SignerURL is the base URL of the remote key-management backend;
	// SignerAuthToken is its bearer credential.
	SignerURL       string
	SignerAuthToken string

	// AllowedOrigins are the browser origins the operator API accepts.
	AllowedOrigins []string

	LogLevel string
}

// Load reads the configuration. A nil viper instance gets a fresh one; a
// missing config file is fine, defaults and environment apply.
func Load(cfg *viper.Viper) (*Config, error) {
	if cfg == nil {
		cfg = viper.New()
	}

	dir, err := store.ConfigDir(constants.AppName)
	if err != nil {
		return nil, fmt.Errorf("resolve config directory: %w", err)
	}

	cfg.SetConfigName(configName)
	cfg.SetConfigType(configType)
	cfg.AddConfigPath(dir)
	cfg.AddConfigPath(".")

	cfg.SetEnvPrefix(envPrefix)
	cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cfg.AutomaticEnv()

	cfg.SetDefault("listen.host", "127.0.0.1")
	cfg.SetDefault("listen.port", 8711)
	cfg.SetDefault("signer.url", "")
	cfg.SetDefault("signer.auth_token", "")
	cfg.SetDefault("ui.allowed_origins", []string{})
	cfg.SetDefault("log.level", "info")

	if err := cfg.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	c := &Config{
		ListenHost:      cfg.GetString("listen.host"),
		ListenPort:      cfg.GetInt("listen.port"),
		SignerURL:       strings.TrimRight(cfg.GetString("signer.url"), "/"),
		SignerAuthToken: cfg.GetString("signer.auth_token"),
		AllowedOrigins:  cfg.GetStringSlice("ui.allowed_origins"),
		LogLevel:        cfg.GetString("log.level"),
	}

	if c.SignerURL == "" {
		return nil, errors.New("signer.url is required (KEYHAVEN_SIGNER_URL)")
	}
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return nil, fmt.Errorf("invalid listen port: %d", c.ListenPort)
	}

	return c, nil
}

// ListenAddr is the host:port the HTTP server binds.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ListenHost, c.ListenPort)
}
