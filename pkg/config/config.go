package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the client configuration. File values overlay the defaults,
// environment variables overlay the file.
type Config struct {
	API       APIConfig       `json:"api"`
	Transport TransportConfig `json:"transport"`
	User      UserConfig      `json:"user"`
	Messages  MessagesConfig  `json:"messages"`
	LogLevel  string          `json:"log_level" env:"BOOKSWAP_LOG_LEVEL"`
}

type APIConfig struct {
	BaseURL   string        `json:"base_url" env:"BOOKSWAP_API_BASE_URL"`
	AuthToken string        `json:"auth_token,omitempty" env:"BOOKSWAP_AUTH_TOKEN"`
	Timeout   time.Duration `json:"timeout,omitempty" env:"BOOKSWAP_API_TIMEOUT"`
}

type TransportConfig struct {
	WSBaseURL  string        `json:"ws_base_url" env:"BOOKSWAP_WS_BASE_URL"`
	BackoffMin time.Duration `json:"backoff_min,omitempty" env:"BOOKSWAP_BACKOFF_MIN"`
	BackoffMax time.Duration `json:"backoff_max,omitempty" env:"BOOKSWAP_BACKOFF_MAX"`
}

type UserConfig struct {
	ID          string            `json:"id" env:"BOOKSWAP_USER_ID"`
	DisplayName string            `json:"display_name,omitempty" env:"BOOKSWAP_DISPLAY_NAME"`
	PeerNames   map[string]string `json:"peer_names,omitempty"`
}

type MessagesConfig struct {
	PageSize int `json:"page_size,omitempty" env:"BOOKSWAP_PAGE_SIZE"`
}

func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "https://api.bookswap.tinyland.dev",
			Timeout: 15 * time.Second,
		},
		Transport: TransportConfig{
			WSBaseURL:  "wss://api.bookswap.tinyland.dev",
			BackoffMin: time.Second,
			BackoffMax: 30 * time.Second,
		},
		Messages: MessagesConfig{
			PageSize: 50,
		},
		LogLevel: "INFO",
	}
}

// LoadConfig reads the config at path and applies environment overrides.
// A missing file is not an error; defaults plus environment are returned.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(expandHome(path))
	if err != nil {
		if os.IsNotExist(err) {
			if err := env.Parse(cfg); err != nil {
				return nil, err
			}
			return cfg, cfg.validate()
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, cfg.validate()
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	path = expandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

func (c *Config) validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url must not be empty")
	}
	if c.Transport.WSBaseURL == "" {
		return fmt.Errorf("transport.ws_base_url must not be empty")
	}
	if c.Messages.PageSize <= 0 {
		c.Messages.PageSize = DefaultConfig().Messages.PageSize
	}
	if c.Transport.BackoffMin <= 0 || c.Transport.BackoffMax < c.Transport.BackoffMin {
		def := DefaultConfig()
		c.Transport.BackoffMin = def.Transport.BackoffMin
		c.Transport.BackoffMax = def.Transport.BackoffMax
	}
	return nil
}

// PeerName resolves a display name for a user id, falling back to the id.
func (c *Config) PeerName(userID string) string {
	if name, ok := c.User.PeerNames[userID]; ok && name != "" {
		return name
	}
	return userID
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		if len(path) == 1 {
			return home
		}
	}
	return path
}
