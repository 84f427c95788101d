package config

import (
	"fmt"
	"strings"
	"time"
)

// Config represents the complete application configuration.
type Config struct {
	Version  string         `yaml:"version"`
	Server   ServerConfig   `yaml:"server"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Auth     AuthConfig     `yaml:"auth"`
	Store    StoreConfig    `yaml:"store"`
	Telegram TelegramConfig `yaml:"telegram"`
	Notes    NotesConfig    `yaml:"notes"`
}

// ServerConfig contains the serve-mode HTTP server configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	HTTPPort        int           `yaml:"http_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`
}

// ScheduleConfig controls the serve-mode invocation schedule.
type ScheduleConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Section  string        `yaml:"section"`
}

// AuthConfig contains OAuth2 device-code flow configuration.
type AuthConfig struct {
	ClientID  string        `yaml:"client_id"`
	Authority string        `yaml:"authority"`
	Scopes    []string      `yaml:"scopes"`
	CachePath string        `yaml:"cache_path"`
	User      string        `yaml:"user"`
	Timeout   time.Duration `yaml:"timeout"`
}

// StoreConfig contains durable record store configuration.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// TelegramConfig contains notification side-channel configuration.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

// NotesConfig contains OneNote retrieval configuration.
type NotesConfig struct {
	Notebook      string          `yaml:"notebook"`
	GraphRoot     string          `yaml:"graph_root"`
	Sections      []SectionConfig `yaml:"sections"`
	RecentLength  int             `yaml:"recent_length"`
	MaxImageBytes int64           `yaml:"max_image_bytes"`
	LinkClient    string          `yaml:"link_client"` // "Client" or "Web"
}

// SectionConfig describes one OneNote section served by the notifier.
type SectionConfig struct {
	Name       string `yaml:"name"`
	Icon       string `yaml:"icon"`
	Sequential bool   `yaml:"sequential"`
}

// Handle returns the storage key prefix for the section.
func (s SectionConfig) Handle() string {
	return strings.ToLower(strings.ReplaceAll(s.Name, " ", "_"))
}

// Section returns the section config by name, falling back to the first
// configured section when name is empty.
func (c *Config) Section(name string) (SectionConfig, bool) {
	if name == "" {
		if len(c.Notes.Sections) == 0 {
			return SectionConfig{}, false
		}
		return c.Notes.Sections[0], true
	}
	for _, s := range c.Notes.Sections {
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
	}
	return SectionConfig{}, false
}

// Validate checks the configuration for missing or inconsistent values.
func (c *Config) Validate() error {
	if c.Auth.ClientID == "" {
		return fmt.Errorf("auth.client_id is required")
	}
	if c.Auth.Authority == "" {
		return fmt.Errorf("auth.authority is required")
	}
	if len(c.Auth.Scopes) == 0 {
		return fmt.Errorf("auth.scopes must not be empty")
	}
	if c.Auth.CachePath == "" {
		return fmt.Errorf("auth.cache_path is required")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Server.HTTPPort < 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port out of range: %d", c.Server.HTTPPort)
	}
	if c.Schedule.Enabled && c.Schedule.Interval <= 0 {
		return fmt.Errorf("schedule.interval must be positive when schedule is enabled")
	}
	if c.Notes.RecentLength < 0 {
		return fmt.Errorf("notes.recent_length must not be negative")
	}
	switch c.Notes.LinkClient {
	case "Client", "Web":
	default:
		return fmt.Errorf("notes.link_client must be \"Client\" or \"Web\", got %q", c.Notes.LinkClient)
	}
	return nil
}
