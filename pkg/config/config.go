package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	ModeWizard  = "wizard"
	ModeProfile = "profile"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
)

// Config is the root bot configuration.
type Config struct {
	Bot      BotConfig      `yaml:"bot"`
	Server   ServerConfig   `yaml:"server"`
	Telegram TelegramConfig `yaml:"telegram"`
	OAuth    OAuthConfig    `yaml:"oauth"`
	Graph    GraphConfig    `yaml:"graph"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`
}

// BotConfig selects the dialog and the OAuth connection it signs users in with.
type BotConfig struct {
	Mode           string        `yaml:"mode"            env:"BOT_MODE"            env-default:"wizard"`
	ConnectionName string        `yaml:"connection_name" env:"BOT_CONNECTION_NAME" env-default:"graph"`
	LoginTimeout   time.Duration `yaml:"login_timeout"   env:"BOT_LOGIN_TIMEOUT"   env-default:"5m"`
	Welcome        string        `yaml:"welcome"         env:"BOT_WELCOME"         env-default:"Welcome to the calendar bot. Type anything to get logged in. Type 'logout' to sign-out."`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"             env:"SERVER_ADDR"             env-default:":3978"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// TelegramConfig enables the Telegram long-polling channel.
type TelegramConfig struct {
	Enabled bool   `yaml:"enabled" env:"TELEGRAM_ENABLED"`
	Token   string `yaml:"token"   env:"TELEGRAM_BOT_TOKEN"`
	Timeout int    `yaml:"timeout" env:"TELEGRAM_POLL_TIMEOUT" env-default:"60"`
}

// OAuthConfig describes the Azure AD app registration behind the connection.
type OAuthConfig struct {
	TenantID     string   `yaml:"tenant_id"     env:"OAUTH_TENANT_ID"     env-default:"common"`
	ClientID     string   `yaml:"client_id"     env:"OAUTH_CLIENT_ID"`
	ClientSecret string   `yaml:"client_secret" env:"OAUTH_CLIENT_SECRET"`
	RedirectURL  string   `yaml:"redirect_url"  env:"OAUTH_REDIRECT_URL"  env-default:"http://localhost:3978/oauth/callback"`
	Scopes       []string `yaml:"scopes"        env:"OAUTH_SCOPES"        env-default:"openid,offline_access,User.Read,Calendars.ReadWrite,Group.Read.All"`
}

// GraphConfig holds Microsoft Graph gateway settings.
type GraphConfig struct {
	BaseURL           string  `yaml:"base_url"            env:"GRAPH_BASE_URL"            env-default:"https://graph.microsoft.com/v1.0"`
	GroupCalendarID   string  `yaml:"group_calendar_id"   env:"GRAPH_GROUP_CALENDAR_ID"   env-default:"9efa069f-79ee-447e-beb4-65a9dcbcb62f"`
	CalendarGroupName string  `yaml:"calendar_group_name" env:"GRAPH_CALENDAR_GROUP_NAME" env-default:"DEMO-GROUP-CALENDAR"`
	LocalTimeZone     string  `yaml:"local_time_zone"     env:"GRAPH_LOCAL_TIME_ZONE"`
	EventTimeZone     string  `yaml:"event_time_zone"     env:"GRAPH_EVENT_TIME_ZONE"     env-default:"Pacific Standard Time"`
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"GRAPH_REQUESTS_PER_SECOND" env-default:"10"`
	Burst             int     `yaml:"burst"               env:"GRAPH_BURST"               env-default:"15"`
}

// StorageConfig selects where conversation and user state live.
type StorageConfig struct {
	Driver string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"memory"`
	DSN    string `yaml:"dsn"    env:"STORAGE_DSN"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if err := c.Bot.validate(); err != nil {
		return fmt.Errorf("config validation failed: bot: %w", err)
	}
	if err := c.Storage.validate(); err != nil {
		return fmt.Errorf("config validation failed: storage: %w", err)
	}
	if c.Telegram.Enabled && c.Telegram.Token == "" {
		return fmt.Errorf("config validation failed: telegram is enabled but no token is set")
	}
	if c.Bot.Mode == ModeWizard {
		if c.OAuth.ClientID == "" {
			return fmt.Errorf("config validation failed: oauth: client_id is required in %s mode", ModeWizard)
		}
		if err := c.Graph.validate(); err != nil {
			return fmt.Errorf("config validation failed: graph: %w", err)
		}
	}
	return nil
}

func (b *BotConfig) validate() error {
	b.Mode = strings.ToLower(strings.TrimSpace(b.Mode))
	switch b.Mode {
	case ModeWizard, ModeProfile:
	default:
		return fmt.Errorf("unknown mode %q", b.Mode)
	}
	if b.ConnectionName == "" {
		return fmt.Errorf("connection_name is empty")
	}
	if b.LoginTimeout <= 0 {
		return fmt.Errorf("login_timeout must be > 0 (got %v)", b.LoginTimeout)
	}
	return nil
}

func (s *StorageConfig) validate() error {
	switch s.Driver {
	case StorageMemory:
		return nil
	case StoragePostgres, StorageSQLite:
		if s.DSN == "" {
			return fmt.Errorf("driver %q requires a dsn", s.Driver)
		}
		return nil
	default:
		return fmt.Errorf("unknown driver %q", s.Driver)
	}
}

func (g *GraphConfig) validate() error {
	if g.BaseURL == "" {
		return fmt.Errorf("base_url is empty")
	}
	if g.GroupCalendarID == "" {
		return fmt.Errorf("group_calendar_id is empty")
	}
	if g.RequestsPerSecond <= 0 || g.Burst <= 0 {
		return fmt.Errorf("rate limit must be positive (rps %v, burst %d)", g.RequestsPerSecond, g.Burst)
	}
	return nil
}
