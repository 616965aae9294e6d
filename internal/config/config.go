package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Session     SessionConfig     `yaml:"session"`
	Security    SecurityConfig    `yaml:"security"`
	Log         LogConfig         `yaml:"log"`
	DefaultUser DefaultUserConfig `yaml:"default_user"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// Mode is the gin mode: debug, release or test. Stack traces are only
	// included in error responses in debug mode.
	Mode string `yaml:"mode"`
	Env  string `yaml:"env"`
	// TrustedProxies lists the IPs or CIDRs allowed to set X-Forwarded-For.
	// Empty means the client IP is always the socket peer.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

type DatabaseConfig struct {
	Type   string       `yaml:"type"`
	SQLite SQLiteConfig `yaml:"sqlite"`
	MySQL  MySQLConfig  `yaml:"mysql"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Charset  string `yaml:"charset"`
}

type SessionConfig struct {
	CookieName    string        `yaml:"cookie_name"`
	TTL           time.Duration `yaml:"ttl"`
	RememberTTL   time.Duration `yaml:"remember_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type SecurityConfig struct {
	PasswordMinLength    int             `yaml:"password_min_length"`
	PasswordHistoryDepth int             `yaml:"password_history_depth"`
	RateLimit            RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// DefaultUserConfig seeds the first super admin when the users table is empty.
type DefaultUserConfig struct {
	Email    string `yaml:"email"`
	Name     string `yaml:"name"`
	Password string `yaml:"password"`
}

// Default returns a configuration usable for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
			Mode: "release",
			Env:  EnvDevelopment,
		},
		Database: DatabaseConfig{
			Type:   "sqlite",
			SQLite: SQLiteConfig{Path: "data/cms.db"},
			MySQL:  MySQLConfig{Port: 3306, Charset: "utf8mb4"},
		},
		Session: SessionConfig{
			CookieName:  "admin_session",
			TTL:         time.Hour,
			RememberTTL: 12 * time.Hour,
		},
		Security: SecurityConfig{
			PasswordMinLength:    12,
			PasswordHistoryDepth: 5,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 10,
				Burst:             5,
			},
		},
		Log: LogConfig{Level: "info"},
	}
}

// IsDevelopment reports whether cookies may be issued without the Secure flag.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "" || c.Server.Env == EnvDevelopment
}

// Load reads the configuration file and environment variables
func Load(configPath string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		// Environment-only configuration.
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Ensure data directory exists for SQLite
	if cfg.Database.Type == "sqlite" {
		dataDir := filepath.Dir(cfg.Database.SQLite.Path)
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CMS_ENV"); v != "" {
		cfg.Server.Env = v
	}
	if v := os.Getenv("CMS_SERVER_MODE"); v != "" {
		cfg.Server.Mode = v
	}
	if v := os.Getenv("CMS_TRUSTED_PROXIES"); v != "" {
		cfg.Server.TrustedProxies = nil
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.Server.TrustedProxies = append(cfg.Server.TrustedProxies, p)
			}
		}
	}
	if v := os.Getenv("CMS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CMS_DB_TYPE"); v != "" {
		cfg.Database.Type = v
	}
	if v := os.Getenv("CMS_DB_PATH"); v != "" {
		cfg.Database.SQLite.Path = v
	}
	if v := os.Getenv("CMS_MYSQL_HOST"); v != "" {
		cfg.Database.MySQL.Host = v
	}
	if v := os.Getenv("CMS_MYSQL_USER"); v != "" {
		cfg.Database.MySQL.Username = v
	}
	if v := os.Getenv("CMS_MYSQL_PASSWORD"); v != "" {
		cfg.Database.MySQL.Password = v
	}
	if v := os.Getenv("CMS_MYSQL_DATABASE"); v != "" {
		cfg.Database.MySQL.Database = v
	}
	if v := os.Getenv("CMS_SESSION_COOKIE"); v != "" {
		cfg.Session.CookieName = v
	}
	if v := os.Getenv("CMS_DEFAULT_ADMIN_EMAIL"); v != "" {
		cfg.DefaultUser.Email = v
	}
	if v := os.Getenv("CMS_DEFAULT_ADMIN_PASSWORD"); v != "" {
		cfg.DefaultUser.Password = v
	}
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "sqlite":
		if strings.TrimSpace(c.Database.SQLite.Path) == "" {
			return errors.New("sqlite path is required")
		}
	case "mysql":
		if c.Database.MySQL.Username == "" {
			return errors.New("MySQL username is required")
		}
		if c.Database.MySQL.Database == "" {
			return errors.New("MySQL database name is required")
		}
	default:
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}

	for _, p := range c.Server.TrustedProxies {
		if net.ParseIP(p) == nil {
			if _, _, err := net.ParseCIDR(p); err != nil {
				return fmt.Errorf("invalid trusted proxy %q", p)
			}
		}
	}

	if strings.TrimSpace(c.Session.CookieName) == "" {
		return errors.New("session cookie name is required")
	}
	if c.Session.TTL <= 0 {
		return errors.New("session ttl must be positive")
	}
	if c.Session.RememberTTL < c.Session.TTL {
		return errors.New("session remember_ttl must not be shorter than ttl")
	}
	if c.Security.PasswordMinLength < 8 {
		return errors.New("security password_min_length must be at least 8")
	}
	if c.Security.PasswordHistoryDepth < 0 {
		return errors.New("security password_history_depth must not be negative")
	}
	return nil
}
