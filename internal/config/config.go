package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the server configuration.
type Config struct {
	Addr        string        `mapstructure:"addr"`
	DBPath      string        `mapstructure:"db_path"`
	StaticDir   string        `mapstructure:"static_dir"`
	BaseAddress string        `mapstructure:"base_address"`
	SessionTTL  time.Duration `mapstructure:"session_ttl"`
	Tabs        TabsConfig    `mapstructure:"tabs"`
	Relay       RelayConfig   `mapstructure:"relay"`
	Admin       AdminConfig   `mapstructure:"admin"`
}

// TabsConfig bounds the tab manager of each page session.
type TabsConfig struct {
	MaxDraftTabs  int           `mapstructure:"max_draft_tabs"`
	EvictOldest   bool          `mapstructure:"evict_oldest"`
	PurgeOnClose  bool          `mapstructure:"purge_on_close"`
	SubmitTimeout time.Duration `mapstructure:"submit_timeout"`
}

// RelayConfig describes where submissions go. With Endpoint empty the server
// forwards to WebhookURL itself.
type RelayConfig struct {
	Endpoint   string        `mapstructure:"endpoint"`
	WebhookURL string        `mapstructure:"webhook_url"`
	Token      string        `mapstructure:"token"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// AdminConfig holds the admin credentials. PasswordHash (bcrypt) wins over
// Password when both are set.
type AdminConfig struct {
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	PasswordHash string `mapstructure:"password_hash"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:        ":8080",
		DBPath:      "data/rhye.db",
		StaticDir:   "static",
		BaseAddress: "rhye.dev/",
		SessionTTL:  24 * time.Hour,
		Tabs: TabsConfig{
			MaxDraftTabs:  16,
			EvictOldest:   false,
			PurgeOnClose:  false,
			SubmitTimeout: 15 * time.Second,
		},
		Relay: RelayConfig{
			Timeout: 15 * time.Second,
		},
		Admin: AdminConfig{
			Username: "admin",
		},
	}
}

// envBindings keeps the variable names the site has always been deployed with.
var envBindings = map[string]string{
	"addr":                "PORT",
	"db_path":             "DB_PATH",
	"static_dir":          "STATIC_DIR",
	"relay.endpoint":      "RELAY_ENDPOINT",
	"relay.webhook_url":   "WEBHOOK_URL",
	"relay.token":         "SECRET_TOKEN",
	"admin.username":      "ADMIN_USERNAME",
	"admin.password":      "ADMIN_PASSWORD",
	"admin.password_hash": "ADMIN_PASSWORD_HASH",
	"tabs.max_draft_tabs": "MAX_DRAFT_TABS",
	"tabs.purge_on_close": "PURGE_ON_CLOSE",
	"tabs.submit_timeout": "SUBMIT_TIMEOUT",
}

// Load reads the optional yaml file at path, then the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetDefault("addr", cfg.Addr)
	v.SetDefault("db_path", cfg.DBPath)
	v.SetDefault("static_dir", cfg.StaticDir)
	v.SetDefault("base_address", cfg.BaseAddress)
	v.SetDefault("session_ttl", cfg.SessionTTL)
	v.SetDefault("tabs.max_draft_tabs", cfg.Tabs.MaxDraftTabs)
	v.SetDefault("tabs.evict_oldest", cfg.Tabs.EvictOldest)
	v.SetDefault("tabs.purge_on_close", cfg.Tabs.PurgeOnClose)
	v.SetDefault("tabs.submit_timeout", cfg.Tabs.SubmitTimeout)
	v.SetDefault("relay.endpoint", cfg.Relay.Endpoint)
	v.SetDefault("relay.webhook_url", cfg.Relay.WebhookURL)
	v.SetDefault("relay.token", cfg.Relay.Token)
	v.SetDefault("relay.timeout", cfg.Relay.Timeout)
	v.SetDefault("admin.username", cfg.Admin.Username)
	v.SetDefault("admin.password", cfg.Admin.Password)
	v.SetDefault("admin.password_hash", cfg.Admin.PasswordHash)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	cfg.Addr = normalizeAddr(cfg.Addr)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// normalizeAddr accepts a bare port the way PORT is usually set.
func normalizeAddr(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr != "" && !strings.Contains(addr, ":") {
		return ":" + addr
	}
	return addr
}

// Validate checks values that would otherwise fail late.
func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.New("addr is required")
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return errors.New("db_path is required")
	}
	if c.Tabs.MaxDraftTabs < 0 {
		return errors.New("tabs.max_draft_tabs must not be negative")
	}
	for name, raw := range map[string]string{
		"relay.endpoint":    c.Relay.Endpoint,
		"relay.webhook_url": c.Relay.WebhookURL,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must include scheme and host (e.g. https://example.com)", name)
		}
	}
	return nil
}

// WriteDefault writes the default configuration as yaml to path. Secrets are
// left out; they belong in the environment.
func WriteDefault(path string, overwrite bool) error {
	if path == "" {
		return errors.New("config path is required")
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	data, err := yaml.Marshal(defaultFile(Default()))
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// fileConfig mirrors Config with durations spelled the way viper reads them.
type fileConfig struct {
	Addr        string `yaml:"addr"`
	DBPath      string `yaml:"db_path"`
	StaticDir   string `yaml:"static_dir"`
	BaseAddress string `yaml:"base_address"`
	SessionTTL  string `yaml:"session_ttl"`
	Tabs        struct {
		MaxDraftTabs  int    `yaml:"max_draft_tabs"`
		EvictOldest   bool   `yaml:"evict_oldest"`
		PurgeOnClose  bool   `yaml:"purge_on_close"`
		SubmitTimeout string `yaml:"submit_timeout"`
	} `yaml:"tabs"`
	Relay struct {
		Endpoint   string `yaml:"endpoint"`
		WebhookURL string `yaml:"webhook_url"`
		Timeout    string `yaml:"timeout"`
	} `yaml:"relay"`
	Admin struct {
		Username string `yaml:"username"`
	} `yaml:"admin"`
}

func defaultFile(c Config) fileConfig {
	var f fileConfig
	f.Addr = c.Addr
	f.DBPath = c.DBPath
	f.StaticDir = c.StaticDir
	f.BaseAddress = c.BaseAddress
	f.SessionTTL = c.SessionTTL.String()
	f.Tabs.MaxDraftTabs = c.Tabs.MaxDraftTabs
	f.Tabs.EvictOldest = c.Tabs.EvictOldest
	f.Tabs.PurgeOnClose = c.Tabs.PurgeOnClose
	f.Tabs.SubmitTimeout = c.Tabs.SubmitTimeout.String()
	f.Relay.Endpoint = c.Relay.Endpoint
	f.Relay.WebhookURL = c.Relay.WebhookURL
	f.Relay.Timeout = c.Relay.Timeout.String()
	f.Admin.Username = c.Admin.Username
	return f
}
