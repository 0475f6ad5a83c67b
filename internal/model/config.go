package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const appName = "access-console"

// ServerConfig holds the REST endpoint settings.
type ServerConfig struct {
	// BaseURL is the root URL of the access-control server.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// RequestTimeout bounds a single HTTP request. Zero means no timeout.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// RealtimeConfig holds the realtime connection settings.
type RealtimeConfig struct {
	// URL is the realtime endpoint. Empty falls back to Server.BaseURL.
	URL string `mapstructure:"url" yaml:"url"`

	// MaxReconnectAttempts is the number of failed attempts tolerated
	// per outage before giving up.
	MaxReconnectAttempts int `mapstructure:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`

	// ReconnectDelay is the fixed wait between automatic attempts.
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`

	// ForceReconnectDelay is the wait between teardown and reconnect
	// in a forced reconnect.
	ForceReconnectDelay time.Duration `mapstructure:"force_reconnect_delay" yaml:"force_reconnect_delay"`
}

// StoreConfig holds the timings of the notification store start sequence.
type StoreConfig struct {
	InitialDelay       time.Duration `mapstructure:"initial_delay" yaml:"initial_delay"`
	SettleDelay        time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	SafetyRefetchDelay time.Duration `mapstructure:"safety_refetch_delay" yaml:"safety_refetch_delay"`
}

// SyncConfig holds background refetch settings.
type SyncConfig struct {
	// PollInterval is how often the notification list is refetched.
	// Zero disables periodic refetch.
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// CacheConfig locates the local snapshot database.
type CacheConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Realtime RealtimeConfig `mapstructure:"realtime" yaml:"realtime"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	Sync     SyncConfig     `mapstructure:"sync" yaml:"sync"`
	Cache    CacheConfig    `mapstructure:"cache" yaml:"cache"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// RealtimeURL returns the realtime endpoint, defaulting to the REST base URL.
func (c *AppConfig) RealtimeURL() string {
	if c.Realtime.URL != "" {
		return c.Realtime.URL
	}
	return c.Server.BaseURL
}

// ConfigDir returns ~/.config/access-console, or "." when the home
// directory cannot be resolved.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", appName)
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/access-console/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			BaseURL: "http://localhost:3000",
		},
		Realtime: RealtimeConfig{
			MaxReconnectAttempts: 5,
			ReconnectDelay:       time.Second,
			ForceReconnectDelay:  time.Second,
		},
		Store: StoreConfig{
			InitialDelay:       500 * time.Millisecond,
			SettleDelay:        time.Second,
			SafetyRefetchDelay: 2 * time.Second,
		},
		Sync: SyncConfig{
			PollInterval: 60 * time.Second,
		},
		Cache: CacheConfig{
			Path: filepath.Join(ConfigDir(), "cache.db"),
		},
		Log: LogConfig{
			Level: "info",
			File:  filepath.Join(ConfigDir(), appName+".log"),
		},
	}
}

// flagKeys maps command-line flag names onto configuration keys.
var flagKeys = map[string]string{
	"server":    "server.base_url",
	"realtime":  "realtime.url",
	"log-level": "log.level",
	"log-file":  "log.file",
	"cache":     "cache.path",
}

// RegisterFlags adds the configuration override flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("server", "", "access-control server base URL")
	fs.String("realtime", "", "realtime endpoint (defaults to --server)")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("log-file", "", "log file path")
	fs.String("cache", "", "snapshot cache database path")
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// Environment variables prefixed ACCESS_CONSOLE_ and any flags registered
// with RegisterFlags on fs take precedence over the file. fs may be nil.
// If the file does not exist, defaults are used.
func LoadConfig(path string, fs *pflag.FlagSet) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("ACCESS_CONSOLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults so missing keys resolve to sensible values.
	def := defaultAppConfig()
	v.SetDefault("server.base_url", def.Server.BaseURL)
	v.SetDefault("server.request_timeout", def.Server.RequestTimeout)
	v.SetDefault("realtime.url", def.Realtime.URL)
	v.SetDefault("realtime.max_reconnect_attempts", def.Realtime.MaxReconnectAttempts)
	v.SetDefault("realtime.reconnect_delay", def.Realtime.ReconnectDelay)
	v.SetDefault("realtime.force_reconnect_delay", def.Realtime.ForceReconnectDelay)
	v.SetDefault("store.initial_delay", def.Store.InitialDelay)
	v.SetDefault("store.settle_delay", def.Store.SettleDelay)
	v.SetDefault("store.safety_refetch_delay", def.Store.SafetyRefetchDelay)
	v.SetDefault("sync.poll_interval", def.Sync.PollInterval)
	v.SetDefault("cache.path", def.Cache.Path)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.file", def.Log.File)

	if fs != nil {
		for name, key := range flagKeys {
			flag := fs.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, fmt.Errorf("binding flag --%s: %w", name, err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		_, isPathErr := err.(*os.PathError)
		_, isNotFound := err.(viper.ConfigFileNotFoundError)
		if !isPathErr && !isNotFound {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.Server.BaseURL = strings.TrimRight(cfg.Server.BaseURL, "/")
	if cfg.Realtime.MaxReconnectAttempts <= 0 {
		cfg.Realtime.MaxReconnectAttempts = def.Realtime.MaxReconnectAttempts
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("server.base_url", cfg.Server.BaseURL)
	v.Set("server.request_timeout", cfg.Server.RequestTimeout.String())
	v.Set("realtime.url", cfg.Realtime.URL)
	v.Set("realtime.max_reconnect_attempts", cfg.Realtime.MaxReconnectAttempts)
	v.Set("realtime.reconnect_delay", cfg.Realtime.ReconnectDelay.String())
	v.Set("realtime.force_reconnect_delay", cfg.Realtime.ForceReconnectDelay.String())
	v.Set("store.initial_delay", cfg.Store.InitialDelay.String())
	v.Set("store.settle_delay", cfg.Store.SettleDelay.String())
	v.Set("store.safety_refetch_delay", cfg.Store.SafetyRefetchDelay.String())
	v.Set("sync.poll_interval", cfg.Sync.PollInterval.String())
	v.Set("cache.path", cfg.Cache.Path)
	v.Set("log.level", cfg.Log.Level)
	v.Set("log.file", cfg.Log.File)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
