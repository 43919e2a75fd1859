// Package config provides YAML-based configuration loading for relaytalk.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ZentaChain/relaytalk/pkg/crypto"
)

// Config is the root application configuration.
type Config struct {
	// DataDir base directory for the identity file and message database
	DataDir string `mapstructure:"data_dir"`

	// IdentityFile is the my.info path, relative paths resolve under DataDir
	IdentityFile string `mapstructure:"identity_file"`

	// Database is the sqlite path, relative paths resolve under DataDir
	Database string `mapstructure:"database"`

	// StorePassword unlocks the message database. Empty disables it.
	StorePassword string `mapstructure:"store_password"`

	Server ServerConfig `mapstructure:"server"`
	Crypto CryptoConfig `mapstructure:"crypto"`
	Log    LogConfig    `mapstructure:"log"`
	Bridge BridgeConfig `mapstructure:"bridge"`
}

// ServerConfig locates the relay and bounds every network wait.
type ServerConfig struct {
	// Address is host:port or a multiaddr. Empty falls back to InfoFile.
	Address string `mapstructure:"address"`
	// InfoFile is the legacy server.info file
	InfoFile     string        `mapstructure:"info_file"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// CryptoConfig selects the message cipher.
type CryptoConfig struct {
	// Cipher: aes-gcm or chacha20-poly1305
	Cipher string `mapstructure:"cipher"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// BridgeConfig controls the local HTTP bridge.
type BridgeConfig struct {
	Listen     string `mapstructure:"listen"`
	EnableCORS bool   `mapstructure:"enable_cors"`
	// RateLimit is requests per minute per client IP, 0 disables it
	RateLimit int `mapstructure:"rate_limit"`
	// PollInterval drives background pulls for the stream endpoint, 0 disables it
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		DataDir:      "./data",
		IdentityFile: "my.info",
		Database:     "messages.db",
		Server: ServerConfig{
			InfoFile:     "server.info",
			DialTimeout:  10 * time.Second,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Crypto: CryptoConfig{Cipher: "aes-gcm"},
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/relaytalk.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Bridge: BridgeConfig{
			Listen:       "127.0.0.1:8080",
			EnableCORS:   true,
			RateLimit:    120,
			PollInterval: 0,
		},
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix RELAYTALK and `.`/`-` are replaced with `_`.
// Example: RELAYTALK_SERVER_ADDRESS=10.0.0.5:1234
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("RELAYTALK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("identity_file", cfg.IdentityFile)
	v.SetDefault("database", cfg.Database)
	v.SetDefault("store_password", cfg.StorePassword)
	v.SetDefault("server.address", cfg.Server.Address)
	v.SetDefault("server.info_file", cfg.Server.InfoFile)
	v.SetDefault("server.dial_timeout", cfg.Server.DialTimeout)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)
	v.SetDefault("crypto.cipher", cfg.Crypto.Cipher)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("bridge.listen", cfg.Bridge.Listen)
	v.SetDefault("bridge.enable_cors", cfg.Bridge.EnableCORS)
	v.SetDefault("bridge.rate_limit", cfg.Bridge.RateLimit)
	v.SetDefault("bridge.poll_interval", cfg.Bridge.PollInterval)

	// Choose config file
	if path == "" {
		// Allow override via env var
		if envPath := os.Getenv("RELAYTALK_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search common locations with base name `relaytalk`
		v.SetConfigName("relaytalk")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".relaytalk"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var viperConfigFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &viperConfigFileNotFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values and fills empty optional fields.
func (c *Config) Validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
		// ok
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if _, err := crypto.SymmetricByName(c.Crypto.Cipher); err != nil {
		return fmt.Errorf("invalid crypto.cipher: %w", err)
	}

	for name, d := range map[string]time.Duration{
		"server.dial_timeout":  c.Server.DialTimeout,
		"server.read_timeout":  c.Server.ReadTimeout,
		"server.write_timeout": c.Server.WriteTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("invalid %s: %s, must be positive", name, d)
		}
	}

	if c.Bridge.RateLimit < 0 {
		return fmt.Errorf("invalid bridge.rate_limit: %d", c.Bridge.RateLimit)
	}
	if c.Bridge.PollInterval < 0 {
		return fmt.Errorf("invalid bridge.poll_interval: %s", c.Bridge.PollInterval)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "."
	}
	return nil
}

// IdentityPath returns the identity file location
func (c *Config) IdentityPath() string { return c.resolve(c.IdentityFile) }

// DatabasePath returns the message database location
func (c *Config) DatabasePath() string { return c.resolve(c.Database) }

// ServerInfoPath returns the legacy server.info location
func (c *Config) ServerInfoPath() string { return c.resolve(c.Server.InfoFile) }

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
