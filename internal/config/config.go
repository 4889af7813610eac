// Package config resolves runtime settings with the usual precedence:
// built-in defaults, then the config file, then QUORUM_* environment
// variables, then command-line flags bound by the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	DefaultServerURL      = "http://localhost:8010"
	DefaultRequestTimeout = 10 * time.Minute
	DefaultTranscriptDir  = "~/.quorum/transcripts"
	DefaultLogLevel       = "info"
)

// Config captures user-tunable settings shared across commands.
type Config struct {
	ServerURL      string        `mapstructure:"server_url" yaml:"server_url"`
	APIKey         string        `mapstructure:"api_key" yaml:"api_key,omitempty"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	TranscriptDir  string        `mapstructure:"transcript_dir" yaml:"transcript_dir"`
	LogLevel       string        `mapstructure:"log_level" yaml:"log_level"`
	NoColor        bool          `mapstructure:"no_color" yaml:"no_color"`
}

// Dir returns the quorum configuration directory (~/.quorum).
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".quorum"), nil
}

// NewViper builds a viper instance with defaults, config-file discovery and
// environment binding already applied. The CLI binds its flags on top.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("server_url", DefaultServerURL)
	v.SetDefault("request_timeout", DefaultRequestTimeout)
	v.SetDefault("transcript_dir", DefaultTranscriptDir)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("no_color", false)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if dir, err := Dir(); err == nil {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("QUORUM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the resolved configuration out of a prepared viper instance.
// A missing config file is fine; anything else is a real error.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	return &cfg, nil
}

// WriteDefault writes a starter config file at path unless one exists.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists: %s", path)
	}
	cfg := Config{
		ServerURL:      DefaultServerURL,
		RequestTimeout: DefaultRequestTimeout,
		TranscriptDir:  DefaultTranscriptDir,
		LogLevel:       DefaultLogLevel,
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("encode default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
