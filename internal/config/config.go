package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration. Values come from built-in
// defaults, then the YAML config file, then command-line flags.
type Config struct {
	SocketPath  string `yaml:"socket_path"`
	HistoryPath string `yaml:"history_path"`
	Shell       string `yaml:"shell"`
	AttachToken string `yaml:"attach_token"`
	LogLevel    string `yaml:"log_level"`

	ConfigPath string `yaml:"-"`
}

// Load resolves the configuration for one subcommand invocation.
// args are the arguments after the subcommand name.
func Load(name string, args []string) (*Config, error) {
	cfg := &Config{
		SocketPath:  DefaultSocketPath(),
		HistoryPath: defaultHistoryPath(),
		Shell:       "/bin/bash",
		LogLevel:    "info",
	}

	cfg.ConfigPath = os.Getenv("SANDBOX_TOOLS_CONFIG")
	if cfg.ConfigPath == "" {
		if homeDir, err := os.UserHomeDir(); err == nil {
			cfg.ConfigPath = filepath.Join(homeDir, ".config", "sandbox-tools", "config.yaml")
		}
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&cfg.ConfigPath, "config", cfg.ConfigPath, "path to YAML config file")
	fs.StringVar(&cfg.SocketPath, "socket", cfg.SocketPath, "unix socket the daemon listens on")
	fs.StringVar(&cfg.HistoryPath, "history", cfg.HistoryPath, "sqlite history database path (empty disables history)")
	fs.StringVar(&cfg.Shell, "shell", cfg.Shell, "shell started for interactive sessions")
	fs.StringVar(&cfg.AttachToken, "token", cfg.AttachToken, "token required to attach an observer (empty allows all)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn or error")

	// File values sit between defaults and flags, so parse flags
	// twice: once to find -config, once to win over the file.
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := cfg.loadFromFile(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.SocketPath == "" {
		return nil, fmt.Errorf("socket path must not be empty")
	}
	if cfg.Shell == "" {
		return nil, fmt.Errorf("shell must not be empty")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log level %q", cfg.LogLevel)
	}

	return cfg, nil
}

func (c *Config) loadFromFile() error {
	if c.ConfigPath == "" {
		return os.ErrNotExist
	}
	data, err := os.ReadFile(c.ConfigPath)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("invalid config file %s: %w", c.ConfigPath, err)
	}
	return nil
}

// DefaultSocketPath places the socket in the runtime dir when one
// exists, otherwise under /tmp keyed by uid.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "sandbox-tools.sock")
	}
	return filepath.Join(os.TempDir(), "sandbox-tools-"+strconv.Itoa(os.Getuid())+".sock")
}

func defaultHistoryPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".local", "share", "sandbox-tools", "history.db")
}
