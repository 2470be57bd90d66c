package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromFileParsesYAML(t *testing.T) {
	cfg := &Config{}
	cfg.ConfigPath = filepath.Join(t.TempDir(), "config.yaml")

	content := "socket_path: /run/tools.sock\nshell: /bin/zsh\nattach_token: secret\n"
	if err := os.WriteFile(cfg.ConfigPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file error = %v", err)
	}

	if err := cfg.loadFromFile(); err != nil {
		t.Fatalf("loadFromFile() error = %v", err)
	}

	if cfg.SocketPath != "/run/tools.sock" {
		t.Fatalf("SocketPath = %q, want /run/tools.sock", cfg.SocketPath)
	}
	if cfg.Shell != "/bin/zsh" {
		t.Fatalf("Shell = %q, want /bin/zsh", cfg.Shell)
	}
	if cfg.AttachToken != "secret" {
		t.Fatalf("AttachToken = %q, want secret", cfg.AttachToken)
	}
}

func TestLoadFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "shell: /bin/zsh\nlog_level: warn\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file error = %v", err)
	}

	cfg, err := Load("serve", []string{"-config", path, "-shell", "/bin/dash"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Shell != "/bin/dash" {
		t.Errorf("Shell = %q, want flag value /bin/dash", cfg.Shell)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want file value warn", cfg.LogLevel)
	}
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	if _, err := Load("serve", []string{"-log-level", "loud"}); err == nil {
		t.Fatal("expected error for invalid log level")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SANDBOX_TOOLS_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load("serve", nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SocketPath == "" {
		t.Error("expected a default socket path")
	}
	if cfg.Shell != "/bin/bash" {
		t.Errorf("Shell = %q, want /bin/bash", cfg.Shell)
	}
}
