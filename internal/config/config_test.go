package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
)

func newParsedFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return fs
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(wd) })
}

func TestLoadDefaultsWithoutConfigFile(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, _, err := Load(newParsedFlags(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := DefaultConfig()
	if cfg.Proxy != want.Proxy || cfg.Admin != want.Admin {
		t.Fatalf("got %+v, want %+v", cfg, want)
	}
}

func TestLoadFlagsOverrideDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	fs := newParsedFlags(t, "--proxy-bind-port=9999", "--base=/srv/static")
	cfg, _, err := Load(fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Proxy.BindPort != 9999 {
		t.Fatalf("proxy bind port = %d, want 9999", cfg.Proxy.BindPort)
	}
	if cfg.Admin.BaseDir != "/srv/static" {
		t.Fatalf("admin base dir = %q, want /srv/static", cfg.Admin.BaseDir)
	}
}

func TestLoadConfigFileIsReadWhenPresent(t *testing.T) {
	dir := t.TempDir()
	content := "proxy-bind-port: 7000\nlog-level: DEBUG\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write config.yaml: %v", err)
	}
	chdir(t, dir)

	cfg, _, err := Load(newParsedFlags(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Proxy.BindPort != 7000 {
		t.Fatalf("proxy bind port = %d, want 7000", cfg.Proxy.BindPort)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Fatalf("log level = %q, want DEBUG", cfg.Logging.Level)
	}
}

func TestLoadFlagOverridesConfigFile(t *testing.T) {
	dir := t.TempDir()
	content := "proxy-bind-port: 7000\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write config.yaml: %v", err)
	}
	chdir(t, dir)

	fs := newParsedFlags(t, "--proxy-bind-port=1234")
	cfg, _, err := Load(fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Proxy.BindPort != 1234 {
		t.Fatalf("proxy bind port = %d, want 1234 (flag should win over file)", cfg.Proxy.BindPort)
	}
}

func TestLoadEnvOverridesConfigFile(t *testing.T) {
	dir := t.TempDir()
	content := "proxy-bind-port: 7000\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write config.yaml: %v", err)
	}
	chdir(t, dir)

	t.Setenv("PROXY_PROXY_BIND_PORT", "5555")

	cfg, _, err := Load(newParsedFlags(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Proxy.BindPort != 5555 {
		t.Fatalf("proxy bind port = %d, want 5555 (env should win over file)", cfg.Proxy.BindPort)
	}
}
