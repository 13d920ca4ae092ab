package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd("1.2.3", "abc", "today")
	want := []string{"serve", "version", "session", "block", "incident", "assess",
		"schedule", "assertion", "openapi", "mcp", "status", "config"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd == root {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	resetViper(t)

	fc, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if fc.Store.Driver != "sqlite" {
		t.Errorf("driver = %q, want sqlite", fc.Store.Driver)
	}
	if fc.Security.MaxSessionsPerAdmin != 10 {
		t.Errorf("max sessions = %d, want 10", fc.Security.MaxSessionsPerAdmin)
	}
}

func TestLoadConfigFileAndEnvOverrides(t *testing.T) {
	resetViper(t)

	path := filepath.Join(t.TempDir(), "adminguard.yaml")
	yaml := "server:\n  port: 9090\nlogging:\n  level: info\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig: %v", err)
	}
	viper.SetEnvPrefix("ADMINGUARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	t.Setenv("ADMINGUARD_LOGGING_LEVEL", "debug")

	fc, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if fc.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", fc.Server.Port)
	}
	if fc.Logging.Level != "debug" {
		t.Errorf("level = %q, want debug from the environment", fc.Logging.Level)
	}
}

func TestLoadConfigRejectsUnknownDriver(t *testing.T) {
	resetViper(t)
	viper.Set("store.driver", "oracle")

	if _, err := loadConfig(); err == nil {
		t.Fatal("expected an error for an unsupported driver")
	}
}

func TestBuildComponentsSQLite(t *testing.T) {
	resetViper(t)
	old := dataDir
	dataDir = t.TempDir()
	t.Cleanup(func() { dataDir = old })

	fc, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	c, err := buildComponents(fc, newLogger(fc.Logging))
	if err != nil {
		t.Fatalf("buildComponents: %v", err)
	}
	defer c.close()

	ctx := context.Background()
	if err := c.store.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	blocks, err := c.limiter.ListBlocks(ctx, true)
	if err != nil || len(blocks) != 0 {
		t.Errorf("ListBlocks = %v, %v; want empty", blocks, err)
	}
	if _, err := os.Stat(filepath.Join(dataDir, "adminguard.db")); err != nil {
		t.Errorf("expected the SQLite file in the data dir: %v", err)
	}

	deps := c.deps()
	if deps.Sessions == nil || deps.Invalidation == nil {
		t.Error("deps should carry every component")
	}
}

func TestVersionString(t *testing.T) {
	old := appVersion
	t.Cleanup(func() { appVersion = old })

	for in, want := range map[string]string{"": "dev", "dev": "dev", "1.0.0": "v1.0.0", "v2.1.0": "v2.1.0"} {
		appVersion = in
		if got := versionString(); got != want {
			t.Errorf("versionString(%q) = %q, want %q", in, got, want)
		}
	}
}
