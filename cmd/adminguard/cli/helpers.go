package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/faucetdb/adminguard/internal/actionlog"
	"github.com/faucetdb/adminguard/internal/anomaly"
	"github.com/faucetdb/adminguard/internal/clock"
	"github.com/faucetdb/adminguard/internal/config"
	"github.com/faucetdb/adminguard/internal/connector"
	"github.com/faucetdb/adminguard/internal/connector/mssql"
	"github.com/faucetdb/adminguard/internal/connector/mysql"
	"github.com/faucetdb/adminguard/internal/connector/postgres"
	"github.com/faucetdb/adminguard/internal/connector/sqlite"
	"github.com/faucetdb/adminguard/internal/handler"
	"github.com/faucetdb/adminguard/internal/incident"
	"github.com/faucetdb/adminguard/internal/ratelimit"
	"github.com/faucetdb/adminguard/internal/scheduler"
	"github.com/faucetdb/adminguard/internal/session"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from --data-dir flag,
// store.data_dir in the config, or ~/.adminguard as fallback.
func resolveDataDir(fc *config.FileConfig) string {
	if dataDir != "" {
		return dataDir
	}
	if fc != nil && fc.Store.DataDir != "" {
		return fc.Store.DataDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".adminguard")
}

// loadConfig reads the config file viper found (or the defaults) and
// applies flag and ADMINGUARD_* environment overrides on top.
func loadConfig() (*config.FileConfig, error) {
	fc := config.DefaultFileConfig()
	if path := viper.ConfigFileUsed(); path != "" {
		if _, err := os.Stat(path); err == nil {
			loaded, err := config.LoadFile(path)
			if err != nil {
				return nil, err
			}
			fc = loaded
		}
	}

	if viper.IsSet("server.host") {
		fc.Server.Host = viper.GetString("server.host")
	}
	if viper.IsSet("server.port") {
		fc.Server.Port = viper.GetInt("server.port")
	}
	if viper.IsSet("server.requests_per_minute") {
		fc.Server.RequestsPerMinute = viper.GetInt("server.requests_per_minute")
	}
	if viper.IsSet("store.driver") {
		fc.Store.Driver = viper.GetString("store.driver")
	}
	if viper.IsSet("store.dsn") {
		fc.Store.DSN = viper.GetString("store.dsn")
	}
	if viper.IsSet("store.data_dir") {
		fc.Store.DataDir = viper.GetString("store.data_dir")
	}
	if viper.IsSet("auth.identity_secret") {
		fc.Auth.IdentitySecret = viper.GetString("auth.identity_secret")
	}
	if viper.IsSet("auth.identity_issuer") {
		fc.Auth.IdentityIssuer = viper.GetString("auth.identity_issuer")
	}
	if viper.IsSet("auth.operator_role") {
		fc.Auth.OperatorRole = viper.GetString("auth.operator_role")
	}
	if viper.IsSet("cache.backend") {
		fc.Cache.Backend = viper.GetString("cache.backend")
	}
	if viper.IsSet("cache.redis_url") {
		fc.Cache.RedisURL = viper.GetString("cache.redis_url")
	}
	if viper.IsSet("security.timezone") {
		fc.Security.Timezone = viper.GetString("security.timezone")
	}
	if viper.IsSet("logging.level") {
		fc.Logging.Level = viper.GetString("logging.level")
	}
	if viper.IsSet("logging.format") {
		fc.Logging.Format = viper.GetString("logging.format")
	}

	if err := fc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return fc, nil
}

// newLogger builds the process logger from the logging section.
func newLogger(lc config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(lc.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// newRegistry creates a connector registry with all supported store drivers registered.
func newRegistry() *connector.Registry {
	registry := connector.NewRegistry()
	registry.RegisterDriver("postgres", func() connector.Connector { return postgres.New() })
	registry.RegisterDriver("mysql", func() connector.Connector { return mysql.New() })
	registry.RegisterDriver("mssql", func() connector.Connector { return mssql.New() })
	registry.RegisterDriver("sqlite", func() connector.Connector { return sqlite.New() })
	return registry
}

// openStore opens and migrates the configured backing store.
func openStore(fc *config.FileConfig) (*config.Store, error) {
	if fc.Store.Driver == "sqlite" && fc.Store.DSN == "" {
		return config.NewStore(resolveDataDir(fc))
	}
	conn, err := newRegistry().Open(connector.ConnectionConfig{
		Driver:          fc.Store.Driver,
		DSN:             fc.Store.DSN,
		MaxOpenConns:    fc.Store.MaxOpenConns,
		MaxIdleConns:    fc.Store.MaxIdleConns,
		ConnMaxLifetime: fc.Store.ConnMaxLifetime,
		ConnMaxIdleTime: fc.Store.ConnMaxIdleTime,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", fc.Store.Driver, err)
	}
	return config.Open(conn)
}

// components are the security components shared by every command.
type components struct {
	cfg          *config.FileConfig
	store        *config.Store
	clock        clock.Clock
	cache        *session.VerifyCache
	sessions     *session.Manager
	tracker      *incident.Tracker
	limiter      *ratelimit.Limiter
	actions      *actionlog.Recorder
	detector     *anomaly.Detector
	invalidation *scheduler.InvalidationService
	logger       *slog.Logger
}

// buildComponents opens the store and wires every component. Call close
// when done.
func buildComponents(fc *config.FileConfig, logger *slog.Logger) (*components, error) {
	clk, err := clock.NewReal(fc.Security.Timezone)
	if err != nil {
		return nil, err
	}
	scfg, err := session.ConfigFrom(fc.Security)
	if err != nil {
		return nil, err
	}

	store, err := openStore(fc)
	if err != nil {
		return nil, err
	}

	var cache *session.VerifyCache
	switch fc.Cache.Backend {
	case "redis":
		storage, err := session.NewRedisStorage(session.RedisOptions{
			URL:         fc.Cache.RedisURL,
			PoolSize:    fc.Cache.RedisPool,
			ClusterMode: fc.Cache.RedisCluster,
		})
		if err != nil {
			store.Close()
			return nil, err
		}
		cache = session.NewVerifyCache(storage, fc.Security.ReverifyInterval)
	default:
		cache = session.NewVerifyCache(session.NewMemoryStorage(), fc.Security.ReverifyInterval)
	}

	sessions := session.NewManager(store, clk, scfg, cache, logger)
	tracker := incident.NewTracker(store, clk, logger)
	notifier := anomaly.MultiNotifier{anomaly.NewLogNotifier(logger), anomaly.NewStoreNotifier(store, clk)}

	return &components{
		cfg:          fc,
		store:        store,
		clock:        clk,
		cache:        cache,
		sessions:     sessions,
		tracker:      tracker,
		limiter:      ratelimit.New(store, tracker, clk, ratelimit.ConfigFrom(fc.Security), logger),
		actions:      actionlog.NewRecorder(store, clk, fc.Security.UnknownActionPolicy, logger),
		detector:     anomaly.NewDetector(store, clk, anomaly.ConfigFrom(fc.Security), notifier, logger).WithTerminator(sessions),
		invalidation: scheduler.NewInvalidationService(store, sessions, clk, 0, logger),
		logger:       logger,
	}, nil
}

// deps returns the handler dependencies.
func (c *components) deps() handler.Deps {
	return handler.Deps{
		Store:        c.store,
		Sessions:     c.sessions,
		Limiter:      c.limiter,
		Incidents:    c.tracker,
		Actions:      c.actions,
		Detector:     c.detector,
		Invalidation: c.invalidation,
		Logger:       c.logger,
	}
}

func (c *components) close() {
	if c.cache != nil {
		c.cache.Close()
	}
	c.store.Close()
}

// withComponents loads configuration, wires the components and runs fn.
// CLI subcommands log warnings and errors only.
func withComponents(fn func(ctx context.Context, c *components) error) error {
	fc, err := loadConfig()
	if err != nil {
		return err
	}
	lc := fc.Logging
	if lc.Level == "info" || lc.Level == "debug" {
		lc.Level = "warn"
	}
	c, err := buildComponents(fc, newLogger(lc))
	if err != nil {
		return err
	}
	defer c.close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return fn(ctx, c)
}

// defaultOperator names the operator for audit fields when --operator is
// not given.
func defaultOperator() string {
	if u := os.Getenv("USER"); u != "" {
		return "cli:" + u
	}
	return "cli"
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func clockFor(fc *config.FileConfig) (clock.Clock, error) {
	return clock.NewReal(fc.Security.Timezone)
}
