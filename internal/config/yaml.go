package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/faucetdb/adminguard/internal/model"
)

// FileConfig represents the top-level adminguard configuration file.
type FileConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Auth     AuthConfig     `yaml:"auth"`
	Security SecurityConfig `yaml:"security"`
	Cache    CacheConfig    `yaml:"cache"`
	MCP      MCPConfig      `yaml:"mcp"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// RequestsPerMinute caps requests per client address before any
	// session work is done. Zero disables the cap.
	RequestsPerMinute int `yaml:"requests_per_minute"`
	// TrustedProxies lists the CIDRs of reverse proxies whose
	// X-Forwarded-For and X-Real-IP headers are honoured. Headers from any
	// other peer are ignored.
	TrustedProxies []string   `yaml:"trusted_proxies"`
	CORS           CORSConfig `yaml:"cors"`
	TLS            TLSConfig  `yaml:"tls"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
	Methods []string `yaml:"methods"`
}

// TLSConfig controls TLS termination at the server level.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// StoreConfig selects the backing store. Driver is one of sqlite, postgres,
// mysql or mssql; for sqlite an empty DSN means <data_dir>/adminguard.db.
type StoreConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	DataDir         string        `yaml:"data_dir"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// AuthConfig controls how identity assertions from the upstream credential
// check are verified, and which role may operate the security API.
type AuthConfig struct {
	IdentitySecret string `yaml:"identity_secret"`
	IdentityIssuer string `yaml:"identity_issuer"`
	OperatorRole   string `yaml:"operator_role"`
}

// CacheConfig selects the verification cache backend: memory or redis.
type CacheConfig struct {
	Backend      string `yaml:"backend"`
	RedisURL     string `yaml:"redis_url"`
	RedisPool    int    `yaml:"redis_pool_size"`
	RedisCluster bool   `yaml:"redis_cluster"`
}

// MCPConfig controls the MCP (Model Context Protocol) server.
type MCPConfig struct {
	Transport string `yaml:"transport"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// UnknownActionPolicy decides what happens to action types outside the
// closed set.
type UnknownActionPolicy string

const (
	// UnknownActionReject refuses the record with ErrInvalidInput.
	UnknownActionReject UnknownActionPolicy = "reject"
	// UnknownActionHigh records the action as "other" with high risk.
	UnknownActionHigh UnknownActionPolicy = "high"
)

// SecurityConfig holds every tunable of the session, rate limiting and
// anomaly components.
type SecurityConfig struct {
	MaxSessionsPerAdmin int           `yaml:"max_sessions_per_admin"`
	UnlimitedRoles      []string      `yaml:"unlimited_roles"`
	ReverifyInterval    time.Duration `yaml:"reverify_interval"`
	MinSessionAge       time.Duration `yaml:"min_session_age"`
	SessionTimeout      time.Duration `yaml:"session_timeout"`
	IPBinding           bool          `yaml:"ip_binding"`
	UserAgentBinding    bool          `yaml:"user_agent_binding"`

	RotationMaxAge         time.Duration `yaml:"rotation_max_age"`
	RotationAlertThreshold int           `yaml:"rotation_alert_threshold"`
	RotationLockThreshold  int           `yaml:"rotation_lock_threshold"`
	RotationCountWindow    time.Duration `yaml:"rotation_count_window"`
	TrustedNetworks        []string      `yaml:"trusted_networks"`

	RapidCreationThreshold int           `yaml:"rapid_creation_threshold"`
	RapidCreationWindow    time.Duration `yaml:"rapid_creation_window"`

	FailureWindow    time.Duration `yaml:"failure_window"`
	FailureThreshold int           `yaml:"failure_threshold"`
	BlockDuration    time.Duration `yaml:"block_duration"`
	FailureRetention time.Duration `yaml:"failure_retention"`
	CleanupInterval  time.Duration `yaml:"cleanup_interval"`

	NightStartHour      int                 `yaml:"night_start_hour"`
	NightEndHour        int                 `yaml:"night_end_hour"`
	Timezone            string              `yaml:"timezone"`
	UnknownActionPolicy UnknownActionPolicy `yaml:"unknown_action_policy"`
}

// DefaultSecurityConfig returns the documented defaults.
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		MaxSessionsPerAdmin: 10,
		UnlimitedRoles:      []string{"super_admin"},
		ReverifyInterval:    5 * time.Minute,
		MinSessionAge:       30 * time.Second,
		SessionTimeout:      72 * time.Hour,
		IPBinding:           true,
		UserAgentBinding:    true,

		RotationMaxAge:         24 * time.Hour,
		RotationAlertThreshold: 5,
		RotationLockThreshold:  10,
		RotationCountWindow:    24 * time.Hour,

		RapidCreationThreshold: 3,
		RapidCreationWindow:    5 * time.Minute,

		FailureWindow:    10 * time.Minute,
		FailureThreshold: 5,
		BlockDuration:    30 * time.Minute,
		FailureRetention: 7 * 24 * time.Hour,
		CleanupInterval:  5 * time.Minute,

		NightStartHour:      2,
		NightEndHour:        6,
		Timezone:            "UTC",
		UnknownActionPolicy: UnknownActionReject,
	}
}

// Validate rejects settings that would make the components misbehave.
func (c *SecurityConfig) Validate() error {
	var problems []string
	check := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	check(c.MaxSessionsPerAdmin >= 1, "max_sessions_per_admin must be at least 1")
	check(c.ReverifyInterval >= 0, "reverify_interval must not be negative")
	check(c.MinSessionAge >= 0, "min_session_age must not be negative")
	check(c.SessionTimeout > 0, "session_timeout must be positive")
	check(c.RotationMaxAge > 0, "rotation_max_age must be positive")
	check(c.RotationAlertThreshold >= 0, "rotation_alert_threshold must not be negative")
	check(c.RotationLockThreshold >= c.RotationAlertThreshold, "rotation_lock_threshold must be >= rotation_alert_threshold")
	check(c.RotationCountWindow > 0, "rotation_count_window must be positive")
	check(c.RapidCreationThreshold >= 1, "rapid_creation_threshold must be at least 1")
	check(c.RapidCreationWindow > 0, "rapid_creation_window must be positive")
	check(c.FailureWindow > 0, "failure_window must be positive")
	check(c.FailureThreshold >= 1, "failure_threshold must be at least 1")
	check(c.BlockDuration > 0, "block_duration must be positive")
	check(c.FailureRetention >= c.FailureWindow, "failure_retention must be >= failure_window")
	check(c.CleanupInterval > 0, "cleanup_interval must be positive")
	check(c.NightStartHour >= 0 && c.NightStartHour <= 23, "night_start_hour must be 0-23")
	check(c.NightEndHour >= 0 && c.NightEndHour <= 24, "night_end_hour must be 0-24")

	switch c.UnknownActionPolicy {
	case UnknownActionReject, UnknownActionHigh:
	default:
		problems = append(problems, fmt.Sprintf("unknown_action_policy must be %q or %q", UnknownActionReject, UnknownActionHigh))
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			problems = append(problems, fmt.Sprintf("timezone: %v", err))
		}
	}
	if _, err := ParseNetworks(c.TrustedNetworks); err != nil {
		problems = append(problems, "trusted_networks: "+err.Error())
	}

	if len(problems) > 0 {
		return model.Invalid("security config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ParseNetworks parses CIDR blocks and single addresses. A single address
// becomes a /32 (IPv4) or /128 (IPv6) network.
func ParseNetworks(entries []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			_, n, err := net.ParseCIDR(e)
			if err != nil {
				return nil, fmt.Errorf("invalid CIDR %q", e)
			}
			nets = append(nets, n)
			continue
		}
		ip := net.ParseIP(e)
		if ip == nil {
			return nil, fmt.Errorf("invalid address %q", e)
		}
		bits := 128
		if v4 := ip.To4(); v4 != nil {
			ip, bits = v4, 32
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets, nil
}

// LoadFile reads and parses a YAML configuration file on top of the
// defaults. Environment variables referenced as ${VAR_NAME} in the file are
// expanded before parsing.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables: ${VAR_NAME}
	content := os.ExpandEnv(string(data))

	cfg := DefaultFileConfig()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// DefaultFileConfig returns a FileConfig pre-filled with sensible defaults.
func DefaultFileConfig() *FileConfig {
	pool := model.DefaultPoolConfig()
	return &FileConfig{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			ShutdownTimeout:   30 * time.Second,
			RequestsPerMinute: 600,
			CORS: CORSConfig{
				Origins: []string{"*"},
				Methods: []string{"GET", "POST", "PUT", "DELETE"},
			},
		},
		Store: StoreConfig{
			Driver:          "sqlite",
			MaxOpenConns:    pool.MaxOpenConns,
			MaxIdleConns:    pool.MaxIdleConns,
			ConnMaxLifetime: pool.ConnMaxLifetime,
			ConnMaxIdleTime: pool.ConnMaxIdleTime,
		},
		Auth: AuthConfig{
			OperatorRole: "super_admin",
		},
		Security: DefaultSecurityConfig(),
		Cache: CacheConfig{
			Backend:   "memory",
			RedisPool: 10,
		},
		MCP: MCPConfig{
			Transport: "stdio",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks the whole file, including the security section.
func (c *FileConfig) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres", "mysql", "mssql":
	default:
		return model.Invalid("store.driver %q is not supported", c.Store.Driver)
	}
	if c.Store.Driver != "sqlite" && c.Store.DSN == "" {
		return model.Invalid("store.dsn is required for driver %s", c.Store.Driver)
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisURL == "" {
			return model.Invalid("cache.redis_url is required for the redis backend")
		}
	default:
		return model.Invalid("cache.backend %q is not supported", c.Cache.Backend)
	}
	if _, err := ParseNetworks(c.Server.TrustedProxies); err != nil {
		return model.Invalid("server.trusted_proxies: %v", err)
	}
	return c.Security.Validate()
}

// WriteDefaultConfig writes the default configuration to a YAML file.
func WriteDefaultConfig(path string) error {
	data, err := yaml.Marshal(DefaultFileConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
