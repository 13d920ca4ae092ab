package connector

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// ConnectionConfig holds backing store connection parameters.
type ConnectionConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Connector is the interface every backing store driver implements. The
// store issues portable SQL with '?' placeholders and lets sqlx rebind them
// for the driver; only DDL column types differ per dialect.
type Connector interface {
	Connect(cfg ConnectionConfig) error
	Disconnect() error
	Ping(ctx context.Context) error
	DB() *sqlx.DB
	DriverName() string
	Dialect() Dialect
}

// Dialect describes the column types used by the store migrations.
type Dialect struct {
	Name string

	// KeyType is used for indexed string columns (tokens, IPs, IDs).
	KeyType string
	// TextType is used for unindexed free text and JSON blobs.
	TextType string
	// BigIntType holds unix-microsecond timestamps and counters.
	BigIntType string
	// BoolType holds flags.
	BoolType string
	// AutoIDType is a full primary key column definition with auto increment.
	AutoIDType string

	// LockStmts take an exclusive lock on a named key that lasts until the
	// surrounding transaction ends. Each statement receives the key as its
	// only '?' argument.
	LockStmts []string
}

// IsAlreadyExists reports whether a DDL error means the object already
// exists, which makes re-running a migration a no-op.
func (d Dialect) IsAlreadyExists(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") ||
		strings.Contains(msg, "already an object named") ||
		strings.Contains(msg, "duplicate key name") ||
		strings.Contains(msg, "duplicate column")
}

// Expand substitutes the dialect column types into a migration template.
// Recognized placeholders: {key}, {text}, {bigint}, {bool}, {autoid}.
func (d Dialect) Expand(ddl string) string {
	return strings.NewReplacer(
		"{key}", d.KeyType,
		"{text}", d.TextType,
		"{bigint}", d.BigIntType,
		"{bool}", d.BoolType,
		"{autoid}", d.AutoIDType,
	).Replace(ddl)
}

// ApplyPool copies the pool settings from cfg onto db.
func ApplyPool(db *sqlx.DB, cfg ConnectionConfig) {
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
}
