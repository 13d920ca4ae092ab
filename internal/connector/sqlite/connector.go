package sqlite

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/faucetdb/adminguard/internal/connector"
)

// SQLiteConnector implements connector.Connector for SQLite databases.
type SQLiteConnector struct {
	db *sqlx.DB
}

// New creates a new SQLiteConnector.
func New() connector.Connector {
	return &SQLiteConnector{}
}

// Connect opens the SQLite database file named by the DSN, or an in-memory
// database for ":memory:". Pool settings from cfg are ignored: the pool is
// pinned to one connection that is never recycled, since SQLite serializes
// writers and an in-memory database lives only as long as its connection.
func (c *SQLiteConnector) Connect(cfg connector.ConnectionConfig) error {
	db, err := sqlx.Connect("sqlite", cfg.DSN)
	if err != nil {
		return fmt.Errorf("sqlite connect: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	// Enable foreign keys (off by default in SQLite).
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return fmt.Errorf("enable foreign keys: %w", err)
	}

	c.db = db
	return nil
}

// Disconnect closes the database connection.
func (c *SQLiteConnector) Disconnect() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (c *SQLiteConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sqlx.DB connection pool.
func (c *SQLiteConnector) DB() *sqlx.DB {
	return c.db
}

// DriverName returns the driver identifier for SQLite.
func (c *SQLiteConnector) DriverName() string { return "sqlite" }

// Dialect returns the SQLite column types.
func (c *SQLiteConnector) Dialect() connector.Dialect {
	return connector.Dialect{
		Name:       "sqlite",
		KeyType:    "TEXT",
		TextType:   "TEXT",
		BigIntType: "INTEGER",
		BoolType:   "INTEGER",
		AutoIDType: "INTEGER PRIMARY KEY AUTOINCREMENT",
		LockStmts: []string{
			"INSERT OR IGNORE INTO store_locks (name, hits) VALUES (?, 0)",
			"UPDATE store_locks SET hits = hits + 1 WHERE name = ?",
		},
	}
}
