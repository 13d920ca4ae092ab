package mysql

import (
	"context"
	"fmt"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/faucetdb/adminguard/internal/connector"
)

// MySQLConnector implements connector.Connector for MySQL databases.
type MySQLConnector struct {
	db *sqlx.DB
}

// New creates a new MySQLConnector.
func New() connector.Connector {
	return &MySQLConnector{}
}

// Connect establishes a connection to the MySQL database. The DSN is parsed
// and re-encoded so that malformed DSNs fail fast and the session time zone
// is pinned to UTC.
func (c *MySQLConnector) Connect(cfg connector.ConnectionConfig) error {
	dsnCfg, err := mysqldriver.ParseDSN(cfg.DSN)
	if err != nil {
		return fmt.Errorf("mysql dsn: %w", err)
	}
	if dsnCfg.Params == nil {
		dsnCfg.Params = map[string]string{}
	}
	dsnCfg.Params["time_zone"] = "'+00:00'"

	db, err := sqlx.Connect("mysql", dsnCfg.FormatDSN())
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
	}
	connector.ApplyPool(db, cfg)
	c.db = db
	return nil
}

// Disconnect closes the database connection.
func (c *MySQLConnector) Disconnect() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (c *MySQLConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sqlx.DB connection pool.
func (c *MySQLConnector) DB() *sqlx.DB {
	return c.db
}

// DriverName returns the driver identifier for MySQL.
func (c *MySQLConnector) DriverName() string { return "mysql" }

// Dialect returns the MySQL column types. Indexed strings stay at 191
// characters to fit utf8mb4 index prefixes.
func (c *MySQLConnector) Dialect() connector.Dialect {
	return connector.Dialect{
		Name:       "mysql",
		KeyType:    "VARCHAR(191)",
		TextType:   "TEXT",
		BigIntType: "BIGINT",
		BoolType:   "TINYINT(1)",
		AutoIDType: "BIGINT AUTO_INCREMENT PRIMARY KEY",
		LockStmts: []string{
			"INSERT IGNORE INTO store_locks (name, hits) VALUES (?, 0)",
			"UPDATE store_locks SET hits = hits + 1 WHERE name = ?",
		},
	}
}
