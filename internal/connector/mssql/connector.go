package mssql

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/microsoft/go-mssqldb"

	"github.com/faucetdb/adminguard/internal/connector"
)

// MSSQLConnector implements connector.Connector for Microsoft SQL Server.
type MSSQLConnector struct {
	db *sqlx.DB
}

// New creates a new MSSQLConnector.
func New() connector.Connector {
	return &MSSQLConnector{}
}

// Connect establishes a connection to SQL Server using the "sqlserver"
// driver, which sqlx rebinds to @pN placeholders.
func (c *MSSQLConnector) Connect(cfg connector.ConnectionConfig) error {
	db, err := sqlx.Connect("sqlserver", cfg.DSN)
	if err != nil {
		return fmt.Errorf("mssql connect: %w", err)
	}
	connector.ApplyPool(db, cfg)
	c.db = db
	return nil
}

// Disconnect closes the database connection.
func (c *MSSQLConnector) Disconnect() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (c *MSSQLConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sqlx.DB connection pool.
func (c *MSSQLConnector) DB() *sqlx.DB {
	return c.db
}

// DriverName returns the driver identifier for SQL Server.
func (c *MSSQLConnector) DriverName() string { return "sqlserver" }

// Dialect returns the SQL Server column types.
func (c *MSSQLConnector) Dialect() connector.Dialect {
	return connector.Dialect{
		Name:       "mssql",
		KeyType:    "NVARCHAR(191)",
		TextType:   "NVARCHAR(MAX)",
		BigIntType: "BIGINT",
		BoolType:   "BIT",
		AutoIDType: "BIGINT IDENTITY(1,1) PRIMARY KEY",
		LockStmts: []string{
			"EXEC sp_getapplock @Resource = ?, @LockMode = 'Exclusive', @LockOwner = 'Transaction'",
		},
	}
}
