// Package connector defines the database boundary used by the survey view
// refresh: open a single connection, run read queries that return a table,
// run statements that only need an acknowledgment, and close.
//
// Concrete drivers live in subpackages (mssql, postgres, mysql, sqlite) and
// register a Factory at init time; import connector/all to enable every one.
package connector

import (
	"context"
	"errors"
	"fmt"

	"surveysync/internal/dataset"
	"surveysync/internal/dialect"
)

var (
	// ErrConnection covers failures to open, ping, or close a connection.
	ErrConnection = errors.New("connector: connection error")
	// ErrNotConnected is returned when a statement is issued before Open or after Close.
	ErrNotConnected = fmt.Errorf("%w: not connected", ErrConnection)
	// ErrQueryExecution wraps driver errors raised while running SQL.
	ErrQueryExecution = errors.New("connector: query execution failed")
	// ErrEmptyQuery rejects blank statements before they reach the driver.
	ErrEmptyQuery = errors.New("connector: empty SQL statement")
)

// Connector is an exclusively owned database connection.
type Connector interface {
	Open(ctx context.Context) error
	Close() error
	IsConnected() bool

	// Query runs a read statement and materializes the full result set.
	Query(ctx context.Context, query string) (*dataset.Table, error)
	// Select runs a read statement and scans rows into dest (see sqlx.Select).
	Select(ctx context.Context, dest any, query string, args ...any) error
	// Exec runs statements in one transaction and commits.
	Exec(ctx context.Context, statements ...string) error

	Dialect() dialect.Dialect
}

// Params are the connection settings collected from the CLI/config layer.
// A non-empty DSN takes precedence over the discrete fields.
type Params struct {
	DSN      string
	Server   string
	Port     string
	Database string
	User     string
	Password string
	// Trusted requests integrated (OS) authentication; User/Password are ignored.
	Trusted bool
}
