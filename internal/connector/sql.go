package connector

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"surveysync/internal/dataset"
	"surveysync/internal/dialect"
)

// openFunc is the seam used to avoid real sockets in tests. In production it
// is sqlx.Open.
type openFunc func(driverName, dsn string) (*sqlx.DB, error)

// SQL is a Connector over database/sql, shared by every driver package.
type SQL struct {
	dialect dialect.Dialect
	dsn     string
	open    openFunc
	db      *sqlx.DB
}

var _ Connector = (*SQL)(nil)

// NewSQL returns an unopened connector for the dialect's driver and dsn.
func NewSQL(d dialect.Dialect, dsn string) *SQL {
	return &SQL{dialect: d, dsn: dsn, open: sqlx.Open}
}

// Attach wraps an already opened *sql.DB. Close closes db.
func Attach(d dialect.Dialect, db *sql.DB) *SQL {
	x := sqlx.NewDb(db, d.Driver)
	x.SetMaxOpenConns(1)
	return &SQL{dialect: d, open: sqlx.Open, db: x}
}

func (c *SQL) Dialect() dialect.Dialect { return c.dialect }

// DSN returns the connection string the connector opens.
func (c *SQL) DSN() string { return c.dsn }

// IsConnected reports whether Open succeeded and Close has not been called.
func (c *SQL) IsConnected() bool { return c.db != nil }

// Open connects and pings. A run uses one connection end to end, so the
// pool is capped at a single connection. Opening twice is a no-op.
func (c *SQL) Open(ctx context.Context) error {
	if c.db != nil {
		return nil
	}
	if strings.TrimSpace(c.dsn) == "" {
		return fmt.Errorf("%w: %s: empty DSN", ErrConnection, c.dialect.Name)
	}
	db, err := c.open(c.dialect.Driver, c.dsn)
	if err != nil {
		return fmt.Errorf("%w: %s: open: %w", ErrConnection, c.dialect.Name, err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("%w: %s: ping: %w", ErrConnection, c.dialect.Name, err)
	}
	c.db = db
	return nil
}

// Close releases the connection. Closing a closed connector is a no-op.
func (c *SQL) Close() error {
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	if err != nil {
		return fmt.Errorf("%w: close: %w", ErrConnection, err)
	}
	return nil
}

func (c *SQL) ready(statement string) error {
	if c.db == nil {
		return ErrNotConnected
	}
	if strings.TrimSpace(statement) == "" {
		return ErrEmptyQuery
	}
	return nil
}

// Query runs a read statement and returns every row. []byte cells are
// converted to strings so the table does not alias driver buffers.
func (c *SQL) Query(ctx context.Context, query string) (*dataset.Table, error) {
	if err := c.ready(query); err != nil {
		return nil, err
	}
	rows, err := c.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryExecution, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: columns: %w", ErrQueryExecution, err)
	}
	t := &dataset.Table{Columns: cols}
	for rows.Next() {
		vals, err := rows.SliceScan()
		if err != nil {
			return nil, fmt.Errorf("%w: scan row %d: %w", ErrQueryExecution, len(t.Rows)+1, err)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		t.Rows = append(t.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryExecution, err)
	}
	return t, nil
}

// Select scans the result of query into dest, a pointer to a slice.
func (c *SQL) Select(ctx context.Context, dest any, query string, args ...any) error {
	if err := c.ready(query); err != nil {
		return err
	}
	if err := sqlx.SelectContext(ctx, c.db, dest, query, args...); err != nil {
		return fmt.Errorf("%w: %w", ErrQueryExecution, err)
	}
	return nil
}

// Exec runs statements inside one transaction and commits. Any failure rolls
// back the statements of this call.
func (c *SQL) Exec(ctx context.Context, statements ...string) error {
	if len(statements) == 0 {
		return ErrEmptyQuery
	}
	for _, s := range statements {
		if err := c.ready(s); err != nil {
			return err
		}
	}
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrQueryExecution, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	for i, s := range statements {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("%w: statement %d: %w", ErrQueryExecution, i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrQueryExecution, err)
	}
	committed = true
	return nil
}
