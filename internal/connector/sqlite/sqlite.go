// Package sqlite registers the "sqlite" connector backed by modernc.org/sqlite
// (pure Go, no cgo). It is used for local runs and end-to-end tests.
package sqlite

import (
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"surveysync/internal/connector"
	"surveysync/internal/dialect"
)

func init() {
	connector.Register(dialect.SQLite.Name, func(p connector.Params) (connector.Connector, error) {
		dsn, err := BuildDSN(p)
		if err != nil {
			return nil, err
		}
		return connector.NewSQL(dialect.SQLite, dsn), nil
	})
}

// BuildDSN returns the DSN, falling back to the database setting as a file
// path. Server and credentials are meaningless for sqlite and ignored.
func BuildDSN(p connector.Params) (string, error) {
	if dsn := strings.TrimSpace(p.DSN); dsn != "" {
		return dsn, nil
	}
	if db := strings.TrimSpace(p.Database); db != "" {
		return db, nil
	}
	return "", fmt.Errorf("sqlite: dsn or database path is required")
}
