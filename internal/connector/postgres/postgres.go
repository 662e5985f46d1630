// Package postgres registers the "postgres" connector using pgx through its
// database/sql adapter.
package postgres

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"

	"surveysync/internal/connector"
	"surveysync/internal/dialect"
)

const defaultPort = "5432"

func init() {
	connector.Register(dialect.Postgres.Name, func(p connector.Params) (connector.Connector, error) {
		dsn, err := BuildDSN(p)
		if err != nil {
			return nil, err
		}
		return connector.NewSQL(dialect.Postgres, dsn), nil
	})
}

// BuildDSN returns a postgres:// URL for p, validated with pgx.ParseConfig.
// Trusted connections omit the password and rely on peer, GSS or pgpass.
func BuildDSN(p connector.Params) (string, error) {
	dsn := strings.TrimSpace(p.DSN)
	if dsn == "" {
		if strings.TrimSpace(p.Server) == "" {
			return "", fmt.Errorf("postgres: server or dsn is required")
		}
		port := p.Port
		if port == "" {
			port = defaultPort
		}
		u := &url.URL{
			Scheme: "postgres",
			Host:   net.JoinHostPort(strings.TrimSpace(p.Server), port),
			Path:   "/" + p.Database,
		}
		switch {
		case p.User != "" && !p.Trusted && p.Password != "":
			u.User = url.UserPassword(p.User, p.Password)
		case p.User != "":
			u.User = url.User(p.User)
		}
		u.RawQuery = url.Values{"application_name": {"surveysync"}}.Encode()
		dsn = u.String()
	}
	if _, err := pgx.ParseConfig(dsn); err != nil {
		return "", fmt.Errorf("postgres dsn: %w", err)
	}
	return dsn, nil
}
