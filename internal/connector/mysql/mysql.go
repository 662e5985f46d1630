// Package mysql registers the "mysql" connector backed by go-sql-driver/mysql.
//
// Every session is switched to ANSI_QUOTES so that the double-quoted
// identifiers in generated SQL are accepted.
package mysql

import (
	"fmt"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"

	"surveysync/internal/connector"
	"surveysync/internal/dialect"
)

const (
	defaultPort = "3306"
	ansiQuotes  = "CONCAT(@@sql_mode, ',ANSI_QUOTES')"
)

func init() {
	connector.Register(dialect.MySQL.Name, func(p connector.Params) (connector.Connector, error) {
		dsn, err := BuildDSN(p)
		if err != nil {
			return nil, err
		}
		return connector.NewSQL(dialect.MySQL, dsn), nil
	})
}

// BuildDSN returns a go-sql-driver DSN for p with the session sql_mode set.
func BuildDSN(p connector.Params) (string, error) {
	var cfg *mysql.Config
	if dsn := strings.TrimSpace(p.DSN); dsn != "" {
		parsed, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", fmt.Errorf("mysql dsn: %w", err)
		}
		cfg = parsed
	} else {
		if strings.TrimSpace(p.Server) == "" {
			return "", fmt.Errorf("mysql: server or dsn is required")
		}
		if p.Trusted {
			return "", fmt.Errorf("mysql: trusted connections are not supported; supply user and password")
		}
		port := p.Port
		if port == "" {
			port = defaultPort
		}
		cfg = mysql.NewConfig()
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(strings.TrimSpace(p.Server), port)
		cfg.User = p.User
		cfg.Passwd = p.Password
		cfg.DBName = p.Database
	}
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	if _, ok := cfg.Params["sql_mode"]; !ok {
		cfg.Params["sql_mode"] = ansiQuotes
	}
	return cfg.FormatDSN(), nil
}
