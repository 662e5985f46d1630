// Package mssql registers the "mssql" connector backed by go-mssqldb.
//
// The server may be given as host, host,port or host\instance; a separate
// port setting wins over the comma form.
package mssql

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	_ "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"surveysync/internal/connector"
	"surveysync/internal/dialect"
)

func init() {
	connector.Register(dialect.MSSQL.Name, func(p connector.Params) (connector.Connector, error) {
		dsn, err := BuildDSN(p)
		if err != nil {
			return nil, err
		}
		return connector.NewSQL(dialect.MSSQL, dsn), nil
	})
}

// BuildDSN returns a sqlserver:// URL for p and validates it with msdsn.
func BuildDSN(p connector.Params) (string, error) {
	dsn := strings.TrimSpace(p.DSN)
	if dsn == "" {
		server := strings.TrimSpace(p.Server)
		if server == "" {
			return "", fmt.Errorf("mssql: server or dsn is required")
		}
		host, instance := server, ""
		if i := strings.IndexByte(server, '\\'); i >= 0 {
			host, instance = server[:i], server[i+1:]
		}
		port := strings.TrimSpace(p.Port)
		if i := strings.IndexByte(host, ','); i >= 0 {
			if port == "" {
				port = strings.TrimSpace(host[i+1:])
			}
			host = host[:i]
		}
		if port != "" {
			host = net.JoinHostPort(host, port)
		}

		u := &url.URL{Scheme: "sqlserver", Host: host}
		if instance != "" {
			u.Path = "/" + instance
		}
		if !p.Trusted && p.User != "" {
			u.User = url.UserPassword(p.User, p.Password)
		}
		q := url.Values{}
		if p.Database != "" {
			q.Set("database", p.Database)
		}
		q.Set("app name", "surveysync")
		u.RawQuery = q.Encode()
		dsn = u.String()
	}

	if _, err := msdsn.Parse(dsn); err != nil {
		return "", fmt.Errorf("mssql dsn: %w", err)
	}
	return dsn, nil
}
