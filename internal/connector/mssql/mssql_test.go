package mssql

import (
	"net/url"
	"testing"

	"surveysync/internal/connector"
)

func TestBuildDSN(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		p        connector.Params
		host     string
		path     string
		user     string
		database string
	}{
		{
			name: "sql login",
			p:    connector.Params{Server: "db01", Database: "Survey", User: "sa", Password: "p@ss w"},
			host: "db01", user: "sa", database: "Survey",
		},
		{
			name: "comma port",
			p:    connector.Params{Server: "db01,1444", Database: "Survey", User: "sa"},
			host: "db01:1444", user: "sa", database: "Survey",
		},
		{
			name: "explicit port wins",
			p:    connector.Params{Server: "db01,1444", Port: "1500", User: "sa"},
			host: "db01:1500", user: "sa",
		},
		{
			name: "named instance trusted",
			p:    connector.Params{Server: `db01\SQLEXPRESS`, Database: "Survey", User: "sa", Password: "x", Trusted: true},
			host: "db01", path: "/SQLEXPRESS", database: "Survey",
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			dsn, err := BuildDSN(tc.p)
			if err != nil {
				t.Fatalf("BuildDSN: %v", err)
			}
			u, err := url.Parse(dsn)
			if err != nil {
				t.Fatalf("parse %q: %v", dsn, err)
			}
			if u.Scheme != "sqlserver" || u.Host != tc.host || u.Path != tc.path {
				t.Fatalf("dsn %q: host=%q path=%q", dsn, u.Host, u.Path)
			}
			if got := u.User.Username(); got != tc.user {
				t.Fatalf("user = %q, want %q", got, tc.user)
			}
			if tc.user != "" {
				if pw, _ := u.User.Password(); pw != tc.p.Password {
					t.Fatalf("password not round-tripped: %q", pw)
				}
			}
			if got := u.Query().Get("database"); got != tc.database {
				t.Fatalf("database = %q, want %q", got, tc.database)
			}
		})
	}
}

func TestBuildDSN_ExplicitDSNWins(t *testing.T) {
	t.Parallel()
	in := "sqlserver://sa:pw@other:1433?database=X"
	got, err := BuildDSN(connector.Params{DSN: in, Server: "ignored"})
	if err != nil {
		t.Fatalf("BuildDSN: %v", err)
	}
	if got != in {
		t.Fatalf("got %q", got)
	}
}

func TestBuildDSN_Errors(t *testing.T) {
	t.Parallel()
	if _, err := BuildDSN(connector.Params{}); err == nil {
		t.Fatalf("expected error without server")
	}
	if _, err := BuildDSN(connector.Params{DSN: "sqlserver://h?dial+timeout=abc"}); err == nil {
		t.Fatalf("expected msdsn validation error")
	}
}

func TestRegistered(t *testing.T) {
	t.Parallel()
	c, err := connector.New("mssql", connector.Params{Server: "db01", User: "sa"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Dialect().Driver != "sqlserver" {
		t.Fatalf("driver = %q", c.Dialect().Driver)
	}
	if c.IsConnected() {
		t.Fatalf("factory must not open the connection")
	}
}
