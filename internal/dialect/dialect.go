// Package dialect holds the per-engine differences that matter when pushing a
// generated query into the database as a view. Everything else the module
// emits is ANSI SQL with double-quoted identifiers.
package dialect

import (
	"fmt"
	"strings"

	"surveysync/internal/sqltmpl"
)

// Dialect describes one database engine.
type Dialect struct {
	// Name is the configuration name, e.g. "mssql".
	Name string
	// Driver is the database/sql driver name registered by the engine's driver.
	Driver string

	viewDDL []sqltmpl.Template
}

// ViewStatements renders the statements that create or replace view so that
// it is defined by query. Statements are meant to run in one transaction.
func (d Dialect) ViewStatements(view sqltmpl.Value, query sqltmpl.Fragment) ([]string, error) {
	if query.IsEmpty() {
		return nil, fmt.Errorf("dialect %s: empty view query", d.Name)
	}
	if len(d.viewDDL) == 0 {
		return nil, fmt.Errorf("dialect %s: no view DDL defined", d.Name)
	}
	out := make([]string, 0, len(d.viewDDL))
	for _, t := range d.viewDDL {
		f, err := t.Render(sqltmpl.Values{
			sqltmpl.ViewName: view,
			sqltmpl.Query:    sqltmpl.Frag(query),
		})
		if err != nil {
			return nil, err
		}
		out = append(out, f.String())
	}
	return out, nil
}

var (
	// MSSQL replaces the view in place; column changes are allowed.
	MSSQL = Dialect{
		Name:   "mssql",
		Driver: "sqlserver",
		viewDDL: []sqltmpl.Template{
			sqltmpl.New("mssql_view", "CREATE OR ALTER VIEW <VIEW_NAME> AS <QUERY>"),
		},
	}

	MySQL = Dialect{
		Name:   "mysql",
		Driver: "mysql",
		viewDDL: []sqltmpl.Template{
			sqltmpl.New("mysql_view", "CREATE OR REPLACE VIEW <VIEW_NAME> AS <QUERY>"),
		},
	}

	// Postgres refuses CREATE OR REPLACE VIEW when columns are dropped, which
	// happens whenever a question leaves the catalog.
	Postgres = Dialect{
		Name:   "postgres",
		Driver: "pgx",
		viewDDL: []sqltmpl.Template{
			sqltmpl.New("postgres_drop_view", "DROP VIEW IF EXISTS <VIEW_NAME>"),
			sqltmpl.New("postgres_view", "CREATE VIEW <VIEW_NAME> AS <QUERY>"),
		},
	}

	SQLite = Dialect{
		Name:   "sqlite",
		Driver: "sqlite",
		viewDDL: []sqltmpl.Template{
			sqltmpl.New("sqlite_drop_view", "DROP VIEW IF EXISTS <VIEW_NAME>"),
			sqltmpl.New("sqlite_view", "CREATE VIEW <VIEW_NAME> AS <QUERY>"),
		},
	}
)

var byName = map[string]Dialect{
	MSSQL.Name:    MSSQL,
	"sqlserver":   MSSQL,
	MySQL.Name:    MySQL,
	Postgres.Name: Postgres,
	"pgx":         Postgres,
	SQLite.Name:   SQLite,
}

// Lookup resolves a dialect by configuration name (case-insensitive).
func Lookup(name string) (Dialect, bool) {
	d, ok := byName[strings.ToLower(strings.TrimSpace(name))]
	return d, ok
}

// Names lists the canonical dialect names.
func Names() []string {
	return []string{MSSQL.Name, Postgres.Name, MySQL.Name, SQLite.Name}
}
