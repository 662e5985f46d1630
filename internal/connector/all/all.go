// Package all enables every built-in connector. Import it for side effects
// from the wiring layer:
//
//	import _ "surveysync/internal/connector/all"
//
// Kinds made available: "mssql", "postgres", "mysql", "sqlite".
package all

import (
	_ "surveysync/internal/connector/mssql"
	_ "surveysync/internal/connector/mysql"
	_ "surveysync/internal/connector/postgres"
	_ "surveysync/internal/connector/sqlite"
)
