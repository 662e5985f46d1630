package config

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"surveysync/internal/dialect"
	"surveysync/internal/pivot"
	"surveysync/internal/sqltmpl"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced to users but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding. Path is the setting name.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be returned as one.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// Errors returns the issues with SeverityError.
func Errors(issues []Issue) []Issue {
	var out []Issue
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			out = append(out, iss)
		}
	}
	return out
}

// Validate performs static checks over c for a full refresh without
// touching the database or the filesystem.
func Validate(c *Config) []Issue {
	return ValidateFor(c, true)
}

// ValidateFor validates c. needOutputs says whether the snapshot and results
// paths are required, which they are for a refresh but not for query.
func ValidateFor(c *Config, needOutputs bool) []Issue {
	var issues []Issue
	add := func(sev IssueSeverity, path, format string, args ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	issues = append(issues, validateDB(c)...)

	if strings.TrimSpace(c.View) == "" {
		add(SeverityError, "view", "view must not be empty; it names the view to refresh")
	} else if _, err := sqltmpl.Ident(c.View); err != nil {
		add(SeverityError, "view", "%v", err)
	}
	if needOutputs {
		if strings.TrimSpace(c.SnapshotPath) == "" {
			add(SeverityError, "snapshot", "snapshot path must not be empty")
		}
		if strings.TrimSpace(c.ResultsPath) == "" {
			add(SeverityError, "results", "results path must not be empty")
		}
		if c.SnapshotPath != "" && c.SnapshotPath == c.ResultsPath {
			add(SeverityError, "results", "results path must differ from the snapshot path")
		}
	}
	if _, err := pivot.ParseNumbering(c.Numbering); err != nil {
		add(SeverityError, "numbering", "%v", err)
	}

	switch n := utf8.RuneCountInString(c.Delimiter); {
	case n != 1:
		add(SeverityError, "delimiter", "delimiter must be exactly one character, got %q", c.Delimiter)
	case strings.ContainsAny(c.Delimiter, "\"\r\n"):
		add(SeverityError, "delimiter", "delimiter %q cannot be a quote or line break", c.Delimiter)
	}

	issues = append(issues, validateMetrics(c)...)

	if c.S3AccessKeyID != "" && c.S3SecretAccessKey == "" {
		add(SeverityError, "s3_secret_access_key", "s3_access_key_id is set without a secret key")
	}
	if (c.S3Region != "" || c.S3Endpoint != "") && !strings.HasPrefix(c.ResultsPath, "s3://") {
		add(SeverityWarning, "s3_region", "S3 settings are ignored because results is not an s3:// destination")
	}
	return issues
}

func validateDB(c *Config) []Issue {
	var issues []Issue
	d, ok := dialect.Lookup(c.Driver)
	if !ok {
		return append(issues, Issue{
			Severity: SeverityError,
			Path:     "driver",
			Message:  fmt.Sprintf("unknown driver %q; want one of %s", c.Driver, strings.Join(dialect.Names(), ", ")),
		})
	}
	if c.Trusted && c.Password != "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "trusted",
			Message:  "trusted mode and password are mutually exclusive",
		})
	}
	if c.Trusted && d.Name == dialect.MySQL.Name {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "trusted",
			Message:  "mysql does not support integrated authentication",
		})
	}
	if c.DSN != "" {
		return issues
	}
	if d.Name == dialect.SQLite.Name {
		if c.Database == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "database",
				Message:  "sqlite needs dsn or database (file path)",
			})
		}
		return issues
	}
	if c.Server == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "server",
			Message:  "server must not be empty when no dsn is given",
		})
	}
	if c.Database == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "database",
			Message:  "database must not be empty when no dsn is given",
		})
	}
	return issues
}

func validateMetrics(c *Config) []Issue {
	var issues []Issue
	switch strings.ToLower(c.MetricsBackend) {
	case "", "none":
	case "pushgateway":
		if c.PushgatewayURL == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "pushgateway_url",
				Message:  "pushgateway backend requires pushgateway_url",
			})
		}
	case "datadog":
		if c.DatadogAddr == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "datadog_addr",
				Message:  "datadog backend requires datadog_addr",
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "metrics_backend",
			Message:  fmt.Sprintf("unknown metrics backend %q; want none, pushgateway or datadog", c.MetricsBackend),
		})
	}
	return issues
}
