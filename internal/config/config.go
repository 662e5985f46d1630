// Package config centralizes surveysync configuration. Every setting is a
// command-line flag whose default is seeded from an environment variable,
// so `-help` lists all knobs. An optional YAML (or JSON) file named by
// -config fills whatever neither a flag nor the environment provided.
//
// Precedence, highest first:
//  1. Explicit flags.
//  2. Environment variables.
//  3. The config file.
//  4. Built-in defaults.
//
// For tests, prefer LoadFromArgs with a private FlagSet and a map-backed
// getenv to keep them hermetic:
//
//	fs := flag.NewFlagSet("test", flag.ContinueOnError)
//	getenv := func(k string) string { return testEnv[k] }
//	cfg, err := config.LoadFromArgs(fs, getenv, []string{"-view=vw_Answers"})
package config

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"surveysync/internal/connector"
	"surveysync/internal/export"
)

// Config holds all process configuration. Fields are plain values so the
// struct can be copied freely after Resolve.
type Config struct {
	// Database access. DSN takes precedence over the discrete parts.
	Driver   string
	DSN      string
	Server   string
	Port     string
	Database string
	Username string
	Password string
	Trusted  bool // integrated authentication; excludes Password

	// Refresh targets.
	View         string
	SnapshotPath string
	ResultsPath  string // local path or s3://bucket/key
	Numbering    string // actual | sequential
	StrictOrder  bool

	// Export format.
	Delimiter string
	Encoding  string

	// Metrics.
	MetricsBackend string // none | pushgateway | datadog
	PushgatewayURL string
	DatadogAddr    string

	// S3 results destination.
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string

	Verbose    bool
	ConfigFile string
}

// Params returns the connection parameters for connector.New.
func (c *Config) Params() connector.Params {
	return connector.Params{
		DSN:      c.DSN,
		Server:   c.Server,
		Port:     c.Port,
		Database: c.Database,
		User:     c.Username,
		Password: c.Password,
		Trusted:  c.Trusted,
	}
}

// ExportOptions returns the export settings. Delimiter must already be
// valid (see Validate).
func (c *Config) ExportOptions() export.Options {
	var delim rune
	if d := []rune(c.Delimiter); len(d) == 1 {
		delim = d[0]
	}
	return export.Options{
		Delimiter: delim,
		Encoding:  c.Encoding,
		S3: export.S3Options{
			Region:          c.S3Region,
			Endpoint:        c.S3Endpoint,
			AccessKeyID:     c.S3AccessKeyID,
			SecretAccessKey: c.S3SecretAccessKey,
		},
	}
}

// setting is one flag-backed value. given is true once a flag or the
// environment supplied it.
type setting struct {
	name  string
	str   *string
	flag  *bool
	given bool
}

func (s *setting) apply(v string) error {
	if s.flag != nil {
		b, ok := parseBool(v)
		if !ok {
			return fmt.Errorf("invalid boolean %q", v)
		}
		*s.flag = b
		return nil
	}
	*s.str = v
	return nil
}

// Set implements flag.Value.
func (s *setting) Set(v string) error {
	if err := s.apply(v); err != nil {
		return err
	}
	s.given = true
	return nil
}

func (s *setting) String() string {
	switch {
	case s == nil:
		return ""
	case s.flag != nil:
		return strconv.FormatBool(*s.flag)
	case s.str != nil:
		return *s.str
	}
	return ""
}

// IsBoolFlag lets -trusted be given without a value, both to the flag
// package and to pflag when the set is attached to a cobra command.
func (s *setting) IsBoolFlag() bool { return s.flag != nil }

// Loader owns the flags defined by Register until Resolve is called.
type Loader struct {
	cfg      *Config
	getenv   func(string) string
	settings map[string]*setting
}

// Register defines every setting on fs, seeding defaults from getenv. The
// caller parses fs (directly or through cobra) and then calls Resolve.
func Register(fs *flag.FlagSet, getenv func(string) string) *Loader {
	l := &Loader{cfg: &Config{}, getenv: getenv, settings: map[string]*setting{}}
	c := l.cfg

	// DB connectivity
	l.str(fs, &c.Driver, "driver", "DB_DRIVER", "mssql", "Database driver: mssql, postgres, mysql or sqlite.")
	l.str(fs, &c.DSN, "dsn", "DB_DSN", "", "Full DSN; takes precedence over server/port/database/username/password.")
	l.str(fs, &c.Server, "server", "DB_SERVER", "", "Database server (host, host\\instance or host,port).")
	l.str(fs, &c.Port, "port", "DB_PORT", "", "Database port; driver default when empty.")
	l.str(fs, &c.Database, "database", "DB_NAME", "", "Database name (sqlite: file path).")
	l.str(fs, &c.Username, "username", "DB_USER", "sa", "Database user.")
	l.str(fs, &c.Password, "password", "DB_PASSWORD", "", "Database password; prompted for when required and empty.")
	l.boolean(fs, &c.Trusted, "trusted", "DB_TRUSTED", false, "Use integrated authentication instead of a password.")

	// Refresh
	l.str(fs, &c.View, "view", "VIEW_NAME", "", "View to refresh when the survey structure changes (optionally schema.view).")
	l.str(fs, &c.SnapshotPath, "snapshot", "SNAPSHOT_PATH", "", "File holding the last seen survey structure.")
	l.str(fs, &c.ResultsPath, "results", "RESULTS_PATH", "", "Results file (local path or s3://bucket/key; .gz and .zst compress).")
	l.str(fs, &c.Numbering, "numbering", "SURVEY_NUMBERING", "actual", "Survey id source for pivot blocks: actual or sequential.")
	l.boolean(fs, &c.StrictOrder, "strict_order", "DRIFT_STRICT_ORDER", false, "Treat a reordered survey structure as drift.")

	// Export format
	l.str(fs, &c.Delimiter, "delimiter", "EXPORT_DELIMITER", ",", "Results field delimiter (one character).")
	l.str(fs, &c.Encoding, "encoding", "EXPORT_ENCODING", "utf-8", "Results text encoding: utf-8, utf-8-bom or any WHATWG label.")

	// Metrics
	l.str(fs, &c.MetricsBackend, "metrics_backend", "METRICS_BACKEND", "none", "Metrics backend: none, pushgateway or datadog.")
	l.str(fs, &c.PushgatewayURL, "pushgateway_url", "PUSHGATEWAY_URL", "", "Prometheus Pushgateway URL.")
	l.str(fs, &c.DatadogAddr, "datadog_addr", "DD_AGENT_ADDR", "", "DogStatsD address, e.g. 127.0.0.1:8125.")

	// S3
	l.str(fs, &c.S3Region, "s3_region", "S3_REGION", "", "Region for s3:// results.")
	l.str(fs, &c.S3Endpoint, "s3_endpoint", "S3_ENDPOINT", "", "S3 compatible endpoint URL (enables path-style addressing).")
	l.str(fs, &c.S3AccessKeyID, "s3_access_key_id", "S3_ACCESS_KEY_ID", "", "Static S3 access key; default AWS credential chain when empty.")
	l.str(fs, &c.S3SecretAccessKey, "s3_secret_access_key", "S3_SECRET_ACCESS_KEY", "", "Static S3 secret key.")

	l.boolean(fs, &c.Verbose, "v", "SURVEYSYNC_VERBOSE", false, "Verbose output.")
	fs.StringVar(&c.ConfigFile, "config", getenv("SURVEYSYNC_CONFIG"), "Optional YAML or JSON settings file.")
	return l
}

func (l *Loader) str(fs *flag.FlagSet, p *string, name, env, def, usage string) {
	s := &setting{name: name, str: p}
	*p = def
	if v := l.getenv(env); v != "" {
		*p = v
		s.given = true
	}
	l.settings[name] = s
	fs.Var(s, name, usage)
}

func (l *Loader) boolean(fs *flag.FlagSet, p *bool, name, env string, def bool, usage string) {
	s := &setting{name: name, flag: p}
	*p = def
	if b, ok := parseBool(l.getenv(env)); ok {
		*p = b
		s.given = true
	}
	l.settings[name] = s
	fs.Var(s, name, usage)
}

// Resolve applies the config file, if any, to settings that no flag or
// environment variable provided, and returns the final Config.
func (l *Loader) Resolve() (*Config, error) {
	if l.cfg.ConfigFile != "" {
		values, err := readFile(l.cfg.ConfigFile)
		if err != nil {
			return nil, err
		}
		if err := l.overlay(values); err != nil {
			return nil, fmt.Errorf("config: %s: %w", l.cfg.ConfigFile, err)
		}
	}
	return l.cfg, nil
}

func (l *Loader) overlay(values map[string]string) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s, ok := l.settings[k]
		if !ok {
			return fmt.Errorf("unknown setting %q", k)
		}
		if s.given {
			continue
		}
		if err := s.apply(values[k]); err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
	}
	return nil
}

// LoadFromArgs registers the settings on fs, parses args and resolves the
// config file. It is the most testable entry point.
func LoadFromArgs(fs *flag.FlagSet, getenv func(string) string, args []string) (*Config, error) {
	l := Register(fs, getenv)
	if args == nil {
		args = []string{}
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return l.Resolve()
}

// Load is the production entry point over flag.CommandLine, os.Getenv and
// os.Args[1:].
func Load() (*Config, error) {
	return LoadFromArgs(flag.CommandLine, os.Getenv, os.Args[1:])
}

// parseBool accepts the common truthy/falsey forms, case-insensitive.
func parseBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	return false, false
}
