// Command surveysync keeps a pivoted survey answers view in step with the
// survey structure. Each run compares the current SurveyStructure table with
// the snapshot saved by the previous run, rebuilds the view when they differ,
// and exports the view contents to a delimited file.
//
// main stays tiny; run and the subcommands receive their side effects
// through Deps so tests can swap in fakes.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"surveysync/internal/config"
	"surveysync/internal/connector"
	_ "surveysync/internal/connector/all"
	"surveysync/internal/credentials"
	"surveysync/internal/dialect"
	"surveysync/internal/export"
	"surveysync/internal/metrics"
	"surveysync/internal/metrics/datadog"
	"surveysync/internal/metrics/prompush"
	"surveysync/internal/pivot"
	"surveysync/internal/refresh"
	"surveysync/internal/snapshot"
)

// Deps holds the boundaries run would otherwise hard-code.
type Deps struct {
	NewConnector func(kind string, p connector.Params) (connector.Connector, error)
	NewExporter  func(dest string, opts export.Options) (refresh.Exporter, error)
	NewMetrics   func(cfg *config.Config) (metrics.Backend, error)
	// Prompt asks for the database password.
	Prompt func(label string) (string, error)

	Stdout io.Writer
	Stderr io.Writer
}

// defaultDeps wires production implementations.
func defaultDeps() Deps {
	return Deps{
		NewConnector: connector.New,
		NewExporter: func(dest string, opts export.Options) (refresh.Exporter, error) {
			return export.New(dest, opts)
		},
		NewMetrics: newMetricsBackend,
		Prompt: func(label string) (string, error) {
			return credentials.Prompt(os.Stdin, os.Stderr, label)
		},
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// newMetricsBackend builds the backend named by cfg, or nil for none.
func newMetricsBackend(cfg *config.Config) (metrics.Backend, error) {
	switch strings.ToLower(cfg.MetricsBackend) {
	case "pushgateway":
		return prompush.NewBackend("surveysync", cfg.PushgatewayURL)
	case "datadog":
		return datadog.NewBackend(datadog.Config{
			Addr:       cfg.DatadogAddr,
			GlobalTags: []string{"app:surveysync"},
		})
	default:
		return nil, nil
	}
}

// checkConfig logs warnings and joins the errors.
func checkConfig(cfg *config.Config, needOutputs bool) error {
	var errs []error
	for _, iss := range config.ValidateFor(cfg, needOutputs) {
		if iss.Severity == config.SeverityWarning {
			log.Printf("config: %v", iss)
			continue
		}
		errs = append(errs, iss)
	}
	return errors.Join(errs...)
}

// setupMetrics installs the configured backend and returns the function
// that flushes and uninstalls it.
func setupMetrics(cfg *config.Config, deps Deps) (func(), error) {
	b, err := deps.NewMetrics(cfg)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	if b == nil {
		return func() {}, nil
	}
	metrics.SetBackend(b)
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush failed: %v", err)
		}
		metrics.Reset()
	}, nil
}

// connect builds and opens the connector, prompting for a password when the
// configuration needs one and does not carry it.
func connect(ctx context.Context, cfg *config.Config, deps Deps) (connector.Connector, error) {
	p := cfg.Params()
	if credentials.NeedsPassword(cfg.Driver, cfg.DSN, cfg.Password, cfg.Trusted) {
		pw, err := deps.Prompt(fmt.Sprintf("Password for %s@%s: ", cfg.Username, cfg.Server))
		if err != nil {
			return nil, fmt.Errorf("read password: %w", err)
		}
		p.Password = pw
	}
	kind := cfg.Driver
	if d, ok := dialect.Lookup(kind); ok {
		kind = d.Name
	}
	c, err := deps.NewConnector(kind, p)
	if err != nil {
		return nil, err
	}
	if err := c.Open(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func newOrchestrator(cfg *config.Config, db refresh.DB, exp refresh.Exporter) (*refresh.Orchestrator, error) {
	numbering, err := pivot.ParseNumbering(cfg.Numbering)
	if err != nil {
		return nil, err
	}
	return refresh.New(refresh.Options{
		View:        cfg.View,
		Numbering:   numbering,
		StrictOrder: cfg.StrictOrder,
	}, refresh.Deps{
		DB:        db,
		Snapshots: snapshot.NewStore(cfg.SnapshotPath),
		Exporter:  exp,
	})
}

const banner = `*************************************************************************
	surveysync: keeps the survey answers view in step with the
	SurveyStructure table and exports its contents
*************************************************************************
`

// run performs one full refresh:
//
//  1. Validates cfg and installs the metrics backend.
//  2. Opens the database connection.
//  3. Runs the orchestrator against the configured view.
//  4. Prints the run summary.
func run(ctx context.Context, cfg *config.Config, deps Deps) error {
	if err := checkConfig(cfg, true); err != nil {
		return err
	}
	if cfg.Verbose {
		fmt.Fprint(deps.Stdout, banner)
	}
	flush, err := setupMetrics(cfg, deps)
	if err != nil {
		return err
	}
	defer flush()

	exp, err := deps.NewExporter(cfg.ResultsPath, cfg.ExportOptions())
	if err != nil {
		return err
	}
	db, err := connect(ctx, cfg, deps)
	if err != nil {
		return err
	}
	defer db.Close()

	orch, err := newOrchestrator(cfg, db, exp)
	if err != nil {
		return err
	}
	rep, err := orch.Run(ctx)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", cfg.View, err)
	}
	if cfg.Verbose && rep.Refreshed {
		fmt.Fprintf(deps.Stdout, "%s\n\n", rep.Query)
	}
	fmt.Fprintln(deps.Stdout, rep.Summary())
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(defaultDeps(), os.Getenv).ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Fatal(err)
	}
}
