package main

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"surveysync/internal/config"
	"surveysync/internal/drift"
)

// newRootCmd builds the command tree. The settings from internal/config
// are persistent flags, so every subcommand accepts them.
func newRootCmd(deps Deps, getenv func(string) string) *cobra.Command {
	fs := flag.NewFlagSet("surveysync", flag.ContinueOnError)
	loader := config.Register(fs, getenv)
	var cfg *config.Config

	root := &cobra.Command{
		Use:   "surveysync",
		Short: "Refresh the survey answers view when the survey structure changes",
		Long: "surveysync compares the SurveyStructure table with the snapshot saved by the\n" +
			"previous run, rebuilds the pivoted answers view when they differ, and exports\n" +
			"the view contents. Without a subcommand it performs a refresh.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := loader.Resolve()
			if err != nil {
				return err
			}
			cfg = c
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg, deps)
		},
	}
	root.SetOut(deps.Stdout)
	root.SetErr(deps.Stderr)
	root.PersistentFlags().AddGoFlagSet(fs)

	current := func() *config.Config { return cfg }
	root.AddCommand(
		newRefreshCmd(deps, current),
		newQueryCmd(deps, current),
		newCheckCmd(deps, current),
		newValidateCmd(deps, current),
	)
	return root
}

func newRefreshCmd(deps Deps, cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Rebuild the view if the survey structure drifted, then export it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg(), deps)
		},
	}
}

func newQueryCmd(deps Deps, cfg func() *config.Config) *cobra.Command {
	var ddl bool
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Print the generated pivot query without touching the view",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg()
			if err := checkConfig(c, false); err != nil {
				return err
			}
			db, err := connect(cmd.Context(), c, deps)
			if err != nil {
				return err
			}
			defer db.Close()

			orch, err := newOrchestrator(c, db, nil)
			if err != nil {
				return err
			}
			if ddl {
				stmts, err := orch.ViewStatements(cmd.Context())
				if err != nil {
					return err
				}
				for _, s := range stmts {
					fmt.Fprintf(deps.Stdout, "%s;\n", s)
				}
				return nil
			}
			q, err := orch.Query(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(deps.Stdout, q)
			return nil
		},
	}
	cmd.Flags().BoolVar(&ddl, "ddl", false, "Print the view statements for the configured driver instead")
	return cmd
}

func newCheckCmd(deps Deps, cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Report whether the survey structure drifted from the snapshot",
		Long:  "check classifies drift without refreshing the view or writing the snapshot.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg()
			if err := checkConfig(c, false); err != nil {
				return err
			}
			if strings.TrimSpace(c.SnapshotPath) == "" {
				return config.Issue{Severity: config.SeverityError, Path: "snapshot", Message: "snapshot path must not be empty"}
			}
			db, err := connect(cmd.Context(), c, deps)
			if err != nil {
				return err
			}
			defer db.Close()

			orch, err := newOrchestrator(c, db, nil)
			if err != nil {
				return err
			}
			res, err := orch.Check(cmd.Context())
			if err != nil {
				return err
			}
			printDrift(deps, res)
			return nil
		},
	}
}

func printDrift(deps Deps, res drift.Result) {
	fmt.Fprintf(deps.Stdout, "drift: %s\n", res.State)
	switch {
	case res.State == drift.SnapshotCorrupt:
		fmt.Fprintf(deps.Stdout, "cause: %v\n", res.Cause)
	case res.Previous != nil:
		fmt.Fprintf(deps.Stdout, "snapshot: run %s at %s\n", res.Previous.RunID, res.Previous.WrittenAt.Format(time.RFC3339))
	}
	if res.State.NeedsRefresh() {
		fmt.Fprintln(deps.Stdout, "the next refresh will rebuild the view")
	}
}

func newValidateCmd(deps Deps, cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			issues := config.Validate(cfg())
			for _, iss := range issues {
				fmt.Fprintf(deps.Stdout, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
			}
			if n := len(config.Errors(issues)); n > 0 {
				return fmt.Errorf("configuration has %d error(s)", n)
			}
			fmt.Fprintln(deps.Stdout, "configuration ok")
			return nil
		},
	}
}
