package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kazi/sqlapply/internal/config"
	"github.com/kazi/sqlapply/internal/lint"
)

type lintOptions struct {
	source sourceFlags
	format string
}

func newLintCmd() *cobra.Command {
	opts := &lintOptions{}

	cmd := &cobra.Command{
		Use:   "lint <path>",
		Short: "Check statements for non-idempotent or destructive SQL",
		Long: `Parse every statement with the PostgreSQL grammar and report statements that
fail when applied a second time (CREATE without IF NOT EXISTS, DROP without
IF EXISTS, CREATE POLICY without a preceding DROP POLICY IF EXISTS) and
statements that destroy data.

Exits 1 when any error-level issue is found.`,
		Example: `  sqlapply lint migrations/notifications.sql
  sqlapply lint migrations/ --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLint(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.source.delimiter, "delimiter", "", "Statement delimiter (default \";\")")
	cmd.Flags().StringVar(&opts.source.splitter, "splitter", "", "Statement splitter: lexical or pg")
	cmd.Flags().StringVar(&opts.format, "format", "text", "Output format: text or json")
	return cmd
}

func runLint(cmd *cobra.Command, opts *lintOptions, path string) error {
	if err := checkFormat(opts.format); err != nil {
		return err
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	parseOpts, err := parseOptions(cfg, opts.source)
	if err != nil {
		return err
	}
	set, err := loadSet(path, parseOpts, cmd.InOrStdin())
	if err != nil {
		return err
	}

	issues := lint.Statements(set.Statements)
	out := cmd.OutOrStdout()

	if opts.format == "json" {
		if issues == nil {
			issues = []lint.Issue{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(issues); err != nil {
			return err
		}
	} else {
		for _, issue := range issues {
			fmt.Fprintln(out, issue)
		}
		errs, warnings := lint.Count(issues)
		if len(issues) == 0 {
			fmt.Fprintf(out, "✓ %d statement(s), no issues\n", len(set.Statements))
		} else {
			fmt.Fprintf(out, "\n%d error(s), %d warning(s) in %d statement(s)\n", errs, warnings, len(set.Statements))
		}
	}

	if lint.HasErrors(issues) {
		return &exitError{code: exitPartial}
	}
	return nil
}
