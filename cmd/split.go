package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kazi/sqlapply/internal/config"
	"github.com/kazi/sqlapply/internal/report"
)

type splitOptions struct {
	source sourceFlags
	format string
	full   bool
}

type splitStatement struct {
	Index    int    `json:"index"`
	Label    string `json:"label"`
	Optional bool   `json:"optional,omitempty"`
	SQL      string `json:"sql"`
}

func newSplitCmd() *cobra.Command {
	opts := &splitOptions{}

	cmd := &cobra.Command{
		Use:   "split <path>",
		Short: "Show how a migration source splits into statements",
		Long: `Split a .sql file, a directory of .sql files, or a JSON manifest into the
numbered statements apply would send, without connecting to anything.

The indices printed here are the ones --only and the run report use.`,
		Example: `  sqlapply split migrations/notifications.sql
  sqlapply split migrations/ --format json
  cat script.sql | sqlapply split - --delimiter '$$'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSplit(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.source.delimiter, "delimiter", "", "Statement delimiter (default \";\")")
	cmd.Flags().StringVar(&opts.source.splitter, "splitter", "", "Statement splitter: lexical or pg")
	cmd.Flags().StringVar(&opts.format, "format", "text", "Output format: text or json")
	cmd.Flags().BoolVar(&opts.full, "full", false, "Print whole statements instead of previews")
	return cmd
}

func runSplit(cmd *cobra.Command, opts *splitOptions, path string) error {
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

	out := cmd.OutOrStdout()
	if opts.format == "json" {
		stmts := make([]splitStatement, 0, len(set.Statements))
		for _, s := range set.Statements {
			stmts = append(stmts, splitStatement{Index: s.Index, Label: s.Label(), Optional: s.Optional, SQL: s.SQL})
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(stmts)
	}

	for _, s := range set.Statements {
		text := report.Preview(s.SQL)
		if opts.full {
			text = s.SQL
		}
		marker := ""
		if s.Optional {
			marker = " (optional)"
		}
		fmt.Fprintf(out, "[%d] %s%s\n    %s\n", s.Index, s.Label(), marker, text)
	}
	fmt.Fprintf(out, "\n%d statement(s), %d check(s)\n", len(set.Statements), len(set.Checks))
	return nil
}
