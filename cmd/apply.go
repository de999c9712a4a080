package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kazi/sqlapply/internal/applier"
	"github.com/kazi/sqlapply/internal/config"
	"github.com/kazi/sqlapply/internal/connect"
	"github.com/kazi/sqlapply/internal/database"
	"github.com/kazi/sqlapply/internal/lint"
	"github.com/kazi/sqlapply/internal/migration"
	"github.com/kazi/sqlapply/internal/prompt"
	"github.com/kazi/sqlapply/internal/report"
	"github.com/kazi/sqlapply/internal/runlog"
	"github.com/kazi/sqlapply/internal/telemetry"
)

type applyOptions struct {
	endpoint endpointFlags
	source   sourceFlags
	checks   checkFlags

	only        string
	retryFailed bool
	format      string
	yes         bool
	noLog       bool
	verbose     bool
}

func newApplyCmd() *cobra.Command {
	opts := &applyOptions{}

	cmd := &cobra.Command{
		Use:   "apply <path>",
		Short: "Apply SQL statements to a database",
		Long: `Apply every statement from a .sql file, a directory of .sql files (in
lexicographic order), or a JSON manifest, in order, to one database.

A failed statement does not stop the run. When all statements have been
attempted, verification checks run and a report lists what failed. Use
"-" as the path to read a script from stdin.

Exit status: 0 when everything succeeded, 1 when statements or checks
failed, 2 when the database could not be reached or input was invalid.`,
		Example: `  # Apply a script to the default environment
  sqlapply apply migrations/notifications.sql

  # Apply to a Supabase project through its REST API
  SQLAPPLY_CREDENTIAL=$SUPABASE_SERVICE_ROLE_KEY \
    sqlapply apply migrations/ --url https://abc.supabase.co

  # Re-run statements 2 and 5 only
  sqlapply apply migrations/notifications.sql --only 2,5

  # Re-run whatever failed last time
  sqlapply apply migrations/notifications.sql --retry-failed`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd, opts, args[0])
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.endpoint.env, "env", "e", "", "Named environment from sqlapply.toml (defaults to default_environment)")
	f.StringVar(&opts.endpoint.url, "url", "", "Database URL (overrides environment selection)")
	f.StringVar(&opts.endpoint.kind, "kind", "", "Endpoint kind: postgres, sqlite, libsql or rest (detected from the URL by default)")
	f.StringVar(&opts.source.delimiter, "delimiter", "", "Statement delimiter (default \";\")")
	f.StringVar(&opts.source.splitter, "splitter", "", "Statement splitter: lexical or pg")
	f.StringVar(&opts.only, "only", "", "Apply only these statement indices, e.g. 1,4,7-9")
	f.BoolVar(&opts.retryFailed, "retry-failed", false, "Apply only the statements that failed in the last run of this source")
	f.StringSliceVar(&opts.checks.tables, "check-table", nil, "Verify that a table exists after applying (repeatable)")
	f.StringSliceVar(&opts.checks.indexes, "check-index", nil, "Verify that an index exists after applying (repeatable)")
	f.StringVar(&opts.format, "format", "text", "Report format: text or json")
	f.BoolVarP(&opts.yes, "yes", "y", false, "Apply even when lint finds errors, without asking")
	f.BoolVar(&opts.noLog, "no-log", false, "Do not write the run log")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "Log every statement, not just failures")

	cmd.MarkFlagsMutuallyExclusive("only", "retry-failed")
	return cmd
}

func runApply(cmd *cobra.Command, opts *applyOptions, path string) error {
	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()
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

	store := runlog.New(runLogDir(cfg))
	source := sourceKey(path)

	stmts := set.Statements
	switch {
	case opts.only != "":
		indices, err := parseIndices(opts.only, stmts[len(stmts)-1].Index)
		if err != nil {
			return err
		}
		if stmts, err = migration.Select(stmts, indices); err != nil {
			return err
		}
	case opts.retryFailed:
		last, err := store.Latest(source)
		if err != nil {
			return err
		}
		if last == nil {
			return fmt.Errorf("no previous run of %s in %s", path, store.Dir)
		}
		if len(last.Report.FailedStatements) == 0 {
			fmt.Fprintf(stdout, "Nothing to retry: run %s had no failed statements.\n", last.Report.RunID)
			return nil
		}
		if stmts, err = migration.Select(stmts, last.Report.FailedStatements); err != nil {
			return fmt.Errorf("source changed since run %s: %w", last.Report.RunID, err)
		}
	}

	ep, err := resolveEndpoint(cfg, opts.endpoint, stderr)
	if err != nil {
		return err
	}

	checks, err := buildChecks(ep.Kind, append(cfg.Checks, set.Checks...), opts.checks)
	if err != nil {
		return err
	}

	if err := confirmLint(cmd, ep, stmts, opts.yes); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	shutdown, err := telemetry.Setup(ctx, "sqlapply", version)
	if err != nil {
		fmt.Fprintf(stderr, "Warning: tracing disabled: %v\n", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	exec, err := connect.Open(ep)
	if err != nil {
		return err
	}
	defer func() { _ = exec.Close() }()

	logger := log.New(stderr, "", 0)
	a := applier.New(exec, ep, applier.WithLogger(logger), applier.WithVerbose(opts.verbose))

	rep, applyErr := a.Apply(ctx, stmts, checks)
	if rep == nil {
		return applyErr
	}

	if err := writeReport(stdout, rep, opts.format); err != nil {
		return err
	}

	if !opts.noLog {
		logPath, err := store.Save(source, rep)
		if err != nil {
			fmt.Fprintf(stderr, "Warning: %v\n", err)
		} else if opts.verbose {
			fmt.Fprintf(stderr, "Run log written to %s\n", logPath)
		}
	}

	if rep.Cancelled {
		return &exitError{code: rep.ExitCode(), err: fmt.Errorf(
			"interrupted with %d statement(s) not attempted; re-run with --retry-failed", rep.NotAttempted())}
	}
	if code := rep.ExitCode(); code != exitOK {
		return &exitError{code: code}
	}
	return nil
}

// confirmLint prints lint findings and, when any is an error, requires
// --yes or an interactive confirmation.
func confirmLint(cmd *cobra.Command, ep database.Endpoint, stmts []migration.Statement, yes bool) error {
	stderr := cmd.ErrOrStderr()

	issues := lint.Statements(stmts)
	if ep.Kind == database.KindSQLite || ep.Kind == database.KindLibSQL {
		// The linter speaks the postgres grammar only.
		issues = dropCode(issues, "parse_error")
	}
	for _, issue := range issues {
		fmt.Fprintf(stderr, "%s\n", issue)
	}
	if !lint.HasErrors(issues) || yes {
		return nil
	}

	errs, _ := lint.Count(issues)
	if !isInteractive(cmd.InOrStdin(), stderr) {
		return &exitError{code: exitAbort, err: fmt.Errorf("lint found %d error(s); re-run with --yes to apply anyway", errs)}
	}

	expected := ep.Name
	if expected == "" {
		expected = "apply"
	}
	var details []string
	for _, issue := range issues {
		if issue.Severity == lint.SeverityError {
			details = append(details, fmt.Sprintf("%s [%s]", issue.Label, issue.Code))
		}
	}

	ok, err := prompt.Confirm(cmd.InOrStdin(), stderr,
		fmt.Sprintf("Lint found %d error(s) in statements bound for %s", errs, ep.Redacted()), details, expected)
	if err != nil {
		return err
	}
	if !ok {
		return &exitError{code: exitAbort, err: fmt.Errorf("apply cancelled")}
	}
	return nil
}

func dropCode(issues []lint.Issue, code string) []lint.Issue {
	out := issues[:0:0]
	for _, i := range issues {
		if i.Code != code {
			out = append(out, i)
		}
	}
	return out
}

func writeReport(w io.Writer, rep *report.RunReport, format string) error {
	if format == "json" {
		return report.WriteJSON(w, rep)
	}
	return report.WriteText(w, rep)
}

func runLogDir(cfg *config.Config) string {
	dir := cfg.Apply.RunLogDir
	if dir == "" {
		dir = runlog.DefaultDir
	}
	if !filepath.IsAbs(dir) && cfg.ConfigDir() != "" {
		dir = filepath.Join(cfg.ConfigDir(), dir)
	}
	return dir
}

// sourceKey identifies a migration source across invocations.
func sourceKey(path string) string {
	if path == "-" {
		return "stdin"
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
