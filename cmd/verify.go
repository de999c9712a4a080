package cmd

import (
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/kazi/sqlapply/internal/applier"
	"github.com/kazi/sqlapply/internal/config"
	"github.com/kazi/sqlapply/internal/connect"
	"github.com/kazi/sqlapply/internal/migration"
	"github.com/kazi/sqlapply/internal/verify"
)

type verifyOptions struct {
	endpoint endpointFlags
	checks   checkFlags
	manifest string
	format   string
	verbose  bool
}

func newVerifyCmd() *cobra.Command {
	opts := &verifyOptions{}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Run verification checks without applying anything",
		Long: `Evaluate the checks from sqlapply.toml, from a manifest given with
--manifest, and from --check-table/--check-index against the selected
database.

Exits 1 when a check fails and 2 when the database cannot be reached.`,
		Example: `  sqlapply verify --check-table notifications --check-index idx_notifications_user_id
  sqlapply verify --env production --manifest migrations/manifest.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.endpoint.env, "env", "e", "", "Named environment from sqlapply.toml")
	f.StringVar(&opts.endpoint.url, "url", "", "Database URL (overrides environment selection)")
	f.StringVar(&opts.endpoint.kind, "kind", "", "Endpoint kind: postgres, sqlite, libsql or rest")
	f.StringVar(&opts.manifest, "manifest", "", "JSON manifest whose checks should run")
	f.StringSliceVar(&opts.checks.tables, "check-table", nil, "Verify that a table exists (repeatable)")
	f.StringSliceVar(&opts.checks.indexes, "check-index", nil, "Verify that an index exists (repeatable)")
	f.StringVar(&opts.format, "format", "text", "Report format: text or json")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "Log passing checks too")
	return cmd
}

func runVerify(cmd *cobra.Command, opts *verifyOptions) error {
	stderr := cmd.ErrOrStderr()
	if err := checkFormat(opts.format); err != nil {
		return err
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	defs := append([]verify.Definition{}, cfg.Checks...)
	if opts.manifest != "" {
		data, err := os.ReadFile(opts.manifest)
		if err != nil {
			return fmt.Errorf("failed to read manifest: %w", err)
		}
		set, err := migration.LoadManifest(data, opts.manifest)
		if err != nil {
			return err
		}
		defs = append(defs, set.Checks...)
	}

	ep, err := resolveEndpoint(cfg, opts.endpoint, stderr)
	if err != nil {
		return err
	}
	checks, err := buildChecks(ep.Kind, defs, opts.checks)
	if err != nil {
		return err
	}
	if len(checks) == 0 {
		return fmt.Errorf("no checks to run: pass --check-table, --check-index or --manifest, or add [[checks]] to %s", config.FileName)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	exec, err := connect.Open(ep)
	if err != nil {
		return err
	}
	defer func() { _ = exec.Close() }()

	a := applier.New(exec, ep, applier.WithLogger(log.New(stderr, "", 0)), applier.WithVerbose(opts.verbose))
	rep, verifyErr := a.Verify(ctx, checks)
	if rep == nil {
		return verifyErr
	}
	if err := writeReport(cmd.OutOrStdout(), rep, opts.format); err != nil {
		return err
	}
	if code := rep.ExitCode(); code != exitOK {
		return &exitError{code: code}
	}
	return nil
}
