package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Exit statuses shared by every command.
const (
	exitOK      = 0
	exitPartial = 1
	exitAbort   = 2
)

// exitError carries a process exit status. A nil err means the command has
// already reported the problem to the operator.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sqlapply",
		Short: "Apply ordered SQL migrations to a remote database and verify the result",
		Long: `sqlapply sends an ordered list of SQL statements to one database endpoint,
keeps going when a statement fails, runs verification checks, and prints a
report of what succeeded and what needs attention.

Endpoints are postgres, sqlite and libSQL connection strings, or a Supabase
project URL reached through its PostgREST RPC interface.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newApplyCmd(),
		newSplitCmd(),
		newLintCmd(),
		newVerifyCmd(),
		newVersionCmd(),
	)
	return root
}

var rootCmd = newRootCmd()

// Execute runs the CLI and exits with its status.
func Execute() {
	os.Exit(run(rootCmd, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(root *cobra.Command, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if err == nil {
		return exitOK
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", ee.err)
		}
		return ee.code
	}

	fmt.Fprintf(stderr, "Error: %v\n", err)
	return exitAbort
}
