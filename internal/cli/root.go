package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// exitError carries a process exit code through cobra's error return.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string {
	return e.msg
}

// errPartial signals exit code 2: some work succeeded and some failed.
func errPartial(format string, args ...interface{}) error {
	return &exitError{code: 2, msg: fmt.Sprintf(format, args...)}
}

// Execute runs the command tree and returns the process exit code:
// 0 success, 1 failure, 2 partial success.
func Execute() int {
	root := NewRootCmd()

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)

		var exit *exitError
		if errors.As(err, &exit) {
			return exit.code
		}
		return 1
	}

	return 0
}

// NewRootCmd builds the purser command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "purser",
		Short: "Market data downloader and lot-level portfolio ledger",
		Long: `Purser downloads daily price history and financial statements into a
local SQLite store and keeps a lot-granular record of buys and sells with
daily profit-and-loss valuation on top of it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newDataCmd())
	root.AddCommand(newTradeCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newBackupCmd())
	root.AddCommand(newStatusCmd())

	return root
}

// withApp opens the app for a command run and closes it afterwards.
func withApp(fn func(a *app, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		return fn(a, cmd, args)
	}
}
