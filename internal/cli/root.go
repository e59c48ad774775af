// Package cli implements the cobra command tree for chartprune.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hupe1980/chartprune/internal/config"
	"github.com/hupe1980/chartprune/internal/logging"
)

// Process exit codes.
const (
	exitFailure = 1
	exitUsage   = 2
)

// ExitError wraps an error with a specific process exit code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}

	return fmt.Sprintf("exit code %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Execute builds the command tree, runs it, and returns the exit code.
// SIGINT and SIGTERM cancel the run between filesystem operations.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := NewRootCommand()

	if err := cmd.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)

		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return exitErr.Code
		}

		return exitFailure
	}

	return 0
}

// NewRootCommand constructs the top-level cobra.Command with all
// subcommands attached. Run without a subcommand it prunes the chart tree.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "chartprune",
		Short: "Prune charts, subcharts, and dependency entries from a Helm chart tree",
		Long: `chartprune rewrites a charts/ directory of Helm charts for redistribution.

It deletes whole charts, deletes vendored subcharts under specific parents,
and removes the matching dependency entries (by name or by alias) from the
parents' Chart.yaml files. Everything else in each Chart.yaml is kept as
written.

The removal directives are compiled in; print them with "chartprune rules"
or replace them with a rules section in .chartprune.yaml. The tree is
expected to be a fresh checkout: running twice fails because the removed
directories no longer exist.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd, cfgFile)
			if err != nil {
				return &ExitError{Code: exitUsage, Err: err}
			}

			logger := logging.Setup(cfg, cmd.ErrOrStderr())

			ctx := cmd.Context()
			ctx = config.NewContext(ctx, cfg)
			ctx = logging.NewContext(ctx, logger)
			cmd.SetContext(ctx)

			logger.Debug("configuration loaded",
				slog.String("configFile", cfg.ConfigFile),
				slog.String("dir", cfg.Dir),
				slog.Bool("dryRun", cfg.DryRun),
			)

			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPrune(cmd)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: .chartprune.yaml)")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "text", "log format: text, json")
	pf.Bool("no-color", false, "disable colored output")
	pf.BoolP("quiet", "q", false, "suppress non-essential output")
	pf.StringP("dir", "C", ".", "directory containing the charts/ tree")

	f := cmd.Flags()
	f.Bool("dry-run", false, "print the manifest diffs without changing anything")
	f.Bool("verify", false, "verify the tree against the directives after pruning")

	cobra.CheckErr(registerFlagCompletions(cmd))

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &ExitError{Code: exitUsage, Err: err}
	})

	cmd.AddCommand(
		newVersionCommand(),
		newRulesCommand(),
		newVerifyCommand(),
		newCompletionCommand(),
	)

	return cmd
}
