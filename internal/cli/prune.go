package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/hupe1980/chartprune/internal/config"
	"github.com/hupe1980/chartprune/internal/diff"
	"github.com/hupe1980/chartprune/internal/logging"
	"github.com/hupe1980/chartprune/internal/prune"
)

func runPrune(cmd *cobra.Command) error {
	ctx := cmd.Context()
	cfg := config.FromContext(ctx)
	logger := logging.FromContext(ctx)

	rs, err := config.LoadRules(cfg)
	if err != nil {
		return &ExitError{Code: exitUsage, Err: err}
	}

	pruner := prune.New(cfg.Dir, rs,
		prune.WithLogger(logger),
		prune.WithDryRun(cfg.DryRun),
	)

	report, err := pruner.Run(ctx)
	if err != nil {
		return &ExitError{Code: exitFailure, Err: fmt.Errorf("pruning %s: %w", cfg.Dir, err)}
	}

	if !report.Changed() {
		logger.Info("nothing to prune", slog.String("dir", cfg.Dir))
	}

	w := cmd.OutOrStdout()

	if cfg.DryRun {
		for _, d := range report.Diffs {
			diff.Write(w, d, !cfg.NoColor)
		}
	}

	if !cfg.Quiet {
		report.WriteText(w)
	}

	if cfg.Verify && !cfg.DryRun {
		return runVerify(cmd, rs)
	}

	return nil
}
