package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/chartprune/internal/config"
	"github.com/hupe1980/chartprune/internal/logging"
	"github.com/hupe1980/chartprune/internal/rules"
	"github.com/hupe1980/chartprune/internal/verify"
)

func newVerifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check a pruned chart tree against the removal directives",
		Long: `Check that every removal directive holds for the chart tree:
removed chart and subchart directories are gone, and no retained Chart.yaml
still references a removed subchart or alias. Retained dependencies that are
not vendored or whose vendored version does not satisfy the declared
constraint are reported as warnings.

Returns exit code 1 when any directive is violated.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rs, err := config.LoadRules(config.FromContext(cmd.Context()))
			if err != nil {
				return &ExitError{Code: exitUsage, Err: err}
			}

			return runVerify(cmd, rs)
		},
	}
}

func runVerify(cmd *cobra.Command, rs *rules.Rules) error {
	ctx := cmd.Context()
	cfg := config.FromContext(ctx)

	result, err := verify.Check(cfg.Dir, rs, logging.FromContext(ctx))
	if err != nil {
		return &ExitError{Code: exitFailure, Err: fmt.Errorf("verifying %s: %w", cfg.Dir, err)}
	}

	for _, f := range result.Findings {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), f)
	}

	if !result.OK() {
		return &ExitError{Code: exitFailure, Err: fmt.Errorf("verification failed with %d violation(s)", len(result.Violations()))}
	}

	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Verification passed.")

	return nil
}
