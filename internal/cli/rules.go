package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	sigsyaml "sigs.k8s.io/yaml"

	"github.com/hupe1980/chartprune/internal/config"
)

func newRulesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "Print the effective removal directives",
		Long: `Print the removal directives a run would apply, as YAML.

The output uses the same shape as the rules section of .chartprune.yaml:

  rules:
    charts: [<chart>...]
    subcharts:
      <parent>: [<subchart>...]
    aliases:
      <parent>: [<alias>...]`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rs, err := config.LoadRules(config.FromContext(cmd.Context()))
			if err != nil {
				return &ExitError{Code: exitUsage, Err: err}
			}

			out, err := sigsyaml.Marshal(map[string]any{"rules": rs.Spec()})
			if err != nil {
				return fmt.Errorf("marshaling rules: %w", err)
			}

			_, err = cmd.OutOrStdout().Write(out)

			return err
		},
	}
}
