package cli

import (
	"github.com/spf13/cobra"

	"github.com/hupe1980/chartprune/internal/config"
)

func newCompletionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion <shell>",
		Short: "Generate shell completion scripts",
		Long: `Generate a completion script for chartprune.

Besides subcommands, the script completes --dir with directories and
--log-level and --log-format with their accepted values.

Bash:
  $ source <(chartprune completion bash)

Zsh:
  $ chartprune completion zsh > "${fpath[1]}/_chartprune"

Fish:
  $ chartprune completion fish > ~/.config/fish/completions/chartprune.fish

PowerShell:
  PS> chartprune completion powershell | Out-String | Invoke-Expression
`,
		// Runs outside a chart checkout, so config and rules are not loaded.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Args:              cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs:         []string{"bash", "zsh", "fish", "powershell"},
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()

			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletionV2(w, true)
			case "zsh":
				return cmd.Root().GenZshCompletion(w)
			case "fish":
				return cmd.Root().GenFishCompletion(w, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(w)
			}

			return nil
		},
	}

	return cmd
}

// registerFlagCompletions wires value completion for the root's persistent
// flags.
func registerFlagCompletions(root *cobra.Command) error {
	fixed := map[string][]string{
		"log-level": {
			config.LogLevelDebug,
			config.LogLevelInfo,
			config.LogLevelWarn,
			config.LogLevelError,
		},
		"log-format": {config.LogFormatText, config.LogFormatJSON},
	}

	for flag, values := range fixed {
		if err := root.RegisterFlagCompletionFunc(flag, cobra.FixedCompletions(values, cobra.ShellCompDirectiveNoFileComp)); err != nil {
			return err
		}
	}

	if err := root.RegisterFlagCompletionFunc("dir", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return nil, cobra.ShellCompDirectiveFilterDirs
	}); err != nil {
		return err
	}

	return root.MarkPersistentFlagFilename("config", "yaml", "yml")
}
