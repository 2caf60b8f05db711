package cmd

import (
	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/snare/packages/capture"
	"github.com/abdul-hamid-achik/snare/packages/ident"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion scripts",
	Long: `Generate shell completion scripts for snare.

Bash:
  $ source <(snare completion bash)

Zsh:
  $ snare completion zsh > "${fpath[1]}/_snare"

Fish:
  $ snare completion fish > ~/.config/fish/completions/snare.fish

PowerShell:
  PS> snare completion powershell | Out-String | Invoke-Expression
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletion(out)
		case "zsh":
			return cmd.Root().GenZshCompletion(out)
		case "fish":
			return cmd.Root().GenFishCompletion(out, true)
		case "powershell":
			return cmd.Root().GenPowerShellCompletionWithDesc(out)
		}
		return nil
	},
}

// registerPipelineCompletions offers the include presets and id formats
func registerPipelineCompletions(c *cobra.Command) {
	_ = c.RegisterFlagCompletionFunc("include", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return capture.PresetNames(), cobra.ShellCompDirectiveNoFileComp
	})
	_ = c.RegisterFlagCompletionFunc("id-format", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{string(ident.Timestamp), string(ident.Random), string(ident.V7)}, cobra.ShellCompDirectiveNoFileComp
	})
}

func init() {
	rootCmd.AddCommand(completionCmd)
}
