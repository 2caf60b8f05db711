package cmd

import (
	"fmt"
	"runtime"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "snare %s (built %s)\n", version, buildTime)
		fmt.Fprintf(out, "  go:       %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		// Revision downloaded when no browser binary is found or configured
		fmt.Fprintf(out, "  chromium: r%d\n", launcher.RevisionDefault)
	},
}
