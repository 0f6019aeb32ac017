package cmd

import (
	"fmt"

	"github.com/endorses/paper/internal/pkg/version"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.Banner())
		fmt.Fprintln(cmd.OutOrStdout(), version.GetFullVersion())
	},
}
