package list

import (
	"github.com/spf13/cobra"
)

// ListCmd is the base list command for listing resources.
var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "List resources",
	Long: `List resources paper works with.

Subcommands:
  interfaces  - List capture interfaces and mark the hotspot one

Examples:
  paper list interfaces          # Interfaces suitable for capture
  paper list interfaces --all    # Include loopback and virtual interfaces
  paper list interfaces --json   # Machine-readable output`,
}

func init() {
	ListCmd.AddCommand(interfacesCmd)
}
