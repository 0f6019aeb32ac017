package hosts

import (
	"github.com/endorses/paper/internal/pkg/cmdutil"
	"github.com/endorses/paper/internal/pkg/workflow"
	"github.com/spf13/cobra"
)

// HostsCmd edits the update-host redirect in the system hosts file.
var HostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "Add or remove the update host redirect",
	Long: `Point the update server's host name at the hotspot gateway, or remove
that entry again. The DNS cache is flushed after every change.

Examples:
  paper hosts enable
  paper hosts disable
  paper hosts status`,
}

var enableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Add the redirect entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := open(true)
		if err != nil {
			return err
		}
		return r.EnableHosts(cmd.Context())
	},
}

var disableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Remove the redirect entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := open(true)
		if err != nil {
			return err
		}
		return r.DisableHosts(cmd.Context())
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the redirect entry is present",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := open(false)
		if err != nil {
			return err
		}
		editor := r.Config.HostsEditor()
		present, err := editor.Contains()
		if err != nil {
			return err
		}
		if present {
			r.Console.Info("%s is present in %s", editor.Entry, editor.Path)
		} else {
			r.Console.Info("%s is not present in %s", editor.Entry, editor.Path)
		}
		return nil
	},
}

var bindings = map[string]string{
	"hosts.file":      "file",
	"capture.gateway": "gateway",
}

func open(admin bool) (*workflow.Runner, error) {
	r, err := workflow.Open()
	if err != nil {
		return nil, err
	}
	if admin {
		if err := r.RequireAdmin(); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func init() {
	HostsCmd.PersistentFlags().String("file", "", "hosts file path")
	HostsCmd.PersistentFlags().String("gateway", "", "address the update host resolves to")

	HostsCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return cmdutil.BindFlags(HostsCmd.PersistentFlags(), bindings)
	}

	HostsCmd.AddCommand(enableCmd)
	HostsCmd.AddCommand(disableCmd)
	HostsCmd.AddCommand(statusCmd)
}
