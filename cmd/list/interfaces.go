package list

import (
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/endorses/paper/internal/pkg/capture"
	"github.com/endorses/paper/internal/pkg/cmdutil"
	"github.com/endorses/paper/internal/pkg/output"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "List capture interfaces",
	Long: `List the interfaces paper can capture on. The interface bound to the
hotspot gateway address is marked; it is the one used when no interface is
given. Listing may require administrator privileges.`,
	RunE: runInterfaces,
}

var (
	showAll    bool
	jsonOutput bool
)

// interfaceRow is one listed interface.
type interfaceRow struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Addresses   []string `json:"addresses,omitempty"`
	Gateway     bool     `json:"gateway"`
}

func init() {
	interfacesCmd.Flags().BoolVarP(&showAll, "all", "a", false, "include loopback, container and virtual interfaces")
	interfacesCmd.Flags().BoolVar(&jsonOutput, "json", false, "print JSON")
	interfacesCmd.Flags().String("gateway", "", "hotspot gateway address")

	interfacesCmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		return cmdutil.BindFlags(cmd.Flags(), map[string]string{"capture.gateway": "gateway"})
	}
}

func runInterfaces(cmd *cobra.Command, args []string) error {
	infos, err := capture.ListInterfaces()
	if err != nil {
		return fmt.Errorf("unable to list network interfaces, this may be due to insufficient permissions: %w", err)
	}

	rows := selectRows(infos, viper.GetString("capture.gateway"), showAll)
	if jsonOutput {
		return output.WriteJSON(cmd.OutOrStdout(), rows, output.IsTTY())
	}
	printRows(cmd.OutOrStdout(), rows)
	return nil
}

// selectRows filters infos and marks the interface that carries gateway.
// The gateway interface is always kept.
func selectRows(infos []capture.InterfaceInfo, gateway string, all bool) []interfaceRow {
	want := net.ParseIP(gateway)
	rows := make([]interfaceRow, 0, len(infos))
	for _, info := range infos {
		row := interfaceRow{Name: info.Name, Addresses: info.Addresses}
		if !containsSensitiveInfo(info.Description) {
			row.Description = info.Description
		}
		for _, a := range info.Addresses {
			if want != nil && net.ParseIP(a).Equal(want) {
				row.Gateway = true
			}
		}
		if all || row.Gateway || isCaptureCandidate(info.Name) {
			rows = append(rows, row)
		}
	}
	return rows
}

func printRows(w io.Writer, rows []interfaceRow) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No suitable interfaces found.")
		return
	}
	gatewaySeen := false
	fmt.Fprintln(w, "Capture interfaces:")
	for _, row := range rows {
		mark := " "
		if row.Gateway {
			mark = "*"
			gatewaySeen = true
		}
		fmt.Fprintf(w, " %s %s", mark, row.Name)
		if row.Description != "" {
			fmt.Fprintf(w, " - %s", row.Description)
		}
		if len(row.Addresses) > 0 {
			fmt.Fprintf(w, " [%s]", strings.Join(row.Addresses, ", "))
		}
		fmt.Fprintln(w)
	}
	if !gatewaySeen {
		fmt.Fprintln(w, "\nNo interface carries the gateway address. Is the mobile hotspot enabled?")
	}
}

func isCaptureCandidate(name string) bool {
	name = strings.ToLower(name)

	excludePatterns := []string{
		"lo", "loopback",
		"usb", "bluetooth",
		"docker", "veth",
		"vmnet", "vbox",
		"isatap", "teredo",
	}

	for _, pattern := range excludePatterns {
		if strings.Contains(name, pattern) {
			return false
		}
	}
	return true
}

func containsSensitiveInfo(desc string) bool {
	desc = strings.ToLower(desc)
	sensitiveKeywords := []string{
		"mac", "address", "serial", "uuid",
		"hardware", "vendor", "manufacturer",
	}

	for _, keyword := range sensitiveKeywords {
		if strings.Contains(desc, keyword) {
			return true
		}
	}
	return false
}
