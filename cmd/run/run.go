package run

import (
	"context"

	"github.com/endorses/paper/internal/pkg/cmdutil"
	"github.com/endorses/paper/internal/pkg/logger"
	"github.com/endorses/paper/internal/pkg/signals"
	"github.com/endorses/paper/internal/pkg/version"
	"github.com/endorses/paper/internal/pkg/workflow"
	"github.com/spf13/cobra"
)

var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the whole reset workflow",
	Long: `Run every step in order:

  1. capture the pen's update check on the hotspot (or ask for it with --no-capture)
  2. fetch the update descriptor and download the full image
  3. replace the adb password hash in the image
  4. rewrite the descriptor to point at this machine
  5. redirect the update host in the hosts file
  6. serve the image until interrupted, then restore the hosts file

Enable the mobile hotspot first so the gateway address exists.

Example:
  paper run
  paper run --no-capture --password s3cret
  paper run -i wlan0 --write-file capture.pcap`,
	RunE: runWorkflow,
}

var (
	noCapture bool
	noHosts   bool
	device    string
	readFile  string
	writeFile string
	password  string
)

var bindings = map[string]string{
	"capture.gateway": "gateway",
	"server.port":     "port",
	"metrics.port":    "metrics-port",
}

func init() {
	RunCmd.Flags().BoolVar(&noCapture, "no-capture", false, "enter the product URL and request body instead of capturing")
	RunCmd.Flags().BoolVar(&noHosts, "no-hosts", false, "do not edit the hosts file")
	RunCmd.Flags().StringVarP(&device, "interface", "i", "", "capture device (default: the device bound to the gateway)")
	RunCmd.Flags().StringVarP(&readFile, "read-file", "r", "", "read the update check from a pcap file")
	RunCmd.Flags().StringVarP(&writeFile, "write-file", "w", "", "write the matched frame to a pcap file")
	RunCmd.Flags().StringVarP(&password, "password", "p", "", "new adb password (prompted when empty)")
	RunCmd.Flags().String("gateway", "", "hotspot gateway address")
	RunCmd.Flags().Int("port", 0, "responder port")
	RunCmd.Flags().Int("metrics-port", 0, "serve Prometheus metrics on this port (0 disables)")

	RunCmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		return cmdutil.BindFlags(cmd.Flags(), bindings)
	}
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	r, err := workflow.Open()
	if err != nil {
		return err
	}
	r.Console.Println(version.Banner())

	if err := r.RequireAdmin(); err != nil {
		return err
	}

	ctx, stop := signals.WithCancelOnSignal(context.Background())
	defer stop()

	logger.Info("Starting workflow",
		"gateway", r.Config.Capture.Gateway,
		"image", r.Config.Server.Image,
		"session", r.Config.SessionFile,
		"manual", noCapture)

	err = r.Run(ctx, workflow.RunOptions{
		Capture: workflow.CaptureOptions{
			Device:    device,
			ReadFile:  readFile,
			WriteFile: writeFile,
			Manual:    noCapture,
		},
		Credential: password,
		NoHosts:    noHosts,
	})
	if err != nil {
		return err
	}
	r.Console.Success("Stopped")
	return nil
}
