package capture

import (
	"context"
	"errors"

	"github.com/endorses/paper/internal/pkg/capture"
	"github.com/endorses/paper/internal/pkg/cmdutil"
	"github.com/endorses/paper/internal/pkg/output"
	"github.com/endorses/paper/internal/pkg/signals"
	"github.com/endorses/paper/internal/pkg/workflow"
	"github.com/spf13/cobra"
)

var CaptureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture the pen's update check and fetch its descriptor",
	Long: `Wait on the hotspot interface for the pen's update-check request, then
ask the update server for the full image descriptor and download the image.
The results are stored in the session file for the patch and serve steps.

Example:
  paper capture
  paper capture -r hotspot.pcap --no-download
  paper capture --no-capture`,
	RunE: runCapture,
}

var (
	device     string
	readFile   string
	writeFile  string
	manual     bool
	noFetch    bool
	noDownload bool
	jsonOutput bool
)

var bindings = map[string]string{
	"capture.gateway":     "gateway",
	"capture.promiscuous": "promiscuous",
}

func init() {
	CaptureCmd.Flags().StringVarP(&device, "interface", "i", "", "capture device (default: the device bound to the gateway)")
	CaptureCmd.Flags().StringVarP(&readFile, "read-file", "r", "", "read from a pcap file instead of a live device")
	CaptureCmd.Flags().StringVarP(&writeFile, "write-file", "w", "", "write the matched frame to a pcap file")
	CaptureCmd.Flags().BoolVar(&manual, "no-capture", false, "enter the product URL and request body instead of capturing")
	CaptureCmd.Flags().BoolVar(&noFetch, "no-fetch", false, "stop after the capture")
	CaptureCmd.Flags().BoolVar(&noDownload, "no-download", false, "fetch the descriptor but do not download the image")
	CaptureCmd.Flags().BoolVar(&jsonOutput, "json", false, "print the captured request as JSON")
	CaptureCmd.Flags().String("gateway", "", "hotspot gateway address")
	CaptureCmd.Flags().Bool("promiscuous", false, "open the device in promiscuous mode")

	CaptureCmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		return cmdutil.BindFlags(cmd.Flags(), bindings)
	}
}

func runCapture(cmd *cobra.Command, args []string) error {
	r, err := workflow.Open()
	if err != nil {
		return err
	}
	if !manual && readFile == "" {
		if err := r.RequireAdmin(); err != nil {
			return err
		}
	}

	ctx, stop := signals.WithCancelOnSignal(context.Background())
	defer stop()

	result, err := r.Capture(ctx, workflow.CaptureOptions{
		Device:    device,
		ReadFile:  readFile,
		WriteFile: writeFile,
		Manual:    manual,
	})
	if errors.Is(err, capture.ErrNotFound) {
		return errors.New("no update request found in " + readFile)
	}
	if err != nil {
		return err
	}
	if jsonOutput {
		if err := output.PrintJSON(result); err != nil {
			return err
		}
	}
	if noFetch {
		return nil
	}

	if _, err := r.Fetch(ctx); err != nil {
		return err
	}
	if noDownload {
		return nil
	}
	if err := r.Download(ctx); err != nil {
		return err
	}
	r.Console.Success("Image saved to %s", r.Config.Server.Image)
	return nil
}
