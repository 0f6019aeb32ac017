package serve

import (
	"context"

	"github.com/endorses/paper/internal/pkg/cmdutil"
	"github.com/endorses/paper/internal/pkg/logger"
	"github.com/endorses/paper/internal/pkg/signals"
	"github.com/endorses/paper/internal/pkg/workflow"
	"github.com/spf13/cobra"
)

var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the patched image to the pen",
	Long: `Answer the pen's update requests with the rewritten descriptor and the
patched image until interrupted. The descriptor is rewritten from the
session first unless --no-rewrite is given.

Example:
  paper serve
  paper serve --port 8080 --no-hosts
  paper serve --metrics-port 9090`,
	RunE: runServe,
}

var (
	noHosts   bool
	noRewrite bool
)

var bindings = map[string]string{
	"server.address":         "address",
	"server.port":            "port",
	"server.max_connections": "max-connections",
	"server.read_timeout":    "read-timeout",
	"metrics.port":           "metrics-port",
}

func init() {
	ServeCmd.Flags().BoolVar(&noHosts, "no-hosts", false, "do not edit the hosts file")
	ServeCmd.Flags().BoolVar(&noRewrite, "no-rewrite", false, "serve the descriptor stored in the session as is")
	ServeCmd.Flags().String("address", "", "listen address (overrides --port)")
	ServeCmd.Flags().Int("port", 0, "responder port")
	ServeCmd.Flags().Int("max-connections", 0, "maximum concurrent connections")
	ServeCmd.Flags().Duration("read-timeout", 0, "request read timeout (0 disables)")
	ServeCmd.Flags().Int("metrics-port", 0, "serve Prometheus metrics on this port (0 disables)")

	ServeCmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		return cmdutil.BindFlags(cmd.Flags(), bindings)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	r, err := workflow.Open()
	if err != nil {
		return err
	}
	if err := r.RequireAdmin(); err != nil {
		return err
	}

	if !noRewrite {
		if _, err := r.Rewrite(); err != nil {
			return err
		}
	}
	if !r.State.Patched {
		logger.Warn("Serving an image that was not patched in this session", "image", r.Config.Server.Image)
	}

	ctx, stop := signals.WithCancelOnSignal(context.Background())
	defer stop()

	if !noHosts {
		if err := r.EnableHosts(ctx); err != nil {
			return err
		}
		defer func() {
			if err := r.DisableHosts(context.Background()); err != nil {
				logger.Error("Failed to remove hosts entry", "error", err)
			}
		}()
	}
	return r.Serve(ctx, nil)
}
