package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"

	"github.com/endorses/paper/cmd/capture"
	"github.com/endorses/paper/cmd/hash"
	"github.com/endorses/paper/cmd/hosts"
	"github.com/endorses/paper/cmd/list"
	"github.com/endorses/paper/cmd/patch"
	"github.com/endorses/paper/cmd/run"
	"github.com/endorses/paper/cmd/serve"
	"github.com/endorses/paper/internal/pkg/config"
	"github.com/endorses/paper/internal/pkg/logger"
	"github.com/endorses/paper/internal/pkg/privilege"
	"github.com/endorses/paper/internal/pkg/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile     string
	verbose     bool
	logFormat   string
	pauseOnExit bool
	sessionFile string
)

var rootCmd = &cobra.Command{
	Use:   "paper",
	Short: "paper resets the adb password of a pen over its OTA update",
	Long: fmt.Sprintf(`%s

paper captures the pen's update check on a hotspot, downloads the full
firmware image, replaces the adb password hash inside it, and serves the
patched image back to the pen as an update.

Typical use:
  paper run                  # every step, interactively
  paper capture              # or step by step
  paper patch
  paper serve`, version.Banner()),
	Version:       version.GetFullVersion(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits 1 on error.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	if errors.Is(err, privilege.ErrRelaunched) {
		logger.Info("Continuing in the elevated process")
		os.Exit(0)
	}
	logger.Error("Command failed", "error", err)
	fmt.Fprintln(os.Stderr, "Error:", err)
	if pauseOnExit {
		fmt.Fprint(os.Stderr, "Press Enter to exit...")
		_, _ = bufio.NewReader(os.Stdin).ReadString('\n')
	}
	os.Exit(1)
}

func addSubCommandPalettes() {
	rootCmd.AddCommand(run.RunCmd)
	rootCmd.AddCommand(capture.CaptureCmd)
	rootCmd.AddCommand(patch.PatchCmd)
	rootCmd.AddCommand(serve.ServeCmd)
	rootCmd.AddCommand(hash.HashCmd)
	rootCmd.AddCommand(hosts.HostsCmd)
	rootCmd.AddCommand(list.ListCmd)
	rootCmd.AddCommand(versionCmd)
}

func init() {
	cobra.OnInitialize(initConfig)

	logger.Initialize()

	addSubCommandPalettes()

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/paper/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text or json")
	rootCmd.PersistentFlags().BoolVar(&pauseOnExit, "pause-on-exit", false, "wait for Enter before exiting on error")
	rootCmd.PersistentFlags().StringVar(&sessionFile, "session", "", "session file shared between steps (default paper-session.yaml)")
	rootCmd.PersistentFlags().String("image", "", "firmware image path (default image.img)")

	_ = viper.BindPFlag("session.file", rootCmd.PersistentFlags().Lookup("session"))
	_ = viper.BindPFlag("server.image", rootCmd.PersistentFlags().Lookup("image"))
}

func initConfig() {
	logger.Configure(os.Stderr, logFormat, verbose)

	if err := config.Setup(viper.GetViper(), cfgFile); err != nil {
		cobra.CheckErr(err)
	}
	if used := viper.ConfigFileUsed(); used != "" {
		logger.Debug("Using config file", "path", used)
	}
}
