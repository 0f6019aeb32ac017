package patch

import (
	"github.com/endorses/paper/internal/pkg/cmdutil"
	"github.com/endorses/paper/internal/pkg/workflow"
	"github.com/spf13/cobra"
)

var PatchCmd = &cobra.Command{
	Use:   "patch",
	Short: "Replace the adb password hash in the firmware image",
	Long: `Locate the single adb password hash marker in the firmware image and
overwrite it with the hash of a new password. The image length and every
other byte are preserved. When the session holds a descriptor it is
rewritten for the patched image.

Example:
  paper patch
  paper patch --image update.img --password s3cret
  paper patch --scan`,
	RunE: runPatch,
}

var (
	password string
	scan     bool
)

var bindings = map[string]string{
	"patch.atomic":     "atomic",
	"patch.block_size": "block-size",
}

func init() {
	PatchCmd.Flags().StringVarP(&password, "password", "p", "", "new adb password (prompted when empty)")
	PatchCmd.Flags().BoolVar(&scan, "scan", false, "list every marker and exit without changing the image")
	PatchCmd.Flags().Bool("atomic", false, "patch a copy and rename it over the image")
	PatchCmd.Flags().String("block-size", "", "scan block size, e.g. 1M")

	PatchCmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		return cmdutil.BindFlags(cmd.Flags(), bindings)
	}
}

func runPatch(cmd *cobra.Command, args []string) error {
	r, err := workflow.Open()
	if err != nil {
		return err
	}
	image := r.Config.Server.Image

	if scan {
		matches, err := r.Config.Patcher().Locator.FindFile(image)
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			r.Console.Warn("No password hash marker found in %s", image)
			return nil
		}
		for _, m := range matches {
			r.Console.Info("%s marker at offset %d", m.Kind(), m.Offset)
		}
		return nil
	}

	res, err := r.Patch(password)
	if err != nil {
		return err
	}
	r.Console.Info("Old hash: %s", res.OldHash)
	r.Console.Info("New hash: %s", res.NewHash)

	if r.State.Descriptor == "" {
		return nil
	}
	if _, err := r.Rewrite(); err != nil {
		return err
	}
	r.Console.Success("Descriptor updated for %s", r.Config.ImageURL())
	return nil
}
