package hash

import (
	"fmt"
	"strconv"

	"github.com/endorses/paper/internal/pkg/digest"
	"github.com/endorses/paper/internal/pkg/hashpatch"
	"github.com/spf13/cobra"
)

// HashCmd groups the digest helpers.
var HashCmd = &cobra.Command{
	Use:   "hash",
	Short: "Compute password hashes and file checksums",
	Long: `Compute the digests paper writes into images and descriptors.

Subcommands:
  md5      - MD5 of a password as stored in an MD5 marker (password + newline)
  sha256   - SHA-256 of a password as stored in a SHA-256 marker
  sha1     - SHA-1 of a file
  segment  - MD5 of a byte range [start, end) of a file

Examples:
  paper hash md5 s3cret
  paper hash sha1 image.img
  paper hash segment image.img 0 1048576`,
}

var md5Cmd = &cobra.Command{
	Use:   "md5 <password|file>",
	Short: "MD5 of a password, or of a file with --file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if fileMode {
			sum, err := digest.MD5File(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sum)
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), hashpatch.HashFor(args[0], hashpatch.MD5Length))
		return nil
	},
}

var sha256Cmd = &cobra.Command{
	Use:   "sha256 <password>",
	Short: "SHA-256 of a password",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), hashpatch.HashFor(args[0], hashpatch.SHA256Length))
	},
}

var sha1Cmd = &cobra.Command{
	Use:   "sha1 <file>",
	Short: "SHA-1 of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sum, err := digest.SHA1File(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), sum)
		return nil
	},
}

var segmentCmd = &cobra.Command{
	Use:   "segment <file> <start> <end>",
	Short: "MD5 of bytes [start, end) of a file",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		start, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid start: %w", err)
		}
		end, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid end: %w", err)
		}
		sum, err := digest.MD5FileSegment(args[0], start, end)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), sum)
		return nil
	},
}

var fileMode bool

func init() {
	md5Cmd.Flags().BoolVarP(&fileMode, "file", "f", false, "hash the named file instead of a password")

	HashCmd.AddCommand(md5Cmd)
	HashCmd.AddCommand(sha256Cmd)
	HashCmd.AddCommand(sha1Cmd)
	HashCmd.AddCommand(segmentCmd)
}
