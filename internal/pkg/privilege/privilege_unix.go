//go:build !windows

package privilege

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// IsElevated reports whether the effective user is root.
func IsElevated() bool {
	return unix.Geteuid() == 0
}

// Relaunch is not supported; the operator has to re-run under sudo.
func Relaunch() error {
	return fmt.Errorf("%w: re-run with sudo", ErrNotElevated)
}
