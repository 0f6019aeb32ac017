//go:build windows

package privilege

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/endorses/paper/internal/pkg/logger"
	"golang.org/x/sys/windows"
)

// IsElevated reports whether the process token is elevated.
func IsElevated() bool {
	return windows.GetCurrentProcessToken().IsElevated()
}

// Relaunch starts this executable again through the UAC "runas" verb with
// the same arguments.
func Relaunch() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get module name: %w", err)
	}
	args := make([]string, 0, len(os.Args)-1)
	for _, a := range os.Args[1:] {
		args = append(args, syscall.EscapeArg(a))
	}
	cwd, _ := os.Getwd()

	verb, _ := windows.UTF16PtrFromString("runas")
	file, err := windows.UTF16PtrFromString(exe)
	if err != nil {
		return err
	}
	params, err := windows.UTF16PtrFromString(strings.Join(args, " "))
	if err != nil {
		return err
	}
	dir, err := windows.UTF16PtrFromString(cwd)
	if err != nil {
		return err
	}

	logger.Debug("Attempting elevation", "exe", exe)
	if err := windows.ShellExecute(0, verb, file, params, dir, windows.SW_SHOWNORMAL); err != nil {
		return fmt.Errorf("failed to elevate privileges: %w", err)
	}
	return nil
}
