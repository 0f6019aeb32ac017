// Package privilege checks whether the process can open capture devices
// and edit the hosts file.
package privilege

import (
	"errors"

	"github.com/endorses/paper/internal/pkg/logger"
)

var (
	// ErrNotElevated means the process lacks administrator rights
	ErrNotElevated = errors.New("administrator privileges are required")
	// ErrRelaunched means an elevated copy of the process was started and
	// this one should exit
	ErrRelaunched = errors.New("relaunched with elevated privileges")
)

// Confirmer asks the operator a yes/no question.
type Confirmer func(question string) bool

// isElevated is replaced in tests.
var isElevated = IsElevated

// relaunch is replaced in tests.
var relaunch = Relaunch

// Require returns nil when the process is elevated. Otherwise, if confirm
// approves, it relaunches the process elevated where the platform allows
// and returns ErrRelaunched. A refusal, or a platform without relaunch
// support, returns ErrNotElevated.
func Require(confirm Confirmer) error {
	logger.Debug("Checking administrator privileges")
	if isElevated() {
		logger.Debug("Already running with administrator privileges")
		return nil
	}
	if confirm == nil || !confirm("Administrator privileges are required. Relaunch elevated?") {
		return ErrNotElevated
	}
	if err := relaunch(); err != nil {
		return err
	}
	return ErrRelaunched
}
