package capture

import (
	"fmt"
	"strings"

	"github.com/endorses/paper/internal/pkg/constants"
)

// FilterConfig holds filter configuration.
type FilterConfig struct {
	Ports      []int  // TCP ports to capture
	BaseFilter string // User-provided additional filter
}

// BuildFilter constructs the BPF expression installed before capturing.
// With no ports configured it restricts to TCP port 80.
func BuildFilter(config FilterConfig) string {
	ports := config.Ports
	if len(ports) == 0 {
		ports = []int{constants.HTTPPort}
	}

	portParts := make([]string, len(ports))
	for i, port := range ports {
		portParts[i] = fmt.Sprintf("port %d", port)
	}
	parts := []string{fmt.Sprintf("tcp and (%s)", strings.Join(portParts, " or "))}

	if config.BaseFilter != "" {
		parts = append(parts, fmt.Sprintf("(%s)", config.BaseFilter))
	}
	return strings.Join(parts, " and ")
}
