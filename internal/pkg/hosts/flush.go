package hosts

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/endorses/paper/internal/pkg/logger"
)

// flushCommands lists the resolver-cache flush commands per platform. Each
// command is tried in order; the first one found on PATH is run.
var flushCommands = map[string][][]string{
	"windows": {{"ipconfig", "/flushdns"}},
	"darwin":  {{"dscacheutil", "-flushcache"}},
	"linux": {
		{"resolvectl", "flush-caches"},
		{"systemd-resolve", "--flush-caches"},
	},
}

// FlushDNS clears the system resolver cache. Platforms without a known
// cache are a no-op.
func FlushDNS(ctx context.Context) error {
	for _, argv := range flushCommands[runtime.GOOS] {
		path, err := exec.LookPath(argv[0])
		if err != nil {
			if errors.Is(err, exec.ErrNotFound) {
				continue
			}
			return err
		}
		out, err := exec.CommandContext(ctx, path, argv[1:]...).CombinedOutput()
		if err != nil {
			return fmt.Errorf("%s: %w: %s", strings.Join(argv, " "), err, strings.TrimSpace(string(out)))
		}
		logger.Debug("DNS cache flushed", "command", strings.Join(argv, " "))
		return nil
	}
	logger.Debug("No DNS cache flush command available", "os", runtime.GOOS)
	return nil
}
