// Package run executes the external system tools the pipeline orchestrates.
// Every privileged operation (bootstrap, partitioning, mounting, chroot) goes
// through a run.Func so tests can substitute a fake and the sudo handling
// lives in one place.
package run

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Func runs argv synchronously and returns its combined output. The pipeline
// is strictly sequential; a Func never returns before the tool exits.
type Func func(ctx context.Context, argv ...string) ([]byte, error)

// Host returns a Func that executes commands on the build host. When the
// process is not running as root, commands are prefixed with sudo, matching
// how the build tools are normally invoked from a developer checkout.
func Host() Func {
	return func(ctx context.Context, argv ...string) ([]byte, error) {
		if len(argv) == 0 {
			return nil, errors.New("run: empty command")
		}
		argv = elevate(argv)

		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		output, err := cmd.CombinedOutput()
		if err != nil {
			return output, fmt.Errorf("%s: %w: %s", argv[0], err, lastLine(output))
		}
		return output, nil
	}
}

func elevate(argv []string) []string {
	if os.Geteuid() == 0 {
		return argv
	}
	return append([]string{"sudo"}, argv...)
}

func lastLine(output []byte) string {
	trimmed := strings.TrimSpace(string(output))
	if trimmed == "" {
		return "(no output)"
	}
	if idx := strings.LastIndexByte(trimmed, '\n'); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	return trimmed
}
