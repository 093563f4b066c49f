// Package chroot provides the single privileged capability the pipeline needs
// from the host: run a command inside a filesystem tree as its root user,
// synchronously, returning exit status and captured output. The rootfs
// configurator and the bootloader installer share this one implementation.
package chroot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fry-foundation/fry-iot-builder/internal/logging"
	"github.com/fry-foundation/fry-iot-builder/internal/run"
)

// Executor enters a filesystem tree and runs commands as its root.
type Executor struct {
	Logger *slog.Logger
	Run    run.Func
}

// Exec runs argv inside tree. The first failure is propagated; there is no
// retry. Output is returned for diagnostics on both success and failure.
func (e *Executor) Exec(ctx context.Context, tree string, argv ...string) ([]byte, error) {
	if tree == "" {
		return nil, fmt.Errorf("chroot: target tree is required")
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("chroot: command is required")
	}

	logger := logging.Ensure(e.Logger)
	logger.Info("entering tree", "tree", tree, "command", strings.Join(argv, " "))

	full := append([]string{"chroot", tree}, argv...)
	output, err := e.run()(ctx, full...)
	if err != nil {
		return output, fmt.Errorf("chroot %s: %w", strings.Join(argv, " "), err)
	}
	return output, nil
}

func (e *Executor) run() run.Func {
	if e.Run != nil {
		return e.Run
	}
	return run.Host()
}
