// Package rootfs materializes and configures the directory tree that becomes
// a device's root filesystem. Package installation is delegated to mmdebstrap;
// this package constructs the invocation and writes identity, network and
// service definitions into the resulting tree.
package rootfs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/fry-foundation/fry-iot-builder/internal/config"
	"github.com/fry-foundation/fry-iot-builder/internal/logging"
	"github.com/fry-foundation/fry-iot-builder/internal/run"
)

// Builder produces a populated rootfs tree for a resolved build configuration.
type Builder struct {
	Logger *slog.Logger
	Run    run.Func
	Paths  config.Paths
}

// Build runs the bootstrap for cfg and returns the rootfs path. Any existing
// tree at the target is removed first; every invocation is a clean build.
func (b *Builder) Build(ctx context.Context, cfg *config.BuildConfig) (string, error) {
	logger := logging.Ensure(b.Logger).With("arch", cfg.Architecture, "suite", cfg.Suite)
	target := b.Paths.RootfsDir()
	runner := b.runner()

	if _, err := os.Stat(target); err == nil {
		logger.Info("cleaning previous rootfs", "path", target)
		// The tree contains root-owned files; plain os.RemoveAll cannot
		// delete it from an unprivileged process.
		if _, err := runner(ctx, "rm", "-rf", target); err != nil {
			return "", fmt.Errorf("clean previous rootfs: %w", err)
		}
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return "", fmt.Errorf("create rootfs directory: %w", err)
	}

	argv := b.bootstrapCommand(cfg, target)
	logger.Info("running bootstrap", "packages", len(cfg.Packages), "command", strings.Join(argv, " "))

	if _, err := runner(ctx, argv...); err != nil {
		return "", &BootstrapError{Arch: cfg.Architecture, Suite: cfg.Suite, Err: err}
	}

	logger.Info("rootfs build complete", "path", target)
	return target, nil
}

func (b *Builder) bootstrapCommand(cfg *config.BuildConfig, target string) []string {
	argv := []string{
		"mmdebstrap",
		"--arch", cfg.Architecture,
		"--variant=minbase",
		"--include=" + strings.Join(cfg.Packages, ","),
		"--components=" + strings.Join(cfg.Components, ","),
	}

	// Foreign architectures are installed through qemu binfmt emulation.
	if cfg.Architecture != "amd64" {
		argv = append(argv, "--architectures="+cfg.Architecture)
	}

	if cache := b.Paths.AptCacheDir(cfg.Architecture); dirExists(cache) {
		argv = append(argv, fmt.Sprintf("--aptopt=Dir::Cache::archives %q", cache))
	}

	return append(argv, cfg.Suite, target, cfg.Mirror)
}

func (b *Builder) runner() run.Func {
	if b.Run != nil {
		return b.Run
	}
	return run.Host()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
