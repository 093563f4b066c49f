// Package artifact handles post-build processing of finished images:
// compression, the SHA256SUMS checksum manifest, and the build manifest
// consumed by release tooling.
package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"

	"github.com/fry-foundation/fry-iot-builder/internal/config"
	"github.com/fry-foundation/fry-iot-builder/internal/logging"
	"github.com/fry-foundation/fry-iot-builder/internal/run"
)

// Compressor compresses finished disk images with an external compressor.
// The heavy lifting stays in the external tool; multi-threading is its
// concern, not ours.
type Compressor struct {
	Logger *slog.Logger
	Run    run.Func
	Paths  config.Paths
}

// CompressAll compresses every uncompressed image in the output directory and
// returns the resulting artifact paths in filename order. An unrecognized
// format passes images through uncompressed; validation catches the
// misconfiguration later instead of aborting the pipeline here.
func (c *Compressor) CompressAll(ctx context.Context, format string) ([]string, error) {
	images, err := filepath.Glob(filepath.Join(c.Paths.OutputDir(), "*.img"))
	if err != nil {
		return nil, err
	}
	sort.Strings(images)

	var artifacts []string
	for _, image := range images {
		artifact, err := c.Compress(ctx, image, format)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, nil
}

// Compress compresses a single file and returns the compressed path. An
// already existing compressed file is reused as is, so re-running the stage
// after a later failure does not redo the expensive work.
func (c *Compressor) Compress(ctx context.Context, path, format string) (string, error) {
	logger := logging.Ensure(c.Logger)

	var argv []string
	var target string
	switch format {
	case "xz":
		argv = []string{"xz", "-k", "-9", "-T0", path}
		target = path + ".xz"
	case "gz", "gzip":
		argv = []string{"gzip", "-k", "-9", path}
		target = path + ".gz"
	case "zstd":
		argv = []string{"zstd", "-k", "-19", "-T0", path}
		target = path + ".zst"
	default:
		logger.Warn("unknown compression format, keeping image uncompressed", "format", format)
		return path, nil
	}

	if _, err := os.Stat(target); err == nil {
		logger.Info("compressed file already exists", "path", target)
		return target, nil
	}

	original, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	logger.Info("compressing image",
		"path", path, "format", format, "size", humanize.IBytes(uint64(original.Size())))

	if _, err := c.runner()(ctx, argv...); err != nil {
		return "", fmt.Errorf("compress %s: %w", filepath.Base(path), err)
	}

	compressed, err := os.Stat(target)
	if err != nil {
		return "", fmt.Errorf("compress %s: no output at %s", filepath.Base(path), target)
	}
	logger.Info("compressed image written",
		"path", target,
		"size", humanize.IBytes(uint64(compressed.Size())),
		"ratio", fmt.Sprintf("%.1f%%", 100*(1-float64(compressed.Size())/float64(original.Size()))))
	return target, nil
}

func (c *Compressor) runner() run.Func {
	if c.Run != nil {
		return c.Run
	}
	return run.Host()
}
