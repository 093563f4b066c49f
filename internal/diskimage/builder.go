// Package diskimage turns a configured rootfs tree into a partitioned,
// bootable disk image. The assembly is a strict state machine: allocate,
// partition, attach, format, mount, populate, bootloader, fstab, detach.
// From the attach step onward the build holds host resources (a loop device,
// then mounts) that must be released before the stage returns, success or
// failure.
package diskimage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"github.com/fry-foundation/fry-iot-builder/internal/chroot"
	"github.com/fry-foundation/fry-iot-builder/internal/config"
	"github.com/fry-foundation/fry-iot-builder/internal/logging"
	"github.com/fry-foundation/fry-iot-builder/internal/run"
)

// Builder assembles the disk image for one build invocation. It assumes
// exclusive ownership of the image path and mount point; concurrent builds
// must use distinct working directories.
type Builder struct {
	Logger *slog.Logger
	Run    run.Func
	Chroot *chroot.Executor
	Paths  config.Paths
}

// Result describes the finished image.
type Result struct {
	ImagePath string
	SizeBytes int64
	RootUUID  string
	EFIUUID   string
}

// Build runs the full state machine and returns the finished image. Whatever
// step fails, every mount and the loop device acquired by this invocation are
// released before the error propagates; cleanup failures are logged as
// warnings and never mask the primary outcome.
func (b *Builder) Build(ctx context.Context, cfg *config.BuildConfig, rootfsDir string) (*Result, error) {
	logger := logging.Ensure(b.Logger).With("profile", cfg.Profile)
	runner := b.runner()

	size, err := cfg.SizeBytes()
	if err != nil {
		return nil, &StageError{Stage: StageAllocate, Err: err}
	}
	imagePath := filepath.Join(b.Paths.OutputDir(), cfg.ImageName())

	logger.Info("allocating image file", "path", imagePath, "size", humanize.IBytes(uint64(size)))
	if err := allocate(imagePath, size); err != nil {
		return nil, &StageError{Stage: StageAllocate, Err: err}
	}

	logger.Info("writing partition table", "path", imagePath)
	if _, err := runner(ctx, "parted", "-s", imagePath,
		"mklabel", "gpt",
		"mkpart", "EFI", "fat32", "1MiB", "257MiB",
		"set", "1", "esp", "on",
		"mkpart", "root", "ext4", "257MiB", "100%"); err != nil {
		return nil, &StageError{Stage: StagePartition, Err: err}
	}

	logger.Info("attaching loop device", "path", imagePath)
	output, err := runner(ctx, "losetup", "-fP", "--show", imagePath)
	if err != nil {
		return nil, &StageError{Stage: StageAttach, Err: err}
	}
	loopDevice := strings.TrimSpace(string(output))
	if loopDevice == "" {
		return nil, stageErr(StageAttach, "losetup reported no device for %s", imagePath)
	}
	logger.Info("loop device attached", "device", loopDevice)

	cleanup := &cleanupStack{logger: logger}
	cleanup.push("loop device "+loopDevice, func(ctx context.Context) error {
		_, err := runner(ctx, "losetup", "-d", loopDevice)
		return err
	})

	result, err := b.assemble(ctx, cfg, rootfsDir, loopDevice, cleanup, logger)

	// Detach always runs, exactly once, and its failures are reported but
	// never override the assembly outcome. The unwind context must survive
	// cancellation of the build context, or an interrupt mid-assembly would
	// leak the mounts and the loop device.
	if cleanupErr := cleanup.unwind(context.WithoutCancel(ctx)); cleanupErr != nil {
		logger.Warn("image cleanup incomplete", "error", cleanupErr)
	}
	if err != nil {
		return nil, err
	}

	result.ImagePath = imagePath
	result.SizeBytes = size
	logger.Info("disk image complete", "path", imagePath)
	return result, nil
}

// assemble covers the resource-holding steps (format through fstab). It only
// registers resources on the cleanup stack; the caller owns the unwind.
func (b *Builder) assemble(ctx context.Context, cfg *config.BuildConfig, rootfsDir, loopDevice string, cleanup *cleanupStack, logger *slog.Logger) (*Result, error) {
	runner := b.runner()
	efiPartition := loopDevice + "p1"
	rootPartition := loopDevice + "p2"

	logger.Info("formatting partitions", "efi", efiPartition, "root", rootPartition)
	if _, err := runner(ctx, "mkfs.fat", "-F32", efiPartition); err != nil {
		return nil, &StageError{Stage: StageFormat, Err: err}
	}
	if _, err := runner(ctx, "mkfs.ext4", "-L", "fry-root", rootPartition); err != nil {
		return nil, &StageError{Stage: StageFormat, Err: err}
	}

	mountPoint := b.Paths.MountDir()
	if err := os.MkdirAll(mountPoint, 0o755); err != nil {
		return nil, stageErr(StageMount, "create mount point: %w", err)
	}

	// Root first: the EFI partition mounts into a directory that must
	// already exist inside the root mount.
	logger.Info("mounting root partition", "device", rootPartition, "target", mountPoint)
	if _, err := runner(ctx, "mount", rootPartition, mountPoint); err != nil {
		return nil, &StageError{Stage: StageMount, Err: err}
	}
	cleanup.push("root mount "+mountPoint, func(ctx context.Context) error {
		_, err := runner(ctx, "umount", mountPoint)
		return err
	})

	efiMount := filepath.Join(mountPoint, "boot", "efi")
	if _, err := runner(ctx, "mkdir", "-p", efiMount); err != nil {
		return nil, stageErr(StageMount, "create efi mount point: %w", err)
	}
	logger.Info("mounting efi partition", "device", efiPartition, "target", efiMount)
	if _, err := runner(ctx, "mount", efiPartition, efiMount); err != nil {
		return nil, &StageError{Stage: StageMount, Err: err}
	}
	cleanup.push("efi mount "+efiMount, func(ctx context.Context) error {
		_, err := runner(ctx, "umount", efiMount)
		return err
	})

	logger.Info("copying rootfs into image", "source", rootfsDir)
	if _, err := runner(ctx, "rsync", "-aHAX", rootfsDir+"/", mountPoint+"/"); err != nil {
		return nil, &StageError{Stage: StagePopulate, Err: err}
	}

	if err := b.installBootloader(ctx, cfg, mountPoint, logger); err != nil {
		return nil, &StageError{Stage: StageBootloader, Err: err}
	}

	logger.Info("generating fstab")
	rootUUID, err := filesystemUUID(ctx, runner, rootPartition)
	if err != nil {
		return nil, &StageError{Stage: StageFstab, Err: err}
	}
	efiUUID, err := filesystemUUID(ctx, runner, efiPartition)
	if err != nil {
		return nil, &StageError{Stage: StageFstab, Err: err}
	}
	if err := b.writeFstab(ctx, mountPoint, rootUUID, efiUUID); err != nil {
		return nil, &StageError{Stage: StageFstab, Err: err}
	}

	return &Result{RootUUID: rootUUID, EFIUUID: efiUUID}, nil
}

// installBootloader installs grub in EFI mode for amd64 images. Architectures
// without a defined bootloader step produce no-op builds that boot via
// firmware-specific mechanisms flashed separately.
func (b *Builder) installBootloader(ctx context.Context, cfg *config.BuildConfig, mountPoint string, logger *slog.Logger) error {
	if cfg.Architecture != "amd64" {
		logger.Info("no bootloader step for architecture", "arch", cfg.Architecture)
		return nil
	}

	logger.Info("installing bootloader", "target", "x86_64-efi")
	if _, err := b.Chroot.Exec(ctx, mountPoint, "apt-get", "install", "-y", "grub-efi-amd64"); err != nil {
		return err
	}

	// EFI variables are unavailable inside a chroot; grub-install reports
	// that as an error even when the removable-path install succeeded.
	if output, err := b.Chroot.Exec(ctx, mountPoint,
		"grub-install", "--target=x86_64-efi", "--efi-directory=/boot/efi",
		"--bootloader-id=fry-iot", "--removable"); err != nil {
		logger.Warn("grub-install reported errors", "error", err, "output", strings.TrimSpace(string(output)))
	}

	if _, err := b.Chroot.Exec(ctx, mountPoint, "update-grub"); err != nil {
		return err
	}
	return nil
}

// writeFstab stages the fstab in tmp and copies it into the (root-owned)
// mounted tree.
func (b *Builder) writeFstab(ctx context.Context, mountPoint, rootUUID, efiUUID string) error {
	if err := os.MkdirAll(b.Paths.TmpDir(), 0o755); err != nil {
		return err
	}
	staged := filepath.Join(b.Paths.TmpDir(), "fstab")
	if err := os.WriteFile(staged, []byte(renderFstab(rootUUID, efiUUID)), 0o644); err != nil {
		return err
	}
	defer os.Remove(staged)

	_, err := b.runner()(ctx, "cp", staged, filepath.Join(mountPoint, "etc", "fstab"))
	return err
}

// allocate creates the zero-filled image file. Preallocation keeps later
// writes from failing mid-assembly on a full disk; filesystems without
// fallocate support fall back to a sparse file.
func allocate(path string, size int64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	if err := unix.Fallocate(int(file.Fd()), 0, 0, size); err != nil {
		if !errors.Is(err, unix.EOPNOTSUPP) && !errors.Is(err, unix.ENOSYS) {
			file.Close()
			return fmt.Errorf("fallocate %s: %w", path, err)
		}
		if err := file.Truncate(size); err != nil {
			file.Close()
			return fmt.Errorf("truncate %s: %w", path, err)
		}
	}
	return file.Close()
}

func (b *Builder) runner() run.Func {
	if b.Run != nil {
		return b.Run
	}
	return run.Host()
}
