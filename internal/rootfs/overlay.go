package rootfs

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/fry-foundation/fry-iot-builder/internal/config"
)

// ApplyProfileOverlay layers the profile's file tree over the rootfs and
// installs its systemd unit and network definition files. Overlay files
// silently replace anything generated earlier: profile intent wins.
func ApplyProfileOverlay(paths config.Paths, profile, tree string) error {
	if filesDir := paths.ProfileFilesDir(profile); dirExists(filesDir) {
		if err := CopyTree(filesDir, tree); err != nil {
			return fmt.Errorf("apply profile files: %w", err)
		}
	}

	if systemdDir := paths.ProfileSystemdDir(profile); dirExists(systemdDir) {
		target := filepath.Join(tree, "etc/systemd/system")
		if err := copyMatching(systemdDir, target, ".service", ".timer"); err != nil {
			return fmt.Errorf("apply profile units: %w", err)
		}
	}

	if networkDir := paths.ProfileNetworkDir(profile); dirExists(networkDir) {
		target := filepath.Join(tree, "etc/systemd/network")
		if err := copyMatching(networkDir, target, ".network"); err != nil {
			return fmt.Errorf("apply profile network configs: %w", err)
		}
	}

	return nil
}

// CopyTree mirrors srcDir into dstDir, preserving permissions, symlinks and
// (when running as root) ownership. Existing destination files are replaced.
func CopyTree(srcDir, dstDir string) error {
	return filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dstDir, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		mode := info.Mode()

		switch {
		case d.IsDir():
			if rel == "." {
				return os.MkdirAll(dstDir, mode.Perm())
			}
			if err := os.MkdirAll(target, mode.Perm()); err != nil {
				return err
			}
		case mode&os.ModeSymlink != 0:
			dest, err := os.Readlink(path)
			if err != nil {
				return err
			}
			if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
				return err
			}
			if err := os.Symlink(dest, target); err != nil {
				return err
			}
		case mode.IsRegular():
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := copyFile(path, target, mode.Perm()); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported file type %s in overlay (%s)", mode, path)
		}

		return preserveOwner(info, target)
	})
}

// preserveOwner carries uid/gid across when the process can. Overlay copies
// from an unprivileged checkout fall back to the current user silently.
func preserveOwner(info fs.FileInfo, target string) error {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok || os.Geteuid() != 0 {
		return nil
	}
	if err := unix.Lchown(target, int(stat.Uid), int(stat.Gid)); err != nil {
		return fmt.Errorf("chown %s: %w", target, err)
	}
	return nil
}

func copyMatching(srcDir, dstDir string, extensions ...string) error {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || !hasExtension(entry.Name(), extensions) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		src := filepath.Join(srcDir, entry.Name())
		if err := copyFile(src, filepath.Join(dstDir, entry.Name()), info.Mode().Perm()); err != nil {
			return err
		}
	}
	return nil
}

func hasExtension(name string, extensions []string) bool {
	for _, ext := range extensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
