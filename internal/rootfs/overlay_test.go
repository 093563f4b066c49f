package rootfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fry-foundation/fry-iot-builder/internal/config"
)

func writeProfileOverlay(t *testing.T, paths config.Paths, profile string) {
	t.Helper()

	filesDir := paths.ProfileFilesDir(profile)
	if err := os.MkdirAll(filepath.Join(filesDir, "etc/fry"), 0o755); err != nil {
		t.Fatalf("create overlay dirs: %v", err)
	}
	if err := os.WriteFile(filepath.Join(filesDir, "etc/fry/custom.conf"), []byte("custom=1\n"), 0o600); err != nil {
		t.Fatalf("write overlay file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(filesDir, "etc/motd"), []byte("profile motd\n"), 0o644); err != nil {
		t.Fatalf("write overlay motd: %v", err)
	}

	systemdDir := paths.ProfileSystemdDir(profile)
	if err := os.MkdirAll(systemdDir, 0o755); err != nil {
		t.Fatalf("create systemd dir: %v", err)
	}
	for name, content := range map[string]string{
		"router-metrics.service": "[Unit]\nDescription=metrics\n",
		"router-metrics.timer":   "[Timer]\nOnBootSec=1min\n",
		"README.md":              "not a unit\n",
	} {
		if err := os.WriteFile(filepath.Join(systemdDir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write unit %s: %v", name, err)
		}
	}

	networkDir := paths.ProfileNetworkDir(profile)
	if err := os.MkdirAll(networkDir, 0o755); err != nil {
		t.Fatalf("create network dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(networkDir, "30-wan.network"), []byte("[Match]\nName=wan0\n"), 0o644); err != nil {
		t.Fatalf("write network file: %v", err)
	}
}

func TestApplyProfileOverlay(t *testing.T) {
	paths := config.NewPaths(t.TempDir())
	writeProfileOverlay(t, paths, "router")

	tree := t.TempDir()
	// Pre-existing generated file; the profile copy must win.
	if err := writeFile(filepath.Join(tree, "etc/motd"), "generated motd\n", 0o644); err != nil {
		t.Fatalf("seed motd: %v", err)
	}

	if err := ApplyProfileOverlay(paths, "router", tree); err != nil {
		t.Fatalf("apply overlay: %v", err)
	}

	if got := readTreeFile(t, tree, "etc/fry/custom.conf"); got != "custom=1\n" {
		t.Errorf("custom.conf = %q", got)
	}
	if got := readTreeFile(t, tree, "etc/motd"); got != "profile motd\n" {
		t.Errorf("motd = %q, profile overlay should win", got)
	}

	info, err := os.Stat(filepath.Join(tree, "etc/fry/custom.conf"))
	if err != nil {
		t.Fatalf("stat copied file: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("copied file mode = %v, want source permissions preserved", info.Mode().Perm())
	}

	for _, unit := range []string{"router-metrics.service", "router-metrics.timer"} {
		if _, err := os.Stat(filepath.Join(tree, "etc/systemd/system", unit)); err != nil {
			t.Errorf("unit %s not installed: %v", unit, err)
		}
	}
	if _, err := os.Stat(filepath.Join(tree, "etc/systemd/system/README.md")); err == nil {
		t.Error("non-unit file installed into systemd directory")
	}

	if _, err := os.Stat(filepath.Join(tree, "etc/systemd/network/30-wan.network")); err != nil {
		t.Errorf("network config not installed: %v", err)
	}
}

func TestApplyProfileOverlayWithoutDirectoriesIsNoop(t *testing.T) {
	paths := config.NewPaths(t.TempDir())
	tree := t.TempDir()

	if err := ApplyProfileOverlay(paths, "bare", tree); err != nil {
		t.Fatalf("overlay of profile without files failed: %v", err)
	}
}

func TestCopyTreePreservesSymlinks(t *testing.T) {
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "target.conf"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write target: %v", err)
	}
	if err := os.Symlink("target.conf", filepath.Join(src, "link.conf")); err != nil {
		t.Fatalf("create symlink: %v", err)
	}

	dst := t.TempDir()
	if err := CopyTree(src, dst); err != nil {
		t.Fatalf("copy tree: %v", err)
	}

	dest, err := os.Readlink(filepath.Join(dst, "link.conf"))
	if err != nil {
		t.Fatalf("readlink: %v", err)
	}
	if dest != "target.conf" {
		t.Errorf("symlink dest = %q", dest)
	}
}
