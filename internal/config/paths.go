package config

import (
	"os"
	"path/filepath"
)

// Paths locates the fixed project directories relative to the project root.
// The layout mirrors the repository checkout: configuration at the top,
// profiles/<name>/ for per-device bundles, and work/output/cache/tmp as
// scratch and artifact space.
type Paths struct {
	Root string
}

// NewPaths returns the path set for the given project root. An empty root
// resolves to the current working directory.
func NewPaths(root string) Paths {
	if root == "" {
		root = "."
	}
	return Paths{Root: root}
}

func (p Paths) BaseConfig() string  { return filepath.Join(p.Root, "base-config.toml") }
func (p Paths) ProfilesDir() string { return filepath.Join(p.Root, "profiles") }
func (p Paths) WorkDir() string     { return filepath.Join(p.Root, "work") }
func (p Paths) OutputDir() string   { return filepath.Join(p.Root, "output") }
func (p Paths) CacheDir() string    { return filepath.Join(p.Root, "cache") }
func (p Paths) TmpDir() string      { return filepath.Join(p.Root, "tmp") }

// RootfsDir is the tree populated by the bootstrap stage.
func (p Paths) RootfsDir() string { return filepath.Join(p.WorkDir(), "rootfs") }

// MountDir is where the image's root partition is mounted during assembly.
func (p Paths) MountDir() string { return filepath.Join(p.WorkDir(), "mnt") }

// StagedFilesDir holds the profile overlay staged by the configure stage.
func (p Paths) StagedFilesDir() string { return filepath.Join(p.WorkDir(), "files") }

func (p Paths) ProfileDir(name string) string { return filepath.Join(p.ProfilesDir(), name) }

func (p Paths) ProfileConfig(name string) string {
	return filepath.Join(p.ProfileDir(name), "profile-config.toml")
}

func (p Paths) ProfileFilesDir(name string) string {
	return filepath.Join(p.ProfileDir(name), "files")
}

func (p Paths) ProfileSystemdDir(name string) string {
	return filepath.Join(p.ProfileDir(name), "systemd")
}

func (p Paths) ProfileNetworkDir(name string) string {
	return filepath.Join(p.ProfileDir(name), "network")
}

// AptCacheDir is the optional local package cache consumed by the bootstrap.
func (p Paths) AptCacheDir(arch string) string {
	return filepath.Join(p.CacheDir(), "apt-cache-"+arch)
}

// EnsureDirectories creates the scratch and artifact directories.
func (p Paths) EnsureDirectories() error {
	for _, dir := range []string{p.WorkDir(), p.OutputDir(), p.CacheDir(), p.TmpDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// ListProfiles returns the names of profiles that carry a profile-config.toml,
// sorted lexically. Used for operator-facing usage output.
func (p Paths) ListProfiles() ([]string, error) {
	entries, err := os.ReadDir(p.ProfilesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(p.ProfileConfig(entry.Name())); err == nil {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}
