package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const baseTOML = `
[general]
os_name = "fry-iot"
os_version = "1.2.0"

[debian]
suite = "trixie"
mirror = "https://deb.debian.org/debian"

[build]
compression = "zstd"

[packages]
core = ["systemd", "curl"]
iot = ["mosquitto"]

[fry]
api_endpoint = "https://api.fry.network"
bandwidth_mining = false
`

const profileTOML = `
[general]
codename = "Voyager"
brand = "Fry"
model = "FRY-RTR-01"

[build]
architecture = "aarch64"
flavor = "server"
image_size = "8G"

[packages]
include = ["nginx"]
exclude = ["curl"]

[network.ethernet]
interface = "eth0"
dhcp = false
address = "192.168.1.2/24"
gateway = "192.168.1.1"
`

func writeProject(t *testing.T) Paths {
	t.Helper()
	root := t.TempDir()

	if err := os.WriteFile(filepath.Join(root, "base-config.toml"), []byte(baseTOML), 0o644); err != nil {
		t.Fatalf("write base config: %v", err)
	}
	profileDir := filepath.Join(root, "profiles", "voyager")
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		t.Fatalf("create profile dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(profileDir, "profile-config.toml"), []byte(profileTOML), 0o644); err != nil {
		t.Fatalf("write profile config: %v", err)
	}
	return NewPaths(root)
}

func TestLoadAndResolveProject(t *testing.T) {
	paths := writeProject(t)

	base, err := LoadBase(paths)
	if err != nil {
		t.Fatalf("load base: %v", err)
	}
	profile, err := LoadProfile(paths, "voyager")
	if err != nil {
		t.Fatalf("load profile: %v", err)
	}

	cfg, err := Resolve(base, profile, "voyager")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if cfg.Codename != "Voyager" {
		t.Errorf("codename = %q", cfg.Codename)
	}
	if cfg.Architecture != "arm64" {
		t.Errorf("architecture = %q, want arm64", cfg.Architecture)
	}
	if cfg.Compression != "zstd" {
		t.Errorf("compression = %q, want zstd", cfg.Compression)
	}
	if cfg.ImageSize != "8G" {
		t.Errorf("image size = %q, want 8G", cfg.ImageSize)
	}
	if cfg.Fry.BandwidthMining {
		t.Error("bandwidth mining should be disabled by base config")
	}
	if cfg.Network.Ethernet.Address != "192.168.1.2/24" {
		t.Errorf("ethernet address = %q", cfg.Network.Ethernet.Address)
	}
	for _, pkg := range cfg.Packages {
		if pkg == "curl" {
			t.Error("excluded package curl present")
		}
	}
}

func TestLoadProfileNotFound(t *testing.T) {
	paths := writeProject(t)

	_, err := LoadProfile(paths, "missing")
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("error = %v, want NotFoundError", err)
	}
	if notFound.Profile != "missing" {
		t.Errorf("profile = %q", notFound.Profile)
	}
}

func TestLoadBaseParseError(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "base-config.toml"), []byte("[general\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := LoadBase(NewPaths(root))
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("error = %v, want ParseError", err)
	}
}

func TestListProfiles(t *testing.T) {
	paths := writeProject(t)

	// Directories without a profile config are not profiles.
	if err := os.MkdirAll(filepath.Join(paths.ProfilesDir(), "scratch"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	profiles, err := paths.ListProfiles()
	if err != nil {
		t.Fatalf("list profiles: %v", err)
	}
	if len(profiles) != 1 || profiles[0] != "voyager" {
		t.Errorf("profiles = %v, want [voyager]", profiles)
	}
}
