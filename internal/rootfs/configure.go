package rootfs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fry-foundation/fry-iot-builder/internal/chroot"
	"github.com/fry-foundation/fry-iot-builder/internal/config"
	"github.com/fry-foundation/fry-iot-builder/internal/logging"
)

// DeviceMetadata is the device descriptor written into the image for
// downstream tooling.
type DeviceMetadata struct {
	Name         string `json:"name"`
	Brand        string `json:"brand"`
	Model        string `json:"model"`
	Version      string `json:"version"`
	Architecture string `json:"architecture"`
	BuildDate    string `json:"build_date"`
}

const asciiLogo = `
  ______              _____    _______
 |  ____|            |_   _|  |__   __|
 | |__ _ __ _   _      | |  ___  | |
 |  __| '__| | | |     | | / _ \ | |
 | |  | |  | |_| |    _| || (_) || |
 |_|  |_|   \__, |   |_____\___/ |_|
             __/ |
            |___/
`

// Configurator writes identity and service-definition files into a rootfs
// tree. All writes are deterministic for a fixed configuration and clock.
type Configurator struct {
	Logger *slog.Logger
	Chroot *chroot.Executor

	// Now stamps device metadata; tests pin it for determinism.
	Now func() time.Time
}

// Apply performs the full configuration pass over tree: identity files, APT
// sources, user accounts, base service enablement, network definitions, fry
// services and finally the profile overlay. Profile files win on collision,
// which is why the overlay runs last.
func (c *Configurator) Apply(ctx context.Context, cfg *config.BuildConfig, paths config.Paths, tree string) error {
	logger := logging.Ensure(c.Logger)

	logger.Info("writing identity files", "hostname", cfg.Hostname)
	if err := c.WriteIdentity(cfg, tree); err != nil {
		return err
	}
	if err := c.WriteAptSources(cfg, tree); err != nil {
		return err
	}

	logger.Info("configuring users")
	if err := c.SetupUsers(ctx, cfg, tree); err != nil {
		return err
	}

	logger.Info("enabling base services")
	c.EnableBaseServices(ctx, tree)

	logger.Info("writing network configuration")
	if err := WriteNetworkConfigs(cfg, tree); err != nil {
		return err
	}

	logger.Info("writing fry services")
	if err := WriteFryServices(cfg, tree); err != nil {
		return err
	}

	logger.Info("applying profile overlay", "profile", cfg.Profile)
	return ApplyProfileOverlay(paths, cfg.Profile, tree)
}

// WriteIdentity writes hostname, hosts, os-release, device metadata and the
// login banner.
func (c *Configurator) WriteIdentity(cfg *config.BuildConfig, tree string) error {
	if err := writeFile(filepath.Join(tree, "etc/hostname"), cfg.Hostname+"\n", 0o644); err != nil {
		return err
	}

	hosts := fmt.Sprintf(`127.0.0.1   localhost
127.0.1.1   %s

# IPv6
::1         localhost ip6-localhost ip6-loopback
ff02::1     ip6-allnodes
ff02::2     ip6-allrouters
`, cfg.Hostname)
	if err := writeFile(filepath.Join(tree, "etc/hosts"), hosts, 0o644); err != nil {
		return err
	}

	osRelease := fmt.Sprintf(`PRETTY_NAME="Fry IoT %[1]s (%[2]s)"
NAME="Fry IoT"
VERSION_ID="%[1]s"
VERSION="%[1]s (%[2]s)"
VERSION_CODENAME="%[3]s"
ID=fry-iot
ID_LIKE=debian
HOME_URL="https://fry.network/"
SUPPORT_URL="https://github.com/Fry-Foundation/fry-iot/issues"
BUG_REPORT_URL="https://github.com/Fry-Foundation/fry-iot/issues"
`, cfg.OSVersion, cfg.Codename, strings.ToLower(cfg.Codename))
	if err := writeFile(filepath.Join(tree, "etc/os-release"), osRelease, 0o644); err != nil {
		return err
	}

	metadata := DeviceMetadata{
		Name:         cfg.Codename,
		Brand:        cfg.Brand,
		Model:        cfg.Model,
		Version:      cfg.OSVersion,
		Architecture: cfg.Architecture,
		BuildDate:    c.now().UTC().Format(time.RFC3339),
	}
	encoded, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("encode device metadata: %w", err)
	}
	if err := writeFile(filepath.Join(tree, "etc/fry-iot/device.json"), string(encoded)+"\n", 0o644); err != nil {
		return err
	}

	return writeFile(filepath.Join(tree, "etc/motd"), Banner(cfg), 0o644)
}

// Banner renders the MOTD for the build.
func Banner(cfg *config.BuildConfig) string {
	return fmt.Sprintf(`%s
 Fry IoT v%s - %s (%s)
 Debian 13 (Trixie) based Linux for IoT devices

 Contribute to Fry Networks: https://fry.network/
 Documentation: https://docs.fry.network/

`, asciiLogo, cfg.OSVersion, cfg.Codename, cfg.Architecture)
}

// WriteAptSources writes the Debian sources.list and the vendor repository
// drop-in.
func (c *Configurator) WriteAptSources(cfg *config.BuildConfig, tree string) error {
	if err := writeFile(filepath.Join(tree, "etc/apt/sources.list"), aptSources(cfg), 0o644); err != nil {
		return err
	}
	return writeFile(filepath.Join(tree, "etc/apt/sources.list.d/fry.list"), frySources(cfg), 0o644)
}

// WriteAptSourcesPreview writes the same sources files as flat files into dir
// for inspection before a build.
func (c *Configurator) WriteAptSourcesPreview(cfg *config.BuildConfig, dir string) error {
	if err := writeFile(filepath.Join(dir, "sources.list"), aptSources(cfg), 0o644); err != nil {
		return err
	}
	return writeFile(filepath.Join(dir, "fry.list"), frySources(cfg), 0o644)
}

func aptSources(cfg *config.BuildConfig) string {
	components := strings.Join(cfg.Components, " ")
	return fmt.Sprintf(`# Fry IoT - Debian %[1]s sources
deb %[2]s %[1]s %[3]s
deb %[2]s %[1]s-updates %[3]s
deb %[4]s %[1]s-security %[3]s
`, cfg.Suite, cfg.Mirror, components, cfg.SecurityMirror)
}

func frySources(cfg *config.BuildConfig) string {
	return fmt.Sprintf(`# Fry Networks Repository
deb [signed-by=/usr/share/keyrings/fry-archive-keyring.gpg] https://apt.fry.network/debian %s main
`, cfg.Suite)
}

// EnableBaseServices enables the stock networking and SSH units inside the
// tree. Failures are logged and ignored: not every profile ships every
// service, and enablement is retried on first boot.
func (c *Configurator) EnableBaseServices(ctx context.Context, tree string) {
	logger := logging.Ensure(c.Logger)
	for _, service := range []string{"NetworkManager", "ssh", "systemd-networkd", "systemd-resolved"} {
		if _, err := c.Chroot.Exec(ctx, tree, "systemctl", "enable", service); err != nil {
			logger.Warn("service enablement skipped", "service", service, "error", err)
		}
	}
}

func (c *Configurator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func writeFile(path, content string, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
