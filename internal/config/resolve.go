package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Defaults applied when the configuration files leave fields unset. They match
// the values the device fleet has shipped with since 1.0.
const (
	DefaultSuite          = "trixie"
	DefaultMirror         = "https://deb.debian.org/debian"
	DefaultSecurityMirror = "https://deb.debian.org/debian-security"
	DefaultImageSize      = "4G"
	DefaultCompression    = "xz"
	DefaultRootPassword   = "fryiot"
	DefaultAPIEndpoint    = "https://api.fry.network"
	DefaultNodeType       = "router"
)

var defaultComponents = []string{"main", "contrib", "non-free", "non-free-firmware"}

// archMap normalizes colloquial architecture spellings to Debian architecture
// tags. Unrecognized names pass through unchanged.
var archMap = map[string]string{
	"x86_64":  "amd64",
	"amd64":   "amd64",
	"arm64":   "arm64",
	"aarch64": "arm64",
	"armhf":   "armhf",
	"arm":     "armhf",
	"mipsel":  "mipsel",
	"mips":    "mips",
}

var kernelMap = map[string]string{
	"amd64":  "linux-image-amd64",
	"arm64":  "linux-image-arm64",
	"armhf":  "linux-image-armmp",
	"mipsel": "linux-image-mipsel",
}

// BuildConfig is the effective configuration for one build invocation.
// Resolved once from the base and profile documents and treated as read-only
// by every stage.
type BuildConfig struct {
	OSName    string
	OSVersion string
	Codename  string
	Profile   string
	Brand     string
	Model     string

	Architecture   string
	Suite          string
	Mirror         string
	SecurityMirror string
	Components     []string

	KernelPackage string
	Packages      []string
	Flavor        string

	ImageSize   string
	Compression string

	Hostname     string
	RootPassword string

	Fry     FryConfig
	Network NetworkSection
	Hostapd HostapdSection
	Dnsmasq DnsmasqSection
}

// FryConfig carries the vendor-integration settings baked into the image.
type FryConfig struct {
	APIEndpoint     string
	BandwidthMining bool
	NodeType        string
}

// Resolve merges the base and profile documents into a BuildConfig for the
// named profile. The package-list merge order is a contract: core, iot,
// profile include, kernel, flavor group; excludes applied afterwards; then
// first-occurrence deduplication. Two resolutions of the same inputs yield
// identical lists.
func Resolve(base *Base, profile *Profile, name string) (*BuildConfig, error) {
	arch := NormalizeArch(valueOr(profile.Build.Architecture, "amd64"))
	codename := valueOr(profile.General.Codename, name)
	flavor := valueOr(profile.Build.Flavor, "minimal")

	cfg := &BuildConfig{
		OSName:    valueOr(base.General.OSName, "fry-iot"),
		OSVersion: valueOr(base.General.OSVersion, "1.0.0"),
		Codename:  codename,
		Profile:   name,
		Brand:     valueOr(profile.General.Brand, "Fry"),
		Model:     valueOr(profile.General.Model, codename),

		Architecture:   arch,
		Suite:          valueOr(base.Debian.Suite, DefaultSuite),
		Mirror:         valueOr(base.Debian.Mirror, DefaultMirror),
		SecurityMirror: valueOr(base.Debian.SecurityMirror, DefaultSecurityMirror),
		Components:     componentsOrDefault(base.Debian.Components),

		KernelPackage: KernelPackage(arch, profile.Build.KernelPackage),
		Flavor:        flavor,

		ImageSize:   valueOr(profile.Build.ImageSize, valueOr(base.Build.ImageSize, DefaultImageSize)),
		Compression: valueOr(base.Build.Compression, DefaultCompression),

		Hostname:     valueOr(profile.System.Hostname, "fry-"+strings.ToLower(codename)),
		RootPassword: valueOr(profile.System.RootPassword, DefaultRootPassword),

		Fry: FryConfig{
			APIEndpoint:     valueOr(base.Fry.APIEndpoint, DefaultAPIEndpoint),
			BandwidthMining: boolOr(base.Fry.BandwidthMining, true),
			NodeType:        valueOr(base.Fry.NodeType, DefaultNodeType),
		},
		Network: profile.Network,
		Hostapd: profile.Hostapd,
		Dnsmasq: profile.Dnsmasq,
	}

	cfg.Packages = mergePackages(base, profile, cfg.KernelPackage, flavor)

	if _, err := parseImageSize(cfg.ImageSize); err != nil {
		return nil, err
	}

	return cfg, nil
}

// NormalizeArch maps alternate architecture spellings to the canonical Debian
// tag. Idempotent; unknown names are returned unchanged.
func NormalizeArch(arch string) string {
	if canonical, ok := archMap[strings.TrimSpace(arch)]; ok {
		return canonical
	}
	return strings.TrimSpace(arch)
}

// KernelPackage returns the kernel package for the architecture, honoring a
// profile override.
func KernelPackage(arch, override string) string {
	if override != "" {
		return override
	}
	if pkg, ok := kernelMap[arch]; ok {
		return pkg
	}
	return "linux-image-generic"
}

// SizeBytes returns the image size in bytes. The size string was validated at
// resolve time, so this cannot fail on a resolved configuration.
func (c *BuildConfig) SizeBytes() (int64, error) {
	return parseImageSize(c.ImageSize)
}

// ImageName is the filename of the raw disk image for this build.
func (c *BuildConfig) ImageName() string {
	return fmt.Sprintf("fry-iot-%s.img", c.Profile)
}

// parseImageSize accepts only whole-gigabyte sizes of the form "<N>G". Other
// unit suffixes are rejected rather than guessed at.
func parseImageSize(size string) (int64, error) {
	trimmed := strings.TrimSpace(size)
	if !strings.HasSuffix(trimmed, "G") {
		return 0, fmt.Errorf("image size %q: only whole-gigabyte sizes (e.g. \"4G\") are supported", size)
	}
	n, err := strconv.ParseInt(strings.TrimSuffix(trimmed, "G"), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("image size %q: invalid gigabyte count", size)
	}
	return n * 1024 * 1024 * 1024, nil
}

func mergePackages(base *Base, profile *Profile, kernel, flavor string) []string {
	var packages []string
	packages = append(packages, base.Packages.Core...)
	packages = append(packages, base.Packages.IoT...)
	packages = append(packages, profile.Packages.Include...)
	packages = append(packages, kernel)

	switch flavor {
	case "desktop":
		packages = append(packages, base.Packages.Desktop...)
	case "server":
		packages = append(packages, base.Packages.Server...)
	}

	excluded := make(map[string]struct{}, len(profile.Packages.Exclude))
	for _, pkg := range profile.Packages.Exclude {
		excluded[pkg] = struct{}{}
	}

	seen := make(map[string]struct{}, len(packages))
	unique := make([]string, 0, len(packages))
	for _, pkg := range packages {
		if _, skip := excluded[pkg]; skip {
			continue
		}
		if _, dup := seen[pkg]; dup {
			continue
		}
		seen[pkg] = struct{}{}
		unique = append(unique, pkg)
	}
	return unique
}

func componentsOrDefault(components []string) []string {
	if len(components) == 0 {
		return append([]string(nil), defaultComponents...)
	}
	return components
}

func valueOr(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

func boolOr(value *bool, fallback bool) bool {
	if value != nil {
		return *value
	}
	return fallback
}
