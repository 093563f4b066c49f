package rootfs

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fry-foundation/fry-iot-builder/internal/config"
	"github.com/fry-foundation/fry-iot-builder/internal/logging"
)

// Stager writes the resolved build configuration and profile overlay into the
// working directories. Everything it produces is a plain file an operator can
// inspect before any privileged build step runs.
type Stager struct {
	Logger *slog.Logger
	Paths  config.Paths

	// Now stamps the build date; tests pin it for determinism.
	Now func() time.Time
}

// stagedConfig is the on-disk shape of tmp/build-config.json.
type stagedConfig struct {
	OS struct {
		Name      string `json:"name"`
		Version   string `json:"version"`
		Codename  string `json:"codename"`
		BuildDate string `json:"build_date"`
	} `json:"os"`
	Debian struct {
		Suite      string   `json:"suite"`
		Mirror     string   `json:"mirror"`
		Components []string `json:"components"`
	} `json:"debian"`
	Build struct {
		Architecture string `json:"architecture"`
		Profile      string `json:"profile"`
		ImageSize    string `json:"image_size"`
		Compression  string `json:"compression"`
	} `json:"build"`
	Device struct {
		Name  string `json:"name"`
		Brand string `json:"brand"`
		Model string `json:"model"`
	} `json:"device"`
	Fry struct {
		APIEndpoint     string `json:"api_endpoint"`
		BandwidthMining bool   `json:"bandwidth_mining"`
		NodeType        string `json:"node_type"`
	} `json:"fry"`
	Packages []string `json:"packages"`
}

// Stage writes the build configuration, device metadata, banner and APT
// sources previews into tmp/ and copies the profile overlay into work/files.
func (s *Stager) Stage(cfg *config.BuildConfig) error {
	logger := logging.Ensure(s.Logger).With("profile", cfg.Profile)

	if err := os.MkdirAll(s.Paths.TmpDir(), 0o755); err != nil {
		return err
	}

	logger.Info("writing build configuration")
	if err := s.writeBuildConfig(cfg); err != nil {
		return err
	}
	if err := s.writeDeviceMetadata(cfg); err != nil {
		return err
	}

	tmp := s.Paths.TmpDir()
	if err := writeFile(filepath.Join(tmp, "banner"), Banner(cfg), 0o644); err != nil {
		return err
	}

	logger.Info("writing APT sources preview")
	configurator := &Configurator{Logger: s.Logger}
	if err := configurator.WriteAptSourcesPreview(cfg, tmp); err != nil {
		return err
	}

	logger.Info("staging profile files", "target", s.Paths.StagedFilesDir())
	return s.stageProfileFiles(cfg.Profile)
}

func (s *Stager) writeBuildConfig(cfg *config.BuildConfig) error {
	var staged stagedConfig
	staged.OS.Name = cfg.OSName
	staged.OS.Version = cfg.OSVersion
	staged.OS.Codename = cfg.Codename
	staged.OS.BuildDate = s.now().UTC().Format(time.RFC3339)
	staged.Debian.Suite = cfg.Suite
	staged.Debian.Mirror = cfg.Mirror
	staged.Debian.Components = cfg.Components
	staged.Build.Architecture = cfg.Architecture
	staged.Build.Profile = cfg.Profile
	staged.Build.ImageSize = cfg.ImageSize
	staged.Build.Compression = cfg.Compression
	staged.Device.Name = cfg.Codename
	staged.Device.Brand = cfg.Brand
	staged.Device.Model = cfg.Model
	staged.Fry.APIEndpoint = cfg.Fry.APIEndpoint
	staged.Fry.BandwidthMining = cfg.Fry.BandwidthMining
	staged.Fry.NodeType = cfg.Fry.NodeType
	staged.Packages = cfg.Packages

	encoded, err := json.MarshalIndent(staged, "", "  ")
	if err != nil {
		return fmt.Errorf("encode build config: %w", err)
	}
	return writeFile(filepath.Join(s.Paths.TmpDir(), "build-config.json"), string(encoded)+"\n", 0o644)
}

func (s *Stager) writeDeviceMetadata(cfg *config.BuildConfig) error {
	metadata := DeviceMetadata{
		Name:         cfg.Codename,
		Brand:        cfg.Brand,
		Model:        cfg.Model,
		Version:      cfg.OSVersion,
		Architecture: cfg.Architecture,
		BuildDate:    s.now().UTC().Format(time.RFC3339),
	}
	encoded, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("encode device metadata: %w", err)
	}
	return writeFile(filepath.Join(s.Paths.TmpDir(), "device.json"), string(encoded)+"\n", 0o644)
}

// stageProfileFiles mirrors the profile overlay into work/files the same way
// the configurator later applies it to the rootfs. The staging copy is
// replaced wholesale so removed profile files do not linger between runs.
func (s *Stager) stageProfileFiles(profile string) error {
	target := s.Paths.StagedFilesDir()
	if err := os.RemoveAll(target); err != nil {
		return err
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return err
	}
	return ApplyProfileOverlay(s.Paths, profile, target)
}

// LoadDeviceMetadata reads the device descriptor staged by a prior configure
// run.
func LoadDeviceMetadata(paths config.Paths) (*DeviceMetadata, error) {
	data, err := os.ReadFile(filepath.Join(paths.TmpDir(), "device.json"))
	if err != nil {
		return nil, err
	}
	var metadata DeviceMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("parse device metadata: %w", err)
	}
	return &metadata, nil
}

func (s *Stager) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
