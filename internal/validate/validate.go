// Package validate runs a battery of read-only checks against a finished
// build and reports each as a pass or fail. Every check runs regardless of
// earlier failures so one report covers everything that is wrong.
package validate

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fry-foundation/fry-iot-builder/internal/artifact"
	"github.com/fry-foundation/fry-iot-builder/internal/config"
	"github.com/fry-foundation/fry-iot-builder/internal/logging"
)

// Result is the outcome of a single check.
type Result struct {
	Name    string
	Passed  bool
	Message string
}

func (r Result) String() string {
	status := "✗"
	if r.Passed {
		status = "✓"
	}
	if r.Message == "" {
		return fmt.Sprintf("%s %s", status, r.Name)
	}
	return fmt.Sprintf("%s %s: %s", status, r.Name, r.Message)
}

// Passed reports whether every check passed.
func Passed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// Validator inspects the working and output directories of a build.
type Validator struct {
	Logger *slog.Logger
	Paths  config.Paths
}

// Validate runs every check and returns all results.
func (v *Validator) Validate() []Result {
	logger := logging.Ensure(v.Logger)

	checks := []func() Result{
		v.checkImageExists,
		v.checkImageSize,
		v.checkChecksumsFile,
		v.checkManifest,
		v.checkDeviceInfo,
		v.checkRootfs,
		v.checkFryConfig,
		v.checkSystemdUnits,
		v.checkChecksumValues,
	}

	results := make([]Result, 0, len(checks))
	for _, check := range checks {
		result := check()
		results = append(results, result)
		if result.Passed {
			logger.Info("check passed", "check", result.Name, "detail", result.Message)
		} else {
			logger.Warn("check failed", "check", result.Name, "detail", result.Message)
		}
	}
	return results
}

func (v *Validator) checkImageExists() Result {
	images := v.globOutput("*.img", "*.img.*")
	if len(images) == 0 {
		return Result{Name: "Image file exists", Message: "no image found"}
	}
	return Result{Name: "Image file exists", Passed: true, Message: filepath.Base(images[0])}
}

func (v *Validator) checkImageSize() Result {
	images := v.globOutput("*.img")
	if len(images) == 0 {
		return Result{Name: "Image size", Message: "no image found"}
	}

	info, err := os.Stat(images[0])
	if err != nil {
		return Result{Name: "Image size", Message: err.Error()}
	}
	sizeMB := float64(info.Size()) / (1024 * 1024)
	switch {
	case sizeMB < 100:
		return Result{Name: "Image size", Message: fmt.Sprintf("%.1f MB (too small)", sizeMB)}
	case sizeMB > 16000:
		return Result{Name: "Image size", Message: fmt.Sprintf("%.1f MB (too large)", sizeMB)}
	}
	return Result{Name: "Image size", Passed: true, Message: fmt.Sprintf("%.1f MB", sizeMB)}
}

func (v *Validator) checkChecksumsFile() Result {
	entries, err := v.checksumEntries()
	if err != nil {
		return Result{Name: "Checksums file", Message: err.Error()}
	}
	if len(entries) == 0 {
		return Result{Name: "Checksums file", Message: "empty"}
	}
	return Result{Name: "Checksums file", Passed: true, Message: fmt.Sprintf("%d entries", len(entries))}
}

func (v *Validator) checkManifest() Result {
	path := filepath.Join(v.Paths.OutputDir(), artifact.ManifestFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{Name: "Manifest file", Message: "manifest.json not found"}
	}

	var manifest map[string]any
	if err := json.Unmarshal(data, &manifest); err != nil {
		return Result{Name: "Manifest file", Message: fmt.Sprintf("invalid JSON: %v", err)}
	}

	var missing []string
	for _, key := range []string{"name", "version", "codename", "architecture"} {
		if _, ok := manifest[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return Result{Name: "Manifest file", Message: "missing keys: " + strings.Join(missing, ", ")}
	}
	return Result{
		Name:    "Manifest file",
		Passed:  true,
		Message: fmt.Sprintf("%v v%v", manifest["name"], manifest["version"]),
	}
}

func (v *Validator) checkDeviceInfo() Result {
	path := filepath.Join(v.Paths.RootfsDir(), "etc", "fry-iot", "device.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{Name: "Device info", Message: "device.json not found"}
	}

	var device struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &device); err != nil {
		return Result{Name: "Device info", Message: err.Error()}
	}
	if device.Name == "" {
		device.Name = "unknown"
	}
	return Result{Name: "Device info", Passed: true, Message: device.Name}
}

func (v *Validator) checkRootfs() Result {
	root := v.Paths.RootfsDir()
	if _, err := os.Stat(root); err != nil {
		return Result{Name: "Rootfs", Message: "not found"}
	}

	var missing []string
	for _, dir := range []string{"bin", "etc", "lib", "usr", "var"} {
		if _, err := os.Stat(filepath.Join(root, dir)); err != nil {
			missing = append(missing, dir)
		}
	}
	if len(missing) > 0 {
		return Result{Name: "Rootfs", Message: "missing: " + strings.Join(missing, ", ")}
	}
	return Result{Name: "Rootfs", Passed: true, Message: "structure valid"}
}

func (v *Validator) checkFryConfig() Result {
	path := filepath.Join(v.Paths.RootfsDir(), "etc", "fry", "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{Name: "Fry config", Message: "config.json not found"}
	}

	var cfg struct {
		BandwidthMining bool `json:"bandwidth_mining"`
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Result{Name: "Fry config", Message: err.Error()}
	}
	if cfg.BandwidthMining {
		return Result{Name: "Fry config", Passed: true, Message: "bandwidth mining enabled"}
	}
	return Result{Name: "Fry config", Passed: true, Message: "valid"}
}

func (v *Validator) checkSystemdUnits() Result {
	dir := filepath.Join(v.Paths.RootfsDir(), "etc", "systemd", "system")
	if _, err := os.Stat(dir); err != nil {
		return Result{Name: "Systemd services", Message: "directory not found"}
	}

	services, _ := filepath.Glob(filepath.Join(dir, "*.service"))
	timers, _ := filepath.Glob(filepath.Join(dir, "*.timer"))
	if len(services) == 0 {
		return Result{Name: "Systemd services", Message: "no services found"}
	}
	return Result{
		Name:    "Systemd services",
		Passed:  true,
		Message: fmt.Sprintf("%d services, %d timers", len(services), len(timers)),
	}
}

func (v *Validator) checkChecksumValues() Result {
	entries, err := v.checksumEntries()
	if err != nil {
		return Result{Name: "Checksum verification", Message: "no checksums file"}
	}

	var verified, failed int
	for _, entry := range entries {
		path := filepath.Join(v.Paths.OutputDir(), entry.filename)
		d, err := artifact.FileDigest(path)
		if err != nil || d.Encoded() != entry.digest {
			failed++
			continue
		}
		verified++
	}
	switch {
	case failed > 0:
		return Result{Name: "Checksum verification", Message: fmt.Sprintf("%d failed, %d passed", failed, verified)}
	case verified == 0:
		return Result{Name: "Checksum verification", Message: "no files verified"}
	}
	return Result{Name: "Checksum verification", Passed: true, Message: fmt.Sprintf("%d files verified", verified)}
}

type checksumEntry struct {
	digest   string
	filename string
}

func (v *Validator) checksumEntries() ([]checksumEntry, error) {
	file, err := os.Open(filepath.Join(v.Paths.OutputDir(), artifact.ChecksumsFile))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var entries []checksumEntry
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		entries = append(entries, checksumEntry{
			digest:   fields[0],
			filename: strings.TrimPrefix(fields[1], "*"),
		})
	}
	return entries, scanner.Err()
}

func (v *Validator) globOutput(patterns ...string) []string {
	var matches []string
	for _, pattern := range patterns {
		found, _ := filepath.Glob(filepath.Join(v.Paths.OutputDir(), pattern))
		matches = append(matches, found...)
	}
	return matches
}
