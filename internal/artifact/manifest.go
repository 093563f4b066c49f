package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ManifestFile is the build manifest filename.
const ManifestFile = "manifest.json"

// ImageEntry describes one artifact in the build manifest.
type ImageEntry struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	SHA256   string `json:"sha256"`
}

// Manifest describes a finished build for release tooling. BuildID is unique
// per invocation; two builds of the same profile and version still get
// distinct manifests.
type Manifest struct {
	Name         string       `json:"name"`
	Version      string       `json:"version"`
	Codename     string       `json:"codename"`
	Architecture string       `json:"architecture"`
	BuildID      string       `json:"build_id"`
	BuildDate    string       `json:"build_date"`
	DebianSuite  string       `json:"debian_suite"`
	Images       []ImageEntry `json:"images"`
}

// BuildInfo carries the identity fields stamped into a manifest.
type BuildInfo struct {
	Codename     string
	Version      string
	Architecture string
	Suite        string
}

// BuildManifest assembles the manifest for the given artifacts. now is
// injectable for tests; pass nil for the wall clock.
func BuildManifest(info BuildInfo, artifacts []string, now func() time.Time) (*Manifest, error) {
	if now == nil {
		now = time.Now
	}

	manifest := &Manifest{
		Name:         fmt.Sprintf("Fry IoT %s", info.Codename),
		Version:      info.Version,
		Codename:     info.Codename,
		Architecture: info.Architecture,
		BuildID:      uuid.NewString(),
		BuildDate:    now().UTC().Format(time.RFC3339),
		DebianSuite:  info.Suite,
		Images:       []ImageEntry{},
	}

	sorted := append([]string(nil), artifacts...)
	sort.Slice(sorted, func(i, j int) bool {
		return filepath.Base(sorted[i]) < filepath.Base(sorted[j])
	})
	for _, path := range sorted {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		d, err := FileDigest(path)
		if err != nil {
			return nil, err
		}
		manifest.Images = append(manifest.Images, ImageEntry{
			Filename: filepath.Base(path),
			Size:     info.Size(),
			SHA256:   d.Encoded(),
		})
	}
	return manifest, nil
}

// WriteManifest writes the manifest into dir as indented JSON.
func WriteManifest(dir string, manifest *Manifest) (string, error) {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", err
	}

	target := filepath.Join(dir, ManifestFile)
	if err := os.WriteFile(target, append(data, '\n'), 0o644); err != nil {
		return "", err
	}
	return target, nil
}
