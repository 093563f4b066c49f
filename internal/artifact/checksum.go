package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/opencontainers/go-digest"
)

// ChecksumsFile is the checksum manifest filename, one line per artifact in
// sha256sum format so standard tooling can verify it.
const ChecksumsFile = "SHA256SUMS"

// FileDigest computes the sha256 digest of a file.
func FileDigest(path string) (digest.Digest, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	d, err := digest.SHA256.FromReader(file)
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", filepath.Base(path), err)
	}
	return d, nil
}

// WriteChecksums writes the checksum manifest for the given artifacts into
// dir. Entries are sorted by filename so the manifest is stable across runs.
func WriteChecksums(dir string, artifacts []string) (string, error) {
	sorted := append([]string(nil), artifacts...)
	sort.Slice(sorted, func(i, j int) bool {
		return filepath.Base(sorted[i]) < filepath.Base(sorted[j])
	})

	var lines strings.Builder
	for _, path := range sorted {
		d, err := FileDigest(path)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&lines, "%s  %s\n", d.Encoded(), filepath.Base(path))
	}

	target := filepath.Join(dir, ChecksumsFile)
	if err := os.WriteFile(target, []byte(lines.String()), 0o644); err != nil {
		return "", err
	}
	return target, nil
}
