package services

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"devstack/internal/filesystem"
)

// ManifestFile is written into every directory the installer populates.
// Its presence is what marks an install as complete and managed.
const ManifestFile = ".devstack-install.json"

// Manifest records how an install directory was produced.
type Manifest struct {
	Name        string    `json:"name"`
	Category    string    `json:"category"`
	URL         string    `json:"url"`
	Digest      string    `json:"digest"`
	InstalledAt time.Time `json:"installedAt"`
}

// ReadManifest loads the manifest from an install directory.
func ReadManifest(fsys filesystem.FS, dir string) (*Manifest, error) {
	data, err := fsys.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", ManifestFile, err)
	}
	return &m, nil
}

// WriteManifest stores m in dir.
func WriteManifest(fsys filesystem.FS, dir string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return fsys.WriteFile(filepath.Join(dir, ManifestFile), append(data, '\n'), 0o644)
}
