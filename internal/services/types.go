package services

import (
	"path/filepath"
)

// Definition is catalog metadata for one installable service version.
type Definition struct {
	Name        string `json:"name" yaml:"name"`
	Category    string `json:"category" yaml:"category"`
	URL         string `json:"url" yaml:"url"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// HasOuterDir means the archive wraps its contents in a single top-level
	// directory that must be stripped on extraction.
	HasOuterDir bool `json:"hasOuterDir" yaml:"hasOuterDir"`
}

// InstallationResult is the outcome of an install attempt.
type InstallationResult struct {
	Success bool
	Message string
	Path    string
	Err     error
}

// LaunchTemplate maps installed services to the command that runs them.
// Match is a path.Match pattern against the instance name; Command and
// WorkingDir may reference {{ path }}, {{ name }}, {{ category }} and
// {{ base }}.
type LaunchTemplate struct {
	Match      string
	Command    string
	WorkingDir string
}

// BinDir returns <base>/bin.
func BinDir(baseDir string) string {
	return filepath.Join(baseDir, "bin")
}

// InstallDir returns <base>/bin/<category>/<name>.
func InstallDir(baseDir, category, name string) string {
	return filepath.Join(BinDir(baseDir), category, name)
}
