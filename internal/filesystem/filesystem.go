// Package filesystem is the file access seam used by the installer, the
// virtual host provisioner and the service registry.
//
// Whole-file writes go through WriteFile, which replaces the target
// atomically so readers never observe a half-written vhost config, install
// manifest or pid file. The hosts file is edited in place instead, with
// AppendFile and OverwriteFile: it is frequently a bind mount, where a
// rename fails, or lives in a directory the user cannot create temp files in.
package filesystem

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// FS is the set of file operations the orchestration engine needs.
type FS interface {
	Exists(path string) bool
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, perm os.FileMode) error
	AppendFile(path string, data []byte) error
	OverwriteFile(path string, data []byte) error
	MkdirAll(path string, perm os.FileMode) error
	MkdirTemp(dir, pattern string) (string, error)
	ReadDir(path string) ([]fs.DirEntry, error)
	Remove(path string) error
	RemoveAll(path string) error
	Rename(oldPath, newPath string) error
}

// OS implements FS on the host file system.
type OS struct{}

var _ FS = OS{}

// Exists reports whether path exists. Stat errors other than "not exist"
// count as existing so callers never overwrite something they cannot see.
func (OS) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, fs.ErrNotExist)
}

func (OS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteFile atomically replaces path with data, creating parent directories.
func (OS) WriteFile(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return writeAtomic(path, data, perm)
}

// AppendFile appends data to an existing file.
func (OS) AppendFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// OverwriteFile truncates an existing file and writes data into it, keeping
// the file's identity and permissions.
func (OS) OverwriteFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (OS) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (OS) MkdirTemp(dir, pattern string) (string, error) {
	return os.MkdirTemp(dir, pattern)
}

func (OS) ReadDir(path string) ([]fs.DirEntry, error) {
	return os.ReadDir(path)
}

func (OS) Remove(path string) error {
	return os.Remove(path)
}

func (OS) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

func (OS) Rename(oldPath, newPath string) error {
	return os.Rename(oldPath, newPath)
}

// IsEmptyDir reports whether path is a directory with no entries. A missing
// path is reported as empty.
func IsEmptyDir(fsys FS, path string) bool {
	entries, err := fsys.ReadDir(path)
	if err != nil {
		return errors.Is(err, fs.ErrNotExist)
	}
	return len(entries) == 0
}
