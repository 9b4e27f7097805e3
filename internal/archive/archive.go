// Package archive extracts downloaded service and site archives.
//
// The format is sniffed from the file's magic bytes, falling back to the
// file extension, so a URL without a meaningful suffix still extracts.
// Supported: zip, tar, and tar compressed with gzip, zstd, xz or lz4.
//
// Every entry path is checked to stay inside the destination. Extract with
// stripOuter set requires the archive to hold exactly one top-level
// directory and lifts that directory's children into the destination.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"devstack/internal/fault"
	"devstack/pkg/logging"
)

const subsystem = "Archive"

// Format identifies an archive container and compression.
type Format int

const (
	FormatUnknown Format = iota
	FormatZip
	FormatTar
	FormatTarGzip
	FormatTarZstd
	FormatTarXz
	FormatTarLz4
)

func (f Format) String() string {
	switch f {
	case FormatZip:
		return "zip"
	case FormatTar:
		return "tar"
	case FormatTarGzip:
		return "tar.gz"
	case FormatTarZstd:
		return "tar.zst"
	case FormatTarXz:
		return "tar.xz"
	case FormatTarLz4:
		return "tar.lz4"
	default:
		return "unknown"
	}
}

var magics = []struct {
	format Format
	offset int
	magic  []byte
}{
	{FormatZip, 0, []byte("PK\x03\x04")},
	{FormatZip, 0, []byte("PK\x05\x06")},
	{FormatTarGzip, 0, []byte{0x1f, 0x8b}},
	{FormatTarZstd, 0, []byte{0x28, 0xb5, 0x2f, 0xfd}},
	{FormatTarXz, 0, []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}},
	{FormatTarLz4, 0, []byte{0x04, 0x22, 0x4d, 0x18}},
	{FormatTar, 257, []byte("ustar")},
}

var extensions = []struct {
	suffix string
	format Format
}{
	{".tar.gz", FormatTarGzip},
	{".tgz", FormatTarGzip},
	{".tar.zst", FormatTarZstd},
	{".tzst", FormatTarZstd},
	{".tar.xz", FormatTarXz},
	{".txz", FormatTarXz},
	{".tar.lz4", FormatTarLz4},
	{".tar", FormatTar},
	{".zip", FormatZip},
}

// Detect determines the format of the archive at path.
func Detect(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, err
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return FormatUnknown, err
	}
	head = head[:n]

	for _, m := range magics {
		end := m.offset + len(m.magic)
		if len(head) >= end && bytes.Equal(head[m.offset:end], m.magic) {
			return m.format, nil
		}
	}
	return FormatFromName(path), nil
}

// FormatFromName maps a file name or URL to a format by its extension.
func FormatFromName(name string) Format {
	lower := strings.ToLower(name)
	for _, e := range extensions {
		if strings.HasSuffix(lower, e.suffix) {
			return e.format
		}
	}
	return FormatUnknown
}

// Extract unpacks src into dest, creating dest if needed. With stripOuter
// the archive's single top-level directory is removed so its contents land
// directly in dest. Any failure is reported as fault.ExtractionFailed; dest
// may then hold a partial tree, so callers extract into a staging directory.
func Extract(ctx context.Context, src, dest string, stripOuter bool) error {
	format, err := Detect(src)
	if err != nil {
		return fault.Wrap(fault.ExtractionFailed, "extract", src, err, "cannot read archive")
	}
	if format == FormatUnknown {
		return fault.New(fault.ExtractionFailed, "extract", "unrecognised archive format: %s", src)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fault.Wrap(fault.ExtractionFailed, "extract", dest, err, "cannot create destination")
	}

	logging.Debug(subsystem, "Extracting %s archive %s to %s (strip outer: %v)", format, src, dest, stripOuter)

	if format == FormatZip {
		err = extractZip(ctx, src, dest)
	} else {
		err = extractTarFile(ctx, src, dest, format)
	}
	if err != nil {
		return fault.Wrap(fault.ExtractionFailed, "extract", src, err, "extracting %s", filepath.Base(src))
	}

	if stripOuter {
		if err := StripOuter(dest); err != nil {
			return fault.Wrap(fault.ExtractionFailed, "extract", dest, err, "removing wrapper directory")
		}
	}
	return nil
}

// StripOuter moves the children of dir's only entry, which must be a
// directory, up into dir.
func StripOuter(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		return fmt.Errorf("expected exactly one top-level directory, found %d entries", len(entries))
	}

	// Rename the wrapper first so a child sharing its name can move up.
	outer, err := os.MkdirTemp(dir, ".strip-")
	if err != nil {
		return err
	}
	if err := os.Remove(outer); err != nil {
		return err
	}
	if err := os.Rename(filepath.Join(dir, entries[0].Name()), outer); err != nil {
		return err
	}

	children, err := os.ReadDir(outer)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := os.Rename(filepath.Join(outer, child.Name()), filepath.Join(dir, child.Name())); err != nil {
			return err
		}
	}
	return os.Remove(outer)
}

// safeJoin resolves an archive entry name below dest, rejecting names that
// would escape it.
func safeJoin(dest, name string) (string, error) {
	name = strings.ReplaceAll(name, `\`, "/")
	root := filepath.Clean(dest)
	path := filepath.Join(root, filepath.FromSlash(name))
	if !within(root, path) {
		return "", fmt.Errorf("illegal file path in archive: %s", name)
	}
	return path, nil
}

// realRoot resolves the symlinks of an existing destination directory.
func realRoot(dest string) (string, error) {
	return filepath.EvalSymlinks(filepath.Clean(dest))
}

// resolveInside follows the symlinks already on disk along path and returns
// the real location, which must stay below root. root must be resolved.
// Components that do not exist yet are appended unchanged.
func resolveInside(root, path string) (string, error) {
	existing, rest := path, ""
	for {
		real, err := filepath.EvalSymlinks(existing)
		if err == nil {
			resolved := filepath.Join(real, rest)
			if !within(root, resolved) {
				return "", fmt.Errorf("illegal file path in archive: %s resolves outside the destination", path)
			}
			return resolved, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return "", err
		}
		rest = filepath.Join(filepath.Base(existing), rest)
		existing = parent
	}
}

func within(root, path string) bool {
	return path == root || strings.HasPrefix(path, root+string(os.PathSeparator))
}

// writeFile copies r into a new file at path. A symlink already at path is
// replaced rather than followed.
func writeFile(path string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if fi, err := os.Lstat(path); err == nil && fi.Mode()&os.ModeSymlink != 0 {
		if err := os.Remove(path); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm()|0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
