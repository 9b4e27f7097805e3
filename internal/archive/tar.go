package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

func extractTarFile(ctx context.Context, src, dest string, format Format) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	r, closeFn, err := decompressor(f, format)
	if err != nil {
		return err
	}
	defer closeFn()

	return extractTar(ctx, r, dest)
}

// decompressor wraps r in the reader for format's compression layer.
func decompressor(r io.Reader, format Format) (io.Reader, func(), error) {
	nop := func() {}
	switch format {
	case FormatTar:
		return r, nop, nil
	case FormatTarGzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nop, err
		}
		return gz, func() { _ = gz.Close() }, nil
	case FormatTarZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nop, err
		}
		return zr, zr.Close, nil
	case FormatTarXz:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, nop, err
		}
		return xr, nop, nil
	case FormatTarLz4:
		return lz4.NewReader(r), nop, nil
	}
	return nil, nop, fmt.Errorf("unsupported format %s", format)
}

func extractTar(ctx context.Context, r io.Reader, dest string) error {
	root, err := realRoot(dest)
	if err != nil {
		return err
	}

	tr := tar.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		name, err := safeJoin(root, hdr.Name)
		if err != nil {
			return err
		}
		// Earlier entries may have placed links along the path.
		path, err := resolveInside(root, name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(path, hdr.FileInfo().Mode().Perm()|0o700); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(path, tr, hdr.FileInfo().Mode()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := symlink(root, name, hdr.Linkname); err != nil {
				return err
			}
		case tar.TypeLink:
			target, err := safeJoin(root, hdr.Linkname)
			if err != nil {
				return err
			}
			if target, err = resolveInside(root, target); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.Link(target, path); err != nil {
				return err
			}
		default:
			// Devices, fifos and pax metadata have no place in an install tree.
			continue
		}
	}
}

// symlink creates a link at name whose target must resolve inside root.
// The target is resolved from the link's real directory, so links reached
// through earlier links are judged by where they actually live.
func symlink(root, name, target string) error {
	if filepath.IsAbs(target) || strings.HasPrefix(target, "/") || strings.HasPrefix(target, `\`) {
		return fmt.Errorf("illegal link target in archive: %s -> %s", name, target)
	}
	dir, err := resolveInside(root, filepath.Dir(name))
	if err != nil {
		return err
	}
	if _, err := resolveInside(root, filepath.Join(dir, filepath.FromSlash(target))); err != nil {
		return fmt.Errorf("illegal link target in archive: %s -> %s", name, target)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.Symlink(target, filepath.Join(dir, filepath.Base(name)))
}
