package archive

import (
	"context"
	"os"

	"github.com/klauspost/compress/zip"
)

func extractZip(ctx context.Context, src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer r.Close()

	root, err := realRoot(dest)
	if err != nil {
		return err
	}

	extractFile := func(f *zip.File) error {
		name, err := safeJoin(root, f.Name)
		if err != nil {
			return err
		}
		path, err := resolveInside(root, name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			return os.MkdirAll(path, f.Mode().Perm()|0o700)
		}

		rc, err := f.Open()
		if err != nil {
			return err
		}
		defer rc.Close()
		return writeFile(path, rc, f.Mode())
	}

	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := extractFile(f); err != nil {
			return err
		}
	}
	return nil
}
