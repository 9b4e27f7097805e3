package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"devstack/internal/fault"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

type entry struct {
	name string
	body string
	dir  bool
	// link makes the entry a symlink to this target.
	link string
}

var wrapped = []entry{
	{name: "php-8.3-src/", dir: true},
	{name: "php-8.3-src/php.exe", body: "binary"},
	{name: "php-8.3-src/ext/", dir: true},
	{name: "php-8.3-src/ext/curl.so", body: "curl"},
}

func tarBytes(t *testing.T, entries []entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0o644, Size: int64(len(e.body)), Typeflag: tar.TypeReg}
		switch {
		case e.dir:
			hdr = &tar.Header{Name: e.name, Mode: 0o755, Typeflag: tar.TypeDir}
		case e.link != "":
			hdr = &tar.Header{Name: e.name, Mode: 0o777, Typeflag: tar.TypeSymlink, Linkname: e.link}
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if !e.dir && e.link == "" {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func compress(t *testing.T, format Format, raw []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	var w io.WriteCloser
	var err error
	switch format {
	case FormatTar:
		return raw
	case FormatTarGzip:
		w = gzip.NewWriter(&buf)
	case FormatTarZstd:
		w, err = zstd.NewWriter(&buf)
	case FormatTarXz:
		w, err = xz.NewWriter(&buf)
	case FormatTarLz4:
		w = lz4.NewWriter(&buf)
	default:
		t.Fatalf("unexpected format %s", format)
	}
	require.NoError(t, err)
	_, err = w.Write(raw)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func zipBytes(t *testing.T, entries []entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		require.NoError(t, err)
		if !e.dir {
			_, err = w.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func writeArchive(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// listTree returns every path below root, relative and slash separated.
func listTree(t *testing.T, root string) []string {
	t.Helper()
	var out []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	require.NoError(t, err)
	sort.Strings(out)
	return out
}

func TestExtract_AllFormatsStripOuter(t *testing.T) {
	raw := tarBytes(t, wrapped)
	cases := map[string][]byte{
		"php.tar":     compress(t, FormatTar, raw),
		"php.tar.gz":  compress(t, FormatTarGzip, raw),
		"php.tar.zst": compress(t, FormatTarZstd, raw),
		"php.tar.xz":  compress(t, FormatTarXz, raw),
		"php.tar.lz4": compress(t, FormatTarLz4, raw),
		"php.zip":     zipBytes(t, wrapped),
	}

	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			src := writeArchive(t, name, data)
			dest := filepath.Join(t.TempDir(), "php-8.3")

			require.NoError(t, Extract(context.Background(), src, dest, true))

			assert.Equal(t, []string{"ext", "ext/curl.so", "php.exe"}, listTree(t, dest))
			body, err := os.ReadFile(filepath.Join(dest, "ext", "curl.so"))
			require.NoError(t, err)
			assert.Equal(t, "curl", string(body))
		})
	}
}

func TestExtract_KeepsOuterWithoutStrip(t *testing.T) {
	src := writeArchive(t, "php.tgz", compress(t, FormatTarGzip, tarBytes(t, wrapped)))
	dest := t.TempDir()

	require.NoError(t, Extract(context.Background(), src, dest, false))

	assert.Equal(t, []string{
		"php-8.3-src",
		"php-8.3-src/ext",
		"php-8.3-src/ext/curl.so",
		"php-8.3-src/php.exe",
	}, listTree(t, dest))
}

func TestExtract_DetectsFormatWithoutExtension(t *testing.T) {
	src := writeArchive(t, "download-1234", compress(t, FormatTarZstd, tarBytes(t, wrapped)))

	format, err := Detect(src)
	require.NoError(t, err)
	assert.Equal(t, FormatTarZstd, format)

	require.NoError(t, Extract(context.Background(), src, t.TempDir(), true))
}

func TestExtract_StripRequiresSingleDirectory(t *testing.T) {
	src := writeArchive(t, "flat.zip", zipBytes(t, []entry{
		{name: "a.txt", body: "a"},
		{name: "b.txt", body: "b"},
	}))

	err := Extract(context.Background(), src, t.TempDir(), true)

	assert.True(t, errors.Is(err, fault.ExtractionFailed))
	assert.Contains(t, err.Error(), "exactly one top-level directory")
}

func TestExtract_StripHandlesChildNamedLikeWrapper(t *testing.T) {
	src := writeArchive(t, "nested.tar", tarBytes(t, []entry{
		{name: "app/", dir: true},
		{name: "app/app/", dir: true},
		{name: "app/app/main.js", body: "x"},
	}))
	dest := t.TempDir()

	require.NoError(t, Extract(context.Background(), src, dest, true))

	assert.Equal(t, []string{"app", "app/main.js"}, listTree(t, dest))
}

func TestExtract_RejectsTraversal(t *testing.T) {
	tests := map[string][]byte{
		"evil.tar": tarBytes(t, []entry{{name: "../../escape.txt", body: "x"}}),
		"evil.zip": zipBytes(t, []entry{{name: "../escape.txt", body: "x"}}),
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			root := t.TempDir()
			src := writeArchive(t, name, data)
			dest := filepath.Join(root, "a", "b")

			err := Extract(context.Background(), src, dest, false)

			assert.True(t, errors.Is(err, fault.ExtractionFailed))
			assert.NoFileExists(t, filepath.Join(root, "escape.txt"))
			assert.NoFileExists(t, filepath.Join(root, "a", "escape.txt"))
		})
	}
}

func TestExtract_RejectsEscapeThroughChainedLinks(t *testing.T) {
	tests := map[string][]entry{
		"link to parent behind a dot link": {
			{name: "d1", link: "."},
			{name: "d1/l", link: ".."},
			{name: "d1/l/escaped.txt", body: "x"},
		},
		"file written through an outward link": {
			{name: "d1", link: "."},
			{name: "d1/d2", link: "d1/.."},
			{name: "d1/d2/escaped.txt", body: "x"},
		},
		"absolute link": {
			{name: "abs", link: "/tmp"},
			{name: "abs/escaped.txt", body: "x"},
		},
	}
	for name, entries := range tests {
		t.Run(name, func(t *testing.T) {
			root := t.TempDir()
			src := writeArchive(t, "evil.tar", tarBytes(t, entries))
			dest := filepath.Join(root, "staging")

			err := Extract(context.Background(), src, dest, false)

			assert.True(t, errors.Is(err, fault.ExtractionFailed), "got %v", err)
			assert.NoFileExists(t, filepath.Join(root, "escaped.txt"))
		})
	}
}

func TestExtract_KeepsLinksInsideDestination(t *testing.T) {
	root := t.TempDir()
	src := writeArchive(t, "links.tar", tarBytes(t, []entry{
		{name: "lib/", dir: true},
		{name: "lib/libphp.so.8.3", body: "so"},
		{name: "lib/libphp.so", link: "libphp.so.8.3"},
		{name: "current", link: "lib"},
		{name: "current/extra.txt", body: "x"},
	}))
	dest := filepath.Join(root, "staging")

	require.NoError(t, Extract(context.Background(), src, dest, false))

	data, err := os.ReadFile(filepath.Join(dest, "lib", "libphp.so"))
	require.NoError(t, err)
	assert.Equal(t, "so", string(data))
	assert.FileExists(t, filepath.Join(dest, "lib", "extra.txt"))
}

func TestExtract_ReplacesDanglingLinkWithFile(t *testing.T) {
	root := t.TempDir()
	src := writeArchive(t, "dangling.tar", tarBytes(t, []entry{
		{name: "conf", link: "missing/php.ini"},
		{name: "conf", body: "ini"},
	}))
	dest := filepath.Join(root, "staging")

	require.NoError(t, Extract(context.Background(), src, dest, false))

	fi, err := os.Lstat(filepath.Join(dest, "conf"))
	require.NoError(t, err)
	assert.True(t, fi.Mode().IsRegular())
	assert.NoDirExists(t, filepath.Join(dest, "missing"))
}

func TestExtract_TruncatedArchive(t *testing.T) {
	full := compress(t, FormatTarGzip, tarBytes(t, []entry{
		{name: "big/", dir: true},
		{name: "big/data.bin", body: string(bytes.Repeat([]byte("0123456789"), 10000))},
	}))
	src := writeArchive(t, "big.tar.gz", full[:len(full)/2])

	err := Extract(context.Background(), src, t.TempDir(), true)

	assert.True(t, errors.Is(err, fault.ExtractionFailed))
}

func TestExtract_UnknownFormat(t *testing.T) {
	src := writeArchive(t, "notes.txt", bytes.Repeat([]byte("plain text "), 20))

	err := Extract(context.Background(), src, t.TempDir(), false)

	assert.True(t, errors.Is(err, fault.ExtractionFailed))
	assert.Contains(t, err.Error(), "unrecognised archive format")
}

func TestExtract_Cancelled(t *testing.T) {
	src := writeArchive(t, "php.tar", tarBytes(t, wrapped))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Extract(ctx, src, t.TempDir(), false)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestFormatFromName(t *testing.T) {
	tests := map[string]Format{
		"https://example.test/php-8.3.0.tar.gz": FormatTarGzip,
		"node.TGZ":                              FormatTarGzip,
		"mysql.tar.xz":                          FormatTarXz,
		"redis.tar.zst":                         FormatTarZstd,
		"x.tar.lz4":                             FormatTarLz4,
		"nginx.zip":                             FormatZip,
		"plain.tar":                             FormatTar,
		"readme.md":                             FormatUnknown,
	}
	for name, want := range tests {
		assert.Equal(t, want, FormatFromName(name), name)
	}
}
