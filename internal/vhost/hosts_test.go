package vhost

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"devstack/internal/filesystem"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasDomain(t *testing.T) {
	tests := []struct {
		name  string
		hosts string
		want  bool
	}{
		{name: "absent", hosts: "127.0.0.1\tlocalhost\n", want: false},
		{name: "mapped", hosts: "127.0.0.1\tblog.test\n", want: true},
		{name: "in a comment", hosts: "# blog.test retired\n", want: true},
		{name: "as a suffix of another name", hosts: "127.0.0.1\told-blog.test\n", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasDomain([]byte(tt.hosts), "blog.test"))
		})
	}
}

func TestAppendHostsLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	added, err := AppendHostsLine(filesystem.OS{}, path, HostsLine("blog.test", "devstack"))
	require.NoError(t, err)
	assert.True(t, added)

	added, err = AppendHostsLine(filesystem.OS{}, path, HostsLine("blog.test", "devstack"))
	require.NoError(t, err)
	assert.False(t, added)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1\tblog.test\t#devstack\n", string(data))
}

func TestAppendHostsLine_Errors(t *testing.T) {
	_, err := AppendHostsLine(filesystem.OS{}, filepath.Join(t.TempDir(), "missing"), HostsLine("a.test", "m"))
	assert.True(t, os.IsNotExist(err))

	_, err = AppendHostsLine(filesystem.OS{}, "unused", "127.0.0.1")
	assert.ErrorContains(t, err, "malformed hosts line")
}

func TestRemoveHostsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts")
	content := "127.0.0.1\tlocalhost\n" +
		"127.0.0.1\tblog.test\t#devstack\n" +
		"127.0.0.1\tshop.test\t#devstack\n" +
		"127.0.0.1\tblog.test\t# other tool\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	changed, err := RemoveHostsLines(filesystem.OS{}, path, "blog.test", "devstack")
	require.NoError(t, err)
	assert.True(t, changed)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1\tlocalhost\n127.0.0.1\tshop.test\t#devstack\n127.0.0.1\tblog.test\t# other tool\n", string(data))

	changed, err = RemoveHostsLines(filesystem.OS{}, path, "blog.test", "devstack")
	require.NoError(t, err)
	assert.False(t, changed)
}

// bindMountedHosts fails replacing one path by rename, as a bind-mounted
// file does with EBUSY.
type bindMountedHosts struct {
	filesystem.OS
	path string
}

func (b bindMountedHosts) WriteFile(path string, data []byte, perm os.FileMode) error {
	if path == b.path {
		return &os.LinkError{Op: "rename", Old: path + ".tmp", New: path, Err: syscall.EBUSY}
	}
	return b.OS.WriteFile(path, data, perm)
}

func (b bindMountedHosts) Rename(oldPath, newPath string) error {
	if newPath == b.path {
		return &os.LinkError{Op: "rename", Old: oldPath, New: newPath, Err: syscall.EBUSY}
	}
	return b.OS.Rename(oldPath, newPath)
}

func TestRemoveHostsLinesRewritesInPlace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts")
	require.NoError(t, os.WriteFile(path, []byte("127.0.0.1\tlocalhost\n127.0.0.1\tblog.test\t#devstack\n"), 0o644))
	before, err := os.Stat(path)
	require.NoError(t, err)

	changed, err := RemoveHostsLines(bindMountedHosts{path: path}, path, "blog.test", "devstack")
	require.NoError(t, err)
	assert.True(t, changed)

	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, os.SameFile(before, after), "hosts file was replaced instead of rewritten")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1\tlocalhost\n", string(data))
}
