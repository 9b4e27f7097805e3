package cmd

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"devstack/internal/fault"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSiteCmd(t *testing.T) {
	cmd := newSiteCmd()

	assert.Equal(t, "site", cmd.Use)
	for _, name := range []string{"create", "vhost", "list"} {
		findSubcommand(t, cmd, name)
	}
	create := findSubcommand(t, cmd, "create")
	assert.NotNil(t, create.Flags().Lookup("type"))
	assert.NotNil(t, findSubcommand(t, cmd, "vhost").Flags().Lookup("remove"))
}

func TestSiteVHostCreateAndRemove(t *testing.T) {
	base := setupHome(t)
	home := filepath.Dir(base)
	hosts := filepath.Join(home, "hosts")
	nginxConf := filepath.Join(base, "etc", "nginx", "sites-enabled", "auto.myapp.test.conf")

	_, _, err := executeCommand(t, "site", "vhost", "myapp")
	require.NoError(t, err)

	assert.FileExists(t, nginxConf)
	data, err := os.ReadFile(hosts)
	require.NoError(t, err)
	assert.Contains(t, string(data), "127.0.0.1\tmyapp.test\t#devstack")

	_, _, err = executeCommand(t, "site", "vhost", "myapp", "--remove")
	require.NoError(t, err)

	assert.NoFileExists(t, nginxConf)
	data, err = os.ReadFile(hosts)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1\tlocalhost\n", string(data))
}

func TestSiteList(t *testing.T) {
	base := setupHome(t)
	require.NoError(t, os.MkdirAll(filepath.Join(base, "www", "blog"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(base, "www", ".staging-1"), 0o755))
	writeSiteCatalog(t, base)

	stdout, _, err := executeCommand(t, "site", "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "blog")
	assert.Contains(t, stdout, "blog.test")
	assert.NotContains(t, stdout, ".staging")
}

func TestOfferManualLine(t *testing.T) {
	var copied string
	original := copyToClipboard
	copyToClipboard = func(s string) error {
		copied = s
		return nil
	}
	defer func() { copyToClipboard = original }()

	line := "127.0.0.1\tmyapp.test\t#devstack"
	hostsErr := fault.Wrap(fault.HostsUpdateFailed, "hosts", "/etc/hosts", errors.New("denied"),
		"could not update %s; add this line manually: %s", "/etc/hosts", line)

	cmd := newSiteCmd()
	var stderr bytes.Buffer
	cmd.SetErr(&stderr)

	err := offerManualLine(cmd, hostsErr)
	assert.Same(t, hostsErr, err)
	assert.Equal(t, line, copied)
	assert.Contains(t, stderr.String(), "copied to the clipboard")
	assert.Contains(t, stderr.String(), line)
}

func TestOfferManualLineClipboardUnavailable(t *testing.T) {
	original := copyToClipboard
	copyToClipboard = func(string) error { return errors.New("no clipboard utilities available") }
	defer func() { copyToClipboard = original }()

	hostsErr := fault.Wrap(fault.HostsUpdateFailed, "hosts", "/etc/hosts", errors.New("denied"),
		"could not update %s; add this line manually: %s", "/etc/hosts", "127.0.0.1\tx.test\t#devstack")

	cmd := newSiteCmd()
	var stderr bytes.Buffer
	cmd.SetErr(&stderr)

	require.Error(t, offerManualLine(cmd, hostsErr))
	assert.Contains(t, stderr.String(), "Add this line to the hosts file")
}

func TestOfferManualLinePassesOtherErrors(t *testing.T) {
	called := false
	original := copyToClipboard
	copyToClipboard = func(string) error { called = true; return nil }
	defer func() { copyToClipboard = original }()

	other := fault.New(fault.ConfigurationError, "vhost", "invalid site name %q", "a b")
	assert.Same(t, other, offerManualLine(newSiteCmd(), other))
	assert.NoError(t, offerManualLine(newSiteCmd(), nil))
	assert.False(t, called)
}

func writeSiteCatalog(t *testing.T, base string) {
	t.Helper()
	path := filepath.Join(base, "catalog", "sites.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`{
  "types": [
    {"name": "wordpress", "install_type": "archive", "url": "https://example.invalid/wordpress.zip", "has_additional_dir": true},
  ]
}`), 0o644))
}
