package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"devstack/internal/services"

	"github.com/mattn/go-runewidth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

var rows = []ServiceRow{
	{Name: "php-8.3", Category: "php", Status: services.StatusRunning, PID: 4242, Managed: true, Path: "/home/dev/.devstack/bin/php/php-8.3"},
	{Name: "redis-7", Category: "redis", Status: services.StatusStopped, Path: "/opt/redis", LastError: "redis-7 exited with code 1"},
}

func newTestPrinter(format OutputFormat) (*Printer, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return NewPrinter(Options{Format: format, Out: &out, Err: &errOut}), &out, &errOut
}

func TestParseOutputFormat(t *testing.T) {
	for _, s := range []string{"table", "JSON", "yaml"} {
		_, err := ParseOutputFormat(s)
		assert.NoError(t, err, s)
	}
	_, err := ParseOutputFormat("xml")
	assert.ErrorContains(t, err, `unsupported output format "xml"`)
}

func TestPrinter_ServicesTable(t *testing.T) {
	p, out, _ := newTestPrinter(OutputFormatTable)

	require.NoError(t, p.Services(rows))

	s := out.String()
	assert.Contains(t, s, "NAME")
	assert.Contains(t, s, "php-8.3")
	assert.Contains(t, s, "4242")
	assert.Contains(t, s, "Running")
	assert.Contains(t, s, "redis-7 (unmanaged)")
	assert.Contains(t, s, "redis-7: redis-7 exited with code 1")
}

func TestPrinter_ServicesJSON(t *testing.T) {
	p, out, _ := newTestPrinter(OutputFormatJSON)

	require.NoError(t, p.Services(rows))

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "Running", decoded[0]["status"])
	assert.EqualValues(t, 4242, decoded[0]["pid"])
	assert.NotContains(t, decoded[1], "pid")
}

func TestPrinter_ServicesYAML(t *testing.T) {
	p, out, _ := newTestPrinter(OutputFormatYAML)

	require.NoError(t, p.Services(rows))

	var decoded []ServiceRow
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, rows, decoded)
}

func TestPrinter_Empty(t *testing.T) {
	p, out, _ := newTestPrinter(OutputFormatTable)
	require.NoError(t, p.Services(nil))
	assert.Equal(t, "No services installed\n", out.String())

	quiet := NewPrinter(Options{Quiet: true, Out: out})
	out.Reset()
	require.NoError(t, quiet.Services(nil))
	assert.Empty(t, out.String())
}

func TestPrinter_Catalog(t *testing.T) {
	p, out, _ := newTestPrinter(OutputFormatTable)

	require.NoError(t, p.Catalog([]CatalogRow{
		{Name: "php-8.3", Category: "php", Installed: true, Description: strings.Repeat("long ", 20)},
		{Name: "php-8.2", Category: "php"},
	}))

	s := out.String()
	assert.Contains(t, s, "INSTALLED")
	assert.Contains(t, s, "yes")
	assert.Contains(t, s, "...")
}

func TestPrinter_Sites(t *testing.T) {
	p, out, _ := newTestPrinter(OutputFormatJSON)

	require.NoError(t, p.Sites([]string{"blog"}, func(s string) string { return s + ".test" }))

	assert.JSONEq(t, `[{"name":"blog","url":"http://blog.test"}]`, out.String())
}

func TestPrinter_PathTruncation(t *testing.T) {
	p := NewPrinter(Options{MaxPathWidth: 12})

	assert.Equal(t, "/short", p.path("/short"))

	got := p.path("/home/dev/.devstack/bin/php/php-8.3")
	assert.Equal(t, 12, runewidth.StringWidth(got))
	assert.True(t, strings.HasPrefix(got, "..."))
	assert.True(t, strings.HasSuffix(got, "/php-8.3"))

	wide := p.path("/srv/サイト/ブログ")
	assert.LessOrEqual(t, runewidth.StringWidth(wide), 12)
	assert.True(t, strings.HasSuffix(wide, "ブログ"))
}

func TestPrinter_StatusBadgeWithoutColor(t *testing.T) {
	p := NewPrinter(Options{})
	assert.Equal(t, "Stopping", p.StatusBadge(services.StatusStopping))
}

func TestPrinter_ProgressAndError(t *testing.T) {
	p, out, errOut := newTestPrinter(OutputFormatJSON)

	p.Progress()("Downloading php-8.3")
	p.Error(assert.AnError)

	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "› Downloading php-8.3\n")
	assert.Contains(t, errOut.String(), "Error: "+assert.AnError.Error())
}
