package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"devstack/internal/progress"
	"devstack/internal/services"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-runewidth"
	"gopkg.in/yaml.v3"
)

// OutputFormat represents the output format for CLI commands
type OutputFormat string

const (
	OutputFormatTable OutputFormat = "table"
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatYAML  OutputFormat = "yaml"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case OutputFormatTable, OutputFormatJSON, OutputFormatYAML:
		return f, nil
	}
	return "", fmt.Errorf("unsupported output format %q (want table, json or yaml)", s)
}

// Options controls how results are printed.
type Options struct {
	Format OutputFormat
	Quiet  bool
	// Color enables ANSI styling in tables and messages.
	Color bool
	// MaxPathWidth truncates long paths in tables; zero disables it.
	MaxPathWidth int
	Out          io.Writer
	Err          io.Writer
}

// Printer renders command results.
type Printer struct {
	opts Options
}

// NewPrinter returns a Printer writing to stdout and stderr unless Options
// names other writers.
func NewPrinter(opts Options) *Printer {
	if opts.Format == "" {
		opts.Format = OutputFormatTable
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Err == nil {
		opts.Err = os.Stderr
	}
	return &Printer{opts: opts}
}

// ServiceRow is one installed service in list and status output.
type ServiceRow struct {
	Name      string          `json:"name" yaml:"name"`
	Category  string          `json:"category" yaml:"category"`
	Status    services.Status `json:"status" yaml:"status"`
	PID       int             `json:"pid,omitempty" yaml:"pid,omitempty"`
	Managed   bool            `json:"managed" yaml:"managed"`
	Path      string          `json:"path" yaml:"path"`
	LastError string          `json:"lastError,omitempty" yaml:"lastError,omitempty"`
}

// CatalogRow is one catalog entry in catalog output.
type CatalogRow struct {
	Name        string `json:"name" yaml:"name"`
	Category    string `json:"category" yaml:"category"`
	Installed   bool   `json:"installed" yaml:"installed"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	URL         string `json:"url" yaml:"url"`
}

// Services prints installed services.
func (p *Printer) Services(rows []ServiceRow) error {
	if done, err := p.structured(rows); done {
		return err
	}
	if len(rows) == 0 {
		p.Message("No services installed")
		return nil
	}
	t := p.table("NAME", "CATEGORY", "STATUS", "PID", "PATH")
	for _, r := range rows {
		pid := ""
		if r.PID > 0 {
			pid = strconv.Itoa(r.PID)
		}
		name := r.Name
		if !r.Managed {
			name += p.dim(" (unmanaged)")
		}
		t.AppendRow(table.Row{name, r.Category, p.StatusBadge(r.Status), pid, p.path(r.Path)})
	}
	t.Render()

	for _, r := range rows {
		if r.LastError != "" {
			fmt.Fprintf(p.opts.Out, "%s %s: %s\n", p.warn("!"), r.Name, r.LastError)
		}
	}
	return nil
}

// Catalog prints catalog entries.
func (p *Printer) Catalog(rows []CatalogRow) error {
	if done, err := p.structured(rows); done {
		return err
	}
	if len(rows) == 0 {
		p.Message("The catalog is empty")
		return nil
	}
	t := p.table("NAME", "CATEGORY", "INSTALLED", "DESCRIPTION")
	for _, r := range rows {
		installed := ""
		if r.Installed {
			installed = p.ok("yes")
		}
		t.AppendRow(table.Row{r.Name, r.Category, installed, runewidth.Truncate(r.Description, 50, "...")})
	}
	t.Render()
	return nil
}

// Sites prints site names with their local URL.
func (p *Printer) Sites(names []string, domain func(string) string) error {
	type siteRow struct {
		Name string `json:"name" yaml:"name"`
		URL  string `json:"url" yaml:"url"`
	}
	rows := make([]siteRow, len(names))
	for i, n := range names {
		rows[i] = siteRow{Name: n, URL: "http://" + domain(n)}
	}
	if done, err := p.structured(rows); done {
		return err
	}
	if len(rows) == 0 {
		p.Message("No sites yet")
		return nil
	}
	t := p.table("SITE", "URL")
	for _, r := range rows {
		t.AppendRow(table.Row{r.Name, r.URL})
	}
	t.Render()
	return nil
}

// structured prints v as JSON or YAML when that format was requested.
func (p *Printer) structured(v any) (bool, error) {
	switch p.opts.Format {
	case OutputFormatJSON:
		enc := json.NewEncoder(p.opts.Out)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case OutputFormatYAML:
		enc := yaml.NewEncoder(p.opts.Out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, err
		}
		return true, enc.Close()
	case OutputFormatTable:
		return false, nil
	default:
		return true, fmt.Errorf("unsupported output format: %s", p.opts.Format)
	}
}

func (p *Printer) table(headers ...string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(p.opts.Out)
	t.SetStyle(table.StyleRounded)
	row := make(table.Row, len(headers))
	for i, h := range headers {
		if p.opts.Color {
			row[i] = text.FgHiCyan.Sprint(h)
		} else {
			row[i] = h
		}
	}
	t.AppendHeader(row)
	return t
}

var (
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	stoppedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	busyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Faint(true)
)

// StatusBadge renders a status for tables.
func (p *Printer) StatusBadge(s services.Status) string {
	label := string(s)
	if !p.opts.Color {
		return label
	}
	switch s {
	case services.StatusRunning:
		return runningStyle.Render("● " + label)
	case services.StatusStarting, services.StatusStopping:
		return busyStyle.Render("◌ " + label)
	default:
		return stoppedStyle.Render("○ " + label)
	}
}

func (p *Printer) style(s lipgloss.Style, str string) string {
	if !p.opts.Color {
		return str
	}
	return s.Render(str)
}

func (p *Printer) dim(s string) string  { return p.style(dimStyle, s) }
func (p *Printer) ok(s string) string   { return p.style(runningStyle, s) }
func (p *Printer) warn(s string) string { return p.style(busyStyle, s) }

// path shortens a path to MaxPathWidth cells, keeping its tail.
func (p *Printer) path(s string) string {
	limit := p.opts.MaxPathWidth
	if limit <= 0 || runewidth.StringWidth(s) <= limit {
		return s
	}
	const ellipsis = "..."
	budget := limit - runewidth.StringWidth(ellipsis)
	runes := []rune(s)
	width := 0
	i := len(runes)
	for i > 0 {
		w := runewidth.RuneWidth(runes[i-1])
		if width+w > budget {
			break
		}
		width += w
		i--
	}
	return ellipsis + string(runes[i:])
}

// Message prints an informational line unless Quiet is set.
func (p *Printer) Message(format string, args ...any) {
	if p.opts.Quiet {
		return
	}
	fmt.Fprintf(p.opts.Out, format+"\n", args...)
}

// Error prints a failure to the error writer.
func (p *Printer) Error(err error) {
	fmt.Fprintf(p.opts.Err, "%s %v\n", p.style(errorStyle, "Error:"), err)
}

// Progress returns a progress.Func that prints each message on its own
// line to the error writer, keeping stdout clean for structured output.
func (p *Printer) Progress() progress.Func {
	if p.opts.Quiet {
		return progress.Nop
	}
	return progress.Serialize(func(msg string) {
		fmt.Fprintf(p.opts.Err, "%s %s\n", p.dim("›"), msg)
	})
}
