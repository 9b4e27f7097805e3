// Package sites creates new sites below the www root from the site catalog
// and provisions their virtual host.
package sites

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"devstack/internal/archive"
	"devstack/internal/catalog"
	"devstack/internal/fault"
	"devstack/internal/filesystem"
	"devstack/internal/platform"
	"devstack/internal/progress"
	"devstack/internal/template"
	"devstack/pkg/logging"
)

const subsystem = "Sites"

// Fetcher downloads a URL to a local temporary file.
type Fetcher interface {
	Fetch(ctx context.Context, url string, report progress.Func) (string, error)
}

// CommandRunner runs a scaffolding command to completion. Commands quotes
// arguments for the shell the command runs under.
type CommandRunner interface {
	ExecuteWithSuccessCheck(ctx context.Context, command, workingDir string, report progress.Func) error
	Commands() platform.CommandManager
}

// VirtualHosts provisions the virtual host of a new site.
type VirtualHosts interface {
	CreateVirtualHost(ctx context.Context, site string, report progress.Func) error
}

// Creator creates sites of the types listed in a site catalog.
type Creator struct {
	fs        filesystem.FS
	fetcher   Fetcher
	extract   func(ctx context.Context, src, dest string, stripOuter bool) error
	runner    CommandRunner
	vhosts    VirtualHosts
	types     *catalog.SiteCatalog
	wwwRoot   string
	templater *template.Engine
}

// NewCreator returns a Creator placing sites below wwwRoot.
func NewCreator(fsys filesystem.FS, fetcher Fetcher, runner CommandRunner, vhosts VirtualHosts, types *catalog.SiteCatalog, wwwRoot string) *Creator {
	return &Creator{
		fs:        fsys,
		fetcher:   fetcher,
		extract:   archive.Extract,
		runner:    runner,
		vhosts:    vhosts,
		types:     types,
		wwwRoot:   wwwRoot,
		templater: template.New(),
	}
}

// Dir returns the directory of site.
func (c *Creator) Dir(site string) string {
	return filepath.Join(c.wwwRoot, site)
}

// Create installs a new site of siteType and then provisions its virtual
// host. A failed install never provisions the virtual host.
func (c *Creator) Create(ctx context.Context, site, siteType string, report progress.Func) error {
	if site == "" || site == "." || site == ".." || strings.ContainsAny(site, `/\ `) {
		return fault.New(fault.ConfigurationError, "site", "invalid site name %q", site)
	}
	st, ok := c.types.Lookup(siteType)
	if !ok {
		return fault.New(fault.ConfigurationError, "site", "unknown site type %q", siteType)
	}
	dest := c.Dir(site)
	if !filesystem.IsEmptyDir(c.fs, dest) {
		return fault.New(fault.ConfigurationError, "site", "%s already exists and is not empty", dest)
	}
	if err := c.fs.MkdirAll(c.wwwRoot, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", c.wwwRoot, err)
	}

	logging.Info(subsystem, "Creating %s site %s in %s", st.Name, site, dest)
	var err error
	switch st.InstallType {
	case catalog.InstallArchive:
		err = c.fromArchive(ctx, st, dest, report)
	case catalog.InstallCommand:
		err = c.fromCommand(ctx, st, site, report)
	default:
		err = fault.New(fault.ConfigurationError, "site", "site type %s has unknown install type %q", st.Name, st.InstallType)
	}
	if err != nil {
		logging.Error(subsystem, err, "Creating site %s failed", site)
		return err
	}
	progress.Report(report, fmt.Sprintf("Created %s", dest))

	return c.vhosts.CreateVirtualHost(ctx, site, report)
}

func (c *Creator) fromArchive(ctx context.Context, st catalog.SiteType, dest string, report progress.Func) error {
	archivePath, err := c.fetcher.Fetch(ctx, st.URL, report)
	if err != nil {
		return err
	}
	defer func() { _ = c.fs.Remove(archivePath) }()

	staging, err := c.fs.MkdirTemp(c.wwwRoot, ".staging-")
	if err != nil {
		return fault.Wrap(fault.ExtractionFailed, "site", c.wwwRoot, err, "creating staging directory")
	}
	committed := false
	defer func() {
		if !committed {
			_ = c.fs.RemoveAll(staging)
		}
	}()

	progress.Report(report, fmt.Sprintf("Extracting %s", st.Name))
	if err := c.extract(ctx, archivePath, staging, st.HasAdditionalDir); err != nil {
		return err
	}
	if c.fs.Exists(dest) {
		if err := c.fs.Remove(dest); err != nil {
			return fault.Wrap(fault.ExtractionFailed, "site", dest, err, "destination %s is in the way", dest)
		}
	}
	if err := c.fs.Rename(staging, dest); err != nil {
		return fault.Wrap(fault.ExtractionFailed, "site", dest, err, "moving site into place")
	}
	committed = true
	return nil
}

func (c *Creator) fromCommand(ctx context.Context, st catalog.SiteType, site string, report progress.Func) error {
	cmd, err := c.templater.Replace(st.Command, map[string]string{"name": c.runner.Commands().Quote(site)})
	if err != nil {
		return fault.Wrap(fault.TemplateProcessingError, "site", st.Name, err, "expanding command of site type %s", st.Name)
	}
	progress.Report(report, fmt.Sprintf("Running %s", cmd))
	if err := c.runner.ExecuteWithSuccessCheck(ctx, cmd, c.wwwRoot, report); err != nil {
		return err
	}
	if !c.fs.Exists(c.Dir(site)) {
		return fault.New(fault.CommandFailed, "site", "%q finished but did not create %s", cmd, c.Dir(site))
	}
	return nil
}

// List returns the names of the existing sites.
func (c *Creator) List() ([]string, error) {
	entries, err := c.fs.ReadDir(c.wwwRoot)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
