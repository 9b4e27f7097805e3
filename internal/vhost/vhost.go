// Package vhost provisions web server virtual hosts and hosts-file entries
// for local sites.
//
// Each site <name> is served as <name>.test from <wwwRoot>/<name>. For every
// configured web server a config named auto.<domain>.conf is rendered into
// its sites-enabled directory, and a loopback line tagged with a marker
// comment is added to the hosts file.
//
// Every write is guarded by an existence check, so provisioning the same
// site again changes nothing: configs are only written when absent (manual
// edits survive) and the hosts line is only added when the domain is not
// already mentioned anywhere in the file.
//
// When the hosts file is not writable the append is retried through an
// elevated child process running "devstack hosts append". If that fails too
// the returned HostsUpdateFailed error carries the exact line to add by hand.
package vhost

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"

	"devstack/internal/fault"
	"devstack/internal/filesystem"
	"devstack/internal/platform"
	"devstack/internal/progress"
	"devstack/internal/template"
	"devstack/pkg/logging"
)

const subsystem = "VHost"

// DefaultTLD is the suffix appended to site names.
const DefaultTLD = "test"

// Settings exposes the user's automatic virtual host preference.
type Settings interface {
	AutoVirtualHostsEnabled() bool
}

// CommandRunner runs the elevated hosts-file child process.
// *executor.Executor implements it.
type CommandRunner interface {
	ExecuteWithSuccessCheck(ctx context.Context, command, workingDir string, report progress.Func) error
}

// Mapping ties a site to its domain and document root.
type Mapping struct {
	Site         string
	Domain       string
	DocumentRoot string
}

// Options configures a Provisioner.
type Options struct {
	WWWRoot     string
	HostsFile   string
	HostsMarker string
	Servers     []Server
	// Executable is the path of this program, re-invoked for elevation.
	Executable string
}

// Provisioner creates and removes site virtual hosts.
type Provisioner struct {
	fs        filesystem.FS
	settings  Settings
	runner    CommandRunner
	commands  platform.CommandManager
	opts      Options
	templater *template.Engine
}

// New returns a Provisioner. runner and commands execute the elevated
// fallback on the host; both may be nil to disable it.
func New(fsys filesystem.FS, settings Settings, runner CommandRunner, commands platform.CommandManager, opts Options) *Provisioner {
	return &Provisioner{
		fs:        fsys,
		settings:  settings,
		runner:    runner,
		commands:  commands,
		opts:      opts,
		templater: template.NewAngle(),
	}
}

// MappingFor returns the domain mapping for a site.
func (p *Provisioner) MappingFor(site string) Mapping {
	return Mapping{
		Site:         site,
		Domain:       site + "." + DefaultTLD,
		DocumentRoot: filepath.Join(p.opts.WWWRoot, site),
	}
}

// CreateVirtualHost writes the web server configs and the hosts entry for
// site. It is a no-op when automatic virtual hosts are disabled. The first
// failing step aborts the call; steps already done stay done and are
// skipped on retry.
func (p *Provisioner) CreateVirtualHost(ctx context.Context, site string, report progress.Func) error {
	if !p.settings.AutoVirtualHostsEnabled() {
		progress.Report(report, fmt.Sprintf("Automatic virtual hosts are disabled; not creating one for %s", site))
		return nil
	}
	if err := validateSite(site); err != nil {
		return err
	}

	m := p.MappingFor(site)
	logging.Info(subsystem, "Creating virtual host %s -> %s", m.Domain, m.DocumentRoot)

	for _, srv := range p.opts.Servers {
		if err := p.writeConfig(srv, m, report); err != nil {
			return err
		}
	}

	if err := p.EnsureHostsEntry(ctx, m.Domain, report); err != nil {
		return err
	}

	progress.Report(report, fmt.Sprintf("Virtual host http://%s is ready", m.Domain))
	return nil
}

// Render substitutes the site's values into a server template.
func (p *Provisioner) Render(srv Server, m Mapping) (string, error) {
	out, err := p.templater.Replace(srv.Template, map[string]string{
		"PORT":        strconv.Itoa(srv.Port),
		"PROJECT_DIR": filepath.ToSlash(m.DocumentRoot),
		"HOSTNAME":    m.Domain,
		"SITENAME":    m.Site,
	})
	if err != nil {
		return "", fault.Wrap(fault.TemplateProcessingError, "vhost", srv.Name, err,
			"rendering %s template for %s", srv.Name, m.Domain)
	}
	return out, nil
}

func (p *Provisioner) writeConfig(srv Server, m Mapping, report progress.Func) error {
	path := filepath.Join(srv.SitesEnabledDir, ConfigFileName(m.Domain))
	if p.fs.Exists(path) {
		progress.Report(report, fmt.Sprintf("%s config %s already exists; leaving it unchanged", srv.Name, path))
		return nil
	}

	rendered, err := p.Render(srv, m)
	if err != nil {
		return err
	}

	if err := p.fs.WriteFile(path, []byte(rendered), 0o644); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return fault.Wrap(fault.PrivilegeRequired, "vhost", path, err, "cannot write %s config", srv.Name)
		}
		return fmt.Errorf("writing %s config %s: %w", srv.Name, path, err)
	}
	logging.Debug(subsystem, "Wrote %s", path)
	progress.Report(report, fmt.Sprintf("Created %s config %s", srv.Name, path))
	return nil
}

// EnsureHostsEntry adds the loopback line for domain unless the hosts file
// already mentions it. A permission failure is retried elevated.
func (p *Provisioner) EnsureHostsEntry(ctx context.Context, domain string, report progress.Func) error {
	file := p.opts.HostsFile
	line := HostsLine(domain, p.opts.HostsMarker)

	added, err := AppendHostsLine(p.fs, file, line)
	switch {
	case err == nil && !added:
		progress.Report(report, fmt.Sprintf("%s already mentions %s; not touching it", file, domain))
		return nil
	case err == nil:
		progress.Report(report, fmt.Sprintf("Added %s to %s", domain, file))
		return nil
	case !errors.Is(err, fs.ErrPermission):
		return hostsFailed(file, line, err)
	}

	if p.runner == nil || p.commands == nil || p.opts.Executable == "" {
		return hostsFailed(file, line, fault.New(fault.PrivilegeRequired, "hosts", "no elevation available"))
	}

	progress.Report(report, fmt.Sprintf("No permission to write %s; retrying with elevated rights", file))
	cmd := p.commands.Elevate(strings.Join([]string{
		p.commands.Quote(p.opts.Executable), "hosts", "append",
		"--file", p.commands.Quote(file),
		"--line", p.commands.Quote(line),
	}, " "))
	if err := p.runner.ExecuteWithSuccessCheck(ctx, cmd, "", report); err != nil {
		return hostsFailed(file, line, err)
	}
	progress.Report(report, fmt.Sprintf("Added %s to %s", domain, file))
	return nil
}

// RemoveVirtualHost deletes the generated configs and the marker-tagged
// hosts lines for site. Hand-written hosts lines are kept.
func (p *Provisioner) RemoveVirtualHost(ctx context.Context, site string, report progress.Func) error {
	if err := validateSite(site); err != nil {
		return err
	}
	m := p.MappingFor(site)

	for _, srv := range p.opts.Servers {
		path := filepath.Join(srv.SitesEnabledDir, ConfigFileName(m.Domain))
		if !p.fs.Exists(path) {
			continue
		}
		if err := p.fs.Remove(path); err != nil {
			return fmt.Errorf("removing %s config %s: %w", srv.Name, path, err)
		}
		progress.Report(report, fmt.Sprintf("Removed %s", path))
	}

	file := p.opts.HostsFile
	changed, err := RemoveHostsLines(p.fs, file, m.Domain, p.opts.HostsMarker)
	switch {
	case err == nil:
		if changed {
			progress.Report(report, fmt.Sprintf("Removed %s from %s", m.Domain, file))
		}
		return nil
	case !errors.Is(err, fs.ErrPermission) || p.runner == nil || p.commands == nil || p.opts.Executable == "":
		return fault.Wrap(fault.HostsUpdateFailed, "hosts", file, err,
			"could not remove %s from %s; delete lines tagged #%s by hand", m.Domain, file, p.opts.HostsMarker)
	}

	cmd := p.commands.Elevate(strings.Join([]string{
		p.commands.Quote(p.opts.Executable), "hosts", "remove",
		"--file", p.commands.Quote(file),
		"--domain", p.commands.Quote(m.Domain),
		"--marker", p.commands.Quote(p.opts.HostsMarker),
	}, " "))
	if err := p.runner.ExecuteWithSuccessCheck(ctx, cmd, "", report); err != nil {
		return fault.Wrap(fault.HostsUpdateFailed, "hosts", file, err,
			"could not remove %s from %s; delete lines tagged #%s by hand", m.Domain, file, p.opts.HostsMarker)
	}
	return nil
}

func hostsFailed(file, line string, err error) error {
	logging.Error(subsystem, err, "Updating %s failed", file)
	return fault.Wrap(fault.HostsUpdateFailed, "hosts", file, err,
		"could not update %s; add this line manually: %s", file, line)
}

// ManualLine extracts the hosts line from a HostsUpdateFailed error.
func ManualLine(err error) (string, bool) {
	var fe *fault.Error
	if !errors.As(err, &fe) || fe.Kind != fault.HostsUpdateFailed {
		return "", false
	}
	_, line, ok := strings.Cut(fe.Msg, "add this line manually: ")
	return line, ok
}

func validateSite(site string) error {
	if site == "" || site == "." || site == ".." || strings.ContainsAny(site, `/\ `) {
		return fault.New(fault.ConfigurationError, "vhost", "invalid site name %q", site)
	}
	return nil
}
