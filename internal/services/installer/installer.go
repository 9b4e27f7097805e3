// Package installer installs and removes service versions below
// <base>/bin/<category>/<name>.
//
// An install downloads the archive, extracts it into a dot-prefixed staging
// directory next to the destination, writes the install manifest and then
// renames the staging directory into place. The destination therefore
// either does not exist or holds a complete tree; an interrupted install
// leaves at most a staging directory, which discovery ignores.
package installer

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"devstack/internal/archive"
	"devstack/internal/fault"
	"devstack/internal/filesystem"
	"devstack/internal/progress"
	"devstack/internal/services"
	"devstack/pkg/logging"

	"github.com/zeebo/blake3"
)

const subsystem = "Installer"

// Fetcher downloads a URL to a local temporary file.
type Fetcher interface {
	Fetch(ctx context.Context, url string, report progress.Func) (string, error)
}

// ExtractFunc unpacks an archive into dest.
type ExtractFunc func(ctx context.Context, src, dest string, stripOuter bool) error

// Stopper stops a running instance. *runner.Runner implements it.
type Stopper interface {
	Stop(ctx context.Context, inst *services.Instance) bool
}

// Installer installs service definitions into the registry's base directory.
type Installer struct {
	fs       filesystem.FS
	fetcher  Fetcher
	extract  ExtractFunc
	stopper  Stopper
	registry *services.Registry
	now      func() time.Time
}

// New returns an Installer extracting with archive.Extract.
func New(fsys filesystem.FS, fetcher Fetcher, stopper Stopper, registry *services.Registry) *Installer {
	return &Installer{
		fs:       fsys,
		fetcher:  fetcher,
		extract:  archive.Extract,
		stopper:  stopper,
		registry: registry,
		now:      time.Now,
	}
}

// Destination returns where def is installed.
func (i *Installer) Destination(def services.Definition) string {
	return services.InstallDir(i.registry.BaseDir(), def.Category, def.Name)
}

// IsInstalled reports whether def's destination holds an install. A
// readable manifest marks a managed install; a non-empty directory without
// one is a manual install and counts as installed too.
func (i *Installer) IsInstalled(def services.Definition) bool {
	installed, _ := i.state(def)
	return installed
}

func (i *Installer) state(def services.Definition) (installed, managed bool) {
	dest := i.Destination(def)
	if _, err := services.ReadManifest(i.fs, dest); err == nil {
		return true, true
	}
	if i.fs.Exists(dest) && !filesystem.IsEmptyDir(i.fs, dest) {
		return true, false
	}
	return false, false
}

// Install downloads and installs def. An existing install is left alone
// and reported as a success.
func (i *Installer) Install(ctx context.Context, def services.Definition, report progress.Func) services.InstallationResult {
	dest := i.Destination(def)

	if installed, managed := i.state(def); installed {
		msg := fmt.Sprintf("%s is already installed", def.Name)
		if !managed {
			msg += " (unmanaged)"
		}
		progress.Report(report, msg)
		return services.InstallationResult{Success: true, Message: msg, Path: dest}
	}

	if inst, ok := i.registry.Get(def.Name); ok {
		inst.SetLoading(true)
		defer inst.SetLoading(false)
	}

	if err := i.install(ctx, def, dest, report); err != nil {
		logging.Error(subsystem, err, "Installing %s failed", def.Name)
		progress.Report(report, err.Error())
		return services.InstallationResult{Message: err.Error(), Err: err}
	}

	i.registry.Add(def)
	msg := fmt.Sprintf("Installed %s to %s", def.Name, dest)
	logging.Info(subsystem, "%s", msg)
	progress.Report(report, msg)
	return services.InstallationResult{Success: true, Message: msg, Path: dest}
}

func (i *Installer) install(ctx context.Context, def services.Definition, dest string, report progress.Func) error {
	if def.URL == "" {
		return fault.New(fault.ConfigurationError, "install", "no download URL for %s", def.Name)
	}

	archivePath, err := i.fetcher.Fetch(ctx, def.URL, report)
	if err != nil {
		return err
	}
	defer func() {
		if err := i.fs.Remove(archivePath); err != nil {
			logging.Debug(subsystem, "Leaving temporary download %s: %v", archivePath, err)
		}
	}()

	digest, err := fileDigest(archivePath)
	if err != nil {
		return fault.Wrap(fault.DownloadFailed, "install", archivePath, err, "reading downloaded archive")
	}

	parent := filepath.Dir(dest)
	if err := i.fs.MkdirAll(parent, 0o755); err != nil {
		return fault.Wrap(fault.ExtractionFailed, "install", parent, err, "creating %s", parent)
	}
	staging, err := i.fs.MkdirTemp(parent, ".staging-"+def.Name+"-")
	if err != nil {
		return fault.Wrap(fault.ExtractionFailed, "install", parent, err, "creating staging directory")
	}
	committed := false
	defer func() {
		if !committed {
			if err := i.fs.RemoveAll(staging); err != nil {
				logging.Warn(subsystem, "Could not clean up %s: %v", staging, err)
			}
		}
	}()

	progress.Report(report, fmt.Sprintf("Extracting %s", def.Name))
	if err := i.extract(ctx, archivePath, staging, def.HasOuterDir); err != nil {
		return err
	}

	manifest := &services.Manifest{
		Name:        def.Name,
		Category:    def.Category,
		URL:         def.URL,
		Digest:      "blake3:" + digest,
		InstalledAt: i.now().UTC(),
	}
	if err := services.WriteManifest(i.fs, staging, manifest); err != nil {
		return fault.Wrap(fault.ExtractionFailed, "install", staging, err, "writing install manifest")
	}

	// An empty leftover destination would make the rename fail.
	if i.fs.Exists(dest) {
		if err := i.fs.Remove(dest); err != nil {
			return fault.Wrap(fault.ExtractionFailed, "install", dest, err, "destination %s is in the way", dest)
		}
	}
	if err := i.fs.Rename(staging, dest); err != nil {
		return fault.Wrap(fault.ExtractionFailed, "install", dest, err, "moving %s into place", def.Name)
	}
	committed = true
	return nil
}

// Uninstall stops the named service if it is running and removes its
// install directory.
func (i *Installer) Uninstall(ctx context.Context, name string, report progress.Func) error {
	inst, ok := i.registry.Get(name)
	if !ok {
		if err := i.registry.Discover(); err != nil {
			return fault.Wrap(fault.UninstallFailed, "uninstall", name, err, "scanning installed services")
		}
		if inst, ok = i.registry.Get(name); !ok {
			return fault.New(fault.UninstallFailed, "uninstall", "%s is not installed", name)
		}
	}

	inst.SetLoading(true)
	defer inst.SetLoading(false)

	if inst.Status() != services.StatusStopped {
		progress.Report(report, fmt.Sprintf("Stopping %s", name))
		i.stopper.Stop(ctx, inst)
	}

	progress.Report(report, fmt.Sprintf("Removing %s", inst.Path))
	if err := i.fs.RemoveAll(inst.Path); err != nil {
		msg := "could not remove %s; a file may still be in use"
		if errors.Is(err, fs.ErrPermission) {
			msg = "could not remove %s; permission denied or a file is locked"
		}
		return fault.Wrap(fault.UninstallFailed, "uninstall", inst.Path, err, msg, inst.Path)
	}

	i.registry.Remove(name)
	msg := fmt.Sprintf("Uninstalled %s", name)
	logging.Info(subsystem, "%s", msg)
	progress.Report(report, msg)
	return nil
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
