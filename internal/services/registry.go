package services

import (
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"devstack/internal/filesystem"
	"devstack/internal/template"
	"devstack/pkg/logging"
)

// Registry holds the installed service instances below one base directory.
type Registry struct {
	mu        sync.RWMutex
	fs        filesystem.FS
	baseDir   string
	templates []LaunchTemplate
	templater *template.Engine
	instances map[string]*Instance
}

// NewRegistry returns an empty registry. Call Discover to populate it.
func NewRegistry(fsys filesystem.FS, baseDir string, templates []LaunchTemplate) *Registry {
	return &Registry{
		fs:        fsys,
		baseDir:   baseDir,
		templates: templates,
		templater: template.New(),
		instances: make(map[string]*Instance),
	}
}

// BaseDir returns the directory the registry was created for.
func (r *Registry) BaseDir() string {
	return r.baseDir
}

// Discover scans <base>/bin/<category>/<name> for installed services.
// Directories with an install manifest are managed instances; non-empty
// directories without one are picked up as unmanaged manual installs.
// Instances that are already known keep their runtime state.
func (r *Registry) Discover() error {
	binDir := BinDir(r.baseDir)
	categories, err := r.fs.ReadDir(binDir)
	if err != nil {
		if !r.fs.Exists(binDir) {
			return nil
		}
		return err
	}

	found := make(map[string]*Instance)
	for _, cat := range categories {
		if !cat.IsDir() || strings.HasPrefix(cat.Name(), ".") {
			continue
		}
		entries, err := r.fs.ReadDir(filepath.Join(binDir, cat.Name()))
		if err != nil {
			logging.Warn("Registry", "Skipping category %s: %v", cat.Name(), err)
			continue
		}
		for _, e := range entries {
			// Dot entries are staging directories of in-flight installs.
			if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			dir := filepath.Join(binDir, cat.Name(), e.Name())
			managed := true
			if _, err := ReadManifest(r.fs, dir); err != nil {
				if filesystem.IsEmptyDir(r.fs, dir) {
					continue
				}
				managed = false
			}
			found[e.Name()] = r.newInstance(e.Name(), cat.Name(), dir, managed)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for name, inst := range found {
		if _, ok := r.instances[name]; !ok {
			r.instances[name] = inst
		}
	}
	for name, inst := range r.instances {
		if _, ok := found[name]; !ok && inst.Status() == StatusStopped {
			delete(r.instances, name)
		}
	}
	logging.Debug("Registry", "Discovered %d installed services in %s", len(found), binDir)
	return nil
}

// Get returns the instance with the given name.
func (r *Registry) Get(name string) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[name]
	return inst, ok
}

// All returns every instance ordered by category, then name.
func (r *Registry) All() []*Instance {
	r.mu.RLock()
	all := make([]*Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		all = append(all, inst)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(a, b int) bool {
		if all[a].Category != all[b].Category {
			return all[a].Category < all[b].Category
		}
		return all[a].Name < all[b].Name
	})
	return all
}

// Add registers the instance for a freshly installed definition. An already
// registered instance of the same name is returned unchanged.
func (r *Registry) Add(def Definition) *Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.instances[def.Name]; ok {
		return inst
	}
	inst := r.newInstance(def.Name, def.Category, InstallDir(r.baseDir, def.Category, def.Name), true)
	r.instances[def.Name] = inst
	return inst
}

// Remove forgets the named instance.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, name)
}

func (r *Registry) newInstance(name, category, dir string, managed bool) *Instance {
	inst := NewInstance(name, category, dir)
	inst.Managed = managed

	lt, ok := r.launchTemplate(name)
	if !ok {
		return inst
	}
	vars := map[string]string{
		"path":     dir,
		"name":     name,
		"category": category,
		"base":     r.baseDir,
	}
	cmd, err := r.templater.Replace(lt.Command, vars)
	if err != nil {
		logging.Warn("Registry", "Launch command for %s not usable: %v", name, err)
		return inst
	}
	wd, err := r.templater.Replace(lt.WorkingDir, vars)
	if err != nil {
		logging.Warn("Registry", "Working directory for %s not usable: %v", name, err)
		wd = ""
	}
	inst.LaunchCommand = cmd
	inst.WorkingDir = wd
	return inst
}

// launchTemplate returns the first template whose pattern matches name.
func (r *Registry) launchTemplate(name string) (LaunchTemplate, bool) {
	for _, lt := range r.templates {
		if ok, _ := path.Match(lt.Match, name); ok {
			return lt, true
		}
	}
	return LaunchTemplate{}, false
}
