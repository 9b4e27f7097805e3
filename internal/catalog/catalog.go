// Package catalog reads the service and site catalogs: JSON files, with
// comments and trailing commas allowed, that describe what can be installed.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"

	"devstack/internal/fault"
	"devstack/internal/services"

	"github.com/Masterminds/semver/v3"
	"github.com/tidwall/jsonc"
)

// ServiceEntry is one installable version of a service.
type ServiceEntry struct {
	Name        string `json:"name" yaml:"name"`
	URL         string `json:"url" yaml:"url"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Category groups service entries. HasAdditionalDir marks archives that
// wrap their content in a single top-level directory.
type Category struct {
	Name             string         `json:"name" yaml:"name"`
	HasAdditionalDir bool           `json:"has_additional_dir" yaml:"hasAdditionalDir"`
	Services         []ServiceEntry `json:"services" yaml:"services"`
}

// ServiceCatalog is the parsed service catalog.
type ServiceCatalog struct {
	Categories []Category `json:"categories" yaml:"categories"`
}

// Install types of a site.
const (
	InstallArchive = "archive"
	InstallCommand = "command"
)

// SiteType describes how a new site of this type is created.
type SiteType struct {
	Name             string `json:"name" yaml:"name"`
	InstallType      string `json:"install_type" yaml:"installType"`
	URL              string `json:"url,omitempty" yaml:"url,omitempty"`
	Command          string `json:"command,omitempty" yaml:"command,omitempty"`
	HasAdditionalDir bool   `json:"has_additional_dir" yaml:"hasAdditionalDir"`
}

// SiteCatalog is the parsed site catalog.
type SiteCatalog struct {
	Types []SiteType `json:"types" yaml:"types"`
}

// LoadServices reads and validates a service catalog.
func LoadServices(path string) (*ServiceCatalog, error) {
	var c ServiceCatalog
	if err := load(path, &c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fault.Wrap(fault.ConfigurationError, "catalog", path, err, "invalid service catalog %s", path)
	}
	return &c, nil
}

// LoadSites reads and validates a site catalog.
func LoadSites(path string) (*SiteCatalog, error) {
	var c SiteCatalog
	if err := load(path, &c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fault.Wrap(fault.ConfigurationError, "catalog", path, err, "invalid site catalog %s", path)
	}
	return &c, nil
}

func load(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fault.Wrap(fault.ConfigurationError, "catalog", path, err, "reading catalog %s", path)
	}
	if err := json.Unmarshal(jsonc.ToJSON(data), v); err != nil {
		return fault.Wrap(fault.ConfigurationError, "catalog", path, err, "parsing catalog %s", path)
	}
	return nil
}

// Validate checks that every category and entry is named and that service
// names are unique across categories.
func (c *ServiceCatalog) Validate() error {
	seen := make(map[string]string)
	for i, cat := range c.Categories {
		if cat.Name == "" {
			return fmt.Errorf("category %d has no name", i)
		}
		for _, e := range cat.Services {
			if e.Name == "" {
				return fmt.Errorf("category %s has an unnamed service", cat.Name)
			}
			if strings.ContainsAny(e.Name, `/\`) {
				return fmt.Errorf("service name %q contains a path separator", e.Name)
			}
			if prev, dup := seen[e.Name]; dup {
				return fmt.Errorf("service %s appears in both %s and %s", e.Name, prev, cat.Name)
			}
			seen[e.Name] = cat.Name
		}
	}
	return nil
}

// Definitions flattens the catalog. Categories keep their file order;
// within a category entries are ordered newest version first, and entries
// without a recognisable version follow in name order.
func (c *ServiceCatalog) Definitions() []services.Definition {
	var defs []services.Definition
	for _, cat := range c.Categories {
		entries := slices.Clone(cat.Services)
		slices.SortStableFunc(entries, func(a, b ServiceEntry) int {
			return compareEntries(a.Name, b.Name)
		})
		for _, e := range entries {
			defs = append(defs, services.Definition{
				Name:        e.Name,
				Category:    cat.Name,
				URL:         e.URL,
				Description: e.Description,
				HasOuterDir: cat.HasAdditionalDir,
			})
		}
	}
	return defs
}

// Lookup returns the definition named name.
func (c *ServiceCatalog) Lookup(name string) (services.Definition, bool) {
	for _, def := range c.Definitions() {
		if def.Name == name {
			return def, true
		}
	}
	return services.Definition{}, false
}

var versionPattern = regexp.MustCompile(`\d+(\.\d+){0,2}`)

// Version extracts the version embedded in a service name such as
// "php-8.3.4" or "mariadb11.4".
func Version(name string) (*semver.Version, bool) {
	m := versionPattern.FindString(name)
	if m == "" {
		return nil, false
	}
	v, err := semver.NewVersion(m)
	if err != nil {
		return nil, false
	}
	return v, true
}

func compareEntries(a, b string) int {
	va, okA := Version(a)
	vb, okB := Version(b)
	switch {
	case okA && okB:
		if c := vb.Compare(va); c != 0 {
			return c
		}
	case okA:
		return -1
	case okB:
		return 1
	}
	return strings.Compare(a, b)
}

// Validate checks that every site type can be installed.
func (c *SiteCatalog) Validate() error {
	seen := make(map[string]bool)
	for i, st := range c.Types {
		if st.Name == "" {
			return fmt.Errorf("site type %d has no name", i)
		}
		if seen[st.Name] {
			return fmt.Errorf("site type %s is defined twice", st.Name)
		}
		seen[st.Name] = true

		switch st.InstallType {
		case InstallArchive:
			if st.URL == "" {
				return fmt.Errorf("site type %s installs from an archive but has no url", st.Name)
			}
		case InstallCommand:
			if st.Command == "" {
				return fmt.Errorf("site type %s installs with a command but has no command", st.Name)
			}
		default:
			return fmt.Errorf("site type %s has unknown install_type %q (want %q or %q)",
				st.Name, st.InstallType, InstallArchive, InstallCommand)
		}
	}
	return nil
}

// Lookup returns the site type named name.
func (c *SiteCatalog) Lookup(name string) (SiteType, bool) {
	for _, st := range c.Types {
		if st.Name == name {
			return st, true
		}
	}
	return SiteType{}, false
}
