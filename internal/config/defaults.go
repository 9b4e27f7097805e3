package config

import (
	"path/filepath"
	"runtime"
)

const (
	// DefaultHostsMarker tags hosts lines devstack manages.
	DefaultHostsMarker = "devstack"
	// DefaultRetryMax is the default number of download retries.
	DefaultRetryMax = 3

	defaultBaseDirName = ".devstack"
)

// GetDefaultConfig returns the built-in configuration. Paths derived from
// the base directory are filled in by finalize once all layers are merged.
func GetDefaultConfig() Config {
	enabled := true
	cfg := Config{
		AutoVirtualHosts: &enabled,
		HostsFile:        defaultHostsFile(),
		HostsMarker:      DefaultHostsMarker,
		Mode:             "native",
		LogLevel:         "info",
		WebServers: []WebServer{
			{Name: "nginx", Port: 80},
			{Name: "apache", Port: 8080},
		},
	}
	if runtime.GOOS != "windows" {
		cfg.ElevateCommand = "sudo"
	}
	return cfg
}

func defaultHostsFile() string {
	if runtime.GOOS == "windows" {
		return `C:\Windows\System32\drivers\etc\hosts`
	}
	return "/etc/hosts"
}

// finalize fills baseDir-relative defaults and expands "~/" prefixes.
func finalize(cfg Config, home string) Config {
	expand := func(p string) string {
		if home != "" && (p == "~" || len(p) > 1 && p[0] == '~' && (p[1] == '/' || p[1] == '\\')) {
			return filepath.Join(home, p[1:])
		}
		return p
	}

	if cfg.BaseDir == "" && home != "" {
		cfg.BaseDir = filepath.Join(home, defaultBaseDirName)
	}
	cfg.BaseDir = expand(cfg.BaseDir)

	orDerived := func(p string, elem ...string) string {
		if p != "" {
			return expand(p)
		}
		if cfg.BaseDir == "" {
			return ""
		}
		return filepath.Join(append([]string{cfg.BaseDir}, elem...)...)
	}
	cfg.WWWRoot = orDerived(cfg.WWWRoot, "www")
	cfg.ServiceCatalog = orDerived(cfg.ServiceCatalog, "catalog", "services.json")
	cfg.SiteCatalog = orDerived(cfg.SiteCatalog, "catalog", "sites.json")
	cfg.HostsFile = expand(cfg.HostsFile)

	servers := make([]WebServer, len(cfg.WebServers))
	for i, ws := range cfg.WebServers {
		ws.SitesEnabledDir = orDerived(ws.SitesEnabledDir, "etc", ws.Name, "sites-enabled")
		ws.Template = expand(ws.Template)
		servers[i] = ws
	}
	cfg.WebServers = servers
	return cfg
}
