package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"devstack/internal/fault"
	"devstack/internal/platform"
	"devstack/pkg/logging"

	"gopkg.in/yaml.v3"
)

// For mocking in tests
var osUserHomeDir = os.UserHomeDir
var osGetwd = os.Getwd

const (
	userConfigDir    = ".config/devstack"
	projectConfigDir = ".devstack"
	configFileName   = "config.yaml"
)

// LoadConfig loads the devstack configuration by layering default, user,
// and project settings, then validates the result.
func LoadConfig() (Config, error) {
	config := GetDefaultConfig()

	for _, layer := range []struct {
		name string
		path func() (string, error)
	}{
		{"user", getUserConfigPath},
		{"project", getProjectConfigPath},
	} {
		path, err := layer.path()
		if err != nil {
			// Optional layer.
			logging.Warn("Config", "Could not determine %s config path: %v", layer.name, err)
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		overlay, err := loadConfigFromFile(path)
		if err != nil {
			return Config{}, fault.Wrap(fault.ConfigurationError, "config", path, err,
				"error loading %s config from %s", layer.name, path)
		}
		logging.Debug("Config", "Loaded %s config from %s", layer.name, path)
		config = mergeConfigs(config, overlay)
	}

	home, err := osUserHomeDir()
	if err != nil {
		home = ""
	}
	config = finalize(config, home)

	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

var getUserConfigPath = func() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

var getProjectConfigPath = func() (string, error) {
	wd, err := osGetwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, projectConfigDir, configFileName), nil
}

// loadConfigFromFile loads one configuration layer. Unknown keys are
// rejected so typos do not silently fall back to defaults.
func loadConfigFromFile(filePath string) (Config, error) {
	var config Config
	data, err := os.ReadFile(filePath)
	if err != nil {
		return Config{}, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}
	return config, nil
}

// mergeConfigs merges 'overlay' config into 'base' config.
func mergeConfigs(base, overlay Config) Config {
	merged := base

	setString := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setString(&merged.BaseDir, overlay.BaseDir)
	setString(&merged.WWWRoot, overlay.WWWRoot)
	setString(&merged.HostsFile, overlay.HostsFile)
	setString(&merged.HostsMarker, overlay.HostsMarker)
	setString(&merged.Mode, overlay.Mode)
	setString(&merged.WSLDistro, overlay.WSLDistro)
	setString(&merged.ElevateCommand, overlay.ElevateCommand)
	setString(&merged.ServiceCatalog, overlay.ServiceCatalog)
	setString(&merged.SiteCatalog, overlay.SiteCatalog)
	setString(&merged.LogLevel, overlay.LogLevel)

	if overlay.AutoVirtualHosts != nil {
		merged.AutoVirtualHosts = overlay.AutoVirtualHosts
	}
	if overlay.Download.RetryMax != nil {
		merged.Download.RetryMax = overlay.Download.RetryMax
	}

	// Web servers merge field by field on name, keeping base order.
	merged.WebServers = append([]WebServer(nil), base.WebServers...)
	for _, ws := range overlay.WebServers {
		i := indexOf(merged.WebServers, func(b WebServer) bool { return b.Name == ws.Name })
		if i < 0 {
			merged.WebServers = append(merged.WebServers, ws)
			continue
		}
		cur := &merged.WebServers[i]
		if ws.Port != 0 {
			cur.Port = ws.Port
		}
		setString(&cur.SitesEnabledDir, ws.SitesEnabledDir)
		setString(&cur.Template, ws.Template)
	}

	// Launch entries replace on match pattern.
	merged.Services = append([]ServiceLaunch(nil), base.Services...)
	for _, svc := range overlay.Services {
		i := indexOf(merged.Services, func(b ServiceLaunch) bool { return b.Match == svc.Match })
		if i < 0 {
			merged.Services = append(merged.Services, svc)
		} else {
			merged.Services[i] = svc
		}
	}

	return merged
}

func indexOf[T any](s []T, match func(T) bool) int {
	for i, v := range s {
		if match(v) {
			return i
		}
	}
	return -1
}

// Validate checks the merged configuration.
func (c Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return fault.New(fault.ConfigurationError, "config", "invalid configuration: "+format, args...)
	}

	if c.BaseDir == "" {
		return invalid("baseDir is not set")
	}
	if c.WWWRoot == "" {
		return invalid("wwwRoot is not set")
	}
	if _, err := platform.ParseMode(c.Mode); err != nil {
		return invalid("%v", err)
	}
	if c.Mode == string(platform.ModeWSL) && c.WSLDistro == "" {
		return invalid("mode wsl requires wslDistro")
	}
	if c.HostsMarker == "" {
		return invalid("hostsMarker is not set")
	}
	if c.Download.RetryMax != nil && *c.Download.RetryMax < 0 {
		return invalid("download.retryMax must not be negative")
	}

	names := make(map[string]bool)
	for _, ws := range c.WebServers {
		if ws.Name == "" {
			return invalid("web server without a name")
		}
		if names[ws.Name] {
			return invalid("web server %s is defined twice", ws.Name)
		}
		names[ws.Name] = true
		if ws.SitesEnabledDir == "" {
			return invalid("web server %s has no sitesEnabledDir", ws.Name)
		}
		if ws.Port < 1 || ws.Port > 65535 {
			return invalid("web server %s has port %d out of range", ws.Name, ws.Port)
		}
	}

	for i, svc := range c.Services {
		if svc.Match == "" {
			return invalid("services[%d] has no match pattern", i)
		}
		if svc.LaunchCommand == "" {
			return invalid("services entry %q has no launchCommand", svc.Match)
		}
		if _, err := path.Match(svc.Match, ""); err != nil {
			return invalid("services entry %q: %v", svc.Match, err)
		}
	}
	return nil
}

// GetUserConfigDir returns the user configuration directory path
func GetUserConfigDir() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// String renders the configuration as YAML.
func (c Config) String() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("<unprintable config: %v>", err)
	}
	return string(data)
}
