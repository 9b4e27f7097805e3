package config

// Config is the top-level configuration structure for devstack.
type Config struct {
	BaseDir          string `yaml:"baseDir,omitempty"`
	WWWRoot          string `yaml:"wwwRoot,omitempty"`
	AutoVirtualHosts *bool  `yaml:"autoVirtualHosts,omitempty"`
	HostsFile        string `yaml:"hostsFile,omitempty"`
	HostsMarker      string `yaml:"hostsMarker,omitempty"`
	Mode             string `yaml:"mode,omitempty"`
	WSLDistro        string `yaml:"wslDistro,omitempty"`
	ElevateCommand   string `yaml:"elevateCommand,omitempty"`
	ServiceCatalog   string `yaml:"serviceCatalog,omitempty"`
	SiteCatalog      string `yaml:"siteCatalog,omitempty"`
	LogLevel         string `yaml:"logLevel,omitempty"`

	WebServers []WebServer      `yaml:"webServers,omitempty"`
	Services   []ServiceLaunch  `yaml:"services,omitempty"`
	Download   DownloadSettings `yaml:"download,omitempty"`
}

// WebServer receives generated virtual host configs.
type WebServer struct {
	Name            string `yaml:"name"`
	Port            int    `yaml:"port,omitempty"`
	SitesEnabledDir string `yaml:"sitesEnabledDir,omitempty"`
	// Template is a path to a template file; empty uses the built-in one.
	Template string `yaml:"template,omitempty"`
}

// ServiceLaunch sets how installed services whose name matches Match
// (a path.Match pattern) are started.
type ServiceLaunch struct {
	Match         string `yaml:"match"`
	LaunchCommand string `yaml:"launchCommand"`
	WorkingDir    string `yaml:"workingDir,omitempty"`
}

// DownloadSettings tunes archive downloads.
type DownloadSettings struct {
	RetryMax *int `yaml:"retryMax,omitempty"`
}

// AutoVirtualHostsEnabled reports whether new sites get a virtual host.
// Unset means enabled.
func (c Config) AutoVirtualHostsEnabled() bool {
	return c.AutoVirtualHosts == nil || *c.AutoVirtualHosts
}

// DownloadRetries is the number of download retries after the first
// attempt.
func (c Config) DownloadRetries() int {
	if c.Download.RetryMax == nil {
		return DefaultRetryMax
	}
	return *c.Download.RetryMax
}
