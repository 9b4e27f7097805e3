package vhost

import (
	"embed"
	"fmt"
	"os"
	"strings"

	"devstack/internal/fault"
)

//go:embed templates/*.conf
var defaultTemplates embed.FS

// Server is one web server flavor that receives generated site configs.
type Server struct {
	// Name is the flavor, e.g. "nginx" or "apache".
	Name string
	// Port the generated virtual host listens on.
	Port int
	// SitesEnabledDir is scanned by the web server for site configs.
	SitesEnabledDir string
	// Template is the config text with <<PORT>>, <<PROJECT_DIR>>,
	// <<HOSTNAME>> and <<SITENAME>> placeholders.
	Template string
}

// DefaultTemplate returns the built-in template for a flavor.
func DefaultTemplate(flavor string) (string, bool) {
	data, err := defaultTemplates.ReadFile("templates/" + strings.ToLower(flavor) + ".conf")
	if err != nil {
		return "", false
	}
	return string(data), true
}

// NewServer builds a Server, reading its template from templatePath or,
// when that is empty, using the built-in template for name.
func NewServer(name string, port int, sitesEnabledDir, templatePath string) (Server, error) {
	srv := Server{Name: name, Port: port, SitesEnabledDir: sitesEnabledDir}
	if templatePath != "" {
		data, err := os.ReadFile(templatePath)
		if err != nil {
			return Server{}, fault.Wrap(fault.ConfigurationError, "vhost", templatePath, err,
				"cannot read %s template", name)
		}
		srv.Template = string(data)
		return srv, nil
	}
	tmpl, ok := DefaultTemplate(name)
	if !ok {
		return Server{}, fault.New(fault.ConfigurationError, "vhost",
			"no built-in template for web server %q; set a template path", name)
	}
	srv.Template = tmpl
	return srv, nil
}

// ConfigFileName is the generated config name for domain.
func ConfigFileName(domain string) string {
	return fmt.Sprintf("auto.%s.conf", domain)
}
