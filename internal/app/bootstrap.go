package app

import (
	"fmt"
	"os"

	"devstack/internal/catalog"
	"devstack/internal/config"
	"devstack/internal/sites"
	"devstack/pkg/logging"
)

// Application is the main application structure that bootstraps devstack
type Application struct {
	config   *Config
	services *Services
}

// NewApplication loads the layered configuration, initializes logging and
// builds every service once.
func NewApplication(cfg *Config) (*Application, error) {
	// Logging starts at info so config loading problems are visible.
	logging.InitForCLI(logging.LevelInfo, os.Stderr)

	devstackCfg, err := config.LoadConfig()
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to load devstack configuration")
		return nil, fmt.Errorf("failed to load devstack configuration: %w", err)
	}
	cfg.Devstack = devstackCfg
	logging.InitForCLI(logging.ParseLevel(cfg.level()), os.Stderr)

	return newApplication(cfg)
}

func newApplication(cfg *Config) (*Application, error) {
	services, err := InitializeServices(cfg.Devstack)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	if err := services.Registry.Discover(); err != nil {
		logging.Warn("Bootstrap", "Scanning installed services failed: %v", err)
	}
	return &Application{config: cfg, services: services}, nil
}

// Config returns the merged devstack configuration.
func (a *Application) Config() config.Config { return a.config.Devstack }

// Services returns the initialized services.
func (a *Application) Services() *Services { return a.services }

// ServiceCatalog loads the configured service catalog.
func (a *Application) ServiceCatalog() (*catalog.ServiceCatalog, error) {
	return catalog.LoadServices(a.config.Devstack.ServiceCatalog)
}

// SiteCreator loads the site catalog and returns a creator for it.
func (a *Application) SiteCreator() (*sites.Creator, error) {
	types, err := catalog.LoadSites(a.config.Devstack.SiteCatalog)
	if err != nil {
		return nil, err
	}
	s := a.services
	return sites.NewCreator(s.FS, s.Downloader, s.Platform.Executor, s.VHosts, types, a.config.Devstack.WWWRoot), nil
}

// Close stops watching adopted services and waits for processes started
// by this invocation. Commands that leave services running in the
// background call CloseWatchers instead.
func (a *Application) Close() error {
	err := a.CloseWatchers()
	if perr := a.services.Platform.Close(); err == nil {
		err = perr
	}
	return err
}

// CloseWatchers stops the background watchers of adopted services without
// waiting for any service process.
func (a *Application) CloseWatchers() error {
	return a.services.Runner.Close()
}
