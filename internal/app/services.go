package app

import (
	"fmt"
	"os"
	"path/filepath"

	"devstack/internal/config"
	"devstack/internal/download"
	"devstack/internal/executor"
	"devstack/internal/filesystem"
	"devstack/internal/platform"
	"devstack/internal/services"
	"devstack/internal/services/installer"
	"devstack/internal/services/runner"
	"devstack/internal/vhost"
	"devstack/pkg/logging"
)

// PlatformServices are the mode-specific collaborators, built once from
// the execution mode and passed down explicitly.
type PlatformServices struct {
	Mode     platform.Mode
	Commands platform.CommandManager
	Executor *executor.Executor

	// HostCommands and HostExecutor always run on the host. The hosts file
	// belongs to the host even when services run inside WSL.
	HostCommands platform.CommandManager
	HostExecutor *executor.Executor
}

// NewPlatformServices builds the collaborators for the configured mode.
// The DEVSTACK_MODE environment variable wins over the configuration.
func NewPlatformServices(cfg config.Config) (*PlatformServices, error) {
	mode, err := platform.Detect(cfg.Mode)
	if err != nil {
		return nil, err
	}
	commands := platform.NewCommandManager(mode, cfg.ElevateCommand, cfg.WSLDistro)
	ps := &PlatformServices{
		Mode:     mode,
		Commands: commands,
		Executor: executor.New(commands),
	}
	if mode == platform.ModeNative {
		ps.HostCommands, ps.HostExecutor = ps.Commands, ps.Executor
	} else {
		ps.HostCommands = platform.NewCommandManager(platform.ModeNative, cfg.ElevateCommand, "")
		ps.HostExecutor = executor.New(ps.HostCommands)
	}
	logging.Debug("Bootstrap", "Execution mode %s", mode)
	return ps, nil
}

// Close waits for every process started through the executors.
func (ps *PlatformServices) Close() error {
	err := ps.Executor.Close()
	if ps.HostExecutor != ps.Executor {
		if herr := ps.HostExecutor.Close(); err == nil {
			err = herr
		}
	}
	return err
}

// Services holds all the initialized services
type Services struct {
	Platform   *PlatformServices
	FS         filesystem.FS
	Downloader *download.Client
	Registry   *services.Registry
	Runner     *runner.Runner
	Installer  *installer.Installer
	VHosts     *vhost.Provisioner
}

// LogDir holds per-service output logs.
func LogDir(cfg config.Config) string { return filepath.Join(cfg.BaseDir, "logs") }

// PIDDir holds pid files of running services.
func PIDDir(cfg config.Config) string { return filepath.Join(cfg.BaseDir, "run") }

// DownloadDir holds in-flight downloads.
func DownloadDir(cfg config.Config) string { return filepath.Join(cfg.BaseDir, "tmp") }

// InitializeServices creates all services for cfg.
func InitializeServices(cfg config.Config) (*Services, error) {
	ps, err := NewPlatformServices(cfg)
	if err != nil {
		return nil, err
	}

	fsys := filesystem.OS{}
	if err := fsys.MkdirAll(DownloadDir(cfg), 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", DownloadDir(cfg), err)
	}
	downloader := download.NewClient(
		download.WithRetryMax(cfg.DownloadRetries()),
		download.WithTempDir(DownloadDir(cfg)),
	)

	registry := services.NewRegistry(fsys, cfg.BaseDir, launchTemplates(cfg))
	run := runner.New(ps.Executor, runner.Options{
		LogDir:  LogDir(cfg),
		PIDDir:  PIDDir(cfg),
		FS:      fsys,
		KillPID: ps.Commands.KillTree,
	})
	if err := fsys.MkdirAll(PIDDir(cfg), 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", PIDDir(cfg), err)
	}

	servers := make([]vhost.Server, 0, len(cfg.WebServers))
	for _, ws := range cfg.WebServers {
		srv, err := vhost.NewServer(ws.Name, ws.Port, ws.SitesEnabledDir, ws.Template)
		if err != nil {
			return nil, err
		}
		servers = append(servers, srv)
	}
	self, err := os.Executable()
	if err != nil {
		logging.Warn("Bootstrap", "Cannot resolve own executable; hosts elevation disabled: %v", err)
		self = ""
	}
	vhosts := vhost.New(fsys, cfg, ps.HostExecutor, ps.HostCommands, vhost.Options{
		WWWRoot:     cfg.WWWRoot,
		HostsFile:   cfg.HostsFile,
		HostsMarker: cfg.HostsMarker,
		Servers:     servers,
		Executable:  self,
	})

	return &Services{
		Platform:   ps,
		FS:         fsys,
		Downloader: downloader,
		Registry:   registry,
		Runner:     run,
		Installer:  installer.New(fsys, downloader, run, registry),
		VHosts:     vhosts,
	}, nil
}

func launchTemplates(cfg config.Config) []services.LaunchTemplate {
	out := make([]services.LaunchTemplate, len(cfg.Services))
	for i, s := range cfg.Services {
		out[i] = services.LaunchTemplate{Match: s.Match, Command: s.LaunchCommand, WorkingDir: s.WorkingDir}
	}
	return out
}
