package app

import (
	"os"
	"path/filepath"
	"testing"

	"devstack/internal/config"
	"devstack/internal/fault"
	"devstack/internal/platform"
	"devstack/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	base := t.TempDir()
	return config.Config{
		BaseDir:        base,
		WWWRoot:        filepath.Join(base, "www"),
		HostsFile:      filepath.Join(base, "hosts"),
		HostsMarker:    "devstack",
		Mode:           "native",
		ElevateCommand: "sudo",
		WebServers: []config.WebServer{
			{Name: "nginx", Port: 80, SitesEnabledDir: filepath.Join(base, "etc", "nginx")},
		},
		Services: []config.ServiceLaunch{
			{Match: "php-*", LaunchCommand: "{{ path }}/php-cgi -b 127.0.0.1:9000", WorkingDir: "{{ path }}"},
		},
	}
}

func initialize(t *testing.T, cfg config.Config) *Services {
	t.Helper()
	s, err := InitializeServices(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Platform.Close() })
	return s
}

func TestInitializeServices_Native(t *testing.T) {
	t.Setenv(platform.ModeEnvVar, "")
	cfg := testConfig(t)

	s := initialize(t, cfg)

	assert.Equal(t, platform.ModeNative, s.Platform.Mode)
	assert.Same(t, s.Platform.Executor, s.Platform.HostExecutor)
	assert.NotNil(t, s.Runner)
	assert.NotNil(t, s.Installer)
	assert.NotNil(t, s.VHosts)
	assert.DirExists(t, PIDDir(cfg))
	assert.DirExists(t, DownloadDir(cfg))
}

func TestInitializeServices_WSLKeepsHostsOnHost(t *testing.T) {
	t.Setenv(platform.ModeEnvVar, "")
	cfg := testConfig(t)
	cfg.Mode = "wsl"
	cfg.WSLDistro = "Ubuntu"

	s := initialize(t, cfg)

	assert.Equal(t, platform.ModeWSL, s.Platform.Mode)
	assert.Equal(t, platform.ModeWSL, s.Platform.Commands.Mode())
	assert.Equal(t, platform.ModeNative, s.Platform.HostCommands.Mode())
	assert.NotSame(t, s.Platform.Executor, s.Platform.HostExecutor)
}

func TestInitializeServices_EnvironmentOverridesMode(t *testing.T) {
	t.Setenv(platform.ModeEnvVar, "wsl")
	s := initialize(t, testConfig(t))
	assert.Equal(t, platform.ModeWSL, s.Platform.Mode)
}

func TestInitializeServices_Errors(t *testing.T) {
	t.Setenv(platform.ModeEnvVar, "")

	badMode := testConfig(t)
	badMode.Mode = "docker"
	_, err := InitializeServices(badMode)
	assert.ErrorIs(t, err, fault.ConfigurationError)

	badTemplate := testConfig(t)
	badTemplate.WebServers[0].Template = filepath.Join(badTemplate.BaseDir, "missing.conf")
	_, err = InitializeServices(badTemplate)
	assert.ErrorIs(t, err, fault.ConfigurationError)

	unknownServer := testConfig(t)
	unknownServer.WebServers = []config.WebServer{{Name: "lighttpd", Port: 80, SitesEnabledDir: "/x"}}
	_, err = InitializeServices(unknownServer)
	assert.ErrorIs(t, err, fault.ConfigurationError)
}

func TestInitializeServices_LaunchTemplatesApplied(t *testing.T) {
	t.Setenv(platform.ModeEnvVar, "")
	cfg := testConfig(t)
	dir := services.InstallDir(cfg.BaseDir, "php", "php-8.3")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "php-cgi"), []byte("#!/bin/sh\n"), 0o755))

	s := initialize(t, cfg)
	require.NoError(t, s.Registry.Discover())

	inst, ok := s.Registry.Get("php-8.3")
	require.True(t, ok)
	assert.Equal(t, dir+"/php-cgi -b 127.0.0.1:9000", inst.LaunchCommand)
	assert.Equal(t, dir, inst.WorkingDir)
	assert.False(t, inst.Managed)
}

func TestConfigLevel(t *testing.T) {
	cfg := NewConfig("", false)
	cfg.Devstack.LogLevel = "warn"
	assert.Equal(t, "warn", cfg.level())

	cfg.LogLevel = "error"
	assert.Equal(t, "error", cfg.level())

	cfg.Debug = true
	assert.Equal(t, "debug", cfg.level())
}
