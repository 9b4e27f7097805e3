// Package platform selects how commands are composed, elevated and killed for
// the active execution mode.
//
// Two modes exist. ModeNative runs everything on the host. ModeWSL runs
// services inside a Linux subsystem distribution, reached through wsl.exe from
// a Windows host. The mode is resolved once at startup and a CommandManager is
// handed to every component that spawns processes; nothing looks the mode up
// again later.
package platform

import (
	"os"
	"strings"

	"devstack/internal/fault"
)

// Mode is the active execution mode.
type Mode string

const (
	ModeNative Mode = "native"
	ModeWSL    Mode = "wsl"
)

// ModeEnvVar overrides the configured mode when set.
const ModeEnvVar = "DEVSTACK_MODE"

// ParseMode validates a mode string. The empty string means ModeNative.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeNative:
		return ModeNative, nil
	case ModeWSL:
		return ModeWSL, nil
	default:
		return "", fault.New(fault.ConfigurationError, "platform", "unknown execution mode %q (want %q or %q)", s, ModeNative, ModeWSL)
	}
}

// Detect resolves the mode from the environment, falling back to configured.
func Detect(configured string) (Mode, error) {
	if env := os.Getenv(ModeEnvVar); env != "" {
		return ParseMode(env)
	}
	return ParseMode(configured)
}

// Spec is a fully composed process invocation.
type Spec struct {
	Name string
	Args []string
	// Dir is the host working directory; empty means the current directory.
	Dir string
}

// CommandManager composes invocations for one execution mode.
type CommandManager interface {
	// Mode returns the execution mode this manager serves.
	Mode() Mode
	// Shell wraps a shell-composed command line.
	Shell(command, dir string) Spec
	// Direct invokes an executable with arguments without a shell.
	Direct(executable string, args []string, dir string) Spec
	// Quote quotes one argument for the shell used by Shell.
	Quote(arg string) string
	// Elevate prefixes a command line so it runs with administrative rights.
	Elevate(command string) string
	// KillTree forcefully terminates pid and all of its descendants.
	KillTree(pid int) error
}

// NewCommandManager returns the manager for mode. elevate is the privilege
// escalation command ("sudo", "gsudo", ...); distro selects the WSL
// distribution and is ignored in native mode.
func NewCommandManager(mode Mode, elevate, distro string) CommandManager {
	if mode == ModeWSL {
		return &wslCommands{distro: distro, elevate: elevate}
	}
	return &nativeCommands{elevate: elevate}
}

type nativeCommands struct {
	elevate string
}

func (n *nativeCommands) Mode() Mode { return ModeNative }

func (n *nativeCommands) Shell(command, dir string) Spec {
	name, args := hostShell(command)
	return Spec{Name: name, Args: args, Dir: dir}
}

func (n *nativeCommands) Direct(executable string, args []string, dir string) Spec {
	return Spec{Name: executable, Args: append([]string(nil), args...), Dir: dir}
}

func (n *nativeCommands) Quote(arg string) string { return hostQuote(arg) }

func (n *nativeCommands) Elevate(command string) string {
	return prefix(n.elevate, command)
}

func (n *nativeCommands) KillTree(pid int) error { return KillTree(pid) }

type wslCommands struct {
	distro  string
	elevate string
}

func (w *wslCommands) Mode() Mode { return ModeWSL }

func (w *wslCommands) base(dir string) []string {
	var args []string
	if w.distro != "" {
		args = append(args, "-d", w.distro)
	}
	if dir != "" {
		args = append(args, "--cd", dir)
	}
	return append(args, "--")
}

// Shell runs the command through sh inside the distribution. The working
// directory is a path inside the distribution, so the host directory stays
// empty.
func (w *wslCommands) Shell(command, dir string) Spec {
	return Spec{Name: "wsl.exe", Args: append(w.base(dir), "sh", "-c", command)}
}

func (w *wslCommands) Direct(executable string, args []string, dir string) Spec {
	argv := append(w.base(dir), executable)
	return Spec{Name: "wsl.exe", Args: append(argv, args...)}
}

func (w *wslCommands) Quote(arg string) string { return posixQuote(arg) }

func (w *wslCommands) Elevate(command string) string {
	return prefix(w.elevate, command)
}

// KillTree kills the host side wsl.exe tree. Processes inside the
// distribution lose their interop session with it.
func (w *wslCommands) KillTree(pid int) error { return KillTree(pid) }

func prefix(elevate, command string) string {
	if elevate == "" {
		return command
	}
	return elevate + " " + command
}

// posixQuote single-quotes arg for sh.
func posixQuote(arg string) string {
	if arg == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}

// windowsQuote double-quotes arg for cmd.exe style parsing.
func windowsQuote(arg string) string {
	return `"` + strings.ReplaceAll(arg, `"`, `\"`) + `"`
}
