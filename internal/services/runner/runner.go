// Package runner drives the run/stop state machine of service instances.
//
// Lifecycle operations never return errors. A failed Start or an
// unsuccessful kill is logged, recorded as the instance's LastError and
// reflected in its Status; callers poll the status instead of handling
// failures.
//
// Start and Stop are guarded by compare-and-swap on the instance status:
// a Start while Starting or Running, and a Stop while not Running, are
// no-ops. An exit observer registered at spawn time moves a Running
// instance to Stopped when its process exits on its own.
//
// Each CLI invocation is a separate process, so a service started by one
// is found by the next through its pid file: Adopt attaches a handle for
// the recorded pid, and Stop kills it by pid. Adopted processes are watched
// by pollers in the runner's task group; Close stops and joins them.
package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"devstack/internal/executor"
	"devstack/internal/fault"
	"devstack/internal/filesystem"
	"devstack/internal/platform"
	"devstack/internal/services"
	"devstack/pkg/logging"

	"vawter.tech/stopper"
)

const subsystem = "Runner"

// ProcessStarter spawns and kills service processes. *executor.Executor
// implements it.
type ProcessStarter interface {
	StartDetached(command, workingDir string, opts ...executor.StartOption) (*executor.Process, error)
	KillTree(p *executor.Process) error
}

// Options configures where a Runner keeps per-service files. Empty
// directories disable the corresponding file.
type Options struct {
	// LogDir receives <name>.log with each service's combined output.
	LogDir string
	// PIDDir receives <name>.pid while a service is running.
	PIDDir string
	FS     filesystem.FS
	// KillPID kills an adopted process tree. Defaults to platform.KillTree.
	KillPID func(pid int) error
	// Alive reports whether an adopted pid still runs. Defaults to
	// platform.Alive.
	Alive func(pid int) bool
	// PollInterval is how often adopted processes are checked for exit.
	PollInterval time.Duration
}

// Runner starts and stops service instances.
type Runner struct {
	starter ProcessStarter
	opts    Options
	group   *stopper.Context
}

// New returns a Runner spawning processes through starter.
func New(starter ProcessStarter, opts Options) *Runner {
	if opts.FS == nil {
		opts.FS = filesystem.OS{}
	}
	if opts.KillPID == nil {
		opts.KillPID = platform.KillTree
	}
	if opts.Alive == nil {
		opts.Alive = platform.Alive
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	return &Runner{
		starter: starter,
		opts:    opts,
		group:   stopper.WithContext(context.Background()),
	}
}

// Close stops watching adopted processes and waits for the watchers to
// return. The processes themselves keep running. Adopt fails afterwards.
func (r *Runner) Close() error {
	r.group.Stop(time.Second)
	return r.group.Wait()
}

// Start launches inst's process. It reports whether a process was started;
// false means the instance was not Stopped or the spawn failed, in which
// case inst.LastError holds the cause.
func (r *Runner) Start(inst *services.Instance) bool {
	if !inst.CompareAndSwap(services.StatusStopped, services.StatusStarting, nil) {
		logging.Debug(subsystem, "Ignoring start of %s: status is %s", inst.Name, inst.Status())
		return false
	}

	if strings.TrimSpace(inst.LaunchCommand) == "" {
		err := fault.New(fault.ConfigurationError, "start", "no launch command configured for %s", inst.Name)
		logging.Error(subsystem, err, "Cannot start %s", inst.Name)
		inst.Release(services.StatusStarting, nil, err)
		return false
	}

	out, closeOut := r.openLog(inst)

	// The exit observer must not run before the handle is attached, or an
	// immediate exit would be lost.
	attached := make(chan struct{})
	p, err := r.starter.StartDetached(inst.LaunchCommand, inst.WorkingDir,
		executor.WithOutput(out),
		executor.OnExit(func(p *executor.Process) {
			<-attached
			closeOut()
			r.exited(inst, p)
		}),
	)
	if err != nil {
		closeOut()
		logging.Error(subsystem, err, "Failed to start %s", inst.Name)
		inst.Release(services.StatusStarting, nil, err)
		return false
	}

	if !inst.Attach(p) {
		close(attached)
		logging.Warn(subsystem, "Instance %s changed status during start; killing pid %d", inst.Name, p.PID())
		if err := r.starter.KillTree(p); err != nil {
			logging.Error(subsystem, err, "Failed to kill orphaned pid %d", p.PID())
		}
		return false
	}
	r.writePID(inst.Name, p.PID())
	close(attached)

	logging.Info(subsystem, "Started %s (pid %d)", inst.Name, p.PID())
	return true
}

// Stop kills inst's process tree and waits for the process to exit or ctx
// to end. The instance always ends Stopped. It reports whether the kill
// succeeded; false with a Stopped instance and nil LastError means it was
// not running.
func (r *Runner) Stop(ctx context.Context, inst *services.Instance) bool {
	if !inst.CompareAndSwap(services.StatusRunning, services.StatusStopping, nil) {
		logging.Debug(subsystem, "Ignoring stop of %s: status is %s", inst.Name, inst.Status())
		return false
	}

	h := inst.Process()
	var killErr error
	if h != nil {
		var err error
		if p, ok := h.(*executor.Process); ok {
			err = r.starter.KillTree(p)
		} else {
			err = r.opts.KillPID(h.PID())
		}
		if err != nil {
			killErr = fault.Wrap(fault.CommandFailed, "stop", inst.Name, err,
				"failed to kill process tree of %s (pid %d)", inst.Name, h.PID())
			logging.Error(subsystem, err, "Kill-tree of %s (pid %d) failed; marking stopped anyway", inst.Name, h.PID())
		}
	}

	if ph, ok := h.(*pidHandle); ok && killErr == nil && r.group.IsStopping() {
		// No watcher is left to notice the exit.
		ph.close()
	}
	if killErr == nil && h != nil {
		select {
		case <-h.Done():
		case <-ctx.Done():
			logging.Warn(subsystem, "Stopped waiting for %s to exit: %v", inst.Name, ctx.Err())
		}
	}

	inst.Release(services.StatusStopping, nil, killErr)
	if ph, ok := h.(*pidHandle); ok {
		ph.close()
	}
	r.removePID(inst.Name)
	logging.Info(subsystem, "Stopped %s", inst.Name)
	return killErr == nil
}

// Toggle stops a running instance and starts any other.
func (r *Runner) Toggle(ctx context.Context, inst *services.Instance) bool {
	if inst.Status() == services.StatusRunning {
		return r.Stop(ctx, inst)
	}
	return r.Start(inst)
}

// StopAll stops every running instance in insts.
func (r *Runner) StopAll(ctx context.Context, insts []*services.Instance) {
	for _, inst := range insts {
		if inst.Status() == services.StatusRunning {
			r.Stop(ctx, inst)
		}
	}
}

// Adopt attaches the process recorded in inst's pid file, if it still
// runs, moving a Stopped instance to Running. A stale pid file is removed.
// It reports whether the instance is now Running with an adopted process.
func (r *Runner) Adopt(inst *services.Instance) bool {
	if r.opts.PIDDir == "" || r.group.IsStopping() || inst.Status() != services.StatusStopped {
		return false
	}
	pid, err := ReadPID(r.opts.FS, r.opts.PIDDir, inst.Name)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Warn(subsystem, "Ignoring pid file of %s: %v", inst.Name, err)
			r.removePID(inst.Name)
		}
		return false
	}
	if !r.opts.Alive(pid) {
		logging.Debug(subsystem, "Removing stale pid file of %s (pid %d)", inst.Name, pid)
		r.removePID(inst.Name)
		return false
	}

	if !inst.CompareAndSwap(services.StatusStopped, services.StatusStarting, nil) {
		return false
	}
	h := newPIDHandle(pid)
	if !inst.Attach(h) {
		h.close()
		return false
	}
	accepted := r.group.Go(func(sctx *stopper.Context) error {
		if !h.watch(sctx.Stopping(), r.opts.Alive, r.opts.PollInterval) {
			return nil
		}
		if inst.Release(services.StatusRunning, h, nil) {
			r.removePID(inst.Name)
			logging.Info(subsystem, "Service %s (pid %d) exited", inst.Name, pid)
		}
		return nil
	})
	if !accepted {
		// Closed between the check above and now.
		inst.Release(services.StatusRunning, h, nil)
		h.close()
		return false
	}
	logging.Debug(subsystem, "Adopted %s (pid %d)", inst.Name, pid)
	return true
}

// exited handles a process that ended without Stop.
func (r *Runner) exited(inst *services.Instance, p *executor.Process) {
	var err error
	if code := p.ExitCode(); code != 0 {
		err = fmt.Errorf("%s exited with code %d", inst.Name, code)
	}
	if !inst.Release(services.StatusRunning, p, err) {
		return
	}
	r.removePID(inst.Name)
	if err != nil {
		logging.Warn(subsystem, "Service %s exited unexpectedly: %v", inst.Name, err)
	} else {
		logging.Info(subsystem, "Service %s exited", inst.Name)
	}
}

func (r *Runner) openLog(inst *services.Instance) (io.Writer, func()) {
	nop := func() {}
	if r.opts.LogDir == "" {
		return nil, nop
	}
	if err := os.MkdirAll(r.opts.LogDir, 0o755); err != nil {
		logging.Warn(subsystem, "Cannot create log directory %s: %v", r.opts.LogDir, err)
		return nil, nop
	}
	path := filepath.Join(r.opts.LogDir, inst.Name+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logging.Warn(subsystem, "Cannot open log %s: %v", path, err)
		return nil, nop
	}
	fmt.Fprintf(f, "--- %s starting %s\n", time.Now().Format(time.RFC3339), inst.LaunchCommand)
	return f, func() { _ = f.Close() }
}

// PIDFile returns the pid file path for name below dir.
func PIDFile(dir, name string) string {
	return filepath.Join(dir, name+".pid")
}

// ReadPID returns the pid recorded for a running service.
func ReadPID(fsys filesystem.FS, dir, name string) (int, error) {
	data, err := fsys.ReadFile(PIDFile(dir, name))
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid file for %s: %w", name, err)
	}
	return pid, nil
}

func (r *Runner) writePID(name string, pid int) {
	if r.opts.PIDDir == "" {
		return
	}
	if err := r.opts.FS.WriteFile(PIDFile(r.opts.PIDDir, name), []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		logging.Warn(subsystem, "Cannot write pid file for %s: %v", name, err)
	}
}

func (r *Runner) removePID(name string) {
	if r.opts.PIDDir == "" {
		return
	}
	if err := r.opts.FS.Remove(PIDFile(r.opts.PIDDir, name)); err != nil && r.opts.FS.Exists(PIDFile(r.opts.PIDDir, name)) {
		logging.Warn(subsystem, "Cannot remove pid file for %s: %v", name, err)
	}
}
