// Package executor spawns and supervises external processes.
//
// Two shapes of execution exist. Execute and its variants run a
// shell-composed command to completion, streaming stdout and stderr lines to
// a progress func as they arrive. StartDetached launches a long-running
// service process in its own process group and returns a *Process whose exit
// is observed in the background; KillTree terminates it together with every
// descendant.
//
// All background work (stream readers and exit reapers) runs in one
// supervised task group owned by the Executor. Close stops accepting work and
// joins the group, which returns once every tracked process has exited.
//
// Cancellation of Execute's context only stops the caller from waiting: the
// child keeps running and its remaining output is drained and discarded.
// Callers that need the process gone must use StartDetached and KillTree.
package executor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"devstack/internal/fault"
	"devstack/internal/platform"
	"devstack/internal/progress"
	"devstack/pkg/logging"

	"vawter.tech/stopper"
)

const subsystem = "Executor"

// maxLineLength bounds a single streamed output line.
const maxLineLength = 1024 * 1024

// ErrClosed is returned once Close has been called.
var ErrClosed = errors.New("executor closed")

// For mocking in tests
var execCommand = exec.Command

// Executor runs commands for one execution mode.
type Executor struct {
	commands platform.CommandManager
	group    *stopper.Context
}

// New returns an Executor composing commands with cm.
func New(cm platform.CommandManager) *Executor {
	return &Executor{
		commands: cm,
		group:    stopper.WithContext(context.Background()),
	}
}

// Commands returns the command manager in use.
func (e *Executor) Commands() platform.CommandManager {
	return e.commands
}

// Close stops accepting new work and waits for every background task, i.e.
// until every process started by this executor has exited.
func (e *Executor) Close() error {
	e.group.Stop(time.Second)
	return e.group.Wait()
}

func (e *Executor) spawn(fn func()) {
	e.group.Go(func(*stopper.Context) error {
		fn()
		return nil
	})
}

func (e *Executor) build(spec platform.Spec) *exec.Cmd {
	cmd := execCommand(spec.Name, spec.Args...)
	cmd.Dir = spec.Dir
	return cmd
}

// Execute runs a shell-composed command in workingDir and blocks until it
// exits or ctx is done. Output lines from both streams are delivered to
// report; report is never called concurrently. A non-zero exit code is not
// an error.
func (e *Executor) Execute(ctx context.Context, command, workingDir string, report progress.Func) (int, error) {
	if e.group.IsStopping() {
		return -1, ErrClosed
	}

	cmd := e.build(e.commands.Shell(command, workingDir))
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, fault.Wrap(fault.ProcessStartError, "execute", command, err, "stdout pipe for %q", command)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, fault.Wrap(fault.ProcessStartError, "execute", command, err, "stderr pipe for %q", command)
	}

	logging.Debug(subsystem, "Executing %q in %q", command, workingDir)
	if err := cmd.Start(); err != nil {
		return -1, fault.Wrap(fault.ProcessStartError, "execute", command, err, "failed to start %q", command)
	}

	report = progress.Serialize(report)
	var halted atomic.Bool
	emit := func(line string) {
		if !halted.Load() {
			report(line)
		}
	}

	var readers sync.WaitGroup
	readers.Add(2)
	e.spawn(func() {
		defer readers.Done()
		scanLines(stdout, emit)
	})
	e.spawn(func() {
		defer readers.Done()
		scanLines(stderr, emit)
	})

	waitErr := make(chan error, 1)
	e.spawn(func() {
		// Wait closes the pipes, so every line must be read first.
		readers.Wait()
		waitErr <- cmd.Wait()
	})

	select {
	case err := <-waitErr:
		return exitCode(err)
	case <-ctx.Done():
		halted.Store(true)
		logging.Warn(subsystem, "Stopped waiting for %q (pid %d); the process keeps running", command, cmd.Process.Pid)
		return -1, ctx.Err()
	}
}

// ExecuteWithSuccessCheck is Execute, failing with CommandFailed on a
// non-zero exit code.
func (e *Executor) ExecuteWithSuccessCheck(ctx context.Context, command, workingDir string, report progress.Func) error {
	code, err := e.Execute(ctx, command, workingDir, report)
	if err != nil {
		return err
	}
	if code != 0 {
		return fault.New(fault.CommandFailed, "execute", "command %q exited with code %d", command, code)
	}
	return nil
}

// ExecuteCapturingOutput runs a shell-composed command synchronously and
// returns its full stdout. A non-zero exit fails with CommandFailed carrying
// the stderr text.
func (e *Executor) ExecuteCapturingOutput(ctx context.Context, command, workingDir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cmd := e.build(e.commands.Shell(command, workingDir))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	code, waitErr := exitCode(err)
	if waitErr != nil {
		return "", fault.Wrap(fault.ProcessStartError, "execute", command, waitErr, "failed to run %q", command)
	}
	if code != 0 {
		return stdout.String(), fault.New(fault.CommandFailed, "execute", "command %q exited with code %d: %s",
			command, code, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// StartOption configures StartDetached.
type StartOption func(*startOptions)

type startOptions struct {
	output   io.Writer
	handlers []func(*Process)
}

// WithOutput sends the process's stdout and stderr to w. Without it the
// output is discarded.
func WithOutput(w io.Writer) StartOption {
	return func(o *startOptions) { o.output = w }
}

// OnExit registers fn to run once the process has exited. Handlers are
// registered before the process starts, so an immediate exit is never missed.
func OnExit(fn func(*Process)) StartOption {
	return func(o *startOptions) { o.handlers = append(o.handlers, fn) }
}

// StartDetached launches a long-running process without waiting for it.
// The command is parsed so that the executor owns the real program's PID;
// commands the parser cannot reduce run through the shell. When workingDir
// is empty, a parsed "cd X &&" prefix supplies it. Spawn failures are
// returned as ProcessStartError.
func (e *Executor) StartDetached(command, workingDir string, opts ...StartOption) (*Process, error) {
	if e.group.IsStopping() {
		return nil, fault.Wrap(fault.ProcessStartError, "start", command, ErrClosed, "cannot start %q", command)
	}

	var o startOptions
	for _, opt := range opts {
		opt(&o)
	}

	inv := ParseCommand(command)
	dir := workingDir
	if dir == "" {
		dir = inv.Dir
	}

	var spec platform.Spec
	if inv.Shell {
		logging.Debug(subsystem, "Command %q needs the shell; kill-tree will target the shell's group", command)
		spec = e.commands.Shell(command, dir)
	} else {
		spec = e.commands.Direct(inv.Executable, inv.Argv, dir)
	}

	cmd := e.build(spec)
	platform.ConfigureDetached(cmd)
	if o.output != nil {
		cmd.Stdout = o.output
		cmd.Stderr = o.output
	}

	if err := cmd.Start(); err != nil {
		return nil, fault.Wrap(fault.ProcessStartError, "start", command, err, "failed to start %q", command)
	}

	p := newProcess(cmd.Process.Pid, command, o.handlers)
	logging.Info(subsystem, "Started %q (pid %d)", command, p.pid)

	e.spawn(func() {
		p.finish(cmd.Wait())
	})
	return p, nil
}

// KillTree forcefully terminates p and all of its descendants. Killing a
// process that already exited is a no-op.
func (e *Executor) KillTree(p *Process) error {
	if p == nil || p.Exited() {
		return nil
	}
	logging.Debug(subsystem, "Killing process tree of pid %d", p.pid)
	return e.commands.KillTree(p.pid)
}

func scanLines(r io.Reader, emit func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)
	for scanner.Scan() {
		emit(scanner.Text())
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		logging.Debug(subsystem, "Stream reader stopped: %v", err)
		// Keep draining so the child never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, r)
	}
}

// exitCode turns a Wait/Run error into an exit code. Only failures that are
// not a normal process exit are returned as errors.
func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}
