package executor

import (
	"context"
	"sync"

	"devstack/pkg/logging"
)

// Process is a handle to a process started by StartDetached.
type Process struct {
	pid     int
	command string
	done    chan struct{}

	mu       sync.Mutex
	exitCode int
	exitErr  error
	handlers []func(*Process)
}

func newProcess(pid int, command string, handlers []func(*Process)) *Process {
	return &Process{
		pid:      pid,
		command:  command,
		done:     make(chan struct{}),
		exitCode: -1,
		handlers: handlers,
	}
}

// PID returns the operating system process id.
func (p *Process) PID() int { return p.pid }

// Command returns the command line the process was started from.
func (p *Process) Command() string { return p.command }

// Done is closed once the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} { return p.done }

// Exited reports whether the process has exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// ExitCode returns the exit code, or -1 while running or when the process
// was killed by a signal.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Err returns a failure to reap the process, if any.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// Wait blocks until the process exits or ctx is done.
func (p *Process) Wait(ctx context.Context) (int, error) {
	select {
	case <-p.done:
		return p.ExitCode(), nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

func (p *Process) finish(waitErr error) {
	code, err := exitCode(waitErr)
	p.mu.Lock()
	p.exitCode = code
	p.exitErr = err
	handlers := p.handlers
	p.mu.Unlock()

	close(p.done)
	if err != nil {
		logging.Warn(subsystem, "Waiting for pid %d failed: %v", p.pid, err)
	}
	logging.Debug(subsystem, "Process %d (%q) exited with code %d", p.pid, p.command, code)

	for _, h := range handlers {
		h(p)
	}
}
