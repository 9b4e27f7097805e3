package services

import (
	"sync"

	"devstack/pkg/logging"
)

// Handle is the OS process an instance owns while Running or Stopping.
type Handle interface {
	PID() int
	Done() <-chan struct{}
}

// Instance is an installed service. Name, Category, Path, LaunchCommand and
// WorkingDir are fixed at creation; status and process handle are guarded
// and changed only through the transition methods.
type Instance struct {
	Name          string
	Category      string
	Path          string
	LaunchCommand string
	WorkingDir    string
	Managed       bool

	mu            sync.RWMutex
	status        Status
	process       Handle
	loading       bool
	lastErr       error
	stateCallback StateChangeCallback
}

// NewInstance returns a stopped instance.
func NewInstance(name, category, path string) *Instance {
	return &Instance{
		Name:     name,
		Category: category,
		Path:     path,
		Managed:  true,
		status:   StatusStopped,
	}
}

// Status returns the current status.
func (i *Instance) Status() Status {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.status
}

// Process returns the owned process handle, present iff the status is
// Running or Stopping.
func (i *Instance) Process() Handle {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.process
}

// Loading reports whether an install or uninstall is in progress.
func (i *Instance) Loading() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.loading
}

func (i *Instance) SetLoading(loading bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.loading = loading
}

// LastError returns the cause of the most recent failed lifecycle operation.
func (i *Instance) LastError() error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.lastErr
}

func (i *Instance) SetLastError(err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.lastErr = err
}

func (i *Instance) SetStateChangeCallback(callback StateChangeCallback) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.stateCallback = callback
}

// CompareAndSwap changes the status from one value to another when the
// instance is currently in from and the edge is legal. err, when non-nil,
// is recorded as the last error.
func (i *Instance) CompareAndSwap(from, to Status, err error) bool {
	i.mu.Lock()
	if i.status != from {
		i.mu.Unlock()
		return false
	}
	return i.transitionLocked(to, err)
}

// Attach moves a Starting instance to Running and records p as its process.
func (i *Instance) Attach(p Handle) bool {
	i.mu.Lock()
	if p == nil || i.status != StatusStarting || i.process != nil {
		i.mu.Unlock()
		return false
	}
	i.process = p
	return i.transitionLocked(StatusRunning, nil)
}

// Release moves the instance from the given status to Stopped and drops its
// process handle. When p is non-nil the release only happens if p is still
// the owned process, so a stale exit notification cannot stop a newer run.
func (i *Instance) Release(from Status, p Handle, err error) bool {
	i.mu.Lock()
	if i.status != from || (p != nil && i.process != p) {
		i.mu.Unlock()
		return false
	}
	i.process = nil
	return i.transitionLocked(StatusStopped, err)
}

// transitionLocked applies a change under i.mu, unlocks, and notifies.
func (i *Instance) transitionLocked(to Status, err error) bool {
	from := i.status
	if !CanTransition(from, to) {
		i.mu.Unlock()
		logging.Warn("Services", "Rejected invalid transition %s -> %s for %s", from, to, i.Name)
		return false
	}
	i.status = to
	if err != nil {
		i.lastErr = err
	} else if to == StatusRunning {
		i.lastErr = nil
	}
	callback := i.stateCallback
	i.mu.Unlock()

	logging.Debug("Services", "Service %s status changed: %s -> %s", i.Name, from, to)
	if callback != nil {
		callback(i.Name, from, to, err)
	}
	return true
}
