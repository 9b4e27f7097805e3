package runner

import (
	"sync"
	"time"
)

// pidHandle tracks a process this program did not spawn, by polling.
type pidHandle struct {
	pid  int
	done chan struct{}
	once sync.Once
}

func newPIDHandle(pid int) *pidHandle {
	return &pidHandle{pid: pid, done: make(chan struct{})}
}

// watch polls alive until the process exits, the handle is closed or stop
// fires. It reports whether the process exited.
func (h *pidHandle) watch(stop <-chan struct{}, alive func(int) bool, interval time.Duration) bool {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-h.done:
			return false
		case <-stop:
			return false
		case <-t.C:
			if !alive(h.pid) {
				h.close()
				return true
			}
		}
	}
}

func (h *pidHandle) PID() int { return h.pid }

func (h *pidHandle) Done() <-chan struct{} { return h.done }

func (h *pidHandle) close() { h.once.Do(func() { close(h.done) }) }
