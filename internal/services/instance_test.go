package services

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	pid  int
	done chan struct{}
}

func newFakeHandle(pid int) *fakeHandle {
	return &fakeHandle{pid: pid, done: make(chan struct{})}
}

func (h *fakeHandle) PID() int              { return h.pid }
func (h *fakeHandle) Done() <-chan struct{} { return h.done }

func TestCanTransition(t *testing.T) {
	all := []Status{StatusStopped, StatusStarting, StatusRunning, StatusStopping}
	allowed := map[[2]Status]bool{
		{StatusStopped, StatusStarting}: true,
		{StatusStarting, StatusRunning}: true,
		{StatusStarting, StatusStopped}: true,
		{StatusRunning, StatusStopping}: true,
		{StatusStopping, StatusStopped}: true,
		{StatusRunning, StatusStopped}:  true,
	}

	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]Status{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestInstance_Lifecycle(t *testing.T) {
	inst := NewInstance("mysql-8.0", "MySQL", "/base/bin/MySQL/mysql-8.0")
	var seen [][2]Status
	inst.SetStateChangeCallback(func(name string, old, new Status, err error) {
		assert.Equal(t, "mysql-8.0", name)
		seen = append(seen, [2]Status{old, new})
	})
	h := newFakeHandle(42)

	require.True(t, inst.CompareAndSwap(StatusStopped, StatusStarting, nil))
	require.True(t, inst.Attach(h))
	assert.Equal(t, StatusRunning, inst.Status())
	assert.Equal(t, h, inst.Process())

	require.True(t, inst.CompareAndSwap(StatusRunning, StatusStopping, nil))
	assert.Equal(t, h, inst.Process(), "handle is kept while stopping")
	require.True(t, inst.Release(StatusStopping, nil, nil))
	assert.Nil(t, inst.Process())

	assert.Equal(t, [][2]Status{
		{StatusStopped, StatusStarting},
		{StatusStarting, StatusRunning},
		{StatusRunning, StatusStopping},
		{StatusStopping, StatusStopped},
	}, seen)
}

func TestInstance_RejectsInvalidEdges(t *testing.T) {
	inst := NewInstance("redis", "Redis", "/x")

	assert.False(t, inst.CompareAndSwap(StatusStopped, StatusRunning, nil))
	assert.False(t, inst.CompareAndSwap(StatusStopped, StatusStopping, nil))
	assert.False(t, inst.CompareAndSwap(StatusRunning, StatusStopping, nil), "not in Running")
	assert.False(t, inst.Attach(newFakeHandle(1)), "attach requires Starting")
	assert.False(t, inst.Release(StatusStopped, nil, nil), "Stopped -> Stopped is not an edge")
	assert.Equal(t, StatusStopped, inst.Status())
}

func TestInstance_StaleReleaseIgnored(t *testing.T) {
	inst := NewInstance("node-20", "Node", "/x")
	first, second := newFakeHandle(1), newFakeHandle(2)

	require.True(t, inst.CompareAndSwap(StatusStopped, StatusStarting, nil))
	require.True(t, inst.Attach(second))

	assert.False(t, inst.Release(StatusRunning, first, nil))
	assert.Equal(t, StatusRunning, inst.Status())

	assert.True(t, inst.Release(StatusRunning, second, nil))
	assert.Equal(t, StatusStopped, inst.Status())
}

func TestInstance_ConcurrentStartWinsOnce(t *testing.T) {
	inst := NewInstance("php-8.3", "PHP", "/x")
	var wins atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if inst.CompareAndSwap(StatusStopped, StatusStarting, nil) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, StatusStarting, inst.Status())
}

func TestInstance_LastError(t *testing.T) {
	inst := NewInstance("php-8.3", "PHP", "/x")
	boom := errors.New("spawn failed")

	require.True(t, inst.CompareAndSwap(StatusStopped, StatusStarting, nil))
	require.True(t, inst.Release(StatusStarting, nil, boom))
	assert.Equal(t, boom, inst.LastError())

	require.True(t, inst.CompareAndSwap(StatusStopped, StatusStarting, nil))
	require.True(t, inst.Attach(newFakeHandle(7)))
	assert.NoError(t, inst.LastError(), "a successful start clears the last error")
}
