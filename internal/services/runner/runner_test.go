package runner

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"devstack/internal/executor"
	"devstack/internal/fault"
	"devstack/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingStarter never manages to spawn anything.
type failingStarter struct {
	calls int
}

func (f *failingStarter) StartDetached(command, workingDir string, opts ...executor.StartOption) (*executor.Process, error) {
	f.calls++
	return nil, fault.New(fault.ProcessStartError, "start", "failed to start %q", command)
}

func (f *failingStarter) KillTree(*executor.Process) error {
	return errors.New("nothing to kill")
}

func TestStart_SpawnFailureEndsStopped(t *testing.T) {
	starter := &failingStarter{}
	r := New(starter, Options{})
	inst := services.NewInstance("php-8.3", "PHP", "/x")
	inst.LaunchCommand = "php -S 127.0.0.1:8000"
	var edges [][2]services.Status
	inst.SetStateChangeCallback(func(_ string, old, new services.Status, _ error) {
		edges = append(edges, [2]services.Status{old, new})
	})

	assert.False(t, r.Start(inst))

	assert.Equal(t, services.StatusStopped, inst.Status())
	assert.Nil(t, inst.Process())
	assert.True(t, errors.Is(inst.LastError(), fault.ProcessStartError))
	assert.Equal(t, [][2]services.Status{
		{services.StatusStopped, services.StatusStarting},
		{services.StatusStarting, services.StatusStopped},
	}, edges)
	assert.Equal(t, 1, starter.calls)
}

func TestStart_MissingLaunchCommand(t *testing.T) {
	starter := &failingStarter{}
	r := New(starter, Options{})
	inst := services.NewInstance("redis-7", "Redis", "/x")

	assert.False(t, r.Start(inst))

	assert.Equal(t, services.StatusStopped, inst.Status())
	assert.True(t, errors.Is(inst.LastError(), fault.ConfigurationError))
	assert.Zero(t, starter.calls)
}

func TestStop_StoppedIsNoop(t *testing.T) {
	starter := &failingStarter{}
	r := New(starter, Options{})
	inst := services.NewInstance("redis-7", "Redis", "/x")
	called := false
	inst.SetStateChangeCallback(func(string, services.Status, services.Status, error) { called = true })

	assert.False(t, r.Stop(context.Background(), inst))

	assert.Equal(t, services.StatusStopped, inst.Status())
	assert.False(t, called, "no transition may happen")
	assert.NoError(t, inst.LastError())
}

// fakeHost simulates processes by pid for adoption tests.
type fakeHost struct {
	mu     sync.Mutex
	alive  map[int]bool
	killed []int
	err    error
}

func (f *fakeHost) Alive(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[pid]
}

func (f *fakeHost) Kill(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, pid)
	if f.err != nil {
		return f.err
	}
	f.alive[pid] = false
	return nil
}

func (f *fakeHost) exit(pid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive[pid] = false
}

func newAdoptingRunner(t *testing.T, host *fakeHost) (*Runner, string) {
	t.Helper()
	dir := t.TempDir()
	return New(&failingStarter{}, Options{
		PIDDir:       dir,
		KillPID:      host.Kill,
		Alive:        host.Alive,
		PollInterval: 5 * time.Millisecond,
	}), dir
}

func writePIDFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(PIDFile(dir, name), []byte(content), 0o644))
}

func TestAdopt_LiveProcessThenStop(t *testing.T) {
	host := &fakeHost{alive: map[int]bool{4242: true}}
	r, dir := newAdoptingRunner(t, host)
	writePIDFile(t, dir, "php-8.3", "4242\n")
	inst := services.NewInstance("php-8.3", "PHP", "/x")

	require.True(t, r.Adopt(inst))
	assert.Equal(t, services.StatusRunning, inst.Status())
	assert.Equal(t, 4242, inst.Process().PID())
	assert.False(t, r.Adopt(inst), "already running")

	assert.True(t, r.Stop(context.Background(), inst))

	assert.Equal(t, services.StatusStopped, inst.Status())
	assert.Equal(t, []int{4242}, host.killed)
	assert.NoFileExists(t, PIDFile(dir, "php-8.3"))
}

func TestAdopt_StalePIDFile(t *testing.T) {
	host := &fakeHost{alive: map[int]bool{}}
	r, dir := newAdoptingRunner(t, host)
	writePIDFile(t, dir, "php-8.3", "4242\n")
	inst := services.NewInstance("php-8.3", "PHP", "/x")

	assert.False(t, r.Adopt(inst))

	assert.Equal(t, services.StatusStopped, inst.Status())
	assert.NoFileExists(t, PIDFile(dir, "php-8.3"))
}

func TestAdopt_GarbagePIDFile(t *testing.T) {
	r, dir := newAdoptingRunner(t, &fakeHost{alive: map[int]bool{}})
	writePIDFile(t, dir, "php-8.3", "not a pid")

	assert.False(t, r.Adopt(services.NewInstance("php-8.3", "PHP", "/x")))
	assert.NoFileExists(t, PIDFile(dir, "php-8.3"))
}

func TestAdopt_NoPIDFile(t *testing.T) {
	r, _ := newAdoptingRunner(t, &fakeHost{alive: map[int]bool{}})
	assert.False(t, r.Adopt(services.NewInstance("php-8.3", "PHP", "/x")))
}

func TestAdopt_ExternalExit(t *testing.T) {
	host := &fakeHost{alive: map[int]bool{4242: true}}
	r, dir := newAdoptingRunner(t, host)
	writePIDFile(t, dir, "php-8.3", "4242")
	inst := services.NewInstance("php-8.3", "PHP", "/x")
	require.True(t, r.Adopt(inst))

	host.exit(4242)

	assert.Eventually(t, func() bool {
		return inst.Status() == services.StatusStopped
	}, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		_, err := os.Stat(PIDFile(dir, "php-8.3"))
		return os.IsNotExist(err)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestAdopt_KillFailure(t *testing.T) {
	host := &fakeHost{alive: map[int]bool{4242: true}, err: errors.New("operation not permitted")}
	r, dir := newAdoptingRunner(t, host)
	writePIDFile(t, dir, "php-8.3", "4242")
	inst := services.NewInstance("php-8.3", "PHP", "/x")
	require.True(t, r.Adopt(inst))

	assert.False(t, r.Stop(context.Background(), inst))

	assert.Equal(t, services.StatusStopped, inst.Status())
	assert.ErrorIs(t, inst.LastError(), fault.CommandFailed)
	assert.Contains(t, inst.LastError().Error(), "pid 4242")
}

func TestClose_JoinsAdoptedWatchers(t *testing.T) {
	host := &fakeHost{alive: map[int]bool{4242: true, 4343: true}}
	r, dir := newAdoptingRunner(t, host)
	writePIDFile(t, dir, "php-8.3", "4242")
	inst := services.NewInstance("php-8.3", "PHP", "/x")
	require.True(t, r.Adopt(inst))

	closed := make(chan error, 1)
	go func() { closed <- r.Close() }()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}

	// With the watcher gone an external exit is no longer observed.
	host.exit(4242)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, services.StatusRunning, inst.Status())
	assert.FileExists(t, PIDFile(dir, "php-8.3"))

	writePIDFile(t, dir, "mariadb", "4343")
	other := services.NewInstance("mariadb", "MariaDB", "/y")
	assert.False(t, r.Adopt(other), "adopt after close")
	assert.Equal(t, services.StatusStopped, other.Status())
}

func TestClose_StopAfterCloseDoesNotWaitForWatcher(t *testing.T) {
	host := &fakeHost{alive: map[int]bool{4242: true}}
	r, dir := newAdoptingRunner(t, host)
	writePIDFile(t, dir, "php-8.3", "4242")
	inst := services.NewInstance("php-8.3", "PHP", "/x")
	require.True(t, r.Adopt(inst))
	require.NoError(t, r.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	assert.True(t, r.Stop(ctx, inst))

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, services.StatusStopped, inst.Status())
	assert.Equal(t, []int{4242}, host.killed)
}
