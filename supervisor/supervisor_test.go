package supervisor

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type scriptedProber struct {
	mu      sync.Mutex
	answers []bool
	calls   int
}

func (p *scriptedProber) Healthy(context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.answers) == 0 {
		return false
	}
	answer := p.answers[0]
	if len(p.answers) > 1 {
		p.answers = p.answers[1:]
	}
	return answer
}

func (p *scriptedProber) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeProcess struct {
	pid    int
	done   chan struct{}
	once   sync.Once
	err    error
	killed atomic.Bool
}

func newFakeProcess(pid int) *fakeProcess {
	return &fakeProcess{pid: pid, done: make(chan struct{})}
}

func (p *fakeProcess) PID() int              { return p.pid }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }
func (p *fakeProcess) Err() error            { return p.err }
func (p *fakeProcess) Kill() error {
	p.killed.Store(true)
	p.exit(errors.New("signal: killed"))
	return nil
}
func (p *fakeProcess) exit(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

type fakeLauncher struct {
	available map[string]bool
	startErr  error
	exitAfter bool

	mu      sync.Mutex
	started []Strategy
	procs   []*fakeProcess
}

func (l *fakeLauncher) Available(_ context.Context, s Strategy) bool {
	return l.available[s.Name]
}

func (l *fakeLauncher) Start(s Strategy, dir string, output func(string)) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = append(l.started, s)
	if l.startErr != nil {
		return nil, l.startErr
	}
	proc := newFakeProcess(100 + len(l.procs))
	l.procs = append(l.procs, proc)
	if output != nil {
		output("Uvicorn running on http://0.0.0.0:9400")
	}
	if l.exitAfter {
		proc.exit(errors.New("exit status 1"))
	}
	return proc, nil
}

func (l *fakeLauncher) Started() []Strategy {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Strategy(nil), l.started...)
}

func testConfig(t *testing.T) Config {
	t.Helper()
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, DefaultDirName), 0o755))
	return Config{
		BaseDir:      base,
		PollInterval: 5 * time.Millisecond,
		MaxAttempts:  3,
		GOOS:         "linux",
	}
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestEnsureRunningReachableSkipsLaunch(t *testing.T) {
	prober := &scriptedProber{answers: []bool{true}}
	launcher := &fakeLauncher{}
	sup := New(testConfig(t), prober, quietLogger(), nil)
	sup.SetLauncher(launcher)

	require.NoError(t, sup.EnsureRunning(context.Background()))
	require.NoError(t, sup.EnsureRunning(context.Background()))
	require.Empty(t, launcher.Started())
	require.Equal(t, StateReachable, sup.State())
}

func TestEnsureRunningLaunchesAndWaitsForHealth(t *testing.T) {
	prober := &scriptedProber{answers: []bool{false, false, true}}
	launcher := &fakeLauncher{available: map[string]bool{"uv": true}}
	sink := make(chan Event, 16)
	cfg := testConfig(t)
	sup := New(cfg, prober, quietLogger(), sink)
	sup.SetLauncher(launcher)

	require.NoError(t, sup.EnsureRunning(context.Background()))
	started := launcher.Started()
	require.Len(t, started, 1)
	require.Equal(t, "uv", started[0].Name)
	require.Equal(t, []string{"run", "python", filepath.Join(cfg.BaseDir, DefaultDirName, "src", "api_server.py")}, started[0].Args)
	require.Equal(t, 3, prober.Calls())
	require.Equal(t, StateReachable, sup.State())

	status := sup.Status()
	require.Equal(t, 100, status.PID)
	require.Equal(t, "uv", status.Strategy)

	expectEvent(t, sink, EventEnsureStart)
	expectEvent(t, sink, EventLogLine)
	expectEvent(t, sink, EventLaunch)
	expectEvent(t, sink, EventProbe)
	ready := expectEvent(t, sink, EventReady)
	require.Equal(t, "uv", ready.Metadata["strategy"])
}

func TestEnsureRunningPrefersVirtualenv(t *testing.T) {
	prober := &scriptedProber{answers: []bool{false, true}}
	launcher := &fakeLauncher{available: map[string]bool{"venv": true, "uv": true}}
	sup := New(testConfig(t), prober, quietLogger(), nil)
	sup.SetLauncher(launcher)

	require.NoError(t, sup.EnsureRunning(context.Background()))
	require.Equal(t, "venv", launcher.Started()[0].Name)
}

func TestEnsureRunningStartupTimeoutAfterBudget(t *testing.T) {
	prober := &scriptedProber{answers: []bool{false}}
	launcher := &fakeLauncher{}
	sup := New(testConfig(t), prober, quietLogger(), nil)
	sup.SetLauncher(launcher)

	err := sup.EnsureRunning(context.Background())
	require.ErrorIs(t, err, ErrStartupTimeout)
	// One initial probe plus MaxAttempts readiness probes.
	require.Equal(t, 4, prober.Calls())
	require.Equal(t, StateFailed, sup.State())
	require.Equal(t, "system", launcher.Started()[0].Name)
	require.Equal(t, "python3", launcher.Started()[0].Command)
	require.True(t, launcher.procs[0].killed.Load())
}

func TestEnsureRunningPrematureExit(t *testing.T) {
	prober := &scriptedProber{answers: []bool{false}}
	launcher := &fakeLauncher{exitAfter: true}
	sup := New(testConfig(t), prober, quietLogger(), nil)
	sup.SetLauncher(launcher)

	err := sup.EnsureRunning(context.Background())
	require.ErrorIs(t, err, ErrStartupTimeout)
	require.ErrorContains(t, err, "exit status 1")
	require.Equal(t, 1, prober.Calls())
}

func TestEnsureRunningSpawnFailure(t *testing.T) {
	prober := &scriptedProber{answers: []bool{false}}
	launcher := &fakeLauncher{startErr: errors.New("exec: \"python3\": executable file not found in $PATH")}
	sup := New(testConfig(t), prober, quietLogger(), nil)
	sup.SetLauncher(launcher)

	err := sup.EnsureRunning(context.Background())
	var launchErr *LaunchError
	require.ErrorAs(t, err, &launchErr)
	require.Equal(t, "system", launchErr.Strategy)
	require.Equal(t, StateFailed, sup.State())
}

func TestEnsureRunningMissingServiceDir(t *testing.T) {
	prober := &scriptedProber{answers: []bool{false}}
	launcher := &fakeLauncher{}
	workspace := t.TempDir()
	sup := New(Config{BaseDir: t.TempDir(), WorkspaceDir: workspace}, prober, quietLogger(), nil)
	sup.SetLauncher(launcher)

	err := sup.EnsureRunning(context.Background())
	require.ErrorIs(t, err, ErrServiceDirNotFound)
	require.ErrorContains(t, err, filepath.Join(workspace, DefaultDirName))
	require.Empty(t, launcher.Started())
}

func TestServiceDirFallsBackToWorkspace(t *testing.T) {
	workspace := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(workspace, DefaultDirName), 0o755))
	cfg := Config{BaseDir: t.TempDir(), WorkspaceDir: workspace}
	cfg.Normalize()

	dir, err := cfg.ServiceDir()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(workspace, DefaultDirName), dir)
}

func TestEnsureRunningConcurrentCallersShareLaunch(t *testing.T) {
	var healthy atomic.Bool
	var calls atomic.Int32
	prober := ProbeFunc(func(context.Context) bool {
		if calls.Add(1) > 2 {
			healthy.Store(true)
		}
		return healthy.Load()
	})
	launcher := &fakeLauncher{}
	cfg := testConfig(t)
	cfg.MaxAttempts = 50
	sup := New(cfg, prober, quietLogger(), nil)
	sup.SetLauncher(launcher)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, sup.EnsureRunning(context.Background()))
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, len(launcher.Started()), 1)
}

func TestStopKillsSpawnedProcess(t *testing.T) {
	prober := &scriptedProber{answers: []bool{false, true}}
	launcher := &fakeLauncher{}
	sink := make(chan Event, 32)
	sup := New(testConfig(t), prober, quietLogger(), sink)
	sup.SetLauncher(launcher)

	require.NoError(t, sup.Stop())
	require.NoError(t, sup.EnsureRunning(context.Background()))
	require.NoError(t, sup.Stop())
	require.True(t, launcher.procs[0].killed.Load())
	require.Equal(t, StateNotChecked, sup.State())
	require.Zero(t, sup.Status().PID)
}

func TestEnsureRunningWaitsOnUnhealthyOwnedProcess(t *testing.T) {
	prober := &scriptedProber{answers: []bool{false, true, false, true}}
	launcher := &fakeLauncher{}
	sup := New(testConfig(t), prober, quietLogger(), nil)
	sup.SetLauncher(launcher)

	first, err := sup.Ensure(context.Background())
	require.NoError(t, err)
	require.True(t, first.Launched)
	require.Equal(t, 100, first.PID)

	second, err := sup.Ensure(context.Background())
	require.NoError(t, err)
	require.False(t, second.Launched)
	require.Equal(t, 100, second.PID)
	require.Len(t, launcher.Started(), 1)

	require.NoError(t, sup.Stop())
	require.True(t, launcher.procs[0].killed.Load())
}

func TestEnsureRunningReplacesExitedProcess(t *testing.T) {
	prober := &scriptedProber{answers: []bool{false, true, false, true}}
	launcher := &fakeLauncher{}
	sup := New(testConfig(t), prober, quietLogger(), nil)
	sup.SetLauncher(launcher)

	require.NoError(t, sup.EnsureRunning(context.Background()))
	launcher.procs[0].exit(errors.New("exit status 1"))
	require.Eventually(t, func() bool { return sup.Status().PID == 0 }, time.Second, 5*time.Millisecond)

	result, err := sup.Ensure(context.Background())
	require.NoError(t, err)
	require.True(t, result.Launched)
	require.Equal(t, 101, result.PID)
	require.Len(t, launcher.Started(), 2)
}

func TestEnsureReportsLaunchAfterEarlyExit(t *testing.T) {
	prober := &scriptedProber{answers: []bool{false, true}}
	launcher := &fakeLauncher{}
	sup := New(testConfig(t), prober, quietLogger(), nil)
	sup.SetLauncher(launcher)

	result, err := sup.Ensure(context.Background())
	require.NoError(t, err)
	launcher.procs[0].exit(nil)
	require.Eventually(t, func() bool { return sup.Status().PID == 0 }, time.Second, 5*time.Millisecond)
	require.True(t, result.Launched)
	require.Equal(t, "system", result.Strategy)
}

func TestStrategiesPerPlatform(t *testing.T) {
	linux := Strategies("/srv/app", "/srv/app/src/api_server.py", "linux")
	require.Equal(t, filepath.Join("/srv/app", ".venv", "bin", "python"), linux[0].Command)
	require.Equal(t, "python3", linux[2].Command)
	require.True(t, linux[2].Fallback)

	windows := Strategies(`C:\app`, `C:\app\src\api_server.py`, "windows")
	require.Equal(t, filepath.Join(`C:\app`, ".venv", "Scripts", "python.exe"), windows[0].Command)
	require.Equal(t, "python", windows[2].Command)
}

func expectEvent(t *testing.T, sink <-chan Event, typ EventType) Event {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case evt := <-sink:
			if evt.Type == typ {
				return evt
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s", typ)
			return Event{}
		}
	}
}
