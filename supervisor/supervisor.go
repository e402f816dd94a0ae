// Package supervisor makes sure the local component service is running,
// launching it on demand and waiting for its health endpoint.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// State is the supervisor's view of the service.
type State string

const (
	StateNotChecked   State = "not_checked"
	StateProbing      State = "probing"
	StateReachable    State = "reachable"
	StateUnreachable  State = "unreachable"
	StateLaunching    State = "launching"
	StateWaitingReady State = "waiting_ready"
	StateFailed       State = "failed"
)

// EventType enumerates supervisor lifecycle signals.
type EventType string

const (
	EventEnsureStart EventType = "ensure_start"
	EventReachable   EventType = "reachable"
	EventLaunch      EventType = "launch"
	EventProbe       EventType = "probe"
	EventReady       EventType = "ready"
	EventFailed      EventType = "failed"
	EventExited      EventType = "exited"
	EventStopped     EventType = "stopped"
	EventLogLine     EventType = "log_line"
)

// Event describes a lifecycle change or a line of service output.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Message   string
	Err       error
	Metadata  map[string]any
}

// Prober reports whether the service answers its health endpoint.
type Prober interface {
	Healthy(ctx context.Context) bool
}

// ProbeFunc adapts a function to Prober.
type ProbeFunc func(ctx context.Context) bool

// Healthy implements Prober.
func (f ProbeFunc) Healthy(ctx context.Context) bool { return f(ctx) }

// Status is a snapshot for display.
type Status struct {
	State    State
	PID      int
	Strategy string
	Dir      string
	Err      error
}

// Result describes how a healthy service was obtained.
type Result struct {
	// Launched is set when this attempt spawned the process.
	Launched bool
	// PID and Strategy describe the owned process, if any.
	PID      int
	Strategy string
}

// Supervisor owns at most one spawned service process.
type Supervisor struct {
	cfg       Config
	prober    Prober
	launcher  Launcher
	logger    *log.Logger
	eventSink chan<- Event
	group     singleflight.Group

	mu       sync.Mutex
	state    State
	proc     Process
	strategy string
	dir      string
	lastErr  error
}

// New builds a supervisor. sink may be nil.
func New(cfg Config, prober Prober, logger *log.Logger, sink chan<- Event) *Supervisor {
	cfg.Normalize()
	if logger == nil {
		logger = log.Default()
	}
	return &Supervisor{
		cfg:       cfg,
		prober:    prober,
		launcher:  ExecLauncher{},
		logger:    logger,
		eventSink: sink,
		state:     StateNotChecked,
	}
}

// SetLauncher replaces the process launcher.
func (s *Supervisor) SetLauncher(l Launcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.launcher = l
}

// EnsureRunning returns once the service is healthy. It never launches a
// second process while the one it owns is alive, and concurrent callers share a
// single attempt. Cancelling ctx abandons the wait but not the attempt.
func (s *Supervisor) EnsureRunning(ctx context.Context) error {
	_, err := s.Ensure(ctx)
	return err
}

// Ensure is EnsureRunning that also reports whether a process was launched.
func (s *Supervisor) Ensure(ctx context.Context) (Result, error) {
	ch := s.group.DoChan("ensure", func() (any, error) {
		return s.ensure(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		result, _ := res.Val.(Result)
		return result, res.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (s *Supervisor) ensure(ctx context.Context) (Result, error) {
	s.emit(Event{Type: EventEnsureStart, Timestamp: time.Now()})
	s.setState(StateProbing, nil)
	if s.prober.Healthy(ctx) {
		s.setState(StateReachable, nil)
		s.emit(Event{Type: EventReachable, Timestamp: time.Now()})
		result := Result{}
		if proc, strategy := s.running(); proc != nil {
			result.PID, result.Strategy = proc.PID(), strategy
		}
		return result, nil
	}
	s.setState(StateUnreachable, nil)

	// A live process of ours that stopped answering gets another readiness
	// window instead of a sibling.
	if proc, strategy := s.running(); proc != nil {
		s.logger.Printf("api server pid %d is unhealthy, waiting for it to recover", proc.PID())
		s.setState(StateWaitingReady, nil)
		if err := s.waitReady(ctx, proc); err != nil {
			_ = proc.Kill()
			return Result{}, s.fail(err)
		}
		s.setState(StateReachable, nil)
		s.emit(Event{Type: EventReady, Timestamp: time.Now(), Metadata: map[string]any{"pid": proc.PID(), "strategy": strategy}})
		return Result{PID: proc.PID(), Strategy: strategy}, nil
	}

	dir, err := s.cfg.ServiceDir()
	if err != nil {
		return Result{}, s.fail(err)
	}

	s.setState(StateLaunching, nil)
	proc, strategy, err := s.launch(ctx, dir)
	if err != nil {
		return Result{}, s.fail(err)
	}

	s.setState(StateWaitingReady, nil)
	if err := s.waitReady(ctx, proc); err != nil {
		_ = proc.Kill()
		return Result{}, s.fail(err)
	}
	s.setState(StateReachable, nil)
	s.emit(Event{
		Type:      EventReady,
		Timestamp: time.Now(),
		Metadata:  map[string]any{"pid": proc.PID(), "strategy": strategy, "dir": dir},
	})
	return Result{Launched: true, PID: proc.PID(), Strategy: strategy}, nil
}

// running returns the owned process while it has not exited.
func (s *Supervisor) running() (Process, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return nil, ""
	}
	select {
	case <-s.proc.Done():
		return nil, ""
	default:
		return s.proc, s.strategy
	}
}

func (s *Supervisor) launch(ctx context.Context, dir string) (Process, string, error) {
	s.mu.Lock()
	launcher := s.launcher
	s.mu.Unlock()

	script := filepath.Join(dir, filepath.FromSlash(s.cfg.Script))
	for _, strategy := range Strategies(dir, script, s.cfg.GOOS) {
		if !strategy.Fallback && !launcher.Available(ctx, strategy) {
			continue
		}
		s.logger.Printf("starting api server with %s: %s", strategy.Name, strategy.CommandLine())
		proc, err := launcher.Start(strategy, dir, s.outputLine)
		if err != nil {
			return nil, "", &LaunchError{Strategy: strategy.Name, Command: strategy.CommandLine(), Err: err}
		}
		s.mu.Lock()
		s.proc = proc
		s.strategy = strategy.Name
		s.dir = dir
		s.mu.Unlock()
		s.emit(Event{
			Type:      EventLaunch,
			Timestamp: time.Now(),
			Message:   strategy.CommandLine(),
			Metadata:  map[string]any{"pid": proc.PID(), "strategy": strategy.Name},
		})
		go s.watch(proc)
		return proc, strategy.Name, nil
	}
	return nil, "", &LaunchError{Strategy: "none", Err: errors.New("no launch strategy available")}
}

// waitReady probes up to MaxAttempts times, PollInterval apart.
func (s *Supervisor) waitReady(ctx context.Context, proc Process) error {
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		select {
		case <-proc.Done():
			return exitedEarly(proc)
		default:
		}
		if s.prober.Healthy(ctx) {
			return nil
		}
		s.emit(Event{Type: EventProbe, Timestamp: time.Now(), Metadata: map[string]any{"attempt": attempt}})
		if attempt == s.cfg.MaxAttempts {
			break
		}
		timer := time.NewTimer(s.cfg.PollInterval)
		select {
		case <-timer.C:
		case <-proc.Done():
			timer.Stop()
			return exitedEarly(proc)
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w (%d attempts)", ErrStartupTimeout, s.cfg.MaxAttempts)
}

func exitedEarly(proc Process) error {
	if err := proc.Err(); err != nil {
		return fmt.Errorf("%w: process exited: %v", ErrStartupTimeout, err)
	}
	return fmt.Errorf("%w: process exited", ErrStartupTimeout)
}

func (s *Supervisor) watch(proc Process) {
	<-proc.Done()
	s.mu.Lock()
	current := s.proc == proc
	if current {
		s.proc = nil
	}
	s.mu.Unlock()
	if !current {
		return
	}
	err := proc.Err()
	if err != nil {
		s.logger.Printf("api server exited: %v", err)
	}
	s.emit(Event{Type: EventExited, Timestamp: time.Now(), Err: err, Metadata: map[string]any{"pid": proc.PID()}})
}

// Stop kills the process this supervisor spawned, if any.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	proc := s.proc
	s.proc = nil
	s.state = StateNotChecked
	s.mu.Unlock()
	if proc == nil {
		return nil
	}
	err := proc.Kill()
	s.emit(Event{Type: EventStopped, Timestamp: time.Now(), Metadata: map[string]any{"pid": proc.PID()}})
	return err
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a snapshot of the supervisor.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{State: s.state, Strategy: s.strategy, Dir: s.dir, Err: s.lastErr}
	if s.proc != nil {
		st.PID = s.proc.PID()
	}
	return st
}

func (s *Supervisor) fail(err error) error {
	s.setState(StateFailed, err)
	s.logger.Printf("api server: %v", err)
	s.emit(Event{Type: EventFailed, Timestamp: time.Now(), Err: err})
	return err
}

func (s *Supervisor) setState(state State, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.lastErr = err
}

func (s *Supervisor) outputLine(line string) {
	s.logger.Printf("[api-server] %s", line)
	s.emit(Event{Type: EventLogLine, Timestamp: time.Now(), Message: line})
}

func (s *Supervisor) emit(evt Event) {
	if s.eventSink == nil {
		return
	}
	select {
	case s.eventSink <- evt:
	default:
	}
}
