package supervisor

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// availabilityTimeout bounds each "--version" check.
const availabilityTimeout = 2 * time.Second

// Strategy is one way of starting the service.
type Strategy struct {
	Name    string
	Command string
	Args    []string
	// Path strategies are available when Command exists on disk.
	Path bool
	// Fallback strategies are spawned without an availability check.
	Fallback bool
}

// CommandLine renders the strategy for logs.
func (s Strategy) CommandLine() string {
	return strings.TrimSpace(s.Command + " " + strings.Join(s.Args, " "))
}

// Strategies lists launch strategies in preference order: the project
// virtualenv, uv, then the platform interpreter.
func Strategies(dir, script, goos string) []Strategy {
	venv := filepath.Join(dir, ".venv", "bin", "python")
	python := "python3"
	if goos == "windows" {
		venv = filepath.Join(dir, ".venv", "Scripts", "python.exe")
		python = "python"
	}
	return []Strategy{
		{Name: "venv", Command: venv, Args: []string{script}, Path: true},
		{Name: "uv", Command: "uv", Args: []string{"run", "python", script}},
		{Name: "system", Command: python, Args: []string{script}, Fallback: true},
	}
}

// Process is a spawned service process.
type Process interface {
	PID() int
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// Err reports the exit error after Done is closed.
	Err() error
	Kill() error
}

// Launcher checks and spawns strategies.
type Launcher interface {
	Available(ctx context.Context, s Strategy) bool
	Start(s Strategy, dir string, output func(line string)) (Process, error)
}

// ExecLauncher runs strategies as operating system processes.
type ExecLauncher struct{}

// Available reports whether s can run here.
func (ExecLauncher) Available(ctx context.Context, s Strategy) bool {
	if s.Path {
		info, err := os.Stat(s.Command)
		return err == nil && !info.IsDir()
	}
	if _, err := exec.LookPath(s.Command); err != nil {
		return false
	}
	cctx, cancel := context.WithTimeout(ctx, availabilityTimeout)
	defer cancel()
	return exec.CommandContext(cctx, s.Command, "--version").Run() == nil
}

// Start spawns s in dir with the inherited environment. The process is not
// tied to any context or to the caller's process group, so only Kill ends it.
func (ExecLauncher) Start(s Strategy, dir string, output func(line string)) (Process, error) {
	cmd := exec.Command(s.Command, s.Args...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	detach(cmd)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	proc := &execProcess{cmd: cmd, done: make(chan struct{})}
	var wg sync.WaitGroup
	wg.Add(2)
	go streamLines(&wg, stdout, output)
	go streamLines(&wg, stderr, output)
	go func() {
		wg.Wait()
		proc.err = cmd.Wait()
		close(proc.done)
	}()
	return proc, nil
}

func streamLines(wg *sync.WaitGroup, r io.Reader, output func(string)) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if output != nil {
			output(scanner.Text())
		}
	}
	_, _ = io.Copy(io.Discard, r)
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (p *execProcess) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

func (p *execProcess) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	if p.cmd.Process == nil {
		return nil
	}
	return killTree(p.cmd.Process)
}
