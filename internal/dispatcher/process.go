package dispatcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// Process is a running child worker.
type Process interface {
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// ExitCode is valid after Done. A child killed by signal s reports -s.
	ExitCode() int
	Signal(sig os.Signal) error
	Pid() int
}

// ProcessRunner starts the child that runs one job.
type ProcessRunner interface {
	Start(ctx context.Context, job string, args []string) (Process, error)
}

// ExecRunner re-executes a binary with "run <job> <args...>".
type ExecRunner struct {
	Path    string
	Command string
}

// NewExecRunner runs the current executable.
func NewExecRunner() (*ExecRunner, error) {
	path, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate executable: %w", err)
	}
	return &ExecRunner{Path: path, Command: "run"}, nil
}

func (r *ExecRunner) Start(ctx context.Context, job string, args []string) (Process, error) {
	argv := append([]string{r.Command, job}, args...)
	cmd := exec.Command(r.Path, argv...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	// Own process group: terminal signals reach the parent only, which
	// forwards SIGTERM.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start child for %s: %w", job, err)
	}

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go p.wait()
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	code int
}

func (p *execProcess) wait() {
	defer close(p.done)
	_ = p.cmd.Wait()
	p.code = exitCode(p.cmd.ProcessState)
}

func exitCode(state *os.ProcessState) int {
	if state == nil {
		return 1
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return state.ExitCode()
}

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) ExitCode() int { return p.code }

func (p *execProcess) Signal(sig os.Signal) error { return p.cmd.Process.Signal(sig) }

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }
