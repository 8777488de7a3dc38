// Package process starts and supervises game processes.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// ErrStart indicates the process could not be started
var ErrStart = errors.New("failed to start process")

// Command describes a process to start
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Path + " " + strings.Join(c.Args, " "))
}

// Process is a started process
type Process interface {
	Pid() int
	// Wait blocks until the process exits and returns its exit code. A
	// non-zero exit code is not an error.
	Wait() (int, error)
	Kill() error
}

// Spawner starts processes
type Spawner interface {
	Start(ctx context.Context, cmd Command) (Process, error)
}

// ExecSpawner starts real OS processes
type ExecSpawner struct {
	Stdout io.Writer
	Stderr io.Writer
}

// Start implements Spawner. The process is not tied to ctx once started;
// use Kill to stop it.
func (s *ExecSpawner) Start(ctx context.Context, cmd Command) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := exec.Command(cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = append(os.Environ(), cmd.Env...)
	c.Stdout = s.Stdout
	c.Stderr = s.Stderr

	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrStart, cmd.Path, err)
	}
	return &execProcess{cmd: c}, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	once sync.Once
	code int
	err  error
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Wait() (int, error) {
	p.once.Do(func() {
		err := p.cmd.Wait()
		var exitErr *exec.ExitError
		switch {
		case err == nil:
			p.code = 0
		case errors.As(err, &exitErr):
			p.code = exitErr.ExitCode()
		default:
			p.code = -1
			p.err = err
		}
	})
	return p.code, p.err
}

func (p *execProcess) Kill() error {
	return p.cmd.Process.Kill()
}

// WaitForTermination waits for the process to exit. It returns false if
// the timeout passed first.
func WaitForTermination(p Process, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Expand replaces ${name} placeholders with vars. Unknown placeholders
// are left as they are.
func Expand(s string, vars map[string]string) string {
	return os.Expand(s, func(name string) string {
		if v, ok := vars[name]; ok {
			return v
		}
		return "${" + name + "}"
	})
}

// Build expands a command template
func Build(executable string, args []string, dir string, vars map[string]string) Command {
	out := Command{
		Path: Expand(executable, vars),
		Args: make([]string, len(args)),
		Dir:  dir,
	}
	for i, a := range args {
		out.Args[i] = Expand(a, vars)
	}
	return out
}
