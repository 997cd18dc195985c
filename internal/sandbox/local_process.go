package sandbox

import (
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/conneroisu/playground/internal/errors"
	"github.com/creack/pty"
)

type localProcess struct {
	owner    *Local
	cmd      *exec.Cmd
	input    io.Writer
	output   io.Reader
	ptmx     *os.File
	closers  []io.Closer
	exited   chan struct{}
	exitCode int
	killOnce sync.Once
}

func (p *localProcess) Input() io.Writer { return p.input }
func (p *localProcess) Output() io.Reader { return p.output }
func (p *localProcess) Exited() <-chan struct{} { return p.exited }

// ExitCode is valid once Exited is closed.
func (p *localProcess) ExitCode() int {
	return p.exitCode
}

// Resize implements Process. Only shells have a terminal to resize.
func (p *localProcess) Resize(cols, rows int) error {
	if p.ptmx == nil {
		return nil
	}
	return pty.Setsize(p.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

// Kill implements Process.
func (p *localProcess) Kill() error {
	p.killOnce.Do(func() {
		if p.cmd.Process != nil {
			// Signal the whole process group so children go too.
			_ = syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL)
			_ = p.cmd.Process.Kill()
		}
		// Closing the pipes first unblocks any pending output copy.
		for _, c := range p.closers {
			_ = c.Close()
		}
		select {
		case <-p.exited:
		case <-time.After(5 * time.Second):
		}
		p.owner.untrack(p)
	})
	return nil
}

func (p *localProcess) wait() {
	err := p.cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		p.exitCode = exitErr.ExitCode()
	} else if err != nil {
		p.exitCode = -1
	}
	// Command output pipes signal EOF once the process is gone.
	if p.ptmx == nil {
		for _, c := range p.closers {
			if w, ok := c.(*io.PipeWriter); ok {
				_ = w.Close()
			}
		}
	}
	close(p.exited)
}

// SpawnShell implements Gateway using a pseudo terminal.
func (l *Local) SpawnShell(_ context.Context, opts ShellOptions) (Process, error) {
	cmd := exec.Command(l.shell, "-i")
	cmd.Dir = l.root
	cmd.Env = l.env(append([]string{"TERM=xterm-256color"}, opts.Env...))

	cols, rows := opts.Cols, opts.Rows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return nil, errors.NewIOError("spawn shell", l.shell, err)
	}

	p := &localProcess{
		owner:   l,
		cmd:     cmd,
		input:   ptmx,
		output:  ptmx,
		ptmx:    ptmx,
		closers: []io.Closer{ptmx},
		exited:  make(chan struct{}),
	}
	if err := l.track(p); err != nil {
		_ = cmd.Process.Kill()
		_ = ptmx.Close()
		return nil, err
	}
	go p.wait()
	return p, nil
}

// SpawnCommand implements Gateway. The command runs through the shell with
// stdout and stderr merged.
func (l *Local) SpawnCommand(_ context.Context, command string) (Process, error) {
	cmd := exec.Command(l.shell, "-c", command)
	cmd.Dir = l.root
	cmd.Env = l.env(nil)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.NewIOError("spawn", command, err)
	}
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return nil, errors.NewIOError("spawn", command, err)
	}

	p := &localProcess{
		owner:   l,
		cmd:     cmd,
		input:   stdin,
		output:  pr,
		closers: []io.Closer{stdin, pw, pr},
		exited:  make(chan struct{}),
	}
	if err := l.track(p); err != nil {
		_ = cmd.Process.Kill()
		return nil, err
	}
	go p.wait()
	return p, nil
}
