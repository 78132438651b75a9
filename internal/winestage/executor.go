package winestage

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// Executor runs external tools. Children get their own process group so an
// interrupt tears down the whole make/configure tree, and root-only commands
// are wrapped in sudo -E.
type Executor struct {
	Context         context.Context
	ShouldRunAsRoot bool
	Console         *Console
}

// NewExecutor returns an unprivileged executor bound to ctx.
func NewExecutor(ctx context.Context, console *Console) *Executor {
	return &Executor{Context: ctx, Console: console}
}

// AsRoot returns a copy that elevates through sudo when not already root.
func (e *Executor) AsRoot() *Executor {
	c := *e
	c.ShouldRunAsRoot = true
	return &c
}

// ensureSudo refreshes the sudo ticket, prompting on the terminal only if it expired.
func (e *Executor) ensureSudo() error {
	if os.Geteuid() == 0 || !e.ShouldRunAsRoot {
		return nil
	}
	check := exec.CommandContext(e.Context, "sudo", "-nv")
	check.Stdout = io.Discard
	check.Stderr = io.Discard
	if err := check.Run(); err == nil {
		return nil
	}

	e.Console.Step("Elevated privileges required, authenticating via sudo")
	auth := exec.CommandContext(e.Context, "sudo", "-v")
	auth.Stdin = os.Stdin
	auth.Stdout = os.Stdout
	auth.Stderr = os.Stderr
	if err := auth.Run(); err != nil {
		return fmt.Errorf("sudo authentication failed: %w", err)
	}
	return nil
}

// Run executes cmd and waits for it. Unset stdio falls back to the process's own.
func (e *Executor) Run(cmd *exec.Cmd) error {
	if cmd.Stdin == nil {
		cmd.Stdin = os.Stdin
	}
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	if err := e.ensureSudo(); err != nil {
		return err
	}

	path := cmd.Path
	args := cmd.Args[1:]
	var final *exec.Cmd
	if e.ShouldRunAsRoot && os.Geteuid() != 0 {
		final = exec.CommandContext(e.Context, "sudo", append([]string{"-E", path}, args...)...)
	} else {
		final = exec.CommandContext(e.Context, path, args...)
	}
	final.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		final.Env = cmd.Env
	} else {
		final.Env = os.Environ()
	}
	final.Stdin = cmd.Stdin
	final.Stdout = cmd.Stdout
	final.Stderr = cmd.Stderr
	final.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	e.Console.Debugf("exec: %s %v (dir %s)\n", path, args, cmd.Dir)
	if err := final.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", path, err)
	}

	pgid := final.Process.Pid
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-e.Context.Done():
			syscall.Kill(-pgid, syscall.SIGKILL)
		case <-done:
		}
	}()

	err := final.Wait()
	// copy the state back so callers can read the exit code
	cmd.ProcessState = final.ProcessState
	if err != nil {
		if e.Context.Err() != nil {
			time.Sleep(100 * time.Millisecond)
			return fmt.Errorf("command aborted: %w", e.Context.Err())
		}
		return err
	}
	return nil
}
