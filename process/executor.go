// Package process implements subprocess execution for build steps: an
// Executor tracking in-flight *exec.Cmd so a command-level cancel can
// reach them, process-group signalling so child processes die with
// their children, and a soft-kill-then-hard-kill sequence on timeout or
// cancellation.
package process

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"gopkg.in/op/go-logging.v1"
)

var log = logging.MustGetLogger("process")

// A StepFailure reports a build step that ran to completion but
// exited non-zero. It is
// distinct from context.DeadlineExceeded/context.Canceled, which signal
// that the step was killed rather than that it failed on its own.
type StepFailure struct {
	Argv   []string
	Exit   int
	Stderr []byte
}

func (e *StepFailure) Error() string {
	return fmt.Sprintf("command %v exited with status %d", e.Argv, e.Exit)
}

// An Executor starts, tracks and can forcibly terminate subprocesses. It
// is safe for concurrent use by multiple rules' BUILD_STEPS at once.
type Executor struct {
	mu        sync.Mutex
	processes map[*exec.Cmd]chan error
}

// New constructs an empty Executor.
func New() *Executor {
	return &Executor{processes: map[*exec.Cmd]chan error{}}
}

// Run executes argv in dir with the given environment, enforcing
// timeout as a hard wall-clock limit and honoring ctx cancellation. On
// either timeout or cancellation the process receives a SIGTERM to its
// whole process group, and is given softKillGrace to exit cleanly before
// a SIGKILL follows.
//
// Run returns combined stdout+stderr. A non-zero exit becomes a
// *StepFailure; a kill due to ctx/timeout returns ctx.Err() or
// context.DeadlineExceeded instead.
func (e *Executor) Run(ctx context.Context, dir string, env []string, timeout, softKillGrace time.Duration, argv []string) ([]byte, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = append(cmd.Env, env...)
	cmd.SysProcAttr = processGroupAttr()

	var combined safeBuffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	done := make(chan error, 1)
	e.register(cmd, done)
	defer e.unregister(cmd)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				return combined.Bytes(), &StepFailure{Argv: argv, Exit: exitErr.ExitCode(), Stderr: combined.Bytes()}
			}
			return combined.Bytes(), err
		}
		return combined.Bytes(), nil
	case <-runCtx.Done():
		e.kill(cmd, done, softKillGrace)
		return combined.Bytes(), runCtx.Err()
	}
}

// Kill soft- then hard-kills a running command, as used for
// command-level cancellation.
func (e *Executor) Kill(cmd *exec.Cmd, softKillGrace time.Duration) {
	e.mu.Lock()
	ch := e.processes[cmd]
	e.mu.Unlock()
	e.kill(cmd, ch, softKillGrace)
}

// KillAll soft- then hard-kills every process this Executor currently
// tracks, used when a command-level cancel signal fires.
func (e *Executor) KillAll(softKillGrace time.Duration) {
	e.mu.Lock()
	cmds := make(map[*exec.Cmd]chan error, len(e.processes))
	for cmd, ch := range e.processes {
		cmds[cmd] = ch
	}
	e.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(len(cmds))
	for cmd, ch := range cmds {
		go func(cmd *exec.Cmd, ch chan error) {
			defer wg.Done()
			e.kill(cmd, ch, softKillGrace)
		}(cmd, ch)
	}
	wg.Wait()
}

func (e *Executor) kill(cmd *exec.Cmd, done chan error, softKillGrace time.Duration) {
	if cmd.Process == nil {
		return
	}
	if sendSignal(cmd, done, syscall.SIGTERM, softKillGrace) {
		return
	}
	sendSignal(cmd, done, syscall.SIGKILL, time.Second)
}

// sendSignal signals the process's group and reports whether it exited
// within timeout.
func sendSignal(cmd *exec.Cmd, done chan error, sig syscall.Signal, timeout time.Duration) bool {
	if err := signalGroup(cmd, sig); err != nil {
		log.Debugf("failed to signal process group for %v: %s", cmd.Args, err)
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (e *Executor) register(cmd *exec.Cmd, ch chan error) {
	e.mu.Lock()
	e.processes[cmd] = ch
	e.mu.Unlock()
}

func (e *Executor) unregister(cmd *exec.Cmd) {
	e.mu.Lock()
	delete(e.processes, cmd)
	e.mu.Unlock()
}

// safeBuffer is an io.Writer safe for concurrent stdout+stderr writes;
// os/exec only guarantees goroutine-safety when Stdout and Stderr are
// the same writer value.
type safeBuffer struct {
	sync.Mutex
	buf bytes.Buffer
}

func (sb *safeBuffer) Write(b []byte) (int, error) {
	sb.Lock()
	defer sb.Unlock()
	return sb.buf.Write(b)
}

func (sb *safeBuffer) Bytes() []byte {
	sb.Lock()
	defer sb.Unlock()
	return append([]byte(nil), sb.buf.Bytes()...)
}

var _ io.Writer = (*safeBuffer)(nil)
