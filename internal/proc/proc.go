package proc

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// maxCapturedLines bounds the in-memory output ring per process.
const maxCapturedLines = 1000

// Handle is the supervisor-facing view of a running child process.
type Handle interface {
	// PID of the child; 0 after it could not be determined.
	PID() int
	// Done is closed once the process has exited and been reaped.
	Done() <-chan struct{}
	// ExitErr reports the wait error after Done is closed; nil for a clean exit.
	ExitErr() error
	// Running reports whether the process has not yet been reaped.
	Running() bool
	// Stop signals graceful termination and escalates to a kill after wait.
	// Stopping an already-dead process is a no-op.
	Stop(wait time.Duration) error
	// Kill force-terminates the process group.
	Kill() error
	// Logs returns captured output lines from the absolute offset onward and
	// the offset to use next.
	Logs(offset int) ([]string, int)
}

// Runner launches and supervises child processes. The zero value is usable;
// Log supplies defaults for specs without their own log config.
type Runner struct {
	Log    LogConfig
	Logger zerolog.Logger
}

// Process is the concrete Handle backed by os/exec.
type Process struct {
	spec Spec

	mu      sync.Mutex
	cmd     *exec.Cmd
	pid     int
	done    chan struct{}
	exited  bool
	exitErr error

	lines   []string
	dropped int

	fileOut io.WriteCloser
}

// Launch starts the process described by spec and begins supervision.
// The returned Handle is valid even if the process exits immediately;
// observe Done/ExitErr for the outcome.
func (r *Runner) Launch(spec Spec) (Handle, error) {
	if spec.Command == "" {
		return nil, fmt.Errorf("process %s: empty command", spec.Name)
	}
	if spec.Log.Dir == "" {
		spec.Log = r.Log
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	if len(spec.Env) > 0 {
		env := os.Environ()
		for k, v := range spec.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}
	cmd.SysProcAttr = sysProcAttr()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	p := &Process{spec: spec, done: make(chan struct{})}
	if w, err := spec.Log.Writer(spec.Name); err != nil {
		r.Logger.Warn().Err(err).Str("process", spec.Name).Msg("log writer unavailable, continuing without file logs")
	} else {
		p.fileOut = w
	}

	if err := cmd.Start(); err != nil {
		if p.fileOut != nil {
			_ = p.fileOut.Close()
		}
		return nil, fmt.Errorf("start %s: %w", spec.Command, err)
	}
	p.cmd = cmd
	p.pid = cmd.Process.Pid
	r.Logger.Info().Str("process", spec.Name).Int("pid", p.pid).Str("command", spec.Command).Msg("process started")

	var scanners sync.WaitGroup
	scanners.Add(2)
	go p.capture(stdout, "[out] ", &scanners)
	go p.capture(stderr, "[err] ", &scanners)

	go func() {
		scanners.Wait()
		err := cmd.Wait()
		p.mu.Lock()
		p.exited = true
		p.exitErr = err
		if p.fileOut != nil {
			_ = p.fileOut.Close()
			p.fileOut = nil
		}
		p.mu.Unlock()
		if err != nil {
			r.Logger.Info().Str("process", spec.Name).Int("pid", p.pid).Err(err).Msg("process exited")
		} else {
			r.Logger.Info().Str("process", spec.Name).Int("pid", p.pid).Msg("process exited cleanly")
		}
		close(p.done)
	}()

	return p, nil
}

func (p *Process) capture(rd io.Reader, prefix string, wg *sync.WaitGroup) {
	defer wg.Done()
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := prefix + sc.Text()
		p.mu.Lock()
		p.lines = append(p.lines, line)
		if len(p.lines) > maxCapturedLines {
			over := len(p.lines) - maxCapturedLines
			p.lines = p.lines[over:]
			p.dropped += over
		}
		out := p.fileOut
		p.mu.Unlock()
		if out != nil {
			_, _ = out.Write([]byte(line + "\n"))
		}
	}
}

func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

func (p *Process) Done() <-chan struct{} { return p.done }

func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

func (p *Process) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.exited
}

// Stop sends a graceful termination signal to the process group, waits up to
// wait, then escalates to SIGKILL. Idempotent.
func (p *Process) Stop(wait time.Duration) error {
	if !p.Running() {
		return nil
	}
	terminateGroup(p.pid)
	select {
	case <-p.done:
		return nil
	case <-time.After(wait):
	}
	killGroup(p.pid)
	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		// reaping is owned by the monitor goroutine; best effort from here
	}
	return nil
}

// Kill force-terminates the process group immediately.
func (p *Process) Kill() error {
	if !p.Running() {
		return nil
	}
	killGroup(p.pid)
	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
	}
	return nil
}

// Logs returns output lines starting at the absolute line offset. Offsets
// survive ring trimming: lines evicted from the ring are simply skipped.
func (p *Process) Logs(offset int) ([]string, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	start := offset - p.dropped
	if start < 0 {
		start = 0
	}
	if start >= len(p.lines) {
		return nil, p.dropped + len(p.lines)
	}
	out := make([]string, len(p.lines)-start)
	copy(out, p.lines[start:])
	return out, p.dropped + len(p.lines)
}
