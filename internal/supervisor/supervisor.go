package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// ErrProcess wraps failures to start, signal, or reap a child process.
var ErrProcess = errors.New("process management failure")

const (
	defaultStopGrace = 5 * time.Second
	maxOutputBytes   = 64 * 1024
)

// Options configures the commands the supervisor runs.
type Options struct {
	BuildCmd     []string
	RunCmd       []string
	BuildTimeout time.Duration // zero means the build may run forever
	StopGrace    time.Duration // SIGTERM to SIGKILL delay
	Env          map[string]string
}

// Supervisor runs the build tool and launches the generated server.
type Supervisor struct {
	opts   Options
	logger *slog.Logger
}

// New creates a supervisor for the given commands.
func New(opts Options, logger *slog.Logger) (*Supervisor, error) {
	if len(opts.BuildCmd) == 0 {
		return nil, fmt.Errorf("build command is required")
	}
	if len(opts.RunCmd) == 0 {
		return nil, fmt.Errorf("run command is required")
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = defaultStopGrace
	}
	return &Supervisor{opts: opts, logger: logger}, nil
}

// BuildResult is the outcome of one build invocation. Success is decided by
// the exit status alone.
type BuildResult struct {
	Success    bool
	ExitCode   int
	Diagnostic string
	Duration   time.Duration
}

// RunBuild runs the build command in dir and blocks until it exits.
// A failing build is reported through the result, not the error; the error
// is reserved for a build tool that could not be run at all.
func (s *Supervisor) RunBuild(ctx context.Context, dir string) (*BuildResult, error) {
	buildCtx := ctx
	if s.opts.BuildTimeout > 0 {
		var cancel context.CancelFunc
		buildCtx, cancel = context.WithTimeout(ctx, s.opts.BuildTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(buildCtx, s.opts.BuildCmd[0], s.opts.BuildCmd[1:]...)
	cmd.Dir = dir
	cmd.Env = s.environ()
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		return signalGroup(cmd.Process.Pid, killSignal)
	}
	cmd.WaitDelay = s.opts.StopGrace

	// One writer for both streams makes exec share a single pipe, so the
	// diagnostic keeps the compiler's interleaving.
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	s.logger.Info("running build", "cmd", s.opts.BuildCmd, "dir", dir)

	start := time.Now()
	err := cmd.Run()
	result := &BuildResult{Duration: time.Since(start)}

	if err == nil {
		result.Success = true
		s.logger.Info("build succeeded", "duration", result.Duration)
		return result, nil
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(buildCtx.Err(), context.DeadlineExceeded) {
		result.ExitCode = -1
		result.Diagnostic = fmt.Sprintf("build timed out after %s", s.opts.BuildTimeout)
		s.logger.Warn("build timed out", "timeout", s.opts.BuildTimeout)
		return result, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return nil, fmt.Errorf("%w: failed to run build %v: %v", ErrProcess, s.opts.BuildCmd, err)
	}

	result.ExitCode = exitErr.ExitCode()
	result.Diagnostic = strings.TrimSpace(output.String())
	if result.Diagnostic == "" {
		result.Diagnostic = fmt.Sprintf("build exited with code %d", result.ExitCode)
	}

	s.logger.Warn("build failed",
		"exit_code", result.ExitCode,
		"duration", result.Duration)
	return result, nil
}

// Handle is exclusive ownership of a spawned server process.
type Handle interface {
	Pid() int
	Done() <-chan struct{}
	Output() string
	// Terminate stops the process. Calling it again, or after the process
	// has exited on its own, returns nil.
	Terminate() error
}

// SpawnServer starts the run command in dir without waiting for it.
// Cancelling ctx kills the server.
func (s *Supervisor) SpawnServer(ctx context.Context, dir string) (Handle, error) {
	cmd := exec.CommandContext(ctx, s.opts.RunCmd[0], s.opts.RunCmd[1:]...)
	cmd.Dir = dir
	cmd.Env = s.environ()
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		return signalGroup(cmd.Process.Pid, killSignal)
	}
	cmd.WaitDelay = s.opts.StopGrace

	out := &tailBuffer{max: maxOutputBytes}
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to start server %v: %v", ErrProcess, s.opts.RunCmd, err)
	}

	p := &Process{
		cmd:    cmd,
		pid:    cmd.Process.Pid,
		grace:  s.opts.StopGrace,
		logger: s.logger,
		output: out,
		done:   make(chan struct{}),
	}
	go p.waitForExit()

	s.logger.Info("server started", "cmd", s.opts.RunCmd, "pid", p.pid, "dir", dir)
	return p, nil
}

func (s *Supervisor) environ() []string {
	env := os.Environ()
	for k, v := range s.opts.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

// Process is a running server started by SpawnServer.
type Process struct {
	cmd    *exec.Cmd
	pid    int
	grace  time.Duration
	logger *slog.Logger
	output *tailBuffer

	done    chan struct{} // closed by waitForExit
	waitErr error

	once    sync.Once
	termErr error
}

func (p *Process) Pid() int { return p.pid }

func (p *Process) Done() <-chan struct{} { return p.done }

// Output returns the tail of the server's combined stdout and stderr.
func (p *Process) Output() string { return p.output.String() }

// Exited reports whether the process has been reaped.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *Process) Terminate() error {
	p.once.Do(func() {
		p.termErr = p.kill()
	})
	return p.termErr
}

func (p *Process) kill() error {
	if p.Exited() {
		p.logger.Debug("server already exited", "pid", p.pid, "error", p.waitErr)
		return nil
	}

	p.logger.Info("terminating server", "pid", p.pid)
	if err := signalGroup(p.pid, termSignal); err != nil && !isNoSuchProcess(err) {
		p.logger.Warn("failed to signal server", "pid", p.pid, "error", err)
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(p.grace):
	}

	p.logger.Warn("server did not stop gracefully, killing", "pid", p.pid)
	if err := signalGroup(p.pid, killSignal); err != nil && !isNoSuchProcess(err) {
		return fmt.Errorf("%w: failed to kill server pid %d: %v", ErrProcess, p.pid, err)
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(p.grace):
		return fmt.Errorf("%w: server pid %d did not exit after kill", ErrProcess, p.pid)
	}
}

func (p *Process) waitForExit() {
	err := p.cmd.Wait()
	p.waitErr = err
	close(p.done)

	if err != nil {
		p.logger.Debug("server process exited", "pid", p.pid, "error", err)
	} else {
		p.logger.Debug("server process exited cleanly", "pid", p.pid)
	}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
