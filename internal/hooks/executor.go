package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
)

// outcome is the event that settled an invocation.
type outcome struct {
	state State
	err   error
}

// invocation lets several racing events (process exit, timer, cancellation)
// settle a single hook run. Only the first call to settle has an effect.
type invocation struct {
	once    sync.Once
	settled chan outcome
}

func newInvocation() *invocation {
	return &invocation{settled: make(chan outcome, 1)}
}

func (inv *invocation) settle(o outcome) bool {
	won := false
	inv.once.Do(func() {
		inv.settled <- o
		won = true
	})
	return won
}

// cappedBuffer keeps at most limit bytes. Anything past the limit is
// drained and dropped instead of pausing the reader, so the hook's writes
// never block on a full pipe.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	room := b.limit - b.buf.Len()
	if room >= len(p) {
		return b.buf.Write(p)
	}
	if room > 0 {
		b.buf.Write(p[:room])
	}
	b.truncated = true
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *cappedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

// ExecuteHook runs a single hook with req on its standard input. It never
// returns an error: spawn failures, non-zero exits, timeouts and
// cancellation are all folded into the Result according to the hook's fail
// mode.
func (m *Manager) ExecuteHook(ctx context.Context, def Definition, req Request) Result {
	start := time.Now()
	res := m.run(ctx, def, req)
	res.Duration = time.Since(start)
	return res
}

func (m *Manager) run(ctx context.Context, def Definition, req Request) Result {
	logger := m.logger.With("hook", def.Name, "tool", req.Tool, "phase", req.Phase)

	payload, err := json.Marshal(req)
	if err != nil {
		return m.failure(logger, def, Result{State: StateSpawnFailed},
			fmt.Sprintf("%s payload error: %v", def.Name, err), "")
	}
	if err := ctx.Err(); err != nil {
		return m.failure(logger, def, Result{State: StateCanceled},
			fmt.Sprintf("%s canceled: %v", def.Name, context.Cause(ctx)), "")
	}

	stdout := &cappedBuffer{limit: m.outputLimit}
	stderr := &cappedBuffer{limit: m.outputLimit}

	cmd := exec.Command(def.Script)
	cmd.Env = m.hookEnv(def, req)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = m.waitDelay
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err == nil {
		err = cmd.Start()
	}
	if err != nil {
		return m.resolve(logger, def, outcome{state: StateSpawnFailed, err: err}, stdout, stderr)
	}

	logger.Debug("Executing hook", "script", def.Script, "timeout", def.Timeout)

	var writer sync.WaitGroup
	writer.Go(func() {
		if err := writeInput(stdin, payload); err != nil {
			logger.Debug("Failed to write hook input", "error", err)
		}
	})

	inv := newInvocation()
	timer := time.AfterFunc(def.Timeout, func() {
		if inv.settle(outcome{state: StateTimedOut}) {
			_ = killProcess(cmd)
		}
	})
	stopCancel := context.AfterFunc(ctx, func() {
		if inv.settle(outcome{state: StateCanceled, err: context.Cause(ctx)}) {
			_ = killProcess(cmd)
		}
	})

	exited := make(chan struct{})
	go func() {
		defer close(exited)
		err := cmd.Wait()
		if err != nil && cmd.ProcessState != nil {
			// Leftover descendants of a failed hook, or ones still holding
			// its pipes after WaitDelay, are killed with the group.
			_ = killProcess(cmd)
		}
		if errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil {
			// The hook's own exit status decides the result.
			err = nil
			if !cmd.ProcessState.Success() {
				err = &exec.ExitError{ProcessState: cmd.ProcessState}
			}
		}
		inv.settle(outcome{state: StateCompleted, err: err})
	}()

	o := <-inv.settled
	timer.Stop()
	stopCancel()

	// Reap the process even when a timer or cancellation settled the run.
	// WaitDelay bounds this if a descendant keeps the pipes open.
	<-exited
	writer.Wait()

	return m.resolve(logger, def, o, stdout, stderr)
}

func (m *Manager) resolve(logger *slog.Logger, def Definition, o outcome, stdout, stderr *cappedBuffer) Result {
	res := Result{
		State:           o.state,
		StdoutTruncated: stdout.Truncated(),
		StderrTruncated: stderr.Truncated(),
	}
	if res.StdoutTruncated || res.StderrTruncated {
		logger.Warn("Hook output truncated",
			"stdout", res.StdoutTruncated,
			"stderr", res.StderrTruncated,
			"limit", humanize.IBytes(uint64(m.outputLimit)),
		)
	}

	switch o.state {
	case StateTimedOut:
		return m.failure(logger, def, res,
			fmt.Sprintf("%s timed out after %dms", def.Name, def.Timeout.Milliseconds()), "")
	case StateCanceled:
		return m.failure(logger, def, res,
			fmt.Sprintf("%s canceled: %v", def.Name, o.err), "")
	case StateSpawnFailed:
		return m.failure(logger, def, res,
			fmt.Sprintf("%s spawn error: %v", def.Name, o.err), "")
	}

	output := strings.TrimSpace(stdout.String())
	if o.err == nil {
		res.Success = true
		res.Output = output
		return res
	}

	var exitErr *exec.ExitError
	if !errors.As(o.err, &exitErr) {
		return m.failure(logger, def, res, fmt.Sprintf("%s process error: %v", def.Name, o.err), output)
	}

	msg := strings.TrimSpace(stderr.String())
	if msg == "" {
		msg = exitMessage(def.Name, exitErr.ProcessState)
	}
	return m.failure(logger, def, res, msg, output)
}

// failure applies the hook's fail mode. Reject hooks surface the message;
// the others log it and report success, keeping whatever the hook printed.
func (m *Manager) failure(logger *slog.Logger, def Definition, res Result, msg, output string) Result {
	if def.FailMode == FailModeReject {
		res.Rejected = true
		res.Error = msg
		return res
	}
	logger.Warn("Hook failed, continuing",
		"fail_mode", def.FailMode,
		"state", res.State,
		"error", msg,
	)
	res.Success = true
	res.Output = output
	return res
}

func (m *Manager) hookEnv(def Definition, req Request) []string {
	env := os.Environ()
	env = append(env, m.env...)
	return append(env,
		"TOOLGUARD_HOOK_NAME="+def.Name,
		"TOOLGUARD_HOOK_PHASE="+string(req.Phase),
		"TOOLGUARD_TOOL_NAME="+req.Tool,
	)
}

// writeInput sends the payload and closes stdin. A hook is free to exit
// without reading its input, so broken or closed pipes are not errors.
func writeInput(w io.WriteCloser, payload []byte) error {
	_, err := w.Write(payload)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if isBrokenPipe(err) {
		return nil
	}
	return err
}

func isBrokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe)
}

func exitMessage(name string, ps *os.ProcessState) string {
	if ps == nil {
		return name + " exited abnormally"
	}
	if code := ps.ExitCode(); code >= 0 {
		return fmt.Sprintf("%s exited with code %d", name, code)
	}
	return fmt.Sprintf("%s terminated by %s", name, ps.String())
}
