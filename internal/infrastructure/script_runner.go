package infrastructure

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"forge-mcp-server/internal/domain"
)

// waitDelay bounds how long Wait keeps reading pipes after the process
// group was killed.
const waitDelay = 2 * time.Second

// ScriptRunner executes scripts through a local shell. Each run gets its
// own process group so a deadline kill also reaches the children.
type ScriptRunner struct {
	shell          string
	workDir        string
	maxOutputBytes int
}

var _ domain.ScriptExecutor = (*ScriptRunner)(nil)

// NewScriptRunner creates a runner from the scripting configuration.
func NewScriptRunner(cfg domain.ScriptingConfig) *ScriptRunner {
	r := &ScriptRunner{
		shell:          cfg.Shell,
		workDir:        cfg.WorkDir,
		maxOutputBytes: cfg.MaxOutputBytes,
	}
	if r.shell == "" {
		r.shell = domain.DefaultScriptShell
	}
	if r.maxOutputBytes <= 0 {
		r.maxOutputBytes = domain.DefaultMaxOutputBytes
	}
	return r
}

// Execute runs script with `<shell> -c`. Output beyond the cap is dropped
// and flagged in the result.
func (r *ScriptRunner) Execute(ctx context.Context, script string, timeout time.Duration) (*domain.ScriptResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.shell, "-c", script)
	cmd.Dir = r.workDir
	stdout := &cappedBuffer{limit: r.maxOutputBytes}
	stderr := &cappedBuffer{limit: r.maxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	result := &domain.ScriptResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: elapsed.Milliseconds(),
		Truncated:  stdout.Truncated() || stderr.Truncated(),
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return nil, &domain.TimeoutError{Timeout: timeout, Stdout: result.Stdout, Stderr: result.Stderr}
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("failed to run script: %w", runErr)
		}
		result.ExitCode = exitErr.ExitCode()
	}
	return result, nil
}

// cappedBuffer keeps the first limit bytes written and discards the rest.
// It never reports a short write, so the child is not killed by EPIPE.
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
	if room <= 0 {
		if len(p) > 0 {
			b.truncated = true
		}
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
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
