package git

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// ShellRunner shells out to the system git binary inside a repository directory.
type ShellRunner struct {
	// Git is the git binary to execute. Defaults to "git" when empty.
	Git string

	// Dir is the working tree the commands run in.
	Dir string

	// Env is appended to the current process environment.
	Env []string

	// NetworkRetries controls how many additional attempts should be made for network
	// oriented git commands (fetch, push). When zero, a default of 2 retries is used.
	// Negative values disable retries.
	NetworkRetries int

	// NetworkRetryDelay controls the initial backoff delay between retries. When zero,
	// a default of 1 second is used. Backoff grows exponentially per attempt.
	NetworkRetryDelay time.Duration

	// NetworkTimeout bounds network commands that would otherwise inherit an unbounded
	// context. When zero, a default of 2 minutes is used.
	NetworkTimeout time.Duration

	Log *slog.Logger
}

// NewShellRunner returns a Runner backed by system git commands executed in dir.
func NewShellRunner(dir string) *ShellRunner {
	return &ShellRunner{Dir: dir}
}

func (r *ShellRunner) gitBinary() string {
	if r.Git == "" {
		return "git"
	}
	return r.Git
}

// Run executes every step of cmd, stopping at the first failure.
func (r *ShellRunner) Run(ctx context.Context, cmd Command) (Output, error) {
	if err := cmd.Validate(); err != nil {
		return Output{}, err
	}

	var combined Output
	for _, args := range cmd.Steps {
		out, err := r.runStep(ctx, cmd.Op, args)
		combined.Stdout += out.Stdout
		combined.Stderr += out.Stderr
		if err != nil {
			return combined, err
		}
	}
	return combined, nil
}

func (r *ShellRunner) runStep(ctx context.Context, op Op, args []string) (Output, error) {
	isNetwork := op.Network()

	retries := 0
	if isNetwork {
		retries = r.networkRetriesValue()
	}

	delay := r.networkRetryDelayValue()
	var (
		out     Output
		lastErr error
	)

	for attempt := 0; attempt <= retries; attempt++ {
		attemptCtx, cancel := r.applyNetworkTimeout(ctx, isNetwork)
		out, lastErr = r.runOnce(attemptCtx, args)
		cancel()

		if lastErr == nil {
			return out, nil
		}
		if !isNetwork {
			break
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			break
		}
		if isPermanentNetworkFailure(out.Stderr) {
			break
		}
		if attempt == retries {
			break
		}

		if r.Log != nil {
			r.Log.Debug("retrying git network command", "args", strings.Join(args, " "), "attempt", attempt+1, "error", lastErr)
		}

		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return out, lastErr
}

// permanentFailureMarkers are stderr fragments git prints when a remote rejects
// credentials or the repository is out of reach. Retrying cannot fix them.
var permanentFailureMarkers = []string{
	"authentication failed",
	"permission denied",
	"could not read username",
	"could not read password",
	"repository not found",
	"the requested url returned error: 401",
	"the requested url returned error: 403",
	"the requested url returned error: 404",
	"invalid username or password",
	"does not appear to be a git repository",
	"couldn't find remote ref",
}

func isPermanentNetworkFailure(stderr string) bool {
	lower := strings.ToLower(stderr)
	for _, marker := range permanentFailureMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func (r *ShellRunner) runOnce(ctx context.Context, args []string) (Output, error) {
	cmd := exec.CommandContext(ctx, r.gitBinary(), args...)
	cmd.Dir = r.Dir
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}
	setProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	text := "git " + strings.Join(args, " ")
	start := time.Now()

	if err := cmd.Start(); err != nil {
		return Output{}, &ExecError{Cmd: text, ExitCode: -1, Err: err}
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var waitErr error
	select {
	case <-ctx.Done():
		terminateProcessGroup(cmd)
		<-done
		return Output{Stdout: stdout.String(), Stderr: stderr.String()}, ctx.Err()
	case waitErr = <-done:
	}

	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}
	exitCode := 0
	if waitErr != nil {
		exitCode = -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
	}

	if r.Log != nil {
		r.Log.Debug("ran git command", "cmd", text, "exit_code", exitCode, "duration", time.Since(start))
	}

	if waitErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, ctxErr
		}
		return out, &ExecError{Cmd: text, ExitCode: exitCode, Stdout: out.Stdout, Stderr: out.Stderr, Err: waitErr}
	}

	return out, nil
}

func (r *ShellRunner) networkRetriesValue() int {
	if r.NetworkRetries < 0 {
		return 0
	}
	if r.NetworkRetries == 0 {
		return 2
	}
	return r.NetworkRetries
}

func (r *ShellRunner) networkRetryDelayValue() time.Duration {
	if r.NetworkRetryDelay <= 0 {
		return time.Second
	}
	return r.NetworkRetryDelay
}

func (r *ShellRunner) networkTimeoutValue() time.Duration {
	if r.NetworkTimeout <= 0 {
		return 2 * time.Minute
	}
	return r.NetworkTimeout
}

func (r *ShellRunner) applyNetworkTimeout(ctx context.Context, network bool) (context.Context, context.CancelFunc) {
	if !network {
		return ctx, func() {}
	}
	if deadline, ok := ctx.Deadline(); ok && !deadline.IsZero() {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.networkTimeoutValue())
}
