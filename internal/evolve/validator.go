package evolve

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Validator smoke-tests a newly produced version by invoking its self-check
// entry point. This is a liveness gate, not a semantic one: it proves the
// version starts and answers, not that it fulfills the task.
type Validator struct {
	workDir string
	runner  []string // argv prefix, e.g. ["go", "run"]
	flag    string   // self-check flag, e.g. "--selfcheck"
	want    string   // exact expected stdout acknowledgment
	timeout time.Duration
}

// NewValidator creates a validator. runner+filename+flag form the argv of
// the self-check invocation.
func NewValidator(workDir string, runner []string, flag, want string, timeout time.Duration) *Validator {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Validator{
		workDir: workDir,
		runner:  append([]string(nil), runner...),
		flag:    flag,
		want:    want,
		timeout: timeout,
	}
}

// Validate runs the self-check against the named version file. Any
// deviation — wrong output, nonzero exit, timeout, or invocation error — is
// a *ValidationFailure; the result always carries the captured output.
func (v *Validator) Validate(ctx context.Context, filename string) (*ValidationResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	argv := make([]string, 0, len(v.runner)+2)
	argv = append(argv, v.runner...)
	argv = append(argv, filename, v.flag)

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = v.workDir
	// A version that forks a lingering child must not hold the self-check
	// open past the deadline; WaitDelay closes the inherited pipes.
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := &ValidationResult{
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
		Elapsed: time.Since(start),
	}

	// ErrWaitDelay means the self-check exited zero and only a forked child
	// held the pipes open; the acknowledgment check below still decides.
	if errors.Is(err, exec.ErrWaitDelay) {
		err = nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			result.ExitCode = -1
			return result, &ValidationFailure{
				Reason: fmt.Sprintf("self-check timed out after %s", v.timeout),
				Result: result,
			}
		case errors.As(err, &exitErr):
			result.ExitCode = exitErr.ExitCode()
			return result, &ValidationFailure{
				Reason: fmt.Sprintf("self-check exited with code %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr)),
				Result: result,
			}
		default:
			result.ExitCode = -1
			return result, &ValidationFailure{
				Reason: fmt.Sprintf("failed to invoke self-check: %v", err),
				Result: result,
			}
		}
	}

	if got := strings.TrimSpace(result.Stdout); got != v.want {
		return result, &ValidationFailure{
			Reason: fmt.Sprintf("unexpected self-check output %q, want %q", got, v.want),
			Result: result,
		}
	}

	result.Passed = true
	return result, nil
}
