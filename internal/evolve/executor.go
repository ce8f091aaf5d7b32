package evolve

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Executor resolves placeholders in a sanitized script and runs it as a
// child process rooted at the working directory.
type Executor struct {
	workDir         string
	placeholderFile string // e.g. "agent_vN.go"
	shell           string
	timeout         time.Duration
}

// NewExecutor creates an executor for the working directory. placeholderFile
// is the literal next-filename placeholder used by the generation contract.
func NewExecutor(workDir, placeholderFile string, timeout time.Duration) *Executor {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Executor{
		workDir:         workDir,
		placeholderFile: placeholderFile,
		shell:           "/bin/bash",
		timeout:         timeout,
	}
}

// Resolve substitutes the placeholder tokens: next filename, version token,
// and current agent filename — in that order, so the filename placeholder
// (which itself contains "vN") is consumed before the bare token.
func (e *Executor) Resolve(script, currentFilename, nextFilename string, nextID int) string {
	resolved := strings.ReplaceAll(script, e.placeholderFile, nextFilename)
	resolved = strings.ReplaceAll(resolved, VersionTokenPlaceholder, fmt.Sprintf("v%d", nextID))
	resolved = strings.ReplaceAll(resolved, CurrentAgentPlaceholder, currentFilename)
	return resolved
}

// Execute runs the script with placeholders resolved. The script is written
// to evolve_v<id>.sh in the working directory and left there afterwards as a
// forensic artifact. A nonzero exit or timeout yields *ExecutionFailure
// alongside the captured output.
func (e *Executor) Execute(ctx context.Context, script, currentFilename string, nextID int, nextFilename string) (*ExecutionResult, error) {
	resolved := e.Resolve(script, currentFilename, nextFilename, nextID)

	scriptName := fmt.Sprintf("evolve_v%d.sh", nextID)
	scriptPath := filepath.Join(e.workDir, scriptName)
	content := "#!/bin/bash\nset -e\n\n" + resolved + "\n"
	if err := os.WriteFile(scriptPath, []byte(content), 0o755); err != nil {
		return nil, &ExecutionFailure{Reason: fmt.Sprintf("failed to write script: %v", err)}
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, e.shell, scriptName)
	cmd.Dir = e.workDir
	// A backgrounded child inherits the output pipes and would keep Wait
	// blocked past the deadline; WaitDelay forces the pipes closed shortly
	// after cancellation.
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := &ExecutionResult{
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
		Elapsed: time.Since(start),
	}

	// ErrWaitDelay means the script itself exited zero and only a lingering
	// child held the pipes open; the output may be truncated.
	if errors.Is(err, exec.ErrWaitDelay) {
		err = nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			result.ExitCode = -1
			return result, &ExecutionFailure{
				Reason: fmt.Sprintf("script timed out after %s", e.timeout),
				Result: result,
			}
		case errors.As(err, &exitErr):
			result.ExitCode = exitErr.ExitCode()
			return result, &ExecutionFailure{
				Reason: fmt.Sprintf("script exited with code %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr)),
				Result: result,
			}
		default:
			result.ExitCode = -1
			return result, &ExecutionFailure{
				Reason: fmt.Sprintf("failed to run script: %v", err),
				Result: result,
			}
		}
	}

	return result, nil
}
