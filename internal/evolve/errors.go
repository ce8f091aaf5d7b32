package evolve

import "fmt"

// Stage errors are all recoverable: they convert the current pipeline pass
// into a FAILED transition but never terminate the loop. Each carries the
// diagnostic text that is attached to the originating task.

// GenerationError means the completion service failed to produce a usable
// script: network failure, empty response, or no script block found.
type GenerationError struct {
	Reason string
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generation failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("generation failed: %s", e.Reason)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// PolicyViolation means the sanitizer rejected the generated script before
// execution. Rule names the check; Line is the offending text.
type PolicyViolation struct {
	Rule string
	Line string
}

func (e *PolicyViolation) Error() string {
	if e.Line == "" {
		return fmt.Sprintf("policy violation: %s", e.Rule)
	}
	return fmt.Sprintf("policy violation: %s: %q", e.Rule, e.Line)
}

// ExecutionFailure means the mutation script exited nonzero or timed out.
// The captured output feeds the retry context on the next attempt.
type ExecutionFailure struct {
	Reason string
	Result *ExecutionResult
}

func (e *ExecutionFailure) Error() string {
	return fmt.Sprintf("execution failed: %s", e.Reason)
}

// Diagnostic returns the captured output for the failure comment.
func (e *ExecutionFailure) Diagnostic() string {
	if e.Result == nil {
		return e.Reason
	}
	if e.Result.Stderr != "" {
		return e.Result.Stderr
	}
	return e.Reason
}

// ValidationFailure means the produced version failed its self-check.
type ValidationFailure struct {
	Reason string
	Result *ValidationResult
}

func (e *ValidationFailure) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// PublicationError means a fully validated version could not be proposed.
// The version file stays on disk, unpublished; its id is never reused.
type PublicationError struct {
	Step string // which publication step failed
	Err  error
}

func (e *PublicationError) Error() string {
	return fmt.Sprintf("publication failed at %s: %v", e.Step, e.Err)
}

func (e *PublicationError) Unwrap() error { return e.Err }
