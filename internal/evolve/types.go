package evolve

import (
	"time"

	"ouroboros/internal/tracker"
)

// CurrentAgentPlaceholder is the literal token the generation service must
// use wherever the currently-active source filename belongs. Substituting it
// at execution time prevents scripts from hardcoding a stale filename.
const CurrentAgentPlaceholder = "CURRENT_AGENT"

// VersionTokenPlaceholder is the version-number token ("vN") substituted
// with the concrete next version, e.g. "v7".
const VersionTokenPlaceholder = "vN"

// MutationRequest is the full context handed to the generation service for
// one attempt.
type MutationRequest struct {
	CurrentFilename string // the actual active file, never a hardcoded bootstrap name
	CurrentSource   string
	Task            tracker.Task
	Prior           *AttemptRecord // non-nil on retry
}

// AttemptRecord summarizes a failed attempt so the generator can avoid
// repeating a known-bad strategy. This is the system's only feedback loop.
type AttemptRecord struct {
	Script  string
	Failure string
}

// MutationScript is the ephemeral artifact of one generation call.
type MutationScript struct {
	Raw  string // full completion text
	Body string // extracted script, fences stripped
}

// ExecutionResult captures one mutation script run.
type ExecutionResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Elapsed  time.Duration
}

// ValidationResult captures one self-check invocation of a new version.
type ValidationResult struct {
	Passed   bool
	Stdout   string
	Stderr   string
	ExitCode int
	Elapsed  time.Duration
}

// PassState is the per-pass state machine. Every pass ends in Published or
// Failed; there is no partial success.
type PassState int

const (
	StateClaimed PassState = iota
	StateGenerating
	StateExecuting
	StateValidating
	StatePublishing
	StatePublished
	StateFailed
)

func (s PassState) String() string {
	switch s {
	case StateClaimed:
		return "CLAIMED"
	case StateGenerating:
		return "GENERATING"
	case StateExecuting:
		return "EXECUTING"
	case StateValidating:
		return "VALIDATING"
	case StatePublishing:
		return "PUBLISHING"
	case StatePublished:
		return "PUBLISHED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}
