package evolve

import (
	"fmt"
	"strings"

	"ouroboros/internal/tracker"
)

// RequestBuilder assembles the context sent to the generation service.
type RequestBuilder struct {
	placeholderFile string // e.g. "agent_vN.go"
	failureCeiling  int    // max bytes of prior failure output carried on retry
}

// NewRequestBuilder creates a builder. placeholderFile is the literal
// next-filename placeholder the service is told to use.
func NewRequestBuilder(placeholderFile string, failureCeiling int) *RequestBuilder {
	if failureCeiling <= 0 {
		failureCeiling = 8192
	}
	return &RequestBuilder{placeholderFile: placeholderFile, failureCeiling: failureCeiling}
}

// Build produces the request for one attempt. currentFilename must be the
// actual resolved current file; prior is nil on the first attempt.
func (b *RequestBuilder) Build(currentFilename, currentSource string, task tracker.Task, prior *AttemptRecord) MutationRequest {
	return MutationRequest{
		CurrentFilename: currentFilename,
		CurrentSource:   currentSource,
		Task:            task,
		Prior:           b.boundPrior(prior),
	}
}

// UserPrompt renders the request as the user message for the completion
// service.
func (b *RequestBuilder) UserPrompt(req MutationRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Current agent filename: %s\n", req.CurrentFilename)
	fmt.Fprintf(&sb, "Current agent code:\n```\n%s\n```\n\n", req.CurrentSource)
	fmt.Fprintf(&sb, "Task: %s\n\n", req.Task.Description())

	if req.Prior != nil {
		sb.WriteString("**PREVIOUS ATTEMPT FAILED**\n\n")
		fmt.Fprintf(&sb, "Previous script:\n```bash\n%s\n```\n\n", req.Prior.Script)
		fmt.Fprintf(&sb, "Error: %s\n\n", req.Prior.Failure)
		sb.WriteString("Generate a DIFFERENT approach that avoids this error.\n")
	} else {
		fmt.Fprintf(&sb,
			"Generate a bash script that creates %s with the modifications needed to accomplish this task. "+
				"Remember to copy from %s (the current agent), not from a hardcoded filename.\n",
			b.placeholderFile, CurrentAgentPlaceholder)
	}
	return sb.String()
}

// boundPrior truncates the failure text to the ceiling, keeping the tail:
// the end of a failing run (the actual error) matters more than the start.
func (b *RequestBuilder) boundPrior(prior *AttemptRecord) *AttemptRecord {
	if prior == nil {
		return nil
	}
	failure := prior.Failure
	if len(failure) > b.failureCeiling {
		failure = "... (truncated) ...\n" + failure[len(failure)-b.failureCeiling:]
	}
	return &AttemptRecord{Script: prior.Script, Failure: failure}
}
