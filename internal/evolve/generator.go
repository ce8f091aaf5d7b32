package evolve

import (
	"context"
	_ "embed"
	"strings"

	"ouroboros/internal/llm"
)

//go:embed system_prompt.md
var systemPrompt string

// Generator asks the completion service for a mutation script.
type Generator struct {
	client  llm.Client
	builder *RequestBuilder
}

// NewGenerator creates a generator over the given completion client.
func NewGenerator(client llm.Client, builder *RequestBuilder) *Generator {
	return &Generator{client: client, builder: builder}
}

// Generate produces a mutation script for the request. Service failures,
// empty responses and responses without a script all come back as
// *GenerationError; the loop reports them as a failed pass, never a crash.
func (g *Generator) Generate(ctx context.Context, req MutationRequest) (*MutationScript, error) {
	raw, err := g.client.CompleteWithSystem(ctx, systemPrompt, g.builder.UserPrompt(req))
	if err != nil {
		return nil, &GenerationError{Reason: "completion service call failed", Err: err}
	}
	if strings.TrimSpace(raw) == "" {
		return nil, &GenerationError{Reason: "empty response"}
	}

	body := extractScript(raw)
	if body == "" {
		return nil, &GenerationError{Reason: "no script found in response"}
	}
	return &MutationScript{Raw: raw, Body: body}, nil
}

// extractScript pulls the script body out of the completion text, stripping
// markdown code-fence decoration when present. A fenceless response is
// treated as the script itself.
func extractScript(raw string) string {
	if idx := strings.Index(raw, "```bash"); idx >= 0 {
		rest := raw[idx+len("```bash"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
		return strings.TrimSpace(rest)
	}
	if idx := strings.Index(raw, "```"); idx >= 0 {
		rest := raw[idx+len("```"):]
		// Drop a language tag on the fence line, e.g. ```sh
		if nl := strings.Index(rest, "\n"); nl >= 0 && nl < 20 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(raw)
}
