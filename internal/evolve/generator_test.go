package evolve

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ouroboros/internal/tracker"
)

// mockLLM replays canned completions and records the prompts it saw.
type mockLLM struct {
	responses []string
	err       error
	systems   []string
	prompts   []string
}

func (m *mockLLM) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m.systems = append(m.systems, systemPrompt)
	m.prompts = append(m.prompts, userPrompt)
	if m.err != nil {
		return "", m.err
	}
	if len(m.responses) == 0 {
		return "", nil
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}

func testRequest() MutationRequest {
	return MutationRequest{
		CurrentFilename: "agent_v2.go",
		CurrentSource:   "package main",
		Task:            tracker.Task{Number: 5, Title: "add logging"},
	}
}

func TestGenerateExtractsBashFence(t *testing.T) {
	client := &mockLLM{responses: []string{
		"Here you go:\n```bash\ncp CURRENT_AGENT agent_vN.go\n```\nGood luck!",
	}}
	g := NewGenerator(client, NewRequestBuilder("agent_vN.go", 0))

	script, err := g.Generate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "cp CURRENT_AGENT agent_vN.go", script.Body)
	assert.Contains(t, script.Raw, "Good luck!")

	// The fixed system instruction block rides along on every call.
	require.Len(t, client.systems, 1)
	assert.Contains(t, client.systems[0], CurrentAgentPlaceholder)
}

func TestGenerateExtractVariants(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{"untagged fence", "```\ncp CURRENT_AGENT agent_vN.go\n```", "cp CURRENT_AGENT agent_vN.go"},
		{"sh tagged fence", "```sh\ncp CURRENT_AGENT agent_vN.go\n```", "cp CURRENT_AGENT agent_vN.go"},
		{"no fence at all", "cp CURRENT_AGENT agent_vN.go", "cp CURRENT_AGENT agent_vN.go"},
		{"unterminated fence", "```bash\ncp CURRENT_AGENT agent_vN.go", "cp CURRENT_AGENT agent_vN.go"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGenerator(&mockLLM{responses: []string{tt.response}}, NewRequestBuilder("agent_vN.go", 0))
			script, err := g.Generate(context.Background(), testRequest())
			require.NoError(t, err)
			assert.Equal(t, tt.want, script.Body)
		})
	}
}

func TestGenerateServiceFailure(t *testing.T) {
	g := NewGenerator(&mockLLM{err: errors.New("connection refused")}, NewRequestBuilder("agent_vN.go", 0))

	_, err := g.Generate(context.Background(), testRequest())
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Contains(t, genErr.Error(), "completion service call failed")
}

func TestGenerateEmptyResponse(t *testing.T) {
	g := NewGenerator(&mockLLM{responses: []string{"   \n"}}, NewRequestBuilder("agent_vN.go", 0))

	_, err := g.Generate(context.Background(), testRequest())
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Contains(t, genErr.Error(), "empty response")
}

func TestGenerateEmptyFence(t *testing.T) {
	g := NewGenerator(&mockLLM{responses: []string{"```bash\n\n```"}}, NewRequestBuilder("agent_vN.go", 0))

	_, err := g.Generate(context.Background(), testRequest())
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Contains(t, genErr.Error(), "no script found")
}
