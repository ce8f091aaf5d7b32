package evolve

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeVersion(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o755))
}

func shValidator(dir string) *Validator {
	return NewValidator(dir, []string{"/bin/sh"}, "--selfcheck", "OK", 5*time.Second)
}

func TestValidatePass(t *testing.T) {
	dir := t.TempDir()
	writeVersion(t, dir, "agent_v1.sh", "#!/bin/sh\necho OK\n")

	result, err := shValidator(dir).Validate(context.Background(), "agent_v1.sh")
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Equal(t, 0, result.ExitCode)
}

func TestValidateWrongOutput(t *testing.T) {
	dir := t.TempDir()
	writeVersion(t, dir, "agent_v1.sh", "#!/bin/sh\necho NOT QUITE\n")

	result, err := shValidator(dir).Validate(context.Background(), "agent_v1.sh")
	var valFail *ValidationFailure
	require.ErrorAs(t, err, &valFail)
	assert.False(t, result.Passed)
	assert.Contains(t, valFail.Reason, `"NOT QUITE"`)
}

func TestValidateNonzeroExit(t *testing.T) {
	dir := t.TempDir()
	writeVersion(t, dir, "agent_v1.sh", "#!/bin/sh\necho broken >&2\nexit 2\n")

	result, err := shValidator(dir).Validate(context.Background(), "agent_v1.sh")
	var valFail *ValidationFailure
	require.ErrorAs(t, err, &valFail)
	assert.Equal(t, 2, result.ExitCode)
	assert.Contains(t, result.Stderr, "broken")
}

func TestValidateTimeout(t *testing.T) {
	dir := t.TempDir()
	writeVersion(t, dir, "agent_v1.sh", "#!/bin/sh\nsleep 5\necho OK\n")

	v := NewValidator(dir, []string{"/bin/sh"}, "--selfcheck", "OK", 200*time.Millisecond)
	_, err := v.Validate(context.Background(), "agent_v1.sh")

	var valFail *ValidationFailure
	require.ErrorAs(t, err, &valFail)
	assert.Contains(t, valFail.Reason, "timed out")
}

func TestValidateTimeoutWithBackgroundedChild(t *testing.T) {
	dir := t.TempDir()
	writeVersion(t, dir, "agent_v1.sh", "#!/bin/sh\nsleep 3 &\nwait\necho OK\n")

	v := NewValidator(dir, []string{"/bin/sh"}, "--selfcheck", "OK", 200*time.Millisecond)
	start := time.Now()
	_, err := v.Validate(context.Background(), "agent_v1.sh")
	elapsed := time.Since(start)

	var valFail *ValidationFailure
	require.ErrorAs(t, err, &valFail)
	assert.Contains(t, valFail.Reason, "timed out")
	assert.Less(t, elapsed, 2*time.Second)
}

func TestValidatePassesDespiteLingeringChild(t *testing.T) {
	dir := t.TempDir()
	writeVersion(t, dir, "agent_v1.sh", "#!/bin/sh\nsleep 3 &\necho OK\n")

	v := NewValidator(dir, []string{"/bin/sh"}, "--selfcheck", "OK", 10*time.Second)
	start := time.Now()
	result, err := v.Validate(context.Background(), "agent_v1.sh")
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Less(t, elapsed, 2500*time.Millisecond)
}

func TestValidateMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, err := shValidator(dir).Validate(context.Background(), "agent_v9.sh")
	var valFail *ValidationFailure
	require.ErrorAs(t, err, &valFail)
}

func TestValidateIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	writeVersion(t, dir, "agent_v1.sh", "#!/bin/sh\necho OK\n")
	v := shValidator(dir)

	r1, err1 := v.Validate(context.Background(), "agent_v1.sh")
	r2, err2 := v.Validate(context.Background(), "agent_v1.sh")
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, r1.Passed, r2.Passed)
	assert.Equal(t, r1.Stdout, r2.Stdout)
}
