package exec

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("command backend tests need a POSIX shell")
	}
}

func TestCommandBackendRequiresCommand(t *testing.T) {
	_, err := NewCommandBackend(nil)
	require.Error(t, err)
}

func TestCommandBackendSuccess(t *testing.T) {
	requireShell(t)
	b, err := NewCommandBackend([]string{"sh", "-c", "exit 0"})
	require.NoError(t, err)
	require.True(t, b.Available())

	result, err := b.Run(context.Background(), map[string]string{"a.txt": "x"}, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Empty(t, result.Diagnostics)
	assert.Equal(t, "command", result.Backend)
}

func TestCommandBackendFailureYieldsDiagnostics(t *testing.T) {
	requireShell(t)
	b, err := NewCommandBackend([]string{"sh", "-c", "echo first problem; echo second problem; exit 1"})
	require.NoError(t, err)

	result, err := b.Run(context.Background(), map[string]string{"a.txt": "x"}, 5*time.Second)
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.Len(t, result.Diagnostics, 2)
	assert.Equal(t, "first problem", result.Diagnostics[0].Message)
	assert.Contains(t, result.Output, "second problem")
}

func TestCommandBackendSilentFailureStillReported(t *testing.T) {
	requireShell(t)
	b, err := NewCommandBackend([]string{"sh", "-c", "exit 3"})
	require.NoError(t, err)

	result, err := b.Run(context.Background(), map[string]string{"a.txt": "x"}, 5*time.Second)
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.Len(t, result.Diagnostics, 1)
	assert.Contains(t, result.Diagnostics[0].Message, "exit code 3")
}

func TestCommandBackendStagesFiles(t *testing.T) {
	requireShell(t)
	// The command sees the staged tree, including nested paths.
	b, err := NewCommandBackend([]string{"sh", "-c", "cat src/app.js"})
	require.NoError(t, err)

	files := map[string]string{"src/app.js": "console.log('hello')"}
	result, err := b.Run(context.Background(), files, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, result.Output, "console.log('hello')")
}

func TestCommandBackendRejectsEscapingPaths(t *testing.T) {
	requireShell(t)
	b, err := NewCommandBackend([]string{"sh", "-c", "exit 0"})
	require.NoError(t, err)

	_, err = b.Run(context.Background(), map[string]string{"../evil.txt": "x"}, 5*time.Second)
	require.Error(t, err)
}

func TestCommandBackendTimeout(t *testing.T) {
	requireShell(t)
	b, err := NewCommandBackend([]string{"sh", "-c", "sleep 5"})
	require.NoError(t, err)

	start := time.Now()
	result, err := b.Run(context.Background(), map[string]string{"a.txt": "x"}, 200*time.Millisecond)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.False(t, result.Success)
	require.NotEmpty(t, result.Diagnostics)
	assert.Contains(t, result.Diagnostics[0].Message, "timed out")
}

func TestCommandBackendUnavailableExecutable(t *testing.T) {
	b, err := NewCommandBackend([]string{"definitely-not-a-real-binary-xyz"})
	require.NoError(t, err)
	assert.False(t, b.Available())
}
