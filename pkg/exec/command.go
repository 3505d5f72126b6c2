package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	osexec "os/exec"
	"path/filepath"
	"strings"
	"time"

	"patchsmith/pkg/logx"
	"patchsmith/pkg/proto"
)

// CommandBackend stages the produced files into a scratch directory and runs
// a configured command (a test runner, a linter, a build) against them. The
// command's exit status decides success; its output becomes diagnostics.
type CommandBackend struct {
	command []string
	logger  *logx.Logger
}

// NewCommandBackend creates a command backend. The command is argv-style:
// the first element is the executable, the rest are its arguments.
func NewCommandBackend(command []string) (*CommandBackend, error) {
	if len(command) == 0 {
		return nil, errors.New("command backend requires a non-empty command")
	}
	return &CommandBackend{command: command, logger: logx.NewLogger("cmdexec")}, nil
}

// Name implements Backend.
func (b *CommandBackend) Name() string { return "command" }

// Available implements Backend: the executable must resolve on PATH.
func (b *CommandBackend) Available() bool {
	_, err := osexec.LookPath(b.command[0])
	return err == nil
}

// Run implements Backend.
func (b *CommandBackend) Run(ctx context.Context, files map[string]string, timeout time.Duration) (proto.ValidationResult, error) {
	result := proto.ValidationResult{Backend: b.Name()}

	dir, err := os.MkdirTemp("", "patchsmith-validate-")
	if err != nil {
		return result, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := stageFiles(dir, files); err != nil {
		return result, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	//nolint:gosec // The command comes from operator configuration, not model output.
	cmd := osexec.CommandContext(ctx, b.command[0], b.command[1:]...)
	cmd.Dir = dir
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	runErr := cmd.Run()
	result.Output = output.String()

	if runErr == nil {
		result.Success = true
		return result, nil
	}

	if ctx.Err() != nil {
		result.Diagnostics = append(result.Diagnostics, proto.Diagnostic{
			Source:  "command",
			Message: fmt.Sprintf("%s timed out after %s", b.command[0], timeout),
		})
		return result, nil
	}

	var exitErr *osexec.ExitError
	if !errors.As(runErr, &exitErr) {
		// Could not start at all: that is a backend malfunction, not a
		// validation failure.
		return result, fmt.Errorf("failed to run %s: %w", b.command[0], runErr)
	}

	b.logger.Debug("%s exited %d", b.command[0], exitErr.ExitCode())
	result.Diagnostics = parseOutput(result.Output, exitErr.ExitCode())
	return result, nil
}

// stageFiles writes the produced files under dir, creating subdirectories as
// needed. Paths escaping the scratch dir are rejected.
func stageFiles(dir string, files map[string]string) error {
	for name, content := range files {
		path := filepath.Join(dir, filepath.Clean(name))
		if !strings.HasPrefix(path, dir+string(filepath.Separator)) {
			return fmt.Errorf("file path escapes scratch dir: %q", name)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create dir for %s: %w", name, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("failed to stage %s: %w", name, err)
		}
	}
	return nil
}

// parseOutput turns command output into diagnostics, one per non-empty line,
// capped so a chatty tool cannot bloat the repair prompt.
func parseOutput(output string, exitCode int) []proto.Diagnostic {
	const maxDiagnostics = 25

	var diags []proto.Diagnostic
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		diags = append(diags, proto.Diagnostic{Source: "command", Message: line})
		if len(diags) == maxDiagnostics {
			break
		}
	}
	if len(diags) == 0 {
		diags = append(diags, proto.Diagnostic{
			Source:  "command",
			Message: fmt.Sprintf("command failed with exit code %d and no output", exitCode),
		})
	}
	return diags
}
