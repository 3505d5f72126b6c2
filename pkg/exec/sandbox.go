package exec

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"patchsmith/pkg/logx"
	"patchsmith/pkg/proto"
)

// SandboxBackend validates files in-process without touching the host
// filesystem or spawning commands. Go sources are type-checked and evaluated
// by an embedded interpreter; everything else gets static content checks.
// It is the default backend and is always available.
type SandboxBackend struct {
	logger *logx.Logger
}

// NewSandboxBackend creates the in-process backend.
func NewSandboxBackend() *SandboxBackend {
	return &SandboxBackend{logger: logx.NewLogger("sandbox")}
}

// Name implements Backend.
func (b *SandboxBackend) Name() string { return "sandbox" }

// Available implements Backend. The sandbox has no external dependencies.
func (b *SandboxBackend) Available() bool { return true }

// Run implements Backend. Each file is checked independently; one broken
// file never masks findings in another.
func (b *SandboxBackend) Run(ctx context.Context, files map[string]string, timeout time.Duration) (proto.ValidationResult, error) {
	result := proto.ValidationResult{Success: true, Backend: b.Name()}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var output strings.Builder
	for _, name := range names {
		diags := b.checkFile(ctx, name, files[name], timeout)
		for _, d := range diags {
			result.Diagnostics = append(result.Diagnostics, d)
			fmt.Fprintf(&output, "%s: %s\n", d.Filename, d.Message)
		}
	}

	result.Output = output.String()
	result.Success = len(result.Diagnostics) == 0
	return result, nil
}

func (b *SandboxBackend) checkFile(ctx context.Context, name, content string, timeout time.Duration) []proto.Diagnostic {
	if diag := staticCheck(name, content); diag != nil {
		return []proto.Diagnostic{*diag}
	}
	if strings.HasSuffix(name, ".go") && !strings.HasSuffix(name, "_test.go") {
		if diag := b.evalGo(ctx, name, content, timeout); diag != nil {
			return []proto.Diagnostic{*diag}
		}
	}
	return nil
}

// staticCheck applies language-agnostic content checks.
func staticCheck(name, content string) *proto.Diagnostic {
	switch {
	case strings.TrimSpace(content) == "":
		return &proto.Diagnostic{Source: "static", Filename: name, Message: "file is empty"}
	case strings.Contains(content, "<<<<<<<") && strings.Contains(content, ">>>>>>>"):
		return &proto.Diagnostic{Source: "static", Filename: name, Message: "file contains unresolved merge conflict markers"}
	}
	return nil
}

// evalGo compiles and evaluates one Go source in a fresh interpreter.
// Runtime panics inside the interpreted code are captured as diagnostics,
// never propagated.
func (b *SandboxBackend) evalGo(ctx context.Context, name, content string, timeout time.Duration) *proto.Diagnostic {
	type evalOutcome struct{ err error }
	done := make(chan evalOutcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- evalOutcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		var stdout, stderr bytes.Buffer
		i := interp.New(interp.Options{Stdout: &stdout, Stderr: &stderr})
		if err := i.Use(stdlib.Symbols); err != nil {
			done <- evalOutcome{err: err}
			return
		}
		_, err := i.Eval(content)
		done <- evalOutcome{err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		if out.err != nil {
			return &proto.Diagnostic{Source: "interpreter", Filename: name, Message: out.err.Error()}
		}
		return nil
	case <-timer.C:
		b.logger.Warn("evaluation of %s exceeded %s", name, timeout)
		return &proto.Diagnostic{Source: "interpreter", Filename: name, Message: fmt.Sprintf("evaluation timed out after %s", timeout)}
	case <-ctx.Done():
		return &proto.Diagnostic{Source: "interpreter", Filename: name, Message: ctx.Err().Error()}
	}
}
