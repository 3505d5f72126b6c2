// Package exec provides the validation backends. A backend takes the
// produced files, checks them, and normalizes whatever it finds into a
// proto.ValidationResult so the repair loop never has to know which backend
// ran.
package exec

import (
	"context"
	"fmt"
	"time"

	"patchsmith/pkg/config"
	"patchsmith/pkg/proto"
)

// Backend validates a set of produced files.
type Backend interface {
	// Name returns the backend identifier recorded in results.
	Name() string
	// Available reports whether the backend can run in this environment.
	Available() bool
	// Run validates files and returns a normalized result. The error return
	// is reserved for backend malfunctions; validation failures are reported
	// inside the result with Success=false.
	Run(ctx context.Context, files map[string]string, timeout time.Duration) (proto.ValidationResult, error)
}

// New constructs the backend selected by configuration.
func New(cfg config.Validation) (Backend, error) {
	switch cfg.Backend {
	case config.BackendSandbox:
		return NewSandboxBackend(), nil
	case config.BackendCommand:
		return NewCommandBackend(cfg.Command)
	default:
		return nil, fmt.Errorf("unknown validation backend: %q", cfg.Backend)
	}
}
