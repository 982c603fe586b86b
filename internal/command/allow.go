package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotAllowed is returned for commands outside the allow-list.
var ErrNotAllowed = errors.New("command not allowed")

// DefaultAllowed lists the command prefixes user-triggered jobs may run.
var DefaultAllowed = []string{
	"npx create-expo-app",
	"claude code",
	"eas build",
	"git init",
	"git add",
	"git commit",
	"npm install",
}

// Runner runs commands that originate from user requests. Every command
// line must start with one of Allowed.
type Runner struct {
	Allowed        []string
	DefaultTimeout time.Duration
}

// NewRunner returns a Runner. A nil allowed list means DefaultAllowed.
func NewRunner(allowed []string, defaultTimeout time.Duration) *Runner {
	if allowed == nil {
		allowed = DefaultAllowed
	}
	return &Runner{Allowed: allowed, DefaultTimeout: defaultTimeout}
}

// Check validates spec against the allow-list.
func (r *Runner) Check(spec Spec) error {
	line := strings.TrimSpace(spec.String())
	for _, prefix := range r.Allowed {
		if line == prefix || strings.HasPrefix(line, prefix+" ") {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNotAllowed, line)
}

// Run checks spec and executes it.
func (r *Runner) Run(ctx context.Context, spec Spec) (*Result, error) {
	if err := r.Check(spec); err != nil {
		return nil, err
	}
	if spec.Timeout <= 0 {
		spec.Timeout = r.DefaultTimeout
	}
	return Run(ctx, spec)
}
