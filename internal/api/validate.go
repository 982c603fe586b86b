package api

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/zjrosen/relay/internal/staging"
)

// MaxPromptLength bounds the prompt accepted by the execute endpoints.
const MaxPromptLength = 2000

// Build types accepted by the build trigger.
const (
	BuildDebug   = "debug"
	BuildRelease = "release"
)

var (
	sessionIDRe = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)
	roomRe      = regexp.MustCompile(`^[a-zA-Z0-9-_:.]{1,128}$`)

	errProjectNotFound = errors.New("project directory not found")
)

// ValidationError reports a rejected request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ValidatePrompt trims prompt and checks it is non-empty and short enough.
func ValidatePrompt(prompt string) (string, error) {
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return "", invalid("prompt", "prompt is required")
	}
	if len([]rune(trimmed)) > MaxPromptLength {
		return "", invalid("prompt", "prompt must be at most %d characters", MaxPromptLength)
	}
	return trimmed, nil
}

// ValidateSessionID checks the shape of session and thread ids.
func ValidateSessionID(field, id string) error {
	if !sessionIDRe.MatchString(id) {
		return invalid(field, "%s must contain only letters, numbers and hyphens", field)
	}
	return nil
}

// ValidateRoom checks an optional room id.
func ValidateRoom(room string) error {
	if room == "" {
		return nil
	}
	if !roomRe.MatchString(room) {
		return invalid("room", "room must be 1-128 characters of letters, numbers, '-', '_', ':' or '.'")
	}
	return nil
}

// ValidateProjectName applies the staging project name rules.
func ValidateProjectName(name string) error {
	if err := staging.ValidateProjectName(name); err != nil {
		return invalid("projectName", "%s", err.Error())
	}
	return nil
}

// ValidateBranch checks a staging branch name.
func ValidateBranch(branch string) error {
	if !staging.ValidBranchName(branch) {
		return invalid("branchName", "branch must match build/<name>")
	}
	return nil
}

// ValidateBuildType accepts debug or release.
func ValidateBuildType(buildType string) error {
	switch buildType {
	case BuildDebug, BuildRelease:
		return nil
	default:
		return invalid("buildType", "buildType must be %q or %q", BuildDebug, BuildRelease)
	}
}

// SanitizeProjectPath resolves p against base and rejects anything that
// escapes base. Relative paths are taken relative to base. The result must
// be an existing directory strictly inside base.
func SanitizeProjectPath(base, p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", invalid("projectPath", "projectPath is required")
	}
	if strings.ContainsRune(p, 0) {
		return "", invalid("projectPath", "projectPath contains a NUL byte")
	}

	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("resolving projects path: %w", err)
	}

	target := p
	if !filepath.IsAbs(target) {
		target = filepath.Join(absBase, target)
	}
	target = filepath.Clean(target)

	rel, ok := inside(absBase, target)
	if !ok {
		return "", invalid("projectPath", "projectPath must be inside the projects directory")
	}

	info, err := os.Stat(target)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", errProjectNotFound, rel)
	}

	// A symlink inside base may still point outside it.
	realBase, err := filepath.EvalSymlinks(absBase)
	if err != nil {
		return "", fmt.Errorf("resolving projects path: %w", err)
	}
	realTarget, err := filepath.EvalSymlinks(target)
	if err != nil {
		return "", fmt.Errorf("%w: %s", errProjectNotFound, rel)
	}
	if _, ok := inside(realBase, realTarget); !ok {
		return "", invalid("projectPath", "projectPath must be inside the projects directory")
	}
	return target, nil
}

// inside returns target relative to base when target is strictly below it.
func inside(base, target string) (string, bool) {
	rel, err := filepath.Rel(base, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}
