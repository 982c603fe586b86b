package staging

import (
	"fmt"
	"net/http"
)

// Code identifies a staging failure for API clients.
type Code string

const (
	CodeGitHubNotConfigured Code = "GITHUB_NOT_CONFIGURED"
	CodeProjectNotFound     Code = "PROJECT_NOT_FOUND"
	CodeInvalidProject      Code = "INVALID_PROJECT"
	CodeProjectTooLarge     Code = "PROJECT_TOO_LARGE"
	CodeDirtyRepo           Code = "DIRTY_REPO"
	CodeInProgress          Code = "STAGING_IN_PROGRESS"
	CodeBranchFailed        Code = "BRANCH_FAILED"
	CodeCopyFailed          Code = "COPY_FAILED"
	CodeCommitFailed        Code = "COMMIT_FAILED"
	CodePushFailed          Code = "PUSH_FAILED"
	CodeInvalidBranch       Code = "INVALID_BRANCH"
	CodeTriggerFailed       Code = "TRIGGER_FAILED"
)

// Error is returned by every Orchestrator operation that fails.
type Error struct {
	Code    Code
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// IsValidation reports whether the error was raised before any side effect.
func (e *Error) IsValidation() bool {
	switch e.Code {
	case CodeGitHubNotConfigured, CodeProjectNotFound, CodeInvalidProject,
		CodeProjectTooLarge, CodeDirtyRepo, CodeInProgress, CodeInvalidBranch:
		return true
	}
	return false
}

func newError(code Code, status int, msg string, err error) *Error {
	return &Error{Code: code, Status: status, Message: msg, Err: err}
}

func notConfigured() *Error {
	return newError(CodeGitHubNotConfigured, http.StatusServiceUnavailable, "GitHub token not configured for staging", nil)
}
