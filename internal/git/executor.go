// Package git drives the staging checkout with the git CLI.
package git

import "context"

// Author sets commit identity through GIT_AUTHOR_* and GIT_COMMITTER_*.
// Empty fields fall back to the repository's configuration.
type Author struct {
	Name  string
	Email string
}

// Executor is the set of git operations staging needs. Every call is bounded
// by ctx and by the executor's command timeout.
type Executor interface {
	// Root returns the working tree the executor runs in.
	Root() string
	// IsClean reports whether `git status --porcelain` is empty.
	IsClean(ctx context.Context) (bool, error)
	CurrentBranch(ctx context.Context) (string, error)
	Checkout(ctx context.Context, branch string) error
	BranchExists(ctx context.Context, name string) (bool, error)
	// CreateBranch creates name from HEAD and checks it out.
	CreateBranch(ctx context.Context, name string) error
	// DeleteBranch force-deletes a local branch.
	DeleteBranch(ctx context.Context, name string) error
	// AddForce stages path even when it is gitignored.
	AddForce(ctx context.Context, path string) error
	// Unstage removes path from the index, leaving the working tree alone.
	Unstage(ctx context.Context, path string) error
	// Commit commits the index and returns the short hash of HEAD.
	Commit(ctx context.Context, message string, author Author) (string, error)
	RemoteURL(ctx context.Context, remote string) (string, error)
	// Push publishes branch to remoteURL without touching the configured
	// remotes. remoteURL may embed credentials; they never appear in
	// returned errors.
	Push(ctx context.Context, remoteURL, branch string) error
}
