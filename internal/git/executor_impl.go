package git

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/zjrosen/relay/internal/command"
	"github.com/zjrosen/relay/internal/log"
)

// DefaultTimeout bounds local git commands.
const DefaultTimeout = 30 * time.Second

// DefaultPushTimeout bounds network git commands.
const DefaultPushTimeout = 2 * time.Minute

// Git-specific errors.
var (
	ErrNotGitRepo      = errors.New("not a git repository")
	ErrBranchNotFound  = errors.New("branch not found")
	ErrNothingToCommit = errors.New("nothing to commit")
	ErrPushRejected    = errors.New("push rejected")
	ErrAuthFailed      = errors.New("git authentication failed")
)

var _ Executor = (*RealExecutor)(nil)

// RealExecutor implements Executor with the git binary.
type RealExecutor struct {
	workDir     string
	timeout     time.Duration
	pushTimeout time.Duration
}

// NewRealExecutor creates an executor rooted at workDir.
func NewRealExecutor(workDir string) *RealExecutor {
	return &RealExecutor{workDir: workDir, timeout: DefaultTimeout, pushTimeout: DefaultPushTimeout}
}

// WithTimeouts overrides the local and push timeouts; zero keeps a default.
func (e *RealExecutor) WithTimeouts(local, push time.Duration) *RealExecutor {
	if local > 0 {
		e.timeout = local
	}
	if push > 0 {
		e.pushTimeout = push
	}
	return e
}

func (e *RealExecutor) Root() string { return e.workDir }

func (e *RealExecutor) runGit(ctx context.Context, args ...string) error {
	_, err := e.runGitOutput(ctx, nil, e.timeout, args...)
	return err
}

// runGitOutput runs git and returns trimmed stdout.
func (e *RealExecutor) runGitOutput(ctx context.Context, env []string, timeout time.Duration, args ...string) (string, error) {
	return e.run(ctx, command.Spec{Name: "git", Args: args, Dir: e.workDir, Env: env, Timeout: timeout})
}

func (e *RealExecutor) run(ctx context.Context, spec command.Spec) (string, error) {
	res, err := command.Run(ctx, spec)
	if err != nil {
		var exitErr *command.ExitError
		if errors.As(err, &exitErr) {
			// git commit reports "nothing to commit" on stdout.
			msg := strings.TrimSpace(exitErr.Stderr)
			if msg == "" {
				msg = strings.TrimSpace(exitErr.Stdout)
			}
			if msg != "" {
				return "", parseGitError(msg, err)
			}
		}
		return "", fmt.Errorf("%s: %w", spec.String(), err)
	}
	return strings.TrimSpace(res.Stdout), nil
}

// parseGitError maps git stderr to sentinel errors.
func parseGitError(stderr string, originalErr error) error {
	lower := strings.ToLower(stderr)

	switch {
	case strings.Contains(lower, "not a git repository"):
		return fmt.Errorf("%w: %s", ErrNotGitRepo, stderr)
	case strings.Contains(lower, "did not match any file(s) known to git"),
		strings.Contains(lower, "branch") && strings.Contains(lower, "not found"):
		return fmt.Errorf("%w: %s", ErrBranchNotFound, stderr)
	case strings.Contains(lower, "nothing to commit"), strings.Contains(lower, "nothing added to commit"):
		return fmt.Errorf("%w: %s", ErrNothingToCommit, stderr)
	case strings.Contains(lower, "authentication failed"), strings.Contains(lower, "could not read username"):
		return fmt.Errorf("%w: %s", ErrAuthFailed, stderr)
	case strings.Contains(lower, "[rejected]"), strings.Contains(lower, "failed to push some refs"):
		return fmt.Errorf("%w: %s", ErrPushRejected, stderr)
	}
	return fmt.Errorf("git error: %s: %w", stderr, originalErr)
}

func (e *RealExecutor) IsClean(ctx context.Context) (bool, error) {
	out, err := e.runGitOutput(ctx, nil, e.timeout, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out == "", nil
}

func (e *RealExecutor) CurrentBranch(ctx context.Context) (string, error) {
	return e.runGitOutput(ctx, nil, e.timeout, "rev-parse", "--abbrev-ref", "HEAD")
}

func (e *RealExecutor) Checkout(ctx context.Context, branch string) error {
	return e.runGit(ctx, "checkout", branch)
}

func (e *RealExecutor) BranchExists(ctx context.Context, name string) (bool, error) {
	out, err := e.runGitOutput(ctx, nil, e.timeout, "branch", "--list", name)
	if err != nil {
		return false, err
	}
	return out != "", nil
}

func (e *RealExecutor) CreateBranch(ctx context.Context, name string) error {
	return e.runGit(ctx, "checkout", "-b", name)
}

func (e *RealExecutor) DeleteBranch(ctx context.Context, name string) error {
	return e.runGit(ctx, "branch", "-D", name)
}

func (e *RealExecutor) AddForce(ctx context.Context, path string) error {
	return e.runGit(ctx, "add", "-f", "--", path)
}

func (e *RealExecutor) Unstage(ctx context.Context, path string) error {
	return e.runGit(ctx, "reset", "-q", "--", path)
}

func (e *RealExecutor) Commit(ctx context.Context, message string, author Author) (string, error) {
	var env []string
	if author.Name != "" {
		env = append(env, "GIT_AUTHOR_NAME="+author.Name, "GIT_COMMITTER_NAME="+author.Name)
	}
	if author.Email != "" {
		env = append(env, "GIT_AUTHOR_EMAIL="+author.Email, "GIT_COMMITTER_EMAIL="+author.Email)
	}
	if _, err := e.runGitOutput(ctx, env, e.timeout, "commit", "-m", message); err != nil {
		return "", err
	}
	return e.runGitOutput(ctx, nil, e.timeout, "rev-parse", "--short", "HEAD")
}

func (e *RealExecutor) RemoteURL(ctx context.Context, remote string) (string, error) {
	return e.runGitOutput(ctx, nil, e.timeout, "remote", "get-url", remote)
}

func (e *RealExecutor) Push(ctx context.Context, remoteURL, branch string) error {
	refspec := "refs/heads/" + branch + ":refs/heads/" + branch
	_, err := e.run(ctx, command.Spec{
		Name:    "git",
		Args:    []string{"push", remoteURL, refspec},
		Dir:     e.workDir,
		Timeout: e.pushTimeout,
		Mask:    secrets(remoteURL),
	})
	if err != nil {
		log.Debug(log.CatGit, "Push failed", "branch", branch, "remote", Redact(remoteURL))
		return err
	}
	return nil
}

// Redact removes userinfo from a URL. Non-URLs are returned unchanged.
func Redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.User == nil {
		return rawURL
	}
	u.User = nil
	return u.String()
}

// secrets returns the credential parts of rawURL.
func secrets(rawURL string) []string {
	u, err := url.Parse(rawURL)
	if err != nil || u.User == nil {
		return nil
	}
	var out []string
	if pw, ok := u.User.Password(); ok && pw != "" {
		out = append(out, pw)
	} else if name := u.User.Username(); name != "" {
		// https://TOKEN@github.com form
		out = append(out, name)
	}
	return out
}
