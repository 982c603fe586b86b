package staging

import (
	"context"
	"errors"
	"sync"

	"github.com/zjrosen/relay/internal/git"
)

// fakeGit is an in-memory git.Executor.
type fakeGit struct {
	mu       sync.Mutex
	root     string
	clean    bool
	current  string
	branches map[string]bool
	calls    []string
	commits  int

	// onPush runs for every push attempt; its error is returned.
	onPush func(remote, branch string) error
	// commitErr and checkoutErr fail Commit and Checkout when set.
	commitErr   error
	checkoutErr map[string]error
}

var _ git.Executor = (*fakeGit)(nil)

func newFakeGit(root string) *fakeGit {
	return &fakeGit{root: root, clean: true, current: "main", branches: map[string]bool{"main": true}}
}

func (f *fakeGit) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeGit) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeGit) Root() string { return f.root }

func (f *fakeGit) IsClean(context.Context) (bool, error) {
	f.record("status")
	return f.clean, nil
}

func (f *fakeGit) CurrentBranch(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, nil
}

func (f *fakeGit) Checkout(_ context.Context, branch string) error {
	f.record("checkout " + branch)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkoutErr[branch]; err != nil {
		return err
	}
	if !f.branches[branch] {
		return git.ErrBranchNotFound
	}
	f.current = branch
	return nil
}

func (f *fakeGit) BranchExists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.branches[name], nil
}

func (f *fakeGit) CreateBranch(_ context.Context, name string) error {
	f.record("checkout -b " + name)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.branches[name] = true
	f.current = name
	return nil
}

func (f *fakeGit) DeleteBranch(_ context.Context, name string) error {
	f.record("branch -D " + name)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == name {
		return errors.New("cannot delete checked out branch")
	}
	delete(f.branches, name)
	return nil
}

func (f *fakeGit) AddForce(_ context.Context, path string) error {
	f.record("add -f " + path)
	return nil
}

func (f *fakeGit) Unstage(_ context.Context, path string) error {
	f.record("reset " + path)
	return nil
}

func (f *fakeGit) Commit(context.Context, string, git.Author) (string, error) {
	f.record("commit")
	if f.commitErr != nil {
		return "", f.commitErr
	}
	f.mu.Lock()
	f.commits++
	f.mu.Unlock()
	return "abc1234", nil
}

func (f *fakeGit) RemoteURL(context.Context, string) (string, error) {
	return "git@github.com:acme/builds.git", nil
}

func (f *fakeGit) Push(_ context.Context, remote, branch string) error {
	f.record("push " + branch)
	if f.onPush != nil {
		return f.onPush(remote, branch)
	}
	return nil
}

func (f *fakeGit) LocalBranches() map[string]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]bool, len(f.branches))
	for k, v := range f.branches {
		out[k] = v
	}
	return out
}
