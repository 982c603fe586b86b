package github

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Fake is an in-memory BranchAPI for tests.
type Fake struct {
	mu        sync.Mutex
	branches  map[string]string
	workflows []WorkflowRun

	Configured bool
	URL        string
	// Error hooks; a non-nil value is returned by the matching call.
	DeleteErr  error
	TriggerErr error
	ListErr    error
}

// WorkflowRun records one TriggerWorkflow call.
type WorkflowRun struct {
	Ref    string
	Inputs map[string]string
}

var _ BranchAPI = (*Fake)(nil)

// NewFake returns a configured fake whose PushURL is pushURL.
func NewFake(pushURL string) *Fake {
	return &Fake{branches: make(map[string]string), Configured: true, URL: pushURL}
}

func (f *Fake) IsConfigured() bool { return f.Configured }
func (f *Fake) PushURL() string    { return f.URL }

func (f *Fake) CreateBranch(_ context.Context, name, sha string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.branches[name] = sha
	return nil
}

// AddBranch seeds a remote branch.
func (f *Fake) AddBranch(name string) {
	f.mu.Lock()
	f.branches[name] = ""
	f.mu.Unlock()
}

func (f *Fake) DeleteBranch(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	delete(f.branches, name)
	return nil
}

func (f *Fake) ListBranches(_ context.Context, prefix string) ([]Branch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	var out []Branch
	for name, sha := range f.branches {
		if strings.HasPrefix(name, prefix) {
			out = append(out, Branch{Name: name, SHA: sha})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *Fake) TriggerWorkflow(_ context.Context, ref string, inputs map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.TriggerErr != nil {
		return f.TriggerErr
	}
	f.workflows = append(f.workflows, WorkflowRun{Ref: ref, Inputs: inputs})
	return nil
}

// Workflows returns the recorded dispatches.
func (f *Fake) Workflows() []WorkflowRun {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]WorkflowRun(nil), f.workflows...)
}
