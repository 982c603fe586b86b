package api

import (
	"context"
	"sync"

	"github.com/zjrosen/relay/internal/github"
	"github.com/zjrosen/relay/internal/jobs"
	"github.com/zjrosen/relay/internal/orchestration/client"
	"github.com/zjrosen/relay/internal/orchestration/session"
	"github.com/zjrosen/relay/internal/staging"
)

type fakeSessions struct {
	mu        sync.Mutex
	started   []session.Request
	startErr  error
	cancelErr error
	cancelled []string
	infos     []session.Info
}

func (f *fakeSessions) Start(_ context.Context, t client.ClientType, req session.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, req)
	if f.startErr != nil {
		return "sess-failed", f.startErr
	}
	return "sess-1", nil
}

func (f *fakeSessions) Cancel(_ context.Context, t client.ClientType, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	for _, info := range f.infos {
		if info.ID == id && info.Provider != t {
			return session.ErrSessionNotFound
		}
	}
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeSessions) List(context.Context) ([]session.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.infos, nil
}

type fakeJobs struct {
	started []jobs.Kind
	snaps   map[string]jobs.Snapshot
	active  []jobs.Snapshot
}

func (f *fakeJobs) StartJob(_ context.Context, kind jobs.Kind, _ []jobs.Step, _ ...jobs.StartOption) (string, error) {
	f.started = append(f.started, kind)
	return "job-1", nil
}

func (f *fakeJobs) GetStatus(_ context.Context, id string) (jobs.Snapshot, error) {
	snap, ok := f.snaps[id]
	if !ok {
		return jobs.Snapshot{}, jobs.ErrJobNotFound
	}
	return snap, nil
}

func (f *fakeJobs) ActiveJobs(context.Context) ([]jobs.Snapshot, error) {
	return f.active, nil
}

type fakeStager struct {
	stageErr  error
	buildType string
	cleaned   []string
	cleanedP  []string
	branches  []github.Branch
	inFlight  []string
}

func (f *fakeStager) Stage(_ context.Context, project string) (*staging.Result, error) {
	if f.stageErr != nil {
		return nil, f.stageErr
	}
	return &staging.Result{BranchName: "build/" + project + "-1-abcdef", ProjectPath: "temp-builds/" + project, CommitHash: "abc1234"}, nil
}

func (f *fakeStager) StageAndBuild(ctx context.Context, project, buildType string) (*staging.BuildResult, error) {
	f.buildType = buildType
	res, err := f.Stage(ctx, project)
	if err != nil {
		return nil, err
	}
	return &staging.BuildResult{Staging: res, BuildType: buildType}, nil
}

func (f *fakeStager) Cleanup(_ context.Context, branch, project string) (*staging.CleanupResult, error) {
	f.cleaned = append(f.cleaned, branch)
	f.cleanedP = append(f.cleanedP, project)
	return &staging.CleanupResult{Branch: branch}, nil
}

func (f *fakeStager) TempBranches(context.Context) ([]github.Branch, error) {
	return f.branches, nil
}

func (f *fakeStager) InFlight() []string { return f.inFlight }

type fakeAvailability map[client.ClientType]client.Availability

func (f fakeAvailability) Get(_ context.Context, t client.ClientType) (client.Availability, error) {
	return f[t], nil
}
