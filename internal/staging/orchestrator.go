// Package staging publishes a local project into a disposable git branch
// for a remote build, and unwinds every side effect when a later step fails.
//
// A staging operation moves through
//
//	validating -> branching -> copying -> committing -> pushing -> cleaning-local -> done
//
// and reaches rolled-back from any state after validating. Validation
// failures have no side effects. Compensating actions that fail are
// written to the ledger instead of being returned.
package staging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/relay/internal/git"
	"github.com/zjrosen/relay/internal/github"
	"github.com/zjrosen/relay/internal/ledger"
	"github.com/zjrosen/relay/internal/log"
	"github.com/zjrosen/relay/internal/orchestration/events"
	"github.com/zjrosen/relay/internal/orchestration/tracing"
)

// State is a position in the staging state machine.
type State string

const (
	StateValidating    State = "validating"
	StateBranching     State = "branching"
	StateCopying       State = "copying"
	StateCommitting    State = "committing"
	StatePushing       State = "pushing"
	StateCleaningLocal State = "cleaning-local"
	StateDone          State = "done"
	StateRolledBack    State = "rolled-back"
)

// BranchPrefix starts every staging branch name.
const BranchPrefix = "build/"

// Defaults applied by New.
const (
	DefaultStagingDir   = "temp-builds"
	DefaultBaseBranch   = "main"
	DefaultMaxSizeBytes = 50 << 20
	DefaultPushAttempts = 3
	DefaultPushBackoff  = time.Second
	rollbackTimeout     = time.Minute
)

var (
	DefaultExcludes      = []string{"node_modules", ".git", "android", "ios", ".expo", ".expo-shared"}
	DefaultRequiredFiles = []string{"package.json", "app.json"}
)

// Config wires an Orchestrator. Git and GitHub are required.
type Config struct {
	// RepoRoot is the shared checkout branches are created in.
	RepoRoot string
	// ProjectsPath holds the source projects.
	ProjectsPath string
	// StagingDir is the directory under RepoRoot projects are copied into.
	StagingDir    string
	BaseBranch    string
	MaxSizeBytes  int64
	Excludes      []string
	RequiredFiles []string
	PushAttempts  int
	// PushBackoff is the linear backoff unit: retry n waits n*PushBackoff.
	PushBackoff time.Duration
	Author      git.Author

	Git    git.Executor
	GitHub github.BranchAPI
	Ledger ledger.Ledger
	Sink   events.Sink
	Tracer trace.Tracer
	Now    func() time.Time
	Random io.Reader
}

// Result describes a staged branch.
type Result struct {
	BranchName  string `json:"branchName"`
	ProjectPath string `json:"projectPath"`
	CommitHash  string `json:"commitHash"`
}

// StatusUpdate is the payload of staging push events.
type StatusUpdate struct {
	Project string `json:"projectName"`
	Branch  string `json:"branchName,omitempty"`
	State   State  `json:"state"`
	Error   string `json:"error,omitempty"`
}

// Orchestrator runs staging operations. At most one operation per project
// is admitted; operations on different projects share the checkout and so
// serialize on the workspace lock.
type Orchestrator struct {
	cfg      Config
	excluded map[string]bool

	admitMu sync.Mutex
	active  map[string]time.Time

	workspace sync.Mutex
}

// New creates an Orchestrator, filling defaults.
func New(cfg Config) *Orchestrator {
	if cfg.StagingDir == "" {
		cfg.StagingDir = DefaultStagingDir
	}
	if cfg.BaseBranch == "" {
		cfg.BaseBranch = DefaultBaseBranch
	}
	if cfg.MaxSizeBytes <= 0 {
		cfg.MaxSizeBytes = DefaultMaxSizeBytes
	}
	if cfg.Excludes == nil {
		cfg.Excludes = DefaultExcludes
	}
	if cfg.RequiredFiles == nil {
		cfg.RequiredFiles = DefaultRequiredFiles
	}
	if cfg.PushAttempts <= 0 {
		cfg.PushAttempts = DefaultPushAttempts
	}
	if cfg.PushBackoff <= 0 {
		cfg.PushBackoff = DefaultPushBackoff
	}
	if cfg.Sink == nil {
		cfg.Sink = events.NopSink{}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = tracing.Noop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Random == nil {
		cfg.Random = rand.Reader
	}
	excluded := make(map[string]bool, len(cfg.Excludes))
	for _, name := range cfg.Excludes {
		excluded[name] = true
	}
	return &Orchestrator{cfg: cfg, excluded: excluded, active: make(map[string]time.Time)}
}

// BranchName builds build/<project>-<unix seconds>-<6 hex chars>.
func (o *Orchestrator) BranchName(project string) (string, error) {
	suffix := make([]byte, 3)
	if _, err := io.ReadFull(o.cfg.Random, suffix); err != nil {
		return "", fmt.Errorf("generating branch suffix: %w", err)
	}
	return BranchPrefix + project + "-" + strconv.FormatInt(o.cfg.Now().Unix(), 10) + "-" + hex.EncodeToString(suffix), nil
}

func (o *Orchestrator) admit(project string) bool {
	o.admitMu.Lock()
	defer o.admitMu.Unlock()
	if _, busy := o.active[project]; busy {
		return false
	}
	o.active[project] = o.cfg.Now()
	return true
}

func (o *Orchestrator) release(project string) {
	o.admitMu.Lock()
	delete(o.active, project)
	o.admitMu.Unlock()
}

// InFlight lists projects with an admitted operation.
func (o *Orchestrator) InFlight() []string {
	o.admitMu.Lock()
	defer o.admitMu.Unlock()
	out := make([]string, 0, len(o.active))
	for p := range o.active {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// operation carries one Stage call's progress.
type operation struct {
	project string
	branch  string
	dest    string
	state   State
	// staged is set once the copy has been added to the index.
	staged bool
	span   trace.Span
}

func (o *Orchestrator) stagedPath(project string) string {
	return filepath.ToSlash(filepath.Join(o.cfg.StagingDir, project))
}

// Stage validates project, then branches, copies, commits and pushes it.
// On any failure after validation every side effect is rolled back
// before the error is returned.
func (o *Orchestrator) Stage(ctx context.Context, project string) (*Result, error) {
	if err := ValidateProjectName(project); err != nil {
		return nil, newError(CodeInvalidProject, http.StatusBadRequest, err.Error(), nil)
	}
	if !o.admit(project) {
		return nil, newError(CodeInProgress, http.StatusConflict, "Staging already in progress for this project", nil)
	}
	defer o.release(project)

	ctx, span := tracing.Start(ctx, o.cfg.Tracer, tracing.SpanStaging, attribute.String(tracing.AttrProject, project))
	op := &operation{project: project, dest: filepath.Join(o.cfg.RepoRoot, o.cfg.StagingDir, project), span: span}

	o.workspace.Lock()
	defer o.workspace.Unlock()

	res, err := o.stage(ctx, op)
	if err != nil {
		var se *Error
		if errors.As(err, &se) && se.IsValidation() {
			log.Info(log.CatStaging, "Staging rejected", "project", project, "code", se.Code)
		} else {
			log.ErrorErr(log.CatStaging, "Failed to stage project", err, "project", project, "branch", op.branch)
			o.rollback(ctx, op, err)
		}
		tracing.End(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.String(tracing.AttrBranch, res.BranchName))
	tracing.End(span, nil)
	log.Info(log.CatStaging, "Project staged", "project", project, "branch", res.BranchName, "commit", res.CommitHash)
	return res, nil
}

func (o *Orchestrator) stage(ctx context.Context, op *operation) (*Result, error) {
	if err := o.step(ctx, op, StateValidating, func(ctx context.Context) error {
		return o.validate(ctx, op.project)
	}); err != nil {
		return nil, err
	}

	branch, err := o.BranchName(op.project)
	if err != nil {
		return nil, newError(CodeBranchFailed, http.StatusInternalServerError, "Failed to name staging branch", err)
	}
	op.branch = branch
	op.span.SetAttributes(attribute.String(tracing.AttrBranch, branch))

	if err := o.step(ctx, op, StateBranching, func(ctx context.Context) error {
		return o.createBranch(ctx, branch)
	}); err != nil {
		return nil, err
	}

	if err := o.step(ctx, op, StateCopying, func(context.Context) error {
		return o.copyProject(op)
	}); err != nil {
		return nil, err
	}

	var hash string
	if err := o.step(ctx, op, StateCommitting, func(ctx context.Context) error {
		var err error
		hash, err = o.commit(ctx, op)
		return err
	}); err != nil {
		return nil, err
	}

	if err := o.step(ctx, op, StatePushing, func(ctx context.Context) error {
		return o.push(ctx, branch)
	}); err != nil {
		return nil, err
	}

	_ = o.step(ctx, op, StateCleaningLocal, func(ctx context.Context) error {
		o.cleanLocal(ctx, op)
		return nil
	})
	o.publish(op, StateDone, nil)

	return &Result{BranchName: branch, ProjectPath: o.stagedPath(op.project), CommitHash: hash}, nil
}

// step publishes the state, runs fn in a child span and returns its error.
func (o *Orchestrator) step(ctx context.Context, op *operation, state State, fn func(context.Context) error) error {
	op.state = state
	o.publish(op, state, nil)
	ctx, span := tracing.Start(ctx, o.cfg.Tracer, tracing.SpanStagingState+string(state),
		attribute.String(tracing.AttrProject, op.project),
		attribute.String(tracing.AttrStagingState, string(state)))
	err := fn(ctx)
	tracing.End(span, err)
	return err
}

func (o *Orchestrator) publish(op *operation, state State, err error) {
	update := StatusUpdate{Project: op.project, Branch: op.branch, State: state}
	if err != nil {
		update.Error = err.Error()
	}
	o.cfg.Sink.Publish(events.Envelope{
		Topic:     events.TopicStaging,
		SourceID:  op.project,
		Timestamp: o.cfg.Now(),
		Data:      update,
	})
}

func (o *Orchestrator) validate(ctx context.Context, project string) error {
	if !o.cfg.GitHub.IsConfigured() {
		return notConfigured()
	}

	src := filepath.Join(o.cfg.ProjectsPath, project)
	info, err := os.Stat(src)
	if err != nil || !info.IsDir() {
		return newError(CodeProjectNotFound, http.StatusNotFound, "Project not found", err)
	}

	for _, name := range o.cfg.RequiredFiles {
		if _, err := os.Stat(filepath.Join(src, name)); err != nil {
			return newError(CodeInvalidProject, http.StatusBadRequest, "Missing required file: "+name, nil)
		}
	}

	size, err := treeSize(src, o.excluded, o.cfg.MaxSizeBytes)
	if err != nil {
		return newError(CodeInvalidProject, http.StatusBadRequest, "Failed to measure project size", err)
	}
	if size > o.cfg.MaxSizeBytes {
		return newError(CodeProjectTooLarge, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("Project is too large for staging (max %dMB without node_modules)", o.cfg.MaxSizeBytes>>20), nil)
	}

	clean, err := o.cfg.Git.IsClean(ctx)
	if err != nil {
		return newError(CodeDirtyRepo, http.StatusConflict, "Failed to read repository status", err)
	}
	if !clean {
		return newError(CodeDirtyRepo, http.StatusConflict,
			"Repository has uncommitted changes. Please commit or stash them first.", nil)
	}
	return nil
}

func (o *Orchestrator) createBranch(ctx context.Context, branch string) error {
	wrap := func(err error) error {
		return newError(CodeBranchFailed, http.StatusInternalServerError, "Failed to create staging branch", err)
	}
	if err := o.cfg.Git.Checkout(ctx, o.cfg.BaseBranch); err != nil {
		return wrap(err)
	}
	exists, err := o.cfg.Git.BranchExists(ctx, branch)
	if err != nil {
		return wrap(err)
	}
	if exists {
		if err := o.cfg.Git.DeleteBranch(ctx, branch); err != nil {
			return wrap(err)
		}
	}
	if err := o.cfg.Git.CreateBranch(ctx, branch); err != nil {
		return wrap(err)
	}
	return nil
}

func (o *Orchestrator) copyProject(op *operation) error {
	wrap := func(err error) error {
		return newError(CodeCopyFailed, http.StatusInternalServerError, "Failed to copy project files", err)
	}
	if err := os.RemoveAll(op.dest); err != nil {
		return wrap(err)
	}
	if err := os.MkdirAll(op.dest, 0o755); err != nil {
		return wrap(err)
	}
	if err := copyTree(filepath.Join(o.cfg.ProjectsPath, op.project), op.dest, o.excluded); err != nil {
		return wrap(err)
	}
	return nil
}

func (o *Orchestrator) commit(ctx context.Context, op *operation) (string, error) {
	wrap := func(err error) error {
		return newError(CodeCommitFailed, http.StatusInternalServerError, "Failed to commit staged files", err)
	}
	// A partial add can leave entries in the index, so rollback unstages
	// even when AddForce reports an error.
	op.staged = true
	if err := o.cfg.Git.AddForce(ctx, o.stagedPath(op.project)); err != nil {
		return "", wrap(err)
	}
	hash, err := o.cfg.Git.Commit(ctx, "chore: stage-build-"+op.project, o.cfg.Author)
	if err != nil {
		return "", wrap(err)
	}
	return hash, nil
}

// push tries PushAttempts times, waiting attempt*PushBackoff between tries.
func (o *Orchestrator) push(ctx context.Context, branch string) error {
	span := trace.SpanFromContext(ctx)
	remote := o.cfg.GitHub.PushURL()
	attempts := 0

	err := retry.Retry(func(attempt uint) error {
		attempts++
		err := o.cfg.Git.Push(ctx, remote, branch)
		if err != nil {
			log.Warn(log.CatStaging, "Git push failed", "branch", branch, "attempt", attempts, "error", err)
			span.AddEvent(tracing.EventPushRetry, trace.WithAttributes(attribute.Int(tracing.AttrAttempt, attempts)))
		}
		return err
	},
		func(uint) bool { return attempts < o.cfg.PushAttempts && ctx.Err() == nil },
		waitLinear(ctx, o.cfg.PushBackoff),
	)
	if err != nil {
		return newError(CodePushFailed, http.StatusBadGateway, "Failed to push staging branch to GitHub", err)
	}
	return nil
}

// waitLinear sleeps attempt*unit before each retry, giving up when ctx ends.
func waitLinear(ctx context.Context, unit time.Duration) strategy.Strategy {
	delay := backoff.Linear(unit)
	return func(attempt uint) bool {
		if attempt == 0 {
			return true
		}
		timer := time.NewTimer(delay(attempt))
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		}
	}
}

// cleanLocal returns the checkout to the base branch after a push. The
// staged files leave the working tree with the checkout. The push already
// succeeded, so failures only go to the ledger: a checkout left on the
// build branch blocks the next Stage until an operator fixes it.
func (o *Orchestrator) cleanLocal(ctx context.Context, op *operation) {
	fail := func(step string, err error) {
		log.Warn(log.CatStaging, "Local cleanup step failed", "step", step, "branch", op.branch, "error", err)
		ledger.Record(ctx, o.cfg.Ledger, &ledger.CleanupFailure{Step: step, Project: op.project, Branch: op.branch, Err: err})
	}
	if err := o.cfg.Git.Checkout(ctx, o.cfg.BaseBranch); err != nil {
		fail("checkout-base", err)
		return
	}
	if err := o.cfg.Git.DeleteBranch(ctx, op.branch); err != nil {
		fail("local-branch", err)
	}
}

// rollback undoes op best effort. It never returns an error; failures are
// recorded to the ledger.
func (o *Orchestrator) rollback(parent context.Context, op *operation, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), rollbackTimeout)
	defer cancel()
	ctx, span := tracing.Start(ctx, o.cfg.Tracer, tracing.SpanStagingCleanup,
		attribute.String(tracing.AttrProject, op.project),
		attribute.String(tracing.AttrBranch, op.branch),
		attribute.String(tracing.AttrStagingState, string(op.state)))
	defer span.End()

	fail := func(step string, err error) {
		f := &ledger.CleanupFailure{Step: step, Project: op.project, Branch: op.branch, Err: err}
		if step == "local-dir" {
			f.Path = op.dest
		}
		log.ErrorErr(log.CatStaging, "Rollback step failed", err, "step", step, "project", op.project)
		span.AddEvent(tracing.EventCleanupFailed, trace.WithAttributes(attribute.String(tracing.AttrErrorMessage, err.Error())))
		ledger.Record(ctx, o.cfg.Ledger, f)
	}

	// Staged entries would follow the checkout to the base branch and
	// leave it dirty once the files are removed.
	if op.staged {
		if err := o.cfg.Git.Unstage(ctx, o.stagedPath(op.project)); err != nil {
			fail("unstage", err)
		}
	}
	if op.branch != "" {
		o.dropBranch(ctx, op.branch, fail)
	}
	if err := os.RemoveAll(op.dest); err != nil {
		fail("local-dir", err)
	}

	o.publish(op, StateRolledBack, cause)
	log.Info(log.CatStaging, "Rolled back staging", "project", op.project, "branch", op.branch)
}

// dropBranch deletes branch remotely and locally. A remote 404 counts as
// deleted since the push may never have happened.
func (o *Orchestrator) dropBranch(ctx context.Context, branch string, fail func(step string, err error)) {
	if err := o.cfg.GitHub.DeleteBranch(ctx, branch); err != nil && !github.IsNotFound(err) {
		fail("remote-branch", err)
	}
	if err := o.cfg.Git.Checkout(ctx, o.cfg.BaseBranch); err != nil {
		fail("checkout-base", err)
		return
	}
	exists, err := o.cfg.Git.BranchExists(ctx, branch)
	if err != nil {
		fail("local-branch", err)
		return
	}
	if exists {
		if err := o.cfg.Git.DeleteBranch(ctx, branch); err != nil {
			fail("local-branch", err)
		}
	}
}

// CleanupResult reports what Cleanup removed.
type CleanupResult struct {
	Branch    string `json:"branch"`
	LocalPath string `json:"localPath,omitempty"`
}

// Cleanup removes a staged branch and, when project is set, its local copy.
// Individual failures go to the ledger.
func (o *Orchestrator) Cleanup(ctx context.Context, branch, project string) (*CleanupResult, error) {
	if !ValidBranchName(branch) {
		return nil, newError(CodeInvalidBranch, http.StatusBadRequest, "Invalid branchName format", nil)
	}
	if project != "" {
		if err := ValidateProjectName(project); err != nil {
			return nil, newError(CodeInvalidProject, http.StatusBadRequest, err.Error(), nil)
		}
	}

	o.workspace.Lock()
	defer o.workspace.Unlock()

	fail := func(step string, err error) {
		log.Warn(log.CatStaging, "Cleanup step failed", "step", step, "branch", branch, "error", err)
		f := &ledger.CleanupFailure{Step: step, Project: project, Branch: branch, Err: err}
		ledger.Record(ctx, o.cfg.Ledger, f)
	}
	o.dropBranch(ctx, branch, fail)

	res := &CleanupResult{Branch: branch}
	if project != "" {
		dest := filepath.Join(o.cfg.RepoRoot, o.cfg.StagingDir, project)
		if err := os.RemoveAll(dest); err != nil {
			fail("local-dir", err)
		} else {
			res.LocalPath = dest
		}
	}
	return res, nil
}

// TempBranches lists remote staging branches.
func (o *Orchestrator) TempBranches(ctx context.Context) ([]github.Branch, error) {
	if !o.cfg.GitHub.IsConfigured() {
		return nil, notConfigured()
	}
	return o.cfg.GitHub.ListBranches(ctx, BranchPrefix)
}

// BuildResult is returned by StageAndBuild.
type BuildResult struct {
	Staging   *Result `json:"staging"`
	BuildType string  `json:"buildType"`
}

// StageAndBuild stages project and dispatches the build workflow on the new
// branch. When the dispatch fails the staged branch and copy are removed.
func (o *Orchestrator) StageAndBuild(ctx context.Context, project, buildType string) (*BuildResult, error) {
	res, err := o.Stage(ctx, project)
	if err != nil {
		return nil, err
	}

	inputs := map[string]string{"project_path": res.ProjectPath, "build_type": buildType}
	if err := o.cfg.GitHub.TriggerWorkflow(ctx, res.BranchName, inputs); err != nil {
		log.ErrorErr(log.CatStaging, "Build trigger failed, cleaning up", err, "branch", res.BranchName)
		if _, cerr := o.Cleanup(context.WithoutCancel(ctx), res.BranchName, project); cerr != nil {
			log.Warn(log.CatStaging, "Cleanup after trigger failure failed", "branch", res.BranchName, "error", cerr)
		}
		return nil, newError(CodeTriggerFailed, http.StatusBadGateway, "Failed to trigger build workflow", err)
	}
	return &BuildResult{Staging: res, BuildType: buildType}, nil
}
