// Package api provides the HTTP surface of the relay daemon.
// It exposes REST endpoints for agent sessions, project jobs and build
// staging, and pushes events over SSE and WebSocket rooms.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/zjrosen/relay/internal/github"
	"github.com/zjrosen/relay/internal/jobs"
	"github.com/zjrosen/relay/internal/ledger"
	"github.com/zjrosen/relay/internal/log"
	"github.com/zjrosen/relay/internal/orchestration/client"
	"github.com/zjrosen/relay/internal/orchestration/session"
	"github.com/zjrosen/relay/internal/staging"
)

// DefaultHeartbeat is the keepalive interval for streaming endpoints.
const DefaultHeartbeat = 30 * time.Second

// defaultLedgerLimit caps GET /api/ledger when no limit is given.
const defaultLedgerLimit = 100

// Sessions starts and cancels agent processes.
type Sessions interface {
	Start(ctx context.Context, providerType client.ClientType, req session.Request) (string, error)
	// Cancel fails with session.ErrSessionNotFound when id is not a live
	// session of providerType.
	Cancel(ctx context.Context, providerType client.ClientType, id string) error
	List(ctx context.Context) ([]session.Info, error)
}

// Jobs runs background jobs.
type Jobs interface {
	StartJob(ctx context.Context, kind jobs.Kind, steps []jobs.Step, opts ...jobs.StartOption) (string, error)
	GetStatus(ctx context.Context, id string) (jobs.Snapshot, error)
	ActiveJobs(ctx context.Context) ([]jobs.Snapshot, error)
}

// Stager pushes projects to build branches.
type Stager interface {
	Stage(ctx context.Context, project string) (*staging.Result, error)
	StageAndBuild(ctx context.Context, project, buildType string) (*staging.BuildResult, error)
	Cleanup(ctx context.Context, branch, project string) (*staging.CleanupResult, error)
	TempBranches(ctx context.Context) ([]github.Branch, error)
	InFlight() []string
}

// AvailabilityChecker reports whether a provider binary can be run.
type AvailabilityChecker interface {
	Get(ctx context.Context, t client.ClientType) (client.Availability, error)
}

// DispatcherStats exposes dispatcher counters for /health.
type DispatcherStats interface {
	QueueLength() int
	ProcessedCount() int64
	ErrorCount() int64
}

// ProjectFactory builds the steps of a project creation job.
type ProjectFactory func(name, template string) ([]jobs.Step, error)

var (
	_ Sessions = (*session.Manager)(nil)
	_ Jobs     = (*jobs.Supervisor)(nil)
	_ Stager   = (*staging.Orchestrator)(nil)
)

// HandlerConfig configures the API handler.
type HandlerConfig struct {
	Sessions     Sessions
	Jobs         Jobs
	Staging      Stager
	Ledger       ledger.Ledger
	Hub          *Hub
	Availability AvailabilityChecker
	Dispatcher   DispatcherStats
	Projects     ProjectFactory
	// ProjectsPath bounds every projectPath accepted from clients.
	ProjectsPath string
	Heartbeat    time.Duration
}

// Handler provides the HTTP endpoints.
type Handler struct {
	cfg HandlerConfig
}

// NewHandler creates a handler. Missing collaborators make their endpoints
// answer 503.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if cfg.Hub == nil {
		cfg.Hub = NewHub(0)
	}
	return &Handler{cfg: cfg}
}

// Routes returns an http.Handler with all API routes registered.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// Agent sessions
	mux.HandleFunc("POST /api/{provider}/execute", h.Execute)
	mux.HandleFunc("POST /api/{provider}/cancel", h.Cancel)
	mux.HandleFunc("GET /api/{provider}/status", h.ProviderStatus)
	mux.HandleFunc("GET /api/sessions", h.ListSessions)

	// Project jobs
	mux.HandleFunc("POST /api/projects", h.CreateProject)
	mux.HandleFunc("GET /api/projects/status/{jobId}", h.JobStatus)
	mux.HandleFunc("GET /api/projects/jobs", h.ActiveJobs)

	// Build staging
	mux.HandleFunc("POST /api/github-actions/prepare-project", h.PrepareProject)
	mux.HandleFunc("POST /api/github-actions/build-user-project", h.BuildProject)
	mux.HandleFunc("DELETE /api/github-actions/cleanup/{branch...}", h.CleanupBranch)
	mux.HandleFunc("GET /api/github-actions/temp-branches", h.TempBranches)

	mux.HandleFunc("GET /api/ledger", h.ListLedger)

	// Push
	mux.HandleFunc("GET /ws", h.WebSocket)
	mux.HandleFunc("GET /events", h.StreamEvents)
	mux.HandleFunc("GET /logs", h.StreamLogs)

	mux.HandleFunc("GET /health", h.Health)

	return withRequestLog(mux)
}

// === Request/Response Types ===

// ExecuteRequest is the body of POST /api/{provider}/execute.
type ExecuteRequest struct {
	ProjectPath string `json:"projectPath"`
	Prompt      string `json:"prompt"`
	Room        string `json:"room,omitempty"`
	ThreadID    string `json:"threadId,omitempty"`
}

// ExecuteResponse returns the new session id.
type ExecuteResponse struct {
	SessionID string `json:"sessionId"`
}

// CancelRequest is the body of POST /api/{provider}/cancel.
type CancelRequest struct {
	SessionID string `json:"sessionId"`
}

// CancelResponse acknowledges a cancel.
type CancelResponse struct {
	SessionID string `json:"sessionId"`
	Cancelled bool   `json:"cancelled"`
}

// ProviderStatusResponse reports binary availability and live sessions.
type ProviderStatusResponse struct {
	client.Availability
	ActiveSessions int `json:"activeSessions"`
}

// ListSessionsResponse lists live sessions.
type ListSessionsResponse struct {
	Sessions []session.Info `json:"sessions"`
	Total    int            `json:"total"`
}

// CreateProjectRequest is the body of POST /api/projects.
type CreateProjectRequest struct {
	ProjectName string `json:"projectName"`
	Template    string `json:"template,omitempty"`
	Room        string `json:"room,omitempty"`
}

// ListJobsResponse lists running jobs.
type ListJobsResponse struct {
	Jobs  []jobs.Snapshot `json:"jobs"`
	Total int             `json:"total"`
}

// StageRequest is the body of the github-actions staging endpoints.
type StageRequest struct {
	ProjectName string `json:"projectName"`
	BuildType   string `json:"buildType,omitempty"`
}

// StageResponse wraps a staging result.
type StageResponse struct {
	Success bool `json:"success"`
	*staging.Result
}

// BuildResponse wraps a staging and build trigger result.
type BuildResponse struct {
	Success bool `json:"success"`
	*staging.BuildResult
}

// TempBranchesResponse lists staging branches on the remote.
type TempBranchesResponse struct {
	Branches []github.Branch `json:"branches"`
	Total    int             `json:"total"`
}

// LedgerResponse lists failure ledger entries, newest first.
type LedgerResponse struct {
	Entries []ledger.Entry `json:"entries"`
	Total   int            `json:"total"`
}

// HealthResponse is the daemon health summary.
type HealthResponse struct {
	Status         string   `json:"status"`
	Sessions       int      `json:"sessions"`
	ActiveJobs     int      `json:"activeJobs"`
	StagingFlights []string `json:"stagingInFlight,omitempty"`
	Rooms          int      `json:"rooms"`
	// Dispatcher is omitted when no stats source is wired.
	Dispatcher *DispatcherHealth `json:"dispatcher,omitempty"`
}

// DispatcherHealth reports command queue counters.
type DispatcherHealth struct {
	Queued    int   `json:"queued"`
	Processed int64 `json:"processed"`
	Errors    int64 `json:"errors"`
}

// ErrorResponse is the response body for errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// === Session handlers ===

// Execute starts an agent session.
// POST /api/{provider}/execute
func (h *Handler) Execute(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Sessions == nil {
		h.unavailable(w, "sessions")
		return
	}
	provider, ok := h.provider(w, r)
	if !ok {
		return
	}

	var req ExecuteRequest
	if !h.decode(w, r, &req) {
		return
	}

	prompt, err := ValidatePrompt(req.Prompt)
	if err != nil {
		h.writeValidation(w, err)
		return
	}
	if req.ThreadID != "" {
		if err := ValidateSessionID("threadId", req.ThreadID); err != nil {
			h.writeValidation(w, err)
			return
		}
	}
	if err := ValidateRoom(req.Room); err != nil {
		h.writeValidation(w, err)
		return
	}
	cwd, err := SanitizeProjectPath(h.cfg.ProjectsPath, req.ProjectPath)
	if err != nil {
		h.writeValidation(w, err)
		return
	}

	id, err := h.cfg.Sessions.Start(r.Context(), provider, session.Request{
		Cwd:      cwd,
		Prompt:   prompt,
		ThreadID: req.ThreadID,
		Room:     req.Room,
	})
	if err != nil {
		var spawnErr *client.ProcessSpawnError
		if errors.As(err, &spawnErr) {
			h.writeError(w, http.StatusInternalServerError, "spawn_failed", spawnErr.Error(), id)
			return
		}
		h.writeError(w, http.StatusInternalServerError, "start_failed", "Failed to start session", err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, ExecuteResponse{SessionID: id})
}

// Cancel stops a running session started through the same provider.
// POST /api/{provider}/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Sessions == nil {
		h.unavailable(w, "sessions")
		return
	}
	provider, ok := h.provider(w, r)
	if !ok {
		return
	}

	var req CancelRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := ValidateSessionID("sessionId", req.SessionID); err != nil {
		h.writeValidation(w, err)
		return
	}

	if err := h.cfg.Sessions.Cancel(r.Context(), provider, req.SessionID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", err.Error(), "")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "cancel_failed", "Failed to cancel session", err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, CancelResponse{SessionID: req.SessionID, Cancelled: true})
}

// ProviderStatus reports whether the provider binary is installed.
// GET /api/{provider}/status
func (h *Handler) ProviderStatus(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.provider(w, r)
	if !ok {
		return
	}
	if h.cfg.Availability == nil {
		h.unavailable(w, "availability")
		return
	}

	avail, err := h.cfg.Availability.Get(r.Context(), provider)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "status_failed", "Failed to check provider", err.Error())
		return
	}

	resp := ProviderStatusResponse{Availability: avail}
	if h.cfg.Sessions != nil {
		if infos, err := h.cfg.Sessions.List(r.Context()); err == nil {
			for _, info := range infos {
				if info.Provider == provider {
					resp.ActiveSessions++
				}
			}
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// ListSessions lists live sessions across providers.
// GET /api/sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Sessions == nil {
		h.unavailable(w, "sessions")
		return
	}
	infos, err := h.cfg.Sessions.List(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "list_failed", "Failed to list sessions", err.Error())
		return
	}
	if infos == nil {
		infos = []session.Info{}
	}
	h.writeJSON(w, http.StatusOK, ListSessionsResponse{Sessions: infos, Total: len(infos)})
}

// === Job handlers ===

// CreateProject starts a project creation job and returns its first snapshot.
// POST /api/projects
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Jobs == nil || h.cfg.Projects == nil {
		h.unavailable(w, "jobs")
		return
	}

	var req CreateProjectRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := ValidateProjectName(req.ProjectName); err != nil {
		h.writeValidation(w, err)
		return
	}
	if err := ValidateRoom(req.Room); err != nil {
		h.writeValidation(w, err)
		return
	}

	steps, err := h.cfg.Projects(req.ProjectName, req.Template)
	if err != nil {
		if errors.Is(err, jobs.ErrProjectExists) {
			h.writeError(w, http.StatusConflict, "PROJECT_EXISTS", "Project already exists", req.ProjectName)
			return
		}
		h.writeError(w, http.StatusInternalServerError, "job_failed", "Failed to prepare project job", err.Error())
		return
	}

	id, err := h.cfg.Jobs.StartJob(r.Context(), jobs.KindProjectCreation, steps, jobs.WithRoom(req.Room))
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "job_failed", "Failed to start job", err.Error())
		return
	}

	snap, err := h.cfg.Jobs.GetStatus(r.Context(), id)
	if err != nil {
		// The job is running even if the first snapshot could not be read.
		snap = jobs.Snapshot{ID: id, Kind: jobs.KindProjectCreation, Status: jobs.StatusStarting}
	}
	h.writeJSON(w, http.StatusAccepted, snap)
}

// JobStatus returns a job snapshot.
// GET /api/projects/status/{jobId}
func (h *Handler) JobStatus(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Jobs == nil {
		h.unavailable(w, "jobs")
		return
	}
	id := r.PathValue("jobId")
	if err := ValidateSessionID("jobId", id); err != nil {
		h.writeValidation(w, err)
		return
	}

	snap, err := h.cfg.Jobs.GetStatus(r.Context(), id)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			h.writeError(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found or expired", id)
			return
		}
		h.writeError(w, http.StatusInternalServerError, "status_failed", "Failed to read job", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

// ActiveJobs lists jobs that have not finished.
// GET /api/projects/jobs
func (h *Handler) ActiveJobs(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Jobs == nil {
		h.unavailable(w, "jobs")
		return
	}
	snaps, err := h.cfg.Jobs.ActiveJobs(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "list_failed", "Failed to list jobs", err.Error())
		return
	}
	if snaps == nil {
		snaps = []jobs.Snapshot{}
	}
	h.writeJSON(w, http.StatusOK, ListJobsResponse{Jobs: snaps, Total: len(snaps)})
}

// === Staging handlers ===

// PrepareProject stages a project onto a new build branch.
// POST /api/github-actions/prepare-project
func (h *Handler) PrepareProject(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Staging == nil {
		h.unavailable(w, "staging")
		return
	}
	var req StageRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := ValidateProjectName(req.ProjectName); err != nil {
		h.writeValidation(w, err)
		return
	}

	res, err := h.cfg.Staging.Stage(r.Context(), req.ProjectName)
	if err != nil {
		h.writeStagingError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, StageResponse{Success: true, Result: res})
}

// BuildProject stages a project and triggers the build workflow.
// POST /api/github-actions/build-user-project
func (h *Handler) BuildProject(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Staging == nil {
		h.unavailable(w, "staging")
		return
	}
	var req StageRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := ValidateProjectName(req.ProjectName); err != nil {
		h.writeValidation(w, err)
		return
	}
	if req.BuildType == "" {
		req.BuildType = BuildDebug
	}
	if err := ValidateBuildType(req.BuildType); err != nil {
		h.writeValidation(w, err)
		return
	}

	res, err := h.cfg.Staging.StageAndBuild(r.Context(), req.ProjectName, req.BuildType)
	if err != nil {
		h.writeStagingError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, BuildResponse{Success: true, BuildResult: res})
}

// CleanupBranch deletes a staging branch and, with ?projectName=, its
// local copy.
// DELETE /api/github-actions/cleanup/{branch...}
func (h *Handler) CleanupBranch(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Staging == nil {
		h.unavailable(w, "staging")
		return
	}
	branch := r.PathValue("branch")
	if err := ValidateBranch(branch); err != nil {
		h.writeValidation(w, err)
		return
	}
	project := r.URL.Query().Get("projectName")
	if project != "" {
		if err := ValidateProjectName(project); err != nil {
			h.writeValidation(w, err)
			return
		}
	}

	res, err := h.cfg.Staging.Cleanup(r.Context(), branch, project)
	if err != nil {
		h.writeStagingError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// TempBranches lists build branches on the remote.
// GET /api/github-actions/temp-branches
func (h *Handler) TempBranches(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Staging == nil {
		h.unavailable(w, "staging")
		return
	}
	branches, err := h.cfg.Staging.TempBranches(r.Context())
	if err != nil {
		h.writeStagingError(w, err)
		return
	}
	if branches == nil {
		branches = []github.Branch{}
	}
	h.writeJSON(w, http.StatusOK, TempBranchesResponse{Branches: branches, Total: len(branches)})
}

// ListLedger returns recorded rollback failures.
// GET /api/ledger?limit=N
func (h *Handler) ListLedger(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Ledger == nil {
		h.unavailable(w, "ledger")
		return
	}
	limit := defaultLedgerLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, "validation_error", "limit must be a non-negative integer", raw)
			return
		}
		limit = n
	}

	entries, err := h.cfg.Ledger.List(r.Context(), limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "ledger_failed", "Failed to read ledger", err.Error())
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	h.writeJSON(w, http.StatusOK, LedgerResponse{Entries: entries, Total: len(entries)})
}

// Health returns the daemon health summary.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Rooms: h.cfg.Hub.Rooms()}

	if h.cfg.Sessions != nil {
		infos, err := h.cfg.Sessions.List(r.Context())
		if err != nil {
			// A dispatcher that cannot answer means the daemon is wedged.
			h.writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy"})
			return
		}
		resp.Sessions = len(infos)
	}
	if h.cfg.Jobs != nil {
		if snaps, err := h.cfg.Jobs.ActiveJobs(r.Context()); err == nil {
			resp.ActiveJobs = len(snaps)
		}
	}
	if h.cfg.Staging != nil {
		resp.StagingFlights = h.cfg.Staging.InFlight()
	}
	if d := h.cfg.Dispatcher; d != nil {
		resp.Dispatcher = &DispatcherHealth{
			Queued:    d.QueueLength(),
			Processed: d.ProcessedCount(),
			Errors:    d.ErrorCount(),
		}
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// === Helpers ===

func (h *Handler) provider(w http.ResponseWriter, r *http.Request) (client.ClientType, bool) {
	t := client.ClientType(r.PathValue("provider"))
	if !client.IsRegistered(t) {
		h.writeError(w, http.StatusNotFound, "unknown_provider", fmt.Sprintf("Unknown provider %q", t), "")
		return "", false
	}
	return t, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON body", err.Error())
		return false
	}
	return true
}

func (h *Handler) writeValidation(w http.ResponseWriter, err error) {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		h.writeError(w, http.StatusBadRequest, "validation_error", ve.Message, ve.Field)
	case errors.Is(err, errProjectNotFound):
		h.writeError(w, http.StatusNotFound, string(staging.CodeProjectNotFound), "Project not found", err.Error())
	default:
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Request could not be processed", err.Error())
	}
}

func (h *Handler) writeStagingError(w http.ResponseWriter, err error) {
	var se *staging.Error
	if errors.As(err, &se) {
		details := ""
		if se.Err != nil {
			details = se.Err.Error()
		}
		h.writeError(w, se.Status, string(se.Code), se.Message, details)
		return
	}
	h.writeError(w, http.StatusInternalServerError, "internal_error", "Staging failed", err.Error())
}

func (h *Handler) unavailable(w http.ResponseWriter, what string) {
	h.writeError(w, http.StatusServiceUnavailable, "unavailable", what+" not configured", "")
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error(log.CatAPI, "Failed to encode JSON response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message, details string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE working through the recorder.
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the websocket upgrader take over the connection.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

func withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug(log.CatAPI, "Request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}
