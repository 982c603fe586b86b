// Package github talks to the GitHub REST API for staging branches and
// workflow dispatch.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zjrosen/relay/internal/log"
)

const (
	DefaultAPIURL   = "https://api.github.com"
	DefaultWorkflow = "gradle-build-android.yml"
	apiVersion      = "2022-11-28"
	requestTimeout  = 30 * time.Second
	perPage         = 100
	maxPages        = 20
)

// ErrNotConfigured is returned by every call when token, owner or repo is unset.
var ErrNotConfigured = errors.New("github integration not configured")

// APIError is a non-2xx response.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github %s %s: %d %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Branch is one entry of the branch listing.
type Branch struct {
	Name string `json:"name"`
	SHA  string `json:"sha"`
}

// BranchAPI is what staging needs from GitHub.
type BranchAPI interface {
	IsConfigured() bool
	CreateBranch(ctx context.Context, name, sha string) error
	DeleteBranch(ctx context.Context, name string) error
	ListBranches(ctx context.Context, prefix string) ([]Branch, error)
	TriggerWorkflow(ctx context.Context, ref string, inputs map[string]string) error
	// PushURL returns an authenticated https remote for git push.
	PushURL() string
}

// Config selects the repository and credentials.
type Config struct {
	Token    string `mapstructure:"token" yaml:"token,omitempty"`
	Owner    string `mapstructure:"owner" yaml:"owner"`
	Repo     string `mapstructure:"repo" yaml:"repo"`
	Workflow string `mapstructure:"workflow" yaml:"workflow"`
	APIURL   string `mapstructure:"api_url" yaml:"api_url,omitempty"`
}

// Client implements BranchAPI over net/http.
type Client struct {
	cfg  Config
	http *http.Client
}

var _ BranchAPI = (*Client)(nil)

// NewClient creates a client. httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.Workflow == "" {
		cfg.Workflow = DefaultWorkflow
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	return &Client{cfg: cfg, http: httpClient}
}

func (c *Client) IsConfigured() bool {
	return c.cfg.Token != "" && c.cfg.Owner != "" && c.cfg.Repo != ""
}

func (c *Client) PushURL() string {
	return fmt.Sprintf("https://x-access-token:%s@github.com/%s/%s.git", c.cfg.Token, c.cfg.Owner, c.cfg.Repo)
}

func (c *Client) repoPath(suffix string) string {
	return fmt.Sprintf("/repos/%s/%s%s", url.PathEscape(c.cfg.Owner), url.PathEscape(c.cfg.Repo), suffix)
}

// do sends a request and decodes a JSON response into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if !c.IsConfigured() {
		return ErrNotConfigured
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("github %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var payload struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload)
		if payload.Message == "" {
			payload.Message = http.StatusText(resp.StatusCode)
		}
		log.Debug(log.CatGitHub, "API error", "method", method, "path", path, "status", resp.StatusCode)
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Message: payload.Message}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding %s %s: %w", method, path, err)
		}
	}
	return nil
}

func (c *Client) CreateBranch(ctx context.Context, name, sha string) error {
	body := map[string]string{"ref": "refs/heads/" + name, "sha": sha}
	err := c.do(ctx, http.MethodPost, c.repoPath("/git/refs"), body, nil)
	if err == nil {
		log.Info(log.CatGitHub, "Created branch", "branch", name)
	}
	return err
}

func (c *Client) DeleteBranch(ctx context.Context, name string) error {
	err := c.do(ctx, http.MethodDelete, c.repoPath("/git/refs/heads/"+name), nil, nil)
	if err == nil {
		log.Info(log.CatGitHub, "Deleted branch", "branch", name)
	}
	return err
}

// ListBranches pages through the repository's branches and keeps those
// starting with prefix.
func (c *Client) ListBranches(ctx context.Context, prefix string) ([]Branch, error) {
	type apiBranch struct {
		Name   string `json:"name"`
		Commit struct {
			SHA string `json:"sha"`
		} `json:"commit"`
	}

	var out []Branch
	for page := 1; page <= maxPages; page++ {
		var batch []apiBranch
		path := c.repoPath(fmt.Sprintf("/branches?per_page=%d&page=%d", perPage, page))
		if err := c.do(ctx, http.MethodGet, path, nil, &batch); err != nil {
			return nil, err
		}
		for _, b := range batch {
			if strings.HasPrefix(b.Name, prefix) {
				out = append(out, Branch{Name: b.Name, SHA: b.Commit.SHA})
			}
		}
		if len(batch) < perPage {
			break
		}
	}
	return out, nil
}

// TriggerWorkflow dispatches the configured workflow on ref.
func (c *Client) TriggerWorkflow(ctx context.Context, ref string, inputs map[string]string) error {
	body := map[string]any{"ref": ref, "inputs": inputs}
	path := c.repoPath("/actions/workflows/" + url.PathEscape(c.cfg.Workflow) + "/dispatches")
	err := c.do(ctx, http.MethodPost, path, body, nil)
	if err == nil {
		log.Info(log.CatGitHub, "Triggered workflow", "workflow", c.cfg.Workflow, "ref", ref)
	}
	return err
}
