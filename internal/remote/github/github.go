// Package github implements remote.Client on top of the GitHub Actions REST
// API: workflow runs are the runs, and run artifacts are the artifacts.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lucasew/artifactquota/internal/artifact"
	"github.com/lucasew/artifactquota/internal/errutil"
	"github.com/lucasew/artifactquota/internal/remote"
)

const (
	DefaultBaseURL = "https://api.github.com"
	apiVersion     = "2022-11-28"

	// MaxPageSize is the largest per_page GitHub honors; larger values are
	// silently truncated by the server.
	MaxPageSize = 100

	// secondaryLimitWait is used when GitHub throttles without saying for how long.
	secondaryLimitWait = time.Minute
)

type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client

	now func() time.Time
}

func New(baseURL, token string, client *http.Client) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    client,
		now:     time.Now,
	}
}

type workflowRun struct {
	ID         int64   `json:"id"`
	Name       string  `json:"name"`
	WorkflowID int64   `json:"workflow_id"`
	Status     string  `json:"status"`
	Conclusion *string `json:"conclusion"`
}

type workflowRunsResponse struct {
	TotalCount   int           `json:"total_count"`
	WorkflowRuns []workflowRun `json:"workflow_runs"`
}

type runArtifact struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	SizeInBytes int64      `json:"size_in_bytes"`
	Expired     bool       `json:"expired"`
	CreatedAt   *time.Time `json:"created_at"`
	WorkflowRun *struct {
		ID int64 `json:"id"`
	} `json:"workflow_run"`
}

type artifactsResponse struct {
	TotalCount int           `json:"total_count"`
	Artifacts  []runArtifact `json:"artifacts"`
}

// ListRuns fetches one page of workflow runs. The cursor is the 1-based page
// number; an empty cursor means the first page.
func (c *Client) ListRuns(ctx context.Context, ns artifact.Namespace, cursor string, pageSize int) (remote.Page[artifact.Run], error) {
	page := 1
	if cursor != "" {
		p, err := strconv.Atoi(cursor)
		if err != nil || p < 1 {
			return remote.Page[artifact.Run]{}, remote.Permanent(fmt.Errorf("invalid page cursor %q", cursor))
		}
		page = p
	}

	perPage := min(pageSize, MaxPageSize)
	if perPage <= 0 {
		perPage = MaxPageSize
	}
	q := url.Values{}
	q.Set("per_page", strconv.Itoa(perPage))
	q.Set("page", strconv.Itoa(page))

	var body workflowRunsResponse
	if err := c.getJSON(ctx, c.repoPath(ns, "actions/runs"), q, &body); err != nil {
		return remote.Page[artifact.Run]{}, err
	}

	runs := make([]artifact.Run, 0, len(body.WorkflowRuns))
	for _, wr := range body.WorkflowRuns {
		run := artifact.Run{
			ID:         strconv.FormatInt(wr.ID, 10),
			WorkflowID: strconv.FormatInt(wr.WorkflowID, 10),
			Name:       wr.Name,
			Status:     wr.Status,
		}
		if wr.Conclusion != nil {
			run.Conclusion = *wr.Conclusion
		}
		runs = append(runs, run)
	}

	result := remote.Page[artifact.Run]{Items: runs}
	// The cursor advances on what the server sent, not on what was asked for.
	if len(runs) > 0 && (page-1)*perPage+len(runs) < body.TotalCount {
		result.Next = strconv.Itoa(page + 1)
	}
	return result, nil
}

// ListArtifacts lists every unexpired artifact of a run, following pages.
// WorkflowID is left empty; the collector tags it from the owning run.
func (c *Client) ListArtifacts(ctx context.Context, scope artifact.Scope) ([]artifact.Artifact, error) {
	raw, err := c.listRunArtifacts(ctx, scope, "")
	if err != nil {
		return nil, err
	}

	artifacts := make([]artifact.Artifact, 0, len(raw))
	for _, ra := range raw {
		if ra.Expired {
			continue
		}
		a := artifact.Artifact{
			ID:    strconv.FormatInt(ra.ID, 10),
			Name:  ra.Name,
			Size:  ra.SizeInBytes,
			RunID: scope.RunID,
		}
		if ra.CreatedAt != nil {
			a.CreatedAt = *ra.CreatedAt
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, nil
}

// DeleteArtifact resolves the artifact by name inside the run and deletes it
// by id. An artifact that is already gone is not an error.
func (c *Client) DeleteArtifact(ctx context.Context, name string, scope artifact.Scope) error {
	matches, err := c.listRunArtifacts(ctx, scope, name)
	if err != nil {
		return fmt.Errorf("failed to resolve artifact %q: %w", name, err)
	}

	var deleted int
	for _, ra := range matches {
		if ra.Name != name {
			continue
		}
		path := c.repoPath(scope.Namespace, fmt.Sprintf("actions/artifacts/%d", ra.ID))
		req, err := c.newRequest(ctx, http.MethodDelete, path, nil)
		if err != nil {
			return remote.Permanent(err)
		}
		resp, err := c.do(req)
		if err != nil {
			var se *remote.StatusError
			if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
				continue
			}
			return err
		}
		errutil.LogMsg(resp.Body.Close(), "Failed to close response body")
		deleted++
	}

	if deleted == 0 {
		slog.Warn("Artifact already gone", "name", name, "run_id", scope.RunID)
	}
	return nil
}

func (c *Client) listRunArtifacts(ctx context.Context, scope artifact.Scope, name string) ([]runArtifact, error) {
	var all []runArtifact
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("per_page", strconv.Itoa(MaxPageSize))
		q.Set("page", strconv.Itoa(page))
		if name != "" {
			q.Set("name", name)
		}

		var body artifactsResponse
		path := c.repoPath(scope.Namespace, fmt.Sprintf("actions/runs/%s/artifacts", url.PathEscape(scope.RunID)))
		if err := c.getJSON(ctx, path, q, &body); err != nil {
			return nil, err
		}
		all = append(all, body.Artifacts...)

		if len(body.Artifacts) < MaxPageSize || len(all) >= body.TotalCount {
			return all, nil
		}
	}
}

func (c *Client) repoPath(ns artifact.Namespace, suffix string) string {
	return fmt.Sprintf("/repos/%s/%s/%s", url.PathEscape(ns.Owner), url.PathEscape(ns.Repo), suffix)
}

func (c *Client) newRequest(ctx context.Context, method, path string, q url.Values) (*http.Request, error) {
	u := c.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, q)
	if err != nil {
		return remote.Permanent(err)
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer func() {
		errutil.LogMsg(resp.Body.Close(), "Failed to close response body")
	}()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return remote.Permanent(fmt.Errorf("failed to decode %s: %w", path, err))
	}
	return nil
}

// do sends the request and converts non-2xx answers into typed errors. On
// success the caller owns the response body.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer func() {
		errutil.LogMsg(resp.Body.Close(), "Failed to close response body")
	}()

	msg := readMessage(resp.Body)
	se := &remote.StatusError{StatusCode: resp.StatusCode, Message: msg}

	if wait, limited := c.rateLimitWait(resp, msg); limited {
		return nil, &remote.RateLimitError{RetryAfter: wait, Err: se}
	}
	return nil, se
}

// rateLimitWait detects primary and secondary rate limiting and returns how
// long GitHub asked us to wait.
func (c *Client) rateLimitWait(resp *http.Response, msg string) (time.Duration, bool) {
	if resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusTooManyRequests {
		return 0, false
	}

	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second, true
		}
	}

	if resp.Header.Get("X-RateLimit-Remaining") == "0" {
		if reset, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil {
			wait := time.Unix(reset, 0).Sub(c.now())
			if wait < 0 {
				wait = 0
			}
			return wait, true
		}
		return secondaryLimitWait, true
	}

	if resp.StatusCode == http.StatusTooManyRequests || strings.Contains(strings.ToLower(msg), "rate limit") {
		return secondaryLimitWait, true
	}
	return 0, false
}

func readMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil && body.Message != "" {
		return body.Message
	}
	return strings.TrimSpace(string(data))
}
