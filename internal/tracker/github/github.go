// Copyright (C) 2025 The Bartleby Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package github implements ports.WorkSource against the GitHub REST API
// directly on net/http, since no first-party Go SDK fits this module's
// dependency set. Every parsed payload runs through go-playground/validator
// before becoming a domain.WorkItem.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"

	"github.com/elephantgerald/bartleby/internal/domain"
	"github.com/elephantgerald/bartleby/internal/logging"
	"github.com/elephantgerald/bartleby/internal/ports"
)

const defaultBaseURL = "https://api.github.com"

// sourceName is stamped onto every domain.WorkItem this Source produces.
const sourceName = "github"

// Config configures a Source.
type Config struct {
	Token string
	Owner string
	Repo  string

	// BaseURL overrides the GitHub API root; tests point it at an
	// httptest.Server. Production leaves it empty for defaultBaseURL.
	BaseURL string

	// RequestsPerSecond and Burst bound outbound call volume, independent
	// of any retry/backoff the caller layers on top. Both default to
	// GitHub's own documented secondary-rate-limit-friendly pace.
	RequestsPerSecond float64
	Burst             int
}

// Source implements ports.WorkSource against one GitHub repository's
// issues, using labels to carry Bartleby-managed status.
type Source struct {
	cfg      Config
	baseURL  string
	http     *http.Client
	limiter  *rate.Limiter
	validate *validator.Validate
	log      *logging.Logger
}

// New constructs a Source. log may be nil, in which case logging.Default()
// is used.
func New(cfg Config, log *logging.Logger) *Source {
	if log == nil {
		log = logging.Default()
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 5
	}
	return &Source{
		cfg:      cfg,
		baseURL:  baseURL,
		http:     &http.Client{Timeout: 15 * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		validate: validator.New(),
		log:      log.With("component", "tracker.github", "owner", cfg.Owner, "repo", cfg.Repo),
	}
}

// Name returns "github".
func (s *Source) Name() string { return sourceName }

// githubLabel is one label on a GitHub issue.
type githubLabel struct {
	Name string `json:"name"`
}

// githubIssue is the subset of GitHub's issue payload Bartleby consumes.
// Struct tags drive go-playground/validator before an issue is trusted
// enough to become a domain.WorkItem.
type githubIssue struct {
	Number      int           `json:"number" validate:"required"`
	Title       string        `json:"title" validate:"required"`
	Body        string        `json:"body"`
	State       string        `json:"state" validate:"required,oneof=open closed"`
	Labels      []githubLabel `json:"labels"`
	HTMLURL     string        `json:"html_url" validate:"required,url"`
	PullRequest *struct{}     `json:"pull_request,omitempty"`
}

// Sync fetches every open issue on the configured repository, omitting
// pull requests (GitHub's issues endpoint returns both; a non-nil
// PullRequest field is how the API distinguishes them).
func (s *Source) Sync(ctx context.Context) ([]domain.WorkItem, error) {
	path := fmt.Sprintf("/repos/%s/%s/issues?state=open&per_page=100", s.cfg.Owner, s.cfg.Repo)
	var issues []githubIssue
	if err := s.doJSON(ctx, http.MethodGet, path, nil, &issues); err != nil {
		return nil, fmt.Errorf("github: listing issues: %w", err)
	}

	items := make([]domain.WorkItem, 0, len(issues))
	for _, issue := range issues {
		if issue.PullRequest != nil {
			continue
		}
		if err := s.validate.Struct(issue); err != nil {
			s.log.Warn("skipping malformed issue payload", "number", issue.Number, "error", err)
			continue
		}
		items = append(items, issueToWorkItem(issue))
	}
	return items, nil
}

// labelToStatus maps both the "bartleby:"-prefixed labels this Source
// itself pushes and their unprefixed synonyms (for issues labeled by hand)
// onto the matching domain.Status. An issue with none of these labels maps
// to Pending.
var labelToStatus = map[string]domain.Status{
	"bartleby:in-progress": domain.StatusInProgress,
	"in-progress":          domain.StatusInProgress,
	"bartleby:blocked":     domain.StatusBlocked,
	"blocked":              domain.StatusBlocked,
	"bartleby:failed":      domain.StatusFailed,
	"failed":               domain.StatusFailed,
	"bartleby:ready":       domain.StatusReady,
	"ready":                domain.StatusReady,
}

func issueToWorkItem(issue githubIssue) domain.WorkItem {
	status := domain.StatusPending
	labels := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, l.Name)
		if s, ok := labelToStatus[l.Name]; ok {
			status = s
		}
	}
	if issue.State == "closed" {
		status = domain.StatusComplete
	}
	return domain.WorkItem{
		Title:       issue.Title,
		Description: issue.Body,
		Status:      status,
		Labels:      labels,
		ExternalRef: domain.ExternalRef{
			SourceName:  sourceName,
			ExternalID:  strconv.Itoa(issue.Number),
			ExternalURL: issue.HTMLURL,
		},
	}
}

// statusLabel is the label Bartleby attaches to reflect a managed status.
func statusLabel(status domain.Status) string {
	return "bartleby:" + string(status)
}

// patchIssueRequest is the body of a label/state update.
type patchIssueRequest struct {
	State  string   `json:"state,omitempty"`
	Labels []string `json:"labels"`
}

// UpdateStatus pushes item's status back to GitHub. Complete closes the
// issue and emits no status label; every other managed status stays open
// and gets a bartleby:<status> label.
func (s *Source) UpdateStatus(ctx context.Context, item domain.WorkItem) error {
	if !item.ExternalRef.HasOrigin() {
		return fmt.Errorf("github: UpdateStatus: item %s has no external ref", item.ID)
	}

	labels := make([]string, 0, len(item.Labels)+1)
	labels = append(labels, item.Labels...)

	body := patchIssueRequest{Labels: labels}
	if item.Status == domain.StatusComplete {
		body.State = "closed"
	} else {
		labels = append(labels, statusLabel(item.Status))
		body.Labels = labels
		body.State = "open"
	}

	path := fmt.Sprintf("/repos/%s/%s/issues/%s", s.cfg.Owner, s.cfg.Repo, item.ExternalRef.ExternalID)
	if err := s.doJSON(ctx, http.MethodPatch, path, body, nil); err != nil {
		return fmt.Errorf("github: updating issue %s: %w", item.ExternalRef.ExternalID, err)
	}
	return nil
}

// commentRequest is the body of a new issue comment.
type commentRequest struct {
	Body string `json:"body" validate:"required"`
}

// AddComment posts text as a comment on item's GitHub issue.
func (s *Source) AddComment(ctx context.Context, item domain.WorkItem, text string) error {
	if !item.ExternalRef.HasOrigin() {
		return fmt.Errorf("github: AddComment: item %s has no external ref", item.ID)
	}
	body := commentRequest{Body: text}
	if err := s.validate.Struct(body); err != nil {
		return fmt.Errorf("github: comment validation: %w", err)
	}

	path := fmt.Sprintf("/repos/%s/%s/issues/%s/comments", s.cfg.Owner, s.cfg.Repo, item.ExternalRef.ExternalID)
	if err := s.doJSON(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("github: commenting on issue %s: %w", item.ExternalRef.ExternalID, err)
	}
	return nil
}

// TestConnection probes that the configured repository is reachable with
// the configured token.
func (s *Source) TestConnection(ctx context.Context) (bool, error) {
	path := fmt.Sprintf("/repos/%s/%s", s.cfg.Owner, s.cfg.Repo)
	if err := s.doJSON(ctx, http.MethodGet, path, nil, nil); err != nil {
		return false, err
	}
	return true, nil
}

// doJSON performs one rate-limited GitHub API call, encoding reqBody (if
// non-nil) as JSON and decoding the response into respOut (if non-nil).
func (s *Source) doJSON(ctx context.Context, method, path string, reqBody, respOut any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	var bodyReader io.Reader
	if reqBody != nil {
		encoded, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("github API returned %d: %s", resp.StatusCode, string(data))
	}
	if respOut == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(respOut); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

var _ ports.WorkSource = (*Source)(nil)
