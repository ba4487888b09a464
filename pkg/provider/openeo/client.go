package openeo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/time/rate"

	"github.com/3leaps/rasterbench/pkg/provider"
)

// Connector implements provider.Connector for openEO backends.
type Connector struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
}

// Session implements provider.Session for a single openEO backend.
type Session struct {
	conn    *Connector
	name    string
	baseURL *url.URL
	token   string
}

// job implements provider.Job.
type job struct {
	session *Session
	id      string
}

// Ensure the implementations satisfy the provider interfaces.
var (
	_ provider.Connector = (*Connector)(nil)
	_ provider.Session   = (*Session)(nil)
	_ provider.Job       = (*job)(nil)
)

// NewConnector creates a connector with the given configuration.
func NewConnector(cfg Config) *Connector {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	c := &Connector{
		client:    client,
		userAgent: cfg.UserAgent,
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return c
}

// Connect exchanges basic credentials for a bearer token and returns an
// authenticated session.
func (c *Connector) Connect(ctx context.Context, ep provider.Endpoint) (provider.Session, error) {
	base, err := parseBaseURL(ep.BaseURL)
	if err != nil {
		return nil, &provider.ProviderError{Op: "Connect", Backend: ep.Name, Err: err}
	}

	s := &Session{conn: c, name: ep.Name, baseURL: base}

	req, err := s.newRequest(ctx, http.MethodGet, "credentials/basic", nil)
	if err != nil {
		return nil, s.wrapError("Connect", "", err)
	}
	req.SetBasicAuth(ep.Credentials.User, ep.Credentials.Password)

	resp, err := s.send(req)
	if err != nil {
		return nil, s.wrapError("Connect", "", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, s.responseError("Connect", "", resp)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, s.wrapError("Connect", "", fmt.Errorf("decode token response: %w", err))
	}
	if tok.AccessToken == "" {
		return nil, s.wrapError("Connect", "", fmt.Errorf("%w: empty access token", provider.ErrUnauthorized))
	}

	s.token = "basic//" + tok.AccessToken
	return s, nil
}

// Execute runs the graph synchronously (POST /result) and streams the
// response body to dest.
func (s *Session) Execute(ctx context.Context, graph provider.ProcessGraph, dest string, format string) error {
	body := newProcessRequest(graph, "", format)

	req, err := s.newRequest(ctx, http.MethodPost, "result", body)
	if err != nil {
		return s.wrapError("Execute", "", err)
	}

	resp, err := s.send(req)
	if err != nil {
		return s.wrapError("Execute", "", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return s.responseError("Execute", "", resp)
	}

	if err := writeArtifact(dest, resp.Body); err != nil {
		return s.wrapError("Execute", "", err)
	}
	return nil
}

// CreateJob registers the graph as a batch job (POST /jobs).
func (s *Session) CreateJob(ctx context.Context, graph provider.ProcessGraph, opts provider.JobOptions) (provider.Job, error) {
	body := newProcessRequest(graph, opts.Title, opts.Format)

	req, err := s.newRequest(ctx, http.MethodPost, "jobs", body)
	if err != nil {
		return nil, s.wrapError("CreateJob", "", err)
	}

	resp, err := s.send(req)
	if err != nil {
		return nil, s.wrapError("CreateJob", "", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, s.responseError("CreateJob", "", resp)
	}

	id := strings.TrimSpace(resp.Header.Get("OpenEO-Identifier"))
	if id == "" {
		if loc := resp.Header.Get("Location"); loc != "" {
			id = path.Base(strings.TrimRight(loc, "/"))
		}
	}
	if id == "" {
		return nil, s.wrapError("CreateJob", "", errors.New("backend returned no job identifier"))
	}

	return &job{session: s, id: id}, nil
}

// Close releases the session. Bearer tokens are not revoked.
func (s *Session) Close() error {
	return nil
}

func (j *job) ID() string { return j.id }

// Start queues the job (POST /jobs/{id}/results).
func (j *job) Start(ctx context.Context) error {
	resp, err := j.session.call(ctx, http.MethodPost, j.path("results"), nil, "Start", j.id)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	return nil
}

// Describe fetches the job's metadata (GET /jobs/{id}).
func (j *job) Describe(ctx context.Context) (*provider.JobDescription, error) {
	resp, err := j.session.call(ctx, http.MethodGet, j.path(""), nil, "Describe", j.id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var desc provider.JobDescription
	if err := json.NewDecoder(resp.Body).Decode(&desc); err != nil {
		return nil, j.session.wrapError("Describe", j.id, fmt.Errorf("decode job: %w", err))
	}
	if desc.ID == "" {
		desc.ID = j.id
	}
	return &desc, nil
}

// DownloadResults fetches the result listing (GET /jobs/{id}/results) and
// downloads the first asset to dest.
func (j *job) DownloadResults(ctx context.Context, dest string) error {
	resp, err := j.session.call(ctx, http.MethodGet, j.path("results"), nil, "DownloadResults", j.id)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	var listing resultListing
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return j.session.wrapError("DownloadResults", j.id, fmt.Errorf("decode result listing: %w", err))
	}

	href := listing.firstHref()
	if href == "" {
		return j.session.wrapError("DownloadResults", j.id, fmt.Errorf("%w: result listing has no assets", provider.ErrNotFound))
	}

	return j.session.download(ctx, href, dest, j.id)
}

// Delete removes the job (DELETE /jobs/{id}).
func (j *job) Delete(ctx context.Context) error {
	resp, err := j.session.call(ctx, http.MethodDelete, j.path(""), nil, "Delete", j.id)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	return nil
}

func (j *job) path(suffix string) string {
	p := "jobs/" + url.PathEscape(j.id)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

// download fetches an asset href (absolute or relative to the base URL).
// The bearer token is only sent to the backend's own host; signed asset
// URLs on other hosts are fetched anonymously.
func (s *Session) download(ctx context.Context, href, dest, jobID string) error {
	target, err := s.baseURL.Parse(href)
	if err != nil {
		return s.wrapError("DownloadResults", jobID, fmt.Errorf("invalid asset href %q: %w", href, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return s.wrapError("DownloadResults", jobID, err)
	}
	req.Header.Set("User-Agent", s.conn.userAgent)
	if target.Host == s.baseURL.Host && s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.send(req)
	if err != nil {
		return s.wrapError("DownloadResults", jobID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return s.responseError("DownloadResults", jobID, resp)
	}

	if err := writeArtifact(dest, resp.Body); err != nil {
		return s.wrapError("DownloadResults", jobID, err)
	}
	return nil
}

// call issues an authenticated API request and converts non-2xx responses
// into provider errors. The caller closes the response body.
func (s *Session) call(ctx context.Context, method, rel string, body any, op, jobID string) (*http.Response, error) {
	req, err := s.newRequest(ctx, method, rel, body)
	if err != nil {
		return nil, s.wrapError(op, jobID, err)
	}

	resp, err := s.send(req)
	if err != nil {
		return nil, s.wrapError(op, jobID, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer func() { _ = resp.Body.Close() }()
		return nil, s.responseError(op, jobID, resp)
	}
	return resp, nil
}

func (s *Session) newRequest(ctx context.Context, method, rel string, body any) (*http.Request, error) {
	target := s.baseURL.JoinPath(rel)

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.conn.userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	return req, nil
}

// send waits for the rate limiter and performs the request.
func (s *Session) send(req *http.Request) (*http.Response, error) {
	if s.conn.limiter != nil {
		if err := s.conn.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}
	return s.conn.client.Do(req)
}

// processRequest is the request body for /result and /jobs.
type processRequest struct {
	Title   string         `json:"title,omitempty"`
	Process map[string]any `json:"process"`
	Format  string         `json:"format,omitempty"`
}

// newProcessRequest wraps a graph document. Documents that already carry a
// "process_graph" key are forwarded as the process; bare graphs are wrapped.
// The local-only "file" key is never sent.
func newProcessRequest(graph provider.ProcessGraph, title, format string) processRequest {
	process := make(map[string]any, len(graph))
	if pg, ok := graph["process_graph"]; ok {
		for k, v := range graph {
			if k == "file" {
				continue
			}
			process[k] = v
		}
		process["process_graph"] = pg
	} else {
		nodes := make(map[string]any, len(graph))
		for k, v := range graph {
			if k == "file" {
				continue
			}
			nodes[k] = v
		}
		process["process_graph"] = nodes
	}
	return processRequest{Title: title, Process: process, Format: format}
}

// resultListing covers both the STAC-style "assets" map and the older
// "links" list returned by GET /jobs/{id}/results.
type resultListing struct {
	Assets map[string]struct {
		Href string `json:"href"`
	} `json:"assets"`
	Links []struct {
		Href string `json:"href"`
		Rel  string `json:"rel,omitempty"`
	} `json:"links"`
}

func (l resultListing) firstHref() string {
	if len(l.Assets) > 0 {
		keys := make([]string, 0, len(l.Assets))
		for k := range l.Assets {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if h := l.Assets[k].Href; h != "" {
				return h
			}
		}
	}
	for _, link := range l.Links {
		if link.Href != "" && (link.Rel == "" || link.Rel == "item" || link.Rel == "result") {
			return link.Href
		}
	}
	return ""
}

func parseBaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("base URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", raw)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u, nil
}

// writeArtifact streams r into dest via a temp file and rename, so a
// partially downloaded artifact never appears at dest.
func writeArtifact(dest string, r io.Reader) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("rename artifact: %w", err)
	}
	return nil
}
