package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/rasterbench/pkg/discover"
	"github.com/3leaps/rasterbench/pkg/manifest"
	"github.com/3leaps/rasterbench/pkg/output"
	"github.com/3leaps/rasterbench/pkg/provider"
	"github.com/3leaps/rasterbench/pkg/results"
)

// mockConnector implements provider.Connector for testing.
type mockConnector struct {
	mu         sync.Mutex
	connectErr error
	connects   int
	session    *mockSession
}

func newMockConnector() *mockConnector {
	return &mockConnector{session: &mockSession{}}
}

func (c *mockConnector) Connect(ctx context.Context, ep provider.Endpoint) (provider.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if c.connectErr != nil {
		return nil, &provider.ProviderError{Op: "Connect", Backend: ep.Name, Err: c.connectErr}
	}
	return c.session, nil
}

func (c *mockConnector) connectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

// mockSession implements provider.Session. Its jobs fail the first
// `transient` downloads with the transient condition (-1 = forever).
type mockSession struct {
	mu sync.Mutex

	executeErr  error
	createErr   error
	startErr    error
	downloadErr error
	transient   int

	executes int
	nextID   int
	jobs     []*mockJob
	closed   int
}

func (s *mockSession) Execute(ctx context.Context, graph provider.ProcessGraph, dest, format string) error {
	s.mu.Lock()
	s.executes++
	err := s.executeErr
	s.mu.Unlock()
	if err != nil {
		return &provider.ProviderError{Op: "Execute", Backend: "mock", Err: err}
	}
	return os.WriteFile(dest, []byte("PNG-"+format), 0o644)
}

func (s *mockSession) CreateJob(ctx context.Context, graph provider.ProcessGraph, opts provider.JobOptions) (provider.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return nil, &provider.ProviderError{Op: "CreateJob", Backend: "mock", Err: s.createErr}
	}
	s.nextID++
	j := &mockJob{s: s, id: fmt.Sprintf("job-%d", s.nextID), title: opts.Title}
	s.jobs = append(s.jobs, j)
	return j, nil
}

func (s *mockSession) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return nil
}

func (s *mockSession) job(i int) *mockJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[i]
}

type mockJob struct {
	s         *mockSession
	id        string
	title     string
	downloads int
	describes int
	deleted   bool
}

func (j *mockJob) ID() string { return j.id }

func (j *mockJob) Start(ctx context.Context) error {
	j.s.mu.Lock()
	defer j.s.mu.Unlock()
	if j.s.startErr != nil {
		return &provider.ProviderError{Op: "Start", Backend: "mock", JobID: j.id, Err: j.s.startErr}
	}
	return nil
}

func (j *mockJob) Describe(ctx context.Context) (*provider.JobDescription, error) {
	j.s.mu.Lock()
	defer j.s.mu.Unlock()
	j.describes++
	return &provider.JobDescription{ID: "remote-" + j.id, Title: j.title, Status: provider.JobStatusRunning}, nil
}

func (j *mockJob) DownloadResults(ctx context.Context, dest string) error {
	j.s.mu.Lock()
	j.downloads++
	n := j.downloads
	transient := j.s.transient
	terminal := j.s.downloadErr
	j.s.mu.Unlock()

	if transient < 0 || n <= transient {
		return &provider.ProviderError{Op: "DownloadResults", Backend: "mock", JobID: j.id, Err: provider.ErrConnectionAborted}
	}
	if terminal != nil {
		return &provider.ProviderError{Op: "DownloadResults", Backend: "mock", JobID: j.id, Err: terminal}
	}
	return os.WriteFile(dest, []byte("PNG"), 0o644)
}

func (j *mockJob) Delete(ctx context.Context) error {
	j.s.mu.Lock()
	j.deleted = true
	j.s.mu.Unlock()
	return nil
}

// retryObserver counts retries and cancels the run after `cancelAfter`.
type retryObserver struct {
	mu          sync.Mutex
	retries     int
	outcomes    []results.Outcome
	cancelAfter int
	cancel      context.CancelFunc
}

func (o *retryObserver) ObserveOutcome(_ context.Context, out results.Outcome) {
	o.mu.Lock()
	o.outcomes = append(o.outcomes, out)
	o.mu.Unlock()
}

func (o *retryObserver) ObserveRetry(string) {
	o.mu.Lock()
	o.retries++
	n := o.retries
	o.mu.Unlock()
	if o.cancel != nil && n >= o.cancelAfter {
		o.cancel()
	}
}

// jobTree writes a process graph for each (region/job, backend) pair.
func jobTree(t *testing.T, graph string, pairs ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, p := range pairs {
		dir := filepath.Join(root, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "graph.json"), []byte(graph), 0o644))
	}
	return root
}

func localBackend(name string) manifest.Backend {
	return manifest.Backend{Name: name, Local: true, ExecutionMode: provider.ModeLocal}
}

func remoteBackend(name string, mode provider.ExecutionMode) manifest.Backend {
	return manifest.Backend{
		Name:          name,
		BaseURL:       "https://" + name + ".example.org",
		Credentials:   &provider.Credentials{User: "u", Password: "p"},
		ExecutionMode: mode,
	}
}

func plan(t *testing.T, root string, selected string, backends ...manifest.Backend) *discover.Plan {
	t.Helper()
	p, err := discover.Enumerate(discover.Config{
		Root:        root,
		ReportsRoot: filepath.Join(t.TempDir(), "reports"),
		SelectedJob: selected,
	}, backends)
	require.NoError(t, err)
	return p
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PollInterval = time.Millisecond
	return cfg
}

func assertInvariants(t *testing.T, outs []results.Outcome) {
	t.Helper()
	for _, o := range outs {
		if o.DownloadSuccessful {
			assert.False(t, math.IsInf(o.TimeToResultSeconds, 0), "%s/%s", o.Job, o.Backend)
			if o.Mode != provider.ModeLocal {
				assert.FileExists(t, o.File)
			}
		} else {
			assert.True(t, math.IsInf(o.TimeToResultSeconds, 1), "%s/%s", o.Job, o.Backend)
		}
	}
}

func TestRun_LocalEndToEnd(t *testing.T) {
	root := jobTree(t, `{"process_graph": {}, "file": "/tmp/out.png"}`, "europe/ndvi-test/local-sim")
	conn := newMockConnector()

	var buf bytes.Buffer
	r := New(conn, output.NewJSONLWriter(&buf, "run-1"), "run-1", testConfig())

	summary, err := r.Run(context.Background(), plan(t, root, "", localBackend("local-sim")))
	require.NoError(t, err)

	outs := summary.Results.Outcomes()
	require.Len(t, outs, 1)
	o := outs[0]
	assert.Equal(t, "local-sim", o.Backend)
	assert.Equal(t, "europe-ndvi-test", o.Job)
	assert.Equal(t, "/tmp/out.png", o.File)
	assert.Equal(t, "", o.ProviderJobID)
	assert.True(t, o.DownloadSuccessful)
	assert.False(t, math.IsInf(o.TimeToResultSeconds, 0))
	assert.Equal(t, filepath.Join(root, "europe", "ndvi-test", discover.ValidationRulesFile), o.ValidationRulesPath)

	assert.Equal(t, 0, conn.connectCount())
	assert.Equal(t, int64(1), summary.Succeeded)

	written, err := output.ReadOutcomes(&buf)
	require.NoError(t, err)
	require.Len(t, written, 1)
	assert.Equal(t, "/tmp/out.png", written[0].File)
}

func TestRun_LocalAlwaysSucceeds(t *testing.T) {
	root := jobTree(t, `{"file": "/data/sim.png"}`, "europe/a/local-sim", "europe/b/local-sim", "asia/c/local-sim")
	conn := newMockConnector()
	conn.connectErr = errors.New("network down")

	r := New(conn, output.NewJSONLWriter(&bytes.Buffer{}, "run"), "run", testConfig())
	summary, err := r.Run(context.Background(), plan(t, root, "", localBackend("local-sim")))
	require.NoError(t, err)

	outs := summary.Results.Outcomes()
	require.Len(t, outs, 3)
	for _, o := range outs {
		assert.True(t, o.DownloadSuccessful)
		assert.Equal(t, provider.ModeLocal, o.Mode)
	}
	assert.Equal(t, 0, conn.connectCount())
}

func TestRun_AsyncTransientThenSuccess(t *testing.T) {
	const k = 3
	root := jobTree(t, `{"process_graph": {"x": {}}}`, "europe/ndvi/VITO")
	conn := newMockConnector()
	conn.session.transient = k

	obs := &retryObserver{}
	r := New(conn, output.NewJSONLWriter(&bytes.Buffer{}, "run"), "run", testConfig()).WithObserver(obs)

	summary, err := r.Run(context.Background(), plan(t, root, "", remoteBackend("VITO", provider.ModeAsyncPollable)))
	require.NoError(t, err)

	outs := summary.Results.Outcomes()
	require.Len(t, outs, 1)
	o := outs[0]
	assert.True(t, o.DownloadSuccessful)
	assert.Equal(t, k+1, o.PollAttempts)
	assert.Equal(t, "remote-job-1", o.ProviderJobID)
	assert.Equal(t, "europe-ndvi.png", filepath.Base(o.File))
	assertInvariants(t, outs)

	job := conn.session.job(0)
	assert.Equal(t, "europe-ndvi", job.title)
	assert.Equal(t, k+1, job.downloads)
	assert.True(t, job.deleted, "job is deleted after download")
	assert.Equal(t, k, obs.retries)
	assert.Len(t, obs.outcomes, 1)
	// One describe for the job id, then one per retry.
	assert.Equal(t, 1+k, job.describes)
}

func TestRun_ForeverTransientCancelledRecordsNothing(t *testing.T) {
	root := jobTree(t, `{"process_graph": {}}`, "europe/ndvi/VITO")
	conn := newMockConnector()
	conn.session.transient = -1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	obs := &retryObserver{cancelAfter: 5, cancel: cancel}

	var buf bytes.Buffer
	r := New(conn, output.NewJSONLWriter(&buf, "run"), "run", testConfig()).WithObserver(obs)

	summary, err := r.Run(ctx, plan(t, root, "", remoteBackend("VITO", provider.ModeAsyncPollable)))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	require.NotNil(t, summary)
	assert.Equal(t, int64(0), summary.Attempted)
	assert.Equal(t, int64(1), summary.Cancelled)
	assert.Empty(t, r.Outcomes())
	assert.Empty(t, obs.outcomes)
	assert.GreaterOrEqual(t, conn.session.job(0).downloads, 5)
	assert.False(t, conn.session.job(0).deleted)

	written, err := output.ReadOutcomes(&buf)
	require.NoError(t, err)
	assert.Empty(t, written)
}

func TestRun_ConnectionFailureIsNotFatal(t *testing.T) {
	root := jobTree(t, `{"process_graph": {}, "file": "/tmp/x.png"}`,
		"europe/ndvi/VITO",
		"europe/ndvi/local-sim",
	)
	conn := newMockConnector()
	conn.connectErr = errors.New("dial tcp: connection refused")

	r := New(conn, output.NewJSONLWriter(&bytes.Buffer{}, "run"), "run", testConfig())
	summary, err := r.Run(context.Background(), plan(t, root, "",
		remoteBackend("VITO", provider.ModeAsyncPollable),
		localBackend("local-sim"),
	))
	require.NoError(t, err)

	outs := summary.Results.ForJob("europe-ndvi")
	require.Len(t, outs, 2)
	byBackend := map[string]results.Outcome{}
	for _, o := range outs {
		byBackend[o.Backend] = o
	}

	failed := byBackend["VITO"]
	assert.False(t, failed.DownloadSuccessful)
	assert.True(t, math.IsInf(failed.TimeToResultSeconds, 1))
	assert.Equal(t, "", failed.ProviderJobID)
	assert.Equal(t, output.ErrCodeConnectionFailed, failed.ErrorCode)

	assert.True(t, byBackend["local-sim"].DownloadSuccessful)
	assert.Equal(t, int64(1), summary.Failed)
	assert.Equal(t, int64(1), summary.Succeeded)
}

func TestRun_UnauthorizedAbortsWithoutPolling(t *testing.T) {
	root := jobTree(t, `{"process_graph": {}}`, "europe/ndvi/VITO")
	conn := newMockConnector()
	conn.session.createErr = provider.ErrUnauthorized

	r := New(conn, output.NewJSONLWriter(&bytes.Buffer{}, "run"), "run", testConfig())
	summary, err := r.Run(context.Background(), plan(t, root, "", remoteBackend("VITO", provider.ModeAsyncPollable)))
	require.NoError(t, err)

	outs := summary.Results.Outcomes()
	require.Len(t, outs, 1)
	assert.False(t, outs[0].DownloadSuccessful)
	assert.Equal(t, output.ErrCodeAccessDenied, outs[0].ErrorCode)
	assert.Equal(t, "", outs[0].ProviderJobID)
	assert.Empty(t, conn.session.jobs)
	assertInvariants(t, outs)
}

func TestRun_TerminalDownloadErrorDeletesWhenConfigured(t *testing.T) {
	root := jobTree(t, `{"process_graph": {}}`, "europe/ndvi/EODC", "europe/ndvi/VITO")
	conn := newMockConnector()
	conn.session.transient = 1
	conn.session.downloadErr = provider.ErrProviderUnavailable

	eodc := remoteBackend("EODC", provider.ModeAsyncPollable)
	eodc.DeleteFailedJobs = true

	cfg := testConfig()
	cfg.Concurrency = 1
	r := New(conn, output.NewJSONLWriter(&bytes.Buffer{}, "run"), "run", cfg)
	summary, err := r.Run(context.Background(), plan(t, root, "", eodc, remoteBackend("VITO", provider.ModeAsyncPollable)))
	require.NoError(t, err)

	outs := summary.Results.Outcomes()
	require.Len(t, outs, 2)
	for _, o := range outs {
		assert.False(t, o.DownloadSuccessful)
		assert.Equal(t, output.ErrCodeProviderUnavailable, o.ErrorCode)
		assert.Equal(t, 2, o.PollAttempts)
		assert.NotEmpty(t, o.ProviderJobID)
	}
	assertInvariants(t, outs)

	// Concurrency 1 keeps discovery order: EODC first, then VITO.
	assert.True(t, conn.session.job(0).deleted)
	assert.False(t, conn.session.job(1).deleted)
}

func TestRun_StartFailureSkipsCleanupWithoutOptIn(t *testing.T) {
	root := jobTree(t, `{"process_graph": {}}`, "europe/ndvi/VITO")
	conn := newMockConnector()
	conn.session.startErr = errors.New("quota exceeded")

	r := New(conn, output.NewJSONLWriter(&bytes.Buffer{}, "run"), "run", testConfig())
	summary, err := r.Run(context.Background(), plan(t, root, "", remoteBackend("VITO", provider.ModeAsyncPollable)))
	require.NoError(t, err)

	outs := summary.Results.Outcomes()
	require.Len(t, outs, 1)
	assert.False(t, outs[0].DownloadSuccessful)
	assert.Equal(t, output.ErrCodeInternal, outs[0].ErrorCode)
	assert.Equal(t, "job-1", outs[0].ProviderJobID)
	assert.False(t, conn.session.job(0).deleted)
}

func TestRun_MaxPollAttempts(t *testing.T) {
	root := jobTree(t, `{"process_graph": {}}`, "europe/ndvi/VITO")
	conn := newMockConnector()
	conn.session.transient = -1

	cfg := testConfig()
	cfg.MaxPollAttempts = 3
	r := New(conn, output.NewJSONLWriter(&bytes.Buffer{}, "run"), "run", cfg)
	summary, err := r.Run(context.Background(), plan(t, root, "", remoteBackend("VITO", provider.ModeAsyncPollable)))
	require.NoError(t, err)

	outs := summary.Results.Outcomes()
	require.Len(t, outs, 1)
	assert.False(t, outs[0].DownloadSuccessful)
	assert.Equal(t, output.ErrCodeTransientExhausted, outs[0].ErrorCode)
	assert.Equal(t, 3, outs[0].PollAttempts)
	assertInvariants(t, outs)
}

func TestRun_PerTaskTimeoutRecordsFailure(t *testing.T) {
	root := jobTree(t, `{"process_graph": {}}`, "europe/ndvi/VITO")
	conn := newMockConnector()
	conn.session.transient = -1

	cfg := testConfig()
	cfg.PollTimeout = 50 * time.Millisecond
	r := New(conn, output.NewJSONLWriter(&bytes.Buffer{}, "run"), "run", cfg)
	summary, err := r.Run(context.Background(), plan(t, root, "", remoteBackend("VITO", provider.ModeAsyncPollable)))
	require.NoError(t, err)

	outs := summary.Results.Outcomes()
	require.Len(t, outs, 1)
	assert.False(t, outs[0].DownloadSuccessful)
	assert.Equal(t, output.ErrCodeTimeout, outs[0].ErrorCode)
	assert.Equal(t, int64(0), summary.Cancelled)
}

func TestRun_Synchronous(t *testing.T) {
	root := jobTree(t, `{"process_graph": {}}`, "europe/ndvi/EURAC", "alpine/snow/EURAC")
	conn := newMockConnector()

	r := New(conn, output.NewJSONLWriter(&bytes.Buffer{}, "run"), "run", testConfig())
	summary, err := r.Run(context.Background(), plan(t, root, "", remoteBackend("EURAC", provider.ModeSynchronous)))
	require.NoError(t, err)

	outs := summary.Results.Outcomes()
	require.Len(t, outs, 2)
	for _, o := range outs {
		assert.True(t, o.DownloadSuccessful)
		assert.Equal(t, "", o.ProviderJobID)
		data, err := os.ReadFile(o.File)
		require.NoError(t, err)
		assert.Equal(t, "PNG-PNG", string(data))
	}
	assert.Equal(t, 2, conn.session.executes)
	assert.Empty(t, conn.session.jobs)
}

func TestRun_SynchronousFailureNotRetried(t *testing.T) {
	root := jobTree(t, `{"process_graph": {}}`, "europe/ndvi/EURAC")
	conn := newMockConnector()
	conn.session.executeErr = provider.ErrConnectionAborted

	r := New(conn, output.NewJSONLWriter(&bytes.Buffer{}, "run"), "run", testConfig())
	summary, err := r.Run(context.Background(), plan(t, root, "", remoteBackend("EURAC", provider.ModeSynchronous)))
	require.NoError(t, err)

	outs := summary.Results.Outcomes()
	require.Len(t, outs, 1)
	assert.False(t, outs[0].DownloadSuccessful)
	assert.Equal(t, 1, conn.session.executes)
	assertInvariants(t, outs)
}

func TestRun_SelectedJobFilter(t *testing.T) {
	root := jobTree(t, `{"file": "/tmp/x.png"}`,
		"alpine/ndvi/local-sim",
		"europe/ndvi/local-sim",
		"europe/snow/local-sim",
	)

	var buf bytes.Buffer
	r := New(nil, output.NewJSONLWriter(&buf, "run"), "run", testConfig())
	summary, err := r.Run(context.Background(), plan(t, root, "alpine-ndvi", localBackend("local-sim")))
	require.NoError(t, err)

	assert.Equal(t, []string{"alpine-ndvi"}, summary.Results.JobIDs())
	assert.Equal(t, int64(1), summary.Attempted)
	assert.Equal(t, int64(2), summary.Skipped)
}

func TestRun_DeduplicatesJobIDsAcrossBackends(t *testing.T) {
	root := jobTree(t, `{"file": "/tmp/x.png"}`, "europe/ndvi/sim-a", "europe/ndvi/sim-b", "europe/ndvi/sim-c")

	r := New(nil, output.NewJSONLWriter(&bytes.Buffer{}, "run"), "run", testConfig())
	summary, err := r.Run(context.Background(), plan(t, root, "",
		localBackend("sim-a"), localBackend("sim-b"), localBackend("sim-c"),
	))
	require.NoError(t, err)

	assert.Equal(t, []string{"europe-ndvi"}, summary.Results.JobIDs())
	assert.Len(t, summary.Results.ForJob("europe-ndvi"), 3)

	it := summary.Results.Iterator()
	id, outs, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, "europe-ndvi", id)
	assert.Len(t, outs, 3)
	_, _, ok = it.Next()
	assert.False(t, ok)
}

func TestRun_Offline(t *testing.T) {
	root := jobTree(t, `{"process_graph": {}}`, "europe/ndvi/VITO", "europe/ndvi/EURAC")
	conn := newMockConnector()

	cfg := testConfig()
	cfg.Offline = true
	r := New(conn, output.NewJSONLWriter(&bytes.Buffer{}, "run"), "run", cfg)
	p := plan(t, root, "", remoteBackend("VITO", provider.ModeAsyncPollable), remoteBackend("EURAC", provider.ModeSynchronous))
	summary, err := r.Run(context.Background(), p)
	require.NoError(t, err)

	outs := summary.Results.Outcomes()
	require.Len(t, outs, 2)
	for _, o := range outs {
		assert.True(t, o.DownloadSuccessful)
		assert.Equal(t, 0.0, o.TimeToResultSeconds)
		assert.Equal(t, "europe-ndvi.png", filepath.Base(o.File))
	}
	for _, task := range p.Tasks {
		assert.DirExists(t, task.ReportDir)
	}
	assert.Equal(t, 0, conn.connectCount())
}

func TestRun_InvalidProcessGraph(t *testing.T) {
	root := jobTree(t, `{not json`, "europe/ndvi/local-sim")

	var buf bytes.Buffer
	r := New(nil, output.NewJSONLWriter(&buf, "run"), "run", testConfig())
	summary, err := r.Run(context.Background(), plan(t, root, "", localBackend("local-sim")))
	require.NoError(t, err)

	outs := summary.Results.Outcomes()
	require.Len(t, outs, 1)
	assert.False(t, outs[0].DownloadSuccessful)
	assert.Equal(t, output.ErrCodeInvalidProcessGraph, outs[0].ErrorCode)
	assert.Contains(t, buf.String(), output.TypeError)
}

func TestRun_LocalWithoutDeclaredFile(t *testing.T) {
	root := jobTree(t, `{"process_graph": {}}`, "europe/ndvi/local-sim")

	r := New(nil, output.NewJSONLWriter(&bytes.Buffer{}, "run"), "run", testConfig())
	summary, err := r.Run(context.Background(), plan(t, root, "", localBackend("local-sim")))
	require.NoError(t, err)

	outs := summary.Results.Outcomes()
	require.Len(t, outs, 1)
	assert.False(t, outs[0].DownloadSuccessful)
	assert.ErrorIs(t, ErrNoDeclaredFile, provider.ErrInvalidProcessGraph)
}

func TestRun_ConcurrentMixedBackends(t *testing.T) {
	var pairs []string
	for i := 0; i < 10; i++ {
		pairs = append(pairs, fmt.Sprintf("r%d/job/VITO", i), fmt.Sprintf("r%d/job/local-sim", i))
	}
	root := jobTree(t, `{"process_graph": {}, "file": "/tmp/x.png"}`, pairs...)
	conn := newMockConnector()
	conn.session.transient = 2

	cfg := testConfig()
	cfg.Concurrency = 4
	r := New(conn, output.NewJSONLWriter(&bytes.Buffer{}, "run"), "run", cfg)
	summary, err := r.Run(context.Background(), plan(t, root, "",
		remoteBackend("VITO", provider.ModeAsyncPollable), localBackend("local-sim"),
	))
	require.NoError(t, err)

	assert.Equal(t, int64(20), summary.Attempted)
	assert.Equal(t, int64(20), summary.Succeeded)
	assert.Len(t, summary.Results.JobIDs(), 10)
	assertInvariants(t, summary.Results.Outcomes())
	// Each worker connects at most once per backend.
	assert.LessOrEqual(t, conn.connectCount(), 4)
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	root := jobTree(t, `{"file": "/tmp/x.png"}`, "europe/ndvi/local-sim")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := New(nil, output.NewJSONLWriter(&bytes.Buffer{}, "run"), "run", testConfig())
	_, err := r.Run(ctx, plan(t, root, "", localBackend("local-sim")))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, r.Outcomes())
}

func TestNew_AppliesDefaults(t *testing.T) {
	r := New(nil, output.NewJSONLWriter(&bytes.Buffer{}, "run"), "run", Config{})
	assert.Equal(t, 4, r.config.Concurrency)
	assert.Equal(t, 10*time.Second, r.config.PollInterval)
	assert.Equal(t, "PNG", r.config.OutputFormat)
	assert.Equal(t, 10, r.config.ProgressEvery)
	assert.Nil(t, r.limiter)

	r = New(nil, output.NewJSONLWriter(&bytes.Buffer{}, "run"), "run", Config{RateLimit: 5})
	assert.NotNil(t, r.limiter)
}
