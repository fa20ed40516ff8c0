package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rankmybrand/geocrawl/internal/crawl"
	"github.com/rankmybrand/geocrawl/internal/kv"
	"github.com/rankmybrand/geocrawl/internal/orchestrator"
	"github.com/rankmybrand/geocrawl/internal/provider"
)

type stubFetcher struct{}

func (stubFetcher) Fetch(_ context.Context, url string) (crawl.Page, error) {
	headers := http.Header{}
	headers.Set("Content-Type", "text/html; charset=utf-8")
	body := "<html><body><article><p>"
	for i := 0; i < 150; i++ {
		body += "word "
	}
	body += "</p></article></body></html>"
	return crawl.Page{
		URL: url, FinalURL: url, StatusCode: http.StatusOK,
		Headers: headers, Body: []byte(body), Duration: time.Millisecond,
	}, nil
}

type stubSearch struct {
	resp *provider.Response
	err  error
}

func (s stubSearch) Search(context.Context, string) (*provider.Response, error) {
	return s.resp, s.err
}

func newTestServer(t *testing.T, search SearchService, opts Options) (*Server, *orchestrator.Manager) {
	t.Helper()
	m := orchestrator.NewManager(orchestrator.Config{Workers: 1, MaxDepth: 0}, orchestrator.Deps{
		Store:           kv.NewMemoryStore(),
		Fetcher:         stubFetcher{},
		Logger:          zap.NewNop(),
		PolitenessDelay: time.Millisecond,
	})
	return NewServer(m, search, opts, zap.NewNop()), m
}

func startJob(t *testing.T, srv *Server, m *orchestrator.Manager) string {
	t.Helper()
	body := bytes.NewBufferString(`{"seeds":["https://example.org"]}`)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/jobs", body))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	jobID := resp["job_id"]
	require.NotEmpty(t, jobID)

	job, ok := m.Job(jobID)
	require.True(t, ok)
	select {
	case <-job.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("crawl did not finish in time")
	}
	return jobID
}

func TestCreateJobAndStats(t *testing.T) {
	srv, m := newTestServer(t, nil, Options{})
	jobID := startJob(t, srv, m)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+jobID+"/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		JobID string         `json:"job_id"`
		Stats crawl.JobStats `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, jobID, resp.JobID)
	require.Equal(t, int64(1), resp.Stats.Crawled)
	require.Equal(t, crawl.JobStateStopped, resp.Stats.State)
}

func TestCreateJobValidation(t *testing.T) {
	srv, _ := newTestServer(t, nil, Options{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewBufferString("{")))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewBufferString(`{"seeds":[]}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobResults(t *testing.T) {
	srv, m := newTestServer(t, nil, Options{})
	jobID := startJob(t, srv, m)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+jobID+"/results", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Results []crawl.Result `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	require.Equal(t, "https://example.org", resp.Results[0].URL)
}

func TestUnknownJobIsNotFound(t *testing.T) {
	srv, _ := newTestServer(t, nil, Options{})

	for _, path := range []string{"/api/v1/jobs/nope/stats", "/api/v1/jobs/nope/results"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusNotFound, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListJobs(t *testing.T) {
	srv, m := newTestServer(t, nil, Options{})
	jobID := startJob(t, srv, m)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Jobs []jobSummary `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Jobs, 1)
	require.Equal(t, jobID, resp.Jobs[0].JobID)
}

func TestSearchEndpoint(t *testing.T) {
	search := stubSearch{resp: &provider.Response{
		Provider: "primary",
		Query:    "widgets",
		Results:  []provider.Result{{Rank: 1, Title: "Widgets", URL: "https://example.org"}},
	}}
	srv, _ := newTestServer(t, search, Options{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/search?q=widgets", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp provider.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "primary", resp.Provider)
	require.Len(t, resp.Results, 1)
}

func TestSearchRequiresQuery(t *testing.T) {
	srv, _ := newTestServer(t, stubSearch{resp: &provider.Response{}}, Options{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/search", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchUnconfigured(t *testing.T) {
	srv, _ := newTestServer(t, nil, Options{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/search?q=x", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAPIKeyGuardsAPIRoutesOnly(t *testing.T) {
	srv, _ := newTestServer(t, nil, Options{AuthEnabled: true, APIKey: "sekrit"})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	req.Header.Set("X-API-Key", "sekrit")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Health stays open for load balancer probes.
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	srv, _ := newTestServer(t, nil, Options{Gatherer: reg})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
