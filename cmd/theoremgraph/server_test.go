package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/theoremgraph"
	"github.com/brunobiangulo/theoremgraph/graph"
	"github.com/brunobiangulo/theoremgraph/metrics"
	"github.com/brunobiangulo/theoremgraph/record"
	"github.com/brunobiangulo/theoremgraph/retrieval"
	"github.com/brunobiangulo/theoremgraph/store"
)

var lagrange = record.Theorem{
	Name:      "Lagrange's Theorem",
	Statement: "The order of a subgroup divides the order of the group.",
	Subject:   "Group Theory",
	Domain:    "Algebra",
	Type:      record.TypeTheorem,
}

// fakeEngine serves canned data and records the calls it receives.
type fakeEngine struct {
	queryErr  error
	ingestErr error
	statsErr  error
	collector *metrics.Collector

	lastQuestion string
	lastPath     string
	lastDepth    int
	lastLimit    int
}

func (f *fakeEngine) Ingest(_ context.Context, path string, _ ...theoremgraph.IngestOption) (*theoremgraph.IngestReport, error) {
	f.lastPath = path
	if f.ingestErr != nil {
		return nil, f.ingestErr
	}
	return &theoremgraph.IngestReport{Path: path, Hash: "abc", Chunks: 3}, nil
}

func (f *fakeEngine) IngestDir(context.Context, string, ...theoremgraph.IngestOption) ([]*theoremgraph.IngestReport, error) {
	return nil, nil
}

func (f *fakeEngine) IngestText(context.Context, string, string, ...theoremgraph.IngestOption) (*theoremgraph.IngestReport, error) {
	return nil, nil
}

func (f *fakeEngine) Query(_ context.Context, q string, _ ...theoremgraph.QueryOption) (*theoremgraph.Answer, error) {
	f.lastQuestion = q
	if strings.TrimSpace(q) == "" {
		return nil, theoremgraph.ErrEmptyQuestion
	}
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return &theoremgraph.Answer{Text: "By Lagrange's Theorem the order divides.", Grounded: true, ConversationID: "c-1"}, nil
}

func (f *fakeEngine) Theorem(_ context.Context, name string) (*record.Theorem, error) {
	if name != lagrange.Name {
		return nil, theoremgraph.ErrTheoremNotFound
	}
	t := lagrange
	return &t, nil
}

func (f *fakeEngine) Prerequisites(_ context.Context, name string, depth int) ([]graph.Prerequisite, error) {
	f.lastDepth = depth
	if name != lagrange.Name {
		return nil, theoremgraph.ErrTheoremNotFound
	}
	return []graph.Prerequisite{{Theorem: record.Theorem{Name: "Coset Partition"}, Depth: 1}}, nil
}

func (f *fakeEngine) TheoremsBySubject(_ context.Context, _ string, limit int) ([]record.Theorem, error) {
	f.lastLimit = limit
	return []record.Theorem{lagrange}, nil
}

func (f *fakeEngine) TheoremsByDomain(_ context.Context, _ string, limit int) ([]record.Theorem, error) {
	f.lastLimit = limit
	return []record.Theorem{lagrange}, nil
}

func (f *fakeEngine) SearchTheorems(_ context.Context, _ string, k int) ([]retrieval.Hit, error) {
	f.lastLimit = k
	return []retrieval.Hit{{Theorem: lagrange, Score: 0.03, Methods: []string{retrieval.MethodName}}}, nil
}

func (f *fakeEngine) Stats(context.Context) (*store.Stats, error) {
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	return &store.Stats{Theorems: 1}, nil
}

func (f *fakeEngine) Metrics() *metrics.Collector { return f.collector }
func (f *fakeEngine) Close() error                { return nil }

func newTestServer(t *testing.T, f *fakeEngine, ingestRoots ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(newRouter(f, theoremgraph.ServerConfig{
		UploadDir:   t.TempDir(),
		IngestRoots: ingestRoots,
		CORSOrigins: []string{"http://localhost:3000"},
	}))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestQueryEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		body     any
		queryErr error
		status   int
	}{
		{"answered", queryRequest{Message: "Why does the order divide?"}, nil, http.StatusOK},
		{"empty", queryRequest{Message: "  "}, nil, http.StatusBadRequest},
		{"model down", queryRequest{Message: "q"}, fmt.Errorf("wrap: %w", theoremgraph.ErrLLMUnavailable), http.StatusServiceUnavailable},
		{"internal", queryRequest{Message: "q"}, fmt.Errorf("boom"), http.StatusInternalServerError},
		{"bad json", "not an object", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeEngine{queryErr: tt.queryErr})
			resp := postJSON(t, srv.URL+"/api/query", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
			if tt.status == http.StatusOK {
				body := decode(t, resp)
				assert.Equal(t, true, body["grounded"])
				assert.Equal(t, "c-1", body["conversation_id"])
			}
		})
	}
}

func TestTheoremEndpoints(t *testing.T) {
	f := &fakeEngine{}
	srv := newTestServer(t, f)

	resp := get(t, srv.URL+"/api/theorems/Lagrange%27s%20Theorem")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, lagrange.Name, decode(t, resp)["name"])

	resp = get(t, srv.URL+"/api/theorems/Unknown")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = get(t, srv.URL+"/api/theorems/Lagrange%27s%20Theorem/prerequisites")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, defaultDepth, f.lastDepth)
	body := decode(t, resp)
	assert.Len(t, body["prerequisites"], 1)

	resp = get(t, srv.URL+"/api/theorems/Lagrange%27s%20Theorem/prerequisites?depth=4")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 4, f.lastDepth)

	resp = get(t, srv.URL+"/api/theorems/Lagrange%27s%20Theorem/prerequisites?depth=9")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListEndpoints(t *testing.T) {
	f := &fakeEngine{}
	srv := newTestServer(t, f)

	resp := get(t, srv.URL+"/api/subjects/Group%20Theory/theorems")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, defaultListLimit, f.lastLimit)
	assert.Equal(t, "Group Theory", decode(t, resp)["subject"])

	resp = get(t, srv.URL+"/api/domains/Algebra/theorems?limit=5")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 5, f.lastLimit)

	resp = get(t, srv.URL+"/api/domains/Algebra/theorems?limit=abc")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSearchEndpoint(t *testing.T) {
	f := &fakeEngine{}
	srv := newTestServer(t, f)

	resp := get(t, srv.URL+"/api/theorems/search?q=lagrange&k=3")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, f.lastLimit)
	body := decode(t, resp)
	assert.Equal(t, "lagrange", body["query"])
	assert.Len(t, body["results"], 1)

	resp = get(t, srv.URL+"/api/theorems/search")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIngestEndpointPath(t *testing.T) {
	docs := t.TempDir()
	doc := filepath.Join(docs, "notes.md")
	require.NoError(t, os.WriteFile(doc, []byte("# Groups"), 0o644))
	want, err := filepath.EvalSymlinks(doc)
	require.NoError(t, err)

	f := &fakeEngine{}
	srv := newTestServer(t, f, docs)

	resp := postJSON(t, srv.URL+"/api/ingest", map[string]any{"path": doc})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, want, f.lastPath)
	assert.Equal(t, float64(3), decode(t, resp)["chunks"])

	resp = postJSON(t, srv.URL+"/api/ingest", map[string]any{"path": filepath.Join(docs, "missing.md")})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/ingest", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIngestEndpointOutsideRoots(t *testing.T) {
	docs := t.TempDir()
	outside := filepath.Join(t.TempDir(), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("private"), 0o644))

	f := &fakeEngine{}
	srv := newTestServer(t, f, docs)

	paths := map[string]string{
		"outside file": outside,
		"dot-dot":      filepath.Join(docs, "..", filepath.Base(filepath.Dir(outside)), "secret.txt"),
	}
	link := filepath.Join(docs, "link.txt")
	if err := os.Symlink(outside, link); err == nil {
		paths["symlink out"] = link
	}
	for name, path := range paths {
		resp := postJSON(t, srv.URL+"/api/ingest", map[string]any{"path": path})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, name)
	}
	assert.Empty(t, f.lastPath, "nothing outside the roots reaches the engine")

	// With no extra roots only the upload directory is readable.
	resp := postJSON(t, newTestServer(t, f).URL+"/api/ingest", map[string]any{"path": outside})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestIngestEndpointErrors(t *testing.T) {
	docs := t.TempDir()
	doc := filepath.Join(docs, "slides.pptx")
	require.NoError(t, os.WriteFile(doc, []byte("x"), 0o644))

	tests := []struct {
		err    error
		status int
	}{
		{theoremgraph.ErrUnsupportedFormat, http.StatusUnsupportedMediaType},
		{theoremgraph.ErrExtractionFailed, http.StatusBadGateway},
		{fmt.Errorf("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		srv := newTestServer(t, &fakeEngine{ingestErr: tt.err}, docs)
		resp := postJSON(t, srv.URL+"/api/ingest", map[string]any{"path": doc})
		assert.Equal(t, tt.status, resp.StatusCode, tt.err.Error())
	}
}

func TestIngestEndpointUpload(t *testing.T) {
	f := &fakeEngine{}
	srv := newTestServer(t, f)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "../../escape.md")
	require.NoError(t, err)
	_, err = io.WriteString(part, "# Rings")
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(srv.URL+"/api/ingest", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "escape.md", filepath.Base(f.lastPath))
	data, err := os.ReadFile(f.lastPath)
	require.NoError(t, err)
	assert.Equal(t, "# Rings", string(data))
}

func TestHealthAndStats(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{})
	resp := get(t, srv.URL+"/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode(t, resp)["status"])

	resp = get(t, srv.URL+"/api/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), decode(t, resp)["theorems"])

	down := newTestServer(t, &fakeEngine{statsErr: theoremgraph.ErrGraphUnavailable})
	resp = get(t, down.URL+"/health")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp = get(t, down.URL+"/api/stats")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{collector: metrics.NewCollector("test")})
	get(t, srv.URL+"/health")

	resp := get(t, srv.URL+"/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `test_http_requests_total{method="GET",route="/health",status="200"} 1`)

	noMetrics := newTestServer(t, &fakeEngine{})
	resp = get(t, noMetrics.URL+"/metrics")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{})
	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/query", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
}
