package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/brunobiangulo/theoremgraph"
)

const (
	defaultListLimit = 10
	maxListLimit     = 100
	defaultDepth     = 2
	maxUploadBytes   = 100 << 20 // 100MB
)

type handler struct {
	engine    theoremgraph.Engine
	uploadDir string
	// roots bounds the server-side paths /api/ingest will read.
	roots []string
}

func newHandler(e theoremgraph.Engine, uploadDir string, ingestRoots []string) *handler {
	if uploadDir == "" {
		uploadDir = filepath.Join(os.TempDir(), "theoremgraph-uploads")
	}
	return &handler{engine: e, uploadDir: uploadDir, roots: append([]string{uploadDir}, ingestRoots...)}
}

// resolvePath returns the absolute path with symlinks resolved. A path that
// does not exist yet is only made absolute.
func resolvePath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return real, nil
	}
	return abs, nil
}

// allowed reports whether path, already resolved, lies inside one of the
// ingest roots.
func (h *handler) allowed(path string) bool {
	for _, dir := range h.roots {
		root, err := resolvePath(dir)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			continue
		}
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel) {
			return true
		}
	}
	return false
}

type queryRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// POST /api/query
func (h *handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	var opts []theoremgraph.QueryOption
	if req.ConversationID != "" {
		opts = append(opts, theoremgraph.WithConversation(req.ConversationID))
	}

	answer, err := h.engine.Query(ctx, req.Message, opts...)
	if err != nil {
		slog.Error("query error", "message", req.Message, "error", err)
		writeEngineError(w, err, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

// POST /api/ingest
// Accepts a multipart file upload or JSON with a server-side path.
func (h *handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	// Try multipart upload first
	if err := r.ParseMultipartForm(maxUploadBytes); err == nil {
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "multipart request needs a 'file' field")
			return
		}
		defer file.Close()

		// Sanitise filename to prevent path traversal.
		safeName := filepath.Base(header.Filename)
		path, err := h.saveUpload(safeName, file)
		if err != nil {
			slog.Error("saving uploaded file", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to save file")
			return
		}

		var opts []theoremgraph.IngestOption
		if force, _ := strconv.ParseBool(r.FormValue("force")); force {
			opts = append(opts, theoremgraph.WithForce())
		}
		h.ingest(ctx, w, path, opts)
		return
	}

	// Try JSON body with path
	var req struct {
		Path  string `json:"path"`
		Force bool   `json:"force,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: expected multipart file or JSON with 'path'")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	absPath, err := filepath.Abs(req.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(absPath)
	if err != nil || info.IsDir() {
		writeError(w, http.StatusBadRequest, "path must be an existing file")
		return
	}
	// Symlinks are resolved so a link inside a root cannot point outside it.
	if absPath, err = filepath.EvalSymlinks(absPath); err != nil || !h.allowed(absPath) {
		slog.Warn("ingest path outside allowed roots", "path", req.Path)
		writeError(w, http.StatusForbidden, "path is outside the ingest directories")
		return
	}

	var opts []theoremgraph.IngestOption
	if req.Force {
		opts = append(opts, theoremgraph.WithForce())
	}
	h.ingest(ctx, w, absPath, opts)
}

func (h *handler) ingest(ctx context.Context, w http.ResponseWriter, path string, opts []theoremgraph.IngestOption) {
	rep, err := h.engine.Ingest(ctx, path, opts...)
	if err != nil {
		slog.Error("ingest error", "path", path, "error", err)
		writeEngineError(w, err, "ingestion failed")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// saveUpload keeps uploads under a stable name so re-uploading an unchanged
// file is recognised and skipped.
func (h *handler) saveUpload(name string, src io.Reader) (string, error) {
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return "", err
	}
	dst, err := os.CreateTemp(h.uploadDir, ".upload-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", err
	}
	path, err := filepath.Abs(filepath.Join(h.uploadDir, name))
	if err != nil {
		return "", err
	}
	return path, os.Rename(dst.Name(), path)
}

// GET /api/theorems/{name}
func (h *handler) handleTheorem(w http.ResponseWriter, r *http.Request) {
	t, err := h.engine.Theorem(r.Context(), pathParam(r, "name"))
	if err != nil {
		writeEngineError(w, err, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// GET /api/theorems/{name}/prerequisites?depth=
func (h *handler) handlePrerequisites(w http.ResponseWriter, r *http.Request) {
	depth, ok := intQuery(w, r, "depth", defaultDepth, 1, 5)
	if !ok {
		return
	}
	name := pathParam(r, "name")
	prereqs, err := h.engine.Prerequisites(r.Context(), name, depth)
	if err != nil {
		writeEngineError(w, err, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"theorem":       name,
		"prerequisites": prereqs,
	})
}

// GET /api/subjects/{subject}/theorems?limit=
func (h *handler) handleBySubject(w http.ResponseWriter, r *http.Request) {
	limit, ok := intQuery(w, r, "limit", defaultListLimit, 1, maxListLimit)
	if !ok {
		return
	}
	subject := pathParam(r, "subject")
	ts, err := h.engine.TheoremsBySubject(r.Context(), subject, limit)
	if err != nil {
		writeEngineError(w, err, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subject": subject, "theorems": ts})
}

// GET /api/domains/{domain}/theorems?limit=
func (h *handler) handleByDomain(w http.ResponseWriter, r *http.Request) {
	limit, ok := intQuery(w, r, "limit", defaultListLimit, 1, maxListLimit)
	if !ok {
		return
	}
	domain := pathParam(r, "domain")
	ts, err := h.engine.TheoremsByDomain(r.Context(), domain, limit)
	if err != nil {
		writeEngineError(w, err, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"domain": domain, "theorems": ts})
}

// GET /api/theorems/search?q=&k=
func (h *handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	k, ok := intQuery(w, r, "k", defaultListLimit, 1, maxListLimit)
	if !ok {
		return
	}
	hits, err := h.engine.SearchTheorems(r.Context(), q, k)
	if err != nil {
		writeEngineError(w, err, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": q, "results": hits})
}

// GET /api/stats
func (h *handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Stats(r.Context())
	if err != nil {
		writeEngineError(w, err, "stats failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := h.engine.Stats(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  "graph store unreachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// pathParam returns a decoded chi URL parameter.
func pathParam(r *http.Request, key string) string {
	raw := chi.URLParam(r, key)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

// intQuery parses an optional integer query parameter within [lo, hi]. On a
// bad value it writes a 400 and returns false.
func intQuery(w http.ResponseWriter, r *http.Request, key string, def, lo, hi int) (int, bool) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < lo || n > hi {
		writeError(w, http.StatusBadRequest, key+" must be an integer in ["+strconv.Itoa(lo)+", "+strconv.Itoa(hi)+"]")
		return 0, false
	}
	return n, true
}

// writeEngineError maps engine sentinels to HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, theoremgraph.ErrEmptyQuestion):
		writeError(w, http.StatusBadRequest, "message is required")
	case errors.Is(err, theoremgraph.ErrTheoremNotFound):
		writeError(w, http.StatusNotFound, "theorem not found")
	case errors.Is(err, theoremgraph.ErrUnsupportedFormat):
		writeError(w, http.StatusUnsupportedMediaType, "unsupported document format")
	case errors.Is(err, theoremgraph.ErrExtractionFailed):
		writeError(w, http.StatusBadGateway, "extraction failed: language model unreachable")
	case errors.Is(err, theoremgraph.ErrLLMUnavailable):
		writeError(w, http.StatusServiceUnavailable, "language model unavailable")
	case errors.Is(err, theoremgraph.ErrGraphUnavailable):
		writeError(w, http.StatusServiceUnavailable, "graph store unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "request timed out")
	default:
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
