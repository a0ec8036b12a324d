package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ragon-ai/ragon/internal/config"
	ragonerr "github.com/ragon-ai/ragon/internal/errors"
)

// shutdownGrace bounds how long in-flight requests may drain after a
// stop signal.
const shutdownGrace = 30 * time.Second

// Server binds the service to HTTP.
type Server struct {
	svc *Service
	cfg *config.Config
}

// NewServer wraps svc with the HTTP surface.
func NewServer(svc *Service, cfg *config.Config) *Server {
	return &Server{svc: svc, cfg: cfg}
}

// Handler returns the routing table. Exposed separately so tests can
// serve it from httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.HandleFunc("GET /cache/stats", s.handleCacheStats)
	mux.HandleFunc("POST /query", s.handleQuery)
	mux.HandleFunc("POST /cache/reload", s.handleReload)
	mux.HandleFunc("DELETE /cache", s.handleEvictAll)
	mux.HandleFunc("DELETE /cache/{path...}", s.handleEvict)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight
// requests for up to shutdownGrace.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	slog.Info("query service listening", "addr", srv.Addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down query service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return srv.Close()
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Health())
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.CacheStats())
}

type queryRequest struct {
	PDFDirectory string `json:"pdf_directory"`
	Question     string `json:"question"`
	TopK         int    `json:"top_k"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, ragonerr.ValidationError("malformed request body", err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.QueryTimeout())
	defer cancel()

	res, err := s.svc.Query(ctx, req.PDFDirectory, req.Question, req.TopK)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type reloadRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	// Body is optional; an empty one reloads the preload collection.
	var req reloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, ragonerr.ValidationError("malformed request body", err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.QueryTimeout())
	defer cancel()

	res, err := s.svc.Reload(ctx, req.Path)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type evictResponse struct {
	OK bool `json:"ok"`
}

type evictAllResponse struct {
	OK      bool `json:"ok"`
	Evicted int  `json:"evicted"`
}

func (s *Server) handleEvict(w http.ResponseWriter, r *http.Request) {
	// The route wildcard swallows the leading slash of an absolute
	// path; restore it.
	path := r.PathValue("path")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if err := s.svc.Evict(path); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, evictResponse{OK: true})
}

func (s *Server) handleEvictAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, evictAllResponse{OK: true, Evicted: s.svc.EvictAll()})
}

type errorBody struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Code: ragonerr.ErrCodeInternal, Message: err.Error()}
	var re *ragonerr.RagonError
	if errors.As(err, &re) {
		body.Code = re.Code
		body.Message = re.Message
		body.Suggestion = re.Suggestion
	}

	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			"method", r.Method, "path", r.URL.Path, "code", body.Code, "error", err)
	} else {
		slog.Warn("request rejected",
			"method", r.Method, "path", r.URL.Path, "code", body.Code)
	}
	writeJSON(w, status, errorEnvelope{Error: body})
}

// statusFor maps an error chain to its HTTP status. Missing sources
// and evictions of non-resident paths are the caller naming something
// that is not there, validation is the caller's request itself, a
// fan-out with zero surviving shards is an upstream failure.
func statusFor(err error) int {
	code := ragonerr.GetCode(err)
	switch {
	case code == ragonerr.ErrCodeSourceUnavailable || code == ragonerr.ErrCodeNotResident:
		return http.StatusNotFound
	case ragonerr.GetCategory(err) == ragonerr.CategoryValidation:
		return http.StatusBadRequest
	case code == ragonerr.ErrCodeAllShardsFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response", "error", err)
	}
}
