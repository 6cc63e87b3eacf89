package strategist

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/strategist/internal/store"
)

// Server exposes a Strategist over HTTP.
type Server struct {
	strategist *Strategist
	store      *store.Store // nil disables the /schemas routes' backing
	logger     *slog.Logger
}

// NewServer creates an HTTP front for the strategist.
func NewServer(s *Strategist, st *store.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{strategist: s, store: st, logger: logger}
}

// Router builds the API routes.
func (srv *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/api/v1/analyze", srv.handleAnalyze)
	r.Get("/api/v1/schemas", srv.handleListSchemas)
	r.Get("/api/v1/schemas/{id}", srv.handleGetSchema)
	return r
}

// AnalyzeRequest is the body for POST /api/v1/analyze.
type AnalyzeRequest struct {
	HTML  string `json:"html"`
	Query string `json:"query"`
}

func (srv *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.HTML == "" || req.Query == "" {
		http.Error(w, "html and query required", http.StatusBadRequest)
		return
	}

	schema, err := srv.strategist.Analyze(r.Context(), req.HTML, req.Query)
	if err != nil {
		if errors.Is(err, ErrPipelineExhausted) {
			// The error already names the rung reached and the root cause.
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		srv.logger.Error("analyze failed", "error", err)
		http.Error(w, "analysis failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	srv.writeJSON(w, http.StatusOK, schema)
}

func (srv *Server) handleListSchemas(w http.ResponseWriter, r *http.Request) {
	if srv.store == nil {
		http.Error(w, "schema store not configured", http.StatusNotFound)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	recs, err := srv.store.List(r.Context(), limit)
	if err != nil {
		srv.logger.Error("list schemas failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []store.Record{}
	}
	srv.writeJSON(w, http.StatusOK, recs)
}

func (srv *Server) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	if srv.store == nil {
		http.Error(w, "schema store not configured", http.StatusNotFound)
		return
	}
	rec, err := srv.store.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "schema not found", http.StatusNotFound)
		return
	}
	if err != nil {
		srv.logger.Error("get schema failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	srv.writeJSON(w, http.StatusOK, rec)
}

func (srv *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		srv.logger.Error("write response", "error", err)
	}
}
