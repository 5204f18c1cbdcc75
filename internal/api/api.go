package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/crhan/planaudit/internal/audit"
	"github.com/crhan/planaudit/internal/models"
	"github.com/crhan/planaudit/internal/reviewer"
	"github.com/crhan/planaudit/internal/store"
)

// Server provides the REST API handlers.
type Server struct {
	runner    *audit.Runner
	store     store.Store
	reviewers []reviewer.Config
}

// NewServer creates a new API server. st may be nil when history is disabled.
func NewServer(runner *audit.Runner, st store.Store, reviewers []reviewer.Config) *Server {
	return &Server{runner: runner, store: st, reviewers: reviewers}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/audits", s.createAudit)
	mux.HandleFunc("GET /api/v1/audits", s.listAudits)
	mux.HandleFunc("GET /api/v1/audits/{id}", s.getAudit)

	mux.HandleFunc("GET /api/v1/reviewers", s.listReviewers)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// auditResponse is the POST /audits body: the merged decision up front, then
// the per-reviewer detail.
type auditResponse struct {
	AuditID      string                   `json:"audit_id"`
	Decision     models.Decision          `json:"decision"`
	Reason       string                   `json:"reason"`
	Feedback     string                   `json:"feedback,omitempty"`
	AttributedTo models.Attribution       `json:"attributed_to"`
	Policy       string                   `json:"policy"`
	Blocked      bool                     `json:"blocked"`
	DurationMs   int64                    `json:"duration_ms"`
	Reviewers    []*models.ReviewerResult `json:"reviewers"`
}

func newAuditResponse(res *models.AuditResult) auditResponse {
	out := auditResponse{
		AuditID:      res.AuditID,
		Decision:     res.Merged.Decision,
		Reason:       res.Merged.Reason,
		Feedback:     res.Merged.Feedback,
		AttributedTo: res.Merged.AttributedTo,
		Policy:       res.Merged.Policy,
		Blocked:      res.Merged.Blocks(),
		DurationMs:   res.Duration.Milliseconds(),
		Reviewers:    []*models.ReviewerResult{},
	}
	for _, role := range models.Roles {
		if r := res.Reviewer(role); r != nil {
			out.Reviewers = append(out.Reviewers, r)
		}
	}
	return out
}

// maxAuditBody caps the POST /audits request body.
const maxAuditBody = 4 << 20

func (s *Server) createAudit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAuditBody)
	var req audit.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	res, err := s.runner.Run(r.Context(), req)
	switch {
	case errors.Is(err, audit.ErrEmptyPlan):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, audit.ErrNoReviewers):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newAuditResponse(res))
}

func (s *Server) listAudits(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "audit history is disabled")
		return
	}
	filter := store.AuditListFilter{
		SessionID: r.URL.Query().Get("session_id"),
	}
	if d := r.URL.Query().Get("decision"); d != "" {
		dec, ok := models.ParseDecision(d)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid decision: "+d)
			return
		}
		filter.Decision = dec
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit: "+l)
			return
		}
		filter.Limit = n
	}

	recs, err := s.store.ListAudits(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) getAudit(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "audit history is disabled")
		return
	}
	rec, err := s.store.GetAudit(r.Context(), r.PathValue("id"))
	if store.IsNotFound(err) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type reviewerInfo struct {
	Role    models.Role `json:"role"`
	Name    string      `json:"name"`
	Backend string      `json:"backend"`
	Model   string      `json:"model"`
}

func (s *Server) listReviewers(w http.ResponseWriter, r *http.Request) {
	out := make([]reviewerInfo, 0, len(s.reviewers))
	for _, c := range s.reviewers {
		out = append(out, reviewerInfo{Role: c.Role, Name: c.Name, Backend: c.Backend, Model: c.Model})
	}
	writeJSON(w, http.StatusOK, out)
}
