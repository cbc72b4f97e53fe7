package httpserver

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"exchange_compass/internal/app"
	"exchange_compass/internal/domain"
)

type Handlers struct {
	Q   *app.QueryService
	Ing *app.IngestionService
	Mod *app.ModerationService
}

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	s.mux.Get("/api/unis", h.listUnis)
	s.mux.Get("/api/university/{name}", h.getUniversity)
	s.mux.Get("/api/summary/{name}", h.getSummary)
	s.mux.Get("/api/reviews/{name}", h.listReviews)
	s.mux.Post("/api/submit_review", h.submitReview)

	s.mux.Get("/api/admin/reviews/pending", h.listPending)
	s.mux.Post("/api/admin/reviews/{id}/approve", h.approveReview)
	s.mux.Post("/api/admin/reviews/{id}/reject", h.rejectReview)
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

// writeErr maps domain sentinels onto problem+json statuses.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrEmptyContent), errors.Is(err, domain.ErrValidation):
		writeProblem(w, http.StatusBadRequest, "Bad Request", err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", "invalid admin token")
	case errors.Is(err, domain.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		writeProblem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		log.Error().Err(err).Msg("request failed")
		writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "")
	}
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	sum := sha1.Sum(body)
	etag := `W/"` + hex.EncodeToString(sum[:]) + `"`
	return etag, body
}

// writeCachedJSON emits v with a weak ETag and honors If-None-Match.
func writeCachedJSON(w http.ResponseWriter, r *http.Request, v any) {
	etag, body := calcETagAndBody(v)
	if body == nil {
		writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "")
		return
	}
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.Header().Set("ETag", etag) // include ETag on 304
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Msg("write response body failed")
	}
}

// uniParam returns the {name} segment. University names carry spaces, so the
// segment arrives percent-encoded when the client is strict about it.
func uniParam(r *http.Request) string {
	name := chi.URLParam(r, "name")
	if dec, err := url.PathUnescape(name); err == nil {
		name = dec
	}
	return strings.TrimSpace(name)
}

func adminToken(r *http.Request) string { return r.Header.Get("X-Admin-Token") }

// ---- public read surface ----

func (h *Handlers) listUnis(w http.ResponseWriter, r *http.Request) {
	var major *string
	if m := strings.TrimSpace(r.URL.Query().Get("major")); m != "" {
		major = &m
	}
	out, err := h.Q.ListUniversities(r.Context(), major)
	if err != nil {
		writeErr(w, err)
		return
	}
	if out == nil {
		out = []domain.UniversityAggregate{}
	}
	writeCachedJSON(w, r, out)
}

func (h *Handlers) getUniversity(w http.ResponseWriter, r *http.Request) {
	out, err := h.Q.GetUniversity(r.Context(), uniParam(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeCachedJSON(w, r, out)
}

type summaryResponse struct {
	UniName string `json:"uni_name"`
	Summary string `json:"summary"`
}

func (h *Handlers) getSummary(w http.ResponseWriter, r *http.Request) {
	name := uniParam(r)
	text, err := h.Q.Summary(r.Context(), name)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeCachedJSON(w, r, summaryResponse{UniName: name, Summary: text})
}

func (h *Handlers) listReviews(w http.ResponseWriter, r *http.Request) {
	out, err := h.Q.ListApprovedReviews(r.Context(), uniParam(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	if out == nil {
		out = []domain.ReviewRecord{}
	}
	writeCachedJSON(w, r, out)
}

// ---- submissions ----

type submitResponse struct {
	ID     int64         `json:"id"`
	Status domain.Status `json:"status"`
}

func (h *Handlers) submitReview(w http.ResponseWriter, r *http.Request) {
	var sub domain.Submission
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&sub); err != nil {
		writeProblem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	rec, err := h.Ing.IngestSubmission(r.Context(), sub)
	if err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(submitResponse{ID: rec.ID, Status: rec.Status}); err != nil {
		log.Error().Err(err).Msg("write submit response failed")
	}
}

// ---- moderation ----

func (h *Handlers) listPending(w http.ResponseWriter, r *http.Request) {
	limit := 0 // service default
	if ls := r.URL.Query().Get("limit"); ls != "" {
		l, err := strconv.Atoi(ls)
		if err != nil || l <= 0 || l > 500 {
			writeProblem(w, http.StatusBadRequest, "Invalid limit", "limit must be an integer between 1 and 500")
			return
		}
		limit = l
	}
	out, err := h.Mod.ListPending(r.Context(), adminToken(r), limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	if out == nil {
		out = []domain.ReviewRecord{}
	}
	writeCachedJSON(w, r, out)
}

func (h *Handlers) approveReview(w http.ResponseWriter, r *http.Request) {
	h.moderate(w, r, h.Mod.Approve)
}

func (h *Handlers) rejectReview(w http.ResponseWriter, r *http.Request) {
	h.moderate(w, r, h.Mod.Reject)
}

func (h *Handlers) moderate(w http.ResponseWriter, r *http.Request,
	op func(context.Context, string, int64) (domain.ReviewRecord, error)) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a number")
		return
	}
	rec, err := op(r.Context(), adminToken(r), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(rec); err != nil {
		log.Error().Err(err).Msg("write moderation response failed")
	}
}
