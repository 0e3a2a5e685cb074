package candidate

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/store"
)

// Handler exposes the review queue over HTTP.
type Handler struct {
	svc    *CandidateService
	auth   *ReviewerAuth
	logger *zap.SugaredLogger
}

func NewHandler(svc *CandidateService, auth *ReviewerAuth, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, auth: auth, logger: logger}
}

// ReviewRequest is the optional body of approve and reject.
type ReviewRequest struct {
	ReviewedBy string `json:"reviewed_by"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.List(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		h.writeError(w, "list candidates failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": items, "count": len(items)})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, "get candidate failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": c})
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	reviewer, ok := h.reviewer(w, r)
	if !ok {
		return
	}
	profile, c, err := h.svc.Approve(r.Context(), r.PathValue("id"), reviewer)
	if err != nil {
		h.writeError(w, "approve candidate failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": c, "profile": profile})
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	reviewer, ok := h.reviewer(w, r)
	if !ok {
		return
	}
	c, err := h.svc.Reject(r.Context(), r.PathValue("id"), reviewer)
	if err != nil {
		h.writeError(w, "reject candidate failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": c})
}

// reviewer reads the body (which may be empty) and resolves who is reviewing.
func (h *Handler) reviewer(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Debugw("invalid review payload", "err", err)
		h.writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid payload"})
		return "", false
	}
	reviewer, err := h.auth.Reviewer(r, req.ReviewedBy)
	if err != nil {
		h.writeError(w, "reviewer rejected", err)
		return "", false
	}
	return reviewer, true
}

func (h *Handler) writeError(w http.ResponseWriter, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInvalidStatus):
		status = http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrAlreadyResolved):
		status = http.StatusConflict
	}
	text := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Errorw(msg, "err", err)
		text = msg
	} else {
		h.logger.Debugw(msg, "err", err)
	}
	h.writeJSON(w, status, map[string]any{"success": false, "error": text})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
