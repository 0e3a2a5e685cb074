package profile

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/matching"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/store"
)

// Handler exposes profile, identity and stats endpoints.
type Handler struct {
	svc    *ProfileService
	logger *zap.SugaredLogger
}

func NewHandler(svc *ProfileService, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

type CreateProfileRequest struct {
	CanonicalName string `json:"canonical_name"`
}

// AddIdentityRequest is the body of POST /identities. AutoMatch defaults to true.
type AddIdentityRequest struct {
	Platform    string `json:"platform"`
	Identifier  string `json:"identifier"`
	DisplayName string `json:"display_name"`
	AutoMatch   *bool  `json:"auto_match"`
}

func (h *Handler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.List(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		h.writeError(w, "list profiles failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": items, "count": len(items)})
}

func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, "get profile failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": p})
}

func (h *Handler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	var req CreateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid profile payload", "err", err)
		h.writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid payload"})
		return
	}
	p, err := h.svc.Create(r.Context(), req.CanonicalName)
	if err != nil {
		h.writeError(w, "create profile failed", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{"success": true, "data": p})
}

func (h *Handler) ListIdentities(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListIdentities(r.Context())
	if err != nil {
		h.writeError(w, "list identities failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": items, "count": len(items)})
}

func (h *Handler) AddIdentity(w http.ResponseWriter, r *http.Request) {
	var req AddIdentityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid identity payload", "err", err)
		h.writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid payload"})
		return
	}
	autoMatch := true
	if req.AutoMatch != nil {
		autoMatch = *req.AutoMatch
	}
	res, err := h.svc.AddIdentity(r.Context(), AddIdentityInput{
		Platform:    req.Platform,
		Identifier:  req.Identifier,
		DisplayName: req.DisplayName,
		AutoMatch:   autoMatch,
	})
	if err != nil {
		h.writeError(w, "add identity failed", err)
		return
	}

	d := res.Decision
	var matchedName any
	if best := d.Best(); best != nil {
		matchedName = best.ProfileName
	}
	status := http.StatusOK
	if d.Written {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, map[string]any{
		"success":              true,
		"data":                 res.Identity,
		"match_result":         d.Best(),
		"new_profile_created":  d.NewProfile,
		"matched_profile_name": matchedName,
		"action":               d.Action,
		"profile":              d.Profile,
		"candidate":            res.Candidate,
	})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stats(r.Context())
	if err != nil {
		h.writeError(w, "stats failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": st})
}

func (h *Handler) writeError(w http.ResponseWriter, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, matching.ErrNoValidIdentifiers),
		errors.Is(err, matching.ErrInvalidIdentifier):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
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
