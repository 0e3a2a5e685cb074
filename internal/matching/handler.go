package matching

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	profileentity "github.com/ovaphlow/pitchfork/service-identity-go/internal/profile/entity"
)

// Handler answers read-only match queries.
type Handler struct {
	orchestrator *Orchestrator
	logger       *zap.SugaredLogger
}

func NewHandler(o *Orchestrator, logger *zap.SugaredLogger) *Handler {
	return &Handler{orchestrator: o, logger: logger}
}

// MatchRequest maps platform names to raw identifiers.
type MatchRequest struct {
	Identifiers map[string]string `json:"identifiers"`
	DisplayName string            `json:"display_name"`
}

func (h *Handler) Match(w http.ResponseWriter, r *http.Request) {
	var req MatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid match payload", "err", err)
		h.writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid payload"})
		return
	}
	ids := make(map[profileentity.Platform]string, len(req.Identifiers))
	for name, v := range req.Identifiers {
		p, err := profileentity.ParsePlatform(name)
		if err != nil {
			// unknown platforms are dropped like unparseable values
			h.logger.Debugw("ignoring unknown platform", "platform", name)
			continue
		}
		ids[p] = v
	}

	d, err := h.orchestrator.Resolve(r.Context(), Request{Identifiers: ids, DisplayName: req.DisplayName, Mode: ModeQuery})
	if err != nil {
		if errors.Is(err, ErrNoValidIdentifiers) {
			h.logger.Debugw("match rejected", "err", err)
			h.writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
			return
		}
		h.logger.Errorw("match failed", "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "match failed"})
		return
	}
	matches := d.Matches
	if matches == nil {
		matches = []MatchResult{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "matches": matches, "match_count": len(matches)})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
