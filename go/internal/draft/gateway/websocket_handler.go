package gateway

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/mcdev12/draftroom/go/internal/apperr"
	"github.com/mcdev12/draftroom/go/internal/auth"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket upgrade requests for draft viewers
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	authn             *auth.Authenticator
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager, authn *auth.Authenticator) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		authn:             authn,
	}
}

// HandleDraftConnection upgrades /ws/drafts?draft_id=<int>&token=<jwt>.
func (h *WebSocketHandler) HandleDraftConnection(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("draft_id")
	draftID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || draftID < 1 {
		apperr.WriteError(w, apperr.New(apperr.CodeInvalidRequest, "draft_id must be a positive integer"))
		return
	}

	principal, err := h.authn.FromRequest(r)
	if err != nil {
		apperr.WriteError(w, apperr.Wrap(apperr.CodeUnauthenticated, err, "authentication required"))
		return
	}

	// The upgrader has already written an error response on failure.
	if err := h.connectionManager.UpgradeConnection(w, r, principal.UserID, draftID); err != nil {
		log.Error().
			Err(err).
			Int64("draft_id", draftID).
			Str("user_id", principal.UserID).
			Msg("failed to upgrade WebSocket connection")
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	apperr.WriteJSON(w, http.StatusOK, h.connectionManager.Stats())
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/drafts", h.HandleDraftConnection)
	r.Get("/ws/stats", h.HandleConnectionStats)
}
