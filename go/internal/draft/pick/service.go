package pick

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/mcdev12/draftroom/go/internal/apperr"
	"github.com/mcdev12/draftroom/go/internal/auth"
	"github.com/mcdev12/draftroom/go/internal/models"
)

// PickApp defines what the service layer needs from the pick application
type PickApp interface {
	SubmitPick(ctx context.Context, req SubmitPickRequest) (*PickResult, error)
	Tick(ctx context.Context, draftID int64) (*TickResult, error)
}

// Service exposes pick submission and the heartbeat over HTTP.
type Service struct {
	app PickApp
}

// NewService creates a new pick HTTP service
func NewService(app PickApp) *Service {
	return &Service{app: app}
}

// RegisterRoutes mounts the pick endpoints on r. r must already carry the
// auth middleware.
func (s *Service) RegisterRoutes(r chi.Router) {
	r.Post("/drafts/{draftID}/picks", s.handleSubmitPick)
	r.Post("/drafts/{draftID}/tick", s.handleTick)
}

type submitPickBody struct {
	NominationID int64  `json:"nomination_id"`
	RequestID    string `json:"request_id"`
}

type pickResponse struct {
	Pick models.DraftPick `json:"pick"`
}

func (s *Service) handleSubmitPick(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.FromContext(r.Context())
	if !ok {
		apperr.WriteError(w, apperr.New(apperr.CodeUnauthenticated, "authentication required"))
		return
	}
	draftID, err := DraftIDParam(r)
	if err != nil {
		apperr.WriteError(w, err)
		return
	}

	var body submitPickBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apperr.WriteError(w, apperr.Wrap(apperr.CodeInvalidRequest, err, "invalid JSON payload"))
		return
	}

	res, err := s.app.SubmitPick(r.Context(), SubmitPickRequest{
		DraftID:      draftID,
		UserID:       principal.UserID,
		NominationID: body.NominationID,
		RequestID:    body.RequestID,
	})
	if err != nil {
		apperr.WriteError(w, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	apperr.WriteJSON(w, status, pickResponse{Pick: res.Pick})
}

func (s *Service) handleTick(w http.ResponseWriter, r *http.Request) {
	draftID, err := DraftIDParam(r)
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	res, err := s.app.Tick(r.Context(), draftID)
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, res)
}

// DraftIDParam reads the numeric {draftID} route parameter.
func DraftIDParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "draftID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, apperr.New(apperr.CodeInvalidRequest, "invalid draft id %q", raw)
	}
	return id, nil
}
