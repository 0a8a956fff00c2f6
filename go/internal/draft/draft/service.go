package draft

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mcdev12/draftroom/go/internal/apperr"
	"github.com/mcdev12/draftroom/go/internal/auth"
	"github.com/mcdev12/draftroom/go/internal/draft/pick"
	"github.com/mcdev12/draftroom/go/internal/models"
)

// DraftApp defines what the service layer needs from the draft application
type DraftApp interface {
	Start(ctx context.Context, draftID int64, actor string) (*models.Draft, error)
	Pause(ctx context.Context, draftID int64, actor string) (*models.Draft, error)
	Resume(ctx context.Context, draftID int64, actor string) (*models.Draft, error)
	Snapshot(ctx context.Context, draftID int64) (*SnapshotView, error)
}

// Service exposes lifecycle changes and snapshots over HTTP.
type Service struct {
	app DraftApp
}

// NewService creates a new draft HTTP service
func NewService(app DraftApp) *Service {
	return &Service{app: app}
}

// RegisterRoutes mounts the draft endpoints on r, which must carry the auth
// middleware.
func (s *Service) RegisterRoutes(r chi.Router) {
	s.RegisterSnapshotRoute(r)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireRole(auth.RoleManager))
		r.Post("/drafts/{draftID}/start", s.lifecycle(s.app.Start))
		r.Post("/drafts/{draftID}/pause", s.lifecycle(s.app.Pause))
		r.Post("/drafts/{draftID}/resume", s.lifecycle(s.app.Resume))
	})
}

// RegisterSnapshotRoute mounts only the read side, for processes that serve
// viewers but never mutate drafts.
func (s *Service) RegisterSnapshotRoute(r chi.Router) {
	r.Get("/drafts/{draftID}/snapshot", s.handleSnapshot)
}

func (s *Service) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	draftID, err := pick.DraftIDParam(r)
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	snap, err := s.app.Snapshot(r.Context(), draftID)
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, snap)
}

func (s *Service) lifecycle(fn func(ctx context.Context, draftID int64, actor string) (*models.Draft, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, _ := auth.FromContext(r.Context())
		draftID, err := pick.DraftIDParam(r)
		if err != nil {
			apperr.WriteError(w, err)
			return
		}
		d, err := fn(r.Context(), draftID, principal.UserID)
		if err != nil {
			apperr.WriteError(w, err)
			return
		}
		apperr.WriteJSON(w, http.StatusOK, TransitionResult{Draft: d})
	}
}
