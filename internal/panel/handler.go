// Package panel serves the JSON side channel for moderators: a token guarded
// view of registrations plus the service's health, metrics and webhook
// routes.
package panel

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"regdesk/internal/accesstoken"
	adminmodels "regdesk/internal/admin/models"
	"regdesk/internal/notify"
	regmodels "regdesk/internal/registration/models"
	"regdesk/pkg/domain"
	dErrors "regdesk/pkg/domain-errors"
	"regdesk/pkg/platform/httputil"
	"regdesk/pkg/requestcontext"
)

// Service is the moderation surface the panel exposes.
type Service interface {
	Authorizer
	ListByStatus(ctx context.Context, actor domain.PrincipalID, status regmodels.Status) ([]*regmodels.Registration, error)
	Get(ctx context.Context, actor domain.PrincipalID, id domain.RegistrationID) (*regmodels.Registration, error)
	Confirm(ctx context.Context, actor domain.PrincipalID, id domain.RegistrationID) (*regmodels.Registration, error)
	Reject(ctx context.Context, actor domain.PrincipalID, id domain.RegistrationID, comment string) (*regmodels.Registration, error)
	Stats(ctx context.Context, actor domain.PrincipalID) (*regmodels.Stats, error)
	ListAdmins(ctx context.Context, actor domain.PrincipalID) ([]*adminmodels.Admin, error)
	NotifyAll(ctx context.Context, actor domain.PrincipalID, body string) (notify.BroadcastResult, error)
}

type Handler struct {
	service Service
	tokens  accesstoken.Store
	logger  *zap.Logger
}

func NewHandler(service Service, tokens accesstoken.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, tokens: tokens, logger: logger}
}

type RejectRequest struct {
	Comment string `json:"comment"`
}

type BroadcastRequest struct {
	Text string `json:"text"`
}

type BroadcastResponse struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

type RegistrationsResponse struct {
	Registrations []*regmodels.Registration `json:"registrations"`
}

type AdminsResponse struct {
	Admins []*adminmodels.Admin `json:"admins"`
}

// Register mounts the /panel routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/panel", func(pr chi.Router) {
		pr.Use(RequireAccessToken(h.tokens, h.service, h.logger))
		pr.Get("/registrations", h.handleList)
		pr.Get("/registrations/{id}", h.handleGet)
		pr.Post("/registrations/{id}/confirm", h.handleConfirm)
		pr.Post("/registrations/{id}/reject", h.handleReject)
		pr.Get("/stats", h.handleStats)
		pr.Get("/admins", h.handleAdmins)
		pr.Post("/broadcast", h.handleBroadcast)
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := regmodels.Status(r.URL.Query().Get("status"))
	regs, err := h.service.ListByStatus(ctx, requestcontext.Actor(ctx), status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, RegistrationsResponse{Registrations: regs})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := domain.ParseRegistrationID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	reg, err := h.service.Get(ctx, requestcontext.Actor(ctx), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, reg)
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := domain.ParseRegistrationID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	reg, err := h.service.Confirm(ctx, requestcontext.Actor(ctx), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, reg)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := domain.ParseRegistrationID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req RejectRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	reg, err := h.service.Reject(ctx, requestcontext.Actor(ctx), id, req.Comment)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, reg)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats, err := h.service.Stats(ctx, requestcontext.Actor(ctx))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleAdmins(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	admins, err := h.service.ListAdmins(ctx, requestcontext.Actor(ctx))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, AdminsResponse{Admins: admins})
}

func (h *Handler) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req BroadcastRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.service.NotifyAll(ctx, requestcontext.Actor(ctx), req.Text)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, BroadcastResponse{Delivered: res.Delivered, Failed: res.Failed, Skipped: res.Skipped})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := dErrors.CodeOf(err)
	switch code {
	case dErrors.CodeForbidden:
		denied(w)
		return
	case dErrors.CodeInternal, dErrors.CodeUnavailable, dErrors.CodeTimeout:
		h.logger.Error("panel request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestcontext.RequestID(r.Context())),
			zap.Error(err),
		)
	}
	httputil.WriteError(w, err)
}
