package cheques

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-billing/meridian/internal/auth"
	"github.com/meridian-billing/meridian/internal/observability"
	"github.com/meridian-billing/meridian/internal/platform/httpx"
)

// Handler manages cheque endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	mw        auth.Middleware
	metrics   *observability.Metrics
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, mw auth.Middleware, metrics *observability.Metrics) *Handler {
	return &Handler{logger: logger, service: service, mw: mw, metrics: metrics, validator: validator.New()}
}

// MountRoutes registers cheque routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.mw.RequireAuth)

	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireRole(auth.RoleAccountant, auth.RoleClerk))
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireRole(auth.RoleAccountant))
		r.Post("/", h.create)
		r.Post("/{id}/status", h.updateStatus)
		r.Delete("/{id}", h.delete)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := ListChequesRequest{
		Status: ChequeStatus(q.Get("status")),
		Type:   ChequeType(q.Get("type")),
	}
	req.PartyID, _ = strconv.ParseInt(q.Get("party_id"), 10, 64)
	req.Limit, _ = strconv.Atoi(q.Get("limit"))
	req.Offset, _ = strconv.Atoi(q.Get("offset"))

	cheques, pagination, err := h.service.List(r.Context(), req)
	if err != nil {
		h.logger.Error("list cheques", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"data":       cheques,
		"pagination": pagination,
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid cheque id")
		return
	}
	cheque, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, cheque)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var input CreateChequeInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	cheque, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.logger.Error("create cheque", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, cheque)
}

type updateStatusRequest struct {
	Status ChequeStatus `json:"status" validate:"required"`
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid cheque id")
		return
	}
	var req updateStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	cheque, err := h.service.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		h.logger.Warn("cheque status update rejected", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	h.metrics.ObserveChequeTransition(string(req.Status))
	httpx.JSON(w, http.StatusOK, cheque)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid cheque id")
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
