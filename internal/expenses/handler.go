package expenses

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-billing/meridian/internal/auth"
	"github.com/meridian-billing/meridian/internal/observability"
	"github.com/meridian-billing/meridian/internal/platform/httpx"
	"github.com/meridian-billing/meridian/internal/shared"
)

// Handler manages expense endpoints.
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

// MountRoutes registers expense routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.mw.RequireAuth)

	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireRole(auth.RoleAccountant, auth.RoleClerk))
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireRole(auth.RoleAccountant))
		r.Post("/", h.record)
		r.Post("/{id}/cancel", h.cancel)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := ListExpensesRequest{
		Status:   ExpenseStatus(q.Get("status")),
		Category: q.Get("category"),
	}
	req.SupplierID, _ = strconv.ParseInt(q.Get("supplier_id"), 10, 64)
	req.Limit, _ = strconv.Atoi(q.Get("limit"))
	req.Offset, _ = strconv.Atoi(q.Get("offset"))
	if from := q.Get("from"); from != "" {
		req.FromDate, _ = httpx.ParseDate(from)
	}
	if to := q.Get("to"); to != "" {
		req.ToDate, _ = httpx.ParseDate(to)
	}

	expenses, pagination, err := h.service.List(r.Context(), req)
	if err != nil {
		h.logger.Error("list expenses", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"data":       expenses,
		"pagination": pagination,
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid expense id")
		return
	}
	expense, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, expense)
}

func (h *Handler) record(w http.ResponseWriter, r *http.Request) {
	var input RecordExpenseInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if principal := shared.PrincipalFromContext(r.Context()); principal != nil {
		input.CreatedBy = principal.UserID
	}

	expense, err := h.service.Record(r.Context(), input)
	if err != nil {
		h.logger.Error("record expense", slog.Any("error", err), slog.Int64("supplier_id", input.SupplierID))
		h.metrics.ObserveReconciliation("expense", "error")
		httpx.RespondError(w, err)
		return
	}
	h.metrics.ObserveReconciliation("expense", "ok")
	httpx.JSON(w, http.StatusCreated, expense)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid expense id")
		return
	}
	expense, err := h.service.Cancel(r.Context(), id)
	if err != nil {
		h.logger.Warn("expense cancel rejected", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	h.metrics.ObserveReconciliation("expense", "cancelled")
	httpx.JSON(w, http.StatusOK, expense)
}
