package ledger

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-billing/meridian/internal/auth"
	"github.com/meridian-billing/meridian/internal/platform/httpx"
)

// Handler manages customer and supplier endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	mw        auth.Middleware
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, mw auth.Middleware) *Handler {
	return &Handler{logger: logger, service: service, mw: mw, validator: validator.New()}
}

// MountCustomerRoutes registers customer routes.
func (h *Handler) MountCustomerRoutes(r chi.Router) {
	h.mountKind(r, KindCustomer)
}

// MountSupplierRoutes registers supplier routes.
func (h *Handler) MountSupplierRoutes(r chi.Router) {
	h.mountKind(r, KindSupplier)
}

func (h *Handler) mountKind(r chi.Router, kind PartyKind) {
	r.Use(h.mw.RequireAuth)

	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireRole(auth.RoleAccountant, auth.RoleClerk))
		r.Get("/", h.list(kind))
		r.Get("/{id}", h.get(kind))
		r.Get("/{id}/statement", h.statement(kind))
	})

	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireRole(auth.RoleAccountant))
		r.Post("/", h.create(kind))
		r.Patch("/{id}", h.update(kind))
		r.Post("/{id}/payments/{paymentID}", h.attachPayment(kind))
	})

	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireRole(auth.RoleAdmin))
		r.Get("/{id}/balance-check", h.balanceCheck)
	})
}

func parseID(r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	return id, err == nil && id > 0
}

func (h *Handler) list(kind PartyKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		req := ListPartiesRequest{
			Kind:   kind,
			Search: q.Get("search"),
		}
		if v := q.Get("active"); v != "" {
			active := v == "true"
			req.IsActive = &active
		}
		req.Limit, _ = strconv.Atoi(q.Get("limit"))
		req.Offset, _ = strconv.Atoi(q.Get("offset"))

		parties, pagination, err := h.service.List(r.Context(), req)
		if err != nil {
			h.logger.Error("list parties", slog.Any("error", err), slog.String("kind", string(kind)))
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{
			"data":       parties,
			"pagination": pagination,
		})
	}
}

func (h *Handler) get(kind PartyKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(r, "id")
		if !ok {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
			return
		}
		party, err := h.service.Get(r.Context(), kind, id)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, party)
	}
}

func (h *Handler) create(kind PartyKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input CreatePartyInput
		if err := httpx.DecodeJSON(r, &input); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
			return
		}
		if err := h.validator.Struct(input); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		party, err := h.service.Create(r.Context(), kind, input)
		if err != nil {
			h.logger.Error("create party", slog.Any("error", err), slog.String("kind", string(kind)))
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusCreated, party)
	}
}

func (h *Handler) update(kind PartyKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(r, "id")
		if !ok {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
			return
		}
		var input UpdatePartyInput
		if err := httpx.DecodeJSON(r, &input); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
			return
		}
		if err := h.validator.Struct(input); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		party, err := h.service.Update(r.Context(), kind, id, input)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, party)
	}
}

func (h *Handler) attachPayment(kind PartyKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		partyID, ok := parseID(r, "id")
		if !ok {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
			return
		}
		paymentID, ok := parseID(r, "paymentID")
		if !ok {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid payment id")
			return
		}
		inserted, err := h.service.AttachPayment(r.Context(), kind, partyID, paymentID)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"linked": inserted})
	}
}

func (h *Handler) statement(kind PartyKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(r, "id")
		if !ok {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
			return
		}
		stmt, err := h.service.Statement(r.Context(), kind, id)
		if err != nil {
			h.logger.Error("party statement", slog.Any("error", err), slog.Int64("id", id))
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, stmt)
	}
}

func (h *Handler) balanceCheck(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r, "id")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	check, err := h.service.CheckBalance(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, check)
}
