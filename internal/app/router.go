package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-billing/meridian/internal/auth"
	"github.com/meridian-billing/meridian/internal/cheques"
	"github.com/meridian-billing/meridian/internal/dashboard"
	"github.com/meridian-billing/meridian/internal/expenses"
	"github.com/meridian-billing/meridian/internal/invoices"
	"github.com/meridian-billing/meridian/internal/ledger"
	"github.com/meridian-billing/meridian/internal/observability"
	"github.com/meridian-billing/meridian/internal/payments"
	"github.com/meridian-billing/meridian/internal/platform/httpx"
)

// RouterParams carries everything the HTTP surface needs.
type RouterParams struct {
	Logger    *slog.Logger
	Config    *Config
	Metrics   *observability.Metrics
	Auth      *auth.Handler
	AuthMW    auth.Middleware
	Ledger    *ledger.Handler
	Invoices  *invoices.Handler
	Payments  *payments.Handler
	Expenses  *expenses.Handler
	Cheques   *cheques.Handler
	Dashboard *dashboard.Handler
}

// NewRouter assembles the chi router with the shared middleware stack and
// every module's routes.
func NewRouter(p RouterParams) http.Handler {
	r := chi.NewRouter()
	r.Use(MiddlewareStack(MiddlewareConfig{
		Logger:  p.Logger,
		Config:  p.Config,
		Metrics: p.Metrics,
	})...)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", p.Metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", p.Auth.MountRoutes)
		r.Route("/customers", p.Ledger.MountCustomerRoutes)
		r.Route("/suppliers", p.Ledger.MountSupplierRoutes)
		r.Route("/invoices", p.Invoices.MountRoutes)
		r.Route("/payments", p.Payments.MountRoutes)
		r.Route("/expenses", p.Expenses.MountRoutes)
		r.Route("/cheques", p.Cheques.MountRoutes)
		r.Route("/dashboard", p.Dashboard.MountRoutes)
	})

	return r
}
