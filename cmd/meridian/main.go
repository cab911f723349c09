package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meridian-billing/meridian/internal/app"
	"github.com/meridian-billing/meridian/internal/auth"
	"github.com/meridian-billing/meridian/internal/cheques"
	"github.com/meridian-billing/meridian/internal/dashboard"
	"github.com/meridian-billing/meridian/internal/expenses"
	"github.com/meridian-billing/meridian/internal/invoices"
	"github.com/meridian-billing/meridian/internal/ledger"
	"github.com/meridian-billing/meridian/internal/observability"
	"github.com/meridian-billing/meridian/internal/payments"
	"github.com/meridian-billing/meridian/internal/platform/cache"
	"github.com/meridian-billing/meridian/internal/platform/db"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, statement cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	authMW := auth.NewMiddleware(tokens)
	authRepo := auth.NewRepository(pool)
	authService := auth.NewService(authRepo, tokens)
	authHandler := auth.NewHandler(logger, authService, authMW)

	statementCache := ledger.NewCache(redisClient, cfg.StatementCacheTTL)
	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo, statementCache, logger)
	ledgerHandler := ledger.NewHandler(logger, ledgerService, authMW)

	invoiceRepo := invoices.NewRepository(pool)
	invoiceService := invoices.NewService(invoiceRepo, ledgerService)
	invoiceHandler := invoices.NewHandler(logger, invoiceService, authMW)

	paymentRepo := payments.NewRepository(pool)
	paymentService := payments.NewService(paymentRepo, ledgerService)
	paymentHandler := payments.NewHandler(logger, paymentService, authMW, metrics)

	expenseRepo := expenses.NewRepository(pool)
	expenseService := expenses.NewService(expenseRepo, ledgerService)
	expenseHandler := expenses.NewHandler(logger, expenseService, authMW, metrics)

	chequeRepo := cheques.NewRepository(pool)
	chequeService := cheques.NewService(chequeRepo, ledgerService)
	chequeHandler := cheques.NewHandler(logger, chequeService, authMW, metrics)

	dashboardRepo := dashboard.NewRepository(pool)
	dashboardService := dashboard.NewService(dashboardRepo)
	dashboardHandler := dashboard.NewHandler(logger, dashboardService, authMW)

	router := app.NewRouter(app.RouterParams{
		Logger:    logger,
		Config:    cfg,
		Metrics:   metrics,
		Auth:      authHandler,
		AuthMW:    authMW,
		Ledger:    ledgerHandler,
		Invoices:  invoiceHandler,
		Payments:  paymentHandler,
		Expenses:  expenseHandler,
		Cheques:   chequeHandler,
		Dashboard: dashboardHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", slog.Any("error", err))
	}
}
