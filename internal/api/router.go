package api

import (
	"github.com/ayo6706/wallet-settlement/internal/api/handler"
	"github.com/ayo6706/wallet-settlement/internal/api/middleware"
	"github.com/ayo6706/wallet-settlement/internal/api/spec"
	"github.com/ayo6706/wallet-settlement/internal/config"
	"github.com/ayo6706/wallet-settlement/internal/idempotency"
	"github.com/ayo6706/wallet-settlement/internal/repository"
	"github.com/ayo6706/wallet-settlement/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Router wires the HTTP surface: handlers, middleware, and probes.
type Router struct {
	cfg        *config.Config
	logger     *zap.Logger
	db         *pgxpool.Pool
	repo       *repository.Repository
	idemStore  *idempotency.Store
	redis      *redis.Client
	accountSvc *service.AccountService
	walletSvc  *service.WalletService
	adminSvc   *service.AdminService
	webhookSvc *service.WebhookService
}

func NewRouter(
	cfg *config.Config,
	logger *zap.Logger,
	db *pgxpool.Pool,
	repo *repository.Repository,
	idemStore *idempotency.Store,
	redisClient *redis.Client,
	accountSvc *service.AccountService,
	walletSvc *service.WalletService,
	adminSvc *service.AdminService,
	webhookSvc *service.WebhookService,
) *Router {
	return &Router{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		repo:       repo,
		idemStore:  idemStore,
		redis:      redisClient,
		accountSvc: accountSvc,
		walletSvc:  walletSvc,
		adminSvc:   adminSvc,
		webhookSvc: webhookSvc,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	authHandler := handler.NewAuthHandler(api.repo, api.cfg.JWTIssuer, api.cfg.JWTAudience)
	userHandler := handler.NewUserHandler(api.accountSvc)
	accountHandler := handler.NewAccountHandler(api.walletSvc)
	walletHandler := handler.NewWalletHandler(api.walletSvc, api.repo)
	adminHandler := handler.NewAdminHandler(api.adminSvc)
	webhookHandler := handler.NewWebhookHandler(api.webhookSvc)
	healthHandler := handler.NewHealthHandler(api.db, api.redis)

	// Public routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Post("/v1/auth/login", authHandler.Login)
		r.Post("/v1/users", userHandler.CreateUser)
		r.Post("/v1/webhooks/rail", webhookHandler.HandleRailEvent)
	})

	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		r.Get("/v1/accounts/{id}", accountHandler.GetAccount)
		r.Get("/v1/transactions/{id}", walletHandler.GetTransaction)

		idem := middleware.IdempotencyMiddleware(api.idemStore, api.logger)
		r.With(idem).Post("/v1/deposits", walletHandler.CreateDeposit)
		r.With(idem).Post("/v1/payouts", walletHandler.CreatePayout)

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole("admin"))
			r.Get("/v1/admin/payouts/pending", adminHandler.ListPendingPayouts)
			r.Post("/v1/admin/payouts/{id}/decide", adminHandler.DecidePayout)
		})
	})

	return r
}
