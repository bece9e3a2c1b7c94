package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lmda/portal/auth"
	"github.com/lmda/portal/httpx"
	"github.com/lmda/portal/internal/config"
	"github.com/lmda/portal/internal/logging"
	"github.com/lmda/portal/rbac"
	"github.com/lmda/portal/workshops"
)

// accountStore registers identities and serves as the user directory.
type accountStore interface {
	auth.Accounts
	rbac.Directory
}

// components are the stores the router is assembled from.
type components struct {
	accounts  accountStore
	roles     rbac.RoleStore
	workshops workshops.Repository
	flyers    *workshops.FlyerStore
}

func newRouter(cfg *config.Config, logger *zap.Logger, reg *prometheus.Registry, c components) (http.Handler, error) {
	sessions, err := auth.NewSessionManager(cfg.SessionSecret, cfg.SessionCookieSecure, cfg.SessionLifetime)
	if err != nil {
		return nil, err
	}

	metrics := rbac.NewMetrics(reg)
	allow := rbac.DefaultAllowList()
	resolver := rbac.NewResolver(c.roles, allow, rbac.BreakerConfig{
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		MaxFailures: cfg.Breaker.MaxFailures,
	}, logger.Named("resolver"), metrics)
	enforcer := rbac.NewEnforcer(resolver, auth.IdentityFromRequest, logger.Named("gate"), metrics)
	administrator := rbac.NewAdministrator(c.roles, c.accounts, allow, logger.Named("admin"), metrics)

	throttle := auth.NewThrottle(cfg.SignInRate, cfg.SignInBurst)
	if err := throttle.TrustProxies(cfg.TrustedProxies); err != nil {
		return nil, err
	}
	authHandler := auth.NewHandler(c.accounts, sessions, enforcer, throttle, logger.Named("auth"))
	workshopHandler := workshops.NewHandler(c.workshops, c.flyers,
		workshops.NewNormalizer(cfg.Location()), logger.Named("workshops"))

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		auth.CapturePeer,
		middleware.RealIP,
		logging.RequestLogger(logger.Named("http")),
		middleware.Recoverer,
		middleware.Timeout(60*time.Second),
	)
	router.Use(sessions.Middleware)

	router.Get("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	router.Mount("/api/auth", authHandler.Routes())
	router.Mount("/api/rbac", rbac.NewHandler(administrator, c.accounts).Routes(enforcer))
	router.Mount("/api/workshops", workshopHandler.PublicRoutes())
	router.Mount("/api/admin/workshops", workshopHandler.AdminRoutes(enforcer))
	if c.flyers != nil {
		router.Mount("/flyers", http.StripPrefix("/flyers", c.flyers.Handler()))
	}

	return router, nil
}
