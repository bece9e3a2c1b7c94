package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lmda/portal/auth"
	"github.com/lmda/portal/internal/config"
	"github.com/lmda/portal/internal/db"
	"github.com/lmda/portal/internal/logging"
	"github.com/lmda/portal/rbac"
	"github.com/lmda/portal/workshops"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "lmda",
		Short:         "LMDA back-office API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before the environment")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and seed the roles catalogue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			return migrate(cmd.Context(), cfg)
		},
	})

	return root
}

func migrate(ctx context.Context, cfg *config.Config) error {
	logger := logging.New(cfg.LogLevel, cfg.LogJSON)
	defer func() { _ = logger.Sync() }()

	if err := db.Migrate(ctx, cfg.DatabaseURL); err != nil {
		return err
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := db.SeedRoles(ctx, pool); err != nil {
		return err
	}
	logger.Info("migrations applied")
	return nil
}

func serve(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.New(cfg.LogLevel, cfg.LogJSON)
	defer func() { _ = logger.Sync() }()

	if cfg.SessionSecret == "" {
		cfg.SessionSecret = config.DevSessionSecret
		logger.Warn("session_secret not set, using development fallback")
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := db.SeedRoles(ctx, pool); err != nil {
		return fmt.Errorf("seed roles: %w", err)
	}

	var roles rbac.RoleStore = rbac.NewPostgresStore(pool)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis_url: %w", err)
		}
		client := redis.NewClient(opts)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, role cache will fall through", zap.Error(err))
		}
		roles = rbac.NewCachedStore(roles, client, cfg.RoleCacheTTL, logger.Named("role-cache"))
	}

	osFs := afero.NewOsFs()
	if err := osFs.MkdirAll(cfg.FlyerDir, 0o755); err != nil {
		return fmt.Errorf("create flyer dir: %w", err)
	}
	flyers := workshops.NewFlyerStore(afero.NewBasePathFs(osFs, cfg.FlyerDir), cfg.FlyerBaseURL, cfg.FlyerMaxBytes)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	handler, err := newRouter(cfg, logger, reg, components{
		accounts:  auth.NewStore(pool),
		roles:     roles,
		workshops: workshops.NewPostgresRepository(pool),
		flyers:    flyers,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
