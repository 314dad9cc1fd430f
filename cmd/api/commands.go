package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Gi7-ux/app-sub000/internal/app"
	"github.com/Gi7-ux/app-sub000/internal/config"
	"github.com/Gi7-ux/app-sub000/internal/email"
	"github.com/Gi7-ux/app-sub000/internal/metrics"
	"github.com/Gi7-ux/app-sub000/internal/notify"
	"github.com/Gi7-ux/app-sub000/internal/search"
	"github.com/Gi7-ux/app-sub000/internal/store"
)

// bootstrap loads configuration, builds the logger and opens the database.
func bootstrap(ctx context.Context) (config.Config, *zap.Logger, *sql.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		_ = logger.Sync()
		return config.Config{}, nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	return cfg, logger, db, nil
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	cfg, logger, db, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer db.Close()
	defer func() { _ = logger.Sync() }()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}

	dataStore := store.NewPostgresStore(db)
	searchService := newSearchService(cfg, db, logger)
	defer searchService.Close()

	sinks := []notify.Sink{dataStore}
	var live app.LiveFeed
	if cfg.RedisURL != "" {
		publisher, err := notify.NewRedisPublisher(cfg.RedisURL)
		if err != nil {
			// live delivery is optional; the inbox still works.
			logger.Warn("redis unavailable, live notifications disabled", zap.Error(err))
		} else {
			defer publisher.Close()
			sinks = append(sinks, publisher)
			live = publisher
			logger.Info("publishing live notifications to redis")
		}
	}

	if cfg.SMTPHost != "" {
		mailer := email.NewSink(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
			BaseURL:  cfg.PublicBaseURL,
			Timeout:  cfg.SMTPTimeout,
		}, dataStore, logger)
		defer func() {
			drainCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := mailer.Close(drainCtx); err != nil {
				logger.Warn("pending notification emails dropped", zap.Error(err))
			}
		}()
		sinks = append(sinks, mailer)
		logger.Info("mailing notifications", zap.String("smtp_host", cfg.SMTPHost))
	}

	service := app.New(cfg, dataStore, app.Options{
		Notifier: notify.NewFanout(logger, sinks...),
		Live:     live,
		Search:   searchService,
		Metrics:  metrics.New(),
		Logger:   logger,
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, cfg.CORSOrigin, []byte(cfg.JWTSecret)).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("marketplace messaging API listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down", zap.Duration("timeout", cfg.ShutdownTimeout))
		return server.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

func newSearchService(cfg config.Config, db *sql.DB, logger *zap.Logger) *search.Service {
	var meiliClient *search.Meili
	if cfg.MeiliURL != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger.Named("meili"))
	}
	return search.NewService(meiliClient, search.NewPgFTS(db), logger.Named("search"))
}

func newMigrateCommand() *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply (or roll back) database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, logger, db, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer db.Close()
			defer func() { _ = logger.Sync() }()

			if down {
				if err := store.RollbackMigrations(ctx, db, cfg.MigrationsDir); err != nil {
					return fmt.Errorf("rollback failed: %w", err)
				}
				logger.Info("migrations rolled back", zap.String("dir", cfg.MigrationsDir))
				return nil
			}
			if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
				return fmt.Errorf("migrations failed: %w", err)
			}
			logger.Info("migrations applied", zap.String("dir", cfg.MigrationsDir))
			return nil
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back every applied migration")
	return cmd
}

func newReindexCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Push every message from PostgreSQL into Meilisearch",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, logger, db, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer db.Close()
			defer func() { _ = logger.Sync() }()

			if cfg.MeiliURL == "" {
				return errors.New("MEILI_URL is not set")
			}
			searchService := newSearchService(cfg, db, logger)
			defer searchService.Close()

			count, err := searchService.ReindexAllFromPG(ctx)
			if err != nil {
				return err
			}
			logger.Info("reindex complete", zap.Int("messages", count))
			fmt.Fprintf(os.Stdout, "indexed %d messages\n", count)
			return nil
		},
	}
}
