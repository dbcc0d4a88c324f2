package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/spendguard/internal/alerting"
	"github.com/opensource-finance/spendguard/internal/api"
	"github.com/opensource-finance/spendguard/internal/artifact"
	"github.com/opensource-finance/spendguard/internal/bus"
	"github.com/opensource-finance/spendguard/internal/cache"
	"github.com/opensource-finance/spendguard/internal/config"
	"github.com/opensource-finance/spendguard/internal/domain"
	"github.com/opensource-finance/spendguard/internal/notify"
	"github.com/opensource-finance/spendguard/internal/repository"
	"github.com/opensource-finance/spendguard/internal/scoring"
	"github.com/opensource-finance/spendguard/internal/worker"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scoring API and async worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), a.cfg)
		},
	}
}

func serve(parent context.Context, cfg *domain.Config) error {
	slog.Info("starting spendguard",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"notifier", cfg.Notifier.Type,
	)

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Notifier
	notifier, err := notify.New(cfg.Notifier)
	if err != nil {
		return fmt.Errorf("initialize notifier: %w", err)
	}
	defer notifier.Close()
	slog.Info("notifier initialized", "type", cfg.Notifier.Type)

	// Alert policy
	policy, err := alerting.NewPolicy(cfg.Alerting.Expression)
	if err != nil {
		return fmt.Errorf("compile alert policy: %w", err)
	}
	slog.Info("alert policy compiled", "expression", policy.Expression())

	// Model store and scoring service
	store := artifact.NewStore(
		artifact.NewFileStore(cfg.Model.ArtifactDir),
		artifact.NewRepositoryRemote(repo),
		artifact.StoreConfig{
			Version: cfg.Model.Version,
			Retries: cfg.Model.FetchRetries,
		},
	)
	scorer := scoring.NewService(store, config.Location(cfg))

	// Worker
	w, err := worker.NewWorker(worker.Deps{
		Scorer:   scorer,
		Repo:     repo,
		Cache:    cacheImpl,
		Bus:      busImpl,
		Policy:   policy,
		Notifier: notifier,
	}, worker.Config{ResultTTL: cfg.Cache.ResultTTL})
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	defer w.Stop()

	// Initialize Server
	srv := api.NewServer(cfg.Server, api.Deps{
		Model:     scorer,
		Pipeline:  w,
		Repo:      repo,
		Cache:     cacheImpl,
		Bus:       busImpl,
		ResultTTL: cfg.Cache.ResultTTL,
	}, Version)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// The server answers /health and a 503 /ready while the bundle loads.
	if err := scorer.EnsureLoaded(ctx); err != nil {
		shutdown(srv)
		return fmt.Errorf("load model: %w", err)
	}
	manifest, _ := scorer.Manifest()
	slog.Info("spendguard is ready",
		"addr", srv.Addr(),
		"model_version", manifest.Version,
		"timezone", scorer.Location().String(),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				if err := scorer.Reload(ctx); err != nil {
					slog.Error("model reload failed, keeping current bundle", "error", err)
					continue
				}
				m, _ := scorer.Manifest()
				slog.Info("model reloaded", "model_version", m.Version)
				continue
			}
			slog.Info("received shutdown signal", "signal", sig)
			shutdown(srv)
			return nil
		case err := <-serverErr:
			return fmt.Errorf("server failed: %w", err)
		case <-ctx.Done():
			shutdown(srv)
			return nil
		}
	}
}

func shutdown(srv *api.Server) {
	slog.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	slog.Info("spendguard shutdown complete")
}
