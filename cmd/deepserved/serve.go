package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/deepserve/deepserve/internal/agent/providers"
	"github.com/deepserve/deepserve/internal/auth"
	"github.com/deepserve/deepserve/internal/config"
	"github.com/deepserve/deepserve/internal/mcp"
	"github.com/deepserve/deepserve/internal/observability"
	"github.com/deepserve/deepserve/internal/permissions"
	"github.com/deepserve/deepserve/internal/repository"
	"github.com/deepserve/deepserve/internal/sandbox"
	"github.com/deepserve/deepserve/internal/session"
	"github.com/deepserve/deepserve/internal/skills"
	"github.com/deepserve/deepserve/internal/web"
	"github.com/deepserve/deepserve/pkg/models"
)

const shutdownTimeout = 15 * time.Second

// runServe wires the whole server and blocks until the context is
// cancelled.
func runServe(ctx context.Context, envFile string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	metrics := observability.NewMetrics()

	repo, err := repository.Open(repository.Config{Path: cfg.DBPath})
	if err != nil {
		return err
	}
	defer repo.Close()

	image := sandbox.DefaultImageConfig()
	if cfg.SandboxImage != "" {
		image.Image = cfg.SandboxImage
	}

	discovery := skills.NewDiscovery(cfg.SkillsDir())
	if watcher, err := skills.NewWatcher(discovery, logger); err == nil {
		go watcher.Run(ctx)
	} else {
		logger.Warn(ctx, "skills watcher unavailable", "error", err)
	}

	factory := providers.NewFactory()
	resolver := permissions.NewResolver(repo, logger)
	registry := mcp.NewRegistry(repo, logger)
	manager := sandbox.NewManager(cfg, sandbox.NewDockerRuntime("docker", logger), logger, metrics)

	facade := session.New(session.Deps{
		Repo:      repo,
		Providers: factory,
		Perms:     resolver,
		MCP:       registry,
		Skills:    discovery,
		Sandboxes: manager,
		Image:     image,
		Logger:    logger,
		Metrics:   metrics,
	})

	handler := web.NewHandler(web.Config{
		AppConfig: cfg,
		Repo:      repo,
		Session:   facade,
		Perms:     resolver,
		MCP:       registry,
		Skills:    discovery,
		Providers: factory,
		Sandboxes: manager,
		JWT:       auth.NewJWTService(cfg.JWTSecret, time.Duration(cfg.JWTExpireMinutes)*time.Minute),
		Logger:    logger,
		Metrics:   metrics,
	})

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "server listening", "addr", cfg.ListenAddr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// runMigrate opens the database, which applies the schema idempotently.
func runMigrate(envFile string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	repo, err := repository.Open(repository.Config{Path: cfg.DBPath})
	if err != nil {
		return err
	}
	defer repo.Close()
	fmt.Println("schema applied:", cfg.DBPath)
	return nil
}

// runSeed provisions an admin account plus a default model configuration and
// prints a bearer token for it.
func runSeed(cmd *cobra.Command, envFile, adminName, modelName, provider, modelID string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	repo, err := repository.Open(repository.Config{Path: cfg.DBPath})
	if err != nil {
		return err
	}
	defer repo.Close()

	ctx := cmd.Context()
	admin := &models.User{Username: adminName, IsAdmin: true, IsActive: true}
	if err := repo.CreateUser(ctx, admin); err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	if err := repo.UpsertModelConfig(ctx, &models.LLMModelConfig{
		Name:      modelName,
		Provider:  provider,
		ModelID:   modelID,
		IsDefault: true,
	}); err != nil {
		return fmt.Errorf("create model config: %w", err)
	}

	jwtService := auth.NewJWTService(cfg.JWTSecret, time.Duration(cfg.JWTExpireMinutes)*time.Minute)
	token, err := jwtService.Generate(admin.ID, admin.Username)
	if err != nil {
		return fmt.Errorf("generate token: %w", err)
	}

	fmt.Printf("admin user %q created (id %d)\n", admin.Username, admin.ID)
	fmt.Printf("model config %q -> %s/%s\n", modelName, provider, modelID)
	fmt.Printf("bearer token:\n%s\n", token)
	return nil
}
