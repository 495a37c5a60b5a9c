package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/openscribe/openscribe/internal/auth"
	"github.com/openscribe/openscribe/internal/cache"
	"github.com/openscribe/openscribe/internal/config"
	"github.com/openscribe/openscribe/internal/httpapi"
	"github.com/openscribe/openscribe/internal/jobs"
	"github.com/openscribe/openscribe/internal/orchestrator"
	"github.com/openscribe/openscribe/internal/persistence"
	"github.com/openscribe/openscribe/internal/transcribe"
	"github.com/openscribe/openscribe/pkg/log"
)

const shutdownGrace = 15 * time.Second

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.New()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}
	log.InitLogger(log.ParseLevel(cfg.LogLevel))

	db, err := persistence.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatal("Failed to open database at %s: %v", cfg.DBPath, err)
	}
	defer db.Close()

	ctx := context.Background()
	if cfg.AdminAPIToken != "" {
		if _, err := db.EnsureUser(ctx, "admin@localhost", persistence.RoleAdmin, cfg.AdminAPIToken); err != nil {
			log.Fatal("Failed to seed admin user: %v", err)
		}
	}

	engine, err := buildEngine(cfg)
	if err != nil {
		log.Fatal("Failed to configure transcription providers: %v", err)
	}

	store := jobs.NewStore(cfg.Jobs.StoreCapacity)
	orch := orchestrator.New(store, cache.NewSQLite(db), engine, db,
		time.Duration(cfg.Jobs.TimeoutSeconds)*time.Second)

	c := cron.New()
	retention := time.Duration(cfg.Jobs.RetentionMinutes) * time.Minute
	if _, err := c.AddFunc(cfg.Jobs.PruneCronExpr, func() {
		if n := store.PruneTerminalBefore(time.Now().Add(-retention)); n > 0 {
			log.Info("Pruned %d finished jobs", n)
		}
	}); err != nil {
		log.Fatal("Invalid prune schedule %q: %v", cfg.Jobs.PruneCronExpr, err)
	}
	c.Start()
	defer c.Stop()

	server := httpapi.NewServer(store, orch, db, auth.NewAuthenticator(db),
		httpapi.WithMaxUploadBytes(int64(cfg.HTTP.MaxUploadMB)<<20),
		httpapi.WithDefaultLanguage(cfg.Jobs.DefaultLanguage),
	)

	errCh := make(chan error, 1)
	go func() {
		log.Info("Listening on %s", cfg.HTTP.Addr)
		errCh <- server.ListenAndServe(cfg.HTTP.Addr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatal("Server error: %v", err)
	case sig := <-stop:
		log.Info("Received %s, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Shutdown error: %v", err)
	}
	// let in-flight jobs reach a terminal state before the store closes
	orch.Wait()
}

func buildEngine(cfg *config.Config) (transcribe.Engine, error) {
	primary, err := transcribe.NewProvider(providerConfig(cfg.Primary))
	if err != nil {
		return nil, err
	}
	if !cfg.Fallback.Enabled() {
		return primary, nil
	}
	secondary, err := transcribe.NewProvider(providerConfig(cfg.Fallback))
	if err != nil {
		return nil, err
	}
	return transcribe.NewFallback(primary, secondary), nil
}

func providerConfig(p config.ProviderConfig) transcribe.Config {
	return transcribe.Config{
		Name:       p.Name,
		APIKey:     p.APIKey,
		APIURL:     p.APIURL,
		AudioModel: p.AudioModel,
		ChatModel:  p.ChatModel,
		Timeout:    p.Timeout,
	}
}
