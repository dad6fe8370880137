package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"comfyrelay/internal/artifact"
	"comfyrelay/internal/engine"
	"comfyrelay/internal/http/handlers"
	httpapi "comfyrelay/internal/http/httpapi"
	"comfyrelay/internal/infra"
	"comfyrelay/internal/relay"
	"comfyrelay/internal/storage"
	"comfyrelay/internal/workflow"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	artifacts, err := storage.NewFileStore(cfg.OutputDir)
	if err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.OutputDir).Msg("failed to prepare output directory")
	}

	client, err := engine.NewClient(engine.Options{
		BaseURL:        cfg.EngineURL,
		Logger:         &logger,
		RequestTimeout: cfg.EngineTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid engine configuration")
	}

	jobs, err := relay.New(relay.Options{
		Engine:      client,
		Fetcher:     artifact.NewFetcher(artifact.Options{Source: client, Store: artifacts, Logger: &logger}),
		Logger:      &logger,
		IdleTimeout: cfg.RelayIdleTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build relay")
	}

	workflows := workflow.NewStore(cfg.TemplateDir)
	app := handlers.NewApp(cfg, handlers.Deps{
		Workflows: workflows,
		Jobs:      jobs,
		Uploader:  client,
		Artifacts: artifacts,
		Logger:    &logger,
	})
	router := httpapi.NewRouter(app, cfg, logger)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().
			Str("engine", client.BaseURL()).
			Str("templates", workflows.Root()).
			Str("output", artifacts.BasePath()).
			Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
