package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dhoini/runsheet-api/internal/app"
	"github.com/Dhoini/runsheet-api/internal/config"
	"github.com/Dhoini/runsheet-api/internal/probe"
	"github.com/Dhoini/runsheet-api/pkg/logger"

	"github.com/rs/cors"
)

const shutdownTimeout = 15 * time.Second

func main() {
	envPath := flag.String("env", ".env", "path to .env file (ignored in production)")
	flag.Parse()

	cfg, err := config.LoadConfig(*envPath)
	if err != nil {
		logger.New(logger.INFO).Fatalw("Failed to load configuration", "error", err)
	}

	log := logger.New(logger.ParseLevel(cfg.App.LogLevel))
	if cfg.IsProduction() {
		log = logger.NewProduction(logger.ParseLevel(cfg.App.LogLevel))
	}
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatalw("Invalid configuration", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatalw("Failed to initialize application", "error", err)
	}
	application.StartBackground()

	// Вызовы из браузера приходят с фронтенда на другом origin
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Stripe-Signature"},
		AllowCredentials: false,
		MaxAge:           300,
	}).Handler(application.Router)

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      corsHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 2)
	go func() {
		log.Infow("HTTP server started", "port", cfg.App.Port, "env", cfg.App.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	go func() {
		if err := application.GRPC.Listen(cfg.GRPC.Port); err != nil {
			serverErr <- err
		}
	}()

	probe.Start(cfg.Stripe.WebhookEndpointURL, log.Named("probe"))

	select {
	case <-ctx.Done():
		log.Infow("Shutdown signal received")
	case err := <-serverErr:
		log.Errorw("Server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("HTTP server forced to shutdown", "error", err)
	}
	application.GRPC.Stop()

	if err := application.Close(); err != nil {
		log.Errorw("Failed to release resources", "error", err)
		os.Exit(1)
	}
	log.Infow("Server stopped gracefully")
}
