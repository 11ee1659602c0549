package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"studio-backend/internal/client"
	"studio-backend/internal/config"
	"studio-backend/internal/database"
	"studio-backend/internal/handlers"
	"studio-backend/internal/middleware"
	"studio-backend/internal/router"
	"studio-backend/internal/services"
	"studio-backend/internal/studio"
	"studio-backend/internal/websocket"
	"studio-backend/pkg/logger"
)

// Image generation routinely takes tens of seconds.
const vendorTimeout = 2 * time.Minute

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, os.Stdout)
	log.Info("starting studio backend", slog.String("env", cfg.Env))

	if err := cfg.Validate(); err != nil {
		log.Error("configuration rejected", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := cfg.RequireAPIKey(); err != nil {
		log.Warn("image generation disabled until configured", slog.String("error", err.Error()))
	}

	// ──── Step 2: Initialize Redis Client (optional) ────
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		rc, err := database.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Error("redis connection failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer rc.Close()
		redisClient = rc
		log.Info("redis connected, session updates use pub/sub")
	} else {
		log.Info("REDIS_URL not set, session updates stay in-process")
	}

	// ──── Step 3: Initialize Image Service ────
	httpClient := &http.Client{Timeout: vendorTimeout}
	imageService := services.NewImageService(
		cfg.GoogleAPIKey,
		cfg.GoogleImageModel,
		cfg.GoogleAPIBaseURL,
		httpClient,
		log,
	)
	log.Info("image service initialized", slog.String("model", cfg.GoogleImageModel))

	var generator studio.Generator = imageService
	if cfg.ProxyURL != "" {
		generator = client.NewProxyClient(cfg.ProxyURL, httpClient)
		log.Info("sessions generate through remote proxy", slog.String("proxy_url", cfg.ProxyURL))
	}

	// ──── Step 4: Start WebSocket Hub and Session Manager ────
	wsHub := websocket.NewHub(redisClient, nil, log)
	sessionManager := studio.NewSessionManager(generator, wsHub, cfg.MaxSessions, log)
	wsHub.SetSessions(sessionManager)
	log.Info("session manager started", slog.Int("max_sessions", cfg.MaxSessions))

	// ──── Initialize Handlers ────
	imageHandler := handlers.NewImageHandler(imageService)
	sessionHandler := handlers.NewSessionHandler(sessionManager)

	limiterCtx, stopLimiter := context.WithCancel(context.Background())
	generateLimiter := middleware.NewRateLimiter(limiterCtx, cfg.GenerateRequestsPerMin, time.Minute)

	// ──── Step 5: Start HTTP Server ────
	r := router.New(
		imageHandler,
		sessionHandler,
		wsHub,
		generateLimiter,
		log,
		cfg.FrontendURL,
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: vendorTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info("shutting down")
		stopLimiter()
		sessionManager.Shutdown()
		wsHub.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Info("studio backend ready",
		slog.String("api", fmt.Sprintf("http://localhost:%s/api", cfg.Port)),
		slog.String("ws", fmt.Sprintf("ws://localhost:%s/api/v1/ws", cfg.Port)),
	)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
