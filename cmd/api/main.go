// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wavelink-im/chat-platform/internal/auth"
	"github.com/wavelink-im/chat-platform/internal/bus"
	"github.com/wavelink-im/chat-platform/internal/config"
	"github.com/wavelink-im/chat-platform/internal/handler"
	"github.com/wavelink-im/chat-platform/internal/middleware"
	natsclient "github.com/wavelink-im/chat-platform/internal/nats"
	"github.com/wavelink-im/chat-platform/internal/service"
	"github.com/wavelink-im/chat-platform/internal/storage"
	"github.com/wavelink-im/chat-platform/internal/store"
	"github.com/wavelink-im/chat-platform/internal/subscription"
	"github.com/wavelink-im/chat-platform/pkg/logger"
	"github.com/wavelink-im/chat-platform/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "chat-platform", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Select the store: Postgres when DATABASE_URL is set, in-memory
	// otherwise.
	var st store.Store
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("failed to connect to database", zap.Error(err))
			os.Exit(1)
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			log.Error("failed to apply database schema", zap.Error(err))
			os.Exit(1)
		}
		st = pg
		log.Info("using postgres store")
	} else {
		st = store.NewMemory()
		log.Info("using in-memory store")
	}

	// Select the event bus: NATS when NATS_URL is set, in-process
	// otherwise.
	var eventBus bus.Bus
	var nc *natsclient.Client
	if cfg.NATSURL != "" {
		nc, err = natsclient.Connect(natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Error("failed to connect to NATS", zap.Error(err))
			os.Exit(1)
		}
		defer nc.Close()
		eventBus = bus.NewNATS(nc)
		log.Info("using NATS event bus", zap.String("url", cfg.NATSURL))
	} else {
		eventBus = bus.NewMemory()
		log.Info("using in-process event bus")
	}

	// Identity resolver
	resolver, err := auth.NewTokenResolver(auth.Config{
		Secret:   cfg.JWTSecret,
		JWKSURL:  cfg.JWKSURL,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	}, st, log)
	if err != nil {
		log.Error("failed to create identity resolver", zap.Error(err))
		os.Exit(1)
	}

	// Blob storage for attachments
	blobs, err := storage.NewS3Store(ctx, storage.Config{
		Bucket:       cfg.S3Bucket,
		Region:       cfg.S3Region,
		Endpoint:     cfg.S3Endpoint,
		AccessKeyID:  cfg.S3AccessKeyID,
		SecretKey:    cfg.S3SecretKey,
		PublicBase:   cfg.S3PublicBase,
		UsePathStyle: cfg.S3UsePathStyle,
	}, log)
	if err != nil {
		log.Error("failed to create blob storage", zap.Error(err))
		os.Exit(1)
	}

	// Initialize services
	conversationSvc := service.NewConversationService(st, eventBus, resolver, log)
	messageSvc := service.NewMessageService(st, eventBus, resolver, log)
	userSvc := service.NewUserService(st, resolver, log)

	// Subscription filter engine
	engine := subscription.NewEngine(log, subscription.DefaultFilters(resolver, log)...)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(nc)
	conversationHandler := handler.NewConversationHandler(conversationSvc, log)
	messageHandler := handler.NewMessageHandler(messageSvc, log)
	userHandler := handler.NewUserHandler(userSvc, log)
	fileHandler := handler.NewFileHandler(blobs, log)
	streamHandler := handler.NewStreamHandler(eventBus, engine, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Link", "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(resolver))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Get("/me", userHandler.Me)
		r.Get("/users/search", userHandler.Search)
		r.Post("/users/username", userHandler.SetUsername)

		r.Post("/files", fileHandler.Upload)

		// Live event stream
		r.Get("/subscribe", streamHandler.Subscribe)

		// Conversations
		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", conversationHandler.Create)
			r.Get("/", conversationHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Delete("/", conversationHandler.Delete)
				r.Post("/read", conversationHandler.MarkAsRead)
				r.Post("/participants", conversationHandler.UpdateParticipants)

				// Messages
				r.Get("/messages", messageHandler.List)
				r.Post("/messages", messageHandler.Send)
			})
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
