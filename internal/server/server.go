// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer — it connects handlers, middleware, and routes.
// Think of it as the control centre that decides:
// - Which URL patterns map to which handler functions
// - What middleware runs on which routes
// - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
// main.go creates config + logger → passed to Server.
// Server.New() creates: sqlite.DB → filecache.Cache → directory.Client →
// event.Bus (+ queue/mail subscribers) → UserService → UserHandler.
//
// This is the "composition root" pattern — all dependencies are wired
// in one place (New/setupRoutes), rather than scattered across the codebase.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/user-directory/internal/directory"
	"github.com/sakif/user-directory/internal/event"
	"github.com/sakif/user-directory/internal/filecache"
	"github.com/sakif/user-directory/internal/handler"
	"github.com/sakif/user-directory/internal/mailer"
	"github.com/sakif/user-directory/internal/middleware"
	"github.com/sakif/user-directory/internal/queue"
	sqliteRepo "github.com/sakif/user-directory/internal/repository/sqlite"
	"github.com/sakif/user-directory/internal/service"
)

// Config holds server configuration.
// Using a struct for config (instead of individual parameters) makes it easy to:
// - Add new config options without changing function signatures
// - Pass config around as a single value
// - Load config from files/env vars in one place
type Config struct {
	Port            int
	DBPath          string // path to the SQLite database file
	AvatarDir       string // root directory of the avatar file cache
	DirectoryAPIURL string // base URL of the upstream directory API

	// Notification fan-out. Both are OPTIONAL: an empty AMQPURL disables the
	// queue publisher, an empty SMTPHost disables the welcome mail. The
	// server starts either way — creation side effects are best-effort.
	AMQPURL   string
	QueueName string // queue for user-creation messages

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	AppName      string // From display name on outgoing mail
	EmailSender  string // From address on outgoing mail
}

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database connection, the event bus, and (when
// configured) the AMQP connection. All of them are released during graceful
// shutdown in Start().
type Server struct {
	router    *chi.Mux
	config    Config
	logger    *slog.Logger
	db        *sqliteRepo.DB
	bus       *event.Bus
	publisher *queue.Publisher // nil when no broker is configured
}

// New creates a new Server with the given config.
//
// WIRING ORDER:
//  1. Storage: sqlite DB + avatar file cache
//  2. Upstream: directory client
//  3. Fan-out: event bus, with queue/mail subscribers if configured
//  4. Service and handler on top
//
// Each layer only receives what it needs: the service gets the repository
// INTERFACE (not the concrete sqlite.DB), the handler gets the service.
func New(cfg Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	cache, err := filecache.New(cfg.AvatarDir, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating file cache: %w", err)
	}

	dirClient := directory.New(cfg.DirectoryAPIURL, logger)

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
		bus:    event.New(logger),
	}

	if err := s.setupNotifications(); err != nil {
		s.bus.Close()
		db.Close()
		return nil, err
	}

	s.setupRoutes(dirClient, cache)

	return s, nil
}

// setupNotifications subscribes the queue publisher and the mailer to the
// event bus, each only if its connection settings are present.
//
// A missing broker or SMTP host is NOT an error — the service's contract is
// that notification delivery is best-effort and never affects the request
// path, and "not configured at all" is the limiting case of that.
func (s *Server) setupNotifications() error {
	if s.config.AMQPURL != "" {
		pub, err := queue.New(s.config.AMQPURL, s.config.QueueName, s.logger)
		if err != nil {
			return fmt.Errorf("connecting to message broker: %w", err)
		}
		s.publisher = pub
		s.bus.Subscribe(func(ctx context.Context, ev event.UserCreated) error {
			return pub.Publish(ctx, ev.Payload)
		})
	} else {
		s.logger.Warn("RABBITMQ_SERVER not set — user-creation messages disabled")
	}

	if s.config.SMTPHost != "" {
		m, err := mailer.New(mailer.Config{
			Host:     s.config.SMTPHost,
			Port:     s.config.SMTPPort,
			Username: s.config.SMTPUsername,
			Password: s.config.SMTPPassword,
			AppName:  s.config.AppName,
			Sender:   s.config.EmailSender,
		}, s.logger)
		if err != nil {
			if s.publisher != nil {
				s.publisher.Close()
			}
			return fmt.Errorf("creating mailer: %w", err)
		}
		s.bus.Subscribe(func(ctx context.Context, ev event.UserCreated) error {
			return m.Send(ctx, ev.Email, "User Created", "Your account has been created")
		})
	} else {
		s.logger.Warn("SMTP_HOST not set — welcome emails disabled")
	}

	return nil
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// POST   /users              → create a user record (JSON)
// GET    /user/{id}          → upstream profile for an external id (JSON)
// GET    /user/{id}/avatar   → base64 avatar, served from the cache (JSON)
// DELETE /user/{id}/avatar   → remove the record and cached file (JSON)
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID — assigns the correlation id (returned in error envelopes)
// 2. RealIP — extracts real client IP from proxy headers
// 3. Recoverer — catches panics and returns 500 instead of crashing
// 4. Logger — logs each request with timing info and the correlation id
func (s *Server) setupRoutes(dirClient *directory.Client, cache *filecache.Cache) {
	s.router.Use(chimiddleware.RequestID) // Adds X-Request-ID header
	s.router.Use(chimiddleware.RealIP)    // Extracts real IP from X-Forwarded-For
	s.router.Use(chimiddleware.Recoverer) // Recovers from panics, returns 500

	// Our custom logging middleware
	s.router.Use(middleware.Logger(s.logger))

	userService := service.NewUserService(s.db, dirClient, cache, s.bus, s.logger)
	userHandler := handler.NewUserHandler(userService, s.logger)

	s.router.Post("/users", userHandler.HandleCreate)
	s.router.Route("/user/{id}", func(r chi.Router) {
		r.Get("/", userHandler.HandleGetProfile)
		r.Get("/avatar", userHandler.HandleGetAvatar)
		r.Delete("/avatar", userHandler.HandleDeleteAvatar)
	})

	// Unmatched routes still get the uniform failure envelope
	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success":    false,
			"message":    "Cannot " + r.Method + " " + r.URL.Path,
			"request_id": chimiddleware.GetReqID(r.Context()),
		})
	})
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests to finish (30s timeout)
// 3. Close the event bus (drains pending queue/mail deliveries)
// 4. Close the AMQP connection and the database
//
// The bus closes BEFORE the publisher: draining first means no subscriber
// ever publishes on a closed AMQP channel.
func (s *Server) Start() error {
	defer s.db.Close()
	defer func() {
		if s.publisher != nil {
			s.publisher.Close()
		}
	}()
	defer s.bus.Close()

	// Create the HTTP server with sensible timeouts
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Channel to receive OS signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Channel to receive server errors
	serverErrors := make(chan error, 1)

	// Start the server in a goroutine (so it doesn't block)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("database", s.config.DBPath),
			slog.String("avatarDir", s.config.AvatarDir),
			slog.String("directory", s.config.DirectoryAPIURL),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		// Give in-flight requests 30 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
