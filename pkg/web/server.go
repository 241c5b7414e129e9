// Package web is the admin API: health, live sessions, manual hangup, the
// LiveKit webhook that starts sessions for incoming calls, and a websocket
// feed of session events.
package web

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/livekit/protocol/auth"

	"github.com/teslashibe/go-callagent/pkg/hub"
	"github.com/teslashibe/go-callagent/pkg/session"
)

// Config configures the admin server.
type Config struct {
	Addr string

	// JWTSecret signs admin bearer tokens. Empty leaves /api open.
	JWTSecret string

	// LiveKit credentials verify webhook signatures. Empty disables the
	// webhook.
	LiveKitAPIKey    string
	LiveKitAPISecret string

	Logger *slog.Logger
}

// Server is the admin HTTP server.
type Server struct {
	app      *fiber.App
	cfg      Config
	logger   *slog.Logger
	sessions *session.Manager
	events   *hub.Hub
	keys     auth.KeyProvider
}

// NewServer builds the routes. Session events are published on the
// /ws/events feed.
func NewServer(cfg Config, sessions *session.Manager) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "web"),
		sessions: sessions,
		events:   hub.New("events", cfg.Logger),
	}
	if cfg.LiveKitAPIKey != "" && cfg.LiveKitAPISecret != "" {
		s.keys = auth.NewSimpleKeyProvider(cfg.LiveKitAPIKey, cfg.LiveKitAPISecret)
	}
	sessions.Subscribe(func(ev session.Event) {
		if err := s.events.BroadcastJSON(ev); err != nil {
			s.logger.Warn("event encode failed", "error", err)
		}
	})

	app := fiber.New(fiber.Config{
		AppName:               "go-callagent",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	app.Use(recover.New())
	app.Use(cors.New())

	app.Get("/healthz", s.handleHealth)
	app.Post("/webhook/livekit", s.handleWebhook)

	api := app.Group("/api", s.requireToken)
	api.Get("/sessions", s.handleListSessions)
	api.Post("/sessions", s.handleStartSession)
	api.Get("/sessions/:id", s.handleGetSession)
	api.Delete("/sessions/:id", s.handleHangup)

	app.Use("/ws", s.requireToken, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(s.handleEventsWS))

	s.app = app
	return s
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App { return s.app }

// Events is the session event hub.
func (s *Server) Events() *hub.Hub { return s.events }

// Start runs the event hub and serves until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	go s.events.Run(ctx)
	if s.cfg.JWTSecret == "" {
		s.logger.Warn("ADMIN_JWT_SECRET not set, admin API is unauthenticated")
	}
	if s.keys == nil {
		s.logger.Warn("livekit credentials missing, webhook disabled")
	}
	s.logger.Info("admin api listening", "addr", s.cfg.Addr)
	return s.app.Listen(s.cfg.Addr)
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
