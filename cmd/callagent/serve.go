package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/gops/agent"

	"github.com/teslashibe/go-callagent/pkg/session"
	"github.com/teslashibe/go-callagent/pkg/web"
)

const shutdownTimeout = 20 * time.Second

// ServeCmd runs the admin API and the webhook that starts a session for
// every incoming call.
// Usage: callagent serve --addr :8080
type ServeCmd struct {
	Addr string `short:"a" long:"addr" description:"listen address (overrides HTTP_ADDR)"`
	Gops bool   `long:"gops" description:"start the gops diagnostics agent"`
}

func (s *ServeCmd) Execute(_ []string) error {
	cfg, logger, err := global.loadValid()
	if err != nil {
		return err
	}
	if s.Addr != "" {
		cfg.HTTPAddr = s.Addr
	}
	if s.Gops {
		if err := agent.Listen(agent.Options{}); err != nil {
			logger.Warn("gops agent not started", "error", err)
		} else {
			defer agent.Close()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	mgr := session.NewManager(ctx, a.sessionConfig(), a.sessionDeps())
	srv := web.NewServer(web.Config{
		Addr:             cfg.HTTPAddr,
		JWTSecret:        cfg.AdminJWTSecret,
		LiveKitAPIKey:    cfg.LiveKitAPIKey,
		LiveKitAPISecret: cfg.LiveKitAPISecret,
		Logger:           logger,
	}, mgr)

	errc := make(chan error, 1)
	go func() { errc <- srv.Start(ctx) }()
	logger.Info("call agent ready", "agent", cfg.AgentName, "addr", cfg.HTTPAddr)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin api stopped", "error", err)
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := mgr.Shutdown(sctx); err != nil {
		logger.Warn("sessions still running at shutdown", "error", err)
	}
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn("admin api shutdown", "error", err)
	}
	return err
}
