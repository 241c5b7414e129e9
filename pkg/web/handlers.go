package web

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-callagent/pkg/hub"
	"github.com/teslashibe/go-callagent/pkg/session"
)

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "ok",
		"sessions": s.sessions.Len(),
		"watchers": s.events.ClientCount(),
	})
}

func (s *Server) handleListSessions(c *fiber.Ctx) error {
	return c.JSON(s.sessions.List())
}

func (s *Server) handleGetSession(c *fiber.Ctx) error {
	sess, ok := s.sessions.Get(c.Params("id"))
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, session.ErrNotFound.Error())
	}
	return c.JSON(sess.Info())
}

// StartRequest asks the agent to join a room.
type StartRequest struct {
	Room string `json:"room"`
}

func (s *Server) handleStartSession(c *fiber.Ctx) error {
	var req StartRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	req.Room = strings.TrimSpace(req.Room)
	if req.Room == "" {
		return fiber.NewError(fiber.StatusBadRequest, "room is required")
	}

	sess, err := s.sessions.Start(req.Room)
	switch {
	case errors.Is(err, session.ErrRoomActive):
		return c.Status(fiber.StatusConflict).JSON(sess.Info())
	case errors.Is(err, session.ErrManagerClosed):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	case err != nil:
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(sess.Info())
}

func (s *Server) handleHangup(c *fiber.Ctx) error {
	err := s.sessions.Hangup(c.UserContext(), c.Params("id"))
	switch {
	case errors.Is(err, session.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case err != nil:
		// The transport was closed instead; the call is still over.
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "ended", "warning": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "ended"})
}

func (s *Server) handleEventsWS(conn *websocket.Conn) {
	hub.NewClient(s.events, conn).Run()
}
