package web

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/livekit/protocol/livekit"
	"github.com/livekit/protocol/webhook"

	"github.com/teslashibe/go-callagent/pkg/participant"
)

// handleWebhook starts a session when a SIP caller joins a room and hangs
// up the room's session when LiveKit reports the room finished.
func (s *Server) handleWebhook(c *fiber.Ctx) error {
	if s.keys == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "webhook disabled")
	}
	req, err := adaptor.ConvertRequest(c, false)
	if err != nil {
		return err
	}
	ev, err := webhook.ReceiveWebhookEvent(req, s.keys)
	if err != nil {
		s.logger.Warn("rejected webhook", "error", err)
		return fiber.NewError(fiber.StatusUnauthorized, "invalid webhook signature")
	}
	s.dispatchWebhook(ev)
	return c.SendStatus(fiber.StatusOK)
}

func (s *Server) dispatchWebhook(ev *livekit.WebhookEvent) {
	roomName := ev.GetRoom().GetName()
	logger := s.logger.With("event", ev.GetEvent(), "room", roomName)

	switch ev.GetEvent() {
	case webhook.EventParticipantJoined:
		identity := ev.GetParticipant().GetIdentity()
		if !participant.IsSIP(identity) || roomName == "" {
			return
		}
		sess, err := s.sessions.Start(roomName)
		if err != nil {
			logger.Info("session not started", "participant", identity, "error", err)
			return
		}
		logger.Info("incoming call", "participant", identity, "session", sess.ID())

	case webhook.EventRoomFinished:
		sess, ok := s.sessions.Find(roomName)
		if !ok {
			return
		}
		if err := s.sessions.Hangup(context.Background(), sess.ID()); err != nil {
			logger.Warn("hangup after room finished", "error", err)
		}
	}
}
