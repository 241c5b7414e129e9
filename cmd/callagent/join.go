package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-callagent/pkg/session"
)

// JoinCmd handles the call in one room and exits when it ends.
// Usage: callagent join --room call-123
type JoinCmd struct {
	Room string `short:"r" long:"room" description:"LiveKit room name" required:"true"`
}

func (j *JoinCmd) Execute(_ []string) error {
	cfg, logger, err := global.loadValid()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	sess := session.New(j.Room, a.sessionConfig(), a.sessionDeps())
	sess.OnEvent(func(ev session.Event) {
		if ev.Type == session.EventTranscript {
			logger.Info("transcript", "text", ev.Text)
		}
	})
	err = sess.Run(ctx)
	logger.Info("call finished", "reason", sess.Reason(), "turns", sess.Info().Turns)
	return err
}
