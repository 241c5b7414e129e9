package main

import (
	"fmt"
	"time"

	"github.com/teslashibe/go-callagent/pkg/web"
)

// TokenCmd prints a bearer token for the admin API.
type TokenCmd struct {
	Subject string        `short:"s" long:"subject" description:"token subject" default:"admin"`
	TTL     time.Duration `long:"ttl" description:"token lifetime" default:"24h"`
}

func (t *TokenCmd) Execute(_ []string) error {
	cfg, _, err := global.load()
	if err != nil {
		return err
	}
	token, err := web.IssueToken(cfg.AdminJWTSecret, t.Subject, t.TTL)
	if err != nil {
		return fmt.Errorf("ADMIN_JWT_SECRET is required: %w", err)
	}
	fmt.Println(token)
	return nil
}
