package web

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "go-callagent"

var ErrNoSecret = errors.New("web: no signing secret")

// IssueToken signs an admin bearer token for subject.
func IssueToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", ErrNoSecret
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// VerifyToken checks signature, issuer and expiry and returns the subject.
func VerifyToken(secret, raw string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("verify token: %w", err)
	}
	return claims.Subject, nil
}

// requireToken accepts "Authorization: Bearer <jwt>" or, for websocket
// clients, a token query parameter.
func (s *Server) requireToken(c *fiber.Ctx) error {
	if s.cfg.JWTSecret == "" {
		return c.Next()
	}
	raw, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
	if !ok {
		raw = c.Query("token")
	}
	if raw == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
	}
	subject, err := VerifyToken(s.cfg.JWTSecret, strings.TrimSpace(raw))
	if err != nil {
		s.logger.Warn("rejected admin token", "path", c.Path(), "error", err)
		return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
	}
	c.Locals("subject", subject)
	return c.Next()
}
