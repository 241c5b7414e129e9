// Package scheduling is the scheduling/CRM collaborator: engineer
// availability, prospect capture and appointment booking.
//
// Backends:
//   - MCP - tools served by the company's MCP server (streamable HTTP)
//   - Calendar - Google Calendar free/busy and events, leads in a JSON file
//   - Mock - CI/Testing
//
// Every method returns text the model can read back to the caller.
package scheduling

import (
	"context"
	"errors"
	"fmt"

	"github.com/teslashibe/go-callagent/pkg/booking"
)

// Prospect is an interested caller.
type Prospect struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Scheduler is implemented by every backend.
type Scheduler interface {
	// CheckEngineerAvailability reports whether engineers are free on date.
	CheckEngineerAvailability(ctx context.Context, date string) (string, error)

	// SaveProspect persists a lead.
	SaveProspect(ctx context.Context, p Prospect) (string, error)

	// ListAvailableSlots lists upcoming free meeting slots.
	ListAvailableSlots(ctx context.Context) (string, error)

	// BookAppointment commits a meeting. Callers must pass complete slots.
	BookAppointment(ctx context.Context, slots booking.Slots) (string, error)

	// Close releases backend resources.
	Close() error
}

var (
	// ErrInvalidRequest marks arguments the backend cannot interpret, such
	// as an unparseable date. The model can correct these.
	ErrInvalidRequest = errors.New("scheduling: invalid request")

	// ErrIncomplete is returned when BookAppointment receives partial slots.
	ErrIncomplete = errors.New("scheduling: incomplete booking")

	// ErrRemote marks a tool-level failure reported by the backend.
	ErrRemote = errors.New("scheduling: backend error")
)

// RemoteError carries the text of a tool-level failure reported by the
// backend. It matches ErrRemote.
type RemoteError struct {
	Tool    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%v: %s: %s", ErrRemote, e.Tool, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return ErrRemote
}
