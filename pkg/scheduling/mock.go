package scheduling

import (
	"context"
	"fmt"
	"sync"

	"github.com/teslashibe/go-callagent/pkg/booking"
)

// Mock implements Scheduler for testing. Each method delegates to its Func
// field when set and records the call either way.
type Mock struct {
	AvailabilityFunc func(ctx context.Context, date string) (string, error)
	SaveProspectFunc func(ctx context.Context, p Prospect) (string, error)
	SlotsFunc        func(ctx context.Context) (string, error)
	BookFunc         func(ctx context.Context, s booking.Slots) (string, error)

	mu       sync.Mutex
	calls    []string
	bookings []booking.Slots
}

// NewMock creates a mock that succeeds with canned text.
func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) record(method string) {
	m.mu.Lock()
	m.calls = append(m.calls, method)
	m.mu.Unlock()
}

// CheckEngineerAvailability implements Scheduler.
func (m *Mock) CheckEngineerAvailability(ctx context.Context, date string) (string, error) {
	m.record("CheckEngineerAvailability")
	if m.AvailabilityFunc != nil {
		return m.AvailabilityFunc(ctx, date)
	}
	return fmt.Sprintf("Hay ingenieros disponibles el %s.", date), nil
}

// SaveProspect implements Scheduler.
func (m *Mock) SaveProspect(ctx context.Context, p Prospect) (string, error) {
	m.record("SaveProspect")
	if m.SaveProspectFunc != nil {
		return m.SaveProspectFunc(ctx, p)
	}
	return "Datos guardados.", nil
}

// ListAvailableSlots implements Scheduler.
func (m *Mock) ListAvailableSlots(ctx context.Context) (string, error) {
	m.record("ListAvailableSlots")
	if m.SlotsFunc != nil {
		return m.SlotsFunc(ctx)
	}
	return "Horarios disponibles: 2026-10-20 10:00.", nil
}

// BookAppointment implements Scheduler.
func (m *Mock) BookAppointment(ctx context.Context, s booking.Slots) (string, error) {
	m.record("BookAppointment")
	m.mu.Lock()
	m.bookings = append(m.bookings, s)
	m.mu.Unlock()
	if m.BookFunc != nil {
		return m.BookFunc(ctx, s)
	}
	return "Cita agendada.", nil
}

// Close implements Scheduler.
func (m *Mock) Close() error { return nil }

// Calls returns the recorded method names in order.
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// CallCount returns how many times method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == method {
			n++
		}
	}
	return n
}

// Bookings returns the slots passed to BookAppointment.
func (m *Mock) Bookings() []booking.Slots {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]booking.Slots(nil), m.bookings...)
}

var _ Scheduler = (*Mock)(nil)
