package telephony

import (
	"context"
	"sync"
)

// Transfer records one TransferParticipant call.
type Transfer struct {
	Room        string
	Identity    string
	Destination string
}

// Mock implements Connector for testing.
type Mock struct {
	TransferErr error
	DeleteErr   error

	mu        sync.Mutex
	transfers []Transfer
	deleted   []string
}

// NewMock creates a mock connector that succeeds.
func NewMock() *Mock {
	return &Mock{}
}

// TransferParticipant records the transfer and returns TransferErr.
func (m *Mock) TransferParticipant(ctx context.Context, room, identity, destination string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transfers = append(m.transfers, Transfer{Room: room, Identity: identity, Destination: destination})
	return m.TransferErr
}

// DeleteRoom records the deletion and returns DeleteErr.
func (m *Mock) DeleteRoom(ctx context.Context, room string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, room)
	return m.DeleteErr
}

// Transfers returns every recorded transfer.
func (m *Mock) Transfers() []Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Transfer(nil), m.transfers...)
}

// Deleted returns every room passed to DeleteRoom.
func (m *Mock) Deleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

var _ Connector = (*Mock)(nil)
