package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
)

var (
	ErrNotFound      = errors.New("session: not found")
	ErrRoomActive    = errors.New("session: room already has a session")
	ErrManagerClosed = errors.New("session: manager closed")
)

// Manager is the registry of live sessions.
type Manager struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	ctx    context.Context

	mu        sync.RWMutex
	sessions  map[string]*Session
	closed    bool
	observers []func(Event)

	wg sync.WaitGroup
}

// NewManager creates a manager. Sessions stop when ctx is done.
func NewManager(ctx context.Context, cfg Config, deps Deps) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		deps:     deps,
		logger:   cfg.Logger.With("component", "session.manager"),
		ctx:      ctx,
		sessions: make(map[string]*Session),
	}
}

// Subscribe adds an observer for every session's events. Observers run on
// the emitting goroutine and must not block.
func (m *Manager) Subscribe(fn func(Event)) {
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}

func (m *Manager) publish(ev Event) {
	m.mu.RLock()
	observers := m.observers
	m.mu.RUnlock()
	for _, fn := range observers {
		fn(ev)
	}
}

// Start launches a session for roomName. A room has at most one live
// session.
func (m *Manager) Start(roomName string) (*Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	for _, existing := range m.sessions {
		if existing.Room() == roomName {
			m.mu.Unlock()
			return existing, ErrRoomActive
		}
	}
	s := New(roomName, m.cfg, m.deps)
	s.OnEvent(m.publish)
	m.sessions[s.ID()] = s
	m.wg.Add(1)
	m.mu.Unlock()

	m.logger.Info("session started", "session", s.ID(), "room", roomName)
	go func() {
		defer m.wg.Done()
		if err := s.Run(m.ctx); err != nil {
			m.logger.Warn("session ended with error", "session", s.ID(), "error", err)
		}
		m.mu.Lock()
		delete(m.sessions, s.ID())
		m.mu.Unlock()
	}()
	return s, nil
}

// Get returns a live session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Find returns the live session for roomName.
func (m *Manager) Find(roomName string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if s.Room() == roomName {
			return s, true
		}
	}
	return nil, false
}

// List returns snapshots of the live sessions, oldest first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	infos := make([]Info, len(sessions))
	for i, s := range sessions {
		infos[i] = s.Info()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.Before(infos[j].CreatedAt) })
	return infos
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Hangup ends a session by id.
func (m *Manager) Hangup(ctx context.Context, id string) error {
	s, ok := m.Get(id)
	if !ok {
		return ErrNotFound
	}
	s.setReason("operator hangup")
	return s.Hangup(ctx)
}

// Shutdown hangs up every session and waits for them to terminate.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.setReason("shutdown")
		if err := s.Hangup(ctx); err != nil {
			m.logger.Warn("hangup during shutdown failed", "session", s.ID(), "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
