package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"statement-analyzer/internal/domain"
)

// Memory is an in-process session store for local runs and tests. Sessions
// live until the process exits.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
}

func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]*domain.Session)}
}

func (m *Memory) CreateSession(_ context.Context, s *domain.Session) error {
	if s == nil || strings.TrimSpace(s.ID) == "" {
		return errors.New("repository: CreateSession: session id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return fmt.Errorf("repository: CreateSession: session %q already exists", s.ID)
	}
	m.sessions[s.ID] = cloneSession(s)
	return nil
}

func (m *Memory) GetSession(_ context.Context, sessionID string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return cloneSession(s), nil
}

func (m *Memory) SaveSummary(_ context.Context, sessionID, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	s.Summary = summary
	return nil
}

func (m *Memory) AppendMessages(_ context.Context, sessionID string, offset int, msgs ...domain.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if offset != len(s.History) {
		return fmt.Errorf("repository: AppendMessages: offset %d does not match history length %d", offset, len(s.History))
	}
	s.History = append(s.History, msgs...)
	return nil
}

func cloneSession(s *domain.Session) *domain.Session {
	cp := *s
	cp.Table = s.Table.Clone()
	if s.Ratios != nil {
		r := *s.Ratios
		cp.Ratios = &r
	}
	cp.History = append([]domain.ChatMessage(nil), s.History...)
	return &cp
}
