package sessions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/tether/pkg/models"
)

// MemoryStore provides an in-memory Store implementation for testing and
// ephemeral local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	logs     map[string][]*models.Message
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: map[string]*models.Session{},
		logs:     map[string][]*models.Message{},
	}
}

func (m *MemoryStore) LoadSession(ctx context.Context, id string) (*models.Session, []*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, nil, ErrNotFound
	}
	log := m.logs[id]
	out := make([]*models.Message, len(log))
	for i, msg := range log {
		out[i] = msg.Clone()
	}
	return cloneSession(session), out, nil
}

func (m *MemoryStore) SaveSession(ctx context.Context, session *models.Session, log []*models.Message) error {
	if session == nil {
		return ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := cloneSession(session)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
		session.ID = clone.ID
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.UpdatedAt = time.Now()
	m.sessions[clone.ID] = clone

	stored := make([]*models.Message, len(log))
	for i, msg := range log {
		stored[i] = msg.Clone()
	}
	m.logs[clone.ID] = stored
	return nil
}

func (m *MemoryStore) RollbackToMessage(ctx context.Context, sessionID, messageID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return 0, ErrNotFound
	}
	log := m.logs[sessionID]
	idx := -1
	for i, msg := range log {
		if msg.ID == messageID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, ErrMessageNotFound
	}
	removed := len(log) - idx
	m.logs[sessionID] = log[:idx]
	session.UpdatedAt = time.Now()
	return removed, nil
}

func (m *MemoryStore) List(ctx context.Context, opts ListOptions) ([]*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		out = append(out, cloneSession(session))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})

	start := opts.Offset
	if start < 0 {
		start = 0
	}
	if start > len(out) {
		return []*models.Session{}, nil
	}
	end := len(out)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	return out[start:end], nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	delete(m.logs, id)
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func cloneSession(session *models.Session) *models.Session {
	if session == nil {
		return nil
	}
	clone := *session
	if session.Metadata != nil {
		clone.Metadata = make(map[string]any, len(session.Metadata))
		for k, v := range session.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}
