package session

import (
	"context"
	"sync"

	"github.com/lingolab/pairchat/backend/internal/config"
	"github.com/lingolab/pairchat/backend/internal/model/chat"
	"github.com/lingolab/pairchat/backend/internal/service/registry"
)

// Manager instantiates at most one coordinator per conversation id and
// tracks the live ones.
type Manager struct {
	ctx        context.Context
	cfg        config.SessionConfig
	recorder   Recorder
	translator Translator
	reg        *registry.Registry

	mu       sync.Mutex
	sessions map[int64]*Session
}

// NewManager wires a session manager. ctx bounds the lifetime of every
// session it starts.
func NewManager(ctx context.Context, cfg config.SessionConfig, recorder Recorder, translator Translator, reg *registry.Registry) *Manager {
	return &Manager{
		ctx:        ctx,
		cfg:        cfg,
		recorder:   recorder,
		translator: translator,
		reg:        reg,
		sessions:   make(map[int64]*Session),
	}
}

// Start launches the coordinator for a committed dyad. Starting the same
// conversation twice returns the original session's completion channel.
func (m *Manager) Start(dyad chat.Dyad, a, b *registry.Client) (<-chan struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[dyad.ConversationID]; ok {
		return existing.Done(), nil
	}

	s := newSession(dyad, a, b, m.recorder, m.translator, m.reg, m.cfg, m.remove)
	m.sessions[dyad.ConversationID] = s
	go s.run(m.ctx)
	return s.Done(), nil
}

func (m *Manager) remove(conversationID int64) {
	m.mu.Lock()
	delete(m.sessions, conversationID)
	m.mu.Unlock()
}

// ActiveCount reports how many conversations are currently running.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
