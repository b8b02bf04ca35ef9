package turn

import (
	"context"
	"sync"

	"github.com/lucky401/codex-autorunner-sub004/internal/api"
	"github.com/lucky401/codex-autorunner-sub004/internal/cache"
	"github.com/lucky401/codex-autorunner-sub004/internal/history"
	"github.com/lucky401/codex-autorunner-sub004/internal/models"
)

// Config is the per-surface configuration that used to be re-implemented
// logic in each chat surface: storage keys, event-log bounds, and the
// compact rendering flag are plain data here.
type Config struct {
	// HistoryPrefix namespaces persisted history keys, e.g. "chat:"
	HistoryPrefix string
	// MaxEvents / TrimEventsTo bound the in-memory event log
	MaxEvents    int
	TrimEventsTo int
	// Compact enables the condensed event summary for this surface
	Compact        bool
	CompactActions int
	CompactChars   int
}

// Manager owns one Session per target plus the active-target pointer,
// the shared history store, and the model-catalog cache. All three chat
// surfaces (document, ticket, workspace file) are instances of this one
// type with different Configs.
type Manager struct {
	client  *api.Client
	history *history.Store
	cfg     Config
	catalog *cache.Catalog

	mu       sync.Mutex
	sessions map[string]*Session
	active   string
	agent    string

	onChange func(Snapshot)
	flash    func(message, kind string)
}

// NewManager creates a session manager for one chat surface.
func NewManager(client *api.Client, store *history.Store, cfg Config) *Manager {
	return &Manager{
		client:   client,
		history:  store,
		cfg:      cfg,
		catalog:  cache.NewCatalog(0),
		sessions: make(map[string]*Session),
	}
}

// SetOnChange registers the render-model subscriber. It receives an
// immutable Snapshot on every state change of any session.
func (m *Manager) SetOnChange(fn func(Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
	for _, session := range m.sessions {
		session.onChange = fn
	}
}

// SetFlash registers the notification collaborator used to surface
// terminal errors.
func (m *Manager) SetFlash(fn func(message, kind string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flash = fn
	for _, session := range m.sessions {
		session.flash = fn
	}
}

// Session returns the session for a target, creating it on first
// interaction. The session persists, terminal state and event log
// included, until the thread is reset.
func (m *Manager) Session(target models.Target) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionLocked(target)
}

func (m *Manager) sessionLocked(target models.Target) *Session {
	key := target.Key()
	if session, ok := m.sessions[key]; ok {
		return session
	}
	session := newSession(target, m.client, m.history, m.cfg)
	session.onChange = m.onChange
	session.flash = m.flash
	m.sessions[key] = session
	return session
}

// SetTarget switches the active target, loading its persisted history and
// clearing its in-memory event log. History persists across switches;
// events do not.
func (m *Manager) SetTarget(target models.Target) (*Session, error) {
	messages, err := m.history.Load(m.cfg.HistoryPrefix + target.Key())
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	session := m.sessionLocked(target)
	m.active = target.Key()
	m.mu.Unlock()

	session.reset(messages)
	return session, nil
}

// Active returns the session for the active target, or nil when no target
// has been selected yet.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == "" {
		return nil
	}
	return m.sessions[m.active]
}

// ResetThread discards a target's persisted history and returns its
// session to idle.
func (m *Manager) ResetThread(target models.Target) error {
	if err := m.history.Delete(m.cfg.HistoryPrefix + target.Key()); err != nil {
		return err
	}
	m.mu.Lock()
	session, ok := m.sessions[target.Key()]
	m.mu.Unlock()
	if ok {
		session.reset(nil)
	}
	return nil
}

// Models returns the model catalog for an agent through the cache.
// Switching agents invalidates the other agents' cached catalogs.
func (m *Manager) Models(ctx context.Context, agent string) ([]string, error) {
	m.mu.Lock()
	if m.agent != agent {
		m.agent = agent
		m.catalog.InvalidateOthers(agent)
	}
	m.mu.Unlock()

	if cached, ok := m.catalog.Get(agent); ok {
		return cached, nil
	}
	fetched, err := m.client.Models(ctx, agent)
	if err != nil {
		return nil, err
	}
	m.catalog.Put(agent, fetched)
	return fetched, nil
}

// RefreshModels drops the cached catalog for an agent and refetches it.
func (m *Manager) RefreshModels(ctx context.Context, agent string) ([]string, error) {
	m.catalog.Invalidate(agent)
	return m.Models(ctx, agent)
}
