package otr4

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionManager owns every Conversation a host has open, keyed by
// session id (spec §6 "a host may run many concurrent conversations").
// It is the top-level entry point a host embeds.
type SessionManager struct {
	cb Callbacks

	mu            sync.RWMutex
	conversations map[string]*Conversation
}

// NewSessionManager creates a manager bound to a single host Callbacks
// implementation, shared across every conversation it opens.
func NewSessionManager(cb Callbacks) *SessionManager {
	return &SessionManager{
		cb:            cb,
		conversations: make(map[string]*Conversation),
	}
}

// NewSessionID mints a fresh session id for a host that doesn't derive
// one from its own (account, protocol, peer) addressing scheme.
func NewSessionID() string {
	return uuid.NewString()
}

// Open implements `create_session(session_id)`, returning the existing
// conversation if one is already open under that id.
func (m *SessionManager) Open(id, localAccount, remoteAccount, protocolName string, tag uint32) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conversations[id]; ok {
		return c, nil
	}
	c, err := NewConversation(id, localAccount, remoteAccount, protocolName, tag, m.cb)
	if err != nil {
		return nil, err
	}
	m.conversations[id] = c
	return c, nil
}

// Get returns the conversation for id, if any.
func (m *SessionManager) Get(id string) (*Conversation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	return c, ok
}

// Close ends and discards the conversation for id.
func (m *SessionManager) Close(id string) error {
	m.mu.Lock()
	c, ok := m.conversations[id]
	delete(m.conversations, id)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	_, err := c.EndSession()
	return err
}

// Tick drives every open conversation's heartbeat/expiration timer
// (spec §6 `tick()`, intended to be called periodically by the host).
func (m *SessionManager) Tick(now time.Time) map[string][]string {
	m.mu.RLock()
	ids := make([]*Conversation, 0, len(m.conversations))
	for _, c := range m.conversations {
		ids = append(ids, c)
	}
	m.mu.RUnlock()

	out := make(map[string][]string)
	for _, c := range ids {
		msgs, err := c.Tick(now)
		if err != nil {
			continue
		}
		if len(msgs) > 0 {
			out[c.id] = msgs
		}
	}
	return out
}
