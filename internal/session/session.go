package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nfrag/internal/domain"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Turn is a retained question and its answer.
type Turn struct {
	Question string
	Answer   string
}

// Session is the conversation state of one client.
type Session struct {
	ClientID string    `json:"client_id"`
	Messages []Message `json:"messages"`
	// Pinned holds the preamble under PolicyPinned, outside the window.
	Pinned    *Message  `json:"pinned,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// History returns a copy of the retained messages, pinned preamble first.
func (s *Session) History() []Message {
	out := make([]Message, 0, len(s.Messages)+1)
	if s.Pinned != nil {
		out = append(out, *s.Pinned)
	}
	return append(out, s.Messages...)
}

// Turns returns the retained question/answer pairs, oldest first.
func (s *Session) Turns() []Turn {
	var turns []Turn
	for i := 0; i+1 < len(s.Messages); i++ {
		if s.Messages[i].Role == RoleUser && s.Messages[i+1].Role == RoleAssistant {
			turns = append(turns, Turn{Question: s.Messages[i].Content, Answer: s.Messages[i+1].Content})
			i++
		}
	}
	return turns
}

func (s *Session) clone() *Session {
	c := *s
	c.Messages = append([]Message(nil), s.Messages...)
	if s.Pinned != nil {
		p := *s.Pinned
		c.Pinned = &p
	}
	return &c
}

// Policy decides whether the preamble competes with exchanges for window space.
type Policy string

const (
	// PolicySliding keeps the last 2k messages, preamble included, so the
	// preamble is dropped once k exchanges have been recorded.
	PolicySliding Policy = "sliding"
	// PolicyPinned keeps the preamble forever and the last k exchanges after it.
	PolicyPinned Policy = "pinned"
)

const DefaultWindowSize = 3

// Store persists sessions. Get returns domain.ErrNotFound for unknown clients.
type Store interface {
	Get(ctx context.Context, clientID string) (*Session, error)
	Put(ctx context.Context, s *Session) error
	Len(ctx context.Context) (int, error)
}

type Config struct {
	WindowSize int
	Policy     Policy
	// Locker defaults to a LocalLocker.
	Locker Locker
}

// Manager owns session lifecycle and the rolling window.
type Manager struct {
	store  Store
	k      int
	policy Policy
	locker Locker
	now    func() time.Time
}

func NewManager(store Store, cfg Config) (*Manager, error) {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	switch cfg.Policy {
	case "":
		cfg.Policy = PolicySliding
	case PolicySliding, PolicyPinned:
	default:
		return nil, fmt.Errorf("unknown window policy %q", cfg.Policy)
	}
	if cfg.Locker == nil {
		cfg.Locker = NewLocalLocker()
	}
	return &Manager{store: store, k: cfg.WindowSize, policy: cfg.Policy, locker: cfg.Locker, now: time.Now}, nil
}

// WindowSize returns k, the number of retained exchanges.
func (m *Manager) WindowSize() int { return m.k }

// Lock serialises work on one client id. It is held from GetOrCreate to
// AppendTurn.
func (m *Manager) Lock(ctx context.Context, clientID string) (unlock func(), err error) {
	return m.locker.Lock(ctx, clientID)
}

// GetOrCreate returns the stored session or a fresh empty one. A fresh
// session is only persisted by AppendTurn.
func (m *Manager) GetOrCreate(ctx context.Context, clientID string) (*Session, error) {
	s, err := m.store.Get(ctx, clientID)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("get session: %w", err)
	}
	now := m.now()
	return &Session{ClientID: clientID, CreatedAt: now, UpdatedAt: now}, nil
}

// EnsurePreamble adds the system preamble when the session has no messages.
// It reports whether the preamble was injected.
func (m *Manager) EnsurePreamble(s *Session, preamble string) bool {
	if len(s.Messages) > 0 || s.Pinned != nil {
		return false
	}
	msg := Message{Role: RoleSystem, Content: preamble}
	if m.policy == PolicyPinned {
		s.Pinned = &msg
	} else {
		s.Messages = append(s.Messages, msg)
	}
	return true
}

// AppendTurn records an exchange, trims the window and persists the session.
func (m *Manager) AppendTurn(ctx context.Context, s *Session, question, answer string) error {
	s.Messages = append(s.Messages,
		Message{Role: RoleUser, Content: question},
		Message{Role: RoleAssistant, Content: answer},
	)
	if limit := 2 * m.k; len(s.Messages) > limit {
		s.Messages = append([]Message(nil), s.Messages[len(s.Messages)-limit:]...)
	}
	s.UpdatedAt = m.now()
	if err := m.store.Put(ctx, s); err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// Len returns the number of stored sessions.
func (m *Manager) Len(ctx context.Context) (int, error) {
	return m.store.Len(ctx)
}
