// Package session keeps the short-term chat context of each user: a pinned
// system prompt followed by a bounded window of recent turns.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Roles of a turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Config bounds the store.
type Config struct {
	// MaxTurns is the number of turns kept per session, oldest dropped
	// first. The system prompt does not count. Default: 400.
	MaxTurns int

	// IdleTTL is how long a session may go without activity before
	// EvictIdle removes it. Zero disables idle eviction.
	IdleTTL time.Duration

	// MaxSessions caps the number of live sessions. Creating one more
	// evicts the least recently used. Default: 1000.
	MaxSessions int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxTurns:    400,
		IdleTTL:     6 * time.Hour,
		MaxSessions: 1000,
	}
}

// Turn is one chat message.
type Turn struct {
	Role    string
	Content string
	At      time.Time
}

// Session is a snapshot of one user's context.
type Session struct {
	ID           string
	UserID       int64
	SystemPrompt string
	Turns        []Turn
	StartedAt    time.Time
	LastActive   time.Time
}

// Store holds sessions keyed by user ID in least-recently-used order.
// Appending or setting the prompt counts as use; reading History does not.
// It is safe for concurrent use.
type Store struct {
	// mu makes lookup plus mutation of a session atomic.
	mu       sync.Mutex
	cfg      Config
	sessions *lru.Cache[int64, *Session]
	now      func() time.Time
}

// NewStore returns an empty Store. Non-positive bounds select the defaults.
func NewStore(cfg Config) *Store {
	def := DefaultConfig()
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = def.MaxTurns
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = def.MaxSessions
	}
	if cfg.IdleTTL < 0 {
		cfg.IdleTTL = 0
	}
	// Only a non-positive size is rejected, and MaxSessions is positive here.
	sessions, _ := lru.New[int64, *Session](cfg.MaxSessions)
	return &Store{
		cfg:      cfg,
		sessions: sessions,
		now:      time.Now,
	}
}

// Append records a turn for userID, creating the session if needed, and
// returns the session ID.
func (s *Store) Append(userID int64, role, content string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess := s.getOrCreate(userID, now)
	sess.Turns = append(sess.Turns, Turn{Role: role, Content: content, At: now})
	if excess := len(sess.Turns) - s.cfg.MaxTurns; excess > 0 {
		// Copy so the dropped prefix can be collected.
		sess.Turns = append([]Turn(nil), sess.Turns[excess:]...)
	}
	sess.LastActive = now
	return sess.ID
}

// SetSystemPrompt pins prompt at the head of userID's context. It survives
// turn eviction and is replaced by the next call.
func (s *Store) SetSystemPrompt(userID int64, prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess := s.getOrCreate(userID, now)
	sess.SystemPrompt = prompt
	sess.LastActive = now
}

// History returns a copy of userID's session, or nil when there is none.
func (s *Store) History(userID int64) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions.Peek(userID)
	if !ok {
		return nil
	}
	cp := *sess
	cp.Turns = make([]Turn, len(sess.Turns))
	copy(cp.Turns, sess.Turns)
	return &cp
}

// Clear drops userID's session, system prompt included. It reports whether
// there was one.
func (s *Store) Clear(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sessions.Remove(userID)
}

// EvictIdle removes sessions inactive for longer than IdleTTL as of now and
// returns how many were removed.
func (s *Store) EvictIdle(now time.Time) int {
	if s.cfg.IdleTTL == 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, id := range s.sessions.Keys() {
		if sess, ok := s.sessions.Peek(id); ok && now.Sub(sess.LastActive) > s.cfg.IdleTTL {
			s.sessions.Remove(id)
			n++
		}
	}
	return n
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions.Len()
}

// getOrCreate must be called with mu held. Adding past MaxSessions evicts
// the least recently used session.
func (s *Store) getOrCreate(userID int64, now time.Time) *Session {
	if sess, ok := s.sessions.Get(userID); ok {
		return sess
	}
	sess := &Session{
		ID:         uuid.New().String(),
		UserID:     userID,
		StartedAt:  now,
		LastActive: now,
	}
	s.sessions.Add(userID, sess)
	return sess
}
