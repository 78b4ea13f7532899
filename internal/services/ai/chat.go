package ai

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// MaxChatHistory is how many turns are kept and replayed to the backend
const MaxChatHistory = 20

type sessionKey struct {
	owner uuid.UUID
	user  uuid.UUID
}

// ChatSession is the recent conversation of one user about one owner's content
type ChatSession struct {
	Messages     []ChatMessage
	LastActivity time.Time
}

// ChatSessions keeps conversation history in process memory for callers that do not
// send their own. Idle sessions are dropped by Sweep.
type ChatSessions struct {
	mu       sync.Mutex
	sessions map[sessionKey]*ChatSession
	now      func() time.Time
}

// NewChatSessions creates an empty session store
func NewChatSessions() *ChatSessions {
	return &ChatSessions{
		sessions: make(map[sessionKey]*ChatSession),
		now:      time.Now,
	}
}

// History returns a copy of the stored turns
func (s *ChatSessions) History(ownerID, userID uuid.UUID) []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionKey{ownerID, userID}]
	if !ok {
		return nil
	}
	out := make([]ChatMessage, len(session.Messages))
	copy(out, session.Messages)
	return out
}

// Append records an exchange and returns the resulting history length
func (s *ChatSessions) Append(ownerID, userID uuid.UUID, question, answer string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionKey{ownerID, userID}
	session, ok := s.sessions[key]
	if !ok {
		session = &ChatSession{}
		s.sessions[key] = session
	}
	session.Messages = append(session.Messages,
		ChatMessage{Role: RoleUser, Content: question},
		ChatMessage{Role: RoleAssistant, Content: answer},
	)
	session.Messages = TrimHistory(session.Messages)
	session.LastActivity = s.now()
	return len(session.Messages)
}

// Clear forgets the conversation
func (s *ChatSessions) Clear(ownerID, userID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionKey{ownerID, userID})
}

// Sweep drops sessions idle for longer than maxIdle and returns how many were removed
func (s *ChatSessions) Sweep(maxIdle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxIdle)
	removed := 0
	for key, session := range s.sessions {
		if session.LastActivity.Before(cutoff) {
			delete(s.sessions, key)
			removed++
		}
	}
	return removed
}

// TrimHistory keeps the last MaxChatHistory turns
func TrimHistory(history []ChatMessage) []ChatMessage {
	if len(history) <= MaxChatHistory {
		return history
	}
	trimmed := make([]ChatMessage, MaxChatHistory)
	copy(trimmed, history[len(history)-MaxChatHistory:])
	return trimmed
}
