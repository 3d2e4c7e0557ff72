package session

import (
	"sync"
	"time"
)

// Greeting is the assistant turn a fresh or reset session starts with.
const Greeting = "Hello, I am a bot. How can I help you?"

// Role identifies who produced a turn.
type Role string

const (
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
)

// Turn represents a single message in the transcript
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTurn stamps a turn with the current time
func NewTurn(role Role, content string) Turn {
	return Turn{Role: role, Content: content, Timestamp: time.Now()}
}

// Session is the ordered, append-only conversation of one elicitation.
// It must not be mutated by more than one in-flight request at a time.
type Session struct {
	ID        string    `json:"id"`
	StartTime time.Time `json:"start_time"`
	Backend   string    `json:"backend"`

	mu    sync.Mutex
	turns []Turn
}

// New creates a session that starts with the greeting turn
func New(id, backend string) *Session {
	s := &Session{ID: id, StartTime: time.Now(), Backend: backend}
	s.Reset()
	return s
}

// Restore rebuilds a session from persisted turns without adding a greeting
func Restore(id, backend string, startTime time.Time, turns []Turn) *Session {
	return &Session{
		ID:        id,
		StartTime: startTime,
		Backend:   backend,
		turns:     append([]Turn(nil), turns...),
	}
}

// Append adds a turn at the end of the transcript
func (s *Session) Append(t Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, t)
}

// History returns a copy of the transcript in chronological order
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.turns...)
}

// Len returns the number of turns
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// Reset drops all turns and leaves only the greeting
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = []Turn{NewTurn(RoleAssistant, Greeting)}
}
