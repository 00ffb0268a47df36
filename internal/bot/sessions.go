package bot

import "sync"

// Sessions serializes update handling per chat. Updates from different chats
// run concurrently; two updates from the same chat never interleave, which
// keeps form state transitions ordered.
type Sessions struct {
	mu       sync.Mutex
	chats    map[int64]*sync.Mutex
	awaiting map[int64]bool
}

func NewSessions() *Sessions {
	return &Sessions{
		chats:    make(map[int64]*sync.Mutex),
		awaiting: make(map[int64]bool),
	}
}

// SetAwaitingAuth marks whether the next plain message from the chat should
// be read as authorization credentials.
func (s *Sessions) SetAwaitingAuth(chatID int64, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v {
		s.awaiting[chatID] = true
		return
	}
	delete(s.awaiting, chatID)
}

func (s *Sessions) AwaitingAuth(chatID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.awaiting[chatID]
}

// Acquire locks the chat and returns its release func.
func (s *Sessions) Acquire(chatID int64) func() {
	s.mu.Lock()
	m, ok := s.chats[chatID]
	if !ok {
		m = &sync.Mutex{}
		s.chats[chatID] = m
	}
	s.mu.Unlock()

	m.Lock()
	return m.Unlock
}
