package bot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSessionsSerializeSameChat(t *testing.T) {
	s := NewSessions()

	release := s.Acquire(1)
	acquired := make(chan struct{})
	go func() {
		r := s.Acquire(1)
		close(acquired)
		r()
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire on the same chat did not block")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire never proceeded after release")
	}
}

func TestSessionsIndependentChats(t *testing.T) {
	s := NewSessions()

	release := s.Acquire(1)
	defer release()

	done := make(chan struct{})
	go func() {
		r := s.Acquire(2)
		r()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("unrelated chat blocked")
	}
	require.Len(t, s.chats, 2)
}
