package room

import (
	"github.com/google/uuid"

	domain "github.com/example/canvas-room-server/domain/room"
)

// Session is one attached connection's room-side state. All fields are owned
// by the room actor; nothing outside the actor goroutine touches them after
// attach.
type Session struct {
	id   string
	conn domain.Conn

	// name is empty until the handshake completes.
	name string

	// quit marks the session dead; no further sends are attempted.
	quit bool

	// pending buffers frames that arrived before the handshake completed:
	// the roster, the backlog replay, and any broadcasts in between. Flushed
	// in arrival order when the session is named.
	pending [][]byte
}

func newSession(conn domain.Conn) *Session {
	return &Session{
		id:   uuid.New().String(),
		conn: conn,
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// Name returns the handshaken participant name, or "" before the handshake.
func (s *Session) Name() string {
	return s.name
}

func (s *Session) named() bool {
	return s.name != ""
}

func (s *Session) enqueue(data []byte) {
	s.pending = append(s.pending, data)
}
