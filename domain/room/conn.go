package room

// Close codes sent when the server terminates a connection.
const (
	CloseGoingAway     = 1001
	CloseMessageTooBig = 1009
	CloseInternalError = 1011
)

// Conn is the transport half of a session as the room sees it: an ordered,
// best-effort byte sink. Implementations must be safe for use from a single
// goroutine at a time; the room actor is the only writer once a session is
// attached.
type Conn interface {
	// Send delivers one frame. A non-nil error marks the connection dead;
	// the room will not send to it again.
	Send(data []byte) error
	// Close terminates the connection with a close code and reason.
	Close(code int, reason string) error
}
