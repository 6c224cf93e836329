package room

import (
	"encoding/json"
	"errors"
	"time"
	"unicode/utf8"
)

// Protocol limits. Violations are reported to the offending client only.
const (
	MaxNameLength    = 32
	MaxMessageLength = 256
	ReplayLimit      = 100

	// PrivateIDLength is the length of a minted private room identifier
	// (256 bits of entropy, lowercase hex).
	PrivateIDLength = 64

	// AnonymousName is assigned when a handshake carries an empty name.
	AnonymousName = "anonymous"
)

// Event type discriminators carried in the "type" field of content events.
const (
	EventChat     = "chat"
	EventMousePos = "mousePos"
)

// Validation errors. The error text is the exact wire message clients see.
var (
	ErrNameTooLong    = errors.New("Name too long.")
	ErrMessageTooLong = errors.New("Message too long.")
	ErrInvalidRoomID  = errors.New("invalid room identifier")
)

// Position is a cursor location in canvas coordinates.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ClientFrame is the envelope for everything a client sends. Which fields are
// meaningful depends on the session state: before the handshake only Name is
// read; afterwards Type selects the content event.
type ClientFrame struct {
	Name    *string   `json:"name,omitempty"`
	Type    string    `json:"type,omitempty"`
	Message string    `json:"message,omitempty"`
	Pos     *Position `json:"pos,omitempty"`
	IsDown  bool      `json:"isDown,omitempty"`
	Color   string    `json:"color,omitempty"`
}

// ContentEvent is a stamped chat or mousePos event as broadcast and persisted.
// Readers must tolerate an absent isDown field (treated as false).
type ContentEvent struct {
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Message   string    `json:"message,omitempty"`
	Pos       *Position `json:"pos,omitempty"`
	IsDown    bool      `json:"isDown,omitempty"`
	Color     string    `json:"color,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// Server-to-client control frames.
type (
	// JoinedFrame announces a participant entering the room.
	JoinedFrame struct {
		Joined string `json:"joined"`
	}

	// QuitFrame announces a participant leaving the room.
	QuitFrame struct {
		Quit string `json:"quit"`
	}

	// ReadyFrame completes the handshake.
	ReadyFrame struct {
		Ready bool `json:"ready"`
	}

	// ErrorFrame reports a per-session problem to one client.
	ErrorFrame struct {
		Error string `json:"error"`
	}
)

// Retained reports whether a persisted backlog value survives replay.
// Only mousePos events captured mid-stroke (isDown true) are kept; everything
// else, including values that no longer parse, is evicted on the next replay.
func Retained(value []byte) bool {
	var ev ContentEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		return false
	}
	return ev.Type == EventMousePos && ev.IsDown
}

// TimestampKey formats a millisecond timestamp as an ISO-8601 UTC string.
// Keys built this way sort lexicographically in chronological order, which is
// what the backlog listing relies on.
func TimestampKey(millis int64) string {
	return time.UnixMilli(millis).UTC().Format("2006-01-02T15:04:05.000Z")
}

// ValidateRoomID accepts either a public room name (at most 32 characters) or
// a minted private identifier (64 lowercase hex characters).
func ValidateRoomID(id string) error {
	if id == "" {
		return ErrInvalidRoomID
	}
	if len(id) == PrivateIDLength {
		if !isLowerHex(id) {
			return ErrInvalidRoomID
		}
		return nil
	}
	if utf8.RuneCountInString(id) > MaxNameLength {
		return ErrInvalidRoomID
	}
	return nil
}

// IsPrivateID reports whether id is a minted private room identifier.
func IsPrivateID(id string) bool {
	return len(id) == PrivateIDLength && isLowerHex(id)
}

func isLowerHex(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

// ValidateName checks a handshake name against the protocol limit. The limit
// counts characters, not bytes, so multi-byte names are not penalized.
func ValidateName(name string) error {
	if utf8.RuneCountInString(name) > MaxNameLength {
		return ErrNameTooLong
	}
	return nil
}

// ValidateChatMessage checks a chat payload against the protocol limit,
// counted in characters.
func ValidateChatMessage(message string) error {
	if utf8.RuneCountInString(message) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}
