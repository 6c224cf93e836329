package events

import (
	"time"

	"github.com/go-monolith/mono/pkg/helper"
)

// RoomOpenedEvent is emitted when the first connection brings a room to life.
type RoomOpenedEvent struct {
	RoomID    string    `json:"room_id"`
	Private   bool      `json:"private"`
	Timestamp time.Time `json:"timestamp"`
}

// RoomClosedEvent is emitted when the last session detaches and the room is
// torn down.
type RoomClosedEvent struct {
	RoomID    string    `json:"room_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ParticipantJoinedEvent is emitted when a session completes its handshake.
type ParticipantJoinedEvent struct {
	RoomID    string    `json:"room_id"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
}

// ParticipantLeftEvent is emitted when a named session detaches or its
// connection is found dead during a broadcast.
type ParticipantLeftEvent struct {
	RoomID    string    `json:"room_id"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
}

// Event definitions for the room domain.
var (
	RoomOpenedV1 = helper.EventDefinition[RoomOpenedEvent](
		"room",
		"RoomOpened",
		"v1",
	)

	RoomClosedV1 = helper.EventDefinition[RoomClosedEvent](
		"room",
		"RoomClosed",
		"v1",
	)

	ParticipantJoinedV1 = helper.EventDefinition[ParticipantJoinedEvent](
		"room",
		"ParticipantJoined",
		"v1",
	)

	ParticipantLeftV1 = helper.EventDefinition[ParticipantLeftEvent](
		"room",
		"ParticipantLeft",
		"v1",
	)
)
