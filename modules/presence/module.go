package presence

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"

	"github.com/example/canvas-room-server/events"
)

// Stats is a point-in-time view of the presence counters.
type Stats struct {
	ActiveRooms        int            `json:"active_rooms"`
	ActiveParticipants int            `json:"active_participants"`
	RoomsOpened        uint64         `json:"rooms_opened"`
	RoomsClosed        uint64         `json:"rooms_closed"`
	ParticipantsJoined uint64         `json:"participants_joined"`
	ParticipantsLeft   uint64         `json:"participants_left"`
	Rooms              map[string]int `json:"rooms"`
}

// Module is an EventConsumerModule tracking occupancy from room lifecycle
// events. It holds no references into the room module; everything it knows
// arrives over the bus.
type Module struct {
	mu          sync.RWMutex
	occupants   map[string]int
	roomsOpened uint64
	roomsClosed uint64
	joined      uint64
	left        uint64
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.EventConsumerModule   = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
)

// NewModule creates the presence module.
func NewModule() *Module {
	return &Module{
		occupants: make(map[string]int),
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "presence"
}

// Start starts the module.
func (m *Module) Start(_ context.Context) error {
	log.Println("[presence] Module started")
	return nil
}

// Stop stops the module.
func (m *Module) Stop(_ context.Context) error {
	log.Println("[presence] Module stopped")
	return nil
}

// Health reports the module's health.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	stats := m.Snapshot()
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"active_rooms":        stats.ActiveRooms,
			"active_participants": stats.ActiveParticipants,
		},
	}
}

// RegisterEventConsumers registers handlers for the room lifecycle events.
func (m *Module) RegisterEventConsumers(registry mono.EventRegistry) error {
	if err := helper.RegisterTypedEventConsumer(
		registry, events.RoomOpenedV1, m.handleRoomOpened, m,
	); err != nil {
		return fmt.Errorf("failed to register RoomOpened consumer: %w", err)
	}
	if err := helper.RegisterTypedEventConsumer(
		registry, events.RoomClosedV1, m.handleRoomClosed, m,
	); err != nil {
		return fmt.Errorf("failed to register RoomClosed consumer: %w", err)
	}
	if err := helper.RegisterTypedEventConsumer(
		registry, events.ParticipantJoinedV1, m.handleParticipantJoined, m,
	); err != nil {
		return fmt.Errorf("failed to register ParticipantJoined consumer: %w", err)
	}
	if err := helper.RegisterTypedEventConsumer(
		registry, events.ParticipantLeftV1, m.handleParticipantLeft, m,
	); err != nil {
		return fmt.Errorf("failed to register ParticipantLeft consumer: %w", err)
	}

	log.Println("[presence] Registered event consumers: RoomOpened, RoomClosed, ParticipantJoined, ParticipantLeft")
	return nil
}

func (m *Module) handleRoomOpened(_ context.Context, event events.RoomOpenedEvent, _ *mono.Msg) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roomsOpened++
	if _, ok := m.occupants[event.RoomID]; !ok {
		m.occupants[event.RoomID] = 0
	}
	return nil
}

func (m *Module) handleRoomClosed(_ context.Context, event events.RoomClosedEvent, _ *mono.Msg) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roomsClosed++
	delete(m.occupants, event.RoomID)
	return nil
}

func (m *Module) handleParticipantJoined(_ context.Context, event events.ParticipantJoinedEvent, _ *mono.Msg) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.joined++
	m.occupants[event.RoomID]++
	return nil
}

func (m *Module) handleParticipantLeft(_ context.Context, event events.ParticipantLeftEvent, _ *mono.Msg) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.left++
	if n, ok := m.occupants[event.RoomID]; ok && n > 0 {
		m.occupants[event.RoomID] = n - 1
	}
	return nil
}

// Snapshot returns a copy of the current counters.
func (m *Module) Snapshot() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rooms := make(map[string]int, len(m.occupants))
	participants := 0
	for id, n := range m.occupants {
		rooms[id] = n
		participants += n
	}
	return Stats{
		ActiveRooms:        len(m.occupants),
		ActiveParticipants: participants,
		RoomsOpened:        m.roomsOpened,
		RoomsClosed:        m.roomsClosed,
		ParticipantsJoined: m.joined,
		ParticipantsLeft:   m.left,
		Rooms:              rooms,
	}
}
