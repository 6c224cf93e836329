package room

import (
	"context"
	"log"
	"log/slog"
	"time"

	"github.com/go-monolith/mono"

	domain "github.com/example/canvas-room-server/domain/room"
	"github.com/example/canvas-room-server/events"
)

// Module hosts the room registry and publishes lifecycle events.
type Module struct {
	store    domain.BacklogStore
	registry *Registry
	eventBus mono.EventBus
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.EventBusAwareModule   = (*Module)(nil)
	_ mono.EventEmitterModule    = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
	_ LifecycleNotifier          = (*Module)(nil)
)

// NewModule creates the room module on the given backlog store.
func NewModule(store domain.BacklogStore) *Module {
	return &Module{store: store}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "room"
}

// SetEventBus receives the EventBus from the framework.
func (m *Module) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// EmitEvents declares the events this module can emit.
func (m *Module) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.RoomOpenedV1.ToBase(),
		events.RoomClosedV1.ToBase(),
		events.ParticipantJoinedV1.ToBase(),
		events.ParticipantLeftV1.ToBase(),
	}
}

// Start creates the registry.
func (m *Module) Start(_ context.Context) error {
	m.registry = NewRegistry(m.store, m, slog.Default())
	log.Println("[room] Module started")
	return nil
}

// Stop drains every live room.
func (m *Module) Stop(_ context.Context) error {
	if m.registry != nil {
		rooms, sessions := m.registry.Counts()
		m.registry.StopAll()
		log.Printf("[room] Module stopped - drained %d rooms, %d sessions", rooms, sessions)
	}
	return nil
}

// Health reports live room and session counts.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	if m.registry == nil {
		return mono.HealthStatus{Healthy: false, Message: "registry not started"}
	}
	rooms, sessions := m.registry.Counts()
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"rooms":    rooms,
			"sessions": sessions,
		},
	}
}

// Registry returns the room registry for the API module to use.
func (m *Module) Registry() *Registry {
	return m.registry
}

// LifecycleNotifier implementation: each notification becomes an EventBus
// publish. The bus is absent in tests; publishing is skipped then.

func (m *Module) RoomOpened(roomID string) {
	if m.eventBus == nil {
		return
	}
	event := events.RoomOpenedEvent{
		RoomID:    roomID,
		Private:   domain.IsPrivateID(roomID),
		Timestamp: time.Now(),
	}
	if err := events.RoomOpenedV1.Publish(m.eventBus, event, nil); err != nil {
		slog.Warn("Failed to publish RoomOpened event", "error", err)
	}
}

func (m *Module) RoomClosed(roomID string) {
	if m.eventBus == nil {
		return
	}
	event := events.RoomClosedEvent{
		RoomID:    roomID,
		Timestamp: time.Now(),
	}
	if err := events.RoomClosedV1.Publish(m.eventBus, event, nil); err != nil {
		slog.Warn("Failed to publish RoomClosed event", "error", err)
	}
}

func (m *Module) ParticipantJoined(roomID, name string) {
	if m.eventBus == nil {
		return
	}
	event := events.ParticipantJoinedEvent{
		RoomID:    roomID,
		Name:      name,
		Timestamp: time.Now(),
	}
	if err := events.ParticipantJoinedV1.Publish(m.eventBus, event, nil); err != nil {
		slog.Warn("Failed to publish ParticipantJoined event", "error", err)
	}
}

func (m *Module) ParticipantLeft(roomID, name string) {
	if m.eventBus == nil {
		return
	}
	event := events.ParticipantLeftEvent{
		RoomID:    roomID,
		Name:      name,
		Timestamp: time.Now(),
	}
	if err := events.ParticipantLeftV1.Publish(m.eventBus, event, nil); err != nil {
		slog.Warn("Failed to publish ParticipantLeft event", "error", err)
	}
}
