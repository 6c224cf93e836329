package room

import (
	"log/slog"
	"sync"

	domain "github.com/example/canvas-room-server/domain/room"
)

// LifecycleNotifier receives room lifecycle notifications. The room module
// implements it by publishing events; tests usually leave it nil.
type LifecycleNotifier interface {
	RoomOpened(roomID string)
	RoomClosed(roomID string)
	ParticipantJoined(roomID, name string)
	ParticipantLeft(roomID, name string)
}

type nopNotifier struct{}

func (nopNotifier) RoomOpened(string) {}

func (nopNotifier) RoomClosed(string) {}

func (nopNotifier) ParticipantJoined(string, string) {}

func (nopNotifier) ParticipantLeft(string, string) {}

// Registry places connections into room actors. It guarantees at most one
// live actor per room identifier and reaps actors once their last session
// detaches.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]*Actor
	store  domain.BacklogStore
	notify LifecycleNotifier
	logger *slog.Logger
}

// NewRegistry creates a registry on the given backlog store.
func NewRegistry(store domain.BacklogStore, notify LifecycleNotifier, logger *slog.Logger) *Registry {
	if notify == nil {
		notify = nopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		rooms:  make(map[string]*Actor),
		store:  store,
		notify: notify,
		logger: logger,
	}
}

// Attach validates the room identifier, places the connection into the
// room's actor (creating it on first contact), and returns the new session.
func (r *Registry) Attach(roomID string, conn domain.Conn) (*Actor, *Session, error) {
	if err := domain.ValidateRoomID(roomID); err != nil {
		return nil, nil, err
	}
	for {
		actor, created := r.actorFor(roomID)
		if created {
			r.notify.RoomOpened(roomID)
			r.logger.Info("Room opened", "room", roomID)
		}
		sess, err := actor.Attach(conn)
		if err == nil {
			return actor, sess, nil
		}
		// The actor drained between lookup and attach. Its shutdown removes
		// it from the map before Attach returns, so the retry gets a fresh
		// one.
	}
}

func (r *Registry) actorFor(roomID string) (*Actor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.rooms[roomID]; ok {
		return a, false
	}
	a := newActor(roomID, r.store, r.notify, r.release, r.logger)
	r.rooms[roomID] = a
	go a.run()
	return a, true
}

// release is the actor's empty-room callback. It runs on the actor goroutine
// just before the actor exits.
func (r *Registry) release(a *Actor) {
	r.mu.Lock()
	if cur, ok := r.rooms[a.id]; ok && cur == a {
		delete(r.rooms, a.id)
	}
	r.mu.Unlock()

	r.notify.RoomClosed(a.id)
	r.logger.Info("Room drained", "room", a.id)
}

// Occupancy reports how many sessions a room currently holds and whether the
// room is live at all.
func (r *Registry) Occupancy(roomID string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.rooms[roomID]
	if !ok {
		return 0, false
	}
	return a.SessionCount(), true
}

// Counts reports the number of live rooms and total attached sessions.
func (r *Registry) Counts() (rooms, sessions int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, a := range r.rooms {
		rooms++
		sessions += a.SessionCount()
	}
	return rooms, sessions
}

// StopAll shuts every actor down and waits for their persistence queues to
// drain.
func (r *Registry) StopAll() {
	r.mu.Lock()
	actors := make([]*Actor, 0, len(r.rooms))
	for _, a := range r.rooms {
		actors = append(actors, a)
	}
	r.rooms = make(map[string]*Actor)
	r.mu.Unlock()

	for _, a := range actors {
		a.Stop()
	}
}
