package api

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	domain "github.com/example/canvas-room-server/domain/room"
	"github.com/example/canvas-room-server/modules/presence"
	"github.com/example/canvas-room-server/modules/room"
)

// Handlers contains HTTP and WebSocket handlers.
type Handlers struct {
	registry *room.Registry
	presence *presence.Module
	logger   *slog.Logger
}

// NewHandlers creates a new handlers instance.
func NewHandlers(registry *room.Registry, presenceModule *presence.Module) *Handlers {
	return &Handlers{
		registry: registry,
		presence: presenceModule,
		logger:   slog.Default(),
	}
}

// wsConn adapts a Fiber WebSocket connection to the room's Conn contract.
// The mutex serializes the room actor against the setup-error path, which may
// both write to the socket.
type wsConn struct {
	mu sync.Mutex
	c  *websocket.Conn
}

func (w *wsConn) Send(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.c.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) Close(code int, reason string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	deadline := time.Now().Add(time.Second)
	_ = w.c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	return w.c.Close()
}

// HandleWebSocket runs one connection: attach to the room, pump inbound
// frames into the actor, detach when the read loop ends.
func (h *Handlers) HandleWebSocket(c *websocket.Conn) {
	roomID := c.Params("room")
	conn := &wsConn{c: c}

	actor, sess, err := h.registry.Attach(roomID, conn)
	if err != nil {
		rejectSocket(conn, err)
		return
	}

	defer func() {
		actor.Detach(sess)
		_ = c.Close()
	}()

	h.logger.Info("WebSocket connected", "room", roomID, "session", sess.ID())

	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket error", "room", roomID, "session", sess.ID(), "error", err)
			}
			break
		}
		actor.Forward(sess, msg)
	}

	h.logger.Info("WebSocket disconnected", "room", roomID, "session", sess.ID())
}

// rejectSocket reports a session-setup failure over an already-accepted
// socket. The upgrade has happened by the time the room can refuse the
// attach, so the rejection travels as a protocol error frame and the close
// reason names the actual problem.
func rejectSocket(conn domain.Conn, err error) {
	data, _ := json.Marshal(domain.ErrorFrame{Error: err.Error()})
	_ = conn.Send(data)
	_ = conn.Close(domain.CloseInternalError, err.Error())
}

// CreatePrivateRoom mints an unguessable room identifier (POST /api/v1/rooms).
// The room itself comes to life when the first connection attaches.
func (h *Handlers) CreatePrivateRoom(c *fiber.Ctx) error {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		h.logger.Error("Failed to mint room identifier", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error: "server_error",
		})
	}
	return c.Status(fiber.StatusCreated).JSON(CreateRoomResponse{
		ID:      hex.EncodeToString(buf),
		Private: true,
	})
}

// GetRoom reports one room's occupancy (GET /api/v1/rooms/:room).
func (h *Handlers) GetRoom(c *fiber.Ctx) error {
	roomID := c.Params("room")
	if err := domain.ValidateRoomID(roomID); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "invalid_room",
			Message: err.Error(),
		})
	}

	participants, active := h.registry.Occupancy(roomID)
	return c.JSON(RoomResponse{
		Room:         roomID,
		Active:       active,
		Participants: participants,
		Private:      domain.IsPrivateID(roomID),
	})
}

// GetStats reports the presence counters (GET /api/v1/stats).
func (h *Handlers) GetStats(c *fiber.Ctx) error {
	return c.JSON(h.presence.Snapshot())
}

// HealthCheck handles health check requests (GET /health).
func (h *Handlers) HealthCheck(c *fiber.Ctx) error {
	rooms, sessions := h.registry.Counts()
	return c.JSON(fiber.Map{
		"status":   "healthy",
		"service":  "canvas-room-server",
		"rooms":    rooms,
		"sessions": sessions,
	})
}
