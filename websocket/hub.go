package websocket

import (
	"encoding/json"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"cos-backend/metrics"
)

// Connection represents a WebSocket connection for a staff member watching an event's live attendance
type Connection struct {
	ID      string
	UserID  uuid.UUID
	EventID uuid.UUID
	Conn    *websocket.Conn
	Send    chan []byte
}

// Hub manages WebSocket connections and fans out scan results to event watchers
type Hub struct {
	connections map[string]*Connection
	eventUsers  map[uuid.UUID]map[uuid.UUID]*Connection // eventID -> userID -> connection
	register    chan *Connection
	unregister  chan *Connection
	mu          sync.RWMutex
	done        chan struct{}
}

// NewHub creates a new Hub instance for managing WebSocket connections
func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		eventUsers:  make(map[uuid.UUID]map[uuid.UUID]*Connection),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		done:        make(chan struct{}),
	}
}

// Close gracefully shuts down the hub. Only the done channel closes; the
// register/unregister channels stay open so connection goroutines racing
// with shutdown fall through the done case instead of panicking.
func (h *Hub) Close() {
	h.mu.Lock()
	select {
	case <-h.done:
		// already closed
	default:
		close(h.done)
	}
	h.mu.Unlock()
}

// RegisterConnection schedules a connection to be added to the hub.
// A no-op after Close.
func (h *Hub) RegisterConnection(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.done:
	}
}

// UnregisterConnection schedules a connection to be removed from the hub.
// A no-op after Close.
func (h *Hub) UnregisterConnection(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Run starts the Hub's main event loop for managing connections and broadcasts
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return
		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn

			if h.eventUsers[conn.EventID] == nil {
				h.eventUsers[conn.EventID] = make(map[uuid.UUID]*Connection)
			}
			h.eventUsers[conn.EventID][conn.UserID] = conn
			watchers := len(h.eventUsers[conn.EventID])
			total := len(h.connections)
			h.mu.Unlock()

			metrics.UpdateWebSocketConnections(total)

			// Everyone in the room sees the updated watcher count, including the newcomer
			h.broadcastToEvent(conn.EventID, WSMessage{
				Type:    "watchers",
				EventID: conn.EventID.String(),
				Content: WatchersMessage{
					Watchers: watchers,
					Status:   "joined",
				},
			}, uuid.Nil)

		case conn := <-h.unregister:
			h.mu.Lock()
			removed := false
			if _, exists := h.connections[conn.ID]; exists {
				delete(h.connections, conn.ID)
				if eventConns, exists := h.eventUsers[conn.EventID]; exists {
					delete(eventConns, conn.UserID)
					if len(eventConns) == 0 {
						delete(h.eventUsers, conn.EventID)
					}
				}
				close(conn.Send)
				removed = true
			}
			watchers := len(h.eventUsers[conn.EventID])
			total := len(h.connections)
			h.mu.Unlock()

			if removed {
				metrics.UpdateWebSocketConnections(total)

				h.broadcastToEvent(conn.EventID, WSMessage{
					Type:    "watchers",
					EventID: conn.EventID.String(),
					Content: WatchersMessage{
						Watchers: watchers,
						Status:   "left",
					},
				}, uuid.Nil)
			}
		}
	}
}

// BroadcastCheckIn pushes a completed check-in to everyone watching the event
func (h *Hub) BroadcastCheckIn(eventID uuid.UUID, checkIn CheckInMessage) {
	h.broadcastToEvent(eventID, WSMessage{
		Type:    "check_in",
		EventID: eventID.String(),
		Content: checkIn,
	}, uuid.Nil)
}

// BroadcastCounters pushes refreshed attendance counters to everyone watching the event
func (h *Hub) BroadcastCounters(eventID uuid.UUID, counters CountersMessage) {
	h.broadcastToEvent(eventID, WSMessage{
		Type:    "counters",
		EventID: eventID.String(),
		Content: counters,
	}, uuid.Nil)
}

// broadcastToEvent sends a message to all users watching a specific event,
// excluding the specified user ID. Pass uuid.Nil to reach everyone.
func (h *Hub) broadcastToEvent(eventID uuid.UUID, message WSMessage, excludeUserID uuid.UUID) {
	data, err := json.Marshal(message)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	eventConns := h.eventUsers[eventID]
	if eventConns == nil {
		return
	}

	for userID, conn := range eventConns {
		if excludeUserID == uuid.Nil || userID != excludeUserID {
			select {
			case conn.Send <- data:
			default:
				// Slow consumer: remove the connection entirely so the
				// unregister path never closes the channel a second time
				close(conn.Send)
				delete(eventConns, userID)
				delete(h.connections, conn.ID)
			}
		}
	}
}

// GetWatchers returns a list of user IDs currently watching a specific event
func (h *Hub) GetWatchers(eventID uuid.UUID) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	eventConns := h.eventUsers[eventID]
	if eventConns == nil {
		return []string{}
	}

	users := make([]string, 0, len(eventConns))
	for userID := range eventConns {
		users = append(users, userID.String())
	}
	return users
}
