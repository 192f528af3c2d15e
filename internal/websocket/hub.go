package websocket

import (
	"log/slog"
	"sync"

	"devsquad-chat/internal/models"
	"devsquad-chat/internal/utils"

	"github.com/google/uuid"
)

type roomOpKind int

const (
	opJoin roomOpKind = iota
	opLeave
	opClose
	opJoinInitial
)

// roomOp changes room membership for every connection of a user, or drops a
// room entirely.
type roomOp struct {
	kind   roomOpKind
	userID uuid.UUID
	chatID uuid.UUID
	done   chan struct{} // closed once applied

	// opJoinInitial only
	client  *Client
	chatIDs []uuid.UUID
}

// roomMessage is a payload for every connection in one room.
type roomMessage struct {
	chatID  uuid.UUID
	payload []byte
}

// Hub maintains the set of active clients and the chat rooms they belong to.
// All state changes happen on the Run goroutine. Room changes return once
// applied, so a join followed by a broadcast always reaches the new member.
type Hub struct {
	// Registered clients. Maps user ID to a set of active client connections.
	Clients map[uuid.UUID]map[*Client]bool

	// Rooms maps chat ID to the connections that receive its messages.
	Rooms map[uuid.UUID]map[*Client]bool

	// Connections registered but not yet through JoinRooms.
	pending map[*Client]bool

	// Register requests from the clients.
	Register chan *Client

	// Unregister requests from clients.
	Unregister chan *Client

	roomOps   chan roomOp
	broadcast chan roomMessage
	done      chan struct{}
	stopOnce  sync.Once

	// Mutex to protect concurrent reads of the maps.
	mu sync.RWMutex

	logger  *slog.Logger
	metrics *utils.MetricsCollector
}

func NewHub(logger *slog.Logger, metrics *utils.MetricsCollector) *Hub {
	return &Hub{
		Clients:    make(map[uuid.UUID]map[*Client]bool),
		Rooms:      make(map[uuid.UUID]map[*Client]bool),
		pending:    make(map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		roomOps:    make(chan roomOp),
		broadcast:  make(chan roomMessage),
		done:       make(chan struct{}),
		logger:     logger,
		metrics:    metrics,
	}
}

// Run starts the hub's processing loop. It returns after Stop.
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case client := <-h.Register:
			h.register(client)

		case client := <-h.Unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()

		case op := <-h.roomOps:
			h.applyRoomOp(op)
			close(op.done)

		case msg := <-h.broadcast:
			h.deliver(msg)

		case <-h.done:
			h.mu.Lock()
			for _, userClients := range h.Clients {
				for client := range userClients {
					h.remove(client)
				}
			}
			h.mu.Unlock()
			h.logger.Info("WebSocket hub stopped")
			return
		}
	}
}

// Stop shuts the hub down and closes every connection's send channel.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.Clients[client.UserID]; !ok {
		h.Clients[client.UserID] = make(map[*Client]bool)
	}
	h.Clients[client.UserID][client] = true
	client.stale = make(map[uuid.UUID]bool)
	h.pending[client] = true
	h.metrics.ConnectionOpened()
	h.logger.Debug("WebSocket client registered", "user_id", client.UserID, "connections", len(h.Clients[client.UserID]))
}

// remove detaches a client from everything and closes its send channel.
// Safe to call twice; mu must be held.
func (h *Hub) remove(client *Client) {
	userClients, ok := h.Clients[client.UserID]
	if !ok || !userClients[client] {
		return
	}
	delete(userClients, client)
	if len(userClients) == 0 {
		delete(h.Clients, client.UserID)
	}
	for chatID := range client.rooms {
		h.leave(client, chatID)
	}
	client.stale = nil
	delete(h.pending, client)
	client.closeSend()
	h.metrics.ConnectionClosed()
	h.logger.Debug("WebSocket client unregistered", "user_id", client.UserID, "remaining", len(userClients))
}

func (h *Hub) leave(client *Client, chatID uuid.UUID) {
	delete(client.rooms, chatID)
	if members, ok := h.Rooms[chatID]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.Rooms, chatID)
		}
	}
}

func (h *Hub) applyRoomOp(op roomOp) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch op.kind {
	case opJoin:
		for client := range h.Clients[op.userID] {
			h.join(client, op.chatID)
		}
	case opLeave:
		for client := range h.Clients[op.userID] {
			h.leave(client, op.chatID)
			if client.stale != nil {
				client.stale[op.chatID] = true
			}
		}
	case opClose:
		for client := range h.Rooms[op.chatID] {
			delete(client.rooms, op.chatID)
		}
		delete(h.Rooms, op.chatID)
		for client := range h.pending {
			client.stale[op.chatID] = true
		}
	case opJoinInitial:
		client := op.client
		if !h.Clients[client.UserID][client] || client.stale == nil {
			return
		}
		for _, chatID := range op.chatIDs {
			if !client.stale[chatID] {
				h.join(client, chatID)
			}
		}
		client.stale = nil
		delete(h.pending, client)
	}
}

func (h *Hub) join(client *Client, chatID uuid.UUID) {
	if _, ok := h.Rooms[chatID]; !ok {
		h.Rooms[chatID] = make(map[*Client]bool)
	}
	h.Rooms[chatID][client] = true
	client.rooms[chatID] = true
}

func (h *Hub) deliver(msg roomMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.Rooms[msg.chatID] {
		select {
		case client.Send <- msg.payload:
		default:
			// A connection that cannot keep up is dropped; the client
			// reconnects and reloads history.
			h.logger.Warn("Send buffer full, dropping connection", "user_id", client.UserID, "chat_id", msg.chatID)
			h.remove(client)
		}
	}
}

// RegisterClient hands a new connection to the hub. It reports false when
// the hub is already stopped.
func (h *Hub) RegisterClient(client *Client) bool {
	select {
	case h.Register <- client:
		return true
	case <-h.done:
		return false
	}
}

// UnregisterClient detaches a connection. Unknown clients are ignored.
func (h *Hub) UnregisterClient(client *Client) {
	select {
	case h.Unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) submitRoomOp(op roomOp) {
	op.done = make(chan struct{})
	select {
	case h.roomOps <- op:
		<-op.done
	case <-h.done:
	}
}

// JoinRoom adds every live connection of userID to the chat's room.
func (h *Hub) JoinRoom(userID, chatID uuid.UUID) {
	h.submitRoomOp(roomOp{kind: opJoin, userID: userID, chatID: chatID})
}

// LeaveRoom removes every live connection of userID from the chat's room.
func (h *Hub) LeaveRoom(userID, chatID uuid.UUID) {
	h.submitRoomOp(roomOp{kind: opLeave, userID: userID, chatID: chatID})
}

// CloseRoom drops the room for a chat that no longer exists.
func (h *Hub) CloseRoom(chatID uuid.UUID) {
	h.submitRoomOp(roomOp{kind: opClose, chatID: chatID})
}

// JoinRooms joins a freshly registered connection to the chats its user held
// when it connected. Chats the user left, or that were closed, after the
// connection registered are skipped, since chatIDs may predate those changes.
// It has effect once per connection.
func (h *Hub) JoinRooms(client *Client, chatIDs []uuid.UUID) {
	h.submitRoomOp(roomOp{kind: opJoinInitial, client: client, chatIDs: chatIDs})
}

// BroadcastToRoom queues payload for every connection in the room.
func (h *Hub) BroadcastToRoom(chatID uuid.UUID, payload []byte) {
	select {
	case h.broadcast <- roomMessage{chatID: chatID, payload: payload}:
	case <-h.done:
	}
}

// BroadcastMessage sends a persisted message to its chat's room as a
// "message" event.
func (h *Hub) BroadcastMessage(msg *models.Message) {
	payload, err := EncodeFrame(EventMessage, nil, msg)
	if err != nil {
		h.logger.Error("Failed to encode message event", "chat_id", msg.ChatID, "error", err)
		return
	}
	h.BroadcastToRoom(msg.ChatID, payload)
}

// RoomSize reports how many connections are in a chat's room.
func (h *Hub) RoomSize(chatID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.Rooms[chatID])
}

// ConnectionCount reports how many live connections a user has.
func (h *Hub) ConnectionCount(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.Clients[userID])
}
