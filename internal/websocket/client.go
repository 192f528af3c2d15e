package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"devsquad-chat/internal/models"
	"devsquad-chat/internal/utils"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192

	// Outbound frames buffered per connection before it is dropped.
	sendBufferSize = 256
)

// MessageSender persists and broadcasts a message on behalf of a sender.
type MessageSender interface {
	SendMessage(ctx context.Context, chatID, senderID uuid.UUID, content string, attachments models.Attachments) (*models.Message, error)
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	Hub *Hub

	// The user ID this client represents.
	UserID uuid.UUID

	// The websocket connection.
	Conn *websocket.Conn

	// Buffered channel of outbound messages.
	Send chan []byte

	sender MessageSender
	logger *slog.Logger

	// Rooms this connection is in. Owned by the hub goroutine.
	rooms map[uuid.UUID]bool

	// stale collects chats left or closed between registration and the
	// initial JoinRooms; nil once that join has run. Owned by the hub.
	stale map[uuid.UUID]bool

	// sendMu orders queue against closeSend; the hub may drop a client
	// while its ReadPump is still replying.
	sendMu sync.Mutex
	closed bool

	// ctx bounds sends made on behalf of this connection; cancelled when
	// the hub drops it.
	ctx    context.Context
	cancel context.CancelFunc
}

func NewClient(hub *Hub, userID uuid.UUID, conn *websocket.Conn, sender MessageSender, logger *slog.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		Hub:    hub,
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, sendBufferSize),
		sender: sender,
		logger: logger.With("user_id", userID),
		rooms:  make(map[uuid.UUID]bool),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ReadPump pumps frames from the websocket connection and dispatches events.
// Sends are handled one at a time so a connection's messages keep their order.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.UnregisterClient(c)
		c.Conn.Close()
		c.logger.Debug("WebSocket ReadPump stopped")
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error", "error", err)
			}
			break
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.queue(EventError, nil, ErrorAck{Error: utils.ErrInvalidInput})
			continue
		}

		switch frame.Event {
		case EventSendMessage:
			c.handleSendMessage(frame)
		default:
			c.reply(frame, ErrorAck{Error: ErrUnknownEvent})
		}
	}
}

func (c *Client) handleSendMessage(frame Frame) {
	var payload SendMessagePayload
	if len(frame.Data) == 0 || json.Unmarshal(frame.Data, &payload) != nil {
		c.reply(frame, ErrorAck{Error: utils.ErrInvalidInput})
		return
	}
	chatID, err := uuid.Parse(payload.ChatID)
	if err != nil || payload.Content == "" {
		c.reply(frame, ErrorAck{Error: utils.ErrInvalidInput})
		return
	}

	// The sender is always the authenticated user, never the payload.
	msg, err := c.sender.SendMessage(c.ctx, chatID, c.UserID, payload.Content, payload.Attachments)
	if err != nil {
		appErr := utils.AsAppError(err)
		c.logger.Debug("send_message rejected", "chat_id", chatID, "code", appErr.Code, "error", err)
		c.reply(frame, ErrorAck{Error: appErr.Code})
		return
	}
	c.reply(frame, SendMessageAck{OK: true, Message: msg})
}

// reply acknowledges frame when the client asked for an acknowledgment, and
// falls back to an error event for failures it did not ask about.
func (c *Client) reply(frame Frame, data interface{}) {
	if len(frame.Ack) > 0 {
		c.queue(EventAck, frame.Ack, data)
		return
	}
	if errAck, ok := data.(ErrorAck); ok {
		c.queue(EventError, nil, errAck)
	}
}

func (c *Client) queue(event string, ack json.RawMessage, data interface{}) {
	payload, err := EncodeFrame(event, ack, data)
	if err != nil {
		c.logger.Error("Failed to encode frame", "event", event, "error", err)
		return
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.Send <- payload:
	default:
		c.logger.Warn("Send buffer full, dropping frame", "event", event)
	}
}

// closeSend closes Send exactly once. Called by the hub.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
		c.cancel()
	}
}

// WritePump pumps frames from the hub to the websocket connection, one
// websocket message per frame.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.logger.Debug("WebSocket WritePump stopped")
	}()
	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("WebSocket write error", "error", err)
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("WebSocket ping error", "error", err)
				return
			}
		}
	}
}
