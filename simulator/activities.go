package simulator

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"devsquad-chat/internal/websocket"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
)

// connection is one simulated user's websocket.
type connection struct {
	conn    *ws.Conn
	writeMu sync.Mutex
	nextAck int64
	done    chan struct{}
}

func (s *Simulator) connect(ctx context.Context, user *SimulatedUser) error {
	target, err := s.websocketURL(user.Token)
	if err != nil {
		return err
	}
	conn, _, err := ws.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return err
	}

	c := &connection{conn: conn, done: make(chan struct{})}
	user.mu.Lock()
	user.conn = c
	user.mu.Unlock()

	go s.readLoop(user, c)
	return nil
}

func (s *Simulator) disconnect(user *SimulatedUser) {
	user.mu.Lock()
	c := user.conn
	user.conn = nil
	user.mu.Unlock()
	if c == nil {
		return
	}
	c.writeMu.Lock()
	c.conn.WriteControl(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.conn.Close()
	<-c.done
}

func (s *Simulator) readLoop(user *SimulatedUser, c *connection) {
	defer close(c.done)
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			// The server closed us or we disconnected on purpose.
			user.mu.Lock()
			if user.conn == c {
				user.conn = nil
			}
			user.mu.Unlock()
			return
		}

		var frame websocket.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.logger.Warn("Undecodable frame", "user", user.ID, "error", err)
			continue
		}

		s.stats.mu.Lock()
		switch frame.Event {
		case websocket.EventMessage:
			s.stats.MessagesReceived++
		case websocket.EventAck:
			var ack websocket.SendMessageAck
			if json.Unmarshal(frame.Data, &ack) == nil && ack.OK {
				s.stats.MessagesAcked++
			} else {
				s.stats.RejectedSends++
			}
		case websocket.EventError:
			s.stats.RejectedSends++
		}
		s.stats.mu.Unlock()
	}
}

func (s *Simulator) sendMessage(user *SimulatedUser, chatID uuid.UUID, content string) error {
	user.mu.Lock()
	c := user.conn
	user.mu.Unlock()
	if c == nil {
		return nil
	}

	data, err := json.Marshal(websocket.SendMessagePayload{ChatID: chatID.String(), Content: content})
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	c.nextAck++
	frame := websocket.Frame{
		Event: websocket.EventSendMessage,
		Ack:   json.RawMessage(strconv.FormatInt(c.nextAck, 10)),
		Data:  data,
	}
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	err = c.conn.WriteJSON(frame)
	c.writeMu.Unlock()
	if err != nil {
		return err
	}

	s.stats.mu.Lock()
	s.stats.MessagesSent++
	s.stats.mu.Unlock()
	return nil
}

// messageInterval spreads MessageFrequency across all users.
func (s *Simulator) messageInterval() time.Duration {
	perMinute := s.config.MessageFrequency * float64(len(s.users))
	if perMinute <= 0 {
		return time.Second
	}
	interval := time.Duration(float64(time.Minute) / perMinute)
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	return interval
}

func (s *Simulator) simulateMessaging(ctx context.Context) {
	ticker := time.NewTicker(s.messageInterval())
	defer ticker.Stop()
	zipf := s.newZipf()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		idx := s.intn(len(s.users))
		user := s.users[idx]
		if !user.connected() {
			continue
		}

		user.mu.Lock()
		chats := append([]uuid.UUID(nil), user.chats...)
		user.mu.Unlock()

		if len(chats) == 0 {
			peer := s.users[s.pickPeer(zipf, idx)]
			if _, err := s.openChat(ctx, user, peer); err != nil && ctx.Err() == nil {
				s.logger.Debug("Open chat failed", "user", user.ID, "error", err)
			}
			continue
		}

		chatID := chats[s.intn(len(chats))]
		if s.chance(s.config.HideRate) {
			s.hideChat(ctx, user, chatID)
			continue
		}
		if err := s.sendMessage(user, chatID, randomLine(s)); err != nil {
			s.logger.Debug("Send failed", "user", user.ID, "chat", chatID, "error", err)
		}
	}
}

func (s *Simulator) hideChat(ctx context.Context, user *SimulatedUser, chatID uuid.UUID) {
	if err := s.makeRequest(ctx, user, http.MethodDelete, "/chat/"+chatID.String(), nil, nil); err != nil {
		if ctx.Err() == nil {
			s.logger.Debug("Hide chat failed", "user", user.ID, "chat", chatID, "error", err)
		}
		return
	}
	s.forget(user, chatID)
	s.stats.mu.Lock()
	s.stats.ChatsHidden++
	s.stats.mu.Unlock()
}

func (s *Simulator) simulateConnectivity(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for _, user := range s.users {
			if user.connected() {
				if s.chance(s.config.DisconnectRate) {
					s.disconnect(user)
				}
			} else if s.chance(s.config.ReconnectRate) {
				if err := s.connect(ctx, user); err != nil && ctx.Err() == nil {
					s.logger.Debug("Reconnect failed", "user", user.ID, "error", err)
				}
			}
		}
	}
}

var lines = []string{
	"hey, got a minute?",
	"pushed the fix, can you review?",
	"standup moved to 10",
	"lgtm",
	"which branch is that on?",
	"the build is green again",
	"pairing after lunch?",
	"ship it",
}

func randomLine(s *Simulator) string {
	return lines[s.intn(len(lines))]
}
