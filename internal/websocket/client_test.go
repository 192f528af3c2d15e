package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"devsquad-chat/internal/models"
	"devsquad-chat/internal/utils"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	chatID   uuid.UUID
	senderID uuid.UUID
	content  string
}

type fakeSender struct {
	mu    sync.Mutex
	calls []sentMessage
	err   error
}

func (f *fakeSender) SendMessage(ctx context.Context, chatID, senderID uuid.UUID, content string, attachments models.Attachments) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sentMessage{chatID, senderID, content})
	if f.err != nil {
		return nil, f.err
	}
	return &models.Message{ID: uuid.New(), ChatID: chatID, SenderID: senderID, Content: content, Attachments: attachments}, nil
}

func (f *fakeSender) sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.calls...)
}

// dialClient serves one websocket connection for userID and returns the
// dialed peer.
func dialClient(t *testing.T, userID uuid.UUID, sender MessageSender) *websocket.Conn {
	t.Helper()
	hub, _ := startHub(t)
	upgrader := websocket.Upgrader{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(hub, userID, conn, sender, utils.NopLogger())
		if !hub.RegisterClient(client) {
			conn.Close()
			return
		}
		go client.WritePump()
		go client.ReadPump()
	}))
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame Frame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestClient_SendMessageAck(t *testing.T) {
	userID, chatID := uuid.New(), uuid.New()
	sender := &fakeSender{}
	conn := dialClient(t, userID, sender)

	// A sender_id in the payload is ignored.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(
		`{"event":"send_message","ack":7,"data":{"chat_id":"`+chatID.String()+`","content":"hi","sender_id":"`+uuid.NewString()+`"}}`,
	)))

	frame := readFrame(t, conn)
	assert.Equal(t, EventAck, frame.Event)
	assert.JSONEq(t, `7`, string(frame.Ack))

	var ack struct {
		OK      bool           `json:"ok"`
		Message models.Message `json:"message"`
	}
	require.NoError(t, json.Unmarshal(frame.Data, &ack))
	assert.True(t, ack.OK)
	assert.Equal(t, "hi", ack.Message.Content)
	assert.Equal(t, userID, ack.Message.SenderID)

	assert.Equal(t, []sentMessage{{chatID, userID, "hi"}}, sender.sent())
}

func TestClient_RejectsInvalidFrames(t *testing.T) {
	userID := uuid.New()
	sender := &fakeSender{}
	conn := dialClient(t, userID, sender)

	tests := []struct {
		name  string
		frame string
		event string
		code  string
	}{
		{"missing content", `{"event":"send_message","ack":"a1","data":{"chat_id":"` + uuid.NewString() + `"}}`, EventAck, utils.ErrInvalidInput},
		{"missing chat", `{"event":"send_message","ack":"a2","data":{"content":"hi"}}`, EventAck, utils.ErrInvalidInput},
		{"bad chat id", `{"event":"send_message","ack":"a3","data":{"chat_id":"nope","content":"hi"}}`, EventAck, utils.ErrInvalidInput},
		{"no data", `{"event":"send_message","ack":"a4"}`, EventAck, utils.ErrInvalidInput},
		{"unknown event", `{"event":"typing","ack":"a5"}`, EventAck, ErrUnknownEvent},
		{"no ack id", `{"event":"send_message","data":{"content":""}}`, EventError, utils.ErrInvalidInput},
		{"not json", `hello`, EventError, utils.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(tt.frame)))
			frame := readFrame(t, conn)
			assert.Equal(t, tt.event, frame.Event)
			var ack ErrorAck
			require.NoError(t, json.Unmarshal(frame.Data, &ack))
			assert.Equal(t, tt.code, ack.Error)
		})
	}

	// The connection stays open and nothing reached the sender.
	assert.Empty(t, sender.sent())
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(
		`{"event":"send_message","ack":1,"data":{"chat_id":"`+uuid.NewString()+`","content":"still open"}}`,
	)))
	assert.Equal(t, EventAck, readFrame(t, conn).Event)
}

func TestClient_SenderErrorBecomesAckCode(t *testing.T) {
	sender := &fakeSender{err: utils.NewAppError(utils.ErrForbidden, "not a participant", nil)}
	conn := dialClient(t, uuid.New(), sender)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(
		`{"event":"send_message","ack":3,"data":{"chat_id":"`+uuid.NewString()+`","content":"hi"}}`,
	)))
	frame := readFrame(t, conn)
	assert.JSONEq(t, `{"error":"FORBIDDEN"}`, string(frame.Data))
}
