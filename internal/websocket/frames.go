package websocket

import (
	"encoding/json"

	"devsquad-chat/internal/models"
)

// Event names carried in Frame.Event.
const (
	EventSendMessage = "send_message" // client -> server
	EventMessage     = "message"      // server -> room
	EventAck         = "ack"          // server -> sender, correlated by Frame.Ack
	EventError       = "error"        // server -> client, for frames without an ack id
)

// ErrUnknownEvent is the ack code for events the gateway does not handle.
const ErrUnknownEvent = "UNKNOWN_EVENT"

// Frame is the envelope of every websocket message in both directions. Ack is
// echoed back verbatim so clients may use numbers or strings.
type Frame struct {
	Event string          `json:"event"`
	Ack   json.RawMessage `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type SendMessagePayload struct {
	ChatID      string             `json:"chat_id"`
	Content     string             `json:"content"`
	Attachments models.Attachments `json:"attachments,omitempty"`
}

type SendMessageAck struct {
	OK      bool            `json:"ok"`
	Message *models.Message `json:"message"`
}

type ErrorAck struct {
	Error string `json:"error"`
}

// EncodeFrame builds the wire form of an outbound frame.
func EncodeFrame(event string, ack json.RawMessage, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Ack: ack, Data: raw})
}
