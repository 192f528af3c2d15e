package handlers

import (
	"context"
	"net/http"
	"time"

	"devsquad-chat/internal/middleware"
	"devsquad-chat/internal/utils"
	"devsquad-chat/internal/websocket"

	ws "github.com/gorilla/websocket"
)

// HandleWebSocket handles WebSocket connection requests. The token comes from
// the "token" query parameter because browsers cannot set headers on the
// handshake; an Authorization header is accepted too.
func (s *Server) HandleWebSocket() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Metrics.IncrementRequests("websocket")

		// 1. Authenticate before upgrading; failures are plain HTTP errors.
		token := r.URL.Query().Get("token")
		if token == "" {
			token, _ = middleware.BearerToken(r.Header.Get("Authorization"))
		}
		if token == "" {
			s.writeError(w, utils.NewUnauthorizedError("missing token"))
			return
		}

		verifyCtx, cancel := context.WithTimeout(r.Context(), s.RequestTimeout)
		identity, err := s.Verifier.Verify(verifyCtx, token)
		cancel()
		if err != nil {
			s.Logger.Debug("WebSocket auth rejected", "token", utils.TokenPrefix(token), "error", err)
			s.writeError(w, err)
			return
		}

		// 2. Upgrade connection
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// The upgrader has already written the HTTP error.
			s.Logger.Warn("WebSocket upgrade failed", "user_id", identity.ID, "error", err)
			return
		}

		// 3. Register first so chats opened from now on reach this
		// connection, then join every chat the user has not hidden. The hub
		// drops chats hidden or purged after registration from that list.
		client := websocket.NewClient(s.Hub, identity.ID, conn, s.Engine, s.Logger)
		if !s.Hub.RegisterClient(client) {
			conn.WriteControl(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
			conn.Close()
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.RequestTimeout)
		chatIDs, err := s.Service.ActiveChatIDs(ctx, identity.ID)
		cancel()
		if err != nil {
			s.Logger.Error("Failed to load chats for connection", "user_id", identity.ID, "error", err)
			s.Hub.UnregisterClient(client)
			conn.WriteControl(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseInternalServerErr, "failed to load chats"), time.Now().Add(time.Second))
			conn.Close()
			return
		}
		s.Hub.JoinRooms(client, chatIDs)
		s.Logger.Info("WebSocket connected", "user_id", identity.ID, "rooms", len(chatIDs))

		// 4. Start read and write pumps
		go client.WritePump()
		go client.ReadPump()
	}
}
