package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"devsquad-chat/internal/middleware"
	"devsquad-chat/internal/models"
	"devsquad-chat/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// OpenChatRequest represents a request to open or restore a direct chat
type OpenChatRequest struct {
	OtherUserID string `json:"other_user_id"`
}

// requestScope returns the caller and a context bounded by RequestTimeout.
func (s *Server) requestScope(r *http.Request) (*models.Identity, context.Context, context.CancelFunc) {
	identity, _ := middleware.GetIdentityFromContext(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), s.RequestTimeout)
	return identity, ctx, cancel
}

func chatIDParam(r *http.Request) (uuid.UUID, error) {
	chatID, err := uuid.Parse(chi.URLParam(r, "chatId"))
	if err != nil {
		return uuid.Nil, utils.NewInvalidInputError("invalid chat id")
	}
	return chatID, nil
}

// HandleOpenChat handles POST /chat/open
func (s *Server) HandleOpenChat() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Metrics.IncrementRequests("open_chat")
		identity, ctx, cancel := s.requestScope(r)
		defer cancel()

		var req OpenChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, utils.NewInvalidInputError("invalid request body"))
			return
		}
		if req.OtherUserID == "" {
			s.writeError(w, utils.NewInvalidInputError("other_user_id is required"))
			return
		}
		otherUserID, err := uuid.Parse(req.OtherUserID)
		if err != nil {
			s.writeError(w, utils.NewInvalidInputError("invalid other_user_id"))
			return
		}

		chatID, err := s.Service.OpenOrRestore(ctx, identity.ID, otherUserID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]uuid.UUID{"chat_id": chatID})
	}
}

// HandleGetMessages handles GET /chat/{chatId}/messages. Reading marks the
// chat read for the caller.
func (s *Server) HandleGetMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Metrics.IncrementRequests("get_messages")
		identity, ctx, cancel := s.requestScope(r)
		defer cancel()

		chatID, err := chatIDParam(r)
		if err != nil {
			s.writeError(w, err)
			return
		}

		messages, err := s.Service.ListMessages(ctx, chatID, identity.ID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
	}
}

// HandleListChats handles GET /chats
func (s *Server) HandleListChats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Metrics.IncrementRequests("list_chats")
		identity, ctx, cancel := s.requestScope(r)
		defer cancel()

		chats, err := s.Service.ListChats(ctx, identity.ID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"chats": chats})
	}
}

// HandleUnreadCount handles GET /chats/unread
func (s *Server) HandleUnreadCount() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Metrics.IncrementRequests("unread_count")
		identity, ctx, cancel := s.requestScope(r)
		defer cancel()

		total, err := s.Service.UnreadTotal(ctx, identity.ID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"unread_count": total})
	}
}

// HandleDeleteChat handles DELETE /chat/{chatId}: hide for the caller, purge
// when nobody else retains it.
func (s *Server) HandleDeleteChat() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Metrics.IncrementRequests("delete_chat")
		identity, ctx, cancel := s.requestScope(r)
		defer cancel()

		chatID, err := chatIDParam(r)
		if err != nil {
			s.writeError(w, err)
			return
		}

		purged, err := s.Service.HideChat(ctx, chatID, identity.ID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if purged {
			s.Engine.ReleaseChat(chatID)
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}
