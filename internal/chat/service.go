package chat

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"devsquad-chat/internal/database"
	"devsquad-chat/internal/models"
	"devsquad-chat/internal/utils"

	"github.com/google/uuid"
)

// RoomManager is the part of the realtime gateway the service drives when
// membership changes.
type RoomManager interface {
	JoinRoom(userID, chatID uuid.UUID)
	LeaveRoom(userID, chatID uuid.UUID)
	CloseRoom(chatID uuid.UUID)
}

// Service is shared by the HTTP and socket mounts so both enforce the same
// rules.
type Service struct {
	store   database.ChatStore
	rooms   RoomManager
	logger  *slog.Logger
	metrics *utils.MetricsCollector
}

func NewService(store database.ChatStore, rooms RoomManager, logger *slog.Logger, metrics *utils.MetricsCollector) *Service {
	return &Service{store: store, rooms: rooms, logger: logger, metrics: metrics}
}

// OpenOrRestore resolves the direct chat between the two users. A new chat
// puts both users' live connections in its room; a restore only the
// requester's.
func (s *Service) OpenOrRestore(ctx context.Context, requesterID, otherUserID uuid.UUID) (uuid.UUID, error) {
	startTime := time.Now()
	if otherUserID == uuid.Nil {
		return uuid.Nil, utils.NewInvalidInputError("other_user_id is required")
	}
	if otherUserID == requesterID {
		return uuid.Nil, utils.NewInvalidInputError("cannot open a chat with yourself")
	}

	chatID, created, err := s.store.FindOrCreateDirectChat(ctx, requesterID, otherUserID)
	if err != nil {
		return uuid.Nil, err
	}

	s.rooms.JoinRoom(requesterID, chatID)
	if created {
		s.rooms.JoinRoom(otherUserID, chatID)
		s.logger.Info("Created direct chat", "chat_id", chatID, "user_id", requesterID, "other_user_id", otherUserID)
	}

	s.metrics.AddOperationLatency("open_chat", time.Since(startTime))
	return chatID, nil
}

// AppendMessage persists a message under senderID. The sender must hold a
// membership in the chat, hidden or not.
func (s *Service) AppendMessage(ctx context.Context, chatID, senderID uuid.UUID, content string, attachments models.Attachments) (*models.Message, error) {
	startTime := time.Now()
	if chatID == uuid.Nil {
		return nil, utils.NewInvalidInputError("chat_id is required")
	}
	if strings.TrimSpace(content) == "" {
		return nil, utils.NewInvalidInputError("content is required")
	}

	if _, err := s.store.GetParticipant(ctx, chatID, senderID); err != nil {
		if utils.IsErrorCode(err, utils.ErrNotFound) {
			return nil, utils.NewAppError(utils.ErrForbidden, "not a participant of this chat", nil)
		}
		return nil, err
	}

	msg, err := s.store.SaveMessage(ctx, &models.Message{
		ChatID:      chatID,
		SenderID:    senderID,
		Content:     content,
		Attachments: attachments,
	})
	if err != nil {
		return nil, err
	}

	s.metrics.MessageSent()
	s.metrics.AddOperationLatency("append_message", time.Since(startTime))
	return msg, nil
}

// ListMessages returns the full history and marks it read for userID, which
// also un-hides the chat for them.
func (s *Service) ListMessages(ctx context.Context, chatID, userID uuid.UUID) ([]*models.Message, error) {
	startTime := time.Now()
	participant, err := s.store.GetParticipant(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}

	messages, err := s.store.GetChatMessages(ctx, chatID)
	if err != nil {
		return nil, err
	}
	// Only what was returned counts as read; later appends stay unread.
	var readUpTo time.Time
	if len(messages) > 0 {
		readUpTo = messages[len(messages)-1].CreatedAt
	}
	if err := s.store.MarkChatRead(ctx, chatID, userID, readUpTo); err != nil {
		return nil, err
	}
	if participant.IsDeleted {
		s.rooms.JoinRoom(userID, chatID)
	}

	s.metrics.AddOperationLatency("list_messages", time.Since(startTime))
	return messages, nil
}

// ListChats builds the conversation list for userID.
func (s *Service) ListChats(ctx context.Context, userID uuid.UUID) ([]*models.ChatPreview, error) {
	startTime := time.Now()
	previews, err := s.store.GetChatPreviews(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.metrics.AddOperationLatency("list_chats", time.Since(startTime))
	return previews, nil
}

// UnreadTotal sums unread counts over the user's active chats.
func (s *Service) UnreadTotal(ctx context.Context, userID uuid.UUID) (int, error) {
	previews, err := s.ListChats(ctx, userID)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, p := range previews {
		total += p.UnreadCount
	}
	return total, nil
}

// HideChat hides the chat for userID and reports whether it was purged
// because nobody retains it anymore.
func (s *Service) HideChat(ctx context.Context, chatID, userID uuid.UUID) (bool, error) {
	startTime := time.Now()
	purged, err := s.store.HideChat(ctx, chatID, userID)
	if err != nil {
		return false, err
	}

	s.rooms.LeaveRoom(userID, chatID)
	if purged {
		s.rooms.CloseRoom(chatID)
		s.metrics.ChatPurged()
		s.logger.Info("Chat purged", "chat_id", chatID, "last_user_id", userID)
	}

	s.metrics.AddOperationLatency("hide_chat", time.Since(startTime))
	return purged, nil
}

// ActiveChatIDs lists the rooms a connecting user joins.
func (s *Service) ActiveChatIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	return s.store.GetActiveChatIDs(ctx, userID)
}
