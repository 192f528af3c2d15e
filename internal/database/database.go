// internal/database/database.go
package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"devsquad-chat/internal/config"
	"devsquad-chat/internal/models"

	"github.com/google/uuid"
)

// ChatStore is the conversation store. Every multi-statement sequence
// (find-or-create, hide-then-purge) is atomic inside a single call.
type ChatStore interface {
	// Connection
	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	// FindOrCreateDirectChat returns the single non-group chat shared by the
	// two users, creating it with both memberships if it does not exist. An
	// existing chat has userID's membership restored (is_deleted = false).
	FindOrCreateDirectChat(ctx context.Context, userID, otherUserID uuid.UUID) (chatID uuid.UUID, created bool, err error)

	// GetParticipant returns the membership row or a NOT_FOUND AppError.
	GetParticipant(ctx context.Context, chatID, userID uuid.UUID) (*models.Participant, error)
	// GetActiveChatIDs lists chats where the user's membership is not hidden.
	GetActiveChatIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)

	// Message log
	SaveMessage(ctx context.Context, msg *models.Message) (*models.Message, error)
	GetChatMessages(ctx context.Context, chatID uuid.UUID) ([]*models.Message, error)
	// MarkChatRead moves userID's read position forward to upTo, never
	// backwards, and un-hides the chat. A zero upTo only un-hides.
	MarkChatRead(ctx context.Context, chatID, userID uuid.UUID, upTo time.Time) error

	// GetChatPreviews builds the conversation list, most recent activity first.
	GetChatPreviews(ctx context.Context, userID uuid.UUID) ([]*models.ChatPreview, error)

	// HideChat soft-deletes userID's membership and, when no active
	// membership remains, removes messages, memberships and the chat.
	HideChat(ctx context.Context, chatID, userID uuid.UUID) (purged bool, err error)
}

// NewChatStore builds the store selected by configuration.
func NewChatStore(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (ChatStore, error) {
	switch cfg.Type {
	case config.DBTypeMemory:
		logger.Warn("Using in-memory chat store; data is lost on restart")
		return NewMemoryDB(), nil
	case config.DBTypePostgres:
		pg, err := NewPostgresDB(cfg.URI, logger)
		if err != nil {
			return nil, err
		}
		if cfg.InitSchema {
			if err := pg.InitializeTables(ctx); err != nil {
				pg.Close(ctx)
				return nil, err
			}
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}
}
