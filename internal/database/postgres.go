// internal/database/postgres.go
package database

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"devsquad-chat/internal/models"
	"devsquad-chat/internal/utils"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// foreign_key_violation
const pqForeignKeyViolation = "23503"

// PostgresDB represents a PostgreSQL database connection
type PostgresDB struct {
	DB     *sqlx.DB
	logger *slog.Logger
}

// NewPostgresDB creates a new PostgreSQL database connection
func NewPostgresDB(connectionString string, logger *slog.Logger) (*PostgresDB, error) {
	db, err := sqlx.Connect("postgres", connectionString)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to PostgreSQL")
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	logger.Info("Successfully connected to PostgreSQL")

	return &PostgresDB{
		DB:     db,
		logger: logger,
	}, nil
}

// Ping verifies the connection is alive.
func (p *PostgresDB) Ping(ctx context.Context) error {
	return p.DB.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresDB) Close(ctx context.Context) error {
	p.logger.Info("Closing PostgreSQL connection")
	return p.DB.Close()
}

// InitializeTables creates all necessary tables if they don't exist.
// profiles is owned by the profile service; it is created here only so a
// fresh database can serve joins.
func (p *PostgresDB) InitializeTables(ctx context.Context) error {
	statements := []struct {
		name  string
		query string
	}{
		{"profiles", `
			CREATE TABLE IF NOT EXISTS profiles (
				id UUID PRIMARY KEY,
				full_name TEXT,
				avatar_url TEXT
			)`},
		{"chats", `
			CREATE TABLE IF NOT EXISTS chats (
				id UUID PRIMARY KEY,
				is_group BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT clock_timestamp()
			)`},
		{"chat_participants", `
			CREATE TABLE IF NOT EXISTS chat_participants (
				chat_id UUID NOT NULL REFERENCES chats(id),
				user_id UUID NOT NULL,
				is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
				last_read_at TIMESTAMP WITH TIME ZONE,
				PRIMARY KEY (chat_id, user_id)
			)`},
		{"chat_participants_user_idx", `
			CREATE INDEX IF NOT EXISTS chat_participants_user_idx
			ON chat_participants (user_id, is_deleted)`},
		{"messages", `
			CREATE TABLE IF NOT EXISTS messages (
				id UUID PRIMARY KEY,
				seq BIGSERIAL,
				chat_id UUID NOT NULL REFERENCES chats(id),
				sender_id UUID NOT NULL,
				content TEXT NOT NULL,
				attachments JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT clock_timestamp()
			)`},
		{"messages_chat_idx", `
			CREATE INDEX IF NOT EXISTS messages_chat_idx
			ON messages (chat_id, created_at, seq)`},
	}

	for _, stmt := range statements {
		if _, err := p.DB.ExecContext(ctx, stmt.query); err != nil {
			return errors.Wrapf(err, "failed to create %s", stmt.name)
		}
	}
	return nil
}

// --- Chat Methods ---

// FindOrCreateDirectChat runs lookup-then-insert in one transaction. The
// advisory lock on the unordered pair serializes concurrent first contact;
// the shared lock on the found chat row serializes against HideChat, which
// takes the same row FOR UPDATE before purging.
func (p *PostgresDB) FindOrCreateDirectChat(ctx context.Context, userID, otherUserID uuid.UUID) (uuid.UUID, bool, error) {
	tx, err := p.DB.BeginTxx(ctx, nil)
	if err != nil {
		return uuid.Nil, false, utils.NewAppError(utils.ErrDatabase, "failed to begin transaction", errors.Wrap(err, "postgres.FindOrCreateDirectChat.Begin"))
	}
	defer tx.Rollback() // Rollback is ignored if tx is committed.

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, pairKey(userID, otherUserID)); err != nil {
		return uuid.Nil, false, utils.NewAppError(utils.ErrDatabase, "failed to lock chat pair", err)
	}

	var chatID uuid.UUID
	err = tx.GetContext(ctx, &chatID, `
		SELECT c.id
		FROM chats c
		JOIN chat_participants a ON a.chat_id = c.id AND a.user_id = $1
		JOIN chat_participants b ON b.chat_id = c.id AND b.user_id = $2
		WHERE c.is_group = FALSE
		ORDER BY c.created_at ASC
		LIMIT 1
		FOR SHARE OF c
	`, userID, otherUserID)

	found := false
	switch {
	case err == nil:
		result, err := tx.ExecContext(ctx,
			`UPDATE chat_participants SET is_deleted = FALSE WHERE chat_id = $1 AND user_id = $2`,
			chatID, userID,
		)
		if err != nil {
			return uuid.Nil, false, utils.NewAppError(utils.ErrDatabase, "failed to restore chat membership", err)
		}
		// A purge that committed before our lock leaves nothing to restore.
		rows, err := result.RowsAffected()
		if err != nil {
			return uuid.Nil, false, utils.NewAppError(utils.ErrDatabase, "failed to restore chat membership", err)
		}
		found = rows > 0
	case errors.Is(err, sql.ErrNoRows):
	default:
		return uuid.Nil, false, utils.NewAppError(utils.ErrDatabase, "failed to look up direct chat", err)
	}

	created := false
	if !found {
		chatID = uuid.New()
		created = true
		if _, err := tx.ExecContext(ctx, `INSERT INTO chats (id, is_group) VALUES ($1, FALSE)`, chatID); err != nil {
			return uuid.Nil, false, utils.NewAppError(utils.ErrDatabase, "failed to create chat", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chat_participants (chat_id, user_id) VALUES ($1, $2), ($1, $3)`,
			chatID, userID, otherUserID,
		); err != nil {
			return uuid.Nil, false, utils.NewAppError(utils.ErrDatabase, "failed to create chat memberships", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, false, utils.NewAppError(utils.ErrDatabase, "failed to commit chat", errors.Wrap(err, "postgres.FindOrCreateDirectChat.Commit"))
	}
	return chatID, created, nil
}

// GetParticipant fetches one membership row.
func (p *PostgresDB) GetParticipant(ctx context.Context, chatID, userID uuid.UUID) (*models.Participant, error) {
	var participant models.Participant
	err := p.DB.GetContext(ctx, &participant, `
		SELECT chat_id, user_id, is_deleted, last_read_at
		FROM chat_participants
		WHERE chat_id = $1 AND user_id = $2
	`, chatID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, utils.NewChatNotFoundError(chatID.String())
		}
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query chat membership", err)
	}
	return &participant, nil
}

// GetActiveChatIDs lists the chats a user has not hidden.
func (p *PostgresDB) GetActiveChatIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0)
	err := p.DB.SelectContext(ctx, &ids, `
		SELECT chat_id FROM chat_participants
		WHERE user_id = $1 AND is_deleted = FALSE
	`, userID)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query active chats", err)
	}
	return ids, nil
}

// --- Message Methods ---

// SaveMessage appends a message and returns the stored row joined with the
// sender's profile.
func (p *PostgresDB) SaveMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}

	var saved models.Message
	err := p.DB.GetContext(ctx, &saved, `
		WITH ins AS (
			INSERT INTO messages (id, chat_id, sender_id, content, attachments)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, chat_id, sender_id, content, attachments, created_at
		)
		SELECT ins.id, ins.chat_id, ins.sender_id, ins.content, ins.attachments, ins.created_at,
			COALESCE(pr.full_name, '') AS sender_name,
			COALESCE(pr.avatar_url, '') AS avatar_url
		FROM ins
		LEFT JOIN profiles pr ON pr.id = ins.sender_id
	`, msg.ID, msg.ChatID, msg.SenderID, msg.Content, msg.Attachments)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqForeignKeyViolation {
			return nil, utils.NewChatNotFoundError(msg.ChatID.String())
		}
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to save message", err)
	}
	return &saved, nil
}

// GetChatMessages returns the full history of a chat, oldest first.
func (p *PostgresDB) GetChatMessages(ctx context.Context, chatID uuid.UUID) ([]*models.Message, error) {
	messages := make([]*models.Message, 0)
	err := p.DB.SelectContext(ctx, &messages, `
		SELECT m.id, m.chat_id, m.sender_id, m.content, m.attachments, m.created_at,
			COALESCE(pr.full_name, '') AS sender_name,
			COALESCE(pr.avatar_url, '') AS avatar_url
		FROM messages m
		LEFT JOIN profiles pr ON pr.id = m.sender_id
		WHERE m.chat_id = $1
		ORDER BY m.created_at ASC, m.seq ASC
	`, chatID)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query chat messages", err)
	}
	return messages, nil
}

// MarkChatRead advances the read position to upTo and un-hides the chat.
// GREATEST skips NULLs, so a zero upTo leaves last_read_at untouched.
func (p *PostgresDB) MarkChatRead(ctx context.Context, chatID, userID uuid.UUID, upTo time.Time) error {
	result, err := p.DB.ExecContext(ctx, `
		UPDATE chat_participants
		SET last_read_at = GREATEST(last_read_at, $3::timestamptz), is_deleted = FALSE
		WHERE chat_id = $1 AND user_id = $2
	`, chatID, userID, sql.NullTime{Time: upTo, Valid: !upTo.IsZero()})
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to mark chat read", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return utils.NewChatNotFoundError(chatID.String())
	}
	return nil
}

// GetChatPreviews returns one row per active chat that has at least one
// message, ordered by the latest message.
func (p *PostgresDB) GetChatPreviews(ctx context.Context, userID uuid.UUID) ([]*models.ChatPreview, error) {
	previews := make([]*models.ChatPreview, 0)
	err := p.DB.SelectContext(ctx, &previews, `
		WITH last_messages AS (
			SELECT DISTINCT ON (m.chat_id) m.chat_id, m.content, m.created_at
			FROM messages m
			JOIN chat_participants mine ON mine.chat_id = m.chat_id
			WHERE mine.user_id = $1 AND mine.is_deleted = FALSE
			ORDER BY m.chat_id, m.created_at DESC, m.seq DESC
		)
		SELECT me.chat_id,
			other.user_id AS other_user_id,
			COALESCE(pr.full_name, '') AS other_user_name,
			COALESCE(pr.avatar_url, '') AS avatar_url,
			lm.content AS last_message,
			lm.created_at AS last_message_time,
			(
				SELECT COUNT(*) FROM messages um
				WHERE um.chat_id = me.chat_id
					AND um.sender_id <> me.user_id
					AND um.created_at > COALESCE(me.last_read_at, 'epoch'::timestamptz)
			) AS unread_count
		FROM chat_participants me
		JOIN chats c ON c.id = me.chat_id AND c.is_group = FALSE
		JOIN chat_participants other ON other.chat_id = me.chat_id AND other.user_id <> me.user_id
		JOIN last_messages lm ON lm.chat_id = me.chat_id
		LEFT JOIN profiles pr ON pr.id = other.user_id
		WHERE me.user_id = $1 AND me.is_deleted = FALSE
		ORDER BY lm.created_at DESC, me.chat_id
	`, userID)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query chat previews", err)
	}
	return previews, nil
}

// HideChat soft-deletes the caller's membership and purges the chat once no
// active membership remains. The chat row is locked for the whole sequence so
// concurrent hides by both participants cannot both observe a survivor.
func (p *PostgresDB) HideChat(ctx context.Context, chatID, userID uuid.UUID) (bool, error) {
	tx, err := p.DB.BeginTxx(ctx, nil)
	if err != nil {
		return false, utils.NewAppError(utils.ErrDatabase, "failed to begin transaction", errors.Wrap(err, "postgres.HideChat.Begin"))
	}
	defer tx.Rollback()

	var lockedID uuid.UUID
	if err := tx.GetContext(ctx, &lockedID, `SELECT id FROM chats WHERE id = $1 FOR UPDATE`, chatID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, utils.NewChatNotFoundError(chatID.String())
		}
		return false, utils.NewAppError(utils.ErrDatabase, "failed to lock chat", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE chat_participants SET is_deleted = TRUE WHERE chat_id = $1 AND user_id = $2`,
		chatID, userID,
	)
	if err != nil {
		return false, utils.NewAppError(utils.ErrDatabase, "failed to hide chat", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return false, utils.NewChatNotFoundError(chatID.String())
	}

	var active int
	if err := tx.GetContext(ctx, &active,
		`SELECT COUNT(*) FROM chat_participants WHERE chat_id = $1 AND is_deleted = FALSE`,
		chatID,
	); err != nil {
		return false, utils.NewAppError(utils.ErrDatabase, "failed to count active memberships", err)
	}

	purged := active == 0
	if purged {
		// Dependency order: messages and memberships reference the chat row.
		for _, query := range []string{
			`DELETE FROM messages WHERE chat_id = $1`,
			`DELETE FROM chat_participants WHERE chat_id = $1`,
			`DELETE FROM chats WHERE id = $1`,
		} {
			if _, err := tx.ExecContext(ctx, query, chatID); err != nil {
				return false, utils.NewAppError(utils.ErrDatabase, "failed to purge chat", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return false, utils.NewAppError(utils.ErrDatabase, "failed to commit chat hide", errors.Wrap(err, "postgres.HideChat.Commit"))
	}
	if purged {
		p.logger.Info("Chat purged after last participant left", "chat_id", chatID)
	}
	return purged, nil
}

// pairKey is order-independent so both users lock the same key.
func pairKey(a, b uuid.UUID) string {
	lo, hi := a.String(), b.String()
	if hi < lo {
		lo, hi = hi, lo
	}
	return "dm:" + lo + ":" + hi
}
