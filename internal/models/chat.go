package models

import (
	"time"

	"github.com/google/uuid"
)

// Chat is a direct conversation between two users. IsGroup is reserved and
// never set by any code path that creates chats.
type Chat struct {
	ID        uuid.UUID `json:"id" db:"id"`
	IsGroup   bool      `json:"is_group" db:"is_group"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Participant is one user's membership in a chat.
type Participant struct {
	ChatID     uuid.UUID  `json:"chat_id" db:"chat_id"`
	UserID     uuid.UUID  `json:"user_id" db:"user_id"`
	IsDeleted  bool       `json:"is_deleted" db:"is_deleted"`
	LastReadAt *time.Time `json:"last_read_at,omitempty" db:"last_read_at"`
}

// Message is immutable once persisted. SenderName and AvatarURL are joined
// from the sender's profile on read.
type Message struct {
	ID          uuid.UUID   `json:"id" db:"id"`
	ChatID      uuid.UUID   `json:"chat_id" db:"chat_id"`
	SenderID    uuid.UUID   `json:"sender_id" db:"sender_id"`
	Content     string      `json:"content" db:"content"`
	Attachments Attachments `json:"attachments" db:"attachments"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	SenderName  string      `json:"sender_name" db:"sender_name"`
	AvatarURL   string      `json:"avatar_url" db:"avatar_url"`
}

// ChatPreview is one row of a user's conversation list.
type ChatPreview struct {
	ChatID          uuid.UUID `json:"chat_id" db:"chat_id"`
	OtherUserID     uuid.UUID `json:"other_user_id" db:"other_user_id"`
	OtherUserName   string    `json:"other_user_name" db:"other_user_name"`
	AvatarURL       string    `json:"avatar_url" db:"avatar_url"`
	LastMessage     string    `json:"last_message" db:"last_message"`
	LastMessageTime time.Time `json:"last_message_time" db:"last_message_time"`
	UnreadCount     int       `json:"unread_count" db:"unread_count"`
}
