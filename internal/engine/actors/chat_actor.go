package actors

import (
	"context"
	"log/slog"
	"time"

	"devsquad-chat/internal/models"
	"devsquad-chat/internal/utils"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
)

// Message types for the chat actors
type (
	SendChatMessageMsg struct {
		ChatID      uuid.UUID
		SenderID    uuid.UUID
		Content     string
		Attachments models.Attachments
	}

	// ReleaseChatMsg stops the actor of a chat that no longer exists.
	ReleaseChatMsg struct {
		ChatID uuid.UUID
	}

	GetActiveChatsMsg struct{}
)

// MessageAppender persists a message after checking the sender may post.
type MessageAppender interface {
	AppendMessage(ctx context.Context, chatID, senderID uuid.UUID, content string, attachments models.Attachments) (*models.Message, error)
}

// Broadcaster fans a persisted message out to the chat's room.
type Broadcaster interface {
	BroadcastMessage(msg *models.Message)
}

// ChatSupervisorActor owns one ChatActor per chat with traffic and routes
// sends to it. Per-chat mailboxes give each chat a single append order that
// the broadcast order follows.
type ChatSupervisorActor struct {
	chats       map[uuid.UUID]*actor.PID
	appender    MessageAppender
	broadcaster Broadcaster
	opTimeout   time.Duration
	metrics     *utils.MetricsCollector
	logger      *slog.Logger
}

func NewChatSupervisorActor(appender MessageAppender, broadcaster Broadcaster, opTimeout time.Duration, metrics *utils.MetricsCollector, logger *slog.Logger) actor.Actor {
	return &ChatSupervisorActor{
		chats:       make(map[uuid.UUID]*actor.PID),
		appender:    appender,
		broadcaster: broadcaster,
		opTimeout:   opTimeout,
		metrics:     metrics,
		logger:      logger,
	}
}

func (a *ChatSupervisorActor) Receive(context actor.Context) {
	switch msg := context.Message().(type) {
	case *actor.Started:
		a.logger.Debug("Chat supervisor started", "pid", context.Self().Id)

	case *SendChatMessageMsg:
		// Forward keeps the original sender so the child answers the caller.
		context.Forward(a.chatActor(context, msg.ChatID))

	case *ReleaseChatMsg:
		if pid, ok := a.chats[msg.ChatID]; ok {
			delete(a.chats, msg.ChatID)
			// Poison lets sends already queued for the chat finish first.
			context.Poison(pid)
			a.logger.Debug("Released chat actor", "chat_id", msg.ChatID)
		}

	case *GetActiveChatsMsg:
		context.Respond(len(a.chats))

	case *actor.Terminated:
		for chatID, pid := range a.chats {
			if pid.Equal(msg.Who) {
				delete(a.chats, chatID)
				break
			}
		}
	}
}

func (a *ChatSupervisorActor) chatActor(context actor.Context, chatID uuid.UUID) *actor.PID {
	if pid, ok := a.chats[chatID]; ok {
		return pid
	}
	props := actor.PropsFromProducer(func() actor.Actor {
		return &ChatActor{
			chatID:      chatID,
			appender:    a.appender,
			broadcaster: a.broadcaster,
			opTimeout:   a.opTimeout,
			metrics:     a.metrics,
			logger:      a.logger.With("chat_id", chatID),
		}
	})
	pid := context.Spawn(props)
	a.chats[chatID] = pid
	return pid
}

// ChatActor serializes sends for one chat: append, then broadcast, then
// answer the caller.
type ChatActor struct {
	chatID      uuid.UUID
	appender    MessageAppender
	broadcaster Broadcaster
	opTimeout   time.Duration
	metrics     *utils.MetricsCollector
	logger      *slog.Logger
}

func (a *ChatActor) Receive(context actor.Context) {
	switch msg := context.Message().(type) {
	case *SendChatMessageMsg:
		a.handleSend(context, msg)
	}
}

func (a *ChatActor) handleSend(actorCtx actor.Context, msg *SendChatMessageMsg) {
	startTime := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), a.opTimeout)
	defer cancel()

	saved, err := a.appender.AppendMessage(ctx, msg.ChatID, msg.SenderID, msg.Content, msg.Attachments)
	if err != nil {
		appErr := utils.AsAppError(err)
		if appErr.Code == utils.ErrInternal || appErr.Code == utils.ErrDatabase {
			a.logger.Error("Failed to append message", "sender_id", msg.SenderID, "error", err)
		}
		actorCtx.Respond(appErr)
		return
	}

	a.broadcaster.BroadcastMessage(saved)
	a.metrics.AddOperationLatency("send_message", time.Since(startTime))
	actorCtx.Respond(saved)
}
