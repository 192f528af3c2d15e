package engine

import (
	"context"
	"log/slog"
	"time"

	"devsquad-chat/internal/engine/actors"
	"devsquad-chat/internal/models"
	"devsquad-chat/internal/utils"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
)

// Engine is the actor system behind the realtime gateway. Sends for one chat
// run one at a time so persistence order and broadcast order match.
type Engine struct {
	system     *actor.ActorSystem
	supervisor *actor.PID
	timeout    time.Duration
	logger     *slog.Logger
}

func NewEngine(appender actors.MessageAppender, broadcaster actors.Broadcaster, timeout time.Duration, metrics *utils.MetricsCollector, logger *slog.Logger) *Engine {
	system := actor.NewActorSystem()
	props := actor.PropsFromProducer(func() actor.Actor {
		return actors.NewChatSupervisorActor(appender, broadcaster, timeout, metrics, logger)
	})
	return &Engine{
		system:     system,
		supervisor: system.Root.Spawn(props),
		timeout:    timeout,
		logger:     logger,
	}
}

type futureResult struct {
	value interface{}
	err   error
}

// SendMessage appends a message and broadcasts it to the chat's room. The
// returned message is the persisted row. The wait is bounded by both the
// engine timeout and ctx; giving up does not cancel a send already queued.
func (e *Engine) SendMessage(ctx context.Context, chatID, senderID uuid.UUID, content string, attachments models.Attachments) (*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, utils.NewActorTimeoutError("chat supervisor", err)
	}

	timeout := e.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return nil, utils.NewActorTimeoutError("chat supervisor", context.DeadlineExceeded)
	}

	future := e.system.Root.RequestFuture(e.supervisor, &actors.SendChatMessageMsg{
		ChatID:      chatID,
		SenderID:    senderID,
		Content:     content,
		Attachments: attachments,
	}, timeout)

	// Result blocks for at most timeout, so this goroutine always finishes.
	results := make(chan futureResult, 1)
	go func() {
		value, err := future.Result()
		results <- futureResult{value, err}
	}()

	var result interface{}
	select {
	case r := <-results:
		if r.err != nil {
			e.logger.Warn("Chat actor did not answer in time", "chat_id", chatID, "error", r.err)
			return nil, utils.NewActorTimeoutError("chat "+chatID.String(), r.err)
		}
		result = r.value
	case <-ctx.Done():
		return nil, utils.NewActorTimeoutError("chat "+chatID.String(), ctx.Err())
	}

	switch v := result.(type) {
	case *models.Message:
		return v, nil
	case *utils.AppError:
		return nil, v
	default:
		return nil, utils.NewAppError(utils.ErrInternal, "unexpected chat actor response", nil)
	}
}

// ReleaseChat stops the actor of a purged chat.
func (e *Engine) ReleaseChat(chatID uuid.UUID) {
	e.system.Root.Send(e.supervisor, &actors.ReleaseChatMsg{ChatID: chatID})
}

// ActiveChats reports how many chat actors are alive.
func (e *Engine) ActiveChats() (int, error) {
	result, err := e.system.Root.RequestFuture(e.supervisor, &actors.GetActiveChatsMsg{}, e.timeout).Result()
	if err != nil {
		return 0, utils.NewActorTimeoutError("chat supervisor", err)
	}
	count, _ := result.(int)
	return count, nil
}

// Close stops the supervisor and every chat actor under it.
func (e *Engine) Close() {
	if err := e.system.Root.StopFuture(e.supervisor).Wait(); err != nil {
		e.logger.Warn("Chat supervisor did not stop cleanly", "error", err)
	}
	e.system.Shutdown()
}
