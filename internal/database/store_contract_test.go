package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"devsquad-chat/internal/models"
	"devsquad-chat/internal/utils"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFactory returns a fresh store plus a way to seed profile rows.
type storeFactory func(t *testing.T) (ChatStore, func(models.Profile))

func runChatStoreContract(t *testing.T, newStore storeFactory) {
	ctx := context.Background()

	t.Run("open twice returns the same chat", func(t *testing.T) {
		store, _ := newStore(t)
		a, b := uuid.New(), uuid.New()

		first, created, err := store.FindOrCreateDirectChat(ctx, a, b)
		require.NoError(t, err)
		assert.True(t, created)

		second, created, err := store.FindOrCreateDirectChat(ctx, a, b)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first, second)

		reversed, created, err := store.FindOrCreateDirectChat(ctx, b, a)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first, reversed)
	})

	t.Run("different pairs get different chats", func(t *testing.T) {
		store, _ := newStore(t)
		a, b, c := uuid.New(), uuid.New(), uuid.New()

		ab, _, err := store.FindOrCreateDirectChat(ctx, a, b)
		require.NoError(t, err)
		ac, _, err := store.FindOrCreateDirectChat(ctx, a, c)
		require.NoError(t, err)
		assert.NotEqual(t, ab, ac)

		ids, err := store.GetActiveChatIDs(ctx, a)
		require.NoError(t, err)
		assert.ElementsMatch(t, []uuid.UUID{ab, ac}, ids)
	})

	t.Run("messages come back in append order with profile data", func(t *testing.T) {
		store, seed := newStore(t)
		a, b := uuid.New(), uuid.New()
		seed(models.Profile{ID: a, FullName: "Ada Lovelace", AvatarURL: "https://cdn/ada.png"})

		chatID, _, err := store.FindOrCreateDirectChat(ctx, a, b)
		require.NoError(t, err)

		contents := []string{"one", "two", "three", "four", "five"}
		for i, content := range contents {
			sender := a
			if i%2 == 1 {
				sender = b
			}
			saved, err := store.SaveMessage(ctx, &models.Message{ChatID: chatID, SenderID: sender, Content: content})
			require.NoError(t, err)
			assert.NotEqual(t, uuid.Nil, saved.ID)
			assert.False(t, saved.CreatedAt.IsZero())
		}

		msgs, err := store.GetChatMessages(ctx, chatID)
		require.NoError(t, err)
		require.Len(t, msgs, len(contents))
		for i, msg := range msgs {
			assert.Equal(t, contents[i], msg.Content)
			if i > 0 {
				assert.False(t, msg.CreatedAt.Before(msgs[i-1].CreatedAt))
			}
		}
		assert.Equal(t, "Ada Lovelace", msgs[0].SenderName)
		assert.Equal(t, "https://cdn/ada.png", msgs[0].AvatarURL)
		assert.Empty(t, msgs[1].SenderName)
	})

	t.Run("attachments are stored untouched", func(t *testing.T) {
		store, _ := newStore(t)
		a, b := uuid.New(), uuid.New()
		chatID, _, err := store.FindOrCreateDirectChat(ctx, a, b)
		require.NoError(t, err)

		saved, err := store.SaveMessage(ctx, &models.Message{
			ChatID:      chatID,
			SenderID:    a,
			Content:     "see attached",
			Attachments: models.Attachments(`[{"url":"https://cdn/x.png"}]`),
		})
		require.NoError(t, err)
		assert.JSONEq(t, `[{"url":"https://cdn/x.png"}]`, string(saved.Attachments))

		msgs, err := store.GetChatMessages(ctx, chatID)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.JSONEq(t, `[{"url":"https://cdn/x.png"}]`, string(msgs[0].Attachments))
	})

	t.Run("unread counts follow the read position", func(t *testing.T) {
		store, _ := newStore(t)
		a, b := uuid.New(), uuid.New()
		chatID, _, err := store.FindOrCreateDirectChat(ctx, a, b)
		require.NoError(t, err)

		for _, content := range []string{"hi", "are you there", "hello?"} {
			_, err := store.SaveMessage(ctx, &models.Message{ChatID: chatID, SenderID: b, Content: content})
			require.NoError(t, err)
		}
		latest, err := store.SaveMessage(ctx, &models.Message{ChatID: chatID, SenderID: a, Content: "yes"})
		require.NoError(t, err)

		requireUnread(t, store, a, chatID, 3)
		requireUnread(t, store, b, chatID, 1)

		require.NoError(t, store.MarkChatRead(ctx, chatID, a, latest.CreatedAt))
		requireUnread(t, store, a, chatID, 0)

		_, err = store.SaveMessage(ctx, &models.Message{ChatID: chatID, SenderID: b, Content: "ok"})
		require.NoError(t, err)
		requireUnread(t, store, a, chatID, 1)

		participant, err := store.GetParticipant(ctx, chatID, a)
		require.NoError(t, err)
		require.NotNil(t, participant.LastReadAt)
	})

	t.Run("read position covers only messages up to the mark", func(t *testing.T) {
		store, _ := newStore(t)
		a, b := uuid.New(), uuid.New()
		chatID, _, err := store.FindOrCreateDirectChat(ctx, a, b)
		require.NoError(t, err)

		first, err := store.SaveMessage(ctx, &models.Message{ChatID: chatID, SenderID: b, Content: "one"})
		require.NoError(t, err)
		second, err := store.SaveMessage(ctx, &models.Message{ChatID: chatID, SenderID: b, Content: "two"})
		require.NoError(t, err)
		_, err = store.SaveMessage(ctx, &models.Message{ChatID: chatID, SenderID: b, Content: "three"})
		require.NoError(t, err)

		require.NoError(t, store.MarkChatRead(ctx, chatID, a, second.CreatedAt))
		requireUnread(t, store, a, chatID, 1)

		// An older mark never moves the position backwards.
		require.NoError(t, store.MarkChatRead(ctx, chatID, a, first.CreatedAt))
		requireUnread(t, store, a, chatID, 1)

		// A zero mark only un-hides.
		require.NoError(t, store.MarkChatRead(ctx, chatID, a, time.Time{}))
		requireUnread(t, store, a, chatID, 1)
	})

	t.Run("previews skip empty chats and sort by last message", func(t *testing.T) {
		store, seed := newStore(t)
		me, older, newer, silent := uuid.New(), uuid.New(), uuid.New(), uuid.New()
		seed(models.Profile{ID: newer, FullName: "Grace Hopper", AvatarURL: "https://cdn/grace.png"})

		olderChat, _, err := store.FindOrCreateDirectChat(ctx, me, older)
		require.NoError(t, err)
		newerChat, _, err := store.FindOrCreateDirectChat(ctx, me, newer)
		require.NoError(t, err)
		_, _, err = store.FindOrCreateDirectChat(ctx, me, silent)
		require.NoError(t, err)

		_, err = store.SaveMessage(ctx, &models.Message{ChatID: newerChat, SenderID: newer, Content: "first"})
		require.NoError(t, err)
		_, err = store.SaveMessage(ctx, &models.Message{ChatID: olderChat, SenderID: older, Content: "second"})
		require.NoError(t, err)
		_, err = store.SaveMessage(ctx, &models.Message{ChatID: newerChat, SenderID: me, Content: "third"})
		require.NoError(t, err)

		previews, err := store.GetChatPreviews(ctx, me)
		require.NoError(t, err)
		require.Len(t, previews, 2)

		assert.Equal(t, newerChat, previews[0].ChatID)
		assert.Equal(t, newer, previews[0].OtherUserID)
		assert.Equal(t, "Grace Hopper", previews[0].OtherUserName)
		assert.Equal(t, "https://cdn/grace.png", previews[0].AvatarURL)
		assert.Equal(t, "third", previews[0].LastMessage)
		assert.Equal(t, 1, previews[0].UnreadCount)

		assert.Equal(t, olderChat, previews[1].ChatID)
		assert.Equal(t, "second", previews[1].LastMessage)
		assert.True(t, previews[0].LastMessageTime.After(previews[1].LastMessageTime))
	})

	t.Run("hidden chat leaves the list until reopened", func(t *testing.T) {
		store, _ := newStore(t)
		a, b := uuid.New(), uuid.New()
		chatID, _, err := store.FindOrCreateDirectChat(ctx, a, b)
		require.NoError(t, err)
		_, err = store.SaveMessage(ctx, &models.Message{ChatID: chatID, SenderID: b, Content: "hi"})
		require.NoError(t, err)

		purged, err := store.HideChat(ctx, chatID, a)
		require.NoError(t, err)
		assert.False(t, purged)

		requireChatListed(t, store, a, chatID, false)
		requireChatListed(t, store, b, chatID, true)

		active, err := store.GetActiveChatIDs(ctx, a)
		require.NoError(t, err)
		assert.NotContains(t, active, chatID)

		reopened, created, err := store.FindOrCreateDirectChat(ctx, a, b)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, chatID, reopened)
		requireChatListed(t, store, a, chatID, true)
	})

	t.Run("reading history un-hides the chat", func(t *testing.T) {
		store, _ := newStore(t)
		a, b := uuid.New(), uuid.New()
		chatID, _, err := store.FindOrCreateDirectChat(ctx, a, b)
		require.NoError(t, err)
		_, err = store.SaveMessage(ctx, &models.Message{ChatID: chatID, SenderID: b, Content: "hi"})
		require.NoError(t, err)

		_, err = store.HideChat(ctx, chatID, a)
		require.NoError(t, err)
		require.NoError(t, store.MarkChatRead(ctx, chatID, a, time.Time{}))
		requireChatListed(t, store, a, chatID, true)
	})

	t.Run("last participant leaving purges everything", func(t *testing.T) {
		store, _ := newStore(t)
		a, b := uuid.New(), uuid.New()
		chatID, _, err := store.FindOrCreateDirectChat(ctx, a, b)
		require.NoError(t, err)
		_, err = store.SaveMessage(ctx, &models.Message{ChatID: chatID, SenderID: a, Content: "bye"})
		require.NoError(t, err)

		purged, err := store.HideChat(ctx, chatID, a)
		require.NoError(t, err)
		assert.False(t, purged)

		purged, err = store.HideChat(ctx, chatID, b)
		require.NoError(t, err)
		assert.True(t, purged)

		_, err = store.GetParticipant(ctx, chatID, a)
		assert.True(t, utils.IsErrorCode(err, utils.ErrNotFound))
		_, err = store.GetParticipant(ctx, chatID, b)
		assert.True(t, utils.IsErrorCode(err, utils.ErrNotFound))

		msgs, err := store.GetChatMessages(ctx, chatID)
		require.NoError(t, err)
		assert.Empty(t, msgs)

		_, err = store.SaveMessage(ctx, &models.Message{ChatID: chatID, SenderID: a, Content: "late"})
		assert.True(t, utils.IsErrorCode(err, utils.ErrNotFound))

		_, err = store.HideChat(ctx, chatID, a)
		assert.True(t, utils.IsErrorCode(err, utils.ErrNotFound))

		// A fresh open after the purge starts a brand new chat.
		fresh, created, err := store.FindOrCreateDirectChat(ctx, a, b)
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEqual(t, chatID, fresh)
	})

	t.Run("non members are not found", func(t *testing.T) {
		store, _ := newStore(t)
		a, b, stranger := uuid.New(), uuid.New(), uuid.New()
		chatID, _, err := store.FindOrCreateDirectChat(ctx, a, b)
		require.NoError(t, err)

		_, err = store.GetParticipant(ctx, chatID, stranger)
		assert.True(t, utils.IsErrorCode(err, utils.ErrNotFound))
		err = store.MarkChatRead(ctx, chatID, stranger, time.Now())
		assert.True(t, utils.IsErrorCode(err, utils.ErrNotFound))
		_, err = store.HideChat(ctx, chatID, stranger)
		assert.True(t, utils.IsErrorCode(err, utils.ErrNotFound))
	})
}

func requireUnread(t *testing.T, store ChatStore, userID, chatID uuid.UUID, want int) {
	t.Helper()
	previews, err := store.GetChatPreviews(context.Background(), userID)
	require.NoError(t, err)
	for _, p := range previews {
		if p.ChatID == chatID {
			assert.Equal(t, want, p.UnreadCount)
			return
		}
	}
	t.Fatalf("chat %s not in previews for user %s", chatID, userID)
}

func requireChatListed(t *testing.T, store ChatStore, userID, chatID uuid.UUID, listed bool) {
	t.Helper()
	previews, err := store.GetChatPreviews(context.Background(), userID)
	require.NoError(t, err)
	found := false
	for _, p := range previews {
		if p.ChatID == chatID {
			found = true
		}
	}
	assert.Equal(t, listed, found)
}

// requireReopenSurvivesPurge races A reopening a chat A already hid against
// B hiding it last. Whatever the interleaving, the id A gets back must name a
// live chat in which A is active.
func requireReopenSurvivesPurge(t *testing.T, store ChatStore) {
	t.Helper()
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		a, b := uuid.New(), uuid.New()
		chatID, _, err := store.FindOrCreateDirectChat(ctx, a, b)
		require.NoError(t, err)
		_, err = store.SaveMessage(ctx, &models.Message{ChatID: chatID, SenderID: b, Content: "hi"})
		require.NoError(t, err)
		_, err = store.HideChat(ctx, chatID, a)
		require.NoError(t, err)

		var (
			wg       sync.WaitGroup
			reopened uuid.UUID
			openErr  error
			hideErr  error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			reopened, _, openErr = store.FindOrCreateDirectChat(ctx, a, b)
		}()
		go func() {
			defer wg.Done()
			_, hideErr = store.HideChat(ctx, chatID, b)
		}()
		wg.Wait()

		require.NoError(t, openErr)
		require.NoError(t, hideErr)

		participant, err := store.GetParticipant(ctx, reopened, a)
		require.NoError(t, err, "reopen returned a purged chat")
		assert.False(t, participant.IsDeleted)
		_, err = store.GetParticipant(ctx, reopened, b)
		require.NoError(t, err)
	}
}
