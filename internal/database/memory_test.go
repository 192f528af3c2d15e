package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"devsquad-chat/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDB_Contract(t *testing.T) {
	runChatStoreContract(t, func(t *testing.T) (ChatStore, func(models.Profile)) {
		db := NewMemoryDB()
		return db, db.SaveProfile
	})
}

func TestMemoryDB_TimestampsStrictlyIncrease(t *testing.T) {
	db := NewMemoryDB()
	frozen := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	db.now = func() time.Time { return frozen }

	a, b := uuid.New(), uuid.New()
	chatID, _, err := db.FindOrCreateDirectChat(context.Background(), a, b)
	require.NoError(t, err)

	first, err := db.SaveMessage(context.Background(), &models.Message{ChatID: chatID, SenderID: b, Content: "1"})
	require.NoError(t, err)
	require.NoError(t, db.MarkChatRead(context.Background(), chatID, a, first.CreatedAt))
	second, err := db.SaveMessage(context.Background(), &models.Message{ChatID: chatID, SenderID: b, Content: "2"})
	require.NoError(t, err)

	assert.True(t, second.CreatedAt.After(first.CreatedAt))
	requireUnread(t, db, a, chatID, 1)
}

// Concurrent first contact from both sides converges on one chat because the
// whole find-or-create runs under the store lock.
func TestMemoryDB_ConcurrentFirstContact(t *testing.T) {
	db := NewMemoryDB()
	a, b := uuid.New(), uuid.New()

	const workers = 16
	ids := make([]uuid.UUID, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := a, b
			if i%2 == 1 {
				from, to = b, a
			}
			id, _, err := db.FindOrCreateDirectChat(context.Background(), from, to)
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

// Both participants hiding at once leaves exactly one purge.
func TestMemoryDB_ConcurrentLastParticipantHides(t *testing.T) {
	db := NewMemoryDB()
	a, b := uuid.New(), uuid.New()
	chatID, _, err := db.FindOrCreateDirectChat(context.Background(), a, b)
	require.NoError(t, err)
	_, err = db.SaveMessage(context.Background(), &models.Message{ChatID: chatID, SenderID: a, Content: "x"})
	require.NoError(t, err)

	results := make(chan bool, 2)
	var wg sync.WaitGroup
	for _, user := range []uuid.UUID{a, b} {
		wg.Add(1)
		go func(user uuid.UUID) {
			defer wg.Done()
			purged, err := db.HideChat(context.Background(), chatID, user)
			assert.NoError(t, err)
			results <- purged
		}(user)
	}
	wg.Wait()
	close(results)

	purges := 0
	for purged := range results {
		if purged {
			purges++
		}
	}
	assert.Equal(t, 1, purges)
	assert.False(t, db.ChatExists(chatID))
	assert.Zero(t, db.MessageCount(chatID))
}

func TestMemoryDB_ReopenRacesPurge(t *testing.T) {
	requireReopenSurvivesPurge(t, NewMemoryDB())
}
