package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"devsquad-chat/internal/models"
	"devsquad-chat/internal/utils"

	"github.com/google/uuid"
)

// MemoryDB is a ChatStore kept in process memory. A single mutex makes every
// method atomic, matching the transactional guarantees of PostgresDB.
type MemoryDB struct {
	mu           sync.RWMutex
	chats        map[uuid.UUID]*models.Chat
	participants map[uuid.UUID]map[uuid.UUID]*models.Participant // ChatID -> UserID -> membership
	messages     map[uuid.UUID][]*models.Message                 // ChatID -> messages in append order
	profiles     map[uuid.UUID]models.Profile

	// lastTick keeps timestamps strictly increasing so read positions and
	// message times never tie.
	lastTick time.Time
	now      func() time.Time
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		chats:        make(map[uuid.UUID]*models.Chat),
		participants: make(map[uuid.UUID]map[uuid.UUID]*models.Participant),
		messages:     make(map[uuid.UUID][]*models.Message),
		profiles:     make(map[uuid.UUID]models.Profile),
		now:          time.Now,
	}
}

// SaveProfile stores display data for joins. Profiles are owned elsewhere;
// this exists for local runs and tests.
func (m *MemoryDB) SaveProfile(profile models.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[profile.ID] = profile
}

func (m *MemoryDB) Ping(ctx context.Context) error { return ctx.Err() }

func (m *MemoryDB) Close(ctx context.Context) error { return nil }

// tick must be called with mu held for writing.
func (m *MemoryDB) tick() time.Time {
	t := m.now().UTC()
	if !t.After(m.lastTick) {
		t = m.lastTick.Add(time.Microsecond)
	}
	m.lastTick = t
	return t
}

func (m *MemoryDB) FindOrCreateDirectChat(ctx context.Context, userID, otherUserID uuid.UUID) (uuid.UUID, bool, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, false, utils.NewAppError(utils.ErrDatabase, "context done", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var found *models.Chat
	for chatID, members := range m.participants {
		chat := m.chats[chatID]
		if chat == nil || chat.IsGroup {
			continue
		}
		_, hasUser := members[userID]
		_, hasOther := members[otherUserID]
		if hasUser && hasOther && (found == nil || chat.CreatedAt.Before(found.CreatedAt)) {
			found = chat
		}
	}
	if found != nil {
		m.participants[found.ID][userID].IsDeleted = false
		return found.ID, false, nil
	}

	chat := &models.Chat{ID: uuid.New(), IsGroup: false, CreatedAt: m.tick()}
	m.chats[chat.ID] = chat
	m.participants[chat.ID] = map[uuid.UUID]*models.Participant{
		userID:      {ChatID: chat.ID, UserID: userID},
		otherUserID: {ChatID: chat.ID, UserID: otherUserID},
	}
	return chat.ID, true, nil
}

func (m *MemoryDB) GetParticipant(ctx context.Context, chatID, userID uuid.UUID) (*models.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	participant, ok := m.participants[chatID][userID]
	if !ok {
		return nil, utils.NewChatNotFoundError(chatID.String())
	}
	cp := *participant
	return &cp, nil
}

func (m *MemoryDB) GetActiveChatIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]uuid.UUID, 0)
	for chatID, members := range m.participants {
		if p, ok := members[userID]; ok && !p.IsDeleted {
			ids = append(ids, chatID)
		}
	}
	return ids, nil
}

func (m *MemoryDB) SaveMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chats[msg.ChatID]; !ok {
		return nil, utils.NewChatNotFoundError(msg.ChatID.String())
	}

	stored := &models.Message{
		ID:          msg.ID,
		ChatID:      msg.ChatID,
		SenderID:    msg.SenderID,
		Content:     msg.Content,
		Attachments: append(models.Attachments(nil), msg.Attachments...),
		CreatedAt:   m.tick(),
	}
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	m.messages[msg.ChatID] = append(m.messages[msg.ChatID], stored)
	return m.enrich(stored), nil
}

// enrich returns a copy joined with the sender's profile. mu must be held.
func (m *MemoryDB) enrich(msg *models.Message) *models.Message {
	cp := *msg
	if profile, ok := m.profiles[msg.SenderID]; ok {
		cp.SenderName = profile.FullName
		cp.AvatarURL = profile.AvatarURL
	}
	return &cp
}

func (m *MemoryDB) GetChatMessages(ctx context.Context, chatID uuid.UUID) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored := m.messages[chatID]
	out := make([]*models.Message, 0, len(stored))
	for _, msg := range stored {
		out = append(out, m.enrich(msg))
	}
	return out, nil
}

func (m *MemoryDB) MarkChatRead(ctx context.Context, chatID, userID uuid.UUID, upTo time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	participant, ok := m.participants[chatID][userID]
	if !ok {
		return utils.NewChatNotFoundError(chatID.String())
	}
	if !upTo.IsZero() && (participant.LastReadAt == nil || upTo.After(*participant.LastReadAt)) {
		readAt := upTo.UTC()
		participant.LastReadAt = &readAt
	}
	participant.IsDeleted = false
	return nil
}

func (m *MemoryDB) GetChatPreviews(ctx context.Context, userID uuid.UUID) ([]*models.ChatPreview, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	previews := make([]*models.ChatPreview, 0)
	for chatID, members := range m.participants {
		me, ok := members[userID]
		if !ok || me.IsDeleted || m.chats[chatID].IsGroup {
			continue
		}
		msgs := m.messages[chatID]
		if len(msgs) == 0 {
			continue
		}
		var other *models.Participant
		for id, p := range members {
			if id != userID {
				other = p
				break
			}
		}
		if other == nil {
			continue
		}

		last := msgs[len(msgs)-1]
		unread := 0
		for _, msg := range msgs {
			if msg.SenderID == userID {
				continue
			}
			if me.LastReadAt == nil || msg.CreatedAt.After(*me.LastReadAt) {
				unread++
			}
		}

		profile := m.profiles[other.UserID]
		previews = append(previews, &models.ChatPreview{
			ChatID:          chatID,
			OtherUserID:     other.UserID,
			OtherUserName:   profile.FullName,
			AvatarURL:       profile.AvatarURL,
			LastMessage:     last.Content,
			LastMessageTime: last.CreatedAt,
			UnreadCount:     unread,
		})
	}

	sort.Slice(previews, func(i, j int) bool {
		if previews[i].LastMessageTime.Equal(previews[j].LastMessageTime) {
			return previews[i].ChatID.String() < previews[j].ChatID.String()
		}
		return previews[i].LastMessageTime.After(previews[j].LastMessageTime)
	})
	return previews, nil
}

func (m *MemoryDB) HideChat(ctx context.Context, chatID, userID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	participant, ok := m.participants[chatID][userID]
	if !ok {
		return false, utils.NewChatNotFoundError(chatID.String())
	}
	participant.IsDeleted = true

	for _, p := range m.participants[chatID] {
		if !p.IsDeleted {
			return false, nil
		}
	}

	delete(m.messages, chatID)
	delete(m.participants, chatID)
	delete(m.chats, chatID)
	return true, nil
}

// ChatExists reports whether the chat row is still present.
func (m *MemoryDB) ChatExists(chatID uuid.UUID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.chats[chatID]
	return ok
}

// MessageCount returns how many messages are stored for a chat.
func (m *MemoryDB) MessageCount(chatID uuid.UUID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages[chatID])
}
