package dummydb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/liceojbh/intranet/core"
	"github.com/liceojbh/intranet/core/messaging"
)

type messagingRepository struct {
	conversations *table[messaging.Conversation]
	messages      *table[messaging.Message]
}

var _ messaging.Repository = (*messagingRepository)(nil) // interface compliance check

func NewMessagingRepository(db *DB) messaging.Repository {
	return &messagingRepository{conversations: db.conversations, messages: db.messages}
}

func (repo *messagingRepository) GetConversation(ctx context.Context, id string, exec ...core.DBExecutor) (messaging.Conversation, error) {
	repo.conversations.RLock()
	defer repo.conversations.RUnlock()
	if c, ok := repo.conversations.get(id); ok {
		return c, nil
	}
	return messaging.Conversation{}, messaging.ErrNotFound
}

func (repo *messagingRepository) GetOrCreateConversation(ctx context.Context, c messaging.Conversation, exec ...core.DBExecutor) (messaging.Conversation, bool, error) {
	repo.conversations.Lock()
	defer repo.conversations.Unlock()

	if existing, ok := repo.conversations.find(func(o messaging.Conversation) bool {
		return o.StudentID == c.StudentID && o.TeacherID == c.TeacherID
	}); ok {
		return existing, false, nil
	}
	c.ID = uuid.NewString()
	repo.conversations.put(c.ID, c)
	return c, true, nil
}

func (repo *messagingRepository) QueryConversations(ctx context.Context, userID string, exec ...core.DBExecutor) ([]messaging.Conversation, error) {
	repo.conversations.RLock()
	defer repo.conversations.RUnlock()

	convs := repo.conversations.filter(func(c messaging.Conversation) bool {
		return c.HasParticipant(userID)
	})
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].LastMessageAt.After(convs[j].LastMessageAt)
	})
	return convs, nil
}

func (repo *messagingRepository) DeleteConversation(ctx context.Context, id string, exec ...core.DBExecutor) error {
	repo.conversations.Lock()
	removed := repo.conversations.remove(id)
	repo.conversations.Unlock()
	if removed == 0 {
		return messaging.ErrNotFound
	}

	repo.messages.Lock()
	defer repo.messages.Unlock()
	for _, m := range repo.messages.filter(func(m messaging.Message) bool { return m.ConversationID == id }) {
		repo.messages.remove(m.ID)
	}
	return nil
}

func (repo *messagingRepository) IncrementUnread(ctx context.Context, id string, side messaging.Side, at time.Time, exec ...core.DBExecutor) error {
	repo.conversations.Lock()
	defer repo.conversations.Unlock()

	c, ok := repo.conversations.get(id)
	if !ok {
		return messaging.ErrNotFound
	}
	if side == messaging.StudentSide {
		c.UnreadStudent++
	} else {
		c.UnreadTeacher++
	}
	c.LastMessageAt = at
	repo.conversations.put(id, c)
	return nil
}

func (repo *messagingRepository) ResetUnread(ctx context.Context, id string, side messaging.Side, exec ...core.DBExecutor) error {
	repo.conversations.Lock()
	defer repo.conversations.Unlock()

	c, ok := repo.conversations.get(id)
	if !ok {
		return messaging.ErrNotFound
	}
	if side == messaging.StudentSide {
		c.UnreadStudent = 0
	} else {
		c.UnreadTeacher = 0
	}
	repo.conversations.put(id, c)
	return nil
}

func (repo *messagingRepository) SumUnread(ctx context.Context, userID string, exec ...core.DBExecutor) (int, error) {
	repo.conversations.RLock()
	defer repo.conversations.RUnlock()

	total := 0
	for _, c := range repo.conversations.filter(nil) {
		total += c.UnreadFor(userID)
	}
	return total, nil
}

func (repo *messagingRepository) CreateMessage(ctx context.Context, m messaging.Message, exec ...core.DBExecutor) (messaging.Message, error) {
	repo.messages.Lock()
	defer repo.messages.Unlock()

	m.ID = uuid.NewString()
	repo.messages.put(m.ID, m)
	return m, nil
}

func (repo *messagingRepository) GetMessage(ctx context.Context, id string, exec ...core.DBExecutor) (messaging.Message, error) {
	repo.messages.RLock()
	defer repo.messages.RUnlock()
	if m, ok := repo.messages.get(id); ok {
		return m, nil
	}
	return messaging.Message{}, messaging.ErrMessageNotFound
}

func (repo *messagingRepository) QueryMessages(ctx context.Context, conversationID string, page core.Page, exec ...core.DBExecutor) ([]messaging.Message, int, error) {
	repo.messages.RLock()
	defer repo.messages.RUnlock()

	msgs := repo.messages.filter(func(m messaging.Message) bool {
		return m.ConversationID == conversationID
	})
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	start, end := page.Window(len(msgs))
	return msgs[start:end], len(msgs), nil
}

func (repo *messagingRepository) MarkRead(ctx context.Context, conversationID, recipientID string, exec ...core.DBExecutor) error {
	repo.messages.Lock()
	defer repo.messages.Unlock()

	for _, m := range repo.messages.filter(func(m messaging.Message) bool {
		return m.ConversationID == conversationID && m.RecipientID == recipientID && !m.Read
	}) {
		m.Read = true
		repo.messages.put(m.ID, m)
	}
	return nil
}
