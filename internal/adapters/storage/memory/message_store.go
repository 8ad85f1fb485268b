package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PabloGalante/persona-chat/internal/domain"
)

type MessageStore struct {
	mu       sync.RWMutex
	messages map[domain.ConversationID][]*domain.Message
	now      func() time.Time
}

func NewMessageStore() *MessageStore {
	return &MessageStore{
		messages: make(map[domain.ConversationID][]*domain.Message),
		now:      time.Now,
	}
}

func (s *MessageStore) AppendMessage(ctx context.Context, conversationID domain.ConversationID, in domain.NewMessage) (*domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	// creation time is the ordering key, keep it strictly increasing per conversation
	log := s.messages[conversationID]
	if n := len(log); n > 0 && !createdAt.After(log[n-1].CreatedAt) {
		createdAt = log[n-1].CreatedAt.Add(time.Nanosecond)
	}

	msg := &domain.Message{
		Ref:            domain.PersistedRef(domain.MessageID(uuid.NewString())),
		ConversationID: conversationID,
		Author:         in.Author,
		Text:           in.Text,
		CreatedAt:      createdAt,
	}
	s.messages[conversationID] = append(log, msg)

	out := *msg
	return &out, nil
}

func (s *MessageStore) ListMessages(ctx context.Context, conversationID domain.ConversationID) ([]*domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[conversationID]
	out := make([]*domain.Message, 0, len(msgs))
	for _, m := range msgs {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

// Count returns the number of messages across all conversations.
func (s *MessageStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, msgs := range s.messages {
		n += len(msgs)
	}
	return n
}
