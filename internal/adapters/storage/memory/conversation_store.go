package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PabloGalante/persona-chat/internal/domain"
)

type ConversationStore struct {
	mu            sync.RWMutex
	conversations map[domain.ConversationID]*domain.Conversation
	order         []domain.ConversationID // insertion order, breaks CreatedAt ties
	now           func() time.Time
}

func NewConversationStore() *ConversationStore {
	return &ConversationStore{
		conversations: make(map[domain.ConversationID]*domain.Conversation),
		now:           time.Now,
	}
}

func (s *ConversationStore) CreateConversation(ctx context.Context, in domain.NewConversation) (*domain.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	conv := &domain.Conversation{
		ID:        domain.ConversationID(uuid.NewString()),
		UserID:    in.UserID,
		PersonaID: in.PersonaID,
		Mode:      domain.ModePublic,
		CreatedAt: createdAt,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversations[conv.ID] = conv
	s.order = append(s.order, conv.ID)

	out := *conv
	return &out, nil
}

func (s *ConversationStore) FindLatestConversation(ctx context.Context, userID domain.UserID, personaID domain.PersonaID) (*domain.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.Conversation
	for _, id := range s.order {
		c := s.conversations[id]
		if c.UserID != userID || c.PersonaID != personaID {
			continue
		}
		if latest == nil || !c.CreatedAt.Before(latest.CreatedAt) {
			latest = c
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}

	out := *latest
	return &out, nil
}

func (s *ConversationStore) GetConversation(ctx context.Context, id domain.ConversationID) (*domain.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[id]
	if !ok {
		return nil, domain.ErrNotFound
	}

	out := *c
	return &out, nil
}

// Count returns how many conversations have been created.
func (s *ConversationStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}
