package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PabloGalante/persona-chat/internal/domain"
)

type Store struct {
	client *firestore.Client
	now    func() time.Time
}

// NewStore creates a Firestore store.
// Uses the project passed (PERSONA_GCP_PROJECT).
func NewStore(ctx context.Context, projectID string) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	return &Store{client: client, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// ─────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────

func (s *Store) conversationsCol() *firestore.CollectionRef {
	return s.client.Collection("conversations")
}

func (s *Store) conversationDoc(id domain.ConversationID) *firestore.DocumentRef {
	return s.conversationsCol().Doc(string(id))
}

func (s *Store) messagesCol(id domain.ConversationID) *firestore.CollectionRef {
	return s.conversationDoc(id).Collection("messages")
}

func (s *Store) ledgerDoc(userID domain.UserID) *firestore.DocumentRef {
	return s.client.Collection("ledgers").Doc(string(userID))
}

func (s *Store) debitsCol(userID domain.UserID) *firestore.CollectionRef {
	return s.ledgerDoc(userID).Collection("debits")
}

func notFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

// ─────────────────────────────────────────
// Firestore Types
// ─────────────────────────────────────────

type conversationDoc struct {
	UserID    string    `firestore:"user_id"`
	PersonaID string    `firestore:"persona_id"`
	Mode      string    `firestore:"mode"`
	CreatedAt time.Time `firestore:"created_at"`
}

type messageDoc struct {
	ConversationID string    `firestore:"conversation_id"`
	Author         string    `firestore:"author"`
	Text           string    `firestore:"text"`
	CreatedAt      time.Time `firestore:"created_at"`
}

type ledgerDoc struct {
	Balance   int64     `firestore:"balance"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

type debitDoc struct {
	Cost           int64     `firestore:"cost"`
	ModelTag       string    `firestore:"model_tag"`
	Description    string    `firestore:"description"`
	ConversationID string    `firestore:"conversation_id"`
	CreatedAt      time.Time `firestore:"created_at"`
}

func (d conversationDoc) toDomain(id string) *domain.Conversation {
	return &domain.Conversation{
		ID:        domain.ConversationID(id),
		UserID:    domain.UserID(d.UserID),
		PersonaID: domain.PersonaID(d.PersonaID),
		Mode:      domain.Mode(d.Mode),
		CreatedAt: d.CreatedAt,
	}
}

// ─────────────────────────────────────────
// ConversationStore implementation
// ─────────────────────────────────────────

func (s *Store) CreateConversation(ctx context.Context, in domain.NewConversation) (*domain.Conversation, error) {
	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	id := uuid.NewString()
	doc := conversationDoc{
		UserID:    string(in.UserID),
		PersonaID: string(in.PersonaID),
		Mode:      string(domain.ModePublic),
		CreatedAt: createdAt,
	}

	if _, err := s.conversationDoc(domain.ConversationID(id)).Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("firestore CreateConversation: %w", err)
	}
	return doc.toDomain(id), nil
}

func (s *Store) FindLatestConversation(ctx context.Context, userID domain.UserID, personaID domain.PersonaID) (*domain.Conversation, error) {
	q := s.conversationsCol().
		Where("user_id", "==", string(userID)).
		Where("persona_id", "==", string(personaID)).
		OrderBy("created_at", firestore.Desc).
		Limit(1)

	iter := q.Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("firestore FindLatestConversation: %w", err)
	}

	var doc conversationDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode conversationDoc: %w", err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

func (s *Store) GetConversation(ctx context.Context, id domain.ConversationID) (*domain.Conversation, error) {
	snap, err := s.conversationDoc(id).Get(ctx)
	if err != nil {
		if notFound(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("firestore GetConversation: %w", err)
	}

	var doc conversationDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("firestore GetConversation decode: %w", err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

// ─────────────────────────────────────────
// MessageStore implementation
// ─────────────────────────────────────────

func (s *Store) AppendMessage(ctx context.Context, conversationID domain.ConversationID, in domain.NewMessage) (*domain.Message, error) {
	want := in.CreatedAt
	if want.IsZero() {
		want = s.now()
	}

	col := s.messagesCol(conversationID)
	ref := col.NewDoc()
	var createdAt time.Time

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		// creation time is the ordering key, keep it strictly increasing per conversation
		last, err := tx.Documents(col.OrderBy("created_at", firestore.Desc).Limit(1)).GetAll()
		if err != nil {
			return err
		}
		var prev time.Time
		if len(last) > 0 {
			var doc messageDoc
			if err := last[0].DataTo(&doc); err != nil {
				return err
			}
			prev = doc.CreatedAt
		}
		createdAt = nextCreatedAt(prev, want)

		return tx.Create(ref, messageDoc{
			ConversationID: string(conversationID),
			Author:         string(in.Author),
			Text:           in.Text,
			CreatedAt:      createdAt,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("firestore AppendMessage: %w", err)
	}

	return &domain.Message{
		Ref:            domain.PersistedRef(domain.MessageID(ref.ID)),
		ConversationID: conversationID,
		Author:         in.Author,
		Text:           in.Text,
		CreatedAt:      createdAt,
	}, nil
}

// nextCreatedAt returns want at Firestore's microsecond precision, moved past
// prev when it would not sort after it.
func nextCreatedAt(prev, want time.Time) time.Time {
	want = want.Truncate(time.Microsecond)
	if !prev.IsZero() && !want.After(prev) {
		return prev.Truncate(time.Microsecond).Add(time.Microsecond)
	}
	return want
}

func (s *Store) ListMessages(ctx context.Context, conversationID domain.ConversationID) ([]*domain.Message, error) {
	iter := s.messagesCol(conversationID).OrderBy("created_at", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var out []*domain.Message
	for {
		snap, err := iter.Next()
		if err != nil {
			if errors.Is(err, iterator.Done) {
				break
			}
			return nil, fmt.Errorf("firestore ListMessages: %w", err)
		}

		var doc messageDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode messageDoc: %w", err)
		}

		out = append(out, &domain.Message{
			Ref:            domain.PersistedRef(domain.MessageID(snap.Ref.ID)),
			ConversationID: conversationID,
			Author:         domain.Role(doc.Author),
			Text:           doc.Text,
			CreatedAt:      doc.CreatedAt,
		})
	}
	return out, nil
}

// ─────────────────────────────────────────
// TokenLedger implementation
// ─────────────────────────────────────────

func (s *Store) CheckBalance(ctx context.Context, userID domain.UserID) (bool, error) {
	snap, err := s.ledgerDoc(userID).Get(ctx)
	if err != nil {
		if notFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("firestore CheckBalance: %w", err)
	}

	var doc ledgerDoc
	if err := snap.DataTo(&doc); err != nil {
		return false, fmt.Errorf("firestore CheckBalance decode: %w", err)
	}
	return doc.Balance > 0, nil
}

// Debit decrements the balance and records the debit in one transaction.
func (s *Store) Debit(ctx context.Context, d domain.Debit) error {
	ref := s.ledgerDoc(d.UserID)
	now := s.now()

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if notFound(err) {
				return domain.ErrInsufficientTokens
			}
			return err
		}

		var doc ledgerDoc
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		if doc.Balance < d.Cost {
			return domain.ErrInsufficientTokens
		}

		if err := tx.Update(ref, []firestore.Update{
			{Path: "balance", Value: firestore.Increment(-d.Cost)},
			{Path: "updated_at", Value: now},
		}); err != nil {
			return err
		}

		return tx.Create(s.debitsCol(d.UserID).NewDoc(), debitDoc{
			Cost:           d.Cost,
			ModelTag:       d.ModelTag,
			Description:    d.Description,
			ConversationID: string(d.ConversationID),
			CreatedAt:      now,
		})
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientTokens) {
			return fmt.Errorf("debit %d from %s: %w", d.Cost, d.UserID, err)
		}
		return fmt.Errorf("firestore Debit: %w", err)
	}
	return nil
}

// OpenAccount creates the ledger document with the opening balance; an existing one is left alone.
func (s *Store) OpenAccount(ctx context.Context, userID domain.UserID, opening int64) error {
	_, err := s.ledgerDoc(userID).Create(ctx, ledgerDoc{Balance: opening, UpdatedAt: s.now()})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return fmt.Errorf("firestore OpenAccount: %w", err)
	}
	return nil
}
