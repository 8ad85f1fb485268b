package domain

import "context"

// AuthGate resolves the current session and signals when it ends.
type AuthGate interface {
	// ResolveSession returns ErrAuthRequired when there is no valid session.
	ResolveSession(ctx context.Context) (*Principal, error)
	// Watch returns a channel that is closed once the principal's session ends.
	Watch(p Principal) <-chan struct{}
}

// TokenLedger is the authoritative owner of token balances.
type TokenLedger interface {
	CheckBalance(ctx context.Context, userID UserID) (bool, error)
	// Debit returns ErrInsufficientTokens when the balance cannot cover the cost.
	Debit(ctx context.Context, d Debit) error
}

// ConversationStore defines conversation persistence.
type ConversationStore interface {
	CreateConversation(ctx context.Context, in NewConversation) (*Conversation, error)
	// FindLatestConversation returns ErrNotFound when the user has none for the persona.
	FindLatestConversation(ctx context.Context, userID UserID, personaID PersonaID) (*Conversation, error)
	GetConversation(ctx context.Context, id ConversationID) (*Conversation, error)
}

// MessageStore defines message persistence. Messages are returned ordered by creation time.
type MessageStore interface {
	AppendMessage(ctx context.Context, conversationID ConversationID, in NewMessage) (*Message, error)
	ListMessages(ctx context.Context, conversationID ConversationID) ([]*Message, error)
}

// Responder produces the persona's reply to a user message.
type Responder interface {
	Reply(ctx context.Context, text string, pctx PersonaContext) (string, error)
}

// PersonaContext gives the responder minimal context about the conversation.
type PersonaContext struct {
	Persona        Persona
	UserID         UserID
	ConversationID ConversationID // empty in private mode
	Mode           Mode
	History        []*Message // oldest first, excludes the current message
}
