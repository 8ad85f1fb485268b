package domain

// Conversation is a persisted dialogue between a user and one persona.
// It is created on the first public turn and never mutated afterwards.
type Conversation struct {
	ID        ConversationID
	UserID    UserID
	PersonaID PersonaID
	Mode      Mode
	CreatedAt Timestamp
}

// OwnedBy reports whether p may read the conversation.
func (c *Conversation) OwnedBy(p Principal) bool {
	return p.IsAdmin || c.UserID == p.UserID
}

// MessageRef identifies a message either by a temporary local id or by the
// durable id the message store assigned to it.
type MessageRef struct {
	id        MessageID
	persisted bool
}

// LocalRef is used for optimistic and private-mode messages.
func LocalRef(id MessageID) MessageRef {
	return MessageRef{id: id}
}

// PersistedRef is used once a message store accepted the message.
func PersistedRef(id MessageID) MessageRef {
	return MessageRef{id: id, persisted: true}
}

func (r MessageRef) ID() MessageID     { return r.id }
func (r MessageRef) IsPersisted() bool { return r.persisted }
func (r MessageRef) IsZero() bool      { return r.id == "" }

func (r MessageRef) String() string {
	if r.persisted {
		return "persisted:" + string(r.id)
	}
	return "local:" + string(r.id)
}

// Message is one entry of a conversation timeline (user or assistant).
type Message struct {
	Ref            MessageRef
	ConversationID ConversationID
	Author         Role
	Text           string
	CreatedAt      Timestamp
}

func (m *Message) IsAssistant() bool {
	return m.Author == RoleAssistant
}

// NewConversation carries what a ConversationStore needs to create a record.
type NewConversation struct {
	UserID    UserID
	PersonaID PersonaID
	CreatedAt Timestamp
}

// NewMessage carries what a MessageStore needs to append a message.
type NewMessage struct {
	Author    Role
	Text      string
	CreatedAt Timestamp
}

// Persona is the simulated counterpart of a conversation.
// Prompt is opaque to the controller and only forwarded to the responder.
type Persona struct {
	ID     PersonaID
	Name   string
	Prompt string
}

// Principal is the outcome of a resolved session.
type Principal struct {
	UserID  UserID
	IsAdmin bool
}

// Debit is a request to consume tokens for one turn.
type Debit struct {
	UserID         UserID
	Cost           int64
	ModelTag       string
	Description    string
	ConversationID ConversationID
}
