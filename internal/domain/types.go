package domain

import "time"

type UserID string
type PersonaID string
type ConversationID string
type MessageID string

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Mode tags how a conversation is kept. Only public conversations are ever persisted.
type Mode string

const (
	ModePublic  Mode = "public"
	ModePrivate Mode = "private"
)

// ParseMode accepts the names used by the HTTP and CLI surfaces.
// "confession" is an alias for private.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "public", "":
		return ModePublic, true
	case "private", "confession":
		return ModePrivate, true
	default:
		return "", false
	}
}

type Timestamp = time.Time
