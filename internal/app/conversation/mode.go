package conversation

import (
	"github.com/PabloGalante/persona-chat/internal/domain"
)

// ModeState is the session's public/private flag plus the selected conversation.
// The selection is always empty while private. Values are immutable; transitions
// return the next state.
type ModeState struct {
	public   bool
	selected domain.ConversationID
}

func PublicState(id domain.ConversationID) ModeState {
	return ModeState{public: true, selected: id}
}

func PrivateState() ModeState {
	return ModeState{}
}

func initialState(m domain.Mode) ModeState {
	if m == domain.ModePrivate {
		return PrivateState()
	}
	return PublicState("")
}

func (s ModeState) IsPublic() bool {
	return s.public
}

func (s ModeState) Mode() domain.Mode {
	if s.public {
		return domain.ModePublic
	}
	return domain.ModePrivate
}

// Selected returns the selected conversation, if any.
func (s ModeState) Selected() (domain.ConversationID, bool) {
	return s.selected, s.selected != ""
}

// StartNew moves to Public with nothing selected.
func (s ModeState) StartNew() ModeState {
	return ModeState{public: true}
}

// ToPublic keeps a prior public selection, otherwise lands on Public with nothing selected.
func (s ModeState) ToPublic() ModeState {
	if s.public {
		return s
	}
	return ModeState{public: true}
}

// ToPrivate always drops the selection.
func (s ModeState) ToPrivate() ModeState {
	return ModeState{}
}

// Select is only valid while public.
func (s ModeState) Select(id domain.ConversationID) (ModeState, error) {
	if !s.public {
		return s, domain.ErrInvalidTransition
	}
	return ModeState{public: true, selected: id}, nil
}

func (s ModeState) String() string {
	if !s.public {
		return "Private"
	}
	if s.selected == "" {
		return "Public(None)"
	}
	return "Public(" + string(s.selected) + ")"
}
