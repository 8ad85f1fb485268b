package conversation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/persona-chat/internal/app/conversation"
	"github.com/PabloGalante/persona-chat/internal/domain"
)

func TestModeTransitions(t *testing.T) {
	s := conversation.PublicState("c1")

	assert.Equal(t, "Public(c1)", s.ToPublic().String())
	assert.Equal(t, "Public(None)", s.StartNew().String())

	private := s.ToPrivate()
	_, selected := private.Selected()
	assert.False(t, selected)
	assert.Equal(t, domain.ModePrivate, private.Mode())
	assert.Equal(t, "Public(None)", private.ToPublic().String())

	next, err := private.Select("c2")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, private, next)

	next, err = s.Select("c2")
	require.NoError(t, err)
	id, selected := next.Selected()
	assert.True(t, selected)
	assert.Equal(t, domain.ConversationID("c2"), id)
}
