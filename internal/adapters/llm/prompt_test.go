package llm_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/persona-chat/internal/adapters/llm"
	"github.com/PabloGalante/persona-chat/internal/domain"
)

var socrates = domain.Persona{ID: "socrates", Name: "Socrates", Prompt: "Answer with questions."}

func TestBuildPromptIncludesHistoryAndPersona(t *testing.T) {
	p := llm.BuildPrompt("And courage?", domain.PersonaContext{
		Persona: socrates,
		Mode:    domain.ModePublic,
		History: []*domain.Message{
			{Author: domain.RoleUser, Text: "What is virtue?"},
			{Author: domain.RoleAssistant, Text: "Virtue is..."},
		},
	})

	assert.Contains(t, p.System, "Persona: Socrates")
	assert.Contains(t, p.System, "Answer with questions.")
	assert.Contains(t, p.System, "Mode: public")
	assert.True(t, strings.HasPrefix(p.User, "Conversation so far:\nuser: What is virtue?\nassistant: Virtue is..."))
	assert.True(t, strings.HasSuffix(p.User, "New user message:\nAnd courage?"))
}

func TestBuildSystemPromptPrivate(t *testing.T) {
	sys := llm.BuildSystemPrompt(domain.Persona{ID: "oracle"}, domain.ModePrivate)
	assert.Contains(t, sys, "Persona: oracle")
	assert.Contains(t, sys, "Mode: confession")
}

func TestMockResponder(t *testing.T) {
	r := llm.NewMockResponder()
	out, err := r.Reply(context.Background(), "hello", domain.PersonaContext{Persona: socrates})
	require.NoError(t, err)
	assert.Contains(t, out, "Socrates")
	assert.Contains(t, out, `"hello"`)
	assert.Equal(t, "mock", r.ModelTag())
}

func TestMockResponderAnswersFromPrompt(t *testing.T) {
	r := llm.NewMockResponder()
	history := []*domain.Message{
		{Author: domain.RoleUser, Text: "What is virtue?"},
		{Author: domain.RoleAssistant, Text: "Virtue is..."},
	}

	out, err := r.Reply(context.Background(), "And courage?", domain.PersonaContext{
		Persona: socrates,
		Mode:    domain.ModePublic,
		History: history,
	})
	require.NoError(t, err)
	assert.Contains(t, out, `You said "And courage?"`)
	assert.Contains(t, out, "I remember the 2 messages before it.")
	assert.NotContains(t, out, "stays between us")

	out, err = r.Reply(context.Background(), "a secret", domain.PersonaContext{
		Persona: domain.Persona{ID: "oracle"},
		Mode:    domain.ModePrivate,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, `oracle hears you. You said "a secret".`))
	assert.NotContains(t, out, "I remember")
	assert.Contains(t, out, "This stays between us.")
}

func TestMockResponderHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := llm.NewMockResponder().Reply(ctx, "hello", domain.PersonaContext{Persona: socrates})
	require.ErrorIs(t, err, context.Canceled)
}
