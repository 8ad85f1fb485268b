package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/PabloGalante/persona-chat/internal/domain"
)

// MockResponder answers from the rendered prompt without calling a model.
// Used in local mode and tests.
type MockResponder struct{}

func NewMockResponder() *MockResponder {
	return &MockResponder{}
}

func (m *MockResponder) Reply(ctx context.Context, text string, pctx domain.PersonaContext) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p := BuildPrompt(text, pctx)

	name := pctx.Persona.Name
	if name == "" {
		name = string(pctx.Persona.ID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s hears you. You said %q.", name, newUserMessage(p))
	if n := len(pctx.History); n > 0 {
		fmt.Fprintf(&b, " I remember the %d messages before it.", n)
	}
	if strings.Contains(p.System, "Mode: confession") {
		b.WriteString(" This stays between us.")
	}
	b.WriteString(" Tell me more about what you mean.")
	return b.String(), nil
}

func (m *MockResponder) ModelTag() string {
	return "mock"
}

// newUserMessage extracts the message being answered from the prompt's user part.
func newUserMessage(p Prompt) string {
	const marker = "New user message:\n"
	if i := strings.LastIndex(p.User, marker); i >= 0 {
		return p.User[i+len(marker):]
	}
	return p.User
}
