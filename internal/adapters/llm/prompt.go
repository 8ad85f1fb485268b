package llm

import (
	"strings"

	"github.com/PabloGalante/persona-chat/internal/domain"
)

const baseSystemPrompt = `
You are role-playing a persona in a one-to-one conversation with a user.

General style guidelines:
- Stay in character for the whole conversation.
- Answer in the SAME LANGUAGE as the user.
- Be concise: a few short paragraphs at most.
- Do not mention that you are an AI model unless the user asks directly.
`

const publicInstructions = `
Mode: public

This conversation is saved and the user may come back to it later.
`

const privateInstructions = `
Mode: confession

This conversation is not saved anywhere. The user may share things they would not say in public.
Be discreet and never refer back to earlier private conversations.
`

// Prompt represents the system prompt + the content to send as "user".
type Prompt struct {
	System string
	User   string
}

// BuildSystemPrompt combines the base rules, the persona's own prompt and the mode instructions.
func BuildSystemPrompt(p domain.Persona, mode domain.Mode) string {
	var b strings.Builder
	b.WriteString(baseSystemPrompt)
	b.WriteString("\nPersona: ")
	if p.Name != "" {
		b.WriteString(p.Name)
	} else {
		b.WriteString(string(p.ID))
	}
	b.WriteString("\n")
	if p.Prompt != "" {
		b.WriteString(p.Prompt)
		b.WriteString("\n")
	}
	b.WriteString(modeInstructions(mode))
	return b.String()
}

// BuildPrompt builds the system prompt and the user content
// (history + new message) from the persona context.
func BuildPrompt(userMessage string, pctx domain.PersonaContext) Prompt {
	var historyParts []string
	for _, m := range pctx.History {
		historyParts = append(historyParts, string(m.Author)+": "+m.Text)
	}

	historyText := strings.Join(historyParts, "\n")

	var userContent strings.Builder
	if historyText != "" {
		userContent.WriteString("Conversation so far:\n")
		userContent.WriteString(historyText)
		userContent.WriteString("\n\n")
	}
	userContent.WriteString("New user message:\n")
	userContent.WriteString(userMessage)

	return Prompt{
		System: BuildSystemPrompt(pctx.Persona, pctx.Mode),
		User:   userContent.String(),
	}
}

func modeInstructions(mode domain.Mode) string {
	switch mode {
	case domain.ModePrivate:
		return privateInstructions
	case domain.ModePublic:
		fallthrough
	default:
		return publicInstructions
	}
}
