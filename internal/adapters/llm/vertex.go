package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/PabloGalante/persona-chat/internal/domain"
)

type VertexResponder struct {
	client    *genai.Client
	modelName string
}

// NewVertexResponder creates a Responder based on Vertex AI (Gemini).
func NewVertexResponder(ctx context.Context, projectID, location, modelName string) (*VertexResponder, error) {
	if projectID == "" || location == "" {
		return nil, fmt.Errorf("gcp project and location must be set")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Vertex AI client: %w", err)
	}

	return &VertexResponder{
		client:    client,
		modelName: modelName,
	}, nil
}

func (v *VertexResponder) ModelTag() string {
	return v.modelName
}

// Reply implements domain.Responder using Vertex AI.
func (v *VertexResponder) Reply(
	ctx context.Context,
	text string,
	pctx domain.PersonaContext,
) (string, error) {
	system := BuildSystemPrompt(pctx.Persona, pctx.Mode)

	contents := toContents(pctx.History)
	contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))

	temp := float32(0.8)
	topP := float32(0.9)

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       &temp,
		TopP:              &topP,
		MaxOutputTokens:   int32(2048),
	}

	res, err := v.client.Models.GenerateContent(ctx, v.modelName, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("vertex generate content: %w", err)
	}

	out := res.Text()
	if out == "" {
		return "", fmt.Errorf("vertex returned empty text")
	}
	return out, nil
}

// toContents maps history onto genai roles; assistant turns are the model's.
func toContents(history []*domain.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, m := range history {
		role := genai.Role(genai.RoleUser)
		if m.IsAssistant() {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Text, role))
	}
	return contents
}
