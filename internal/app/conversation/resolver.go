package conversation

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/PabloGalante/persona-chat/internal/domain"
	"github.com/PabloGalante/persona-chat/internal/observability"
)

// Resolve selects the most recent conversation for (user, persona) when the session
// is public with nothing selected. It never creates a conversation and never runs
// while a selection exists or a turn is in flight, so it is safe to call repeatedly.
// It returns the selection in effect afterwards.
func (c *Controller) Resolve(ctx context.Context) (domain.ConversationID, error) {
	c.mu.Lock()
	if err := c.authErrLocked(); err != nil {
		c.mu.Unlock()
		return "", err
	}
	current, selected := c.mode.Selected()
	if !c.mode.IsPublic() || selected || c.fresh || c.turn != 0 || c.persona.ID == "" {
		c.mu.Unlock()
		return current, nil
	}
	gen := c.gen
	userID := c.principal.UserID
	personaID := c.persona.ID
	c.mu.Unlock()

	log := observability.LoggerFromContext(ctx).With(
		zap.String("user_id", string(userID)),
		zap.String("persona_id", string(personaID)),
	)

	conv, err := c.conversations.FindLatestConversation(ctx, userID, personaID)

	c.mu.Lock()
	if aerr := c.authErrLocked(); aerr != nil {
		c.mu.Unlock()
		return "", aerr
	}
	current, selected = c.mode.Selected()
	if gen != c.gen || selected || c.turn != 0 {
		c.mu.Unlock()
		log.Debug("dropping stale resolver result")
		return current, nil
	}
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.mu.Unlock()
			log.Debug("no previous conversation for persona")
			return "", nil
		}
		c.setNoticeLocked(domain.KindPersistence, domain.NoticeLoadFailed)
		c.mu.Unlock()
		log.Error("failed to resolve latest conversation", zap.Error(err))
		return "", domain.Wrap(domain.KindPersistence, "find_latest_conversation", err)
	}

	c.mode = PublicState(conv.ID)
	c.gen++
	c.mu.Unlock()

	log.Info("resolved latest conversation", zap.String("conversation_id", string(conv.ID)))
	return conv.ID, c.Load(ctx)
}
