package conversation

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/PabloGalante/persona-chat/internal/domain"
	"github.com/PabloGalante/persona-chat/internal/observability"
)

// Load rebuilds the view from the selected conversation's log. With nothing
// selected, or in private mode, it clears the view without touching any store.
//
// Ownership is re-checked on every load. Identical concurrent loads share one fetch,
// and a result that arrives after the selection or mode changed is discarded.
func (c *Controller) Load(ctx context.Context) error {
	c.mu.Lock()
	if err := c.authErrLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	id, selected := c.mode.Selected()
	if !c.mode.IsPublic() || !selected {
		c.view = nil
		c.mu.Unlock()
		return nil
	}
	if c.turn != 0 {
		// the turn in flight owns this view
		c.mu.Unlock()
		return nil
	}
	gen := c.gen
	principal := *c.principal
	key := fmt.Sprintf("%s|%s|%d", id, c.mode.Mode(), gen)
	c.mu.Unlock()

	log := observability.LoggerFromContext(ctx).With(
		zap.String("conversation_id", string(id)),
		zap.String("user_id", string(principal.UserID)),
	)

	v, err, shared := c.loads.Do(key, func() (any, error) {
		return c.fetch(ctx, principal, id)
	})
	if shared {
		log.Debug("joined load in progress")
	}

	c.mu.Lock()
	if aerr := c.authErrLocked(); aerr != nil {
		c.mu.Unlock()
		return aerr
	}
	if gen != c.gen {
		c.mu.Unlock()
		log.Debug("dropping stale load")
		return nil
	}
	if err != nil {
		c.view = nil
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrUnauthorized) {
			c.mode = c.mode.StartNew()
			c.gen++
			c.setNoticeLocked(domain.KindOf(err), domain.NoticeConversationGone)
			c.mu.Unlock()
			log.Warn("conversation not found or not owned", zap.Error(err))
			return err
		}
		c.setNoticeLocked(domain.KindPersistence, domain.NoticeLoadFailed)
		c.mu.Unlock()
		log.Error("failed to load conversation", zap.Error(err))
		return err
	}

	msgs := v.([]*domain.Message)
	c.view = cloneView(msgs)
	c.mu.Unlock()

	c.reveal.Seed(msgs)
	log.Info("conversation loaded", zap.Int("message_count", len(msgs)))
	return nil
}

func (c *Controller) fetch(ctx context.Context, p domain.Principal, id domain.ConversationID) ([]*domain.Message, error) {
	conv, err := c.conversations.GetConversation(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.Wrap(domain.KindNotFound, "get_conversation", err)
		}
		return nil, domain.Wrap(domain.KindPersistence, "get_conversation", err)
	}
	if !conv.OwnedBy(p) {
		return nil, domain.Wrap(domain.KindUnauthorized, "get_conversation",
			fmt.Errorf("conversation %s is not owned by %s", id, p.UserID))
	}

	msgs, err := c.messages.ListMessages(ctx, id)
	if err != nil {
		return nil, domain.Wrap(domain.KindPersistence, "list_messages", err)
	}
	return msgs, nil
}
