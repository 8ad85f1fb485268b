package conversation

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/PabloGalante/persona-chat/internal/domain"
	"github.com/PabloGalante/persona-chat/internal/observability"
)

// TurnResult describes a completed turn.
type TurnResult struct {
	// ConversationID is the conversation the turn was written to, possibly created
	// by this turn. Empty in private mode.
	ConversationID domain.ConversationID
	UserMessage    *domain.Message
	Reply          *domain.Message
	// BillingErr is set when the reply was delivered but the debit failed.
	BillingErr error
	// Stale is set when the session moved on while the responder was working.
	// The reply was billed and, in public mode, stored, but the view was left alone.
	Stale bool
}

type turnState struct {
	id        uint64
	gen       uint64
	principal domain.Principal
	persona   domain.Persona
	public    bool
	convID    domain.ConversationID
	text      string
	local     *domain.Message
	history   []*domain.Message
}

// Send runs one user turn: optimistic echo, balance check, lazy conversation
// creation, user message persistence, responder call, debit and reply.
//
// Failures are turned into a notice and only the failed step is rolled back.
// Losing the session aborts all further writes with ErrAuthRequired.
func (c *Controller) Send(ctx context.Context, text string) (*TurnResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.ErrEmptyMessage
	}

	t, err := c.beginTurn(text)
	if err != nil {
		return nil, err
	}
	defer c.finishTurn(t.id)

	log := observability.LoggerFromContext(ctx).With(
		zap.String("user_id", string(t.principal.UserID)),
		zap.String("persona_id", string(t.persona.ID)),
		zap.Uint64("turn", t.id),
	)

	// 2. balance
	ok, err := c.ledger.CheckBalance(ctx, t.principal.UserID)
	if cerr := c.checkpoint(t); cerr != nil {
		return nil, cerr
	}
	if err != nil || !ok {
		return nil, c.abortBalance(log, t, err)
	}

	// 3. conversation
	if t.public && t.convID == "" {
		if err := c.ensureConversation(ctx, log, t); err != nil {
			return nil, err
		}
	}

	res := &TurnResult{ConversationID: t.convID, UserMessage: t.local}

	// 4. user message
	if t.public {
		stored, err := c.messages.AppendMessage(ctx, t.convID, domain.NewMessage{
			Author:    domain.RoleUser,
			Text:      text,
			CreatedAt: t.local.CreatedAt,
		})
		c.mu.Lock()
		if aerr := c.authErrLocked(); aerr != nil {
			c.mu.Unlock()
			return nil, aerr
		}
		current := t.gen == c.gen
		if err != nil {
			if current {
				c.view = removeRef(c.view, t.local.Ref)
				c.setNoticeLocked(domain.KindPersistence, domain.NoticeSendFailed)
			}
			c.draft = text
			c.mu.Unlock()
			log.Error("failed to persist user message", zap.Error(err))
			return nil, domain.Wrap(domain.KindPersistence, "append_user_message", err)
		}
		// The stored message must get its reply, so a turn that went stale
		// here keeps going in its own conversation without touching the view.
		if current {
			replaceRef(c.view, t.local.Ref, stored)
		} else {
			res.Stale = true
		}
		c.mu.Unlock()
		res.UserMessage = stored
	}

	// 5. responder
	replyText, err := c.responder.Reply(ctx, text, domain.PersonaContext{
		Persona:        t.persona,
		UserID:         t.principal.UserID,
		ConversationID: t.convID,
		Mode:           modeOf(t.public),
		History:        t.history,
	})
	c.mu.Lock()
	if aerr := c.authErrLocked(); aerr != nil {
		c.mu.Unlock()
		return nil, aerr
	}
	if err != nil {
		if t.gen == c.gen {
			c.setNoticeLocked(domain.KindResponder, domain.NoticeResponderFailed)
		}
		c.mu.Unlock()
		log.Error("responder failed", zap.Error(err))
		return nil, domain.Wrap(domain.KindResponder, "reply", err)
	}
	res.Stale = res.Stale || t.gen != c.gen
	c.mu.Unlock()

	// 6. debit
	if err := c.debit(ctx, t); err != nil {
		res.BillingErr = err
		c.mu.Lock()
		if t.gen == c.gen {
			c.setNoticeLocked(domain.KindOf(err), domain.NoticeBillingFailed)
		}
		c.mu.Unlock()
		log.Error("billing error, reply delivered anyway", zap.Error(err))
	}

	// 7. reply
	reply, err := c.deliverReply(ctx, t, replyText, res)
	if err != nil {
		log.Error("failed to persist reply", zap.Error(err))
		return nil, err
	}
	res.Reply = reply

	if res.Stale {
		log.Info("turn finished after the session moved on")
		return res, nil
	}

	c.reveal.Observe(c.Messages())
	log.Info("turn completed", zap.String("conversation_id", string(res.ConversationID)))
	return res, nil
}

func (c *Controller) beginTurn(text string) (*turnState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.authErrLocked(); err != nil {
		return nil, err
	}
	if c.turn != 0 {
		return nil, domain.ErrTurnInFlight
	}

	c.turnSeq++
	c.turn = c.turnSeq
	convID, _ := c.mode.Selected()
	t := &turnState{
		id:        c.turnSeq,
		gen:       c.gen,
		principal: *c.principal,
		persona:   c.persona,
		public:    c.mode.IsPublic(),
		convID:    convID,
		text:      text,
		history:   tail(c.view, c.historyLimit),
	}

	// 1. optimistic echo
	t.local = &domain.Message{
		Ref:            domain.LocalRef(c.localID()),
		ConversationID: convID,
		Author:         domain.RoleUser,
		Text:           text,
		CreatedAt:      c.now(),
	}
	c.view = append(c.view, t.local)
	c.draft = ""
	c.notice = nil
	return t, nil
}

// finishTurn clears the in-flight marker unless a transition already released it.
func (c *Controller) finishTurn(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.turn == id {
		c.turn = 0
	}
}

func (c *Controller) checkpoint(t *turnState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checkpointLocked(t)
}

// checkpointLocked reports whether the turn may keep writing after a suspension
// point. Only used before anything durable was written, so a stale turn hands
// its text back to the compose field.
func (c *Controller) checkpointLocked(t *turnState) error {
	if err := c.authErrLocked(); err != nil {
		return err
	}
	if t.gen != c.gen {
		c.draft = t.text
		return domain.ErrStale
	}
	return nil
}

func (c *Controller) abortBalance(log *zap.Logger, t *turnState, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.view = removeRef(c.view, t.local.Ref)
	c.draft = t.text
	if err != nil {
		c.setNoticeLocked(domain.KindPersistence, domain.NoticeSendFailed)
		log.Error("balance check failed", zap.Error(err))
		return domain.Wrap(domain.KindPersistence, "check_balance", err)
	}
	c.setNoticeLocked(domain.KindInsufficientResource, domain.NoticeInsufficientTokens)
	log.Info("insufficient tokens, turn rejected")
	return domain.ErrInsufficientTokens
}

// ensureConversation creates the conversation for the first public turn and
// adopts it as the selection. It is attempted once per turn.
func (c *Controller) ensureConversation(ctx context.Context, log *zap.Logger, t *turnState) error {
	conv, err := c.conversations.CreateConversation(ctx, domain.NewConversation{
		UserID:    t.principal.UserID,
		PersonaID: t.persona.ID,
		CreatedAt: c.now(),
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if cerr := c.checkpointLocked(t); cerr != nil {
		if err == nil {
			log.Warn("conversation created for a turn that went stale",
				zap.String("conversation_id", string(conv.ID)))
		}
		return cerr
	}
	if err != nil {
		c.view = removeRef(c.view, t.local.Ref)
		c.draft = t.text
		c.setNoticeLocked(domain.KindPersistence, domain.NoticeCreateFailed)
		log.Error("failed to create conversation", zap.Error(err))
		return domain.Wrap(domain.KindPersistence, "create_conversation", err)
	}

	// Adopting the conversation the turn itself created is not a transition:
	// the view already holds this conversation's log, so gen stays.
	c.mode = PublicState(conv.ID)
	c.fresh = false
	t.convID = conv.ID
	log.Info("conversation created", zap.String("conversation_id", string(conv.ID)))
	return nil
}

func (c *Controller) debit(ctx context.Context, t *turnState) error {
	if c.turnCost == 0 {
		return nil
	}
	err := c.ledger.Debit(ctx, domain.Debit{
		UserID:         t.principal.UserID,
		Cost:           c.turnCost,
		ModelTag:       c.modelTag,
		Description:    fmt.Sprintf("chat turn with %s", personaLabel(t.persona)),
		ConversationID: t.convID,
	})
	if err == nil {
		return nil
	}
	if domain.KindOf(err) == domain.KindUnknown {
		return domain.Wrap(domain.KindPersistence, "debit", err)
	}
	return err
}

// deliverReply stores the reply in public mode and appends it to the view
// unless the session has moved on.
func (c *Controller) deliverReply(ctx context.Context, t *turnState, text string, res *TurnResult) (*domain.Message, error) {
	if !t.public {
		reply := &domain.Message{
			Ref:       domain.LocalRef(c.localID()),
			Author:    domain.RoleAssistant,
			Text:      text,
			CreatedAt: c.now(),
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if err := c.authErrLocked(); err != nil {
			return nil, err
		}
		if t.gen != c.gen {
			res.Stale = true
			return reply, nil
		}
		c.view = append(c.view, reply)
		return reply, nil
	}

	c.mu.Lock()
	if err := c.authErrLocked(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.mu.Unlock()

	stored, err := c.messages.AppendMessage(ctx, t.convID, domain.NewMessage{
		Author:    domain.RoleAssistant,
		Text:      text,
		CreatedAt: c.now(),
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if aerr := c.authErrLocked(); aerr != nil {
		return nil, aerr
	}
	current := t.gen == c.gen
	if err != nil {
		if current {
			c.setNoticeLocked(domain.KindPersistence, domain.NoticeReplySaveFailed)
		}
		return nil, domain.Wrap(domain.KindPersistence, "append_reply", err)
	}
	if !current {
		res.Stale = true
		return stored, nil
	}
	c.view = append(c.view, stored)
	return stored, nil
}

func modeOf(public bool) domain.Mode {
	if public {
		return domain.ModePublic
	}
	return domain.ModePrivate
}

func personaLabel(p domain.Persona) string {
	if p.Name != "" {
		return p.Name
	}
	return string(p.ID)
}
