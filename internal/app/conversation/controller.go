package conversation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/PabloGalante/persona-chat/internal/app/reveal"
	"github.com/PabloGalante/persona-chat/internal/domain"
	"github.com/PabloGalante/persona-chat/internal/observability"
)

const defaultHistoryLimit = 20

var errClosed = errors.New("controller closed")

type Options struct {
	Auth          domain.AuthGate
	Ledger        domain.TokenLedger
	Conversations domain.ConversationStore
	Messages      domain.MessageStore
	Responder     domain.Responder

	// Reveal is optional. When nil the controller owns a scheduler that reveals at once.
	Reveal *reveal.Scheduler

	Persona  domain.Persona
	Mode     domain.Mode // initial mode, public when empty
	TurnCost int64
	ModelTag string
	// HistoryLimit bounds how many view entries are handed to the responder.
	HistoryLimit int
}

// Controller owns one user's conversation session: the mode state, the view
// message list and the turn pipeline. All state changes go through its methods.
//
// The mutex is never held across a call to a collaborator. Every transition bumps
// gen; asynchronous work records gen when it starts and drops its results when
// gen moved on.
type Controller struct {
	auth          domain.AuthGate
	ledger        domain.TokenLedger
	conversations domain.ConversationStore
	messages      domain.MessageStore
	responder     domain.Responder
	reveal        *reveal.Scheduler
	ownsReveal    bool

	turnCost     int64
	modelTag     string
	historyLimit int

	now     func() time.Time
	localID func() domain.MessageID

	loads singleflight.Group

	mountOnce sync.Once
	mountErr  error
	closeOnce sync.Once
	stopWatch chan struct{}
	watchDone chan struct{}

	mu        sync.Mutex
	principal *domain.Principal
	authLost  bool
	closed    bool
	mode      ModeState
	fresh     bool // StartNewConversation was requested, keep the resolver away
	persona   domain.Persona
	view      []*domain.Message
	draft     string
	notice    *domain.Notice
	gen       uint64
	turn      uint64 // id of the turn in flight, 0 when idle
	turnSeq   uint64
}

func NewController(opts Options) *Controller {
	c := &Controller{
		auth:          opts.Auth,
		ledger:        opts.Ledger,
		conversations: opts.Conversations,
		messages:      opts.Messages,
		responder:     opts.Responder,
		reveal:        opts.Reveal,
		turnCost:      opts.TurnCost,
		modelTag:      opts.ModelTag,
		historyLimit:  opts.HistoryLimit,
		now:           time.Now,
		localID: func() domain.MessageID {
			return domain.MessageID("local-" + uuid.NewString())
		},
		stopWatch: make(chan struct{}),
		mode:      initialState(opts.Mode),
		persona:   opts.Persona,
	}
	if c.reveal == nil {
		c.reveal = reveal.New(reveal.Options{})
		c.ownsReveal = true
	}
	if c.historyLimit == 0 {
		c.historyLimit = defaultHistoryLimit
	}
	if c.modelTag == "" {
		c.modelTag = "unknown"
	}
	return c
}

// Mount resolves the session exactly once, then runs the resolver and loader
// for the initial state. Later calls reuse the first auth outcome.
func (c *Controller) Mount(ctx context.Context) error {
	c.mountOnce.Do(func() {
		c.mountErr = c.resolveSession(ctx)
	})
	if c.mountErr != nil {
		return c.mountErr
	}
	return c.refresh(ctx)
}

func (c *Controller) resolveSession(ctx context.Context) error {
	log := observability.LoggerFromContext(ctx)

	p, err := c.auth.ResolveSession(ctx)
	if err != nil {
		c.mu.Lock()
		c.authLost = true
		c.setNoticeLocked(domain.KindAuthRequired, domain.NoticeAuthRequired)
		c.mu.Unlock()

		log.Warn("session not authorized", zap.Error(err))
		return domain.Wrap(domain.KindAuthRequired, "resolve_session", err)
	}

	ended := c.auth.Watch(*p)

	c.mu.Lock()
	c.principal = p
	c.watchDone = make(chan struct{})
	c.mu.Unlock()

	go c.watchSession(ended)

	log.Info("session resolved", zap.String("user_id", string(p.UserID)), zap.Bool("admin", p.IsAdmin))
	return nil
}

func (c *Controller) watchSession(ended <-chan struct{}) {
	defer close(c.watchDone)

	select {
	case <-ended:
		c.endSession()
	case <-c.stopWatch:
	}
}

// endSession handles a lost session: everything in flight becomes stale and
// every later operation fails with ErrAuthRequired.
func (c *Controller) endSession() {
	c.mu.Lock()
	c.authLost = true
	c.gen++
	c.turn = 0
	if c.mode.IsPublic() {
		c.mode = c.mode.StartNew()
	}
	c.view = nil
	c.setNoticeLocked(domain.KindAuthRequired, domain.NoticeAuthRequired)
	userID := ""
	if c.principal != nil {
		userID = string(c.principal.UserID)
	}
	c.mu.Unlock()

	c.reveal.Seed(nil)
	observability.Logger().Warn("session ended, conversation view closed", zap.String("user_id", userID))
}

// Close stops the session watcher and the owned reveal scheduler. In-flight work becomes stale.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.gen++
		c.turn = 0
		done := c.watchDone
		c.mu.Unlock()

		close(c.stopWatch)
		if done != nil {
			<-done
		}
		if c.ownsReveal {
			c.reveal.Close()
		}
	})
}

// ─────────────────────────────────────────────
// Transitions
// ─────────────────────────────────────────────

// StartNewConversation moves to Public(None) and clears the view. The conversation
// itself is created by the first turn; the resolver stays away until then.
func (c *Controller) StartNewConversation(ctx context.Context) error {
	c.mu.Lock()
	if err := c.authErrLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mode = c.mode.StartNew()
	c.fresh = true
	c.resetLocked()
	c.mu.Unlock()

	c.reveal.Seed(nil)
	observability.LoggerFromContext(ctx).Debug("started new conversation")
	return nil
}

// SwitchToPublic keeps a prior public selection, otherwise resolves the latest
// conversation for the persona.
func (c *Controller) SwitchToPublic(ctx context.Context) error {
	c.mu.Lock()
	if err := c.authErrLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.mode.IsPublic() {
		c.mu.Unlock()
		return nil
	}
	c.mode = c.mode.ToPublic()
	c.fresh = false
	c.resetLocked()
	c.mu.Unlock()

	c.reveal.Seed(nil)
	return c.refresh(ctx)
}

// SwitchToPrivate drops the selection and wipes the view unconditionally.
func (c *Controller) SwitchToPrivate(ctx context.Context) error {
	c.mu.Lock()
	if err := c.authErrLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mode = c.mode.ToPrivate()
	c.fresh = false
	c.resetLocked()
	c.mu.Unlock()

	c.reveal.Seed(nil)
	observability.LoggerFromContext(ctx).Debug("switched to private mode")
	return nil
}

// SelectConversation shows an existing conversation. Only valid while public;
// in private mode it returns ErrInvalidTransition and changes nothing.
func (c *Controller) SelectConversation(ctx context.Context, id domain.ConversationID) error {
	c.mu.Lock()
	if err := c.authErrLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	next, err := c.mode.Select(id)
	if err != nil {
		c.mu.Unlock()
		observability.LoggerFromContext(ctx).Warn("select conversation ignored in private mode",
			zap.String("conversation_id", string(id)))
		return err
	}
	c.mode = next
	c.fresh = false
	c.resetLocked()
	c.mu.Unlock()

	c.reveal.Seed(nil)
	return c.Load(ctx)
}

// SetPersona switches the counterpart. A different persona drops the current
// selection and view, then resolves that persona's latest conversation.
func (c *Controller) SetPersona(ctx context.Context, p domain.Persona) error {
	c.mu.Lock()
	if err := c.authErrLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.persona.ID == p.ID {
		c.persona = p
		c.mu.Unlock()
		return nil
	}
	c.persona = p
	if c.mode.IsPublic() {
		c.mode = c.mode.StartNew()
	}
	c.fresh = false
	c.resetLocked()
	c.mu.Unlock()

	c.reveal.Seed(nil)
	return c.refresh(ctx)
}

// SetDraft stores the compose field's content.
func (c *Controller) SetDraft(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft = text
}

// refresh runs whichever of resolver or loader the current state calls for.
func (c *Controller) refresh(ctx context.Context) error {
	c.mu.Lock()
	_, selected := c.mode.Selected()
	public := c.mode.IsPublic()
	c.mu.Unlock()

	if public && !selected {
		_, err := c.Resolve(ctx)
		return err
	}
	return c.Load(ctx)
}

// resetLocked starts a new generation with an empty view. A turn still running
// from the previous generation keeps going but no longer blocks new turns.
func (c *Controller) resetLocked() {
	c.gen++
	c.turn = 0
	c.view = nil
	c.notice = nil
}

func (c *Controller) authErrLocked() error {
	if c.closed {
		return domain.Wrap(domain.KindStale, "controller", errClosed)
	}
	if c.authLost || c.principal == nil {
		return domain.ErrAuthRequired
	}
	return nil
}

func (c *Controller) setNoticeLocked(kind domain.ErrorKind, text string) {
	c.notice = &domain.Notice{Kind: kind, Text: text}
}

// ─────────────────────────────────────────────
// Snapshot
// ─────────────────────────────────────────────

// Snapshot is a read-only copy of the controller state for presentation layers.
type Snapshot struct {
	Authorized     bool
	UserID         domain.UserID
	Mode           domain.Mode
	ConversationID domain.ConversationID
	Persona        domain.Persona
	Messages       []domain.Message
	Draft          string
	Notice         *domain.Notice
	TurnInFlight   bool
	Reveal         *reveal.Frame
	Generation     uint64
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	s := Snapshot{
		Authorized:   c.principal != nil && !c.authLost,
		Mode:         c.mode.Mode(),
		Persona:      c.persona,
		Draft:        c.draft,
		TurnInFlight: c.turn != 0,
		Generation:   c.gen,
	}
	if c.principal != nil {
		s.UserID = c.principal.UserID
	}
	s.ConversationID, _ = c.mode.Selected()
	if c.notice != nil {
		n := *c.notice
		s.Notice = &n
	}
	s.Messages = make([]domain.Message, 0, len(c.view))
	for _, m := range c.view {
		s.Messages = append(s.Messages, *m)
	}
	c.mu.Unlock()

	if f, ok := c.reveal.Current(); ok {
		s.Reveal = &f
	}
	return s
}

// Messages returns the current view message list.
func (c *Controller) Messages() []*domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneView(c.view)
}

// Visible returns the part of m's text the reveal scheduler currently shows.
func (c *Controller) Visible(m *domain.Message) string {
	return c.reveal.Visible(m)
}
