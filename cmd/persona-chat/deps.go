package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/PabloGalante/persona-chat/internal/adapters/auth"
	"github.com/PabloGalante/persona-chat/internal/adapters/llm"
	firestorestore "github.com/PabloGalante/persona-chat/internal/adapters/storage/firestore"
	memstore "github.com/PabloGalante/persona-chat/internal/adapters/storage/memory"
	sqlitestore "github.com/PabloGalante/persona-chat/internal/adapters/storage/sqlite"
	"github.com/PabloGalante/persona-chat/internal/app/conversation"
	"github.com/PabloGalante/persona-chat/internal/app/reveal"
	"github.com/PabloGalante/persona-chat/internal/config"
	"github.com/PabloGalante/persona-chat/internal/domain"
	"github.com/PabloGalante/persona-chat/internal/observability"
)

var defaultPersona = domain.Persona{
	ID:     "socrates",
	Name:   "Socrates",
	Prompt: "You are Socrates. Answer with questions that help the user examine their own beliefs.",
}

type responder interface {
	domain.Responder
	ModelTag() string
}

type accountOpener interface {
	OpenAccount(ctx context.Context, userID domain.UserID, opening int64) error
}

// deps holds everything a controller needs, built once per process from config.
type deps struct {
	cfg *config.Config

	registry      *auth.Registry
	ledger        domain.TokenLedger
	conversations domain.ConversationStore
	messages      domain.MessageStore
	responder     responder
	personas      map[domain.PersonaID]domain.Persona

	closers []func() error
}

func buildDeps(ctx context.Context, cfg *config.Config) (*deps, error) {
	log := observability.WithFields(zap.String("component", "deps"), zap.String("backend", cfg.StorageBackend))
	d := &deps{
		cfg:      cfg,
		registry: auth.NewRegistry(),
		personas: make(map[domain.PersonaID]domain.Persona),
	}

	// LLM: mock or Vertex
	if cfg.UseMockLLM {
		log.Info("[LLM] using mock responder")
		d.responder = llm.NewMockResponder()
	} else {
		log.Info("[LLM] using Vertex responder", zap.String("model", cfg.ModelName), zap.String("location", cfg.GCPLocation))
		v, err := llm.NewVertexResponder(ctx, cfg.GCPProjectID, cfg.GCPLocation, cfg.ModelName)
		if err != nil {
			return nil, fmt.Errorf("initializing Vertex responder: %w", err)
		}
		d.responder = v
	}

	// Storage: one store serves conversations, messages and the ledger.
	var opener accountOpener
	switch cfg.StorageBackend {
	case config.BackendFirestore:
		log.Info("[STORE] using Firestore storage", zap.String("project", cfg.GCPProjectID))
		fs, err := firestorestore.NewStore(ctx, cfg.GCPProjectID)
		if err != nil {
			return nil, fmt.Errorf("initializing Firestore store: %w", err)
		}
		d.conversations, d.messages, d.ledger, opener = fs, fs, fs, fs
		d.closers = append(d.closers, fs.Close)

	case config.BackendSQLite:
		log.Info("[STORE] using SQLite storage", zap.String("path", cfg.SQLitePath))
		st, err := sqlitestore.NewStore(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("initializing SQLite store: %w", err)
		}
		d.conversations, d.messages, d.ledger, opener = st, st, st, st
		d.closers = append(d.closers, st.Close)

	default:
		log.Info("[STORE] using in-memory storage")
		ledger := memstore.NewLedger()
		d.conversations = memstore.NewConversationStore()
		d.messages = memstore.NewMessageStore()
		d.ledger, opener = ledger, ledger
	}

	for _, u := range cfg.Users {
		userID := domain.UserID(u.UserID)
		d.registry.Add(u.Token, domain.Principal{UserID: userID, IsAdmin: u.Admin})
		if err := opener.OpenAccount(ctx, userID, u.Balance); err != nil {
			d.close()
			return nil, fmt.Errorf("opening token account for %s: %w", u.UserID, err)
		}
	}

	for _, p := range cfg.Personas {
		d.personas[domain.PersonaID(p.ID)] = domain.Persona{ID: domain.PersonaID(p.ID), Name: p.Name, Prompt: p.Prompt}
	}
	if len(d.personas) == 0 {
		d.personas[defaultPersona.ID] = defaultPersona
	}

	log.Info("dependencies ready",
		zap.String("backend", cfg.StorageBackend),
		zap.Int("users", len(cfg.Users)),
		zap.Int("personas", len(d.personas)),
	)
	return d, nil
}

func (d *deps) persona(id domain.PersonaID) (domain.Persona, bool) {
	p, ok := d.personas[id]
	return p, ok
}

// newController builds an unmounted controller for token. A nil sched lets the
// controller reveal replies at once.
func (d *deps) newController(token string, persona domain.Persona, mode domain.Mode, sched *reveal.Scheduler) *conversation.Controller {
	return conversation.NewController(conversation.Options{
		Auth:          d.registry.Gate(token),
		Ledger:        d.ledger,
		Conversations: d.conversations,
		Messages:      d.messages,
		Responder:     d.responder,
		Reveal:        sched,
		Persona:       persona,
		Mode:          mode,
		TurnCost:      d.cfg.TurnCost,
		ModelTag:      d.responder.ModelTag(),
		HistoryLimit:  d.cfg.HistoryLimit,
	})
}

func (d *deps) close() {
	for _, c := range d.closers {
		if err := c(); err != nil {
			observability.Logger().Warn("closing dependency", zap.Error(err))
		}
	}
	d.closers = nil
}
