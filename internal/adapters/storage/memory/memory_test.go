package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/persona-chat/internal/adapters/storage/memory"
	"github.com/PabloGalante/persona-chat/internal/domain"
)

func TestConversationStoreFindLatest(t *testing.T) {
	ctx := context.Background()
	store := memory.NewConversationStore()

	_, err := store.FindLatestConversation(ctx, "alice", "socrates")
	require.ErrorIs(t, err, domain.ErrNotFound)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	older, err := store.CreateConversation(ctx, domain.NewConversation{UserID: "alice", PersonaID: "socrates", CreatedAt: base})
	require.NoError(t, err)
	newer, err := store.CreateConversation(ctx, domain.NewConversation{UserID: "alice", PersonaID: "socrates", CreatedAt: base.Add(time.Minute)})
	require.NoError(t, err)
	_, err = store.CreateConversation(ctx, domain.NewConversation{UserID: "alice", PersonaID: "plato", CreatedAt: base.Add(time.Hour)})
	require.NoError(t, err)
	_, err = store.CreateConversation(ctx, domain.NewConversation{UserID: "bob", PersonaID: "socrates", CreatedAt: base.Add(time.Hour)})
	require.NoError(t, err)

	latest, err := store.FindLatestConversation(ctx, "alice", "socrates")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, latest.ID)
	assert.NotEqual(t, older.ID, latest.ID)
	assert.Equal(t, domain.ModePublic, latest.Mode)

	got, err := store.GetConversation(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("alice"), got.UserID)

	_, err = store.GetConversation(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 4, store.Count())
}

func TestMessageStoreKeepsCreationOrder(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMessageStore()
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	first, err := store.AppendMessage(ctx, "c1", domain.NewMessage{Author: domain.RoleUser, Text: "one", CreatedAt: at})
	require.NoError(t, err)
	// same timestamp must still sort after the first one
	second, err := store.AppendMessage(ctx, "c1", domain.NewMessage{Author: domain.RoleAssistant, Text: "two", CreatedAt: at})
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, "c2", domain.NewMessage{Author: domain.RoleUser, Text: "other"})
	require.NoError(t, err)

	assert.True(t, first.Ref.IsPersisted())
	assert.True(t, second.CreatedAt.After(first.CreatedAt))

	msgs, err := store.ListMessages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Text)
	assert.Equal(t, "two", msgs[1].Text)
	assert.Equal(t, 3, store.Count())

	empty, err := store.ListMessages(ctx, "none")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLedger(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewLedger()

	ok, err := ledger.CheckBalance(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	ledger.Grant("alice", 2)
	ok, err = ledger.CheckBalance(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, ledger.Debit(ctx, domain.Debit{UserID: "alice", Cost: 2, ModelTag: "mock"}))
	assert.Equal(t, int64(0), ledger.Balance("alice"))

	err = ledger.Debit(ctx, domain.Debit{UserID: "alice", Cost: 1})
	assert.ErrorIs(t, err, domain.ErrInsufficientTokens)
	assert.Len(t, ledger.Debits(), 1)
}

func TestOpenAccountKeepsExistingBalance(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewLedger()

	require.NoError(t, ledger.OpenAccount(ctx, "alice", 10))
	require.NoError(t, ledger.Debit(ctx, domain.Debit{UserID: "alice", Cost: 4}))
	require.NoError(t, ledger.OpenAccount(ctx, "alice", 10))
	assert.Equal(t, int64(6), ledger.Balance("alice"))
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := memory.NewMessageStore().AppendMessage(ctx, "c1", domain.NewMessage{Text: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}
