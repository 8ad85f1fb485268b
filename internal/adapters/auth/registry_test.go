package auth_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/persona-chat/internal/adapters/auth"
	"github.com/PabloGalante/persona-chat/internal/domain"
)

func TestGateResolvesAndEnds(t *testing.T) {
	reg := auth.NewRegistry()
	reg.Add("tok", domain.Principal{UserID: "alice"})

	gate := reg.Gate("tok")
	p, err := gate.ResolveSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("alice"), p.UserID)

	ended := gate.Watch(*p)
	select {
	case <-ended:
		t.Fatal("session ended before revocation")
	default:
	}

	reg.Revoke("tok")
	<-ended

	_, err = gate.ResolveSession(context.Background())
	assert.ErrorIs(t, err, domain.ErrAuthRequired)
}

func TestUnknownToken(t *testing.T) {
	reg := auth.NewRegistry()
	_, err := reg.Gate("missing").ResolveSession(context.Background())
	assert.ErrorIs(t, err, domain.ErrAuthRequired)

	_, ok := reg.Lookup("missing")
	assert.False(t, ok)
	reg.Revoke("missing")
}

func TestWatchWithoutResolveIsClosed(t *testing.T) {
	reg := auth.NewRegistry()
	reg.Add("tok", domain.Principal{UserID: "alice"})

	select {
	case <-reg.Gate("tok").Watch(domain.Principal{UserID: "alice"}):
	default:
		t.Fatal("expected closed channel")
	}
}

func TestReAddAfterRevoke(t *testing.T) {
	reg := auth.NewRegistry()
	reg.Add("tok", domain.Principal{UserID: "alice"})
	reg.Revoke("tok")
	reg.Add("tok", domain.Principal{UserID: "alice", IsAdmin: true})

	p, ok := reg.Lookup("tok")
	require.True(t, ok)
	assert.True(t, p.IsAdmin)
}
