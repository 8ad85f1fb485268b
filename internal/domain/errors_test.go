package domain_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/PabloGalante/persona-chat/internal/domain"
)

func TestErrorKindMatching(t *testing.T) {
	base := errors.New("disk full")
	err := fmt.Errorf("append: %w", domain.Wrap(domain.KindPersistence, "message_store.append", base))

	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.ErrorIs(t, err, base)
	assert.NotErrorIs(t, err, domain.ErrResponder)
	assert.Equal(t, domain.KindPersistence, domain.KindOf(err))
	assert.Contains(t, err.Error(), "message_store.append")
}

func TestSentinelsWithDetailMatchOnlyThemselves(t *testing.T) {
	wrapped := domain.Wrap(domain.KindInvalid, "send", domain.ErrEmptyMessage)

	assert.ErrorIs(t, wrapped, domain.ErrEmptyMessage)
	assert.NotErrorIs(t, domain.ErrEmptyMessage, domain.ErrInvalidTransition)
	assert.NotErrorIs(t, domain.ErrTurnInFlight, domain.ErrStale)
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, domain.Wrap(domain.KindPersistence, "noop", nil))
	assert.Equal(t, domain.KindUnknown, domain.KindOf(errors.New("plain")))
}

func TestNoticeFor(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{domain.ErrAuthRequired, domain.NoticeAuthRequired},
		{domain.ErrInsufficientTokens, domain.NoticeInsufficientTokens},
		{domain.ErrNotFound, domain.NoticeConversationGone},
		{domain.ErrUnauthorized, domain.NoticeConversationGone},
		{domain.Wrap(domain.KindResponder, "reply", errors.New("timeout")), domain.NoticeResponderFailed},
		{errors.New("boom"), domain.NoticeSendFailed},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, domain.NoticeFor(tc.err).Text, tc.err.Error())
	}
}

func TestMessageRef(t *testing.T) {
	local := domain.LocalRef("tmp-1")
	durable := domain.PersistedRef("m-1")

	assert.False(t, local.IsPersisted())
	assert.True(t, durable.IsPersisted())
	assert.Equal(t, domain.MessageID("m-1"), durable.ID())
	assert.NotEqual(t, local, domain.PersistedRef("tmp-1"))
	assert.True(t, domain.MessageRef{}.IsZero())
}

func TestParseMode(t *testing.T) {
	m, ok := domain.ParseMode("confession")
	assert.True(t, ok)
	assert.Equal(t, domain.ModePrivate, m)

	_, ok = domain.ParseMode("secret")
	assert.False(t, ok)
}
