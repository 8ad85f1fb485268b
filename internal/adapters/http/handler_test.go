package httpadapter_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/persona-chat/internal/adapters/auth"
	httpadapter "github.com/PabloGalante/persona-chat/internal/adapters/http"
	"github.com/PabloGalante/persona-chat/internal/adapters/llm"
	"github.com/PabloGalante/persona-chat/internal/adapters/storage/memory"
	"github.com/PabloGalante/persona-chat/internal/app/conversation"
	"github.com/PabloGalante/persona-chat/internal/domain"
)

const (
	timeout = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type testEnv struct {
	srv    *httpadapter.Server
	reg    *auth.Registry
	convs  *memory.ConversationStore
	msgs   *memory.MessageStore
	ledger *memory.Ledger
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		reg:    auth.NewRegistry(),
		convs:  memory.NewConversationStore(),
		msgs:   memory.NewMessageStore(),
		ledger: memory.NewLedger(),
	}
	env.reg.Add("alice-token", domain.Principal{UserID: "alice"})
	env.reg.Add("broke-token", domain.Principal{UserID: "broke"})
	env.ledger.Grant("alice", 500)

	responder := llm.NewMockResponder()
	personas := map[domain.PersonaID]domain.Persona{
		"socrates": {ID: "socrates", Name: "Socrates"},
		"plato":    {ID: "plato", Name: "Plato"},
	}

	env.srv = httpadapter.NewServer(
		func(token string, persona domain.Persona, mode domain.Mode) *conversation.Controller {
			return conversation.NewController(conversation.Options{
				Auth:          env.reg.Gate(token),
				Ledger:        env.ledger,
				Conversations: env.convs,
				Messages:      env.msgs,
				Responder:     responder,
				Persona:       persona,
				Mode:          mode,
				TurnCost:      1,
				ModelTag:      responder.ModelTag(),
			})
		},
		func(id domain.PersonaID) (domain.Persona, bool) {
			p, ok := personas[id]
			return p, ok
		},
	)
	t.Cleanup(env.srv.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, req)
	return w
}

type snapshot struct {
	Authorized     bool   `json:"authorized"`
	Mode           string `json:"mode"`
	ConversationID string `json:"conversation_id"`
	PersonaID      string `json:"persona_id"`
	Draft          string `json:"draft"`
	Messages       []struct {
		ID        string `json:"id"`
		Persisted bool   `json:"persisted"`
		Author    string `json:"author"`
		Text      string `json:"text"`
	} `json:"messages"`
	Notice *struct {
		Kind string `json:"kind"`
		Text string `json:"text"`
	} `json:"notice"`
}

func (e *testEnv) open(t *testing.T, token, mode string) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/sessions", token, map[string]string{"persona_id": "socrates", "mode": mode})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		SessionID string   `json:"session_id"`
		Snapshot  snapshot `json:"snapshot"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.SessionID)
	assert.True(t, resp.Snapshot.Authorized)
	return resp.SessionID
}

func decodeSnapshot(t *testing.T, w *httptest.ResponseRecorder) snapshot {
	t.Helper()
	var s snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
	return s
}

func TestHealthz(t *testing.T) {
	env := newTestServer(t)
	w := env.do(t, http.MethodGet, "/healthz", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestOpenSessionAndSendMessage(t *testing.T) {
	env := newTestServer(t)
	id := env.open(t, "alice-token", "public")

	w := env.do(t, http.MethodPost, "/sessions/"+id+"/messages", "alice-token", map[string]string{"text": "What is virtue?"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		ConversationID string   `json:"conversation_id"`
		Snapshot       snapshot `json:"snapshot"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ConversationID)
	assert.Equal(t, resp.ConversationID, resp.Snapshot.ConversationID)
	require.Len(t, resp.Snapshot.Messages, 2)
	assert.Equal(t, "user", resp.Snapshot.Messages[0].Author)
	assert.Equal(t, "assistant", resp.Snapshot.Messages[1].Author)
	assert.True(t, resp.Snapshot.Messages[1].Persisted)

	assert.Equal(t, 1, env.convs.Count())
	assert.Equal(t, int64(499), env.ledger.Balance("alice"))

	w = env.do(t, http.MethodGet, "/sessions/"+id, "alice-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeSnapshot(t, w).Messages, 2)
}

func TestOpenSessionRequiresToken(t *testing.T) {
	env := newTestServer(t)

	w := env.do(t, http.MethodPost, "/sessions", "", map[string]string{"persona_id": "socrates"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/sessions", "unknown", map[string]string{"persona_id": "socrates"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/sessions", "alice-token", map[string]string{"persona_id": "nobody"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/sessions", "alice-token", map[string]string{"persona_id": "socrates", "mode": "shouting"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionBelongsToItsToken(t *testing.T) {
	env := newTestServer(t)
	id := env.open(t, "alice-token", "public")

	w := env.do(t, http.MethodGet, "/sessions/"+id, "broke-token", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/sessions/"+id, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestErrorKindsMapToStatus(t *testing.T) {
	env := newTestServer(t)

	broke := env.open(t, "broke-token", "public")
	w := env.do(t, http.MethodPost, "/sessions/"+broke+"/messages", "broke-token", map[string]string{"text": "hello"})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Contains(t, w.Body.String(), domain.NoticeInsufficientTokens)

	id := env.open(t, "alice-token", "private")
	w = env.do(t, http.MethodPost, "/sessions/"+id+"/messages", "alice-token", map[string]string{"text": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/sessions/"+id+"/conversations", "alice-token", map[string]string{"conversation_id": "c1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestModeSwitchingOverHTTP(t *testing.T) {
	env := newTestServer(t)
	id := env.open(t, "alice-token", "public")

	w := env.do(t, http.MethodPost, "/sessions/"+id+"/messages", "alice-token", map[string]string{"text": "public words"})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/sessions/"+id+"/mode", "alice-token", map[string]string{"mode": "confession"})
	require.Equal(t, http.StatusOK, w.Code)
	s := decodeSnapshot(t, w)
	assert.Equal(t, "private", s.Mode)
	assert.Empty(t, s.Messages)

	w = env.do(t, http.MethodPost, "/sessions/"+id+"/messages", "alice-token", map[string]string{"text": "secret"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, env.msgs.Count())

	w = env.do(t, http.MethodPost, "/sessions/"+id+"/mode", "alice-token", map[string]string{"mode": "public"})
	require.Equal(t, http.StatusOK, w.Code)
	s = decodeSnapshot(t, w)
	require.Len(t, s.Messages, 2)
	assert.Equal(t, "public words", s.Messages[0].Text)

	w = env.do(t, http.MethodPost, "/sessions/"+id+"/conversations/new", "alice-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	s = decodeSnapshot(t, w)
	assert.Empty(t, s.ConversationID)
	assert.Empty(t, s.Messages)

	w = env.do(t, http.MethodPost, "/sessions/"+id+"/persona", "alice-token", map[string]string{"persona_id": "plato"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "plato", decodeSnapshot(t, w).PersonaID)
}

func TestSelectForeignConversationIsForbidden(t *testing.T) {
	env := newTestServer(t)
	conv, err := env.convs.CreateConversation(t.Context(), domain.NewConversation{UserID: "broke", PersonaID: "socrates"})
	require.NoError(t, err)

	id := env.open(t, "alice-token", "public")
	w := env.do(t, http.MethodPost, "/sessions/"+id+"/conversations", "alice-token", map[string]string{"conversation_id": string(conv.ID)})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), domain.NoticeConversationGone)
}

func TestRevokedTokenEndsSession(t *testing.T) {
	env := newTestServer(t)
	id := env.open(t, "alice-token", "public")

	env.reg.Revoke("alice-token")
	require.Eventually(t, func() bool {
		w := env.do(t, http.MethodGet, "/sessions/"+id, "alice-token", nil)
		return w.Code == http.StatusOK && !decodeSnapshot(t, w).Authorized
	}, timeout, tick)

	// The unauthorized snapshot was the session's last response.
	w := env.do(t, http.MethodGet, "/sessions/"+id, "alice-token", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(t, http.MethodPost, "/sessions/"+id+"/messages", "alice-token", map[string]string{"text": "still there?"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUnauthorizedSendEvictsSession(t *testing.T) {
	env := newTestServer(t)
	id := env.open(t, "alice-token", "private")

	env.reg.Revoke("alice-token")
	require.Eventually(t, func() bool {
		w := env.do(t, http.MethodPost, "/sessions/"+id+"/messages", "alice-token", map[string]string{"text": "still there?"})
		return w.Code == http.StatusUnauthorized
	}, timeout, tick)

	w := env.do(t, http.MethodGet, "/sessions/"+id, "alice-token", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCloseSession(t *testing.T) {
	env := newTestServer(t)
	id := env.open(t, "alice-token", "public")

	w := env.do(t, http.MethodDelete, "/sessions/"+id, "alice-token", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodGet, "/sessions/"+id, "alice-token", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
