package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/persona-chat/internal/app/reveal"
	"github.com/PabloGalante/persona-chat/internal/config"
	"github.com/PabloGalante/persona-chat/internal/domain"
)

const testConfig = `
storage_backend: memory
use_mock_llm: true
turn_cost: 1
reveal_interval: 0s
log_level: error
users:
  - token: dev
    user_id: alice
    balance: 5
  - token: broke
    user_id: bob
    balance: 0
personas:
  - id: socrates
    name: Socrates
    prompt: You are Socrates.
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "persona.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))
	return path
}

func runCLI(t *testing.T, input string, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() {
		configPath, logLevel, cfg = "", "", nil
		chatToken, chatPersona, chatPrivate = "", string(defaultPersona.ID), false
	})

	var out bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetIn(strings.NewReader(input))
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})

	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestChatPublicThenPrivate(t *testing.T) {
	path := writeConfig(t)
	input := "What is virtue?\n/private\na secret\n/public\n/quit\n"

	out, err := runCLI(t, input, "chat", "--config", path, "--token", "dev", "--persona", "socrates")
	require.NoError(t, err)

	assert.Contains(t, out, "new public conversation")
	assert.Contains(t, out, `You said "What is virtue?"`)
	assert.Contains(t, out, "confession, nothing is stored")
	assert.Contains(t, out, `You said "a secret"`)
	// Back in public mode the stored conversation is resumed without the confession.
	assert.Equal(t, 1, strings.Count(out, `── Socrates · conversation `))
	assert.Equal(t, 2, strings.Count(out, `You said "What is virtue?"`))
	assert.Equal(t, 1, strings.Count(out, `You said "a secret"`))
}

func TestChatInsufficientTokens(t *testing.T) {
	path := writeConfig(t)

	out, err := runCLI(t, "hello\n/quit\n", "chat", "--config", path, "--token", "broke")
	require.NoError(t, err)
	assert.Contains(t, out, domain.NoticeInsufficientTokens)
}

func TestChatUnknownToken(t *testing.T) {
	path := writeConfig(t)

	_, err := runCLI(t, "", "chat", "--config", path, "--token", "nobody")
	require.ErrorIs(t, err, domain.ErrAuthRequired)
}

func TestChatUnknownPersona(t *testing.T) {
	path := writeConfig(t)

	_, err := runCLI(t, "", "chat", "--config", path, "--token", "dev", "--persona", "plato")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown persona")
}

func TestChatCommands(t *testing.T) {
	path := writeConfig(t)
	input := "/help\n/open\n/bogus\n/open missing\n/quit\n"

	out, err := runCLI(t, input, "chat", "--config", path, "--token", "dev")
	require.NoError(t, err)
	assert.Contains(t, out, "/private")
	assert.Contains(t, out, "usage: /open <conversation-id>")
	assert.Contains(t, out, "unknown command /bogus")
	assert.Contains(t, out, domain.NoticeConversationGone)
}

func TestTranscriptPrintsRevealIncrementally(t *testing.T) {
	var buf bytes.Buffer
	tr := newTranscript(&buf)
	tr.speaker = "Socrates"

	tr.frame(reveal.Frame{MessageID: "m1", Visible: ""})
	tr.frame(reveal.Frame{MessageID: "m1", Visible: "Vir"})
	tr.frame(reveal.Frame{MessageID: "m1", Visible: "Virtue", Done: true})
	tr.frame(reveal.Frame{MessageID: "m1", Visible: "Virtue", Done: true})
	tr.await("m1")

	assert.Equal(t, 1, strings.Count(buf.String(), "Socrates"))
	assert.Equal(t, 1, strings.Count(buf.String(), "Virtue"))
}

func TestDepsSeedsAccountsAndPersonas(t *testing.T) {
	loaded, err := config.LoadPath(writeConfig(t))
	require.NoError(t, err)

	d, err := buildDeps(context.Background(), loaded)
	require.NoError(t, err)
	defer d.close()

	p, ok := d.persona("socrates")
	require.True(t, ok)
	assert.Equal(t, "Socrates", p.Name)
	assert.Equal(t, "mock", d.responder.ModelTag())

	ok, err = d.ledger.CheckBalance(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok = d.registry.Lookup("dev")
	assert.True(t, ok)
}
