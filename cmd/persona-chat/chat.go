package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/PabloGalante/persona-chat/internal/app/conversation"
	"github.com/PabloGalante/persona-chat/internal/app/reveal"
	"github.com/PabloGalante/persona-chat/internal/domain"
)

var (
	chatToken   string
	chatPersona string
	chatPrivate bool
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	userStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	personaStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	noticeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

const chatHelp = `/new          start a new public conversation
/public       switch to public mode
/private      switch to confession mode (nothing is stored)
/open <id>    open one of your public conversations
/quit         leave`

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation with a persona",
	Long: `Start an interactive conversation with a persona.

Type a message and press enter to send it. Lines starting with a slash are
commands:

` + chatHelp,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatToken, "token", "t", "", "Bearer token of the user (required)")
	chatCmd.Flags().StringVarP(&chatPersona, "persona", "p", string(defaultPersona.ID), "Persona to talk to")
	chatCmd.Flags().BoolVar(&chatPrivate, "private", false, "Start in confession mode")
	_ = chatCmd.MarkFlagRequired("token")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	d, err := buildDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.close()

	persona, ok := d.persona(domain.PersonaID(chatPersona))
	if !ok {
		return fmt.Errorf("unknown persona %q", chatPersona)
	}
	mode := domain.ModePublic
	if chatPrivate {
		mode = domain.ModePrivate
	}

	out := newTranscript(cmd.OutOrStdout())
	sched := reveal.New(reveal.Options{
		Interval: cfg.RevealInterval,
		Step:     cfg.RevealStep,
		Sink:     out.frame,
	})
	defer sched.Close()

	ctrl := d.newController(chatToken, persona, mode, sched)
	defer ctrl.Close()

	if err := ctrl.Mount(ctx); err != nil && errors.Is(err, domain.ErrAuthRequired) {
		return err
	}
	out.header(ctrl.Snapshot())
	out.history(ctrl.Snapshot())

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		out.prompt(ctrl.Snapshot())
		if !scanner.Scan() {
			break
		}
		quit, err := handleLine(ctx, ctrl, sched, out, scanner.Text())
		if errors.Is(err, domain.ErrAuthRequired) {
			out.notice(domain.NoticeAuthRequired)
			return err
		}
		if quit {
			return nil
		}
	}
	return scanner.Err()
}

// handleLine runs one REPL line and reports whether the user asked to quit.
func handleLine(ctx context.Context, ctrl *conversation.Controller, sched *reveal.Scheduler, out *transcript, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}

	if !strings.HasPrefix(line, "/") {
		res, err := ctrl.Send(ctx, line)
		if err != nil {
			out.failure(ctrl.Snapshot(), err)
			return false, err
		}
		if res.BillingErr != nil {
			out.notice(domain.NoticeBillingFailed)
		}
		if res.Reply != nil && !res.Stale && revealStarted(sched, res.Reply.Ref.ID()) {
			out.await(res.Reply.Ref.ID())
		}
		return false, nil
	}

	command, arg, _ := strings.Cut(line, " ")
	var err error
	switch command {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		out.println(dimStyle.Render(chatHelp))
		return false, nil
	case "/new":
		err = ctrl.StartNewConversation(ctx)
	case "/public":
		err = ctrl.SwitchToPublic(ctx)
	case "/private":
		err = ctrl.SwitchToPrivate(ctx)
	case "/open":
		arg = strings.TrimSpace(arg)
		if arg == "" {
			out.notice("usage: /open <conversation-id>")
			return false, nil
		}
		err = ctrl.SelectConversation(ctx, domain.ConversationID(arg))
	default:
		out.notice(fmt.Sprintf("unknown command %s, try /help", command))
		return false, nil
	}

	if err != nil {
		out.failure(ctrl.Snapshot(), err)
		return false, err
	}
	out.header(ctrl.Snapshot())
	out.history(ctrl.Snapshot())
	return false, nil
}

// revealStarted reports whether id is revealing or has been revealed, i.e. a
// final frame for it is guaranteed. Current is checked first so a reveal
// finishing in between is still seen.
func revealStarted(sched *reveal.Scheduler, id domain.MessageID) bool {
	if f, ok := sched.Current(); ok && f.MessageID == id {
		return true
	}
	return sched.Revealed(id)
}

// ─────────────────────────────────────────────
// Transcript rendering
// ─────────────────────────────────────────────

// transcript writes the conversation to the terminal. Reveal frames arrive from
// the scheduler's goroutine, so all writes go through mu.
type transcript struct {
	mu      sync.Mutex
	cond    *sync.Cond
	w       io.Writer
	speaker string
	printed map[domain.MessageID]int
	done    map[domain.MessageID]bool
}

func newTranscript(w io.Writer) *transcript {
	t := &transcript{
		w:       w,
		printed: make(map[domain.MessageID]int),
		done:    make(map[domain.MessageID]bool),
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// frame prints the part of the reveal not yet on screen.
func (t *transcript) frame(f reveal.Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done[f.MessageID] {
		return
	}
	visible := []rune(f.Visible)
	n, started := t.printed[f.MessageID]
	if !started {
		fmt.Fprint(t.w, personaStyle.Render(t.speaker)+" ")
		t.printed[f.MessageID] = 0
	}
	if len(visible) > n {
		fmt.Fprint(t.w, string(visible[n:]))
		t.printed[f.MessageID] = len(visible)
	}
	if f.Done {
		fmt.Fprintln(t.w)
		t.done[f.MessageID] = true
		t.cond.Broadcast()
	}
}

// await blocks until the reveal of id has finished printing.
func (t *transcript) await(id domain.MessageID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for !t.done[id] {
		t.cond.Wait()
	}
}

func (t *transcript) println(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.w, s)
}

func (t *transcript) notice(text string) {
	t.println(noticeStyle.Render("! " + text))
}

func (t *transcript) failure(s conversation.Snapshot, err error) {
	if s.Notice != nil {
		t.notice(s.Notice.Text)
		return
	}
	t.notice(domain.NoticeFor(err).Text)
}

func (t *transcript) header(s conversation.Snapshot) {
	where := "confession, nothing is stored"
	if s.Mode == domain.ModePublic {
		where = "new public conversation"
		if s.ConversationID != "" {
			where = "conversation " + string(s.ConversationID)
		}
	}
	t.mu.Lock()
	t.speaker = s.Persona.Name
	t.mu.Unlock()

	t.println(headerStyle.Render(fmt.Sprintf("── %s · %s ──", s.Persona.Name, where)))
	if s.Notice != nil {
		t.notice(s.Notice.Text)
	}
}

// history prints the loaded messages without animation.
func (t *transcript) history(s conversation.Snapshot) {
	for _, m := range s.Messages {
		who := userStyle.Render("you")
		if m.IsAssistant() {
			who = personaStyle.Render(s.Persona.Name)
		}
		t.println(who + " " + m.Text)
	}
}

func (t *transcript) prompt(s conversation.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	label := "public"
	if s.Mode == domain.ModePrivate {
		label = "private"
	}
	fmt.Fprint(t.w, dimStyle.Render("["+label+"]")+" "+userStyle.Render(">")+" ")
}
