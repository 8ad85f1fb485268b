// Package reveal presents the latest assistant message progressively,
// a few characters at a time, without ever blocking the turn that produced it.
package reveal

import (
	"context"
	"sync"
	"time"

	"github.com/PabloGalante/persona-chat/internal/domain"
)

const (
	DefaultInterval = 15 * time.Millisecond
	DefaultStep     = 2
)

// Frame is one rendering step of a reveal.
type Frame struct {
	MessageID domain.MessageID
	Visible   string
	Done      bool
}

// Sink receives frames in order. It is called from the scheduler's goroutines,
// must not block for long and must not call Observe, Seed or Close.
type Sink func(Frame)

type Options struct {
	// Interval between frames. Zero or negative reveals messages at once.
	Interval time.Duration
	// Step is the number of runes added per frame.
	Step int
	Sink Sink
}

// Scheduler tracks which assistant messages have been revealed and runs at most
// one reveal at a time. Identity is the message id, never its position.
type Scheduler struct {
	emitMu   sync.Mutex // held while producing and delivering frames, keeps them ordered
	mu       sync.Mutex
	interval time.Duration
	step     int
	sink     Sink
	revealed map[domain.MessageID]struct{}
	current  *task
	closed   bool
	wg       sync.WaitGroup
}

type task struct {
	id     domain.MessageID
	runes  []rune
	shown  int
	cancel context.CancelFunc
}

func (t *task) frame() Frame {
	return Frame{MessageID: t.id, Visible: string(t.runes[:t.shown]), Done: t.shown >= len(t.runes)}
}

func (t *task) full() Frame {
	return Frame{MessageID: t.id, Visible: string(t.runes), Done: true}
}

func New(opts Options) *Scheduler {
	if opts.Step <= 0 {
		opts.Step = DefaultStep
	}
	return &Scheduler{
		interval: opts.Interval,
		step:     opts.Step,
		sink:     opts.Sink,
		revealed: make(map[domain.MessageID]struct{}),
	}
}

// Observe looks at the current view and starts revealing its latest assistant
// message unless that message has already been revealed or is being revealed.
// A reveal in progress for an older message is snapped to fully shown.
func (s *Scheduler) Observe(msgs []*domain.Message) {
	latest := latestAssistant(msgs)
	if latest == nil {
		return
	}
	id := latest.Ref.ID()

	var frames []Frame

	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, done := s.revealed[id]; done || (s.current != nil && s.current.id == id) {
		s.mu.Unlock()
		return
	}
	if f, ok := s.snapLocked(); ok {
		frames = append(frames, f)
	}

	t := &task{id: id, runes: []rune(latest.Text)}
	if s.interval <= 0 || len(t.runes) == 0 {
		t.shown = len(t.runes)
		s.revealed[id] = struct{}{}
		frames = append(frames, t.full())
	} else {
		ctx, cancel := context.WithCancel(context.Background())
		t.cancel = cancel
		s.current = t
		frames = append(frames, t.frame())
		s.wg.Add(1)
		go s.run(ctx, t)
	}
	s.mu.Unlock()

	s.emit(frames...)
}

// Seed marks every assistant message in msgs as already revealed, e.g. history
// loaded from the store. A reveal in progress is snapped.
func (s *Scheduler) Seed(msgs []*domain.Message) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	f, snapped := s.snapLocked()
	for _, m := range msgs {
		if m.IsAssistant() {
			s.revealed[m.Ref.ID()] = struct{}{}
		}
	}
	s.mu.Unlock()

	if snapped {
		s.emit(f)
	}
}

// Current returns the frame of the reveal in progress.
func (s *Scheduler) Current() (Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return Frame{}, false
	}
	return s.current.frame(), true
}

// Visible returns how much of the message's text should be rendered now.
func (s *Scheduler) Visible(m *domain.Message) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && s.current.id == m.Ref.ID() {
		return string(s.current.runes[:s.current.shown])
	}
	return m.Text
}

// Revealed reports whether the message finished (or skipped) its reveal.
func (s *Scheduler) Revealed(id domain.MessageID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.revealed[id]
	return ok
}

// Close snaps the reveal in progress and waits for its goroutine to exit.
func (s *Scheduler) Close() {
	s.emitMu.Lock()
	s.mu.Lock()
	s.closed = true
	f, snapped := s.snapLocked()
	s.mu.Unlock()

	if snapped {
		s.emit(f)
	}
	s.emitMu.Unlock()

	s.wg.Wait()
}

// snapLocked abandons the current reveal in place; its message counts as revealed.
func (s *Scheduler) snapLocked() (Frame, bool) {
	t := s.current
	if t == nil {
		return Frame{}, false
	}
	t.cancel()
	t.shown = len(t.runes)
	s.revealed[t.id] = struct{}{}
	s.current = nil
	return t.full(), true
}

func (s *Scheduler) run(ctx context.Context, t *task) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.emitMu.Lock()
		s.mu.Lock()
		if s.current != t {
			s.mu.Unlock()
			s.emitMu.Unlock()
			return
		}
		t.shown += s.step
		if t.shown >= len(t.runes) {
			t.shown = len(t.runes)
			s.revealed[t.id] = struct{}{}
			s.current = nil
			t.cancel()
		}
		f := t.frame()
		s.mu.Unlock()

		s.emit(f)
		s.emitMu.Unlock()
		if f.Done {
			return
		}
	}
}

func (s *Scheduler) emit(frames ...Frame) {
	if s.sink == nil {
		return
	}
	for _, f := range frames {
		s.sink(f)
	}
}

func latestAssistant(msgs []*domain.Message) *domain.Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].IsAssistant() {
			return msgs[i]
		}
	}
	return nil
}
