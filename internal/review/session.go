package review

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dshills/lens/internal/locator"
	"github.com/dshills/lens/internal/oracle"
	"github.com/dshills/lens/internal/validators"
)

// Reply errors.
var (
	ErrUnknownSession    = errors.New("unknown session")
	ErrNoPendingQuestion = errors.New("session has no pending question")
)

// Session is the mutable review state of one code unit. Only the goroutine
// running the unit's pipeline mutates it; the lock serves concurrent readers
// and Reply.
type Session struct {
	key   string
	runID string
	unit  locator.CodeUnit

	// mailbox is the session's rendezvous slot. It holds at most one answer
	// and is written only by deliver while a question is pending.
	mailbox chan string

	mu       sync.Mutex
	state    State
	selected []string
	fallback bool
	findings []validators.Finding
	history  []oracle.Turn
	question string
	rounds   int
	awaiting bool
	verdict  string
	err      error
	failure  FailureKind
	started  time.Time
	finished time.Time
}

func newSession(runID, key string, u locator.CodeUnit) *Session {
	return &Session{key: key, runID: runID, unit: u, mailbox: make(chan string, 1)}
}

// Key identifies the session; replies are routed by it.
func (s *Session) Key() string { return s.key }

// Unit returns the code unit under review.
func (s *Session) Unit() locator.CodeUnit { return s.unit }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	if st == StateSelectingValidators {
		s.started = time.Now()
	}
	s.state = st
	if st.Terminal() {
		s.finished = time.Now()
	}
}

// ask records q as the pending question and moves to AwaitingClarification.
func (s *Session) ask(draft, q string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, oracle.Turn{Role: oracle.RoleAssistant, Text: draft})
	s.question = q
	s.rounds++
	s.awaiting = true
	s.state = StateAwaitingClarification
	return s.rounds
}

// deliver places an answer in the mailbox if a question is pending.
func (s *Session) deliver(answer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.awaiting {
		return ErrNoPendingQuestion
	}
	s.awaiting = false
	s.mailbox <- answer
	return nil
}

// wait blocks until an answer arrives or ctx ends.
func (s *Session) wait(ctx context.Context) (string, error) {
	select {
	case answer := <-s.mailbox:
		s.mu.Lock()
		s.history = append(s.history, oracle.Turn{Role: oracle.RoleHuman, Text: answer})
		s.question = ""
		s.state = StateDrafting
		s.mu.Unlock()
		return answer, nil
	case <-ctx.Done():
		s.mu.Lock()
		s.awaiting = false
		s.mu.Unlock()
		return "", ctx.Err()
	}
}

func (s *Session) pending() (PendingQuestion, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.awaiting {
		return PendingQuestion{}, false
	}
	return PendingQuestion{
		Session:  s.key,
		RunID:    s.runID,
		File:     s.unit.File,
		Function: s.unit.Name,
		Question: s.question,
		Round:    s.rounds,
	}, true
}

func (s *Session) conversation() []oracle.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]oracle.Turn(nil), s.history...)
}

func (s *Session) setSelection(names []string, fallback bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = append([]string(nil), names...)
	s.fallback = fallback
}

func (s *Session) setFindings(f []validators.Finding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findings = append([]validators.Finding(nil), f...)
}

func (s *Session) finalize(verdict string) {
	s.mu.Lock()
	s.verdict = verdict
	s.mu.Unlock()
	s.setState(StateFinalized)
}

func (s *Session) fail(kind FailureKind, err error) {
	s.mu.Lock()
	s.err = err
	s.failure = kind
	s.awaiting = false
	s.mu.Unlock()
	s.setState(StateErrored)
}

func (s *Session) report() SessionReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := SessionReport{
		Key:        s.key,
		File:       s.unit.File,
		Function:   s.unit.Name,
		Start:      s.unit.Start,
		End:        s.unit.End,
		Changed:    append([]int(nil), s.unit.Changed...),
		State:      s.state,
		Validators: append([]string{}, s.selected...),
		Fallback:   s.fallback,
		Findings:   append([]validators.Finding{}, s.findings...),
		History:    append([]oracle.Turn(nil), s.history...),
		Verdict:    s.verdict,
		Failure:    s.failure,
	}
	if s.err != nil {
		r.Error = s.err.Error()
	}
	if !s.started.IsZero() && !s.finished.IsZero() {
		r.DurationMs = s.finished.Sub(s.started).Milliseconds()
	}
	return r
}
