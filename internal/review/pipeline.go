package review

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/lens/internal/events"
	"github.com/dshills/lens/internal/oracle"
	"github.com/dshills/lens/internal/resolver"
	"github.com/dshills/lens/internal/source"
	"github.com/dshills/lens/internal/validators"
)

// runSession drives s from Created to a terminal state. A panic anywhere in
// the pipeline errors the session without affecting its siblings.
func (e *Engine) runSession(ctx context.Context, s *Session, res *resolver.Resolver, sl *slot) {
	log := e.log.With(zap.String("session", s.key))
	defer func() {
		if p := recover(); p != nil {
			log.Debug("session panic", zap.ByteString("stack", debug.Stack()))
			e.errored(s, FailureSession, fmt.Errorf("panic: %v", p))
		}
	}()
	u := s.unit

	s.setState(StateSelectingValidators)
	selected, fallback, selErr := e.selectValidators(ctx, s)
	s.setSelection(selected, fallback)
	ev := events.ValidatorsSelected{Names: selected, Fallback: fallback}
	if selErr != nil {
		ev.Error = selErr.Error()
	}
	e.publish(s.runID, s.key, events.KindValidatorsSelected, ev)
	if len(selected) == 0 {
		e.finalized(s, VerdictNoValidators)
		return
	}

	s.setState(StateResolvingContext)
	related := res.Resolve(ctx, u)
	typeText := e.inferTypes(ctx, u.Body, related, u.FullText, log)
	odd := source.FormatTypes(source.OddTypes(source.ParamTypes(u.FullText)))

	s.setState(StateRunningValidators)
	findings := e.runValidators(ctx, s, selected, validators.Input{
		Path:     u.File,
		Body:     u.Body,
		Changed:  u.ChangedText(),
		Context:  related,
		FullText: u.FullText,
	})
	s.setFindings(findings)

	s.setState(StateDrafting)
	in := oracle.DraftInput{
		Unit:      u,
		Context:   related,
		Findings:  validators.Summarize(findings),
		OddParams: odd,
		Types:     typeText,
	}
	var drafts []string
	for round := 1; ; round++ {
		in.History = s.conversation()
		in.Final = round > e.opts.MaxClarifications
		draft, err := e.oracle.DraftReview(ctx, in)
		if err != nil {
			e.errored(s, FailureOracle, fmt.Errorf("drafting review: %w", err))
			return
		}
		drafts = append(drafts, draft)
		e.publish(s.runID, s.key, events.KindDraftReady, events.DraftReady{Text: draft, Round: round})

		q, ok := oracle.ParseClarification(draft)
		if !ok || in.Final {
			break
		}
		n := s.ask(draft, q)
		e.publish(s.runID, s.key, events.KindClarificationRequested, events.ClarificationRequested{Question: q, Round: n})
		log.Info("awaiting clarification", zap.String("question", q))

		sl.release()
		answer, err := s.wait(ctx)
		if err != nil {
			e.errored(s, FailureSession, fmt.Errorf("awaiting clarification: %w", err))
			return
		}
		e.publish(s.runID, s.key, events.KindClarificationResolved, events.ClarificationResolved{Answer: answer, Round: n})
		if err := sl.acquire(ctx); err != nil {
			e.errored(s, FailureSession, fmt.Errorf("waiting for a worker: %w", err))
			return
		}
	}
	e.finalized(s, composeVerdict(drafts, s.conversation()))
}

func (e *Engine) finalized(s *Session, verdict string) {
	s.finalize(verdict)
	e.publish(s.runID, s.key, events.KindSessionFinalized, events.SessionFinalized{Verdict: verdict})
}

// selectValidators asks the Oracle which validators apply. On failure the
// configured fallback decides.
func (e *Engine) selectValidators(ctx context.Context, s *Session) ([]string, bool, error) {
	available := e.registry.Names()
	names, err := e.oracle.SelectValidators(ctx, s.unit.Body, s.unit.FullText, available)
	if err != nil {
		e.log.Warn("validator selection failed",
			zap.String("session", s.key),
			zap.String("fallback", e.opts.SelectionFallback),
			zap.String("failure", string(FailureOracle)),
			zap.Error(err))
		if e.opts.SelectionFallback == FallbackNone {
			return nil, true, err
		}
		return available, true, err
	}
	var known []string
	for _, v := range e.registry.Filter(names) {
		known = append(known, v.Name())
	}
	return known, false, nil
}

// inferTypes returns the formatted Oracle type inference, or nothing when it
// fails.
func (e *Engine) inferTypes(ctx context.Context, body, related, fullText string, log *zap.Logger) string {
	info, err := e.oracle.InferTypes(ctx, body, related, fullText)
	if err != nil {
		log.Warn("type inference failed", zap.String("failure", string(FailureOracle)), zap.Error(err))
		return ""
	}
	return source.FormatTypes(info)
}

// runValidators runs the named validators concurrently, each under its own
// timeout. Every validator yields exactly one finding, in selection order.
func (e *Engine) runValidators(ctx context.Context, s *Session, names []string, in validators.Input) []validators.Finding {
	vals := e.registry.Filter(names)
	findings := make([]validators.Finding, len(vals))
	var g errgroup.Group
	if e.opts.ValidatorConcurrency > 0 {
		g.SetLimit(e.opts.ValidatorConcurrency)
	}
	for i, v := range vals {
		g.Go(func() error {
			f := e.check(ctx, v, in)
			findings[i] = f
			if f.Status == validators.StatusError {
				e.log.Warn("validator failed",
					zap.String("session", s.key),
					zap.String("validator", v.Name()),
					zap.String("failure", string(FailureOracle)),
					zap.String("error", f.Message))
			}
			e.publish(s.runID, s.key, events.KindValidatorResult, events.ValidatorResult{
				Validator: f.Validator,
				Status:    string(f.Status),
				Message:   f.Message,
			})
			return nil
		})
	}
	_ = g.Wait()
	return findings
}

// check runs one validator. Errors, panics and timeouts become error-tagged
// findings; a validator that ignores its context is abandoned at the deadline.
func (e *Engine) check(ctx context.Context, v validators.Validator, in validators.Input) validators.Finding {
	ctx, cancel := context.WithTimeout(ctx, e.opts.ValidatorTimeout)
	defer cancel()

	done := make(chan validators.Finding, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- validators.Failed(v.Name(), fmt.Errorf("panic: %v", p))
			}
		}()
		f, err := v.Check(ctx, in)
		if err != nil {
			done <- validators.Failed(v.Name(), err)
			return
		}
		if f.Validator == "" {
			f.Validator = v.Name()
		}
		done <- f
	}()

	select {
	case f := <-done:
		return f
	case <-ctx.Done():
		return validators.Failed(v.Name(), fmt.Errorf("validator %s: %w", v.Name(), ctx.Err()))
	}
}

// composeVerdict joins every draft in order, interleaved with the questions
// asked and the answers received.
func composeVerdict(drafts []string, history []oracle.Turn) string {
	if len(drafts) == 1 {
		return strings.TrimSpace(drafts[0])
	}
	var answers []string
	for _, t := range history {
		if t.Role == oracle.RoleHuman {
			answers = append(answers, t.Text)
		}
	}
	var b strings.Builder
	for i, d := range drafts {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strings.TrimSpace(d))
		if i < len(answers) {
			fmt.Fprintf(&b, "\n\nANSWER: %s", strings.TrimSpace(answers[i]))
		}
	}
	return b.String()
}

func sortPending(p []PendingQuestion) {
	sort.Slice(p, func(i, j int) bool {
		if p[i].RunID != p[j].RunID {
			return p[i].RunID < p[j].RunID
		}
		return p[i].Session < p[j].Session
	})
}
