package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dshills/lens/internal/events"
	"github.com/dshills/lens/internal/locator"
	"github.com/dshills/lens/internal/oracle"
	"github.com/dshills/lens/internal/source"
	"github.com/dshills/lens/internal/validators"
)

// genai links opencensus, whose view worker starts at init.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// phpFile declares n functions f0..f(n-1), each spanning four lines, and
// returns the file together with one changed line inside each function.
func phpFile(n int) (string, []int) {
	var b strings.Builder
	b.WriteString("<?php\n")
	var changed []int
	line := 2
	for i := range n {
		fmt.Fprintf(&b, "function f%d($id) {\n    $x = $id;\n    return $x;\n}\n", i)
		changed = append(changed, line+1)
		line += 4
	}
	return b.String(), changed
}

func testUnits(t *testing.T, n int) []locator.CodeUnit {
	t.Helper()
	text, changed := phpFile(n)
	units := locator.LocateFile(source.NewPHP(), "a.php", text, changed)
	require.Len(t, units, n)
	return units
}

func newTestEngine(t *testing.T, mock *oracle.Mock, opts Options) *Engine {
	t.Helper()
	defs, err := validators.LoadBuiltin()
	require.NoError(t, err)
	e := NewEngine(Deps{Oracle: mock, Validators: defs}, opts)
	t.Cleanup(e.Close)
	return e
}

// next waits for the next event matching pred.
func next(t *testing.T, sub *events.Subscription, pred func(events.Event) bool) events.Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			require.True(t, ok, "event stream closed")
			if pred(ev) {
				return ev
			}
		case <-timeout:
			t.Fatal("timed out waiting for event")
		}
	}
}

func kind(k events.Kind) func(events.Event) bool {
	return func(ev events.Event) bool { return ev.Kind == k }
}

func drain(sub *events.Subscription) []events.Event {
	var out []events.Event
	for {
		select {
		case ev := <-sub.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func asker(question, final string) func(context.Context, oracle.DraftInput) (string, error) {
	return func(_ context.Context, in oracle.DraftInput) (string, error) {
		if len(in.History) == 0 {
			return "Line 3 copies $id.\nQUESTION: " + question, nil
		}
		return final, nil
	}
}

func TestNoValidatorsSelected(t *testing.T) {
	mock := &oracle.Mock{SelectFunc: func(context.Context, string, string, []string) ([]string, error) {
		return nil, nil
	}}
	e := newTestEngine(t, mock, Options{})
	units := locator.LocateFile(source.NewPHP(), "a.php", saveRecordFile(), []int{15})
	require.Len(t, units, 1)
	assert.Equal(t, []int{15}, units[0].Changed)

	sub := e.Subscribe(false)
	reports := e.reviewUnits(context.Background(), "run-1", units, nil)

	require.Len(t, reports, 1)
	assert.Equal(t, StateFinalized, reports[0].State)
	assert.Equal(t, VerdictNoValidators, reports[0].Verdict)

	counts := map[events.Kind]int{}
	for _, ev := range drain(sub) {
		counts[ev.Kind]++
	}
	assert.Equal(t, 1, counts[events.KindSessionFinalized])
	assert.Zero(t, counts[events.KindValidatorResult])
	assert.Zero(t, mock.Calls().Draft)
}

func saveRecordFile() string {
	var b strings.Builder
	b.WriteString("<?php\n")
	for i := 2; i <= 9; i++ {
		fmt.Fprintf(&b, "// %d\n", i)
	}
	b.WriteString("function saveRecord($params) {\n")
	for i := 11; i <= 24; i++ {
		fmt.Fprintf(&b, "    $v%d = $params['k%d'];\n", i, i)
	}
	b.WriteString("}\n")
	return b.String()
}

func TestSessionReachesFinalized(t *testing.T) {
	mock := &oracle.Mock{}
	e := newTestEngine(t, mock, Options{})
	sub := e.Subscribe(false)

	reports := e.reviewUnits(context.Background(), "run-1", testUnits(t, 1), nil)
	r := reports[0]
	assert.Equal(t, StateFinalized, r.State)
	assert.Equal(t, e.Validators(), r.Validators)
	assert.Len(t, r.Findings, len(e.Validators()))
	assert.Equal(t, "No issues found in f0.", r.Verdict)

	var order []events.Kind
	for _, ev := range drain(sub) {
		if ev.Kind != events.KindValidatorResult {
			order = append(order, ev.Kind)
		}
	}
	assert.Equal(t, []events.Kind{
		events.KindUnitDiscovered,
		events.KindValidatorsSelected,
		events.KindDraftReady,
		events.KindSessionFinalized,
	}, order)
}

func TestValidatorFailuresAreIsolated(t *testing.T) {
	mock := &oracle.Mock{SelectFunc: func(context.Context, string, string, []string) ([]string, error) {
		return []string{"logic", "panics", "stalls", "fails"}, nil
	}}
	e := newTestEngine(t, mock, Options{ValidatorTimeout: 50 * time.Millisecond})
	e.Register(validators.Func{ValidatorName: "panics", Fn: func(context.Context, validators.Input) (validators.Finding, error) {
		panic("validator bug")
	}})
	e.Register(validators.Func{ValidatorName: "stalls", Fn: func(ctx context.Context, _ validators.Input) (validators.Finding, error) {
		<-ctx.Done()
		return validators.Finding{}, ctx.Err()
	}})
	e.Register(validators.Func{ValidatorName: "fails", Fn: func(context.Context, validators.Input) (validators.Finding, error) {
		return validators.Finding{}, errors.New("oracle unavailable")
	}})

	r := e.reviewUnits(context.Background(), "run-1", testUnits(t, 1), nil)[0]

	assert.Equal(t, StateFinalized, r.State)
	require.Len(t, r.Findings, 4)
	assert.Equal(t, validators.StatusOK, r.Findings[0].Status)
	for _, f := range r.Findings[1:] {
		assert.Equal(t, validators.StatusError, f.Status, f.Validator)
	}
	assert.Contains(t, r.Findings[1].Message, "validator bug")
	assert.Contains(t, r.Findings[2].Message, context.DeadlineExceeded.Error())

	drafts := mock.Drafts()
	require.Len(t, drafts, 1)
	assert.Contains(t, drafts[0].Findings, "[fails] (check failed")
}

func TestSelectionFallback(t *testing.T) {
	failing := func(context.Context, string, string, []string) ([]string, error) {
		return nil, errors.New("rate limited")
	}

	t.Run("all", func(t *testing.T) {
		e := newTestEngine(t, &oracle.Mock{SelectFunc: failing}, Options{SelectionFallback: FallbackAll})
		r := e.reviewUnits(context.Background(), "run-1", testUnits(t, 1), nil)[0]
		assert.True(t, r.Fallback)
		assert.Equal(t, e.Validators(), r.Validators)
		assert.Equal(t, StateFinalized, r.State)
	})

	t.Run("none", func(t *testing.T) {
		e := newTestEngine(t, &oracle.Mock{SelectFunc: failing}, Options{SelectionFallback: FallbackNone})
		r := e.reviewUnits(context.Background(), "run-1", testUnits(t, 1), nil)[0]
		assert.True(t, r.Fallback)
		assert.Empty(t, r.Validators)
		assert.Equal(t, VerdictNoValidators, r.Verdict)
	})
}

func TestUnknownSelectionsDiscarded(t *testing.T) {
	mock := &oracle.Mock{SelectFunc: func(context.Context, string, string, []string) ([]string, error) {
		return []string{"made-up", "security"}, nil
	}}
	e := newTestEngine(t, mock, Options{})
	r := e.reviewUnits(context.Background(), "run-1", testUnits(t, 1), nil)[0]
	assert.Equal(t, []string{"security"}, r.Validators)
}

func TestDraftErrorErrorsSession(t *testing.T) {
	mock := &oracle.Mock{DraftFunc: func(context.Context, oracle.DraftInput) (string, error) {
		return "", errors.New("model overloaded")
	}}
	e := newTestEngine(t, mock, Options{})
	sub := e.Subscribe(false)

	reports := e.reviewUnits(context.Background(), "run-1", testUnits(t, 2), nil)
	for _, r := range reports {
		assert.Equal(t, StateErrored, r.State)
		assert.Equal(t, FailureOracle, r.Failure)
		assert.Contains(t, r.Error, "model overloaded")
	}
	errored := 0
	for _, ev := range drain(sub) {
		if ev.Kind == events.KindSessionErrored {
			errored++
		}
	}
	assert.Equal(t, 2, errored)
}

func TestPanicErrorsOnlyThatSession(t *testing.T) {
	mock := &oracle.Mock{DraftFunc: func(_ context.Context, in oracle.DraftInput) (string, error) {
		if in.Unit.Name == "f1" {
			panic("bad draft")
		}
		return "ok", nil
	}}
	e := newTestEngine(t, mock, Options{})
	reports := e.reviewUnits(context.Background(), "run-1", testUnits(t, 3), nil)

	states := map[string]State{}
	for _, r := range reports {
		states[r.Function] = r.State
	}
	assert.Equal(t, map[string]State{"f0": StateFinalized, "f1": StateErrored, "f2": StateFinalized}, states)
	assert.Equal(t, FailureSession, reports[1].Failure)
}

func TestClarificationFlow(t *testing.T) {
	mock := &oracle.Mock{DraftFunc: asker("Is $id trusted?", "Fine, $id is trusted.")}
	e := newTestEngine(t, mock, Options{})
	sub := e.Subscribe(false)

	units := testUnits(t, 1)
	done := make(chan SessionReport, 1)
	go func() {
		done <- e.reviewUnits(context.Background(), "run-1", units, nil)[0]
	}()

	ev := next(t, sub, kind(events.KindClarificationRequested))
	req, ok := ev.Data.(events.ClarificationRequested)
	require.True(t, ok)
	assert.Equal(t, "Is $id trusted?", req.Question)

	pending := e.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, ev.Session, pending[0].Session)
	assert.Equal(t, "f0", pending[0].Function)

	require.NoError(t, e.Reply(ev.Session, "Yes, it comes from the session."))
	next(t, sub, kind(events.KindClarificationResolved))
	final := next(t, sub, kind(events.KindSessionFinalized))

	r := <-done
	assert.Equal(t, StateFinalized, r.State)
	verdict := final.Data.(events.SessionFinalized).Verdict
	assert.Contains(t, verdict, "QUESTION: Is $id trusted?")
	assert.Contains(t, verdict, "ANSWER: Yes, it comes from the session.")
	assert.Contains(t, verdict, "Fine, $id is trusted.")
	require.Len(t, r.History, 2)
	assert.Equal(t, oracle.RoleHuman, r.History[1].Role)
	assert.Empty(t, e.Pending())

	drafts := mock.Drafts()
	require.Len(t, drafts, 2)
	assert.Len(t, drafts[1].History, 2)
	assert.ErrorIs(t, e.Reply(ev.Session, "again"), ErrNoPendingQuestion)
}

func TestReplyRoutesToMatchingSession(t *testing.T) {
	mock := &oracle.Mock{DraftFunc: asker("Why?", "Done.")}
	e := newTestEngine(t, mock, Options{})
	sub := e.Subscribe(false)

	units := testUnits(t, 2)
	done := make(chan []SessionReport, 1)
	go func() {
		done <- e.reviewUnits(context.Background(), "run-1", units, nil)
	}()

	keys := map[string]bool{}
	for len(keys) < 2 {
		keys[next(t, sub, kind(events.KindClarificationRequested)).Session] = true
	}
	var first, second string
	for k := range keys {
		if first == "" {
			first = k
		} else {
			second = k
		}
	}

	require.NoError(t, e.Reply(first, "because"))
	fin := next(t, sub, kind(events.KindSessionFinalized))
	assert.Equal(t, first, fin.Session)

	pending := e.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, second, pending[0].Session)

	require.NoError(t, e.Reply(second, "also because"))
	reports := <-done
	for _, r := range reports {
		assert.Equal(t, StateFinalized, r.State)
		want := "because"
		if r.Key == second {
			want = "also because"
		}
		assert.Equal(t, want, r.History[1].Text)
	}
}

func TestReplyErrors(t *testing.T) {
	e := newTestEngine(t, &oracle.Mock{}, Options{})
	assert.ErrorIs(t, e.Reply("nope/a.php::f", "x"), ErrUnknownSession)

	r := e.reviewUnits(context.Background(), "run-1", testUnits(t, 1), nil)[0]
	assert.ErrorIs(t, e.Reply(r.Key, "x"), ErrNoPendingQuestion)
}

func TestMaxClarifications(t *testing.T) {
	mock := &oracle.Mock{DraftFunc: func(context.Context, oracle.DraftInput) (string, error) {
		return "QUESTION: more?", nil
	}}
	e := newTestEngine(t, mock, Options{MaxClarifications: 1})
	sub := e.Subscribe(false)

	units := testUnits(t, 1)
	done := make(chan SessionReport, 1)
	go func() {
		done <- e.reviewUnits(context.Background(), "run-1", units, nil)[0]
	}()
	ev := next(t, sub, kind(events.KindClarificationRequested))
	require.NoError(t, e.Reply(ev.Session, "no"))

	r := <-done
	assert.Equal(t, StateFinalized, r.State)
	drafts := mock.Drafts()
	require.Len(t, drafts, 2)
	assert.False(t, drafts[0].Final)
	assert.True(t, drafts[1].Final)
}

func TestDisabledClarifications(t *testing.T) {
	mock := &oracle.Mock{DraftFunc: asker("Why?", "unused")}
	e := newTestEngine(t, mock, Options{MaxClarifications: -1})
	r := e.reviewUnits(context.Background(), "run-1", testUnits(t, 1), nil)[0]
	assert.Equal(t, StateFinalized, r.State)
	assert.Empty(t, r.History)
	assert.True(t, mock.Drafts()[0].Final)
}

func TestOuterPoolBound(t *testing.T) {
	const workers = 2
	var active, peak atomic.Int64
	mock := &oracle.Mock{SelectFunc: func(_ context.Context, _, _ string, available []string) ([]string, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		return nil, nil
	}}
	e := newTestEngine(t, mock, Options{Workers: workers})

	reports := e.reviewUnits(context.Background(), "run-1", testUnits(t, 8), nil)
	assert.Len(t, reports, 8)
	assert.LessOrEqual(t, peak.Load(), int64(workers))
	assert.GreaterOrEqual(t, peak.Load(), int64(1))
}

func TestWaitingSessionReleasesSlot(t *testing.T) {
	mock := &oracle.Mock{DraftFunc: asker("Why?", "Done.")}
	e := newTestEngine(t, mock, Options{Workers: 1})
	sub := e.Subscribe(false)

	units := testUnits(t, 3)
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.reviewUnits(context.Background(), "run-1", units, nil)
	}()

	// All three sessions reach the question on a single worker.
	var keys []string
	for range 3 {
		keys = append(keys, next(t, sub, kind(events.KindClarificationRequested)).Session)
	}
	assert.Len(t, e.Pending(), 3)
	for _, k := range keys {
		require.NoError(t, e.Reply(k, "ok"))
	}
	<-done
}

func TestCancelWhileAwaiting(t *testing.T) {
	mock := &oracle.Mock{DraftFunc: asker("Why?", "Done.")}
	e := newTestEngine(t, mock, Options{})
	sub := e.Subscribe(false)
	ctx, cancel := context.WithCancel(context.Background())

	units := testUnits(t, 1)
	done := make(chan SessionReport, 1)
	go func() {
		done <- e.reviewUnits(ctx, "run-1", units, nil)[0]
	}()
	next(t, sub, kind(events.KindClarificationRequested))
	cancel()

	r := <-done
	assert.Equal(t, StateErrored, r.State)
	assert.Equal(t, FailureSession, r.Failure)
	assert.Empty(t, e.Pending())
}

func TestConcurrentReplies(t *testing.T) {
	const n = 6
	mock := &oracle.Mock{DraftFunc: asker("Why?", "Done.")}
	e := newTestEngine(t, mock, Options{Workers: 2})
	sub := e.Subscribe(false)

	units := testUnits(t, n)
	done := make(chan []SessionReport, 1)
	go func() {
		done <- e.reviewUnits(context.Background(), "run-1", units, nil)
	}()

	var wg sync.WaitGroup
	for range n {
		key := next(t, sub, kind(events.KindClarificationRequested)).Session
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, e.Reply(key, "answer for "+key))
		}()
	}
	wg.Wait()

	for _, r := range <-done {
		require.Len(t, r.History, 2)
		assert.Equal(t, "answer for "+r.Key, r.History[1].Text)
	}
}

func TestComposeVerdict(t *testing.T) {
	assert.Equal(t, "only", composeVerdict([]string{" only "}, nil))
	got := composeVerdict([]string{"first\nQUESTION: q", "second"}, []oracle.Turn{
		{Role: oracle.RoleAssistant, Text: "first\nQUESTION: q"},
		{Role: oracle.RoleHuman, Text: "a"},
	})
	assert.Equal(t, "first\nQUESTION: q\n\nANSWER: a\n\nsecond", got)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "awaiting-clarification", StateAwaitingClarification.String())
	assert.Equal(t, "unknown", State(99).String())
	assert.True(t, StateErrored.Terminal())
	assert.False(t, StateDrafting.Terminal())

	var s State
	require.NoError(t, s.UnmarshalText([]byte("finalized")))
	assert.Equal(t, StateFinalized, s)
	assert.Error(t, s.UnmarshalText([]byte("paused")))
}

func passing(name string) validators.Validator {
	return validators.Func{ValidatorName: name, Fn: func(context.Context, validators.Input) (validators.Finding, error) {
		return validators.Finding{Validator: name, Status: validators.StatusOK}, nil
	}}
}
