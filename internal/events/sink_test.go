package events

import (
	"encoding/json"
	"go/build"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func drain(sub *Subscription) []Event {
	var out []Event
	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestPublishAssignsSequence(t *testing.T) {
	s := NewSink()
	defer s.Close()
	sub := s.Subscribe(false)

	for range 3 {
		s.Publish(Event{Kind: KindUnitDiscovered})
	}
	got := drain(sub)
	require.Len(t, got, 3)
	for i, e := range got {
		assert.Equal(t, uint64(i+1), e.Seq)
		assert.False(t, e.At.IsZero())
	}
}

func TestBroadcast(t *testing.T) {
	s := NewSink()
	defer s.Close()
	a, b := s.Subscribe(false), s.Subscribe(false)

	s.Publish(Event{Kind: KindDraftReady, Data: DraftReady{Text: "x"}})
	assert.Len(t, drain(a), 1)
	assert.Len(t, drain(b), 1)
}

func TestSubscribeFromNow(t *testing.T) {
	s := NewSink()
	defer s.Close()
	s.Publish(Event{Kind: KindRunStarted})

	sub := s.Subscribe(false)
	s.Publish(Event{Kind: KindRunCompleted})
	got := drain(sub)
	require.Len(t, got, 1)
	assert.Equal(t, KindRunCompleted, got[0].Kind)
}

func TestSubscribeReplay(t *testing.T) {
	s := NewSink(WithHistory(2))
	defer s.Close()
	for range 5 {
		s.Publish(Event{Kind: KindValidatorResult})
	}
	got := drain(s.Subscribe(true))
	require.Len(t, got, 2)
	assert.Equal(t, uint64(4), got[0].Seq)
	assert.Equal(t, uint64(5), got[1].Seq)
	assert.Len(t, s.History(), 2)
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	s := NewSink(WithBuffer(3))
	defer s.Close()
	slow := s.Subscribe(false)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 10 {
			s.Publish(Event{Kind: KindValidatorResult})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}

	got := drain(slow)
	require.Len(t, got, 3)
	assert.Equal(t, []uint64{8, 9, 10}, []uint64{got[0].Seq, got[1].Seq, got[2].Seq})
	assert.Equal(t, int64(7), slow.Dropped())
	assert.Equal(t, int64(7), s.Dropped())
}

func TestConcurrentPublishers(t *testing.T) {
	s := NewSink(WithBuffer(1000))
	defer s.Close()
	sub := s.Subscribe(false)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(session int) {
			defer wg.Done()
			for range 50 {
				s.Publish(Event{Kind: KindDraftReady, Session: string(rune('a' + session))})
			}
		}(i)
	}
	wg.Wait()

	got := drain(sub)
	require.Len(t, got, 400)
	for i, e := range got {
		assert.Equal(t, uint64(i+1), e.Seq)
	}
}

func TestClose(t *testing.T) {
	s := NewSink()
	sub := s.Subscribe(false)
	other := s.Subscribe(false)
	other.Close()
	other.Close()

	s.Close()
	s.Close()
	_, ok := <-sub.Events()
	assert.False(t, ok)

	s.Publish(Event{Kind: KindRunCompleted})
	late := s.Subscribe(true)
	_, ok = <-late.Events()
	assert.False(t, ok)
	sub.Close()
}

func TestValidatorResultJSON(t *testing.T) {
	b, err := json.Marshal(ValidatorResult{Validator: "logic", Status: "issue", Message: "off by one"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"validator":"logic","status":"issue","message":"off by one"}`, string(b))
}

// The sink stays a leaf so subscribers never link the oracle backends.
func TestNoInternalImports(t *testing.T) {
	pkg, err := build.ImportDir(".", 0)
	require.NoError(t, err)
	for _, imp := range pkg.Imports {
		assert.False(t, strings.HasPrefix(imp, "github.com/dshills/lens/"), "events imports %s", imp)
	}
}
