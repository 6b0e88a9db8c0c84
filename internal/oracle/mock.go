package oracle

import (
	"context"
	"sync"
	"sync/atomic"
)

// Mock is a scripted Oracle for tests and offline runs. Nil function fields
// fall back to a fixed answer: every validator is selected, every check is
// clean and the draft is a one-line approval.
type Mock struct {
	InferFunc     func(ctx context.Context, body, related, fullText string) (TypeInfo, error)
	SelectFunc    func(ctx context.Context, body, related string, available []string) ([]string, error)
	CheckFunc     func(ctx context.Context, in CheckInput) (string, error)
	DraftFunc     func(ctx context.Context, in DraftInput) (string, error)
	SummarizeFunc func(ctx context.Context, label, text string) (string, error)

	mu     sync.Mutex
	drafts []DraftInput

	inferCalls, selectCalls, checkCalls, draftCalls, summarizeCalls atomic.Int64
}

func (m *Mock) InferTypes(ctx context.Context, body, related, fullText string) (TypeInfo, error) {
	m.inferCalls.Add(1)
	if m.InferFunc != nil {
		return m.InferFunc(ctx, body, related, fullText)
	}
	return TypeInfo{}, nil
}

func (m *Mock) SelectValidators(ctx context.Context, body, related string, available []string) ([]string, error) {
	m.selectCalls.Add(1)
	if m.SelectFunc != nil {
		return m.SelectFunc(ctx, body, related, available)
	}
	return append([]string(nil), available...), nil
}

func (m *Mock) RunCheck(ctx context.Context, in CheckInput) (string, error) {
	m.checkCalls.Add(1)
	if m.CheckFunc != nil {
		return m.CheckFunc(ctx, in)
	}
	return "None", nil
}

func (m *Mock) DraftReview(ctx context.Context, in DraftInput) (string, error) {
	m.draftCalls.Add(1)
	m.mu.Lock()
	m.drafts = append(m.drafts, in)
	m.mu.Unlock()
	if m.DraftFunc != nil {
		return m.DraftFunc(ctx, in)
	}
	return "No issues found in " + in.Unit.Name + ".", nil
}

func (m *Mock) Summarize(ctx context.Context, label, text string) (string, error) {
	m.summarizeCalls.Add(1)
	if m.SummarizeFunc != nil {
		return m.SummarizeFunc(ctx, label, text)
	}
	return "summary of " + label, nil
}

// Drafts returns the inputs of every DraftReview call so far.
func (m *Mock) Drafts() []DraftInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DraftInput(nil), m.drafts...)
}

// MockCalls counts the calls a Mock received, per operation.
type MockCalls struct {
	Infer, Select, Check, Draft, Summarize int
}

// Calls returns the call counters.
func (m *Mock) Calls() MockCalls {
	return MockCalls{
		Infer:     int(m.inferCalls.Load()),
		Select:    int(m.selectCalls.Load()),
		Check:     int(m.checkCalls.Load()),
		Draft:     int(m.draftCalls.Load()),
		Summarize: int(m.summarizeCalls.Load()),
	}
}
