package review

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/dshills/lens/internal/cache"
	"github.com/dshills/lens/internal/events"
	"github.com/dshills/lens/internal/gitctx"
	"github.com/dshills/lens/internal/locator"
	"github.com/dshills/lens/internal/logging"
	"github.com/dshills/lens/internal/oracle"
	"github.com/dshills/lens/internal/resolver"
	"github.com/dshills/lens/internal/source"
	"github.com/dshills/lens/internal/validators"
)

// Version is reported in every Report.
const Version = "1.0"

// Deps are the collaborators of an Engine.
type Deps struct {
	Oracle     oracle.Oracle
	Parser     source.Parser
	Validators []validators.Definition
	// Cache, when set, memoizes every Oracle call. CacheScope separates
	// entries of different models.
	Cache      *cache.Cache
	CacheScope string
	Log        *zap.Logger
}

// Options tune an Engine. Zero values take the defaults noted.
type Options struct {
	Workers              int           // outer pool size, 4
	ValidatorTimeout     time.Duration // per validator call, 20s
	ValidatorConcurrency int           // 0 runs every selected validator at once
	SelectionFallback    string        // FallbackAll or FallbackNone, FallbackAll
	MaxClarifications    int           // questions per session; negative disables, 0 means 3
	Glob                 string        // "*.php"
	MergeBase            bool
	Exclude              []string
	WellKnownMethods     []string
	SummarizeThreshold   int // bytes; 0 disables summarization
	GitPath              string
	EventBuffer          int
	EventHistory         int
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.ValidatorTimeout <= 0 {
		o.ValidatorTimeout = 20 * time.Second
	}
	if o.SelectionFallback != FallbackNone {
		o.SelectionFallback = FallbackAll
	}
	switch {
	case o.MaxClarifications == 0:
		o.MaxClarifications = 3
	case o.MaxClarifications < 0:
		o.MaxClarifications = 0
	}
	if o.Glob == "" {
		o.Glob = "*.php"
	}
	if o.WellKnownMethods == nil {
		o.WellKnownMethods = []string{"setDetails", "save"}
	}
	return o
}

// Engine runs reviews. It is safe for concurrent use; several runs may be in
// flight and share the outer pool and the event stream.
type Engine struct {
	oracle   oracle.Oracle
	parser   source.Parser
	registry *validators.Registry
	cache    *cache.Cache
	opts     Options
	log      *zap.Logger

	sink  *events.Sink
	slots *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*Session
	runs     map[string]*run
}

type run struct {
	id     string
	req    Request
	done   chan struct{}
	report *Report
	err    error
}

// NewEngine returns an Engine. Close releases it.
func NewEngine(deps Deps, opts Options) *Engine {
	log := logging.OrNop(deps.Log)
	opts = opts.withDefaults()
	o := deps.Oracle
	if deps.Cache != nil {
		o = oracle.WithCache(o, deps.Cache, deps.CacheScope)
	}
	parser := deps.Parser
	if parser == nil {
		parser = source.NewPHP()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		oracle:   o,
		parser:   parser,
		registry: validators.NewRegistry(deps.Validators, o),
		cache:    deps.Cache,
		opts:     opts,
		log:      log.Named("review"),
		sink:     events.NewSink(events.WithBuffer(opts.EventBuffer), events.WithHistory(historySize(opts.EventHistory))),
		slots:    semaphore.NewWeighted(int64(opts.Workers)),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
		runs:     make(map[string]*run),
	}
}

func historySize(n int) int {
	if n == 0 {
		return events.DefaultHistory
	}
	return n
}

// Register adds a validator, replacing one of the same name.
func (e *Engine) Register(v validators.Validator) { e.registry.Register(v) }

// Validators lists the registered validator names.
func (e *Engine) Validators() []string { return e.registry.Names() }

// Subscribe attaches a consumer to the event stream. With replay the
// retained history is delivered first.
func (e *Engine) Subscribe(replay bool) *events.Subscription { return e.sink.Subscribe(replay) }

// Start begins a review in the background and returns its run id. The run
// outlives ctx; it ends on completion or Close.
func (e *Engine) Start(ctx context.Context, req Request) (string, error) {
	if err := validateRequest(req); err != nil {
		return "", err
	}
	if err := e.ctx.Err(); err != nil {
		return "", fmt.Errorf("engine closed: %w", err)
	}
	r := e.newRun(req)
	e.log.Info("run accepted", zap.String("run", r.id), zap.String("base", req.Base), zap.String("target", req.Target))
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.execute(e.ctx, r)
	}()
	return r.id, nil
}

// Run reviews req and waits for the report.
func (e *Engine) Run(ctx context.Context, req Request) (*Report, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	r := e.newRun(req)
	e.execute(ctx, r)
	return r.report, r.err
}

// Wait blocks until the run finishes and returns its report.
func (e *Engine) Wait(ctx context.Context, runID string) (*Report, error) {
	e.mu.Lock()
	r, ok := e.runs[runID]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, ErrUnknownRun)
	}
	select {
	case <-r.done:
		return r.report, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Report returns the report of a finished run. done is false while the run
// is still in progress.
func (e *Engine) Report(runID string) (report *Report, done bool, err error) {
	e.mu.Lock()
	r, ok := e.runs[runID]
	e.mu.Unlock()
	if !ok {
		return nil, false, fmt.Errorf("run %s: %w", runID, ErrUnknownRun)
	}
	select {
	case <-r.done:
		return r.report, true, r.err
	default:
		return nil, false, nil
	}
}

// ErrUnknownRun is returned for run ids the Engine never issued.
var ErrUnknownRun = errors.New("unknown run")

// Reply delivers a clarification answer to the session with the given key.
func (e *Engine) Reply(key, answer string) error {
	e.mu.Lock()
	s, ok := e.sessions[key]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("reply to %s: %w", key, ErrUnknownSession)
	}
	if err := s.deliver(answer); err != nil {
		return fmt.Errorf("reply to %s: %w", key, err)
	}
	return nil
}

// Pending lists the questions currently awaiting an answer.
func (e *Engine) Pending() []PendingQuestion {
	e.mu.Lock()
	sessions := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()
	var out []PendingQuestion
	for _, s := range sessions {
		if q, ok := s.pending(); ok {
			out = append(out, q)
		}
	}
	sortPending(out)
	return out
}

// CacheStats reports cache counters, or nil without a cache.
func (e *Engine) CacheStats() *cache.Stats {
	if e.cache == nil {
		return nil
	}
	st := e.cache.Stats()
	return &st
}

// Close cancels background runs, waits for them, and ends every
// subscription.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
	e.sink.Close()
}

func validateRequest(req Request) error {
	if req.Repo == "" {
		return errors.New("repository path is required")
	}
	if req.Base == "" {
		return errors.New("base revision is required")
	}
	return nil
}

func (e *Engine) newRun(req Request) *run {
	r := &run{id: uuid.NewString(), req: req, done: make(chan struct{})}
	e.mu.Lock()
	e.runs[r.id] = r
	e.mu.Unlock()
	return r
}

func (e *Engine) publish(runID, session string, kind events.Kind, data any) {
	e.sink.Publish(events.Event{RunID: runID, Session: session, Kind: kind, Data: data})
}

// execute reads the change set at the requested revisions and reviews it.
func (e *Engine) execute(ctx context.Context, r *run) {
	defer close(r.done)
	start := time.Now()
	log := e.log.With(zap.String("run", r.id))

	meta, err := gitctx.GetRepoMeta(ctx, r.req.Repo)
	if err != nil {
		log.Warn("reading repository metadata", zap.Error(err), zap.String("failure", string(FailureTool)))
	}
	cs := gitctx.ReadChanges(ctx, gitctx.ChangeOptions{
		Repo:      r.req.Repo,
		Base:      r.req.Base,
		Target:    r.req.Target,
		Glob:      e.opts.Glob,
		MergeBase: e.opts.MergeBase,
		Exclude:   e.opts.Exclude,
		GitPath:   e.opts.GitPath,
	}, log)
	repo := gitctx.RevisionReader{Repo: r.req.Repo, Rev: r.req.Target, GitPath: e.opts.GitPath}
	units := (&locator.Locator{Parser: e.parser, Files: repo, Log: log}).Locate(ctx, cs)
	gitMs := time.Since(start).Milliseconds()

	e.publish(r.id, "", events.KindRunStarted, events.RunStarted{
		Repo: r.req.Repo, Base: r.req.Base, Target: r.req.Target, Head: meta.Head,
		Files: cs.Len(), Units: len(units),
	})
	log.Info("reviewing", zap.Int("files", cs.Len()), zap.Int("units", len(units)))

	reviewStart := time.Now()
	var index *resolver.ClassIndex
	if len(units) > 0 {
		index = resolver.NewClassIndex(repo, e.opts.Glob, log)
	}
	sessions := e.reviewUnits(ctx, r.id, units, index)

	report := &Report{
		Tool:    "lens",
		Version: Version,
		RunID:   r.id,
		Repo:    RepoInfo{Root: meta.Root, Head: meta.Head, Branch: meta.Branch},
		Inputs: InputInfo{
			Base: r.req.Base, Target: r.req.Target, Glob: e.opts.Glob,
			MergeBase: e.opts.MergeBase, Files: cs.Len(),
		},
		Sessions: sessions,
		Summary:  ComputeSummary(sessions),
		Cache:    e.CacheStats(),
		Timing: Timing{
			GitMs:    gitMs,
			ReviewMs: time.Since(reviewStart).Milliseconds(),
			TotalMs:  time.Since(start).Milliseconds(),
		},
	}
	r.report = report
	if err := ctx.Err(); err != nil {
		r.err = fmt.Errorf("run %s interrupted: %w", r.id, err)
	}
	e.publish(r.id, "", events.KindRunCompleted, events.RunCompleted{
		Sessions:  report.Summary.Units,
		Finalized: report.Summary.Finalized,
		Errored:   report.Summary.Errored,
		Duration:  time.Since(start),
	})
	log.Info("run completed",
		zap.Int("sessions", report.Summary.Units),
		zap.Int("errored", report.Summary.Errored),
		zap.Int64("totalMs", report.Timing.TotalMs))
}

// reviewUnits runs one session per unit on the outer pool and returns their
// reports in unit order.
func (e *Engine) reviewUnits(ctx context.Context, runID string, units []locator.CodeUnit, index *resolver.ClassIndex) []SessionReport {
	res := &resolver.Resolver{
		Parser:     e.parser,
		Index:      index,
		WellKnown:  e.opts.WellKnownMethods,
		Summarizer: e.oracle,
		Threshold:  e.opts.SummarizeThreshold,
		Log:        e.log,
	}
	if e.opts.SummarizeThreshold <= 0 {
		res.Summarizer = nil
	}

	sessions := make([]*Session, len(units))
	for i, u := range units {
		s := newSession(runID, sessionKey(runID, u), u)
		sessions[i] = s
		e.mu.Lock()
		e.sessions[s.key] = s
		e.mu.Unlock()
		e.publish(runID, s.key, events.KindUnitDiscovered, events.UnitDiscovered{
			File: u.File, Function: u.Name, Start: u.Start, End: u.End, Changed: append([]int(nil), u.Changed...),
		})
	}

	var wg sync.WaitGroup
	for _, s := range sessions {
		if err := e.slots.Acquire(ctx, 1); err != nil {
			e.errored(s, FailureSession, fmt.Errorf("waiting for a worker: %w", err))
			continue
		}
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			sl := &slot{sem: e.slots, held: true}
			defer sl.release()
			e.runSession(ctx, s, res, sl)
		}(s)
	}
	wg.Wait()

	out := make([]SessionReport, len(sessions))
	for i, s := range sessions {
		out[i] = s.report()
	}
	return out
}

func sessionKey(runID string, u locator.CodeUnit) string {
	prefix := runID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return prefix + "/" + u.ID()
}

// slot is a session's claim on the outer pool.
type slot struct {
	sem  *semaphore.Weighted
	held bool
}

func (s *slot) release() {
	if s.held {
		s.sem.Release(1)
		s.held = false
	}
}

func (s *slot) acquire(ctx context.Context) error {
	if s.held {
		return nil
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	s.held = true
	return nil
}

func (e *Engine) errored(s *Session, kind FailureKind, err error) {
	s.fail(kind, err)
	e.log.Error("session failed", zap.String("session", s.key), zap.String("failure", string(kind)), zap.Error(err))
	e.publish(s.runID, s.key, events.KindSessionErrored, events.SessionErrored{Error: err.Error(), Failure: string(kind)})
}
