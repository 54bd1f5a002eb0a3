// CLAUDE:SUMMARY Orchestrator: load configs, select, resolve, evaluate conditions, apply mutations, record analytics; generation counter discards stale passes.
// Package bridge wires the pipeline together.
//
// A Run loads the configuration list, selects one configuration for the
// page, resolves its actions, and applies each eligible action to the
// document. A fresh cached list is applied eagerly while the network fetch
// is in flight; the network (or stale fallback) result is applied after it.
// Every pass is tagged with a generation number and holds the document lock
// while it runs; a pass whose generation is no longer the latest is
// discarded instead of overwriting newer work.
//
// Usage:
//
//	b, err := bridge.New(bridge.Config{Endpoint: url}, logger)
//	defer b.Close()
//	report, err := b.Run(ctx, doc, pageCtx)
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/hazyhaar/visionbridge/analytics"
	"github.com/hazyhaar/visionbridge/condition"
	"github.com/hazyhaar/visionbridge/dom"
	"github.com/hazyhaar/visionbridge/env"
	"github.com/hazyhaar/visionbridge/execute"
	"github.com/hazyhaar/visionbridge/idgen"
	"github.com/hazyhaar/visionbridge/kit"
	"github.com/hazyhaar/visionbridge/kv"
	"github.com/hazyhaar/visionbridge/match"
	"github.com/hazyhaar/visionbridge/pagetype"
	"github.com/hazyhaar/visionbridge/resolve"
	"github.com/hazyhaar/visionbridge/rule"
	"github.com/hazyhaar/visionbridge/source"
)

// State is the orchestrator state.
type State int

const (
	Idle State = iota
	Loading
	Applying
	Failed
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Applying:
		return "applying"
	case Failed:
		return "failed"
	}
	return "idle"
}

// Loader produces configuration lists. *source.Source implements it.
type Loader interface {
	Load(ctx context.Context, onCached func(*source.Result)) (*source.Result, error)
}

// PassReport describes one apply pass.
type PassReport struct {
	Generation uint64         `json:"generation"`
	FromCache  bool           `json:"from_cache"`
	Fallback   bool           `json:"fallback,omitempty"`
	Config     string         `json:"config,omitempty"`
	Tier       match.Tier     `json:"tier,omitempty"`
	PageType   pagetype.Label `json:"page_type,omitempty"`
	Applied    int            `json:"applied"`
	Skipped    int            `json:"skipped"`
	Failed     int            `json:"failed"`
	Rejected   int            `json:"rejected"`
	Discarded  bool           `json:"discarded,omitempty"`
}

// Report summarises a Run. The top-level fields describe the latest pass
// that was not discarded.
type Report struct {
	RunID      string         `json:"run_id"`
	Generation uint64         `json:"generation"`
	Config     string         `json:"config,omitempty"`
	Tier       match.Tier     `json:"tier,omitempty"`
	PageType   pagetype.Label `json:"page_type,omitempty"`
	FromCache  bool           `json:"from_cache"`
	Applied    int            `json:"applied"`
	Skipped    int            `json:"skipped"`
	Failed     int            `json:"failed"`
	Rejected   int            `json:"rejected"`
	Discarded  int            `json:"discarded"`
	Passes     []PassReport   `json:"passes"`
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithDocumentLock replaces the lock apply passes hold on the document.
func WithDocumentLock(l sync.Locker) Option {
	return func(b *Bridge) { b.docLock = l }
}

// WithTransitionHook registers fn for every state change.
func WithTransitionHook(fn func(from, to State)) Option {
	return func(b *Bridge) { b.hook = fn }
}

// WithSource replaces the network source.
func WithSource(l Loader) Option {
	return func(b *Bridge) { b.src = l }
}

// WithCache sets the cache store used by the default source.
func WithCache(s kv.Store) Option {
	return func(b *Bridge) { b.cache = s }
}

// Bridge is the orchestrator. Safe for concurrent use.
type Bridge struct {
	cfg    Config
	logger *slog.Logger
	src    Loader
	cache  kv.Store
	closer func() error
	rec    *analytics.Recorder

	docLock sync.Locker
	newID   idgen.Generator
	hook    func(from, to State)

	mu        sync.Mutex
	state     State
	last      []rule.Configuration
	listeners []func(source.FetchFailed)
}

// New creates a Bridge. When cfg.CacheDB is set the cache is a SQLite file
// owned by the Bridge; Close releases it.
func New(cfg Config, logger *slog.Logger, opts ...Option) (*Bridge, error) {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{
		cfg:     cfg,
		logger:  logger,
		rec:     analytics.New(),
		docLock: &sync.Mutex{},
		newID:   idgen.Prefixed("run_", idgen.Default),
	}
	for _, o := range opts {
		o(b)
	}

	if b.src == nil {
		if b.cache == nil {
			if cfg.CacheDB != "" {
				db, err := kv.OpenSQLite(cfg.CacheDB, cfg.cacheOptions()...)
				if err != nil {
					return nil, fmt.Errorf("bridge: open cache: %w", err)
				}
				b.cache = db
				b.closer = db.Close
			} else {
				b.cache = kv.NewMemory(nil)
			}
		}
		b.src = source.New(source.Config{
			Endpoint:  cfg.Endpoint,
			Cache:     b.cache,
			Attempts:  cfg.Attempts,
			BaseDelay: cfg.BaseDelay,
			Timeout:   cfg.AttemptTimeout,
			TTL:       cfg.CacheTTL,
			MaxBytes:  cfg.MaxBodyBytes,
			UserAgent: cfg.UserAgent,
			Logger:    logger,
		})
	}
	if n, ok := b.src.(interface{ OnFetchFailed(func(source.FetchFailed)) }); ok {
		n.OnFetchFailed(b.fetchFailed)
	}
	return b, nil
}

// Close releases the cache database, if the Bridge opened one.
func (b *Bridge) Close() error {
	if b.closer != nil {
		return b.closer()
	}
	return nil
}

// State returns the current state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Analytics returns a snapshot of the recorder.
func (b *Bridge) Analytics() analytics.Snapshot {
	return b.rec.Snapshot()
}

// OnFetchFailed registers fn for exhaustion events.
func (b *Bridge) OnFetchFailed(fn func(source.FetchFailed)) {
	b.mu.Lock()
	b.listeners = append(b.listeners, fn)
	b.mu.Unlock()
}

func (b *Bridge) fetchFailed(ev source.FetchFailed) {
	msg := ""
	if ev.Err != nil {
		msg = ev.Err.Error()
	}
	b.rec.RecordFetch(analytics.FetchStatus{
		Success: false,
		Attempt: ev.Attempts,
		Error:   msg,
		Time:    ev.Time,
	})
	b.mu.Lock()
	ls := slices.Clone(b.listeners)
	b.mu.Unlock()
	for _, fn := range ls {
		fn(ev)
	}
}

func (b *Bridge) transition(to State) {
	b.mu.Lock()
	from := b.state
	b.state = to
	b.mu.Unlock()
	if b.hook != nil {
		b.hook(from, to)
	}
}

// Run executes one page load against doc. It returns once the network (or
// fallback) pass and any eager cache pass have finished. The error is
// non-nil only when no configuration list could be obtained.
func (b *Bridge) Run(ctx context.Context, doc dom.Document, pc *env.Context) (*Report, error) {
	runID := b.newID()
	ctx = kit.WithRunID(ctx, runID)
	log := b.logger.With("run_id", runID)
	report := &Report{RunID: runID}

	// Generations order the passes of this run only.
	gens := new(atomic.Uint64)
	var (
		wg    sync.WaitGroup
		eager PassReport
		ran   bool
	)
	onCached := func(res *source.Result) {
		g := gens.Add(1)
		ran = true
		wg.Add(1)
		go func() {
			defer wg.Done()
			eager = b.apply(ctx, log, runID, gens, g, doc, pc, res)
		}()
	}

	b.transition(Loading)
	res, err := b.src.Load(ctx, onCached)
	if err != nil {
		b.transition(Failed)
		wg.Wait()
		if ran {
			report.add(eager)
		}
		b.transition(Idle)
		var ex *source.ExhaustedError
		if errors.As(err, &ex) {
			log.ErrorContext(ctx, "bridge: no configuration available", "attempts", ex.Attempts, "error", ex.Last)
		}
		return report, fmt.Errorf("bridge: load: %w", err)
	}

	if res.Empty {
		log.WarnContext(ctx, "bridge: nothing to apply", "attempts", res.Attempts)
		b.rec.RecordFetch(analytics.FetchStatus{
			Success: true,
			Attempt: res.Attempts,
			Error:   source.ErrEmptyPayload.Error(),
		})
		wg.Wait()
		if ran {
			report.add(eager)
		}
		b.transition(Idle)
		return report, nil
	}

	b.mu.Lock()
	b.last = res.Configs
	b.mu.Unlock()

	g := gens.Add(1)
	b.transition(Applying)
	final := b.apply(ctx, log, runID, gens, g, doc, pc, res)
	wg.Wait()
	if ran {
		report.add(eager)
	}
	report.add(final)
	b.transition(Idle)
	return report, nil
}

// add folds a pass into the report. Passes arrive in any order; the
// summary tracks the highest generation that was not discarded.
func (r *Report) add(p PassReport) {
	r.Passes = append(r.Passes, p)
	if p.Discarded {
		r.Discarded++
		return
	}
	if p.Generation < r.Generation {
		return
	}
	r.Generation = p.Generation
	r.Config = p.Config
	r.Tier = p.Tier
	r.PageType = p.PageType
	r.FromCache = p.FromCache
	r.Applied = p.Applied
	r.Skipped = p.Skipped
	r.Failed = p.Failed
	r.Rejected = p.Rejected
}

// apply runs one pass under the document lock. The pass is discarded when
// gens has moved past gen.
func (b *Bridge) apply(ctx context.Context, log *slog.Logger, runID string, gens *atomic.Uint64, gen uint64, doc dom.Document, pc *env.Context, res *source.Result) PassReport {
	b.docLock.Lock()
	defer b.docLock.Unlock()

	p := PassReport{Generation: gen, FromCache: res.FromCache, Fallback: res.Fallback}
	if latest := gens.Load(); latest != gen {
		log.DebugContext(ctx, "bridge: stale pass discarded", "generation", gen, "latest", latest)
		p.Discarded = true
		return p
	}

	sel, ok := match.Select(res.Configs, pc)
	status := analytics.FetchStatus{
		Success:     !res.Fallback,
		Attempt:     res.Attempts,
		SourceCount: len(res.Configs),
		FromCache:   res.FromCache,
	}
	if res.Err != nil {
		status.Error = res.Err.Error()
	}
	if !ok {
		b.rec.RecordFetch(status)
		return p
	}
	p.Config = sel.Config.Label()
	p.Tier = sel.Tier
	p.PageType = sel.PageType
	status.SelectedConfig = p.Config
	status.PageType = string(sel.PageType)
	b.rec.RecordFetch(status)

	for _, a := range resolve.Resolve(sel.Config.Actions) {
		m, err := execute.Compile(a)
		if err != nil {
			if b.cfg.StrictKinds {
				log.WarnContext(ctx, "bridge: action rejected", "kind", a.Type, "error", err)
				p.Rejected++
			}
			continue
		}
		if !condition.Matches(ctx, a.Condition, pc) {
			p.Skipped++
			continue
		}
		n, err := execute.Apply(doc, m)
		if err != nil {
			log.WarnContext(ctx, "bridge: action failed",
				"kind", a.Type, "selector", a.Describe(), "generation", gen, "error", err)
			p.Failed++
			continue
		}
		b.rec.RecordAction(runID, gen, a)
		p.Applied++
		log.DebugContext(ctx, "bridge: action applied",
			"kind", a.Type, "selector", a.Describe(), "nodes", n, "generation", gen)
	}
	log.InfoContext(ctx, "bridge: pass complete",
		"generation", gen, "config", p.Config, "tier", p.Tier, "page_type", p.PageType,
		"from_cache", p.FromCache, "applied", p.Applied, "skipped", p.Skipped, "failed", p.Failed)
	return p
}

// PreviewAction is a resolved action and whether its condition holds.
type PreviewAction struct {
	Action   rule.Action `json:"action"`
	Eligible bool        `json:"eligible"`
}

// Preview is a dry-run selection.
type Preview struct {
	Config   *rule.Configuration `json:"config,omitempty"`
	Tier     match.Tier          `json:"tier,omitempty"`
	PageType pagetype.Label      `json:"page_type,omitempty"`
	Actions  []PreviewAction     `json:"actions"`
}

// Preview selects and resolves against the last loaded list without
// touching any document. When nothing was loaded yet it loads first.
func (b *Bridge) Preview(ctx context.Context, pc *env.Context) (*Preview, error) {
	b.mu.Lock()
	configs := b.last
	b.mu.Unlock()

	if configs == nil {
		res, err := b.src.Load(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("bridge: load: %w", err)
		}
		configs = res.Configs
		if !res.Empty {
			b.mu.Lock()
			b.last = configs
			b.mu.Unlock()
		}
	}

	out := &Preview{Actions: []PreviewAction{}}
	sel, ok := match.Select(configs, pc)
	if !ok {
		return out, nil
	}
	out.Config = sel.Config
	out.Tier = sel.Tier
	out.PageType = sel.PageType
	for _, a := range resolve.Resolve(sel.Config.Actions) {
		if !a.Type.Known() {
			continue
		}
		out.Actions = append(out.Actions, PreviewAction{
			Action:   a,
			Eligible: condition.Matches(ctx, a.Condition, pc),
		})
	}
	return out, nil
}
