// Package engine is the cycle orchestrator: it owns every component for one
// run and feeds them from a single ordered stream of records.
package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Rajchodisetti/regime-engine/internal/alerts"
	"github.com/Rajchodisetti/regime-engine/internal/cycle"
	"github.com/Rajchodisetti/regime-engine/internal/decision"
	"github.com/Rajchodisetti/regime-engine/internal/fault"
	"github.com/Rajchodisetti/regime-engine/internal/market"
	"github.com/Rajchodisetti/regime-engine/internal/observ"
	"github.com/Rajchodisetti/regime-engine/internal/outbox"
	"github.com/Rajchodisetti/regime-engine/internal/portfolio"
	"github.com/Rajchodisetti/regime-engine/internal/registry"
	"github.com/Rajchodisetti/regime-engine/internal/risk"
	"github.com/Rajchodisetti/regime-engine/internal/roll"
)

// Options are the collaborators and settings of one engine
type Options struct {
	Registry     *registry.Registry
	TotalCapital float64
	Risk         risk.Config
	Rules        decision.Rules
	Location     *time.Location // exchange clock; UTC when nil
	Sink         outbox.Sink
	Notifier     alerts.Notifier
	Metrics      *observ.Metrics
	Tracer       opentracing.Tracer
	Logger       *zap.Logger
	SnapshotPath string
}

// Stats are the running counters of one engine
type Stats struct {
	Records          int `json:"records"`
	Cycles           int `json:"cycles"`
	TrendingEntries  int `json:"trending_entries"`
	RangingEntries   int `json:"ranging_entries"`
	UncertainCount   int `json:"uncertain_count"`
	BasketBreaches   int `json:"basket_breaches"`
	PortfolioEvents  int `json:"portfolio_events"`
	ActivePositions  int `json:"active_positions"`
	TargetsEmitted   int `json:"targets_emitted"`
	Rolls            int `json:"rolls"`
	UnknownDropped   int `json:"unknown_dropped"`
	LateDropped      int `json:"late_dropped"`
	InvalidDropped   int `json:"invalid_dropped"`
	ContractDropped  int `json:"other_contract_dropped"`
	DuplicateRecords int `json:"duplicate_records"`
}

// Engine holds all state for one run. Its methods are safe for concurrent
// use; record handling is serialized.
type Engine struct {
	mu sync.Mutex

	reg       *registry.Registry
	portfolio *portfolio.Portfolio
	sync      *cycle.Synchronizer
	roll      *roll.Manager
	governor  *risk.Governor
	rules     decision.Rules
	loc       *time.Location

	sink     outbox.Sink
	notifier alerts.Notifier
	metrics  *observ.Metrics
	tracer   opentracing.Tracer
	logger   *zap.Logger
	warn     *rate.Limiter

	runID        string
	snapshotPath string
	regimes      map[registry.InstrumentID]decision.Regime
	stats        Stats
	lastCycle    time.Time
	started      bool
	closed       bool
}

// New validates the options and builds every component
func New(opts Options) (*Engine, error) {
	if opts.Registry == nil {
		return nil, fault.Invalid("engine needs a registry")
	}
	if err := opts.Risk.Validate(); err != nil {
		return nil, err
	}
	p, err := portfolio.New(opts.Registry, opts.TotalCapital)
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Rules.ClosingWindows == nil {
		opts.Rules = decision.DefaultRules()
	}
	if opts.Sink == nil {
		opts.Sink = outbox.Multi{}
	}
	if opts.Notifier == nil {
		opts.Notifier = alerts.NewLog(opts.Logger)
	}
	if opts.Metrics == nil {
		opts.Metrics = observ.NewMetrics()
	}
	if opts.Tracer == nil {
		opts.Tracer = opentracing.NoopTracer{}
	}

	logger := opts.Logger.Named("engine")
	e := &Engine{
		reg:          opts.Registry,
		portfolio:    p,
		sync:         cycle.NewSynchronizer(opts.Registry.IDs()),
		roll:         roll.NewManager(p, opts.Logger),
		governor:     risk.NewGovernor(opts.Risk, opts.Logger),
		rules:        opts.Rules,
		loc:          opts.Location,
		sink:         opts.Sink,
		notifier:     opts.Notifier,
		metrics:      opts.Metrics,
		tracer:       opts.Tracer,
		logger:       logger,
		warn:         rate.NewLimiter(rate.Every(time.Second), 10),
		runID:        uuid.NewString(),
		snapshotPath: opts.SnapshotPath,
		regimes:      make(map[registry.InstrumentID]decision.Regime),
	}
	e.logger = e.logger.With(zap.String("run_id", e.runID))
	return e, nil
}

// Start marks the engine ready
func (e *Engine) Start(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("engine closed")
	}
	e.started = true
	base, vol := e.reg.Baseline()
	e.logger.Info("engine started",
		zap.Int("instruments", e.reg.Len()),
		zap.Float64("capital", e.portfolio.Capital()),
		zap.Stringer("baseline", base),
		zap.Float64("baseline_volatility", vol),
		zap.String("timezone", e.loc.String()))
	return nil
}

// Close evaluates the open cycle, writes the final snapshot and releases
// the sink and notifier
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	_, err := e.drain(ctx)
	e.closed = true

	if e.snapshotPath != "" {
		err = multierr.Append(err, e.snapshot().Save(e.snapshotPath))
	}
	err = multierr.Append(err, e.sink.Close())
	err = multierr.Append(err, e.notifier.Close())
	e.logger.Info("engine stopped",
		zap.Int("cycles", e.stats.Cycles),
		zap.Int("targets", e.stats.TargetsEmitted),
		zap.Float64("net_value", e.portfolio.NetValue()))
	return err
}

// Run consumes records until the channel closes or ctx is done. The open
// cycle is evaluated when the channel closes.
func (e *Engine) Run(ctx context.Context, in <-chan market.Record) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-in:
			if !ok {
				_, err := e.Drain(ctx)
				return err
			}
			if _, err := e.Handle(ctx, rec); err != nil {
				return err
			}
		}
	}
}

// Handle dispatches one record and returns the reports of any cycles it
// closed. Bad or unroutable records are dropped and counted; the returned
// error is reserved for sink failures.
func (e *Engine) Handle(ctx context.Context, rec market.Record) ([]Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errors.New("engine closed")
	}

	if err := rec.Validate(); err != nil {
		e.drop("invalid", &e.stats.InvalidDropped, err)
		return nil, nil
	}
	e.stats.Records++
	e.metrics.Records.WithLabelValues(string(rec.Kind)).Inc()

	switch rec.Kind {
	case market.KindQuote:
		cfg, err := e.reg.Resolve(rec.Quote.Market, rec.Quote.Code)
		if err != nil {
			e.drop("unknown_instrument", &e.stats.UnknownDropped, err)
			return nil, nil
		}
		if err := e.checkContract(cfg.ID, rec.Quote.Code); err != nil {
			e.drop("other_contract", &e.stats.ContractDropped, err)
			return nil, nil
		}
		closed, err := e.sync.AddQuote(rec.Quote.Snapshot(cfg.ID))
		return e.afterAdd(ctx, closed, err)

	case market.KindIndicator:
		cfg, err := e.reg.Resolve(rec.Indicator.Market, rec.Indicator.Code)
		if err != nil {
			e.drop("unknown_instrument", &e.stats.UnknownDropped, err)
			return nil, nil
		}
		closed, err := e.sync.AddIndicator(rec.Indicator.Snapshot(cfg.ID))
		return e.afterAdd(ctx, closed, err)

	case market.KindReference:
		n := e.roll.OnReference(*rec.Reference)
		e.logger.Debug("reference received",
			zap.String("market", rec.Reference.Market),
			zap.String("trading_day", rec.Reference.TradingDay),
			zap.Int("instruments", n))
		return nil, nil

	case market.KindDayBegin:
		reports, err := e.process(ctx, e.sync.FlushBefore(rec.Day.Timestamp))
		changes := e.roll.OnDayBegin(*rec.Day)
		e.stats.Rolls += len(changes)
		if len(changes) > 0 {
			e.metrics.Rolls.WithLabelValues(rec.Day.Market).Add(float64(len(changes)))
		}
		return reports, err

	case market.KindDayEnd:
		var open *cycle.Cycle
		if ts, ok := e.sync.Pending(); ok && !ts.After(rec.Day.Timestamp) {
			open = e.sync.Flush()
		}
		reports, err := e.process(ctx, open)
		e.roll.OnDayEnd(*rec.Day)
		return reports, err
	}
	return nil, nil
}

// Drain evaluates the open cycle, if any
func (e *Engine) Drain(ctx context.Context) ([]Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.drain(ctx)
}

func (e *Engine) drain(ctx context.Context) ([]Report, error) {
	return e.process(ctx, e.sync.Flush())
}

func (e *Engine) afterAdd(ctx context.Context, closed *cycle.Cycle, err error) ([]Report, error) {
	if err != nil {
		e.drop("late", &e.stats.LateDropped, err)
		return nil, nil
	}
	return e.process(ctx, closed)
}

// checkContract rejects a quote for a dated contract other than the one the
// basket is bound to. Instrument codes and continuous codes ("i<00>") always
// route; an unbound basket takes any contract.
func (e *Engine) checkContract(id registry.InstrumentID, code string) error {
	if code == id.Code || strings.Contains(code, "<") {
		return nil
	}
	b, ok := e.portfolio.Basket(id)
	if !ok || !b.Bound() || b.Contract() == code {
		return nil
	}
	return errors.Errorf("quote for %s while %s is bound to %s", code, id, b.Contract())
}

func (e *Engine) process(ctx context.Context, c *cycle.Cycle) ([]Report, error) {
	if c == nil {
		return nil, nil
	}
	r, err := e.evaluate(ctx, c)
	return []Report{r}, err
}

func (e *Engine) drop(reason string, counter *int, err error) {
	*counter++
	e.metrics.Dropped.WithLabelValues(reason).Inc()
	if e.warn.Allow() {
		e.logger.Warn("record dropped", zap.String("reason", reason), zap.Error(err))
	}
}

// RunID identifies this run in every emitted record
func (e *Engine) RunID() string {
	return e.runID
}

// Ready reports whether the engine is started and not closed
func (e *Engine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started && !e.closed
}
