package engine

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Rajchodisetti/regime-engine/internal/alerts"
	"github.com/Rajchodisetti/regime-engine/internal/cycle"
	"github.com/Rajchodisetti/regime-engine/internal/decision"
	"github.com/Rajchodisetti/regime-engine/internal/fault"
	"github.com/Rajchodisetti/regime-engine/internal/market"
	"github.com/Rajchodisetti/regime-engine/internal/portfolio"
	"github.com/Rajchodisetti/regime-engine/internal/registry"
	"github.com/Rajchodisetti/regime-engine/internal/risk"
)

// Report is the outcome of one evaluated cycle
type Report struct {
	Timestamp   time.Time
	Targets     []market.TargetPosition
	Skipped     map[registry.InstrumentID]fault.Kind
	Transitions []risk.Transition
	NetValue    float64
	Drawdown    float64
	RiskState   risk.PortfolioState
	Duplicates  int
}

// evaluate runs one cycle: every basket in instrument order, then the
// portfolio check, then a single sink write
func (e *Engine) evaluate(ctx context.Context, c *cycle.Cycle) (Report, error) {
	span := e.tracer.StartSpan("engine.cycle")
	defer span.Finish()
	span.SetTag("cycle.timestamp", c.Timestamp.UTC().Format(time.RFC3339))
	ctx = opentracing.ContextWithSpan(ctx, span)

	start := time.Now()
	minute := e.minuteOfDay(c.Timestamp)
	r := Report{
		Timestamp:  c.Timestamp,
		Skipped:    make(map[registry.InstrumentID]fault.Kind),
		Duplicates: c.Duplicates,
	}
	e.stats.DuplicateRecords += c.Duplicates

	var targets []market.TargetPosition
	emitted := make(map[registry.InstrumentID]emission)

	for _, b := range e.portfolio.Baskets() {
		id := b.ID()
		slot := c.Slots[id]
		if slot != nil && slot.Quote != nil {
			b.Mark(slot.Quote.Close)
		}
		if err := e.evaluable(b, slot); err != nil {
			kind := fault.KindOf(err)
			r.Skipped[id] = kind
			e.metrics.BasketsSkipped.WithLabelValues(string(kind)).Inc()
			e.logger.Debug("basket skipped", zap.Stringer("instrument", id), zap.Error(err))
			continue
		}

		verdict := e.governor.CheckBasket(b)
		if verdict.Transition != nil {
			r.Transitions = append(r.Transitions, *verdict.Transition)
			e.transition(ctx, *verdict.Transition, c.Timestamp)
		}

		d := decision.Evaluate(e.rules, b.Config(), *slot.Indicator, slot.Quote.Close, minute, b.Signal())
		e.regimes[id] = d.Regime
		e.metrics.RegimeCount.WithLabelValues(string(d.Regime)).Inc()
		if d.Regime == decision.RegimeUncertain {
			e.stats.UncertainCount++
		}

		if verdict.ForceFlat {
			d.Block(risk.GateBasketDrawdown)
		} else if ok, gate := e.governor.Gate(id, d.Signal); !ok {
			d.Block(gate)
		}
		if d.Signal == b.Signal() {
			continue
		}
		d.Quantity *= e.governor.Scale()

		emitted[id] = emission{decision: d, prior: b.Signal()}
		b.Apply(d.Signal, d.Quantity)
		targets = append(targets, e.target(b, d, c.Timestamp))
	}

	pv := e.governor.CheckPortfolio(e.portfolio)
	if pv.Transition != nil {
		r.Transitions = append(r.Transitions, *pv.Transition)
		e.transition(ctx, *pv.Transition, c.Timestamp)
	}
	if pv.ForceFlat {
		targets = e.flatten(targets, emitted, c.Timestamp)
	}
	for _, t := range targets {
		if t.Signal == decision.Flat.String() {
			continue
		}
		switch emitted[t.Instrument].decision.Regime {
		case decision.RegimeTrending:
			e.stats.TrendingEntries++
		case decision.RegimeRanging:
			e.stats.RangingEntries++
		}
	}

	if len(targets) > 0 {
		sinkSpan, sctx := opentracing.StartSpanFromContext(ctx, "engine.sink")
		err := e.sink.Write(sctx, targets)
		sinkSpan.Finish()
		if err != nil {
			ext.Error.Set(span, true)
			e.logger.Error("target write failed", zap.Int("targets", len(targets)), zap.Error(err))
			return r, errors.Wrap(err, "write targets")
		}
	}

	for _, t := range targets {
		e.metrics.Targets.WithLabelValues(t.Instrument.String(), t.Signal).Inc()
	}
	e.stats.Cycles++
	e.stats.TargetsEmitted += len(targets)
	e.stats.BasketBreaches = e.governor.BasketBreaches()
	e.stats.PortfolioEvents = e.governor.PortfolioEvents()
	e.stats.ActivePositions = e.portfolio.ActivePositions()
	e.lastCycle = c.Timestamp
	e.observe(time.Since(start))

	r.Targets = targets
	r.NetValue = pv.NetValue
	r.Drawdown = pv.Drawdown
	r.RiskState = pv.State
	span.SetTag("cycle.targets", len(targets))
	span.SetTag("cycle.skipped", len(r.Skipped))
	if len(targets) > 0 || len(r.Transitions) > 0 {
		e.logger.Info("cycle evaluated",
			zap.Time("timestamp", c.Timestamp),
			zap.Int("targets", len(targets)),
			zap.Int("skipped", len(r.Skipped)),
			zap.Float64("net_value", pv.NetValue),
			zap.Float64("drawdown", pv.Drawdown),
			zap.String("risk_state", string(pv.State)))
	}
	return r, nil
}

// evaluable returns the fault that keeps a basket out of this cycle
func (e *Engine) evaluable(b *portfolio.Basket, slot *cycle.Slot) error {
	id := b.ID()
	if !b.Bound() {
		return fault.New(fault.KindUnbound, id.String(), "no tradable contract")
	}
	if slot == nil || slot.Quote == nil {
		return fault.New(fault.KindMissingData, id.String(), "no quote")
	}
	if slot.Indicator == nil {
		return fault.New(fault.KindMissingData, id.String(), "no indicator")
	}
	return nil
}

// emission is a signal change applied during the current cycle
type emission struct {
	decision decision.Decision
	prior    decision.Signal
}

// flatten closes every open basket after a portfolio risk-off. A basket
// that already emitted this cycle has its record replaced, or dropped when
// it entered from flat, so each basket emits at most once per cycle and only
// when its signal changed.
func (e *Engine) flatten(targets []market.TargetPosition, emitted map[registry.InstrumentID]emission, ts time.Time) []market.TargetPosition {
	for _, b := range e.portfolio.Baskets() {
		id := b.ID()
		if b.Signal() == decision.Flat {
			continue
		}
		em, ok := emitted[id]
		b.Apply(decision.Flat, 0)
		if ok && em.prior == decision.Flat {
			delete(emitted, id)
			targets = remove(targets, id)
			continue
		}

		d := em.decision
		if !ok {
			d = decision.Decision{
				Instrument: id,
				Regime:     e.regimes[id],
				Rule:       decision.RuleHold,
				Reason:     decision.Reason{Rule: decision.RuleHold},
			}
		}
		d.Block(risk.GatePortfolioRiskOff)
		emitted[id] = emission{decision: d, prior: em.prior}

		t := e.target(b, d, ts)
		if replaced := replace(targets, t); !replaced {
			targets = append(targets, t)
		}
	}
	e.stats.ActivePositions = 0
	return targets
}

func replace(targets []market.TargetPosition, t market.TargetPosition) bool {
	for i := range targets {
		if targets[i].Instrument == t.Instrument {
			targets[i] = t
			return true
		}
	}
	return false
}

func remove(targets []market.TargetPosition, id registry.InstrumentID) []market.TargetPosition {
	out := targets[:0]
	for _, t := range targets {
		if t.Instrument != id {
			out = append(out, t)
		}
	}
	return out
}

func (e *Engine) target(b *portfolio.Basket, d decision.Decision, ts time.Time) market.TargetPosition {
	reason, err := sonic.MarshalString(d.Reason)
	if err != nil {
		reason = string(d.Reason.Rule)
	}
	return market.TargetPosition{
		ID:         uuid.NewString(),
		RunID:      e.runID,
		Instrument: b.ID(),
		Contract:   b.Contract(),
		Signal:     d.Signal.String(),
		Quantity:   b.Quantity(),
		Timestamp:  ts,
		Regime:     string(d.Regime),
		RiskState:  e.riskState(b.ID()),
		Reason:     reason,
	}
}

// riskState is the portfolio state when it is not normal, otherwise the
// basket state
func (e *Engine) riskState(id registry.InstrumentID) string {
	if s := e.governor.PortfolioState(); s != risk.PortfolioNormal {
		return string(s)
	}
	return string(e.governor.BasketState(id))
}

func (e *Engine) transition(ctx context.Context, t risk.Transition, at time.Time) {
	e.metrics.RiskTransitions.WithLabelValues(t.Scope, t.To).Inc()
	e.notifier.Notify(ctx, alerts.Alert{
		Scope:      t.Scope,
		Instrument: t.Instrument,
		From:       t.From,
		To:         t.To,
		Drawdown:   t.Drawdown,
		NetValue:   t.NetValue,
		Peak:       t.Peak,
		Manual:     t.Manual,
		At:         at,
	})
}

func (e *Engine) observe(elapsed time.Duration) {
	e.metrics.Cycles.Inc()
	e.metrics.CycleDuration.Observe(elapsed.Seconds())
	nv := e.portfolio.NetValue()
	e.metrics.PortfolioNAV.Set(nv)
	e.metrics.PortfolioDD.Set(e.portfolio.Drawdown(nv))
	e.metrics.ActivePositions.Set(float64(e.stats.ActivePositions))
	for _, b := range e.portfolio.Baskets() {
		e.metrics.BasketNAV.WithLabelValues(b.ID().String()).Set(b.NetValue())
	}
}

// minuteOfDay is the cycle time on the exchange clock
func (e *Engine) minuteOfDay(ts time.Time) int {
	local := ts.In(e.loc)
	return local.Hour()*60 + local.Minute()
}
