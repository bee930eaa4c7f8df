package engine

import (
	"context"
	"time"

	"github.com/Rajchodisetti/regime-engine/internal/alerts"
	"github.com/Rajchodisetti/regime-engine/internal/fault"
	"github.com/Rajchodisetti/regime-engine/internal/portfolio"
	"github.com/Rajchodisetti/regime-engine/internal/registry"
	"github.com/Rajchodisetti/regime-engine/internal/risk"
)

// Status is the operator view of a running engine
type Status struct {
	RunID        string             `json:"run_id"`
	Ready        bool               `json:"ready"`
	LastCycle    *time.Time         `json:"last_cycle,omitempty"`
	PendingCycle *time.Time         `json:"pending_cycle,omitempty"`
	Portfolio    portfolio.Snapshot `json:"portfolio"`
	Stats        Stats              `json:"stats"`
	AlertsLost   int                `json:"alerts_dropped"`
}

// Status captures the portfolio, risk states and counters
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Status{
		RunID:      e.runID,
		Ready:      e.started && !e.closed,
		Portfolio:  e.snapshot(),
		Stats:      e.stats,
		AlertsLost: alerts.Dropped(e.notifier),
	}
	if !e.lastCycle.IsZero() {
		t := e.lastCycle
		s.LastCycle = &t
	}
	if ts, ok := e.sync.Pending(); ok {
		s.PendingCycle = &ts
	}
	return s
}

func (e *Engine) snapshot() portfolio.Snapshot {
	snap := e.portfolio.Snapshot(time.Now())
	snap.RiskState = string(e.governor.PortfolioState())
	for i := range snap.Baskets {
		id, err := registry.ParseID(snap.Baskets[i].Instrument)
		if err != nil {
			continue
		}
		snap.Baskets[i].RiskState = string(e.governor.BasketState(id))
		snap.Baskets[i].TradingDay = e.roll.TradingDay(id.Market)
		if c, ok := e.roll.Pending(id); ok {
			snap.Baskets[i].PendingContract = c
		}
	}
	return snap
}

// Recover re-arms a basket, or the portfolio when instrument is empty. The
// recovered peak is the current net value.
func (e *Engine) Recover(ctx context.Context, instrument string) (risk.Transition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var t risk.Transition
	if instrument == "" {
		t = e.governor.RecoverPortfolio(e.portfolio)
	} else {
		id, err := registry.ParseID(instrument)
		if err != nil {
			return risk.Transition{}, fault.New(fault.KindUnknownInstrument, instrument, err.Error())
		}
		b, ok := e.portfolio.Basket(id)
		if !ok {
			return risk.Transition{}, fault.New(fault.KindUnknownInstrument, instrument, "no basket")
		}
		t = e.governor.RecoverBasket(b)
	}
	e.transition(ctx, t, time.Now())
	return t, nil
}
