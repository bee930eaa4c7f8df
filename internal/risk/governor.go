package risk

import (
	"go.uber.org/zap"

	"github.com/Rajchodisetti/regime-engine/internal/decision"
	"github.com/Rajchodisetti/regime-engine/internal/portfolio"
	"github.com/Rajchodisetti/regime-engine/internal/registry"
)

// BasketState is the drawdown state of one basket
type BasketState string

const (
	BasketActive   BasketState = "active"   // Entries allowed
	BasketBreached BasketState = "breached" // Drawdown limit hit this cycle, position forced flat
	BasketClosed   BasketState = "closed"   // Flat and blocked until a fresh net value high
)

// PortfolioState is the portfolio-wide drawdown state
type PortfolioState string

const (
	PortfolioNormal  PortfolioState = "normal"   // All trading allowed
	PortfolioReduced PortfolioState = "reduced"  // New targets scaled down
	PortfolioRiskOff PortfolioState = "risk_off" // Every basket flat until a fresh portfolio high
)

// Gate names recorded on blocked decisions
const (
	GateBasketDrawdown   = "basket_drawdown"
	GatePortfolioRiskOff = "portfolio_risk_off"
)

// Transition records a state change for logging, metrics and alerts
type Transition struct {
	Scope      string  `json:"scope"` // "basket" or "portfolio"
	Instrument string  `json:"instrument,omitempty"`
	From       string  `json:"from"`
	To         string  `json:"to"`
	Drawdown   float64 `json:"drawdown"`
	NetValue   float64 `json:"net_value"`
	Peak       float64 `json:"peak"`
	Manual     bool    `json:"manual,omitempty"`
}

// BasketVerdict is the outcome of a basket check
type BasketVerdict struct {
	State      BasketState
	Drawdown   float64
	NewHigh    bool
	ForceFlat  bool
	Transition *Transition
}

// PortfolioVerdict is the outcome of a portfolio check
type PortfolioVerdict struct {
	State      PortfolioState
	NetValue   float64
	Drawdown   float64
	NewHigh    bool
	ForceFlat  bool
	Transition *Transition
}

// Governor runs the basket and portfolio drawdown state machines
type Governor struct {
	cfg     Config
	baskets map[registry.InstrumentID]BasketState
	state   PortfolioState
	logger  *zap.Logger

	basketEvents    int
	portfolioEvents int
}

// NewGovernor creates a governor with every basket active
func NewGovernor(cfg Config, logger *zap.Logger) *Governor {
	return &Governor{
		cfg:     cfg,
		baskets: make(map[registry.InstrumentID]BasketState),
		state:   PortfolioNormal,
		logger:  logger.Named("risk"),
	}
}

// CheckBasket updates the basket peak, then evaluates its drawdown
func (g *Governor) CheckBasket(b *portfolio.Basket) BasketVerdict {
	id := b.ID()
	nv := b.NetValue()
	high := b.ObserveHigh(nv)
	dd := b.Drawdown(nv)

	prev := g.BasketState(id)
	next := prev
	switch prev {
	case BasketActive:
		if dd >= g.cfg.BasketDrawdownLimit {
			next = BasketBreached
		}
	case BasketBreached:
		next = BasketClosed
		if high {
			next = BasketActive
		}
	case BasketClosed:
		if high {
			next = BasketActive
		}
	}

	v := BasketVerdict{State: next, Drawdown: dd, NewHigh: high, ForceFlat: next == BasketBreached}
	if next != prev {
		g.baskets[id] = next
		v.Transition = &Transition{
			Scope: "basket", Instrument: id.String(),
			From: string(prev), To: string(next),
			Drawdown: dd, NetValue: nv, Peak: b.Peak(),
		}
		if next == BasketBreached {
			g.basketEvents++
			g.logger.Warn("basket drawdown breached",
				zap.Stringer("instrument", id),
				zap.Float64("drawdown", dd),
				zap.Float64("net_value", nv),
				zap.Float64("peak", b.Peak()))
		} else {
			g.logger.Info("basket state changed",
				zap.Stringer("instrument", id),
				zap.String("from", string(prev)),
				zap.String("to", string(next)))
		}
	}
	return v
}

// CheckPortfolio updates the portfolio peak, then evaluates its drawdown.
// It runs after every basket check of the cycle.
func (g *Governor) CheckPortfolio(p *portfolio.Portfolio) PortfolioVerdict {
	nv := p.NetValue()
	high := p.ObserveHigh(nv)
	dd := p.Drawdown(nv)

	prev := g.state
	var next PortfolioState
	switch {
	case high:
		next = PortfolioNormal
	case dd >= g.cfg.PortfolioDrawdownLimit, prev == PortfolioRiskOff:
		next = PortfolioRiskOff
	case g.cfg.PortfolioReduceLimit > 0 && dd >= g.cfg.PortfolioReduceLimit:
		next = PortfolioReduced
	default:
		next = PortfolioNormal
	}

	v := PortfolioVerdict{
		State:     next,
		NetValue:  nv,
		Drawdown:  dd,
		NewHigh:   high,
		ForceFlat: next == PortfolioRiskOff && prev != PortfolioRiskOff,
	}
	if next != prev {
		g.state = next
		v.Transition = &Transition{
			Scope: "portfolio",
			From:  string(prev), To: string(next),
			Drawdown: dd, NetValue: nv, Peak: p.Peak(),
		}
		if next == PortfolioRiskOff {
			g.portfolioEvents++
			g.logger.Warn("portfolio risk off",
				zap.Float64("drawdown", dd),
				zap.Float64("net_value", nv),
				zap.Float64("peak", p.Peak()))
		} else {
			g.logger.Info("portfolio state changed",
				zap.String("from", string(prev)),
				zap.String("to", string(next)),
				zap.Float64("drawdown", dd))
		}
	}
	return v
}

// Gate reports whether a non-flat signal may be held for id. Flat always passes.
func (g *Governor) Gate(id registry.InstrumentID, sig decision.Signal) (bool, string) {
	if sig == decision.Flat {
		return true, ""
	}
	if g.state == PortfolioRiskOff {
		return false, GatePortfolioRiskOff
	}
	if g.BasketState(id) != BasketActive {
		return false, GateBasketDrawdown
	}
	return true, ""
}

// Scale is the multiplier applied to new targets
func (g *Governor) Scale() float64 {
	if g.state == PortfolioReduced {
		return g.cfg.ReduceScale
	}
	return 1
}

// BasketState returns the state for id, active if never checked
func (g *Governor) BasketState(id registry.InstrumentID) BasketState {
	if s, ok := g.baskets[id]; ok {
		return s
	}
	return BasketActive
}

// PortfolioState returns the portfolio state
func (g *Governor) PortfolioState() PortfolioState {
	return g.state
}

// RecoverBasket re-arms a basket: its peak moves to the current net value
// and it becomes active again
func (g *Governor) RecoverBasket(b *portfolio.Basket) Transition {
	prev := g.BasketState(b.ID())
	b.ResetPeak()
	g.baskets[b.ID()] = BasketActive
	g.logger.Warn("basket manually recovered", zap.Stringer("instrument", b.ID()), zap.String("from", string(prev)))
	return Transition{
		Scope: "basket", Instrument: b.ID().String(),
		From: string(prev), To: string(BasketActive),
		NetValue: b.NetValue(), Peak: b.Peak(), Manual: true,
	}
}

// RecoverPortfolio re-arms the portfolio: its peak moves to the current net
// value and the state returns to normal
func (g *Governor) RecoverPortfolio(p *portfolio.Portfolio) Transition {
	prev := g.state
	p.ResetPeak()
	g.state = PortfolioNormal
	g.logger.Warn("portfolio manually recovered", zap.String("from", string(prev)))
	return Transition{
		Scope: "portfolio",
		From:  string(prev), To: string(PortfolioNormal),
		NetValue: p.NetValue(), Peak: p.Peak(), Manual: true,
	}
}

// BasketBreaches is the number of basket breach events so far
func (g *Governor) BasketBreaches() int { return g.basketEvents }

// PortfolioEvents is the number of portfolio risk-off events so far
func (g *Governor) PortfolioEvents() int { return g.portfolioEvents }
