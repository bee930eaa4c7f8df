// Package roll keeps each basket bound to its market's most liquid contract.
package roll

import (
	"go.uber.org/zap"

	"github.com/Rajchodisetti/regime-engine/internal/market"
	"github.com/Rajchodisetti/regime-engine/internal/portfolio"
	"github.com/Rajchodisetti/regime-engine/internal/registry"
)

// Change describes a contract switch applied at day begin
type Change struct {
	Instrument registry.InstrumentID
	From       string
	To         string
	TradingDay string
}

// Manager selects leading contracts from reference events and applies them
// at the next day begin of their market
type Manager struct {
	portfolio *portfolio.Portfolio
	pending   map[registry.InstrumentID]string
	days      map[string]string // market -> current trading day
	logger    *zap.Logger
}

// NewManager creates a roll manager over the portfolio's baskets
func NewManager(p *portfolio.Portfolio, logger *zap.Logger) *Manager {
	return &Manager{
		portfolio: p,
		pending:   make(map[registry.InstrumentID]string),
		days:      make(map[string]string),
		logger:    logger.Named("roll"),
	}
}

// OnReference records the most liquid candidate for every instrument of the
// event's market. Nothing is bound until the next day begin.
func (m *Manager) OnReference(ev market.Reference) int {
	selected := 0
	for _, b := range m.portfolio.InMarket(ev.Market) {
		id := b.ID()
		best, ok := leading(id.Code, ev.Contracts)
		if !ok {
			continue
		}
		m.pending[id] = best
		selected++
		m.logger.Debug("leading contract selected",
			zap.Stringer("instrument", id),
			zap.String("contract", best),
			zap.String("trading_day", ev.TradingDay))
	}
	return selected
}

// OnDayBegin applies pending contracts for the market. A basket whose
// pending contract matches its bound contract is left untouched.
func (m *Manager) OnDayBegin(ev market.Day) []Change {
	m.days[ev.Market] = ev.TradingDay

	var changes []Change
	for _, b := range m.portfolio.InMarket(ev.Market) {
		id := b.ID()
		next, ok := m.pending[id]
		if !ok {
			continue
		}
		delete(m.pending, id)
		from := b.Contract()
		if !b.Bind(next) {
			continue
		}
		c := Change{Instrument: id, From: from, To: next, TradingDay: ev.TradingDay}
		changes = append(changes, c)
		m.logger.Info("contract rolled",
			zap.Stringer("instrument", id),
			zap.String("from", from),
			zap.String("to", next),
			zap.String("trading_day", ev.TradingDay),
			zap.Float64("quantity", b.Quantity()))
	}
	return changes
}

// OnDayEnd settles every bound basket of the market
func (m *Manager) OnDayEnd(ev market.Day) int {
	settled := 0
	for _, b := range m.portfolio.InMarket(ev.Market) {
		if !b.Bound() {
			continue
		}
		b.Settle()
		settled++
	}
	m.logger.Debug("day settled",
		zap.String("market", ev.Market),
		zap.String("trading_day", ev.TradingDay),
		zap.Int("baskets", settled))
	return settled
}

// Pending returns the contract awaiting the next day begin for id
func (m *Manager) Pending(id registry.InstrumentID) (string, bool) {
	c, ok := m.pending[id]
	return c, ok
}

// TradingDay returns the market's current trading day
func (m *Manager) TradingDay(market string) string {
	return m.days[market]
}

// leading picks the highest-liquidity candidate for code. Ties go to the
// lexicographically smallest contract.
func leading(code string, candidates []market.ContractQuote) (string, bool) {
	var best market.ContractQuote
	found := false
	for _, c := range candidates {
		if registry.CommodityCode(c.Contract) != code {
			continue
		}
		if !found || c.Liquidity > best.Liquidity || (c.Liquidity == best.Liquidity && c.Contract < best.Contract) {
			best = c
			found = true
		}
	}
	return best.Contract, found
}
