package portfolio

import (
	"github.com/shopspring/decimal"

	"github.com/Rajchodisetti/regime-engine/internal/decision"
	"github.com/Rajchodisetti/regime-engine/internal/registry"
)

// Basket is the per-instrument trading unit. Quantity is expressed in units
// of the basket's capital, so a quantity of 1 is fully invested.
type Basket struct {
	cfg      registry.InstrumentConfig
	capital  float64 // fixed at construction
	signal   decision.Signal
	quantity float64
	entry    float64 // reference price of the open position
	price    float64 // last marked price
	rebase   bool    // next mark resets entry (after a roll)
	contract string  // "" while unbound
	realized decimal.Decimal
	peak     float64
}

// NewBasket creates a flat, unbound basket with its peak at its capital
func NewBasket(cfg registry.InstrumentConfig, capital float64) *Basket {
	return &Basket{
		cfg:      cfg,
		capital:  capital,
		realized: decimal.Zero,
		peak:     capital,
	}
}

func (b *Basket) ID() registry.InstrumentID          { return b.cfg.ID }
func (b *Basket) Config() registry.InstrumentConfig { return b.cfg }
func (b *Basket) Capital() float64                  { return b.capital }
func (b *Basket) Signal() decision.Signal           { return b.signal }
func (b *Basket) Quantity() float64                 { return b.quantity }
func (b *Basket) Contract() string                  { return b.contract }
func (b *Basket) Price() float64                    { return b.price }
func (b *Basket) Peak() float64                     { return b.peak }

// Bound reports whether a tradable contract has been assigned
func (b *Basket) Bound() bool {
	return b.contract != ""
}

// Realized is the accumulated realized P&L
func (b *Basket) Realized() decimal.Decimal {
	return b.realized
}

// Unrealized is the open position's P&L at the last marked price
func (b *Basket) Unrealized() float64 {
	if b.quantity == 0 || b.entry <= 0 || b.price <= 0 {
		return 0
	}
	return b.quantity * b.capital * (b.price/b.entry - 1)
}

// NetValue is capital plus realized and unrealized P&L
func (b *Basket) NetValue() float64 {
	return b.capital + b.realized.InexactFloat64() + b.Unrealized()
}

// Mark updates the last price. The first mark after a roll re-bases the
// open position on the new contract.
func (b *Basket) Mark(price float64) {
	if price <= 0 {
		return
	}
	b.price = price
	if b.rebase || (b.quantity != 0 && b.entry <= 0) {
		b.entry = price
		b.rebase = false
	}
}

// Apply realizes the open position and takes the new target at the last price
func (b *Basket) Apply(sig decision.Signal, quantity float64) {
	b.realize()
	b.signal = sig
	b.quantity = quantity
	if quantity == 0 {
		b.entry = 0
	}
}

// Settle realizes P&L at the last price and keeps the position open
func (b *Basket) Settle() {
	b.realize()
}

// Bind switches the tradable contract. An open position is realized at the
// old contract's last price and re-based on the next mark. It reports
// whether the contract changed.
func (b *Basket) Bind(contract string) bool {
	if contract == "" || contract == b.contract {
		return false
	}
	if b.quantity != 0 {
		b.realize()
		b.rebase = true
	}
	b.contract = contract
	return true
}

// ObserveHigh raises the peak when nv is a fresh high
func (b *Basket) ObserveHigh(nv float64) bool {
	if nv > b.peak {
		b.peak = nv
		return true
	}
	return false
}

// ResetPeak moves the peak to the current net value
func (b *Basket) ResetPeak() {
	b.peak = b.NetValue()
}

// Drawdown is the fractional decline of nv from the peak
func (b *Basket) Drawdown(nv float64) float64 {
	return drawdown(b.peak, nv)
}

func (b *Basket) realize() {
	if u := b.Unrealized(); u != 0 {
		b.realized = b.realized.Add(decimal.NewFromFloat(u))
	}
	if b.price > 0 {
		b.entry = b.price
	}
}

func drawdown(peak, nv float64) float64 {
	if peak <= 0 || nv >= peak {
		return 0
	}
	return (peak - nv) / peak
}
