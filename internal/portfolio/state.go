package portfolio

import (
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	"github.com/Rajchodisetti/regime-engine/internal/fault"
	"github.com/Rajchodisetti/regime-engine/internal/registry"
)

// Portfolio is the set of baskets and the portfolio-level peak
type Portfolio struct {
	baskets []*Basket // sorted by instrument id
	byID    map[registry.InstrumentID]*Basket
	capital float64
	peak    float64
}

// New creates one basket per registry instrument, splitting totalCapital
// evenly. Basket capital never changes afterwards.
func New(reg *registry.Registry, totalCapital float64) (*Portfolio, error) {
	if !(totalCapital > 0) {
		return nil, fault.Invalid("total capital %v must be positive", totalCapital)
	}
	ids := reg.IDs()
	if len(ids) == 0 {
		return nil, fault.Invalid("registry has no instruments")
	}

	p := &Portfolio{
		byID:    make(map[registry.InstrumentID]*Basket, len(ids)),
		capital: totalCapital,
		peak:    totalCapital,
	}
	share := totalCapital / float64(len(ids))
	for _, id := range ids {
		cfg, _ := reg.Lookup(id)
		b := NewBasket(cfg, share)
		p.baskets = append(p.baskets, b)
		p.byID[id] = b
	}
	return p, nil
}

// Baskets returns the baskets in processing order
func (p *Portfolio) Baskets() []*Basket {
	return p.baskets
}

// Basket returns the basket for id
func (p *Portfolio) Basket(id registry.InstrumentID) (*Basket, bool) {
	b, ok := p.byID[id]
	return b, ok
}

// InMarket returns the baskets of one market in processing order
func (p *Portfolio) InMarket(market string) []*Basket {
	var out []*Basket
	for _, b := range p.baskets {
		if b.ID().Market == market {
			out = append(out, b)
		}
	}
	return out
}

// Capital is the total capital across baskets
func (p *Portfolio) Capital() float64 { return p.capital }

// Peak is the highest portfolio net value observed
func (p *Portfolio) Peak() float64 { return p.peak }

// NetValue sums basket net values
func (p *Portfolio) NetValue() float64 {
	var nv float64
	for _, b := range p.baskets {
		nv += b.NetValue()
	}
	return nv
}

// ObserveHigh raises the peak when nv is a fresh high
func (p *Portfolio) ObserveHigh(nv float64) bool {
	if nv > p.peak {
		p.peak = nv
		return true
	}
	return false
}

// ResetPeak moves the peak to the current net value
func (p *Portfolio) ResetPeak() {
	p.peak = p.NetValue()
}

// Drawdown is the fractional decline of nv from the peak
func (p *Portfolio) Drawdown(nv float64) float64 {
	return drawdown(p.peak, nv)
}

// ActivePositions counts baskets holding a non-flat signal
func (p *Portfolio) ActivePositions() int {
	n := 0
	for _, b := range p.baskets {
		if b.Quantity() != 0 {
			n++
		}
	}
	return n
}

// BasketSnapshot is the reportable state of one basket
type BasketSnapshot struct {
	Instrument      string  `json:"instrument"`
	Contract        string  `json:"contract"`
	PendingContract string  `json:"pending_contract,omitempty"` // applied at the next day begin
	TradingDay      string  `json:"trading_day,omitempty"`
	Signal          string  `json:"signal"`
	Quantity        float64 `json:"quantity"`
	Price           float64 `json:"price"`
	Capital         float64 `json:"capital"`
	NetValue        float64 `json:"net_value"`
	Peak            float64 `json:"peak"`
	Realized        string  `json:"realized"`
	RiskState       string  `json:"risk_state,omitempty"`
}

// Snapshot is the reportable state of the portfolio
type Snapshot struct {
	UpdatedAt string           `json:"updated_at"`
	Capital   float64          `json:"capital"`
	NetValue  float64          `json:"net_value"`
	Peak      float64          `json:"peak"`
	Drawdown  float64          `json:"drawdown"`
	RiskState string           `json:"risk_state,omitempty"`
	Baskets   []BasketSnapshot `json:"baskets"`
}

// Snapshot captures the current state
func (p *Portfolio) Snapshot(now time.Time) Snapshot {
	nv := p.NetValue()
	s := Snapshot{
		UpdatedAt: now.UTC().Format(time.RFC3339),
		Capital:   p.capital,
		NetValue:  nv,
		Peak:      p.peak,
		Drawdown:  p.Drawdown(nv),
		Baskets:   make([]BasketSnapshot, 0, len(p.baskets)),
	}
	for _, b := range p.baskets {
		s.Baskets = append(s.Baskets, BasketSnapshot{
			Instrument: b.ID().String(),
			Contract:   b.Contract(),
			Signal:     b.Signal().String(),
			Quantity:   b.Quantity(),
			Price:      b.Price(),
			Capital:    b.Capital(),
			NetValue:   b.NetValue(),
			Peak:       b.Peak(),
			Realized:   b.Realized().StringFixed(2),
		})
	}
	return s
}

// Save atomically writes the snapshot to path
func (s Snapshot) Save(path string) error {
	data, err := sonic.ConfigStd.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal portfolio snapshot")
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return errors.Wrap(err, "write temp portfolio snapshot")
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return errors.Wrap(err, "rename portfolio snapshot")
	}
	return nil
}
