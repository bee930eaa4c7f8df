package decision

import (
	"github.com/Rajchodisetti/regime-engine/internal/market"
	"github.com/Rajchodisetti/regime-engine/internal/registry"
)

// Decision is the candidate outcome for one basket before risk gating
type Decision struct {
	Instrument registry.InstrumentID
	Regime     Regime
	Signal     Signal
	Rule       Rule
	Quantity   float64
	Reason     Reason
}

// Reason explains a decision for the output record
type Reason struct {
	Rule          Rule     `json:"rule"`
	TrendStrength float64  `json:"trend_strength"`
	Conviction    float64  `json:"conviction"`
	GatesBlocked  []string `json:"gates_blocked,omitempty"`
}

// Evaluate classifies the regime, applies the signal rules and sizes the
// result for one basket.
func Evaluate(rules Rules, cfg registry.InstrumentConfig, ind market.IndicatorSnapshot, close float64, minuteOfDay int, held Signal) Decision {
	regime := Classify(ind.TrendStrength, cfg.River, cfg.Lake)
	sig, rule := rules.Generate(Input{
		Regime:      regime,
		Indicator:   ind,
		Close:       close,
		Config:      cfg,
		MinuteOfDay: minuteOfDay,
		Held:        held,
	})
	return Decision{
		Instrument: cfg.ID,
		Regime:     regime,
		Signal:     sig,
		Rule:       rule,
		Quantity:   TargetQuantity(sig, cfg.SizeFactor),
		Reason: Reason{
			Rule:          rule,
			TrendStrength: ind.TrendStrength,
			Conviction:    ind.Conviction,
		},
	}
}

// Block forces the decision flat and records the gate that blocked it
func (d *Decision) Block(gate string) {
	d.Signal = Flat
	d.Quantity = 0
	d.Reason.GatesBlocked = append(d.Reason.GatesBlocked, gate)
}
