// Package registry holds the validated, immutable per-instrument rule table.
package registry

import (
	"math"
	"sort"
	"strings"

	"go.uber.org/multierr"

	"github.com/Rajchodisetti/regime-engine/internal/fault"
)

// InstrumentID identifies an instrument by exchange and commodity code
type InstrumentID struct {
	Market string `json:"market" yaml:"market"`
	Code   string `json:"code" yaml:"code"`
}

// String renders the id as MARKET.code
func (id InstrumentID) String() string {
	return id.Market + "." + id.Code
}

// Less orders ids by market, then code
func (id InstrumentID) Less(other InstrumentID) bool {
	if id.Market != other.Market {
		return id.Market < other.Market
	}
	return id.Code < other.Code
}

// ParseID parses MARKET.code
func ParseID(s string) (InstrumentID, error) {
	i := strings.IndexByte(s, '.')
	if i <= 0 || i == len(s)-1 {
		return InstrumentID{}, fault.Invalid("instrument id %q is not MARKET.code", s)
	}
	return InstrumentID{Market: s[:i], Code: s[i+1:]}, nil
}

// CommodityCode strips the delivery suffix from a contract code:
// "i2505" and "i<00>" both yield "i".
func CommodityCode(contract string) string {
	if i := strings.IndexByte(contract, '<'); i >= 0 {
		contract = contract[:i]
	}
	return strings.TrimRight(contract, "0123456789")
}

// InstrumentConfig is the per-instrument rule set. Values are copied out of
// the registry, so holders cannot alter the table.
type InstrumentConfig struct {
	ID         InstrumentID
	River      float64 // trend strength above this is trending
	Lake       float64 // trend strength below this is ranging
	Bull       float64 // conviction above this supports a long
	Bear       float64 // conviction below this supports a short
	Volatility float64
	SizeFactor float64 // baseline volatility / instrument volatility
}

// Registry is the loaded instrument table
type Registry struct {
	baseline    InstrumentID
	baselineVol float64
	ids         []InstrumentID
	byID        map[InstrumentID]InstrumentConfig
}

// Build validates a table and produces a registry. Every violation is
// reported; a table with any violation yields no registry.
func Build(t Table) (*Registry, error) {
	var errs error
	if len(t.Instruments) == 0 {
		errs = multierr.Append(errs, fault.Invalid("instrument table is empty"))
	}

	baselineVol := t.BaselineVolatility
	var baseline InstrumentID
	if t.Baseline != "" {
		id, err := ParseID(t.Baseline)
		if err != nil {
			errs = multierr.Append(errs, err)
		}
		baseline = id
	}

	r := &Registry{byID: make(map[InstrumentID]InstrumentConfig, len(t.Instruments))}
	for i, e := range t.Instruments {
		if err := e.validate(i); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		id := InstrumentID{Market: e.Market, Code: e.Code}
		if _, dup := r.byID[id]; dup {
			errs = multierr.Append(errs, fault.Invalid("entry %d: duplicate instrument %s", i, id))
			continue
		}
		if id == baseline && baselineVol == 0 {
			baselineVol = e.Volatility
		}
		r.byID[id] = InstrumentConfig{
			ID:         id,
			River:      e.River,
			Lake:       e.Lake,
			Bull:       e.Bull,
			Bear:       e.Bear,
			Volatility: e.Volatility,
		}
		r.ids = append(r.ids, id)
	}

	if baselineVol <= 0 || math.IsNaN(baselineVol) || math.IsInf(baselineVol, 0) {
		errs = multierr.Append(errs, fault.Invalid("baseline volatility unresolved (baseline %q)", t.Baseline))
	}
	if errs != nil {
		return nil, fault.Wrap(fault.KindConfigValidation, errs, "instrument table")
	}

	for i, e := range t.Instruments {
		id := InstrumentID{Market: e.Market, Code: e.Code}
		cfg := r.byID[id]
		if e.SizeFactor != nil {
			cfg.SizeFactor = *e.SizeFactor
		} else {
			cfg.SizeFactor = baselineVol / e.Volatility
		}
		if !(cfg.SizeFactor > 0) || math.IsInf(cfg.SizeFactor, 0) {
			errs = multierr.Append(errs, fault.Invalid("entry %d: size factor %v for %s is not positive", i, cfg.SizeFactor, id))
		}
		r.byID[id] = cfg
	}
	if errs != nil {
		return nil, fault.Wrap(fault.KindConfigValidation, errs, "instrument table")
	}

	sort.Slice(r.ids, func(i, j int) bool { return r.ids[i].Less(r.ids[j]) })
	r.baseline = baseline
	r.baselineVol = baselineVol
	return r, nil
}

// Lookup returns the config for id
func (r *Registry) Lookup(id InstrumentID) (InstrumentConfig, bool) {
	cfg, ok := r.byID[id]
	return cfg, ok
}

// Resolve maps a market and an instrument or contract code to its config
func (r *Registry) Resolve(market, code string) (InstrumentConfig, error) {
	if cfg, ok := r.byID[InstrumentID{Market: market, Code: code}]; ok {
		return cfg, nil
	}
	id := InstrumentID{Market: market, Code: CommodityCode(code)}
	if cfg, ok := r.byID[id]; ok {
		return cfg, nil
	}
	return InstrumentConfig{}, fault.New(fault.KindUnknownInstrument, market+"."+code, "")
}

// IDs returns every instrument id sorted by market, then code
func (r *Registry) IDs() []InstrumentID {
	out := make([]InstrumentID, len(r.ids))
	copy(out, r.ids)
	return out
}

// Len is the number of instruments
func (r *Registry) Len() int {
	return len(r.ids)
}

// Baseline returns the reference instrument and its volatility
func (r *Registry) Baseline() (InstrumentID, float64) {
	return r.baseline, r.baselineVol
}
