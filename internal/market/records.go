// Package market defines the fixed-schema records flowing into and out of the
// engine, and the snapshots the engine evaluates.
package market

import (
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/Rajchodisetti/regime-engine/internal/registry"
)

// Kind names an input record type
type Kind string

const (
	KindQuote     Kind = "quote"
	KindIndicator Kind = "indicator"
	KindReference Kind = "reference"
	KindDayBegin  Kind = "day_begin"
	KindDayEnd    Kind = "day_end"
)

// ErrInvalidRecord is returned for payloads that fail boundary validation
var ErrInvalidRecord = errors.New("invalid record")

// Quote is a raw price update for an instrument or one of its contracts
type Quote struct {
	Market    string    `json:"market"`
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume,omitempty"`
}

// Validate checks the quote at the boundary
func (q Quote) Validate() error {
	if err := checkIdentity(q.Market, q.Code, q.Timestamp); err != nil {
		return err
	}
	if !finite(q.Close) || q.Close <= 0 {
		return errors.Wrapf(ErrInvalidRecord, "quote %s.%s close %v", q.Market, q.Code, q.Close)
	}
	return nil
}

// Indicator is a derived indicator update for an instrument
type Indicator struct {
	Market        string    `json:"market"`
	Code          string    `json:"code"`
	Timestamp     time.Time `json:"timestamp"`
	TrendStrength float64   `json:"trend_strength"`
	PlusDI        float64   `json:"plus_di"`
	MinusDI       float64   `json:"minus_di"`
	UpperBand     float64   `json:"upper_band"`
	MiddleBand    float64   `json:"middle_band"`
	LowerBand     float64   `json:"lower_band"`
	Conviction    float64   `json:"conviction"`
}

// Validate checks the indicator at the boundary
func (in Indicator) Validate() error {
	if err := checkIdentity(in.Market, in.Code, in.Timestamp); err != nil {
		return err
	}
	for _, v := range []float64{in.TrendStrength, in.PlusDI, in.MinusDI, in.UpperBand, in.MiddleBand, in.LowerBand, in.Conviction} {
		if !finite(v) {
			return errors.Wrapf(ErrInvalidRecord, "indicator %s.%s has a non-finite field", in.Market, in.Code)
		}
	}
	if in.UpperBand < in.LowerBand {
		return errors.Wrapf(ErrInvalidRecord, "indicator %s.%s upper band %v below lower band %v",
			in.Market, in.Code, in.UpperBand, in.LowerBand)
	}
	return nil
}

// ContractQuote is one candidate contract in a reference event
type ContractQuote struct {
	Contract  string  `json:"contract"`
	Liquidity float64 `json:"liquidity"`
}

// Reference lists the tradable contracts of a market with a liquidity metric
type Reference struct {
	Market     string          `json:"market"`
	TradingDay string          `json:"trading_day"`
	Contracts  []ContractQuote `json:"contracts"`
}

// Validate checks the reference event at the boundary
func (r Reference) Validate() error {
	if r.Market == "" {
		return errors.Wrap(ErrInvalidRecord, "reference without market")
	}
	for _, c := range r.Contracts {
		if c.Contract == "" || !finite(c.Liquidity) {
			return errors.Wrapf(ErrInvalidRecord, "reference %s contract %q liquidity %v", r.Market, c.Contract, c.Liquidity)
		}
	}
	return nil
}

// Day marks a trading-day boundary for a market
type Day struct {
	Market     string    `json:"market"`
	TradingDay string    `json:"trading_day"`
	Timestamp  time.Time `json:"timestamp"`
}

// Validate checks the day event at the boundary
func (d Day) Validate() error {
	if d.Market == "" || d.Timestamp.IsZero() {
		return errors.Wrap(ErrInvalidRecord, "day event needs market and timestamp")
	}
	return nil
}

// Record is one timestamped input message. Exactly one payload is set,
// matching Kind.
type Record struct {
	Kind      Kind
	ID        string
	Quote     *Quote
	Indicator *Indicator
	Reference *Reference
	Day       *Day
}

// Validate checks that the payload matches the kind and is itself valid
func (r Record) Validate() error {
	switch r.Kind {
	case KindQuote:
		if r.Quote == nil {
			break
		}
		return r.Quote.Validate()
	case KindIndicator:
		if r.Indicator == nil {
			break
		}
		return r.Indicator.Validate()
	case KindReference:
		if r.Reference == nil {
			break
		}
		return r.Reference.Validate()
	case KindDayBegin, KindDayEnd:
		if r.Day == nil {
			break
		}
		return r.Day.Validate()
	default:
		return errors.Wrapf(ErrInvalidRecord, "unknown kind %q", r.Kind)
	}
	return errors.Wrapf(ErrInvalidRecord, "%s record without payload", r.Kind)
}

// QuoteSnapshot is a validated quote resolved to a registry instrument
type QuoteSnapshot struct {
	Instrument registry.InstrumentID
	Contract   string
	Timestamp  time.Time
	Close      float64
}

// IndicatorSnapshot is a validated indicator resolved to a registry instrument
type IndicatorSnapshot struct {
	Instrument    registry.InstrumentID
	Timestamp     time.Time
	TrendStrength float64
	PlusDI        float64
	MinusDI       float64
	UpperBand     float64
	MiddleBand    float64
	LowerBand     float64
	Conviction    float64
}

// Snapshot resolves the indicator to id
func (in Indicator) Snapshot(id registry.InstrumentID) IndicatorSnapshot {
	return IndicatorSnapshot{
		Instrument:    id,
		Timestamp:     in.Timestamp,
		TrendStrength: in.TrendStrength,
		PlusDI:        in.PlusDI,
		MinusDI:       in.MinusDI,
		UpperBand:     in.UpperBand,
		MiddleBand:    in.MiddleBand,
		LowerBand:     in.LowerBand,
		Conviction:    in.Conviction,
	}
}

// Snapshot resolves the quote to id
func (q Quote) Snapshot(id registry.InstrumentID) QuoteSnapshot {
	return QuoteSnapshot{Instrument: id, Contract: q.Code, Timestamp: q.Timestamp, Close: q.Close}
}

func checkIdentity(market, code string, ts time.Time) error {
	if market == "" || code == "" {
		return errors.Wrap(ErrInvalidRecord, "market and code are required")
	}
	if ts.IsZero() {
		return errors.Wrapf(ErrInvalidRecord, "%s.%s has no timestamp", market, code)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
