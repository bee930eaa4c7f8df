package decision

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/Rajchodisetti/regime-engine/internal/market"
	"github.com/Rajchodisetti/regime-engine/internal/registry"
)

// Signal is the directional intent for a basket
type Signal int

const (
	Short Signal = -1
	Flat  Signal = 0
	Long  Signal = 1
)

// Direction is +1, 0 or -1
func (s Signal) Direction() float64 {
	return float64(s)
}

func (s Signal) String() string {
	switch s {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return "flat"
	}
}

// Window is a half-open minute-of-day interval [Start, End)
type Window struct {
	Start int
	End   int
}

// Contains reports whether minute falls inside the window
func (w Window) Contains(minute int) bool {
	return minute >= w.Start && minute < w.End
}

func (w Window) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", w.Start/60, w.Start%60, w.End/60, w.End%60)
}

// DefaultClosingWindows flattens ranging positions ahead of the day close
var DefaultClosingWindows = []Window{{Start: 14*60 + 50, End: 15 * 60}}

// ParseWindow parses "HH:MM-HH:MM". The end may be 24:00.
func ParseWindow(s string) (Window, error) {
	from, to, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return Window{}, errors.Errorf("window %q is not HH:MM-HH:MM", s)
	}
	start, err := parseClock(from)
	if err != nil {
		return Window{}, errors.Wrapf(err, "window %q", s)
	}
	end, err := parseClock(to)
	if err != nil {
		return Window{}, errors.Wrapf(err, "window %q", s)
	}
	if start >= end {
		return Window{}, errors.Errorf("window %q is empty", s)
	}
	return Window{Start: start, End: end}, nil
}

func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, errors.Errorf("clock %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, errors.Wrapf(err, "clock %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return 0, errors.Wrapf(err, "clock %q", s)
	}
	if h < 0 || m < 0 || m > 59 || h*60+m > 24*60 {
		return 0, errors.Errorf("clock %q out of range", s)
	}
	return h*60 + m, nil
}

// Input is everything the signal rules look at for one basket and cycle
type Input struct {
	Regime      Regime
	Indicator   market.IndicatorSnapshot
	Close       float64
	Config      registry.InstrumentConfig
	MinuteOfDay int
	Held        Signal
}

// Rule names which branch produced a signal
type Rule string

const (
	RuleTrendLong     Rule = "trend_long"
	RuleTrendShort    Rule = "trend_short"
	RuleRangeLong     Rule = "range_long"
	RuleRangeShort    Rule = "range_short"
	RuleHold          Rule = "hold"
	RuleUncertain     Rule = "uncertain_flat"
	RuleClosingWindow Rule = "closing_window"
)

// Rules holds the session-dependent signal settings
type Rules struct {
	ClosingWindows []Window
}

// DefaultRules uses the day-session closing window only
func DefaultRules() Rules {
	return Rules{ClosingWindows: DefaultClosingWindows}
}

// Generate applies the regime rules. It is a pure function of its input.
func (r Rules) Generate(in Input) (Signal, Rule) {
	ind, cfg := in.Indicator, in.Config
	switch in.Regime {
	case RegimeTrending:
		if ind.PlusDI > ind.MinusDI && ind.Conviction > cfg.Bull {
			return Long, RuleTrendLong
		}
		if ind.MinusDI > ind.PlusDI && ind.Conviction < cfg.Bear {
			return Short, RuleTrendShort
		}
		return in.Held, RuleHold
	case RegimeRanging:
		sig, rule := in.Held, RuleHold
		if in.Close < ind.LowerBand && ind.Conviction > cfg.Bull {
			sig, rule = Long, RuleRangeLong
		} else if in.Close > ind.UpperBand && ind.Conviction < cfg.Bear {
			sig, rule = Short, RuleRangeShort
		}
		if r.closing(in.MinuteOfDay) {
			return Flat, RuleClosingWindow
		}
		return sig, rule
	default:
		return Flat, RuleUncertain
	}
}

func (r Rules) closing(minute int) bool {
	for _, w := range r.ClosingWindows {
		if w.Contains(minute) {
			return true
		}
	}
	return false
}
