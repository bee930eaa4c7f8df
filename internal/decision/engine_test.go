package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/regime-engine/internal/market"
	"github.com/Rajchodisetti/regime-engine/internal/registry"
)

func TestClassifyBoundaries(t *testing.T) {
	testCases := []struct {
		name     string
		strength float64
		want     Regime
	}{
		{"above_river", 40.01, RegimeTrending},
		{"equal_river", 40, RegimeUncertain},
		{"between", 30, RegimeUncertain},
		{"equal_lake", 25, RegimeUncertain},
		{"below_lake", 24.99, RegimeRanging},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.strength, 40, 25))
			assert.Equal(t, tc.want, Classify(tc.strength, 40, 25), "classification must be pure")
		})
	}
}

func TestTrendingRules(t *testing.T) {
	cfg := registry.InstrumentConfig{River: 40, Lake: 25, Bull: 0.5, Bear: -0.5, SizeFactor: 1}
	rules := DefaultRules()

	testCases := []struct {
		name string
		ind  market.IndicatorSnapshot
		held Signal
		want Signal
		rule Rule
	}{
		{"long", market.IndicatorSnapshot{PlusDI: 30, MinusDI: 10, Conviction: 0.6}, Flat, Long, RuleTrendLong},
		{"short", market.IndicatorSnapshot{PlusDI: 10, MinusDI: 30, Conviction: -0.6}, Flat, Short, RuleTrendShort},
		{"weak_conviction_holds", market.IndicatorSnapshot{PlusDI: 30, MinusDI: 10, Conviction: 0.5}, Short, Short, RuleHold},
		{"equal_di_holds", market.IndicatorSnapshot{PlusDI: 20, MinusDI: 20, Conviction: 0.9}, Long, Long, RuleHold},
		{"conviction_disagrees_holds", market.IndicatorSnapshot{PlusDI: 10, MinusDI: 30, Conviction: 0.9}, Flat, Flat, RuleHold},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sig, rule := rules.Generate(Input{Regime: RegimeTrending, Indicator: tc.ind, Config: cfg, MinuteOfDay: 14*60 + 52, Held: tc.held})
			assert.Equal(t, tc.want, sig)
			assert.Equal(t, tc.rule, rule)
		})
	}
}

func TestRangingRulesAndClosingWindow(t *testing.T) {
	cfg := registry.InstrumentConfig{River: 40, Lake: 25, Bull: 0.5, Bear: -0.5, SizeFactor: 1}
	ind := market.IndicatorSnapshot{UpperBand: 110, LowerBand: 90, Conviction: 0.7}
	rules := DefaultRules()

	sig, rule := rules.Generate(Input{Regime: RegimeRanging, Indicator: ind, Close: 89, Config: cfg, MinuteOfDay: 14 * 60})
	assert.Equal(t, Long, sig)
	assert.Equal(t, RuleRangeLong, rule)

	sig, rule = rules.Generate(Input{Regime: RegimeRanging, Indicator: ind, Close: 89, Config: cfg, MinuteOfDay: 14*60 + 52})
	assert.Equal(t, Flat, sig)
	assert.Equal(t, RuleClosingWindow, rule)

	sig, _ = rules.Generate(Input{Regime: RegimeRanging, Indicator: ind, Close: 90, Config: cfg, MinuteOfDay: 14 * 60, Held: Short})
	assert.Equal(t, Short, sig, "close on the band is not a breach")

	sig, _ = rules.Generate(Input{Regime: RegimeRanging, Indicator: ind, Close: 89, Config: cfg, MinuteOfDay: 15 * 60})
	assert.Equal(t, Long, sig, "window end is exclusive")

	short := market.IndicatorSnapshot{UpperBand: 110, LowerBand: 90, Conviction: -0.7}
	sig, rule = rules.Generate(Input{Regime: RegimeRanging, Indicator: short, Close: 111, Config: cfg, MinuteOfDay: 10 * 60})
	assert.Equal(t, Short, sig)
	assert.Equal(t, RuleRangeShort, rule)
}

func TestUncertainAlwaysFlat(t *testing.T) {
	cfg := registry.InstrumentConfig{River: 40, Lake: 25, Bull: 0.5, Bear: -0.5}
	ind := market.IndicatorSnapshot{PlusDI: 30, MinusDI: 10, Conviction: 0.9}
	for _, held := range []Signal{Long, Short, Flat} {
		sig, rule := DefaultRules().Generate(Input{Regime: RegimeUncertain, Indicator: ind, Config: cfg, Held: held})
		assert.Equal(t, Flat, sig)
		assert.Equal(t, RuleUncertain, rule)
	}
}

func TestNightClosingWindow(t *testing.T) {
	night, err := ParseWindow("23:50-24:00")
	require.NoError(t, err)
	rules := Rules{ClosingWindows: append([]Window{night}, DefaultClosingWindows...)}
	cfg := registry.InstrumentConfig{River: 40, Lake: 25, Bull: 0.5, Bear: -0.5}
	ind := market.IndicatorSnapshot{UpperBand: 110, LowerBand: 90, Conviction: 0.7}

	sig, _ := rules.Generate(Input{Regime: RegimeRanging, Indicator: ind, Close: 80, Config: cfg, MinuteOfDay: 23*60 + 55})
	assert.Equal(t, Flat, sig)
}

func TestParseWindow(t *testing.T) {
	w, err := ParseWindow("14:50-15:00")
	require.NoError(t, err)
	assert.Equal(t, DefaultClosingWindows[0], w)
	assert.Equal(t, "14:50-15:00", w.String())

	for _, s := range []string{"", "14:50", "15:00-14:50", "25:00-26:00", "aa:bb-cc:dd", "14:60-15:00"} {
		_, err := ParseWindow(s)
		assert.Error(t, err, s)
	}
}

func TestTargetQuantitySignMatchesSignal(t *testing.T) {
	for _, factor := range []float64{0.026, 1, 5.38} {
		assert.Greater(t, TargetQuantity(Long, factor), 0.0)
		assert.Less(t, TargetQuantity(Short, factor), 0.0)
		assert.Zero(t, TargetQuantity(Flat, factor))
	}
}

func TestBlockRecordsGate(t *testing.T) {
	d := Decision{Signal: Long, Quantity: 1}
	d.Block("portfolio_risk_off")

	assert.Equal(t, Flat, d.Signal)
	assert.Zero(t, d.Quantity)
	assert.Equal(t, []string{"portfolio_risk_off"}, d.Reason.GatesBlocked)
}

func TestScenarioLiteralValues(t *testing.T) {
	trending := registry.InstrumentConfig{River: 39.93, Lake: 26.36, Bull: 0.58, Bear: -0.58, SizeFactor: 1}
	ranging := registry.InstrumentConfig{River: 40.91, Lake: 26.56, Bull: 33.036, Bear: 20, SizeFactor: 1}

	testCases := []struct {
		name   string
		cfg    registry.InstrumentConfig
		ind    market.IndicatorSnapshot
		close  float64
		minute int
		held   Signal
		regime Regime
		want   Signal
		rule   Rule
	}{
		{
			name:   "trending_long",
			cfg:    trending,
			ind:    market.IndicatorSnapshot{TrendStrength: 45.2, PlusDI: 35.8, MinusDI: 18.2, Conviction: 0.85},
			close:  800,
			minute: 10*60 + 30,
			held:   Flat,
			regime: RegimeTrending,
			want:   Long,
			rule:   RuleTrendLong,
		},
		{
			name:   "ranging_long_at_1030",
			cfg:    ranging,
			ind:    market.IndicatorSnapshot{TrendStrength: 22.3, UpperBand: 73000, MiddleBand: 72250, LowerBand: 71500, Conviction: 40.5},
			close:  71200,
			minute: 10*60 + 30,
			held:   Flat,
			regime: RegimeRanging,
			want:   Long,
			rule:   RuleRangeLong,
		},
		{
			name:   "ranging_flat_at_1452",
			cfg:    ranging,
			ind:    market.IndicatorSnapshot{TrendStrength: 22.3, UpperBand: 73000, MiddleBand: 72250, LowerBand: 71500, Conviction: 40.5},
			close:  71200,
			minute: 14*60 + 52,
			held:   Long,
			regime: RegimeRanging,
			want:   Flat,
			rule:   RuleClosingWindow,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := Evaluate(DefaultRules(), tc.cfg, tc.ind, tc.close, tc.minute, tc.held)
			assert.Equal(t, tc.regime, d.Regime)
			assert.Equal(t, tc.want, d.Signal)
			assert.Equal(t, tc.rule, d.Reason.Rule)
			assert.Equal(t, TargetQuantity(tc.want, 1), d.Quantity)
		})
	}
}
