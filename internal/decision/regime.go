package decision

// Regime is the market regime of an instrument for one cycle
type Regime string

const (
	RegimeTrending  Regime = "trending"  // trend strength above the river threshold
	RegimeRanging   Regime = "ranging"   // trend strength below the lake threshold
	RegimeUncertain Regime = "uncertain" // between the thresholds, either bound included
)

// Classify maps trend strength onto a regime. Equality with either
// threshold is uncertain.
func Classify(trendStrength, river, lake float64) Regime {
	switch {
	case trendStrength > river:
		return RegimeTrending
	case trendStrength < lake:
		return RegimeRanging
	default:
		return RegimeUncertain
	}
}
