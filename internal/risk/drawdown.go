// Package risk enforces per-basket and portfolio-wide drawdown limits.
package risk

import (
	"math"

	"github.com/Rajchodisetti/regime-engine/internal/fault"
)

// Config holds the drawdown limits as fractions of peak net value
type Config struct {
	BasketDrawdownLimit    float64 `mapstructure:"basket_drawdown_limit"`    // 0.15
	PortfolioDrawdownLimit float64 `mapstructure:"portfolio_drawdown_limit"` // 0.20
	PortfolioReduceLimit   float64 `mapstructure:"portfolio_reduce_limit"`   // 0 disables the reduce tier
	ReduceScale            float64 `mapstructure:"reduce_scale"`             // 0.5
}

// DefaultConfig returns the standard limits with the reduce tier disabled
func DefaultConfig() Config {
	return Config{
		BasketDrawdownLimit:    0.15,
		PortfolioDrawdownLimit: 0.20,
		PortfolioReduceLimit:   0,
		ReduceScale:            0.5,
	}
}

// Validate checks the limits are usable fractions
func (c Config) Validate() error {
	if !fraction(c.BasketDrawdownLimit) {
		return fault.Invalid("basket drawdown limit %v must be in (0, 1]", c.BasketDrawdownLimit)
	}
	if !fraction(c.PortfolioDrawdownLimit) {
		return fault.Invalid("portfolio drawdown limit %v must be in (0, 1]", c.PortfolioDrawdownLimit)
	}
	if c.PortfolioReduceLimit != 0 {
		if !fraction(c.PortfolioReduceLimit) || c.PortfolioReduceLimit >= c.PortfolioDrawdownLimit {
			return fault.Invalid("portfolio reduce limit %v must be in (0, %v)", c.PortfolioReduceLimit, c.PortfolioDrawdownLimit)
		}
		if !fraction(c.ReduceScale) {
			return fault.Invalid("reduce scale %v must be in (0, 1]", c.ReduceScale)
		}
	}
	return nil
}

func fraction(v float64) bool {
	return v > 0 && v <= 1 && !math.IsNaN(v)
}
