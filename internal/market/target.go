package market

import (
	"time"

	"github.com/Rajchodisetti/regime-engine/internal/registry"
)

// TargetPosition is emitted when a basket's signal changes
type TargetPosition struct {
	ID         string                `json:"id"`
	RunID      string                `json:"run_id"`
	Instrument registry.InstrumentID `json:"instrument"`
	Contract   string                `json:"contract"`
	Signal     string                `json:"signal"`
	Quantity   float64               `json:"quantity"` // signed, sign matches Signal
	Timestamp  time.Time             `json:"timestamp"`
	Regime     string                `json:"regime"`
	RiskState  string                `json:"risk_state"`
	Reason     string                `json:"reason,omitempty"`
}
