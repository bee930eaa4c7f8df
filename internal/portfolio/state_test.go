package portfolio

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/regime-engine/internal/decision"
	"github.com/Rajchodisetti/regime-engine/internal/fault"
	"github.com/Rajchodisetti/regime-engine/internal/registry"
)

func ironBasket(t *testing.T) *Basket {
	t.Helper()
	cfg, ok := registry.Default().Lookup(registry.InstrumentID{Market: "DCE", Code: "i"})
	require.True(t, ok)
	return NewBasket(cfg, 1_000_000)
}

func TestCapitalSplitEvenlyAndFixed(t *testing.T) {
	p, err := New(registry.Default(), 1e7)
	require.NoError(t, err)
	require.Len(t, p.Baskets(), 12)

	var sum float64
	for _, b := range p.Baskets() {
		sum += b.Capital()
		assert.False(t, b.Bound())
		assert.Equal(t, decision.Flat, b.Signal())
	}
	assert.InDelta(t, 1e7, sum, 1e-6)
	assert.InDelta(t, 1e7, p.NetValue(), 1e-6)

	for i := 1; i < len(p.Baskets()); i++ {
		assert.True(t, p.Baskets()[i-1].ID().Less(p.Baskets()[i].ID()))
	}
	assert.Len(t, p.InMarket("SHFE"), 6)
}

func TestNewRejectsNonPositiveCapital(t *testing.T) {
	_, err := New(registry.Default(), 0)
	assert.ErrorIs(t, err, fault.ErrConfigValidation)
}

func TestBasketNetValueLongAndShort(t *testing.T) {
	b := ironBasket(t)
	b.Mark(100)
	b.Apply(decision.Long, 1)

	b.Mark(110)
	assert.InDelta(t, 100_000, b.Unrealized(), 1e-6)
	assert.InDelta(t, 1_100_000, b.NetValue(), 1e-6)

	b.Apply(decision.Short, -1)
	assert.InDelta(t, 100_000, b.Realized().InexactFloat64(), 1e-6)
	b.Mark(99)
	assert.InDelta(t, 100_000, b.Unrealized(), 1e-6)
	assert.InDelta(t, 1_200_000, b.NetValue(), 1e-6)

	b.Apply(decision.Flat, 0)
	b.Mark(50)
	assert.Zero(t, b.Unrealized())
	assert.InDelta(t, 1_200_000, b.NetValue(), 1e-6)
}

func TestSettleRealizesAndKeepsPosition(t *testing.T) {
	b := ironBasket(t)
	b.Mark(200)
	b.Apply(decision.Long, 0.5)
	b.Mark(220)
	b.Settle()

	assert.InDelta(t, 50_000, b.Realized().InexactFloat64(), 1e-6)
	assert.Zero(t, b.Unrealized())
	assert.Equal(t, 0.5, b.Quantity())

	b.Mark(242)
	assert.InDelta(t, 50_000, b.Unrealized(), 1e-6)
}

func TestBindRebasesOpenPosition(t *testing.T) {
	b := ironBasket(t)
	assert.True(t, b.Bind("i2505"))
	assert.False(t, b.Bind("i2505"))

	b.Mark(800)
	b.Apply(decision.Long, 1)
	b.Mark(820)
	nv := b.NetValue()

	require.True(t, b.Bind("i2509"))
	assert.Equal(t, "i2509", b.Contract())
	assert.InDelta(t, nv, b.NetValue(), 1e-6)

	// the new contract trades at a different level; no jump in net value
	b.Mark(780)
	assert.InDelta(t, nv, b.NetValue(), 1e-6)
	b.Mark(819)
	assert.InDelta(t, nv+50_000, b.NetValue(), 1e-6)
}

func TestPeakMonotonicUntilReset(t *testing.T) {
	b := ironBasket(t)
	assert.False(t, b.ObserveHigh(999_000))
	assert.True(t, b.ObserveHigh(1_100_000))
	assert.False(t, b.ObserveHigh(1_050_000))
	assert.Equal(t, 1_100_000.0, b.Peak())
	assert.InDelta(t, 0.1, b.Drawdown(990_000), 1e-9)
	assert.Zero(t, b.Drawdown(1_200_000))

	b.ResetPeak()
	assert.Equal(t, b.NetValue(), b.Peak())
}

func TestSnapshotSave(t *testing.T) {
	p, err := New(registry.Default(), 1e7)
	require.NoError(t, err)
	b, ok := p.Basket(registry.InstrumentID{Market: "DCE", Code: "i"})
	require.True(t, ok)
	b.Bind("i2505")
	b.Mark(800)
	b.Apply(decision.Long, 1)

	path := filepath.Join(t.TempDir(), "portfolio.json")
	require.NoError(t, p.Snapshot(time.Now()).Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got Snapshot
	require.NoError(t, sonic.Unmarshal(data, &got))
	assert.Len(t, got.Baskets, 12)
	assert.Equal(t, 1, p.ActivePositions())

	var iron BasketSnapshot
	for _, s := range got.Baskets {
		if s.Instrument == "DCE.i" {
			iron = s
		}
	}
	assert.Equal(t, "long", iron.Signal)
	assert.Equal(t, "i2505", iron.Contract)
	assert.Equal(t, "0.00", iron.Realized)
}
