package roll

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Rajchodisetti/regime-engine/internal/decision"
	"github.com/Rajchodisetti/regime-engine/internal/market"
	"github.com/Rajchodisetti/regime-engine/internal/portfolio"
	"github.com/Rajchodisetti/regime-engine/internal/registry"
)

var (
	iron = registry.InstrumentID{Market: "DCE", Code: "i"}
	coke = registry.InstrumentID{Market: "DCE", Code: "j"}
	day  = time.Date(2025, 3, 3, 8, 55, 0, 0, time.UTC)
)

func setup(t *testing.T) (*Manager, *portfolio.Portfolio) {
	t.Helper()
	p, err := portfolio.New(registry.Default(), 1.2e7)
	require.NoError(t, err)
	return NewManager(p, zap.NewNop()), p
}

func basket(t *testing.T, p *portfolio.Portfolio, id registry.InstrumentID) *portfolio.Basket {
	t.Helper()
	b, ok := p.Basket(id)
	require.True(t, ok)
	return b
}

func reference(contracts ...market.ContractQuote) market.Reference {
	return market.Reference{Market: "DCE", TradingDay: "20250303", Contracts: contracts}
}

func TestReferenceAppliedOnlyAtDayBegin(t *testing.T) {
	m, p := setup(t)

	n := m.OnReference(reference(
		market.ContractQuote{Contract: "i2505", Liquidity: 900},
		market.ContractQuote{Contract: "i2509", Liquidity: 400},
		market.ContractQuote{Contract: "j2505", Liquidity: 100},
		market.ContractQuote{Contract: "cu2505", Liquidity: 5000},
	))
	assert.Equal(t, 2, n)
	assert.False(t, basket(t, p, iron).Bound(), "binding waits for day begin")

	pending, ok := m.Pending(iron)
	require.True(t, ok)
	assert.Equal(t, "i2505", pending)

	changes := m.OnDayBegin(market.Day{Market: "DCE", TradingDay: "20250303", Timestamp: day})
	require.Len(t, changes, 2)
	assert.Equal(t, Change{Instrument: iron, From: "", To: "i2505", TradingDay: "20250303"}, changes[0])
	assert.Equal(t, "i2505", basket(t, p, iron).Contract())
	assert.Equal(t, "j2505", basket(t, p, coke).Contract())
	assert.Equal(t, "20250303", m.TradingDay("DCE"))

	_, ok = m.Pending(iron)
	assert.False(t, ok)
}

func TestSameLeadingContractIsNoop(t *testing.T) {
	m, p := setup(t)
	m.OnReference(reference(market.ContractQuote{Contract: "i2505", Liquidity: 900}))
	m.OnDayBegin(market.Day{Market: "DCE", TradingDay: "20250303", Timestamp: day})

	b := basket(t, p, iron)
	b.Mark(800)
	b.Apply(decision.Long, 1)

	m.OnReference(reference(market.ContractQuote{Contract: "i2505", Liquidity: 950}))
	changes := m.OnDayBegin(market.Day{Market: "DCE", TradingDay: "20250304", Timestamp: day.Add(24 * time.Hour)})

	assert.Empty(t, changes)
	assert.Equal(t, "i2505", b.Contract())
	assert.Equal(t, decision.Long, b.Signal())
}

func TestRollKeepsPositionAcrossContracts(t *testing.T) {
	m, p := setup(t)
	m.OnReference(reference(market.ContractQuote{Contract: "i2505", Liquidity: 900}))
	m.OnDayBegin(market.Day{Market: "DCE", TradingDay: "20250303", Timestamp: day})

	b := basket(t, p, iron)
	b.Mark(800)
	b.Apply(decision.Long, 1)
	b.Mark(808)
	nv := b.NetValue()

	m.OnReference(reference(
		market.ContractQuote{Contract: "i2505", Liquidity: 300},
		market.ContractQuote{Contract: "i2509", Liquidity: 700},
	))
	changes := m.OnDayBegin(market.Day{Market: "DCE", TradingDay: "20250304", Timestamp: day.Add(24 * time.Hour)})
	require.Len(t, changes, 1)
	assert.Equal(t, "i2505", changes[0].From)
	assert.Equal(t, "i2509", changes[0].To)

	b.Mark(760)
	assert.InDelta(t, nv, b.NetValue(), 1e-6)
	assert.Equal(t, 1.0, b.Quantity())
}

func TestOtherMarketUntouched(t *testing.T) {
	m, p := setup(t)
	m.OnReference(reference(market.ContractQuote{Contract: "i2505", Liquidity: 900}))
	changes := m.OnDayBegin(market.Day{Market: "SHFE", TradingDay: "20250303", Timestamp: day})

	assert.Empty(t, changes)
	assert.False(t, basket(t, p, iron).Bound())
}

func TestDayEndSettlesBoundBaskets(t *testing.T) {
	m, p := setup(t)
	m.OnReference(reference(market.ContractQuote{Contract: "i2505", Liquidity: 900}))
	m.OnDayBegin(market.Day{Market: "DCE", TradingDay: "20250303", Timestamp: day})

	b := basket(t, p, iron)
	b.Mark(800)
	b.Apply(decision.Long, 1)
	b.Mark(840)

	settled := m.OnDayEnd(market.Day{Market: "DCE", TradingDay: "20250303", Timestamp: day.Add(6 * time.Hour)})
	assert.Equal(t, 1, settled)
	assert.InDelta(t, 50_000, b.Realized().InexactFloat64(), 1e-6)
	assert.Zero(t, b.Unrealized())
}

func TestLeadingTieBreak(t *testing.T) {
	c, ok := leading("i", []market.ContractQuote{
		{Contract: "i2509", Liquidity: 500},
		{Contract: "i2505", Liquidity: 500},
		{Contract: "i2601", Liquidity: 100},
	})
	require.True(t, ok)
	assert.Equal(t, "i2505", c)

	_, ok = leading("m", []market.ContractQuote{{Contract: "i2505", Liquidity: 1}})
	assert.False(t, ok)
}
