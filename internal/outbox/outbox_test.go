package outbox

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/regime-engine/internal/market"
	"github.com/Rajchodisetti/regime-engine/internal/registry"
)

func target(id string, qty float64) market.TargetPosition {
	return market.TargetPosition{
		ID:         id,
		RunID:      "run-1",
		Instrument: registry.InstrumentID{Market: "DCE", Code: "i"},
		Contract:   "i2505",
		Signal:     "long",
		Quantity:   qty,
		Timestamp:  time.Date(2025, 3, 3, 10, 30, 0, 0, time.UTC),
		Regime:     "trending",
		RiskState:  "active",
	}
}

func TestOutboxAppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "targets.jsonl")
	o, err := New(path)
	require.NoError(t, err)

	require.NoError(t, o.Write(context.Background(), []market.TargetPosition{target("a", 1), target("b", -0.5)}))
	require.NoError(t, o.Write(context.Background(), nil))
	require.NoError(t, o.Write(context.Background(), []market.TargetPosition{target("c", 0)}))
	require.NoError(t, o.Close())
	require.NoError(t, o.Close())

	got, err := ReadTargets(path)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, -0.5, got[1].Quantity)
	assert.Equal(t, "DCE.i", got[2].Instrument.String())
	assert.True(t, got[0].Timestamp.Equal(target("a", 1).Timestamp))

	assert.Error(t, o.Write(context.Background(), []market.TargetPosition{target("d", 1)}))
}

type failingSink struct{ closed bool }

func (f *failingSink) Write(context.Context, []market.TargetPosition) error {
	return errors.New("sink down")
}

func (f *failingSink) Close() error {
	f.closed = true
	return nil
}

func TestMultiDeliversToAllSinks(t *testing.T) {
	recent := NewRecent(10)
	bad := &failingSink{}
	m := Multi{bad, recent}

	err := m.Write(context.Background(), []market.TargetPosition{target("a", 1)})
	assert.EqualError(t, err, "sink down")
	assert.Len(t, recent.Items(), 1, "a failing sink does not starve the others")

	require.NoError(t, m.Close())
	assert.True(t, bad.closed)
}

func TestRecentKeepsNewest(t *testing.T) {
	r := NewRecent(2)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, r.Write(context.Background(), []market.TargetPosition{target(id, 1)}))
	}
	items := r.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "b", items[0].ID)
	assert.Equal(t, "c", items[1].ID)
}

func TestTargetBatchQueuesOneInsertPerTarget(t *testing.T) {
	b := targetBatch([]market.TargetPosition{target("a", 1), target("b", -1)})
	require.Equal(t, 2, b.Len())

	q := b.QueuedQueries[1]
	assert.Contains(t, q.SQL, "INSERT INTO target_positions")
	require.Len(t, q.Arguments, 10)
	assert.Equal(t, "b", q.Arguments[0])
	assert.Equal(t, "DCE.i", q.Arguments[2])
	assert.Equal(t, -1.0, q.Arguments[5])
}
