package cycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/regime-engine/internal/market"
	"github.com/Rajchodisetti/regime-engine/internal/registry"
)

var (
	iron   = registry.InstrumentID{Market: "DCE", Code: "i"}
	copper = registry.InstrumentID{Market: "SHFE", Code: "cu"}
	t0     = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	t1     = t0.Add(time.Minute)
	t2     = t1.Add(time.Minute)
)

func quote(id registry.InstrumentID, ts time.Time) market.QuoteSnapshot {
	return market.QuoteSnapshot{Instrument: id, Timestamp: ts, Close: 100}
}

func indicator(id registry.InstrumentID, ts time.Time) market.IndicatorSnapshot {
	return market.IndicatorSnapshot{Instrument: id, Timestamp: ts}
}

func TestCycleClosesOnNewerTimestamp(t *testing.T) {
	s := NewSynchronizer([]registry.InstrumentID{iron, copper})

	closed, err := s.AddQuote(quote(iron, t0))
	require.NoError(t, err)
	assert.Nil(t, closed)

	closed, err = s.AddIndicator(indicator(copper, t0))
	require.NoError(t, err)
	assert.Nil(t, closed)

	closed, err = s.AddIndicator(indicator(iron, t0))
	require.NoError(t, err)
	assert.Nil(t, closed)

	closed, err = s.AddQuote(quote(copper, t1))
	require.NoError(t, err)
	require.NotNil(t, closed)

	assert.Equal(t, t0, closed.Timestamp)
	assert.True(t, closed.Slots[iron].Complete())
	assert.False(t, closed.Slots[copper].Complete())
	assert.NotNil(t, closed.Slots[copper].Indicator)

	ts, ok := s.Pending()
	require.True(t, ok)
	assert.Equal(t, t1, ts)

	open := s.Flush()
	require.NotNil(t, open)
	assert.NotNil(t, open.Slots[copper].Quote)
	assert.Nil(t, open.Slots[copper].Indicator)
	assert.Nil(t, s.Flush())
}

func TestEmptySlotsForSilentInstruments(t *testing.T) {
	s := NewSynchronizer([]registry.InstrumentID{iron, copper})
	_, err := s.AddQuote(quote(iron, t0))
	require.NoError(t, err)

	c := s.Flush()
	require.Contains(t, c.Slots, copper)
	assert.Nil(t, c.Slots[copper].Quote)
	assert.Nil(t, c.Slots[copper].Indicator)
}

func TestCyclesEmittedInOrderExactlyOnce(t *testing.T) {
	s := NewSynchronizer([]registry.InstrumentID{iron})
	var emitted []time.Time
	for _, ts := range []time.Time{t0, t0, t1, t1, t2} {
		c, err := s.AddQuote(quote(iron, ts))
		require.NoError(t, err)
		if c != nil {
			emitted = append(emitted, c.Timestamp)
		}
	}
	if c := s.Flush(); c != nil {
		emitted = append(emitted, c.Timestamp)
	}
	assert.Equal(t, []time.Time{t0, t1, t2}, emitted)
}

func TestLateRecordRejected(t *testing.T) {
	s := NewSynchronizer([]registry.InstrumentID{iron})
	_, err := s.AddQuote(quote(iron, t1))
	require.NoError(t, err)

	_, err = s.AddIndicator(indicator(iron, t0))
	assert.ErrorIs(t, err, ErrLateRecord)

	c := s.Flush()
	assert.Nil(t, c.Slots[iron].Indicator)
}

func TestDuplicateReplacesAndCounts(t *testing.T) {
	s := NewSynchronizer([]registry.InstrumentID{iron})
	first := quote(iron, t0)
	second := quote(iron, t0)
	second.Close = 101

	_, err := s.AddQuote(first)
	require.NoError(t, err)
	_, err = s.AddQuote(second)
	require.NoError(t, err)

	c := s.Flush()
	assert.Equal(t, 101.0, c.Slots[iron].Quote.Close)
	assert.Equal(t, 1, c.Duplicates)
}

func TestFlushBefore(t *testing.T) {
	s := NewSynchronizer([]registry.InstrumentID{iron})
	_, err := s.AddQuote(quote(iron, t1))
	require.NoError(t, err)

	assert.Nil(t, s.FlushBefore(t1))
	assert.Nil(t, s.FlushBefore(t0))
	c := s.FlushBefore(t2)
	require.NotNil(t, c)
	assert.Equal(t, t1, c.Timestamp)
}

func TestRecordsAtOrBeforeFlushedCycleRejected(t *testing.T) {
	s := NewSynchronizer([]registry.InstrumentID{iron})
	_, err := s.AddQuote(quote(iron, t1))
	require.NoError(t, err)
	require.NotNil(t, s.Flush())

	_, err = s.AddIndicator(indicator(iron, t1))
	assert.ErrorIs(t, err, ErrLateRecord, "a flushed cycle is never reopened")
	_, err = s.AddQuote(quote(iron, t0))
	assert.ErrorIs(t, err, ErrLateRecord)
	_, ok := s.Pending()
	assert.False(t, ok)

	_, err = s.AddQuote(quote(iron, t2))
	require.NoError(t, err)
	ts, ok := s.Pending()
	require.True(t, ok)
	assert.Equal(t, t2, ts)
}
