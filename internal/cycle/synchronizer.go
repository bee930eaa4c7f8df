// Package cycle groups per-instrument snapshots that share a timestamp.
package cycle

import (
	"time"

	"github.com/pkg/errors"

	"github.com/Rajchodisetti/regime-engine/internal/market"
	"github.com/Rajchodisetti/regime-engine/internal/registry"
)

// ErrLateRecord is returned for a snapshot older than the open cycle
var ErrLateRecord = errors.New("record older than open cycle")

// Slot holds the snapshots one instrument contributed to a cycle
type Slot struct {
	Quote     *market.QuoteSnapshot
	Indicator *market.IndicatorSnapshot
}

// Complete reports whether both snapshots are present
func (s Slot) Complete() bool {
	return s.Quote != nil && s.Indicator != nil
}

// Cycle is every snapshot observed at one timestamp. Every registry
// instrument has a slot, possibly empty.
type Cycle struct {
	Timestamp  time.Time
	Slots      map[registry.InstrumentID]*Slot
	Duplicates int
}

// Synchronizer assembles cycles from interleaved quote and indicator streams
type Synchronizer struct {
	ids  []registry.InstrumentID
	open *Cycle
	last time.Time // timestamp of the last closed cycle
}

// NewSynchronizer creates a synchronizer producing slots for ids
func NewSynchronizer(ids []registry.InstrumentID) *Synchronizer {
	return &Synchronizer{ids: ids}
}

// AddQuote records a quote. When the quote opens a newer cycle the previous
// one is returned.
func (s *Synchronizer) AddQuote(q market.QuoteSnapshot) (*Cycle, error) {
	closed, slot, err := s.slotFor(q.Timestamp, q.Instrument)
	if err != nil {
		return nil, err
	}
	if slot.Quote != nil {
		s.open.Duplicates++
	}
	slot.Quote = &q
	return closed, nil
}

// AddIndicator records an indicator. When the indicator opens a newer cycle
// the previous one is returned.
func (s *Synchronizer) AddIndicator(in market.IndicatorSnapshot) (*Cycle, error) {
	closed, slot, err := s.slotFor(in.Timestamp, in.Instrument)
	if err != nil {
		return nil, err
	}
	if slot.Indicator != nil {
		s.open.Duplicates++
	}
	slot.Indicator = &in
	return closed, nil
}

// Flush closes and returns the open cycle, if any
func (s *Synchronizer) Flush() *Cycle {
	c := s.open
	s.open = nil
	if c != nil {
		s.last = c.Timestamp
	}
	return c
}

// FlushBefore closes the open cycle if it is older than ts
func (s *Synchronizer) FlushBefore(ts time.Time) *Cycle {
	if s.open == nil || !s.open.Timestamp.Before(ts) {
		return nil
	}
	return s.Flush()
}

// Pending returns the open cycle's timestamp
func (s *Synchronizer) Pending() (time.Time, bool) {
	if s.open == nil {
		return time.Time{}, false
	}
	return s.open.Timestamp, true
}

func (s *Synchronizer) slotFor(ts time.Time, id registry.InstrumentID) (*Cycle, *Slot, error) {
	var closed *Cycle
	switch {
	case s.open == nil:
		if !s.last.IsZero() && !ts.After(s.last) {
			return nil, nil, errors.Wrapf(ErrLateRecord, "%s at %s, last cycle %s",
				id, ts.Format(time.RFC3339), s.last.Format(time.RFC3339))
		}
		s.open = s.newCycle(ts)
	case ts.After(s.open.Timestamp):
		closed = s.open
		s.last = closed.Timestamp
		s.open = s.newCycle(ts)
	case ts.Before(s.open.Timestamp):
		return nil, nil, errors.Wrapf(ErrLateRecord, "%s at %s, open cycle %s",
			id, ts.Format(time.RFC3339), s.open.Timestamp.Format(time.RFC3339))
	}
	slot, ok := s.open.Slots[id]
	if !ok {
		slot = &Slot{}
		s.open.Slots[id] = slot
	}
	return closed, slot, nil
}

func (s *Synchronizer) newCycle(ts time.Time) *Cycle {
	c := &Cycle{Timestamp: ts, Slots: make(map[registry.InstrumentID]*Slot, len(s.ids))}
	for _, id := range s.ids {
		c.Slots[id] = &Slot{}
	}
	return c
}
