// Package transport decodes wire envelopes into engine input records.
package transport

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	"github.com/Rajchodisetti/regime-engine/internal/market"
)

// EventEnvelope wraps every wire record with metadata for ordering and resume
type EventEnvelope struct {
	V       int             `json:"v"`      // Version for future compatibility
	Type    string          `json:"type"`   // quote, indicator, reference, day_begin, day_end
	ID      string          `json:"id"`     // Producer id, used for resume
	TS      time.Time       `json:"ts_utc"` // Producer timestamp
	Payload json.RawMessage `json:"payload"`
}

// Source produces input records in arrival order
type Source interface {
	// Start begins reading; the channel closes at end of input or on ctx done
	Start(ctx context.Context) (<-chan market.Record, error)

	// Close releases the underlying reader
	Close() error

	// LastEventID returns the id of the last record delivered
	LastEventID() string

	// Rejected counts inputs skipped because they failed to decode
	Rejected() int

	// Err returns the error that ended the stream, if any
	Err() error
}

// ErrUnsupportedVersion is returned for envelopes newer than this decoder
var ErrUnsupportedVersion = errors.New("unsupported envelope version")

// Decode turns an envelope into a validated record
func Decode(env EventEnvelope) (market.Record, error) {
	if env.V > 1 {
		return market.Record{}, errors.Wrapf(ErrUnsupportedVersion, "v%d", env.V)
	}
	rec := market.Record{Kind: market.Kind(env.Type), ID: env.ID}
	var err error
	switch rec.Kind {
	case market.KindQuote:
		rec.Quote = &market.Quote{}
		err = sonic.Unmarshal(env.Payload, rec.Quote)
	case market.KindIndicator:
		rec.Indicator = &market.Indicator{}
		err = sonic.Unmarshal(env.Payload, rec.Indicator)
	case market.KindReference:
		rec.Reference = &market.Reference{}
		err = sonic.Unmarshal(env.Payload, rec.Reference)
	case market.KindDayBegin, market.KindDayEnd:
		rec.Day = &market.Day{}
		err = sonic.Unmarshal(env.Payload, rec.Day)
	}
	if err != nil {
		return market.Record{}, errors.Wrapf(market.ErrInvalidRecord, "%s payload: %v", env.Type, err)
	}
	if err := rec.Validate(); err != nil {
		return market.Record{}, err
	}
	return rec, nil
}

// Encode wraps a record in a version 1 envelope
func Encode(rec market.Record, ts time.Time) ([]byte, error) {
	var payload interface{}
	switch rec.Kind {
	case market.KindQuote:
		payload = rec.Quote
	case market.KindIndicator:
		payload = rec.Indicator
	case market.KindReference:
		payload = rec.Reference
	case market.KindDayBegin, market.KindDayEnd:
		payload = rec.Day
	default:
		return nil, errors.Wrapf(market.ErrInvalidRecord, "unknown kind %q", rec.Kind)
	}
	raw, err := sonic.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal payload")
	}
	return sonic.Marshal(EventEnvelope{V: 1, Type: string(rec.Kind), ID: rec.ID, TS: ts.UTC(), Payload: raw})
}
