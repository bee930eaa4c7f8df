// Package fault defines the error kinds surfaced by the engine.
//
// Only ConfigValidation is fatal. The other kinds isolate a single basket or
// record and are reported through cycle reports, logs and metrics.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error
type Kind string

const (
	KindMissingData       Kind = "missing_data"       // Quote or indicator absent for the cycle
	KindUnknownInstrument Kind = "unknown_instrument" // Record references an instrument not in the registry
	KindUnbound           Kind = "unbound"            // Basket has no tradable contract yet
	KindConfigValidation  Kind = "config_validation"  // Instrument table or runtime config is malformed
)

var (
	ErrMissingData       = errors.New("missing data")
	ErrUnknownInstrument = errors.New("unknown instrument")
	ErrUnbound           = errors.New("basket unbound")
	ErrConfigValidation  = errors.New("config validation failed")
)

// Error is a typed engine error carrying its kind and the instrument it concerns
type Error struct {
	Kind       Kind
	Instrument string
	Detail     string
	Err        error
}

// New builds an Error of the given kind
func New(kind Kind, instrument, detail string) *Error {
	return &Error{Kind: kind, Instrument: instrument, Detail: detail}
}

// Wrap builds an Error of the given kind around a cause
func Wrap(kind Kind, err error, detail string) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Instrument != "" {
		msg += " " + e.Instrument
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error of the same kind
func (e *Error) Is(target error) bool {
	return sentinel(e.Kind) == target
}

// KindOf returns the kind of the first Error in err's chain, or "" if none
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Fatal reports whether err must stop the engine
func Fatal(err error) bool {
	return errors.Is(err, ErrConfigValidation)
}

// Invalid builds a ConfigValidation error from a format string
func Invalid(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConfigValidation, Detail: fmt.Sprintf(format, args...)}
}

func sentinel(k Kind) error {
	switch k {
	case KindMissingData:
		return ErrMissingData
	case KindUnknownInstrument:
		return ErrUnknownInstrument
	case KindUnbound:
		return ErrUnbound
	case KindConfigValidation:
		return ErrConfigValidation
	}
	return nil
}
