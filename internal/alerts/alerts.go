// Package alerts notifies operators of risk state transitions.
package alerts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Alert describes one risk transition
type Alert struct {
	Scope      string // "basket" or "portfolio"
	Instrument string
	From       string
	To         string
	Drawdown   float64
	NetValue   float64
	Peak       float64
	Manual     bool
	At         time.Time
}

// Critical reports whether the transition forced positions flat
func (a Alert) Critical() bool {
	return a.To == "breached" || a.To == "risk_off"
}

// Text renders the alert for a chat message
func (a Alert) Text() string {
	var b strings.Builder
	if a.Critical() {
		b.WriteString("🚨 ")
	} else {
		b.WriteString("ℹ️ ")
	}
	b.WriteString(a.Scope)
	if a.Instrument != "" {
		b.WriteString(" " + a.Instrument)
	}
	fmt.Fprintf(&b, ": %s → %s", a.From, a.To)
	if a.Manual {
		b.WriteString(" (manual)")
	}
	fmt.Fprintf(&b, "\ndrawdown %.2f%%, net value %.2f, peak %.2f", a.Drawdown*100, a.NetValue, a.Peak)
	if !a.At.IsZero() {
		fmt.Fprintf(&b, "\n%s", a.At.UTC().Format(time.RFC3339))
	}
	return b.String()
}

func (a Alert) key() string {
	return a.Scope + "|" + a.Instrument + "|" + a.To
}

// Notifier delivers alerts. Notify must not block cycle processing.
type Notifier interface {
	Notify(ctx context.Context, a Alert)
	Close() error
}

// Dropper is a notifier that can lose alerts, e.g. on a full queue
type Dropper interface {
	Dropped() int
}

// Dropped totals the alerts lost by n and, for a Fanout, its members
func Dropped(n Notifier) int {
	switch v := n.(type) {
	case Fanout:
		total := 0
		for _, m := range v {
			total += Dropped(m)
		}
		return total
	case Dropper:
		return v.Dropped()
	}
	return 0
}

// Log writes alerts to the structured log
type Log struct {
	logger *zap.Logger
}

// NewLog creates a logging notifier
func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger.Named("alerts")}
}

func (l *Log) Notify(_ context.Context, a Alert) {
	fields := []zap.Field{
		zap.String("scope", a.Scope),
		zap.String("instrument", a.Instrument),
		zap.String("from", a.From),
		zap.String("to", a.To),
		zap.Float64("drawdown", a.Drawdown),
		zap.Bool("manual", a.Manual),
	}
	if a.Critical() {
		l.logger.Warn("risk alert", fields...)
		return
	}
	l.logger.Info("risk alert", fields...)
}

func (l *Log) Close() error { return nil }

// Fanout delivers every alert to each notifier
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, a Alert) {
	for _, n := range f {
		n.Notify(ctx, a)
	}
}

func (f Fanout) Close() error {
	var errs error
	for _, n := range f {
		errs = multierr.Append(errs, n.Close())
	}
	return errs
}
