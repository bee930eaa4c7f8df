// Package outbox delivers emitted target positions to durable sinks.
package outbox

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/Rajchodisetti/regime-engine/internal/market"
)

// Sink receives the target positions emitted by one cycle
type Sink interface {
	Write(ctx context.Context, targets []market.TargetPosition) error
	Close() error
}

// Entry is one JSONL line of the outbox file
type Entry struct {
	Type  string                `json:"type"`
	Data  market.TargetPosition `json:"data"`
	Event time.Time             `json:"event"`
}

// Outbox appends targets to a JSONL file
type Outbox struct {
	mu   sync.Mutex
	path string
	f    *os.File
	now  func() time.Time
}

// New opens (or creates) the outbox file for appending
func New(path string) (*Outbox, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(err, "create outbox dir")
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "open outbox")
	}
	return &Outbox{path: path, f: f, now: time.Now}, nil
}

// Write appends one line per target
func (o *Outbox) Write(_ context.Context, targets []market.TargetPosition) error {
	if len(targets) == 0 {
		return nil
	}
	var buf bytes.Buffer
	event := o.now().UTC()
	for _, t := range targets {
		data, err := sonic.Marshal(Entry{Type: "target", Data: t, Event: event})
		if err != nil {
			return errors.Wrapf(err, "marshal target %s", t.ID)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.f == nil {
		return errors.New("outbox closed")
	}
	_, err := o.f.Write(buf.Bytes())
	return errors.Wrap(err, "append outbox")
}

// Close flushes and closes the file
func (o *Outbox) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.f == nil {
		return nil
	}
	err := multierr.Append(o.f.Sync(), o.f.Close())
	o.f = nil
	return err
}

// ReadTargets loads every target recorded in a JSONL outbox file
func ReadTargets(path string) ([]market.TargetPosition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open outbox")
	}
	defer f.Close()

	var out []market.TargetPosition
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := sonic.Unmarshal(line, &e); err != nil {
			return nil, errors.Wrap(err, "decode outbox line")
		}
		if e.Type == "target" {
			out = append(out, e.Data)
		}
	}
	return out, errors.Wrap(sc.Err(), "scan outbox")
}

// Multi fans a batch out to several sinks
type Multi []Sink

// Write delivers to every sink, collecting failures
func (m Multi) Write(ctx context.Context, targets []market.TargetPosition) error {
	var errs error
	for _, s := range m {
		errs = multierr.Append(errs, s.Write(ctx, targets))
	}
	return errs
}

// Close closes every sink
func (m Multi) Close() error {
	var errs error
	for _, s := range m {
		errs = multierr.Append(errs, s.Close())
	}
	return errs
}

// Recent keeps the last targets in memory for the operator surface
type Recent struct {
	mu    sync.RWMutex
	limit int
	items []market.TargetPosition
}

// NewRecent keeps at most limit targets
func NewRecent(limit int) *Recent {
	if limit <= 0 {
		limit = 256
	}
	return &Recent{limit: limit}
}

func (r *Recent) Write(_ context.Context, targets []market.TargetPosition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, targets...)
	if over := len(r.items) - r.limit; over > 0 {
		r.items = append([]market.TargetPosition(nil), r.items[over:]...)
	}
	return nil
}

func (r *Recent) Close() error { return nil }

// Items returns a copy of the retained targets, oldest first
func (r *Recent) Items() []market.TargetPosition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]market.TargetPosition, len(r.items))
	copy(out, r.items)
	return out
}
