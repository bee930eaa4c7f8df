package transport

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Rajchodisetti/regime-engine/internal/market"
)

// JSONL reads newline-delimited envelopes from a file or stdin
type JSONL struct {
	r      io.Reader
	closer io.Closer
	buffer int
	logger *zap.Logger

	mu          sync.Mutex
	lastEventID string
	rejected    int
	err         error
}

// OpenJSONL opens path for reading; "-" reads stdin
func OpenJSONL(path string, buffer int, logger *zap.Logger) (*JSONL, error) {
	if path == "" || path == "-" {
		return NewJSONL(os.Stdin, nil, buffer, logger), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open input %s", path)
	}
	return NewJSONL(f, f, buffer, logger), nil
}

// NewJSONL reads envelopes from r; closer may be nil
func NewJSONL(r io.Reader, closer io.Closer, buffer int, logger *zap.Logger) *JSONL {
	if buffer <= 0 {
		buffer = 1024
	}
	return &JSONL{r: r, closer: closer, buffer: buffer, logger: logger.Named("input")}
}

// Start reads in the background. Lines that fail to decode are logged,
// counted and skipped.
func (j *JSONL) Start(ctx context.Context) (<-chan market.Record, error) {
	out := make(chan market.Record, j.buffer)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(j.r)
		sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		line := 0
		for sc.Scan() {
			line++
			raw := bytes.TrimSpace(sc.Bytes())
			if len(raw) == 0 {
				continue
			}
			var env EventEnvelope
			err := sonic.Unmarshal(raw, &env)
			var rec market.Record
			if err == nil {
				rec, err = Decode(env)
			}
			if err != nil {
				j.reject(line, err)
				continue
			}
			select {
			case out <- rec:
				j.mu.Lock()
				j.lastEventID = rec.ID
				j.mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
		if err := sc.Err(); err != nil {
			j.mu.Lock()
			j.err = errors.Wrap(err, "scan input")
			j.mu.Unlock()
			j.logger.Error("input aborted", zap.Error(err))
		}
	}()
	return out, nil
}

func (j *JSONL) reject(line int, err error) {
	j.mu.Lock()
	j.rejected++
	j.mu.Unlock()
	j.logger.Warn("input line rejected", zap.Int("line", line), zap.Error(err))
}

// Close closes the underlying file
func (j *JSONL) Close() error {
	if j.closer == nil {
		return nil
	}
	return j.closer.Close()
}

// LastEventID returns the id of the last record delivered
func (j *JSONL) LastEventID() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastEventID
}

// Rejected is the number of lines skipped
func (j *JSONL) Rejected() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.rejected
}

// Err returns the read error that ended the stream, if any
func (j *JSONL) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}
