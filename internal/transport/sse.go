package transport

import (
	"bufio"
	"context"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Rajchodisetti/regime-engine/internal/market"
)

// SSEConfig locates a Server-Sent Events stream of envelopes
type SSEConfig struct {
	URL          string        `mapstructure:"url"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Jitter       time.Duration `mapstructure:"jitter"`
	Buffer       int           `mapstructure:"buffer"`
}

func (c SSEConfig) withDefaults() SSEConfig {
	if c.InitialDelay <= 0 {
		c.InitialDelay = 500 * time.Millisecond
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = 30 * time.Second
	}
	if c.Jitter <= 0 {
		c.Jitter = 250 * time.Millisecond
	}
	if c.Buffer <= 0 {
		c.Buffer = 1024
	}
	return c
}

// seenWindow bounds the duplicate filter
const seenWindow = 4096

// SSE consumes a live stream. Each event's type is the record kind and its
// data is the payload. It reconnects with exponential backoff and resumes
// from the last delivered id.
type SSE struct {
	cfg    SSEConfig
	client *http.Client
	logger *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.RWMutex
	lastEventID string
	seen        map[string]struct{}
	order       []string

	duplicates int64
	rejected   int64
	reconnects int64
}

// NewSSE creates a stream source; nothing connects until Start
func NewSSE(cfg SSEConfig, logger *zap.Logger) (*SSE, error) {
	if cfg.URL == "" {
		return nil, errors.New("sse url is required")
	}
	return &SSE{
		cfg:    cfg.withDefaults(),
		client: &http.Client{}, // the stream is long lived; cancellation comes from ctx
		logger: logger.Named("sse"),
		seen:   make(map[string]struct{}),
	}, nil
}

// Start connects in the background. The channel closes when ctx is done or
// Close is called.
func (s *SSE) Start(ctx context.Context) (<-chan market.Record, error) {
	ctx, s.cancel = context.WithCancel(ctx)
	out := make(chan market.Record, s.cfg.Buffer)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(out)
		s.consumeLoop(ctx, out)
	}()
	return out, nil
}

// Close stops the stream and waits for the reader to exit
func (s *SSE) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("stream closed",
		zap.String("last_event_id", s.LastEventID()),
		zap.Int("reconnects", s.Reconnects()),
		zap.Int("duplicates", s.Duplicates()),
		zap.Int("rejected", s.Rejected()))
	return nil
}

// LastEventID returns the id of the last record delivered
func (s *SSE) LastEventID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastEventID
}

// Rejected is the number of events that failed to decode
func (s *SSE) Rejected() int {
	return int(atomic.LoadInt64(&s.rejected))
}

// Duplicates is the number of replayed events dropped by id
func (s *SSE) Duplicates() int {
	return int(atomic.LoadInt64(&s.duplicates))
}

// Reconnects is the number of reconnect attempts
func (s *SSE) Reconnects() int {
	return int(atomic.LoadInt64(&s.reconnects))
}

// Err is always nil: the stream reconnects until closed
func (s *SSE) Err() error {
	return nil
}

func (s *SSE) consumeLoop(ctx context.Context, out chan<- market.Record) {
	backoff := s.cfg.InitialDelay
	for {
		err := s.connectAndConsume(ctx, out)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			// clean end of stream resets the backoff
			backoff = s.cfg.InitialDelay
			err = errors.New("stream ended")
		}

		delay := backoff + time.Duration(rand.Int63n(int64(s.cfg.Jitter)))
		s.logger.Warn("stream disconnected", zap.Error(err), zap.Duration("retry_in", delay))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		atomic.AddInt64(&s.reconnects, 1)

		backoff *= 2
		if backoff > s.cfg.MaxDelay {
			backoff = s.cfg.MaxDelay
		}
	}
}

func (s *SSE) connectAndConsume(ctx context.Context, out chan<- market.Record) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL, nil)
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if id := s.LastEventID(); id != "" {
		req.Header.Set("Last-Event-ID", id)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "connect")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("unexpected status %d", resp.StatusCode)
	}
	s.logger.Info("stream connected", zap.String("url", s.cfg.URL))

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var kind, id string
	var data strings.Builder
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, ":") {
			continue // heartbeat
		}
		if line == "" {
			if kind != "" && data.Len() > 0 {
				if err := s.dispatch(ctx, out, kind, id, data.String()); err != nil {
					return err
				}
			}
			kind, id = "", ""
			data.Reset()
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			kind = value
		case "id":
			id = value
		case "data":
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(value)
		}
	}
	return sc.Err()
}

// dispatch decodes one event and blocks until the engine takes it
func (s *SSE) dispatch(ctx context.Context, out chan<- market.Record, kind, id, data string) error {
	if id != "" && s.isDuplicate(id) {
		atomic.AddInt64(&s.duplicates, 1)
		return nil
	}
	rec, err := Decode(EventEnvelope{V: 1, Type: kind, ID: id, TS: time.Now().UTC(), Payload: []byte(data)})
	if err != nil {
		atomic.AddInt64(&s.rejected, 1)
		s.logger.Warn("event rejected", zap.String("id", id), zap.String("type", kind), zap.Error(err))
		return nil
	}
	select {
	case out <- rec:
	case <-ctx.Done():
		return ctx.Err()
	}
	if id != "" {
		s.mu.Lock()
		s.lastEventID = id
		s.mu.Unlock()
	}
	return nil
}

func (s *SSE) isDuplicate(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[id]; ok {
		return true
	}
	s.seen[id] = struct{}{}
	s.order = append(s.order, id)
	if len(s.order) > seenWindow {
		delete(s.seen, s.order[0])
		s.order = s.order[1:]
	}
	return false
}
