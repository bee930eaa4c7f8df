package outbox

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/Rajchodisetti/regime-engine/internal/market"
)

// Stream pushes emitted targets to Server-Sent Events subscribers. A
// subscriber that sends Last-Event-ID is replayed every retained target
// after that id before going live.
type Stream struct {
	logger    *zap.Logger
	heartbeat time.Duration
	limit     int

	mu      sync.RWMutex
	history []market.TargetPosition
	clients map[chan market.TargetPosition]struct{}
	closed  bool
	done    chan struct{}
}

// NewStream retains at most limit targets for resume
func NewStream(limit int, heartbeat time.Duration, logger *zap.Logger) *Stream {
	if limit <= 0 {
		limit = 256
	}
	if heartbeat <= 0 {
		heartbeat = 10 * time.Second
	}
	return &Stream{
		logger:    logger.Named("stream"),
		heartbeat: heartbeat,
		limit:     limit,
		clients:   make(map[chan market.TargetPosition]struct{}),
		done:      make(chan struct{}),
	}
}

// Write broadcasts targets. A subscriber whose buffer is full misses the
// target; it can reconnect with Last-Event-ID to catch up.
func (s *Stream) Write(_ context.Context, targets []market.TargetPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.history = append(s.history, targets...)
	if over := len(s.history) - s.limit; over > 0 {
		s.history = append([]market.TargetPosition(nil), s.history[over:]...)
	}
	for ch := range s.clients {
		for _, t := range targets {
			select {
			case ch <- t:
			default:
				s.logger.Warn("subscriber slow, dropping target", zap.String("id", t.ID))
			}
		}
	}
	return nil
}

// Close ends every open subscription
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

// Subscribers is the number of connected clients
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Stream) subscribe(lastID string) (chan market.TargetPosition, []market.TargetPosition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan market.TargetPosition, 256)
	s.clients[ch] = struct{}{}

	var backlog []market.TargetPosition
	if lastID != "" {
		for i, t := range s.history {
			if t.ID == lastID {
				backlog = append(backlog, s.history[i+1:]...)
				break
			}
		}
	}
	return ch, backlog
}

func (s *Stream) unsubscribe(ch chan market.TargetPosition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, ch)
}

func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, backlog := s.subscribe(r.Header.Get("Last-Event-ID"))
	defer s.unsubscribe(ch)
	s.logger.Info("subscriber connected",
		zap.String("remote", r.RemoteAddr),
		zap.Int("backlog", len(backlog)),
		zap.Int("subscribers", s.Subscribers()))

	for _, t := range backlog {
		if err := writeEvent(w, t); err != nil {
			return
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ":ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case t := <-ch:
			if err := writeEvent(w, t); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, t market.TargetPosition) error {
	data, err := sonic.Marshal(t)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: target\nid: %s\ndata: %s\n\n", t.ID, data)
	return err
}
