package alerts

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// SlackConfig configures the incoming-webhook notifier
type SlackConfig struct {
	WebhookURL   string        `mapstructure:"webhook_url"`
	Channel      string        `mapstructure:"channel"`
	DedupeWindow time.Duration `mapstructure:"dedupe_window"`
	QueueSize    int           `mapstructure:"queue_size"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Fields []slackField `json:"fields"`
}

type slackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

// Slack posts alerts to a webhook from a background worker. Failed posts
// are retried with exponential backoff; repeats inside the dedupe window are
// suppressed.
type Slack struct {
	cfg     SlackConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
	backoff time.Duration

	mu       sync.Mutex
	lastSent map[string]time.Time
	queue    chan Alert
	done     chan struct{}
	closed   bool
	sent     int
	failed   int
	now      func() time.Time
}

// NewSlack starts the webhook worker
func NewSlack(cfg SlackConfig, logger *zap.Logger) (*Slack, error) {
	if cfg.WebhookURL == "" {
		return nil, errors.New("slack webhook url is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	s := &Slack{
		cfg:      cfg,
		client:   &http.Client{Timeout: 10 * time.Second},
		limiter:  rate.NewLimiter(rate.Every(time.Second), 1),
		logger:   logger.Named("slack"),
		backoff:  time.Second,
		lastSent: make(map[string]time.Time),
		queue:    make(chan Alert, cfg.QueueSize),
		done:     make(chan struct{}),
		now:      time.Now,
	}
	go s.worker()
	return s, nil
}

// Notify enqueues the alert; a full queue drops it
func (s *Slack) Notify(_ context.Context, a Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	now := s.now()
	if last, ok := s.lastSent[a.key()]; ok && now.Sub(last) < s.cfg.DedupeWindow {
		return
	}
	s.lastSent[a.key()] = now

	select {
	case s.queue <- a:
	default:
		s.failed++
		s.logger.Warn("alert queue full", zap.String("scope", a.Scope), zap.String("to", a.To))
	}
}

// Counts returns delivered and abandoned alerts
func (s *Slack) Counts() (sent, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent, s.failed
}

// Dropped is the number of alerts that were never delivered
func (s *Slack) Dropped() int {
	_, failed := s.Counts()
	return failed
}

// Close drains the queue and stops the worker
func (s *Slack) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	<-s.done
	return nil
}

func (s *Slack) worker() {
	defer close(s.done)
	for a := range s.queue {
		ok := s.deliver(a)
		s.mu.Lock()
		if ok {
			s.sent++
		} else {
			s.failed++
		}
		s.mu.Unlock()
	}
}

func (s *Slack) deliver(a Alert) bool {
	payload, err := sonic.Marshal(s.format(a))
	if err != nil {
		s.logger.Error("marshal alert", zap.Error(err))
		return false
	}
	backoff := s.backoff
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		_ = s.limiter.Wait(context.Background())
		err := s.post(payload)
		if err == nil {
			return true
		}
		s.logger.Warn("webhook failed", zap.Error(err), zap.Int("attempt", attempt))
		if attempt < s.cfg.MaxAttempts {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return false
}

func (s *Slack) post(payload []byte) error {
	resp, err := s.client.Post(s.cfg.WebhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "post webhook")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}

func (s *Slack) format(a Alert) slackMessage {
	color := "good"
	if a.Critical() {
		color = "danger"
	}
	subject := a.Scope
	if a.Instrument != "" {
		subject += " " + a.Instrument
	}
	fields := []slackField{
		{Title: "Transition", Value: a.From + " → " + a.To, Short: true},
		{Title: "Drawdown", Value: fmt.Sprintf("%.2f%%", a.Drawdown*100), Short: true},
		{Title: "Net value", Value: fmt.Sprintf("%.2f", a.NetValue), Short: true},
		{Title: "Peak", Value: fmt.Sprintf("%.2f", a.Peak), Short: true},
	}
	if a.Manual {
		fields = append(fields, slackField{Title: "Source", Value: "manual recovery", Short: true})
	}
	if !a.At.IsZero() {
		fields = append(fields, slackField{Title: "Time", Value: a.At.UTC().Format(time.RFC3339), Short: true})
	}
	return slackMessage{
		Channel:     s.cfg.Channel,
		Text:        "Risk alert: " + subject,
		Attachments: []slackAttachment{{Color: color, Fields: fields}},
	}
}
