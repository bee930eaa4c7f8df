package alerts

import (
	"context"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// TelegramConfig configures the Telegram notifier
type TelegramConfig struct {
	Token        string        `mapstructure:"telegram_token"`
	ChatID       int64         `mapstructure:"telegram_chat_id"`
	DedupeWindow time.Duration `mapstructure:"dedupe_window"`
	QueueSize    int           `mapstructure:"queue_size"`
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram sends alerts to a chat from a background worker. A full queue
// drops non-critical alerts first; repeats inside the dedupe window are
// suppressed.
type Telegram struct {
	bot     sender
	chatID  int64
	window  time.Duration
	limiter *rate.Limiter
	logger  *zap.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
	queue    chan Alert
	done     chan struct{}
	closed   bool
	dropped  int
	now      func() time.Time
}

// NewTelegram connects to the bot API and starts the worker
func NewTelegram(cfg TelegramConfig, logger *zap.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, errors.Wrap(err, "telegram bot")
	}
	return newTelegram(bot, cfg, logger), nil
}

func newTelegram(bot sender, cfg TelegramConfig, logger *zap.Logger) *Telegram {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = time.Minute
	}
	t := &Telegram{
		bot:      bot,
		chatID:   cfg.ChatID,
		window:   cfg.DedupeWindow,
		limiter:  rate.NewLimiter(rate.Every(time.Second), 5),
		logger:   logger.Named("telegram"),
		lastSent: make(map[string]time.Time),
		queue:    make(chan Alert, cfg.QueueSize),
		done:     make(chan struct{}),
		now:      time.Now,
	}
	go t.worker()
	return t
}

// Notify enqueues the alert without blocking
func (t *Telegram) Notify(_ context.Context, a Alert) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	now := t.now()
	if last, ok := t.lastSent[a.key()]; ok && now.Sub(last) < t.window {
		return
	}
	t.lastSent[a.key()] = now

	select {
	case t.queue <- a:
	default:
		if !a.Critical() {
			t.dropped++
			return
		}
		// make room for a critical alert
		select {
		case <-t.queue:
			t.dropped++
		default:
		}
		select {
		case t.queue <- a:
		default:
			t.dropped++
		}
	}
}

// Dropped is the number of alerts discarded on a full queue
func (t *Telegram) Dropped() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}

// Close drains the queue and stops the worker
func (t *Telegram) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.queue)
	t.mu.Unlock()
	<-t.done
	return nil
}

func (t *Telegram) worker() {
	defer close(t.done)
	for a := range t.queue {
		if err := t.limiter.Wait(context.Background()); err != nil {
			continue
		}
		if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, a.Text())); err != nil {
			t.logger.Error("send alert", zap.Error(err), zap.String("scope", a.Scope), zap.String("to", a.To))
		}
	}
}
