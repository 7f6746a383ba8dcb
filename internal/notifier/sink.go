package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"schedbot/internal/eventbus"
	"schedbot/internal/render"
	kit "schedbot/internal/transport"
	logx "schedbot/pkg/logx"
	"schedbot/pkg/tgui"
)

// Sender is the part of the transport adapter the sink needs.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// Sink sends rendered messages through a Sender. It is safe for concurrent use.
type Sink struct {
	sender Sender
	log    logx.Logger
	bus    eventbus.Bus

	mu      sync.RWMutex
	cfg     Config
	limiter *rate.Limiter
}

func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus) *Sink {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Sink{sender: sender, log: log.With(logx.String("comp", "notifier")), bus: bus}
	s.Apply(cfg)
	return s
}

// Apply swaps the throttling config (hot reload).
func (s *Sink) Apply(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRatePerSec
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limiter != nil && s.cfg == cfg {
		return
	}
	s.cfg = cfg
	// Burst = rate per sec, so a handful of simultaneous schedules go out at once.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Sink) currentLimiter() *rate.Limiter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.limiter
}

// Send delivers msg to chatID. Waiting for the rate limiter counts against ctx.
func (s *Sink) Send(ctx context.Context, chatID int64, msg render.Message) error {
	if s.sender == nil {
		return ErrNoSender
	}
	started := time.Now()
	if err := s.currentLimiter().Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	opt := &kit.SendOptions{DisablePreview: true}
	if msg.HTML {
		opt.ParseMode = tgui.ParseModeHTML
	}
	_, err := s.sender.SendText(ctx, kit.ChatTarget{ChatID: chatID}, msg.Text, opt)

	ev := NotificationEvent{ChatID: chatID, At: started, Took: time.Since(started)}
	if err != nil {
		ev.Error = err.Error()
		s.publish(EventFailed, ev)
		return fmt.Errorf("send to %d: %w", chatID, err)
	}
	s.log.Debug("message delivered", logx.Int64("chat_id", chatID), logx.Duration("took", ev.Took))
	s.publish(EventSent, ev)
	return nil
}

func (s *Sink) publish(typ string, ev NotificationEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}
