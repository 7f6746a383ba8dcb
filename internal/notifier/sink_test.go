package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"schedbot/internal/eventbus"
	"schedbot/internal/render"
	kit "schedbot/internal/transport"
	logx "schedbot/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	calls []call
	err   error
}

type call struct {
	to   kit.ChatTarget
	text string
	opt  kit.SendOptions
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{to: to, text: text, opt: *opt})
	if f.err != nil {
		return kit.MessageRef{}, f.err
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.calls)}, nil
}

func TestSendSetsParseMode(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	s := New(Config{}, fs, logx.Nop(), nil)
	ctx := context.Background()

	if err := s.Send(ctx, -10, render.Message{Text: "plain <3"}); err != nil {
		t.Fatalf("Send plain: %v", err)
	}
	if err := s.Send(ctx, -10, render.Message{Text: "<b>bold</b>", HTML: true}); err != nil {
		t.Fatalf("Send html: %v", err)
	}
	if len(fs.calls) != 2 {
		t.Fatalf("calls = %d", len(fs.calls))
	}
	if fs.calls[0].opt.ParseMode != "" || fs.calls[0].to.ChatID != -10 || fs.calls[0].text != "plain <3" {
		t.Fatalf("plain call = %+v", fs.calls[0])
	}
	if fs.calls[1].opt.ParseMode != "HTML" || !fs.calls[1].opt.DisablePreview {
		t.Fatalf("html call = %+v", fs.calls[1])
	}
}

func TestSendErrorIsReturnedAndPublished(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	boom := errors.New("Forbidden: bot was kicked from the group chat")
	s := New(Config{RatePerSec: 5}, &fakeSender{err: boom}, logx.Nop(), bus)
	err := s.Send(context.Background(), -1, render.Message{Text: "x"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	select {
	case e := <-ch:
		ev, ok := e.Data.(NotificationEvent)
		if e.Type != EventFailed || !ok || ev.ChatID != -1 || ev.Error == "" {
			t.Fatalf("event = %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}

func TestRateLimitHonoursContext(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	s := New(Config{RatePerSec: 1}, fs, logx.Nop(), nil)

	// Burst of one token: the first send passes, the second must wait ~1s.
	if err := s.Send(context.Background(), 1, render.Message{Text: "a"}); err != nil {
		t.Fatalf("first send: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Send(ctx, 1, render.Message{Text: "b"}); err == nil {
		t.Fatal("expected rate limiter to give up before the deadline")
	}
	if len(fs.calls) != 1 {
		t.Fatalf("calls = %d", len(fs.calls))
	}
}

func TestNoSender(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, logx.Nop(), nil)
	if err := s.Send(context.Background(), 1, render.Message{}); !errors.Is(err, ErrNoSender) {
		t.Fatalf("err = %v", err)
	}
}
