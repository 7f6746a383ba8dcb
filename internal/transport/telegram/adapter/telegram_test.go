package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "schedbot/internal/transport"
	logx "schedbot/pkg/logx"
)

func TestSplitText(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		in        string
		limit     int
		parseMode string
		want      []string
	}{
		{name: "short", in: "hello", limit: 10, want: []string{"hello"}},
		{name: "hard cut", in: "abcdefghij", limit: 4, want: []string{"abcd", "efgh", "ij"}},
		{name: "prefers newline", in: "abcd\nefghij", limit: 8, want: []string{"abcd", "efghij"}},
		{name: "html tag kept whole", in: "abcdef<b>x</b>", limit: 8, parseMode: "HTML", want: []string{"abcdef", "<b>x</b>"}},
		{name: "runes not bytes", in: "ääää", limit: 2, want: []string{"ää", "ää"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitText(tt.in, tt.limit, tt.parseMode)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Fatalf("splitText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestConvertMessage(t *testing.T) {
	t.Parallel()
	m := &tele.Message{
		ID:     7,
		Text:   "/status",
		Chat:   &tele.Chat{ID: -100, Title: "Team", Type: tele.ChatSuperGroup},
		Sender: &tele.User{ID: 42, Username: "alice", FirstName: "Alice"},
	}
	got := convertMessage(m)
	if !got.IsGroup || got.ChatTitle != "Team" || got.FromID != 42 || got.FromUsername != "alice" || got.FromFirstName != "Alice" || got.ChatID != -100 {
		t.Fatalf("convertMessage = %+v", got)
	}

	private := convertMessage(&tele.Message{Chat: &tele.Chat{ID: 42, Type: tele.ChatPrivate}})
	if private.IsGroup || private.FromID != 0 {
		t.Fatalf("private = %+v", private)
	}
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Token: "  "}, logx.Nop()); err == nil {
		t.Fatal("expected error")
	}
}

func newOfflineAdapter(t *testing.T, h http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	a, err := New(Config{Token: "123:abc", APIURL: srv.URL, Offline: true, SendTimeout: 5 * time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestSendTextHonoursDeadline(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	a := newOfflineAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	// Registered after the server so it runs first and unblocks the handler.
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := a.SendText(ctx, kit.ChatTarget{ChatID: 1}, "hello", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if took := time.Since(start); took > 2*time.Second {
		t.Fatalf("SendText returned after %v", took)
	}
}

func TestSendTextReturnsFirstMessage(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	a := newOfflineAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
			http.NotFound(w, r)
			return
		}
		id := 10 + calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"ok":true,"result":{"message_id":%d,"chat":{"id":-100}}}`, id)
	})

	ref, err := a.SendText(context.Background(), kit.ChatTarget{ChatID: -100, ThreadID: 3}, strings.Repeat("x", textLimit+10), nil)
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if ref.MessageID != 11 || ref.ChatID != -100 || ref.ThreadID != 3 {
		t.Fatalf("ref = %+v", ref)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("sendMessage calls = %d, want 2", got)
	}
}

func TestClientTimeoutOutlastsLongPoll(t *testing.T) {
	t.Parallel()
	cfg := Config{PollTimeout: 30 * time.Second, SendTimeout: 5 * time.Second}
	if got := clientTimeout(cfg); got <= cfg.PollTimeout {
		t.Fatalf("clientTimeout = %v, want > %v", got, cfg.PollTimeout)
	}
}
