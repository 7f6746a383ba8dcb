package reconcile

import (
	"context"
	"testing"
	"time"

	logx "schedbot/pkg/logx"
)

func TestValidateTickSpec(t *testing.T) {
	t.Parallel()
	for _, ok := range []string{"", "* * * * *", "*/30 * * * * *", "@every 20s", "@hourly"} {
		if err := ValidateTickSpec(ok); err != nil {
			t.Fatalf("ValidateTickSpec(%q) = %v", ok, err)
		}
	}
	for _, bad := range []string{"every minute", "* * *", "@sometimes"} {
		if err := ValidateTickSpec(bad); err == nil {
			t.Fatalf("ValidateTickSpec(%q) should fail", bad)
		}
	}
}

func TestDriverRunsTicksUntilStopped(t *testing.T) {
	t.Parallel()
	st := newMemStore(daily(1, -1, 9, 0, "x"))
	sink := &fakeSink{}
	loop := newTestLoop(t, st, sink)

	ticks := make(chan Report, 4)
	d, err := NewDriver(loop, "@every 1s", logx.Nop(),
		WithClock(func() time.Time { return utc(2024, 8, 14, 9, 0, 0) }),
		WithOnTick(func(r Report) {
			select {
			case ticks <- r:
			default:
			}
		}),
	)
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Second Start is a no-op.
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start again: %v", err)
	}

	select {
	case r := <-ticks:
		if r.Err != nil {
			t.Fatalf("tick error: %v", r.Err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no tick within 5s")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop again: %v", err)
	}
	if sink.count() != 1 {
		t.Fatalf("sent %d, want 1 (same fake minute every tick)", sink.count())
	}
}

func TestNewDriverRejectsBadSpec(t *testing.T) {
	t.Parallel()
	loop := newTestLoop(t, newMemStore(), &fakeSink{})
	if _, err := NewDriver(loop, "not a spec", logx.Nop()); err == nil {
		t.Fatal("expected error")
	}
	if _, err := NewDriver(nil, "", logx.Nop()); err == nil {
		t.Fatal("expected error for nil loop")
	}
}

func TestTickPeriod(t *testing.T) {
	t.Parallel()
	from := utc(2024, 8, 14, 9, 0, 30)
	tests := []struct {
		spec string
		want time.Duration
	}{
		{"", time.Minute},
		{"*/30 * * * * *", 30 * time.Second},
		{"@every 20s", 20 * time.Second},
		{"@hourly", time.Hour},
	}
	for _, tc := range tests {
		got, err := TickPeriod(tc.spec, from)
		if err != nil || got != tc.want {
			t.Fatalf("TickPeriod(%q) = %v, %v; want %v", tc.spec, got, err, tc.want)
		}
	}
	if _, err := TickPeriod("nope", from); err == nil {
		t.Fatal("expected error")
	}
}
