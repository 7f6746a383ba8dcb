package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "schedbot/pkg/logx"
)

const DefaultTickSpec = "* * * * *"

var tickParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateTickSpec reports whether spec is a usable tick schedule.
func ValidateTickSpec(spec string) error {
	if strings.TrimSpace(spec) == "" {
		return nil
	}
	if _, err := tickParser.Parse(spec); err != nil {
		return fmt.Errorf("tick %q: %w", spec, err)
	}
	return nil
}

// TickPeriod is the gap between the first two ticks of spec after from.
func TickPeriod(spec string, from time.Time) (time.Duration, error) {
	if strings.TrimSpace(spec) == "" {
		spec = DefaultTickSpec
	}
	sched, err := tickParser.Parse(spec)
	if err != nil {
		return 0, fmt.Errorf("tick %q: %w", spec, err)
	}
	first := sched.Next(from)
	return sched.Next(first).Sub(first), nil
}

// Driver runs Loop.Tick on a cron schedule evaluated in UTC. Group local time
// is applied per schedule inside the tick, so the driver's location is fixed.
type Driver struct {
	loop   *Loop
	spec   string
	log    logx.Logger
	now    func() time.Time
	onTick func(Report)

	mu     sync.Mutex
	c      *cron.Cron
	cancel context.CancelFunc
}

type DriverOption func(*Driver)

// WithClock overrides the time source passed to Tick.
func WithClock(now func() time.Time) DriverOption {
	return func(d *Driver) {
		if now != nil {
			d.now = now
		}
	}
}

// WithOnTick registers a hook called after every tick (e.g. watchdog heartbeat).
func WithOnTick(fn func(Report)) DriverOption {
	return func(d *Driver) { d.onTick = fn }
}

func NewDriver(loop *Loop, spec string, log logx.Logger, opts ...DriverOption) (*Driver, error) {
	if loop == nil {
		return nil, errors.New("reconcile: nil loop")
	}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		spec = DefaultTickSpec
	}
	if err := ValidateTickSpec(spec); err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Driver{
		loop: loop,
		spec: spec,
		log:  log.With(logx.String("comp", "reconcile.driver")),
		now:  time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// Start schedules ticks until Stop or until ctx is cancelled.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.c != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	cl := cronLogger{log: d.log}
	c := cron.New(
		cron.WithParser(tickParser),
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(d.spec, func() { d.runTick(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("schedule tick: %w", err)
	}
	d.c = c
	d.cancel = cancel
	c.Start()
	d.log.Info("reconcile loop started", logx.String("tick", d.spec))
	return nil
}

func (d *Driver) runTick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	rep := d.loop.Tick(ctx, d.now().UTC())
	if d.onTick != nil {
		d.onTick(rep)
	}
}

// Stop prevents new ticks, interrupts the running tick after its current
// schedule and waits for it to return or for ctx to expire.
func (d *Driver) Stop(ctx context.Context) error {
	d.mu.Lock()
	c, cancel := d.c, d.cancel
	d.c, d.cancel = nil, nil
	d.mu.Unlock()
	if c == nil {
		return nil
	}

	cancel()
	done := c.Stop()
	select {
	case <-done.Done():
		d.log.Info("reconcile loop stopped")
		return nil
	case <-ctx.Done():
		d.log.Warn("reconcile loop stop timed out", logx.Err(ctx.Err()))
		return ctx.Err()
	}
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	fields := append(kvFields(keysAndValues), logx.Err(err))
	l.log.Error("cron: "+msg, fields...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
