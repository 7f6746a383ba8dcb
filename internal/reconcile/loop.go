// Package reconcile runs the schedule reconciliation loop: once per tick it
// loads every active schedule, evaluates it against its group's local wall
// clock and delivers what is due, at most once per local calendar day.
//
// The loop keeps no state between ticks; the last-fired marker in the store is
// the only record of what was delivered.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"schedbot/internal/eventbus"
	"schedbot/internal/metrics"
	"schedbot/internal/render"
	"schedbot/internal/schedule"
	"schedbot/internal/tz"
	logx "schedbot/pkg/logx"
)

const DefaultDeliveryTimeout = 15 * time.Second

// Store is the persistence the loop reads and writes.
type Store interface {
	ListActiveSchedules(ctx context.Context) ([]schedule.Schedule, error)
	GroupTimezone(ctx context.Context, groupID int64) (string, error)
	MarkFired(ctx context.Context, id int64, d schedule.Date) error
	ExpireSchedule(ctx context.Context, id int64) error
}

// Sink delivers a rendered message to a group. A nil error means delivered.
type Sink interface {
	Send(ctx context.Context, groupID int64, msg render.Message) error
}

// Event types published on the bus.
const (
	EventTickDone  = "reconcile.tick_done"
	EventDelivered = "reconcile.delivered"
	EventExpired   = "reconcile.expired"
)

// Delivered is the payload of EventDelivered.
type Delivered struct {
	ScheduleID int64
	GroupID    int64
	Kind       schedule.Kind
	LocalDate  schedule.Date
}

// Expired is the payload of EventExpired.
type Expired struct {
	ScheduleID int64
	GroupID    int64
	LocalDate  schedule.Date
}

// Report summarizes one tick. Err is set only when the tick was aborted.
type Report struct {
	TickID    string
	At        time.Time
	Took      time.Duration
	Schedules int
	Due       int
	Delivered int
	Failed    int
	Skipped   int
	Expired   int
	Err       error
}

type Options struct {
	Store    Store
	Sink     Sink
	Resolver *tz.Resolver
	Log      logx.Logger
	Metrics  *metrics.Metrics
	Bus      eventbus.Bus

	DeliveryTimeout time.Duration
}

// Loop evaluates schedules. Tick calls never overlap.
type Loop struct {
	store   Store
	sink    Sink
	tz      *tz.Resolver
	log     logx.Logger
	metrics *metrics.Metrics
	bus     eventbus.Bus

	tickMu sync.Mutex

	cfgMu   sync.RWMutex
	timeout time.Duration
}

func New(opts Options) (*Loop, error) {
	if opts.Store == nil || opts.Sink == nil {
		return nil, errors.New("reconcile: store and sink are required")
	}
	res := opts.Resolver
	if res == nil {
		var err error
		if res, err = tz.NewResolver(tz.DefaultName); err != nil {
			return nil, err
		}
	}
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	l := &Loop{
		store:   opts.Store,
		sink:    opts.Sink,
		tz:      res,
		log:     log.With(logx.String("comp", "reconcile")),
		metrics: opts.Metrics,
		bus:     opts.Bus,
	}
	l.SetDeliveryTimeout(opts.DeliveryTimeout)
	return l, nil
}

// SetDeliveryTimeout changes the per-delivery timeout (<=0 restores the default).
func (l *Loop) SetDeliveryTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultDeliveryTimeout
	}
	l.cfgMu.Lock()
	l.timeout = d
	l.cfgMu.Unlock()
}

func (l *Loop) deliveryTimeout() time.Duration {
	l.cfgMu.RLock()
	defer l.cfgMu.RUnlock()
	return l.timeout
}

// Tick runs one reconciliation pass for the instant now.
//
// Cancelling ctx stops the pass before the next schedule; a delivery already
// started runs to completion (bounded by the delivery timeout) and is marked.
func (l *Loop) Tick(ctx context.Context, now time.Time) (rep Report) {
	l.tickMu.Lock()
	defer l.tickMu.Unlock()

	rep = Report{TickID: uuid.NewString(), At: now}
	log := l.log.With(logx.String("tick_id", rep.TickID))
	started := time.Now()
	defer func() {
		rep.Took = time.Since(started)
		l.metrics.ObserveTick(now, rep.Took, rep.Schedules)
		l.publish(EventTickDone, rep)
	}()

	list, err := l.store.ListActiveSchedules(ctx)
	if err != nil {
		l.metrics.StoreError("list_schedules")
		log.Error("tick aborted: cannot list schedules", logx.Err(err))
		rep.Err = fmt.Errorf("list schedules: %w", err)
		return rep
	}
	rep.Schedules = len(list)
	if len(list) == 0 {
		log.Trace("no active schedules")
		return rep
	}

	locs := map[int64]*time.Location{}
	for i, s := range list {
		if ctx.Err() != nil {
			log.Info("tick interrupted", logx.Int("remaining", len(list)-i))
			break
		}

		loc, ok := l.location(ctx, log, locs, s.GroupID)
		if !ok {
			rep.Skipped++
			continue
		}
		local := schedule.LocalNow(now, loc)
		if s.Expired(local.Date) {
			if l.expire(ctx, log, s, local) {
				rep.Expired++
			}
			continue
		}
		if !s.Due(local) {
			continue
		}
		rep.Due++
		if l.fire(ctx, log, s, local) {
			rep.Delivered++
		} else {
			rep.Failed++
		}
	}

	if rep.Due > 0 || rep.Skipped > 0 || rep.Expired > 0 {
		log.Info("tick done",
			logx.Int("schedules", rep.Schedules),
			logx.Int("due", rep.Due),
			logx.Int("delivered", rep.Delivered),
			logx.Int("failed", rep.Failed),
			logx.Int("skipped", rep.Skipped),
			logx.Int("expired", rep.Expired),
		)
	}
	return rep
}

// location resolves the group's timezone once per tick. ok=false means the
// store failed and the schedule must be skipped for this tick.
func (l *Loop) location(ctx context.Context, log logx.Logger, cache map[int64]*time.Location, groupID int64) (*time.Location, bool) {
	if loc, ok := cache[groupID]; ok {
		return loc, true
	}
	name, err := l.store.GroupTimezone(ctx, groupID)
	if err != nil {
		l.metrics.StoreError("group_timezone")
		log.Warn("skipping group: cannot read timezone", logx.Int64("group_id", groupID), logx.Err(err))
		return nil, false
	}
	loc, fellBack := l.tz.Resolve(name)
	if fellBack && name != "" {
		l.metrics.TimezoneFallback()
		log.Warn("invalid group timezone, using default",
			logx.Int64("group_id", groupID),
			logx.String("timezone", name),
			logx.String("default", loc.String()),
		)
	}
	cache[groupID] = loc
	return loc, true
}

// fire renders, delivers and marks one due schedule. It reports whether the
// message was delivered.
func (l *Loop) fire(ctx context.Context, log logx.Logger, s schedule.Schedule, local schedule.Local) bool {
	log = log.With(
		logx.Int64("schedule_id", s.ID),
		logx.Int64("group_id", s.GroupID),
		logx.String("kind", string(s.Kind())),
	)
	msg := render.Schedule(s, local)

	// Shutdown must not cut a delivery in half.
	base := context.WithoutCancel(ctx)
	dctx, cancel := context.WithTimeout(base, l.deliveryTimeout())
	err := l.sink.Send(dctx, s.GroupID, msg)
	if err != nil {
		err = deliveryError(dctx, err)
	}
	cancel()

	if err != nil {
		result := metrics.ResultError
		if errors.Is(err, ErrDeliveryTimeout) {
			result = metrics.ResultTimeout
		}
		l.metrics.Delivery(string(s.Kind()), result)
		log.Warn("delivery failed, will retry within the minute", logx.Err(err))
		return false
	}
	l.metrics.Delivery(string(s.Kind()), metrics.ResultOK)

	if err := l.store.MarkFired(base, s.ID, local.Date); err != nil {
		l.metrics.StoreError("mark_fired")
		log.Error("delivered but could not record it", logx.Stringer("local_date", local.Date), logx.Err(err))
		return true
	}
	log.Info("scheduled message sent", logx.Stringer("local_date", local.Date))
	l.publish(EventDelivered, Delivered{ScheduleID: s.ID, GroupID: s.GroupID, Kind: s.Kind(), LocalDate: local.Date})
	return true
}

// expire deactivates a daily message whose end date is behind the group's
// local date. A store failure leaves it active and it is retried next tick.
func (l *Loop) expire(ctx context.Context, log logx.Logger, s schedule.Schedule, local schedule.Local) bool {
	if err := l.store.ExpireSchedule(ctx, s.ID); err != nil {
		l.metrics.StoreError("expire_schedule")
		log.Warn("could not deactivate expired schedule", logx.Int64("schedule_id", s.ID), logx.Err(err))
		return false
	}
	l.metrics.ScheduleExpired()
	log.Info("schedule expired",
		logx.Int64("schedule_id", s.ID),
		logx.Int64("group_id", s.GroupID),
		logx.Stringer("local_date", local.Date),
	)
	l.publish(EventExpired, Expired{ScheduleID: s.ID, GroupID: s.GroupID, LocalDate: local.Date})
	return true
}

func (l *Loop) publish(typ string, data any) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
