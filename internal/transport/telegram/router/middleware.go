package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"schedbot/internal/metrics"
	logx "schedbot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					req.Logger.Error("panic recovered",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			d := time.Since(start)
			if errors.Is(err, ErrDenied) {
				req.Logger.Info("command denied")
				return err
			}
			if err != nil {
				req.Logger.Warn("command failed", logx.Duration("dur", d), logx.Err(err))
				return err
			}
			// Slow commands are worth seeing at INFO.
			if d >= 750*time.Millisecond {
				req.Logger.Info("command ok", logx.Duration("dur", d))
			} else {
				req.Logger.Debug("command ok", logx.Duration("dur", d))
			}
			return nil
		}
	}
}

func MWMetrics(m *metrics.Metrics) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			result := metrics.ResultOK
			switch {
			case errors.Is(err, ErrDenied):
				result = metrics.ResultDenied
			case errors.Is(err, context.DeadlineExceeded):
				result = metrics.ResultTimeout
			case err != nil:
				result = metrics.ResultError
			}
			m.Command(req.Command, result, time.Since(start))
			return err
		}
	}
}
