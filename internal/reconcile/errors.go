package reconcile

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrDelivery wraps a failed Sink.Send. The schedule is not marked and
	// stays eligible for the rest of its matching minute.
	ErrDelivery = errors.New("delivery failed")

	// ErrDeliveryTimeout is a delivery that exceeded the per-delivery timeout.
	// Errors matching it also match ErrDelivery.
	ErrDeliveryTimeout = errors.New("delivery timed out")
)

func deliveryError(dctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(dctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w: %w", ErrDelivery, ErrDeliveryTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrDelivery, err)
}
