package terminal

import (
	"context"
	"errors"
	"time"
)

// WithRetry wraps a Terminal so that connection failures are retried up to
// attempts times with exponential backoff starting at delay. Auth failures and
// rejections are never retried. attempts < 1 is treated as 1.
func WithRetry(t Terminal, attempts int, delay time.Duration) Terminal {
	if attempts < 1 {
		attempts = 1
	}
	return &retrying{inner: t, attempts: attempts, delay: delay}
}

type retrying struct {
	inner    Terminal
	attempts int
	delay    time.Duration
}

func (r *retrying) do(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < r.attempts; attempt++ {
		if attempt > 0 {
			backoff := r.delay << (attempt - 1)
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if err = fn(); err == nil || !errors.Is(err, ErrConnection) {
			return err
		}
	}
	return err
}

func (r *retrying) Venue() string { return r.inner.Venue() }

func (r *retrying) ListOrders(ctx context.Context) ([]Order, error) {
	var out []Order
	err := r.do(ctx, func() error {
		var e error
		out, e = r.inner.ListOrders(ctx)
		return e
	})
	return out, err
}

func (r *retrying) ListPositions(ctx context.Context) ([]Position, error) {
	var out []Position
	err := r.do(ctx, func() error {
		var e error
		out, e = r.inner.ListPositions(ctx)
		return e
	})
	return out, err
}

func (r *retrying) PlaceOrder(ctx context.Context, req OrderRequest) (int64, error) {
	var ticket int64
	err := r.do(ctx, func() error {
		var e error
		ticket, e = r.inner.PlaceOrder(ctx, req)
		return e
	})
	return ticket, err
}

func (r *retrying) ModifyOrder(ctx context.Context, ticket int64, ch Changes) error {
	return r.do(ctx, func() error { return r.inner.ModifyOrder(ctx, ticket, ch) })
}

func (r *retrying) CancelOrder(ctx context.Context, ticket int64) error {
	return r.do(ctx, func() error { return r.inner.CancelOrder(ctx, ticket) })
}

func (r *retrying) ModifyPosition(ctx context.Context, ticket int64, ch Changes) error {
	return r.do(ctx, func() error { return r.inner.ModifyPosition(ctx, ticket, ch) })
}

func (r *retrying) ClosePosition(ctx context.Context, ticket int64) error {
	return r.do(ctx, func() error { return r.inner.ClosePosition(ctx, ticket) })
}

func (r *retrying) NormalizeLots(ctx context.Context, symbol string, lots float64) (float64, error) {
	var out float64
	err := r.do(ctx, func() error {
		var e error
		out, e = r.inner.NormalizeLots(ctx, symbol, lots)
		return e
	})
	return out, err
}
