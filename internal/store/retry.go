package store

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"

	"comanda/internal/domain"
)

// Retrying decorates a Store with backoff retries for transient
// infrastructure failures. Validation failures are fatal on the first
// attempt: retrying a stale command cannot make it valid.
type Retrying struct {
	inner    Store
	clock    clock.Clock
	attempts int
	delay    time.Duration
	maxDelay time.Duration
}

// WithRetry wraps inner so callers see domain.ErrStoreUnavailable only
// after the backoff budget is spent.
func WithRetry(inner Store, clk clock.Clock) *Retrying {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Retrying{
		inner:    inner,
		clock:    clk,
		attempts: 5,
		delay:    100 * time.Millisecond,
		maxDelay: 2 * time.Second,
	}
}

func (r *Retrying) call(ctx context.Context, op func() error) error {
	err := retry.Call(retry.CallArgs{
		Func: op,
		IsFatalError: func(err error) bool {
			return !domain.IsStoreUnavailable(err)
		},
		Attempts:    r.attempts,
		Delay:       r.delay,
		MaxDelay:    r.maxDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       r.clock,
		Stop:        ctx.Done(),
	})
	if retry.IsAttemptsExceeded(err) || retry.IsRetryStopped(err) {
		return retry.LastError(err)
	}
	return err
}

func (r *Retrying) Update(ctx context.Context, fn func(tx Tx) error) error {
	return r.call(ctx, func() error { return r.inner.Update(ctx, fn) })
}

func (r *Retrying) GetTable(ctx context.Context, id string) (domain.Table, error) {
	var out domain.Table
	err := r.call(ctx, func() error {
		var err error
		out, err = r.inner.GetTable(ctx, id)
		return err
	})
	return out, err
}

func (r *Retrying) ListTables(ctx context.Context) ([]domain.Table, error) {
	var out []domain.Table
	err := r.call(ctx, func() error {
		var err error
		out, err = r.inner.ListTables(ctx)
		return err
	})
	return out, err
}

func (r *Retrying) GetTicket(ctx context.Context, id string) (domain.KitchenTicket, error) {
	var out domain.KitchenTicket
	err := r.call(ctx, func() error {
		var err error
		out, err = r.inner.GetTicket(ctx, id)
		return err
	})
	return out, err
}

func (r *Retrying) ListTickets(ctx context.Context, status string) ([]domain.KitchenTicket, error) {
	var out []domain.KitchenTicket
	err := r.call(ctx, func() error {
		var err error
		out, err = r.inner.ListTickets(ctx, status)
		return err
	})
	return out, err
}

func (r *Retrying) ListSales(ctx context.Context, tableID string) ([]domain.Sale, error) {
	var out []domain.Sale
	err := r.call(ctx, func() error {
		var err error
		out, err = r.inner.ListSales(ctx, tableID)
		return err
	})
	return out, err
}

func (r *Retrying) ListClosures(ctx context.Context, tableID string) ([]domain.ForcedClosure, error) {
	var out []domain.ForcedClosure
	err := r.call(ctx, func() error {
		var err error
		out, err = r.inner.ListClosures(ctx, tableID)
		return err
	})
	return out, err
}

func (r *Retrying) ListShifts(ctx context.Context) ([]domain.Shift, error) {
	var out []domain.Shift
	err := r.call(ctx, func() error {
		var err error
		out, err = r.inner.ListShifts(ctx)
		return err
	})
	return out, err
}

func (r *Retrying) EnsureTable(ctx context.Context, t domain.Table) error {
	return r.call(ctx, func() error { return r.inner.EnsureTable(ctx, t) })
}

func (r *Retrying) Subscribe(collection string, fn func(domain.Event)) func() {
	return r.inner.Subscribe(collection, fn)
}
