// Package coordinator owns the table/order state machine: claiming,
// editing, handover to billing and release.
package coordinator

import (
	"context"
	"fmt"

	"github.com/juju/clock"

	"comanda/internal/common/logger"
	"comanda/internal/domain"
	"comanda/internal/store"
)

type Coordinator struct {
	store store.Store
	clock clock.Clock
	log   *logger.Logger
}

func New(st store.Store, clk clock.Clock, log *logger.Logger) *Coordinator {
	if clk == nil {
		clk = clock.WallClock
	}
	if log == nil {
		log = logger.New("coordinator")
	}
	return &Coordinator{store: st, clock: clk, log: log}
}

// Claim takes ownership of a free table for the actor and resets its order.
// The free check happens under the store's row lock, so two concurrent
// claims on the same table yield exactly one winner; the loser gets
// domain.ErrAlreadyClaimed. The actor must be inside an active shift.
func (c *Coordinator) Claim(ctx context.Context, tableID string, actor domain.Staff) error {
	err := c.store.Update(ctx, func(tx store.Tx) error {
		if _, ok, err := tx.ActiveShift(actor.ID, c.clock.Now().UTC()); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("%w: staff %s", domain.ErrOffShift, actor.ID)
		}
		t, err := tx.Table(tableID)
		if err != nil {
			return err
		}
		if err := t.Claim(actor); err != nil {
			return err
		}
		return tx.SaveTable(t)
	})
	if err != nil {
		return err
	}
	c.log.Info("table_claimed", map[string]any{"table_id": tableID, "owner_id": actor.ID})
	return nil
}

// EditOrder applies one order mutation on behalf of the owner. Allowed only
// while the table is occupied or ready; advances the order phase to edited.
func (c *Coordinator) EditOrder(ctx context.Context, tableID, actorID string, m domain.OrderMutation) error {
	err := c.store.Update(ctx, func(tx store.Tx) error {
		t, err := tx.Table(tableID)
		if err != nil {
			return err
		}
		if err := t.ApplyMutation(actorID, m); err != nil {
			return err
		}
		return tx.SaveTable(t)
	})
	if err != nil {
		return err
	}
	c.log.Debug("order_edited", map[string]any{"table_id": tableID, "actor_id": actorID})
	return nil
}

// MarkReadyForBilling moves a ready table to billing at the owner's request.
// The order stays in place for settlement.
func (c *Coordinator) MarkReadyForBilling(ctx context.Context, tableID, actorID string) error {
	err := c.store.Update(ctx, func(tx store.Tx) error {
		t, err := tx.Table(tableID)
		if err != nil {
			return err
		}
		if err := t.BeginBilling(actorID); err != nil {
			return err
		}
		return tx.SaveTable(t)
	})
	if err != nil {
		return err
	}
	c.log.Info("table_billing", map[string]any{"table_id": tableID})
	return nil
}

// ReleaseLocked frees a table inside an already-open write. The settlement
// engine calls this in the same transaction that records the final payment.
func (c *Coordinator) ReleaseLocked(tx store.Tx, t *domain.Table) error {
	t.Release()
	return tx.SaveTable(t)
}

// Release frees a table in its own write. Exposed for recovery tooling;
// normal settlement goes through ReleaseLocked.
func (c *Coordinator) Release(ctx context.Context, tableID string) error {
	err := c.store.Update(ctx, func(tx store.Tx) error {
		t, err := tx.Table(tableID)
		if err != nil {
			return err
		}
		return c.ReleaseLocked(tx, t)
	})
	if err != nil {
		return err
	}
	c.log.Info("table_released", map[string]any{"table_id": tableID})
	return nil
}
