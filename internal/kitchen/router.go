// Package kitchen manages kitchen ticket lifecycle and its coupling back
// to table state.
package kitchen

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"comanda/internal/common/logger"
	"comanda/internal/domain"
	"comanda/internal/store"
)

type Router struct {
	store store.Store
	clock clock.Clock
	log   *logger.Logger
	newID func() string
}

func New(st store.Store, clk clock.Clock, log *logger.Logger) *Router {
	if clk == nil {
		clk = clock.WallClock
	}
	if log == nil {
		log = logger.New("kitchen")
	}
	return &Router{store: st, clock: clk, log: log, newID: uuid.NewString}
}

// Route cuts a new pending ticket from the current order. Preconditions:
// the actor owns the table, the order phase is edited and there is at least
// one line. The ticket snapshot and the phase advance to routed commit as
// one write. Routing again before an earlier ticket is ready simply creates
// another ticket; rounds of ordering are expected.
func (r *Router) Route(ctx context.Context, tableID, actorID string) (domain.KitchenTicket, error) {
	var created domain.KitchenTicket
	err := r.store.Update(ctx, func(tx store.Tx) error {
		t, err := tx.Table(tableID)
		if err != nil {
			return err
		}
		if t.Status != domain.TableOccupied && t.Status != domain.TableReady {
			return fmt.Errorf("%w: cannot route table %s while %s", domain.ErrWrongStatus, t.ID, t.Status)
		}
		if !t.OwnedBy(actorID) {
			return fmt.Errorf("%w: table %s belongs to %s", domain.ErrNotOwner, t.ID, t.OwnerName)
		}
		if len(t.Order.Items) == 0 {
			return fmt.Errorf("%w: table %s", domain.ErrEmptyOrder, t.ID)
		}
		if t.Order.Phase != domain.PhaseEdited {
			return fmt.Errorf("%w: order phase %s, want %s", domain.ErrWrongStatus, t.Order.Phase, domain.PhaseEdited)
		}
		created = domain.KitchenTicket{
			ID:         r.newID(),
			TableID:    t.ID,
			TableName:  t.Name,
			RoutedByID: t.OwnerID,
			OwnerName:  t.OwnerName,
			Lines:      append([]domain.OrderLine(nil), t.Order.Items...),
			Status:     domain.TicketPending,
			CreatedAt:  r.clock.Now().UTC(),
		}
		t.MarkRouted()
		if err := tx.SaveTable(t); err != nil {
			return err
		}
		return tx.SaveTicket(&created)
	})
	if err != nil {
		return domain.KitchenTicket{}, err
	}
	r.log.Info("order_routed", map[string]any{
		"table_id": tableID, "ticket_id": created.ID, "lines": len(created.Lines),
	})
	return created, nil
}

// MarkTicketReady completes a pending ticket. In the same write the table
// moves occupied -> ready, but only if it is still held by the staff member
// who routed the ticket; a released or reassigned table is left untouched.
func (r *Router) MarkTicketReady(ctx context.Context, ticketID string) error {
	var tableMoved bool
	err := r.store.Update(ctx, func(tx store.Tx) error {
		k, err := tx.Ticket(ticketID)
		if err != nil {
			return err
		}
		if k.Status != domain.TicketPending {
			return fmt.Errorf("%w: ticket %s is %s", domain.ErrWrongStatus, k.ID, k.Status)
		}
		now := r.clock.Now().UTC()
		k.Status = domain.TicketReady
		k.ReadyAt = &now
		if err := tx.SaveTicket(k); err != nil {
			return err
		}
		t, err := tx.Table(k.TableID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if t.MarkKitchenReady(k.RoutedByID) {
			tableMoved = true
			return tx.SaveTable(t)
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.log.Info("ticket_ready", map[string]any{"ticket_id": ticketID, "table_moved": tableMoved})
	return nil
}

// PendingTickets returns the preparation queue, oldest first.
func (r *Router) PendingTickets(ctx context.Context) ([]domain.KitchenTicket, error) {
	tickets, err := r.store.ListTickets(ctx, domain.TicketPending)
	if err != nil {
		return nil, err
	}
	SortPending(tickets)
	return tickets, nil
}

// ReadyTickets returns completed tickets, most recently finished first.
func (r *Router) ReadyTickets(ctx context.Context) ([]domain.KitchenTicket, error) {
	tickets, err := r.store.ListTickets(ctx, domain.TicketReady)
	if err != nil {
		return nil, err
	}
	SortReady(tickets)
	return tickets, nil
}

// SortPending orders tickets by ascending creation time (FIFO preparation).
func SortPending(tickets []domain.KitchenTicket) {
	sort.SliceStable(tickets, func(i, j int) bool {
		return tickets[i].CreatedAt.Before(tickets[j].CreatedAt)
	})
}

// SortReady orders tickets by descending completion time.
func SortReady(tickets []domain.KitchenTicket) {
	sort.SliceStable(tickets, func(i, j int) bool {
		ti, tj := tickets[i].ReadyAt, tickets[j].ReadyAt
		switch {
		case ti == nil:
			return false
		case tj == nil:
			return true
		}
		return tj.Before(*ti)
	})
}
