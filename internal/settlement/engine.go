// Package settlement applies partial and full payments, writes the sales
// ledger and releases tables, plus the audited forced-closure override.
package settlement

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"comanda/internal/common/logger"
	"comanda/internal/coordinator"
	"comanda/internal/domain"
	"comanda/internal/store"
)

type Engine struct {
	store  store.Store
	tables *coordinator.Coordinator
	clock  clock.Clock
	log    *logger.Logger
	newID  func() string
}

func New(st store.Store, tables *coordinator.Coordinator, clk clock.Clock, log *logger.Logger) *Engine {
	if clk == nil {
		clk = clock.WallClock
	}
	if log == nil {
		log = logger.New("settlement")
	}
	return &Engine{store: st, tables: tables, clock: clk, log: log, newID: uuid.NewString}
}

// ApplyPayment settles the selected lines on a billing table. The sale
// record, the paid-lines update and, once everything is settled, the
// table release commit as one write. A line can be paid at most once:
// ids already in paidLines fail the whole request with ErrAlreadyPaid and
// nothing is billed.
func (e *Engine) ApplyPayment(ctx context.Context, tableID string, lineIDs []string, method domain.PaymentMethod, cashier domain.Staff) (domain.Sale, error) {
	if !method.Valid() {
		return domain.Sale{}, fmt.Errorf("unknown payment method %q", method)
	}
	if len(lineIDs) == 0 {
		return domain.Sale{}, fmt.Errorf("%w: no lines selected", domain.ErrEmptyOrder)
	}
	var sale domain.Sale
	err := e.store.Update(ctx, func(tx store.Tx) error {
		t, err := tx.Table(tableID)
		if err != nil {
			return err
		}
		s, err := e.settle(tx, t, lineIDs, method, cashier)
		if err != nil {
			return err
		}
		sale = s
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}
	e.log.Info("payment_applied", map[string]any{
		"table_id": tableID, "sale_id": sale.ID, "total": sale.Total, "lines": len(sale.Lines),
	})
	return sale, nil
}

// PayAll settles every unpaid line in one sale and always ends with the
// table released. A billing table whose order has no lines (possible after
// a forced closure of a table that never ordered) is released without
// creating a sale, so no table is ever stranded in billing.
func (e *Engine) PayAll(ctx context.Context, tableID string, method domain.PaymentMethod, cashier domain.Staff) (domain.Sale, error) {
	if !method.Valid() {
		return domain.Sale{}, fmt.Errorf("unknown payment method %q", method)
	}
	var sale domain.Sale
	err := e.store.Update(ctx, func(tx store.Tx) error {
		t, err := tx.Table(tableID)
		if err != nil {
			return err
		}
		if t.Status != domain.TableBilling {
			return fmt.Errorf("%w: table %s is %s, want %s", domain.ErrWrongStatus, t.ID, t.Status, domain.TableBilling)
		}
		if len(t.Order.Items) == 0 {
			return e.tables.ReleaseLocked(tx, t)
		}
		unpaid := t.Order.UnpaidLineIDs()
		if len(unpaid) == 0 {
			return fmt.Errorf("%w: table %s has no outstanding lines", domain.ErrAlreadyPaid, t.ID)
		}
		s, err := e.settle(tx, t, unpaid, method, cashier)
		if err != nil {
			return err
		}
		sale = s
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}
	e.log.Info("table_settled", map[string]any{
		"table_id": tableID, "sale_id": sale.ID, "total": sale.Total,
	})
	return sale, nil
}

// settle validates the selection against the locked table, appends the sale
// and either records the partial payment or releases the table.
func (e *Engine) settle(tx store.Tx, t *domain.Table, lineIDs []string, method domain.PaymentMethod, cashier domain.Staff) (domain.Sale, error) {
	if t.Status != domain.TableBilling {
		return domain.Sale{}, fmt.Errorf("%w: table %s is %s, want %s", domain.ErrWrongStatus, t.ID, t.Status, domain.TableBilling)
	}
	var lines []domain.OrderLine
	var total float64
	seen := make(map[string]bool, len(lineIDs))
	for _, id := range lineIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		line, ok := t.Order.Line(id)
		if !ok {
			return domain.Sale{}, fmt.Errorf("%w: line %s not in order of table %s", domain.ErrNotFound, id, t.ID)
		}
		if t.Order.IsPaid(id) {
			return domain.Sale{}, fmt.Errorf("%w: line %s on table %s", domain.ErrAlreadyPaid, id, t.ID)
		}
		lines = append(lines, line)
		total += line.Subtotal()
	}
	label := t.Order.CustomerLabel
	if label == "" {
		label = domain.DefaultCustomerLabel
	}
	sale := domain.Sale{
		ID:            e.newID(),
		CashierID:     cashier.ID,
		CashierName:   cashier.Name,
		OwnerID:       t.OwnerID,
		OwnerName:     t.OwnerName,
		TableID:       t.ID,
		TableName:     t.Name,
		CustomerLabel: label,
		Lines:         lines,
		Total:         total,
		Method:        method,
		CreatedAt:     e.clock.Now().UTC(),
	}
	if err := tx.AppendSale(sale); err != nil {
		return domain.Sale{}, err
	}
	for _, l := range lines {
		t.Order.PaidLines = append(t.Order.PaidLines, l.LineID)
	}
	if t.Order.FullyPaid() {
		if err := e.tables.ReleaseLocked(tx, t); err != nil {
			return domain.Sale{}, err
		}
		return sale, nil
	}
	return sale, tx.SaveTable(t)
}

// ForceToBilling moves an occupied or ready table to billing without owner
// consent and appends one audit record. The order is untouched, so a
// subsequent settlement proceeds normally.
func (e *Engine) ForceToBilling(ctx context.Context, tableID string, cashier domain.Staff) (domain.ForcedClosure, error) {
	var closure domain.ForcedClosure
	err := e.store.Update(ctx, func(tx store.Tx) error {
		t, err := tx.Table(tableID)
		if err != nil {
			return err
		}
		closure = domain.ForcedClosure{
			ID:          e.newID(),
			TableID:     t.ID,
			TableName:   t.Name,
			OwnerID:     t.OwnerID,
			OwnerName:   t.OwnerName,
			CashierID:   cashier.ID,
			CashierName: cashier.Name,
			Timestamp:   e.clock.Now().UTC(),
		}
		if err := t.ForceBilling(); err != nil {
			return err
		}
		if err := tx.SaveTable(t); err != nil {
			return err
		}
		return tx.AppendClosure(closure)
	})
	if err != nil {
		return domain.ForcedClosure{}, err
	}
	e.log.Warn("forced_closure", map[string]any{
		"table_id": tableID, "cashier_id": cashier.ID, "closure_id": closure.ID,
	})
	return closure, nil
}
