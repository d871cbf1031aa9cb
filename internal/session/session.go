// Package session is the thin read model composing the coordination core
// for each role's view, with change subscriptions scoped to the session.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"comanda/internal/domain"
	"comanda/internal/kitchen"
	"comanda/internal/store"
)

// Session belongs to one connected actor. Every subscription opened through
// it is torn down by Close; a session must not outlive its connection.
type Session struct {
	ID    string
	Staff domain.Staff

	store store.Store
	clock clock.Clock

	mu      sync.Mutex
	cancels []func()
	closed  bool
}

func New(staff domain.Staff, st store.Store, clk clock.Clock) *Session {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Session{ID: uuid.NewString(), Staff: staff, store: st, clock: clk}
}

// Watch subscribes fn to a collection for the lifetime of the session.
func (s *Session) Watch(collection string, fn func(domain.Event)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("session %s closed", s.ID)
	}
	cancel := s.store.Subscribe(collection, fn)
	s.cancels = append(s.cancels, cancel)
	return nil
}

// Close tears down every subscription. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	cancels := s.cancels
	s.cancels = nil
	s.closed = true
	s.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// WaiterView is the floor staff read model: the whole floor map, the
// actor's own tables, and the remaining shift window.
type WaiterView struct {
	Tables         []domain.Table `json:"tables"`
	OwnTables      []domain.Table `json:"own_tables"`
	ShiftRemaining time.Duration  `json:"shift_remaining"`
	OnShift        bool           `json:"on_shift"`
}

// ChefView is the kitchen read model: pending tickets oldest first, ready
// tickets most recent first.
type ChefView struct {
	Pending []domain.KitchenTicket `json:"pending"`
	Ready   []domain.KitchenTicket `json:"ready"`
}

// CashierView lists every non-free table with its outstanding balance.
type CashierView struct {
	Tables []BillableTable `json:"tables"`
}

type BillableTable struct {
	Table       domain.Table `json:"table"`
	Total       float64      `json:"total"`
	Outstanding float64      `json:"outstanding"`
}

// Waiter builds the waiter view for the session's actor.
func (s *Session) Waiter(ctx context.Context) (WaiterView, error) {
	if err := s.require(domain.CapClaimTables); err != nil {
		return WaiterView{}, err
	}
	tables, err := s.store.ListTables(ctx)
	if err != nil {
		return WaiterView{}, err
	}
	view := WaiterView{Tables: tables}
	for _, t := range tables {
		if t.OwnedBy(s.Staff.ID) {
			view.OwnTables = append(view.OwnTables, t)
		}
	}
	now := s.clock.Now().UTC()
	shifts, err := s.store.ListShifts(ctx)
	if err != nil {
		return WaiterView{}, err
	}
	for _, sh := range shifts {
		if sh.StaffID == s.Staff.ID && sh.ActiveAt(now) {
			view.OnShift = true
			view.ShiftRemaining = sh.EndTime.Sub(now)
			break
		}
	}
	return view, nil
}

// Chef builds the kitchen queues view.
func (s *Session) Chef(ctx context.Context) (ChefView, error) {
	if err := s.require(domain.CapCompleteTickets); err != nil {
		return ChefView{}, err
	}
	pending, err := s.store.ListTickets(ctx, domain.TicketPending)
	if err != nil {
		return ChefView{}, err
	}
	ready, err := s.store.ListTickets(ctx, domain.TicketReady)
	if err != nil {
		return ChefView{}, err
	}
	kitchen.SortPending(pending)
	kitchen.SortReady(ready)
	return ChefView{Pending: pending, Ready: ready}, nil
}

// Cashier builds the settlement view: occupied, ready and billing tables
// with order totals and what is still outstanding.
func (s *Session) Cashier(ctx context.Context) (CashierView, error) {
	if err := s.require(domain.CapSettlePayments); err != nil {
		return CashierView{}, err
	}
	tables, err := s.store.ListTables(ctx)
	if err != nil {
		return CashierView{}, err
	}
	var view CashierView
	for _, t := range tables {
		if t.Status == domain.TableFree {
			continue
		}
		view.Tables = append(view.Tables, BillableTable{
			Table:       t,
			Total:       t.Order.Total(),
			Outstanding: t.Order.OutstandingTotal(),
		})
	}
	return view, nil
}

func (s *Session) require(c domain.Capability) error {
	if !s.Staff.Role.Can(c) {
		return fmt.Errorf("%w: role %s lacks capability", domain.ErrNotOwner, s.Staff.Role)
	}
	return nil
}
