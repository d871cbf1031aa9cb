// Package store is the Entity Store consumed by the coordination core:
// durable keyed records with conditional, all-or-nothing writes and a
// push-based change feed.
package store

import (
	"context"
	"time"

	"comanda/internal/domain"
)

// Tx is the view of the store inside one atomic write. Every entity loaded
// through it is locked until commit, so a precondition checked in the
// callback still holds at commit time. Either every save in the callback is
// applied or none is.
type Tx interface {
	// Table loads a table for update. Returns domain.ErrNotFound when absent.
	Table(id string) (*domain.Table, error)
	SaveTable(t *domain.Table) error

	// Ticket loads a kitchen ticket for update.
	Ticket(id string) (*domain.KitchenTicket, error)
	SaveTicket(k *domain.KitchenTicket) error

	// AppendSale and AppendClosure write append-only ledger records.
	AppendSale(s domain.Sale) error
	AppendClosure(c domain.ForcedClosure) error

	// ActiveShift finds the shift covering the given instant for a staff
	// member. ok is false when there is none.
	ActiveShift(staffID string, at time.Time) (domain.Shift, bool, error)
	PutShift(s domain.Shift) error
	DeleteShift(id string) error
}

// Store is the entity store contract. Update runs fn as one atomic
// multi-entity write; a returned error aborts the whole write. Reads outside
// Update see the latest committed state. Infrastructure failures are
// reported wrapping domain.ErrStoreUnavailable.
type Store interface {
	Update(ctx context.Context, fn func(tx Tx) error) error

	GetTable(ctx context.Context, id string) (domain.Table, error)
	ListTables(ctx context.Context) ([]domain.Table, error)
	GetTicket(ctx context.Context, id string) (domain.KitchenTicket, error)
	ListTickets(ctx context.Context, status string) ([]domain.KitchenTicket, error)
	ListSales(ctx context.Context, tableID string) ([]domain.Sale, error)
	ListClosures(ctx context.Context, tableID string) ([]domain.ForcedClosure, error)
	ListShifts(ctx context.Context) ([]domain.Shift, error)

	// EnsureTable provisions a table if it does not exist yet. Existing
	// tables are left untouched; a table is never deleted while occupied.
	EnsureTable(ctx context.Context, t domain.Table) error

	// Subscribe registers fn for every committed write to the collection.
	// fn receives the current value of the written entity. The returned
	// cancel func must be called when the subscriber goes away.
	Subscribe(collection string, fn func(domain.Event)) (cancel func())
}
