package domain

import (
	"fmt"
	"time"
)

// Table status lifecycle: free -> occupied -> ready -> billing -> free.
const (
	TableFree     = "free"
	TableOccupied = "occupied"
	TableReady    = "ready"
	TableBilling  = "billing"
)

// Order phases. Advances new -> edited -> routed within one occupation,
// reset to new on claim and on release.
const (
	PhaseNew    = "new"
	PhaseEdited = "edited"
	PhaseRouted = "routed"
)

// Kitchen ticket statuses. Ready is terminal.
const (
	TicketPending = "pending"
	TicketReady   = "ready"
)

// DefaultOwnerTag is the display color assigned when a staff record
// carries none.
const DefaultOwnerTag = "#808080"

// DefaultCustomerLabel is stamped on sales when the order never got a
// customer name.
const DefaultCustomerLabel = "Consumidor Final"

// PaymentMethod is the closed set of accepted settlement methods.
type PaymentMethod string

const (
	PayCash   PaymentMethod = "cash"
	PayCard   PaymentMethod = "card"
	PayWallet PaymentMethod = "wallet"
)

// Valid reports whether m is one of the accepted methods.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PayCash, PayCard, PayWallet:
		return true
	}
	return false
}

// Staff identifies an acting staff member. Credential management lives
// elsewhere; commands take the identity at face value.
type Staff struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Tag  string `json:"tag,omitempty"`
	Role Role   `json:"role"`
}

// OrderLine is one product entry in an order. LineID is stable per
// addition: adding the same product twice yields two lines.
type OrderLine struct {
	LineID    string  `json:"line_id"`
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	UnitPrice float64 `json:"unit_price"`
	Quantity  int     `json:"quantity"`
	Note      string  `json:"note,omitempty"`
}

// Subtotal is price times quantity for this line.
func (l OrderLine) Subtotal() float64 { return l.UnitPrice * float64(l.Quantity) }

// Order is the editable cart embedded in an occupied table.
type Order struct {
	Items         []OrderLine `json:"items"`
	PaidLines     []string    `json:"paid_lines"`
	CustomerLabel string      `json:"customer_label,omitempty"`
	Phase         string      `json:"phase"`
}

// NewOrder returns an empty order in phase new.
func NewOrder() Order {
	return Order{Items: []OrderLine{}, PaidLines: []string{}, Phase: PhaseNew}
}

// Line returns the line with the given id, if present.
func (o Order) Line(lineID string) (OrderLine, bool) {
	for _, l := range o.Items {
		if l.LineID == lineID {
			return l, true
		}
	}
	return OrderLine{}, false
}

// IsPaid reports whether the line id is already settled.
func (o Order) IsPaid(lineID string) bool {
	for _, id := range o.PaidLines {
		if id == lineID {
			return true
		}
	}
	return false
}

// UnpaidLineIDs returns the ids of all lines not yet settled, in item order.
func (o Order) UnpaidLineIDs() []string {
	var ids []string
	for _, l := range o.Items {
		if !o.IsPaid(l.LineID) {
			ids = append(ids, l.LineID)
		}
	}
	return ids
}

// FullyPaid reports whether every line is settled. An order with no lines
// counts as fully paid.
func (o Order) FullyPaid() bool { return len(o.UnpaidLineIDs()) == 0 }

// Total sums price times quantity over all lines.
func (o Order) Total() float64 {
	var sum float64
	for _, l := range o.Items {
		sum += l.Subtotal()
	}
	return sum
}

// OutstandingTotal sums the unpaid lines only.
func (o Order) OutstandingTotal() float64 {
	var sum float64
	for _, l := range o.Items {
		if !o.IsPaid(l.LineID) {
			sum += l.Subtotal()
		}
	}
	return sum
}

// Clone returns a deep copy; orders travel through the store by value.
func (o Order) Clone() Order {
	cp := o
	cp.Items = append([]OrderLine(nil), o.Items...)
	cp.PaidLines = append([]string(nil), o.PaidLines...)
	return cp
}

// Table is a physical service unit. OwnerID is empty exactly when the
// table is free.
type Table struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	OwnerID   string    `json:"owner_id,omitempty"`
	OwnerName string    `json:"owner_name,omitempty"`
	OwnerTag  string    `json:"owner_tag,omitempty"`
	Order     Order     `json:"order"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTable returns a free table with an empty order.
func NewTable(id, name string) Table {
	return Table{ID: id, Name: name, Status: TableFree, Order: NewOrder()}
}

// Clone returns a deep copy of the table.
func (t Table) Clone() Table {
	cp := t
	cp.Order = t.Order.Clone()
	return cp
}

// OwnedBy reports whether actorID currently holds edit rights.
func (t Table) OwnedBy(actorID string) bool {
	return t.OwnerID != "" && t.OwnerID == actorID
}

// Claim moves a free table to occupied under the given actor and resets
// the order. Fails with ErrAlreadyClaimed when the table is no longer free;
// the store's conditional write makes that check hold at commit time.
func (t *Table) Claim(actor Staff) error {
	if t.Status != TableFree {
		return fmt.Errorf("%w: table %s is %s (owner %s)", ErrAlreadyClaimed, t.ID, t.Status, t.OwnerName)
	}
	tag := actor.Tag
	if tag == "" {
		tag = DefaultOwnerTag
	}
	t.Status = TableOccupied
	t.OwnerID = actor.ID
	t.OwnerName = actor.Name
	t.OwnerTag = tag
	t.Order = NewOrder()
	return nil
}

// ApplyMutation edits the order on behalf of actorID. Only the owner may
// edit, and only while the table is occupied or ready.
func (t *Table) ApplyMutation(actorID string, m OrderMutation) error {
	if t.Status != TableOccupied && t.Status != TableReady {
		return fmt.Errorf("%w: cannot edit order while table %s is %s", ErrWrongStatus, t.ID, t.Status)
	}
	if !t.OwnedBy(actorID) {
		return fmt.Errorf("%w: table %s belongs to %s", ErrNotOwner, t.ID, t.OwnerName)
	}
	if err := m.apply(&t.Order); err != nil {
		return err
	}
	t.Order.Phase = PhaseEdited
	return nil
}

// MarkRouted advances the order phase after a kitchen ticket has been cut.
func (t *Table) MarkRouted() { t.Order.Phase = PhaseRouted }

// MarkKitchenReady moves an occupied table to ready when a kitchen ticket
// completes. The transition only happens while the table is still occupied
// by the staff member who routed the ticket; a reassigned or released table
// is left alone.
func (t *Table) MarkKitchenReady(routedByID string) bool {
	if t.Status != TableOccupied || !t.OwnedBy(routedByID) {
		return false
	}
	t.Status = TableReady
	return true
}

// BeginBilling moves a ready table to billing at the owner's request.
// The order is kept; settlement needs it.
func (t *Table) BeginBilling(actorID string) error {
	if t.Status != TableReady {
		return fmt.Errorf("%w: table %s is %s, want %s", ErrWrongStatus, t.ID, t.Status, TableReady)
	}
	if !t.OwnedBy(actorID) {
		return fmt.Errorf("%w: table %s belongs to %s", ErrNotOwner, t.ID, t.OwnerName)
	}
	t.Status = TableBilling
	return nil
}

// ForceBilling moves an occupied or ready table straight to billing without
// owner consent. Callers must append a ForcedClosure in the same write.
func (t *Table) ForceBilling() error {
	if t.Status != TableOccupied && t.Status != TableReady {
		return fmt.Errorf("%w: cannot force table %s from %s to billing", ErrWrongStatus, t.ID, t.Status)
	}
	t.Status = TableBilling
	return nil
}

// Release frees the table and clears ownership and order.
func (t *Table) Release() {
	t.Status = TableFree
	t.OwnerID = ""
	t.OwnerName = ""
	t.OwnerTag = ""
	t.Order = NewOrder()
}

// CheckInvariants verifies the ownership/status coupling and the paid-lines
// subset rule. Used by tests and the store's self-checks.
func (t Table) CheckInvariants() error {
	if (t.OwnerID != "") != (t.Status != TableFree) {
		return fmt.Errorf("table %s: owner %q inconsistent with status %s", t.ID, t.OwnerID, t.Status)
	}
	for _, id := range t.Order.PaidLines {
		if _, ok := t.Order.Line(id); !ok {
			return fmt.Errorf("table %s: paid line %s not present in order", t.ID, id)
		}
	}
	return nil
}

// KitchenTicket is an immutable-once-routed snapshot of order lines sent
// for preparation. RoutedByID/OwnerName identify the staff member who held
// the table when the ticket was cut.
type KitchenTicket struct {
	ID         string      `json:"id"`
	TableID    string      `json:"table_id"`
	TableName  string      `json:"table_name"`
	RoutedByID string      `json:"routed_by_id"`
	OwnerName  string      `json:"owner_name"`
	Lines      []OrderLine `json:"lines"`
	Status     string      `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
	ReadyAt    *time.Time  `json:"ready_at,omitempty"`
}

// Clone returns a deep copy of the ticket.
func (k KitchenTicket) Clone() KitchenTicket {
	cp := k
	cp.Lines = append([]OrderLine(nil), k.Lines...)
	if k.ReadyAt != nil {
		at := *k.ReadyAt
		cp.ReadyAt = &at
	}
	return cp
}

// Sale is an append-only ledger entry for one full or partial payment.
type Sale struct {
	ID            string        `json:"id"`
	CashierID     string        `json:"cashier_id"`
	CashierName   string        `json:"cashier_name"`
	OwnerID       string        `json:"owner_id,omitempty"`
	OwnerName     string        `json:"owner_name,omitempty"`
	TableID       string        `json:"table_id"`
	TableName     string        `json:"table_name"`
	CustomerLabel string        `json:"customer_label"`
	Lines         []OrderLine   `json:"lines"`
	Total         float64       `json:"total"`
	Method        PaymentMethod `json:"method"`
	CreatedAt     time.Time     `json:"created_at"`
}

// ForcedClosure is an append-only audit record of a cashier override that
// moved a table to billing without its owner's action.
type ForcedClosure struct {
	ID          string    `json:"id"`
	TableID     string    `json:"table_id"`
	TableName   string    `json:"table_name"`
	OwnerID     string    `json:"owner_id,omitempty"`
	OwnerName   string    `json:"owner_name,omitempty"`
	CashierID   string    `json:"cashier_id"`
	CashierName string    `json:"cashier_name"`
	Timestamp   time.Time `json:"timestamp"`
}

// Shift is the time window during which a staff member may claim tables.
// Deleted to end early, created to start.
type Shift struct {
	ID        string    `json:"id"`
	StaffID   string    `json:"staff_id"`
	StaffName string    `json:"staff_name"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// ActiveAt reports whether the shift window covers the given instant.
func (s Shift) ActiveAt(at time.Time) bool {
	return !at.Before(s.StartTime) && at.Before(s.EndTime)
}
