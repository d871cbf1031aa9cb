package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/juju/clock"

	"comanda/internal/domain"
)

// Memory is an in-process Store. One mutex serializes writes, which gives
// the same guarantee the durable store gets from row locks: a precondition
// checked inside Update holds at commit. Used for tests and for running the
// service without a database.
type Memory struct {
	clock clock.Clock
	feed  *feed

	mu       sync.Mutex
	tables   map[string]domain.Table
	tickets  map[string]domain.KitchenTicket
	sales    []domain.Sale
	closures []domain.ForcedClosure
	shifts   map[string]domain.Shift
}

// NewMemory returns an empty in-memory store.
func NewMemory(clk clock.Clock) *Memory {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Memory{
		clock:   clk,
		feed:    newFeed(),
		tables:  make(map[string]domain.Table),
		tickets: make(map[string]domain.KitchenTicket),
		shifts:  make(map[string]domain.Shift),
	}
}

// memTx stages writes against clones; nothing touches committed state until
// the callback returns nil.
type memTx struct {
	s   *Memory
	now time.Time

	tables    map[string]*domain.Table
	tickets   map[string]*domain.KitchenTicket
	saved     map[string]bool
	sales     []domain.Sale
	closures  []domain.ForcedClosure
	putShifts []domain.Shift
	delShifts map[string]bool
}

func (tx *memTx) Table(id string) (*domain.Table, error) {
	if t, ok := tx.tables[id]; ok {
		return t, nil
	}
	t, ok := tx.s.tables[id]
	if !ok {
		return nil, fmt.Errorf("%w: table %s", domain.ErrNotFound, id)
	}
	cp := t.Clone()
	tx.tables[id] = &cp
	return &cp, nil
}

func (tx *memTx) SaveTable(t *domain.Table) error {
	tx.tables[t.ID] = t
	tx.saved[domain.CollectionTables+"/"+t.ID] = true
	return nil
}

func (tx *memTx) Ticket(id string) (*domain.KitchenTicket, error) {
	if k, ok := tx.tickets[id]; ok {
		return k, nil
	}
	k, ok := tx.s.tickets[id]
	if !ok {
		return nil, fmt.Errorf("%w: kitchen ticket %s", domain.ErrNotFound, id)
	}
	cp := k.Clone()
	tx.tickets[id] = &cp
	return &cp, nil
}

func (tx *memTx) SaveTicket(k *domain.KitchenTicket) error {
	tx.tickets[k.ID] = k
	tx.saved[domain.CollectionTickets+"/"+k.ID] = true
	return nil
}

func (tx *memTx) AppendSale(s domain.Sale) error {
	tx.sales = append(tx.sales, s)
	return nil
}

func (tx *memTx) AppendClosure(c domain.ForcedClosure) error {
	tx.closures = append(tx.closures, c)
	return nil
}

func (tx *memTx) ActiveShift(staffID string, at time.Time) (domain.Shift, bool, error) {
	for _, sh := range tx.putShifts {
		if sh.StaffID == staffID && sh.ActiveAt(at) {
			return sh, true, nil
		}
	}
	for id, sh := range tx.s.shifts {
		if tx.delShifts[id] {
			continue
		}
		if sh.StaffID == staffID && sh.ActiveAt(at) {
			return sh, true, nil
		}
	}
	return domain.Shift{}, false, nil
}

func (tx *memTx) PutShift(s domain.Shift) error {
	tx.putShifts = append(tx.putShifts, s)
	return nil
}

func (tx *memTx) DeleteShift(id string) error {
	tx.delShifts[id] = true
	return nil
}

// Update implements Store. The callback sees a consistent snapshot, and its
// staged writes commit together or not at all. Events go out after commit.
func (m *Memory) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	tx := &memTx{
		s:         m,
		now:       m.clock.Now().UTC(),
		tables:    make(map[string]*domain.Table),
		tickets:   make(map[string]*domain.KitchenTicket),
		saved:     make(map[string]bool),
		delShifts: make(map[string]bool),
	}
	if err := fn(tx); err != nil {
		m.mu.Unlock()
		return err
	}
	events := m.commit(tx)
	m.mu.Unlock()
	m.feed.publish(events)
	return nil
}

func (m *Memory) commit(tx *memTx) []domain.Event {
	var events []domain.Event
	event := func(col, id string, v any, deleted bool) {
		events = append(events, domain.Event{
			Collection: col, ID: id, Value: v, Deleted: deleted, OccurredAt: tx.now,
		})
	}
	for id, t := range tx.tables {
		if !tx.saved[domain.CollectionTables+"/"+id] {
			continue
		}
		t.UpdatedAt = tx.now
		m.tables[id] = t.Clone()
		event(domain.CollectionTables, id, t.Clone(), false)
	}
	for id, k := range tx.tickets {
		if !tx.saved[domain.CollectionTickets+"/"+id] {
			continue
		}
		m.tickets[id] = k.Clone()
		event(domain.CollectionTickets, id, k.Clone(), false)
	}
	for _, s := range tx.sales {
		m.sales = append(m.sales, s)
		event(domain.CollectionSales, s.ID, s, false)
	}
	for _, c := range tx.closures {
		m.closures = append(m.closures, c)
		event(domain.CollectionClosures, c.ID, c, false)
	}
	for _, sh := range tx.putShifts {
		m.shifts[sh.ID] = sh
		event(domain.CollectionShifts, sh.ID, sh, false)
	}
	for id := range tx.delShifts {
		delete(m.shifts, id)
		event(domain.CollectionShifts, id, nil, true)
	}
	return events
}

func (m *Memory) GetTable(ctx context.Context, id string) (domain.Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[id]
	if !ok {
		return domain.Table{}, fmt.Errorf("%w: table %s", domain.ErrNotFound, id)
	}
	return t.Clone(), nil
}

func (m *Memory) ListTables(ctx context.Context) ([]domain.Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Table, 0, len(m.tables))
	for _, t := range m.tables {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetTicket(ctx context.Context, id string) (domain.KitchenTicket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.tickets[id]
	if !ok {
		return domain.KitchenTicket{}, fmt.Errorf("%w: kitchen ticket %s", domain.ErrNotFound, id)
	}
	return k.Clone(), nil
}

func (m *Memory) ListTickets(ctx context.Context, status string) ([]domain.KitchenTicket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.KitchenTicket
	for _, k := range m.tickets {
		if status == "" || k.Status == status {
			out = append(out, k.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListSales(ctx context.Context, tableID string) ([]domain.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Sale
	for _, s := range m.sales {
		if tableID == "" || s.TableID == tableID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) ListClosures(ctx context.Context, tableID string) ([]domain.ForcedClosure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ForcedClosure
	for _, c := range m.closures {
		if tableID == "" || c.TableID == tableID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Memory) ListShifts(ctx context.Context) ([]domain.Shift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Shift, 0, len(m.shifts))
	for _, sh := range m.shifts {
		out = append(out, sh)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *Memory) EnsureTable(ctx context.Context, t domain.Table) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[t.ID]; ok {
		return nil
	}
	m.tables[t.ID] = t.Clone()
	return nil
}

func (m *Memory) Subscribe(collection string, fn func(domain.Event)) func() {
	return m.feed.subscribe(collection, fn)
}
