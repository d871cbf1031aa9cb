package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/juju/clock"

	"comanda/internal/domain"
)

// EventBridge forwards committed events beyond the process, e.g. to the
// broker fanout. Delivery failures are reported but do not undo the commit.
type EventBridge interface {
	PublishEvent(ev domain.Event) error
}

// Postgres is the durable Store. Every Update runs in one database
// transaction; entities are loaded with row locks so preconditions hold at
// commit, and all saves in the callback land atomically.
type Postgres struct {
	pool   *pgxpool.Pool
	clock  clock.Clock
	feed   *feed
	bridge EventBridge
	onDrop func(ev domain.Event, err error)
}

// NewPostgres wraps a connection pool. bridge may be nil.
func NewPostgres(pool *pgxpool.Pool, clk clock.Clock, bridge EventBridge) *Postgres {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Postgres{pool: pool, clock: clk, feed: newFeed(), bridge: bridge}
}

// OnBridgeError installs a callback for events the bridge failed to deliver.
func (p *Postgres) OnBridgeError(fn func(ev domain.Event, err error)) { p.onDrop = fn }

const schema = `
CREATE TABLE IF NOT EXISTS tables (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	status        TEXT NOT NULL,
	owner_id      TEXT NOT NULL DEFAULT '',
	owner_name    TEXT NOT NULL DEFAULT '',
	owner_tag     TEXT NOT NULL DEFAULT '',
	current_order JSONB NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS kitchen_tickets (
	id           TEXT PRIMARY KEY,
	table_id     TEXT NOT NULL,
	table_name   TEXT NOT NULL,
	routed_by_id TEXT NOT NULL,
	owner_name   TEXT NOT NULL,
	lines        JSONB NOT NULL,
	status       TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	ready_at     TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS sales (
	id             TEXT PRIMARY KEY,
	cashier_id     TEXT NOT NULL,
	cashier_name   TEXT NOT NULL,
	owner_id       TEXT NOT NULL DEFAULT '',
	owner_name     TEXT NOT NULL DEFAULT '',
	table_id       TEXT NOT NULL,
	table_name     TEXT NOT NULL,
	customer_label TEXT NOT NULL,
	lines          JSONB NOT NULL,
	total          DOUBLE PRECISION NOT NULL,
	method         TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS forced_closures (
	id           TEXT PRIMARY KEY,
	table_id     TEXT NOT NULL,
	table_name   TEXT NOT NULL,
	owner_id     TEXT NOT NULL DEFAULT '',
	owner_name   TEXT NOT NULL DEFAULT '',
	cashier_id   TEXT NOT NULL,
	cashier_name TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS shifts (
	id         TEXT PRIMARY KEY,
	staff_id   TEXT NOT NULL,
	staff_name TEXT NOT NULL,
	start_time TIMESTAMPTZ NOT NULL,
	end_time   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tickets_status ON kitchen_tickets (status, created_at);
CREATE INDEX IF NOT EXISTS idx_sales_table ON sales (table_id);
CREATE INDEX IF NOT EXISTS idx_shifts_staff ON shifts (staff_id, end_time);
`

// Migrate creates the persisted layout.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return unavailable("migrate", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, domain.ErrStoreUnavailable, err)
}

type pgTx struct {
	tx     pgx.Tx
	ctx    context.Context
	now    time.Time
	events []domain.Event
}

func (t *pgTx) event(col, id string, v any, deleted bool) {
	t.events = append(t.events, domain.Event{
		Collection: col, ID: id, Value: v, Deleted: deleted, OccurredAt: t.now,
	})
}

func scanTable(row pgx.Row) (domain.Table, error) {
	var tb domain.Table
	var orderJSON []byte
	err := row.Scan(&tb.ID, &tb.Name, &tb.Status, &tb.OwnerID, &tb.OwnerName,
		&tb.OwnerTag, &orderJSON, &tb.UpdatedAt)
	if err != nil {
		return domain.Table{}, err
	}
	if err := json.Unmarshal(orderJSON, &tb.Order); err != nil {
		return domain.Table{}, err
	}
	return tb, nil
}

const tableCols = `id, name, status, owner_id, owner_name, owner_tag, current_order, updated_at`

func (t *pgTx) Table(id string) (*domain.Table, error) {
	row := t.tx.QueryRow(t.ctx,
		`SELECT `+tableCols+` FROM tables WHERE id=$1 FOR UPDATE`, id)
	tb, err := scanTable(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: table %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, unavailable("load table", err)
	}
	return &tb, nil
}

func (t *pgTx) SaveTable(tb *domain.Table) error {
	orderJSON, err := json.Marshal(tb.Order)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}
	tb.UpdatedAt = t.now
	_, err = t.tx.Exec(t.ctx, `
		INSERT INTO tables (id, name, status, owner_id, owner_name, owner_tag, current_order, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			name=EXCLUDED.name, status=EXCLUDED.status,
			owner_id=EXCLUDED.owner_id, owner_name=EXCLUDED.owner_name,
			owner_tag=EXCLUDED.owner_tag, current_order=EXCLUDED.current_order,
			updated_at=EXCLUDED.updated_at
	`, tb.ID, tb.Name, tb.Status, tb.OwnerID, tb.OwnerName, tb.OwnerTag, orderJSON, tb.UpdatedAt)
	if err != nil {
		return unavailable("save table", err)
	}
	t.event(domain.CollectionTables, tb.ID, tb.Clone(), false)
	return nil
}

func scanTicket(row pgx.Row) (domain.KitchenTicket, error) {
	var k domain.KitchenTicket
	var linesJSON []byte
	err := row.Scan(&k.ID, &k.TableID, &k.TableName, &k.RoutedByID, &k.OwnerName,
		&linesJSON, &k.Status, &k.CreatedAt, &k.ReadyAt)
	if err != nil {
		return domain.KitchenTicket{}, err
	}
	if err := json.Unmarshal(linesJSON, &k.Lines); err != nil {
		return domain.KitchenTicket{}, err
	}
	return k, nil
}

const ticketCols = `id, table_id, table_name, routed_by_id, owner_name, lines, status, created_at, ready_at`

func (t *pgTx) Ticket(id string) (*domain.KitchenTicket, error) {
	row := t.tx.QueryRow(t.ctx,
		`SELECT `+ticketCols+` FROM kitchen_tickets WHERE id=$1 FOR UPDATE`, id)
	k, err := scanTicket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: kitchen ticket %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, unavailable("load ticket", err)
	}
	return &k, nil
}

func (t *pgTx) SaveTicket(k *domain.KitchenTicket) error {
	linesJSON, err := json.Marshal(k.Lines)
	if err != nil {
		return fmt.Errorf("encode ticket lines: %w", err)
	}
	_, err = t.tx.Exec(t.ctx, `
		INSERT INTO kitchen_tickets (id, table_id, table_name, routed_by_id, owner_name, lines, status, created_at, ready_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET status=EXCLUDED.status, ready_at=EXCLUDED.ready_at
	`, k.ID, k.TableID, k.TableName, k.RoutedByID, k.OwnerName, linesJSON, k.Status, k.CreatedAt, k.ReadyAt)
	if err != nil {
		return unavailable("save ticket", err)
	}
	t.event(domain.CollectionTickets, k.ID, k.Clone(), false)
	return nil
}

func (t *pgTx) AppendSale(s domain.Sale) error {
	linesJSON, err := json.Marshal(s.Lines)
	if err != nil {
		return fmt.Errorf("encode sale lines: %w", err)
	}
	_, err = t.tx.Exec(t.ctx, `
		INSERT INTO sales (id, cashier_id, cashier_name, owner_id, owner_name, table_id, table_name, customer_label, lines, total, method, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, s.ID, s.CashierID, s.CashierName, s.OwnerID, s.OwnerName, s.TableID,
		s.TableName, s.CustomerLabel, linesJSON, s.Total, string(s.Method), s.CreatedAt)
	if err != nil {
		return unavailable("append sale", err)
	}
	t.event(domain.CollectionSales, s.ID, s, false)
	return nil
}

func (t *pgTx) AppendClosure(c domain.ForcedClosure) error {
	_, err := t.tx.Exec(t.ctx, `
		INSERT INTO forced_closures (id, table_id, table_name, owner_id, owner_name, cashier_id, cashier_name, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, c.ID, c.TableID, c.TableName, c.OwnerID, c.OwnerName, c.CashierID, c.CashierName, c.Timestamp)
	if err != nil {
		return unavailable("append closure", err)
	}
	t.event(domain.CollectionClosures, c.ID, c, false)
	return nil
}

func (t *pgTx) ActiveShift(staffID string, at time.Time) (domain.Shift, bool, error) {
	var sh domain.Shift
	err := t.tx.QueryRow(t.ctx, `
		SELECT id, staff_id, staff_name, start_time, end_time FROM shifts
		WHERE staff_id=$1 AND start_time<=$2 AND end_time>$2
		ORDER BY end_time DESC LIMIT 1
	`, staffID, at).Scan(&sh.ID, &sh.StaffID, &sh.StaffName, &sh.StartTime, &sh.EndTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Shift{}, false, nil
	}
	if err != nil {
		return domain.Shift{}, false, unavailable("load shift", err)
	}
	return sh, true, nil
}

func (t *pgTx) PutShift(s domain.Shift) error {
	_, err := t.tx.Exec(t.ctx, `
		INSERT INTO shifts (id, staff_id, staff_name, start_time, end_time)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE SET start_time=EXCLUDED.start_time, end_time=EXCLUDED.end_time
	`, s.ID, s.StaffID, s.StaffName, s.StartTime, s.EndTime)
	if err != nil {
		return unavailable("put shift", err)
	}
	t.event(domain.CollectionShifts, s.ID, s, false)
	return nil
}

func (t *pgTx) DeleteShift(id string) error {
	if _, err := t.tx.Exec(t.ctx, `DELETE FROM shifts WHERE id=$1`, id); err != nil {
		return unavailable("delete shift", err)
	}
	t.event(domain.CollectionShifts, id, nil, true)
	return nil
}

// Update implements Store.
func (p *Postgres) Update(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return unavailable("begin", err)
	}
	ptx := &pgTx{tx: tx, ctx: ctx, now: p.clock.Now().UTC()}
	if err := fn(ptx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return unavailable("commit", err)
	}
	p.publish(ptx.events)
	return nil
}

func (p *Postgres) publish(events []domain.Event) {
	p.feed.publish(events)
	if p.bridge == nil {
		return
	}
	for _, ev := range events {
		if err := p.bridge.PublishEvent(ev); err != nil && p.onDrop != nil {
			p.onDrop(ev, err)
		}
	}
}

func (p *Postgres) GetTable(ctx context.Context, id string) (domain.Table, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+tableCols+` FROM tables WHERE id=$1`, id)
	tb, err := scanTable(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Table{}, fmt.Errorf("%w: table %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Table{}, unavailable("get table", err)
	}
	return tb, nil
}

func (p *Postgres) ListTables(ctx context.Context) ([]domain.Table, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+tableCols+` FROM tables ORDER BY id`)
	if err != nil {
		return nil, unavailable("list tables", err)
	}
	defer rows.Close()
	var out []domain.Table
	for rows.Next() {
		tb, err := scanTable(rows)
		if err != nil {
			return nil, unavailable("list tables", err)
		}
		out = append(out, tb)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list tables", err)
	}
	return out, nil
}

func (p *Postgres) GetTicket(ctx context.Context, id string) (domain.KitchenTicket, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+ticketCols+` FROM kitchen_tickets WHERE id=$1`, id)
	k, err := scanTicket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.KitchenTicket{}, fmt.Errorf("%w: kitchen ticket %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.KitchenTicket{}, unavailable("get ticket", err)
	}
	return k, nil
}

func (p *Postgres) ListTickets(ctx context.Context, status string) ([]domain.KitchenTicket, error) {
	q := `SELECT ` + ticketCols + ` FROM kitchen_tickets ORDER BY created_at`
	args := []any{}
	if status != "" {
		q = `SELECT ` + ticketCols + ` FROM kitchen_tickets WHERE status=$1 ORDER BY created_at`
		args = append(args, status)
	}
	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, unavailable("list tickets", err)
	}
	defer rows.Close()
	var out []domain.KitchenTicket
	for rows.Next() {
		k, err := scanTicket(rows)
		if err != nil {
			return nil, unavailable("list tickets", err)
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list tickets", err)
	}
	return out, nil
}

func (p *Postgres) ListSales(ctx context.Context, tableID string) ([]domain.Sale, error) {
	q := `SELECT id, cashier_id, cashier_name, owner_id, owner_name, table_id, table_name, customer_label, lines, total, method, created_at FROM sales`
	args := []any{}
	if tableID != "" {
		q += ` WHERE table_id=$1`
		args = append(args, tableID)
	}
	q += ` ORDER BY created_at`
	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, unavailable("list sales", err)
	}
	defer rows.Close()
	var out []domain.Sale
	for rows.Next() {
		var s domain.Sale
		var linesJSON []byte
		var method string
		if err := rows.Scan(&s.ID, &s.CashierID, &s.CashierName, &s.OwnerID, &s.OwnerName,
			&s.TableID, &s.TableName, &s.CustomerLabel, &linesJSON, &s.Total, &method, &s.CreatedAt); err != nil {
			return nil, unavailable("list sales", err)
		}
		if err := json.Unmarshal(linesJSON, &s.Lines); err != nil {
			return nil, unavailable("list sales", err)
		}
		s.Method = domain.PaymentMethod(method)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list sales", err)
	}
	return out, nil
}

func (p *Postgres) ListClosures(ctx context.Context, tableID string) ([]domain.ForcedClosure, error) {
	q := `SELECT id, table_id, table_name, owner_id, owner_name, cashier_id, cashier_name, created_at FROM forced_closures`
	args := []any{}
	if tableID != "" {
		q += ` WHERE table_id=$1`
		args = append(args, tableID)
	}
	q += ` ORDER BY created_at`
	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, unavailable("list closures", err)
	}
	defer rows.Close()
	var out []domain.ForcedClosure
	for rows.Next() {
		var c domain.ForcedClosure
		if err := rows.Scan(&c.ID, &c.TableID, &c.TableName, &c.OwnerID, &c.OwnerName,
			&c.CashierID, &c.CashierName, &c.Timestamp); err != nil {
			return nil, unavailable("list closures", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list closures", err)
	}
	return out, nil
}

func (p *Postgres) ListShifts(ctx context.Context) ([]domain.Shift, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, staff_id, staff_name, start_time, end_time FROM shifts ORDER BY start_time`)
	if err != nil {
		return nil, unavailable("list shifts", err)
	}
	defer rows.Close()
	var out []domain.Shift
	for rows.Next() {
		var sh domain.Shift
		if err := rows.Scan(&sh.ID, &sh.StaffID, &sh.StaffName, &sh.StartTime, &sh.EndTime); err != nil {
			return nil, unavailable("list shifts", err)
		}
		out = append(out, sh)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list shifts", err)
	}
	return out, nil
}

func (p *Postgres) EnsureTable(ctx context.Context, t domain.Table) error {
	orderJSON, err := json.Marshal(t.Order)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO tables (id, name, status, owner_id, owner_name, owner_tag, current_order, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
		ON CONFLICT (id) DO NOTHING
	`, t.ID, t.Name, t.Status, t.OwnerID, t.OwnerName, t.OwnerTag, orderJSON)
	if err != nil {
		return unavailable("ensure table", err)
	}
	return nil
}

func (p *Postgres) Subscribe(collection string, fn func(domain.Event)) func() {
	return p.feed.subscribe(collection, fn)
}
