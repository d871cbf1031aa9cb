package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comanda/internal/domain"
	"comanda/internal/store"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newMemory() (*store.Memory, *testclock.Clock) {
	clk := testclock.NewClock(t0)
	return store.NewMemory(clk), clk
}

func seedTable(t *testing.T, st store.Store, id, name string) {
	t.Helper()
	require.NoError(t, st.EnsureTable(context.Background(), domain.NewTable(id, name)))
}

func waitEvent(t *testing.T, ch <-chan domain.Event) domain.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return domain.Event{}
	}
}

func TestUpdateCommitsStagedWrites(t *testing.T) {
	st, _ := newMemory()
	ctx := context.Background()
	seedTable(t, st, "t-01", "Mesa 1")

	err := st.Update(ctx, func(tx store.Tx) error {
		tb, err := tx.Table("t-01")
		if err != nil {
			return err
		}
		if err := tb.Claim(domain.Staff{ID: "w1", Name: "Ana"}); err != nil {
			return err
		}
		return tx.SaveTable(tb)
	})
	require.NoError(t, err)

	got, err := st.GetTable(ctx, "t-01")
	require.NoError(t, err)
	assert.Equal(t, domain.TableOccupied, got.Status)
	assert.Equal(t, t0, got.UpdatedAt)
}

func TestUpdateErrorDiscardsEverything(t *testing.T) {
	st, _ := newMemory()
	ctx := context.Background()
	seedTable(t, st, "t-01", "Mesa 1")

	err := st.Update(ctx, func(tx store.Tx) error {
		tb, err := tx.Table("t-01")
		if err != nil {
			return err
		}
		require.NoError(t, tb.Claim(domain.Staff{ID: "w1", Name: "Ana"}))
		require.NoError(t, tx.SaveTable(tb))
		require.NoError(t, tx.AppendSale(domain.Sale{ID: "s1", TableID: "t-01"}))
		return fmt.Errorf("late validation failure")
	})
	require.Error(t, err)

	got, err := st.GetTable(ctx, "t-01")
	require.NoError(t, err)
	assert.Equal(t, domain.TableFree, got.Status, "staged claim must not leak")

	sales, err := st.ListSales(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, sales, "staged sale must not leak")
}

func TestMultiEntityWriteIsAtomicAndPublished(t *testing.T) {
	st, _ := newMemory()
	ctx := context.Background()
	seedTable(t, st, "t-01", "Mesa 1")

	tableEvents := make(chan domain.Event, 4)
	ticketEvents := make(chan domain.Event, 4)
	defer st.Subscribe(domain.CollectionTables, func(ev domain.Event) { tableEvents <- ev })()
	defer st.Subscribe(domain.CollectionTickets, func(ev domain.Event) { ticketEvents <- ev })()

	err := st.Update(ctx, func(tx store.Tx) error {
		tb, err := tx.Table("t-01")
		if err != nil {
			return err
		}
		require.NoError(t, tb.Claim(domain.Staff{ID: "w1", Name: "Ana"}))
		if err := tx.SaveTable(tb); err != nil {
			return err
		}
		return tx.SaveTicket(&domain.KitchenTicket{
			ID: "k1", TableID: "t-01", Status: domain.TicketPending, CreatedAt: t0,
		})
	})
	require.NoError(t, err)

	tev := waitEvent(t, tableEvents)
	assert.Equal(t, "t-01", tev.ID)
	assert.Equal(t, domain.CollectionTables, tev.Collection)
	kev := waitEvent(t, ticketEvents)
	assert.Equal(t, "k1", kev.ID)
}

func TestLoadWithoutSaveEmitsNoEvent(t *testing.T) {
	st, _ := newMemory()
	ctx := context.Background()
	seedTable(t, st, "t-01", "Mesa 1")
	seedTable(t, st, "t-02", "Mesa 2")

	events := make(chan domain.Event, 4)
	defer st.Subscribe(domain.CollectionTables, func(ev domain.Event) { events <- ev })()

	err := st.Update(ctx, func(tx store.Tx) error {
		if _, err := tx.Table("t-01"); err != nil {
			return err
		}
		tb, err := tx.Table("t-02")
		if err != nil {
			return err
		}
		require.NoError(t, tb.Claim(domain.Staff{ID: "w1", Name: "Ana"}))
		return tx.SaveTable(tb)
	})
	require.NoError(t, err)

	ev := waitEvent(t, events)
	assert.Equal(t, "t-02", ev.ID)
	select {
	case extra := <-events:
		t.Fatalf("unexpected event for %s", extra.ID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	st, _ := newMemory()
	ctx := context.Background()
	seedTable(t, st, "t-01", "Mesa 1")

	events := make(chan domain.Event, 4)
	cancel := st.Subscribe(domain.CollectionTables, func(ev domain.Event) { events <- ev })
	cancel()

	err := st.Update(ctx, func(tx store.Tx) error {
		tb, err := tx.Table("t-01")
		if err != nil {
			return err
		}
		require.NoError(t, tb.Claim(domain.Staff{ID: "w1", Name: "Ana"}))
		return tx.SaveTable(tb)
	})
	require.NoError(t, err)

	select {
	case ev := <-events:
		t.Fatalf("event %s/%s delivered after unsubscribe", ev.Collection, ev.ID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEnsureTableIsIdempotent(t *testing.T) {
	st, _ := newMemory()
	ctx := context.Background()
	seedTable(t, st, "t-01", "Mesa 1")

	require.NoError(t, st.Update(ctx, func(tx store.Tx) error {
		tb, err := tx.Table("t-01")
		if err != nil {
			return err
		}
		require.NoError(t, tb.Claim(domain.Staff{ID: "w1", Name: "Ana"}))
		return tx.SaveTable(tb)
	}))

	// A second seed on restart must not reset the occupied table.
	require.NoError(t, st.EnsureTable(ctx, domain.NewTable("t-01", "Mesa 1")))
	got, err := st.GetTable(ctx, "t-01")
	require.NoError(t, err)
	assert.Equal(t, domain.TableOccupied, got.Status)
}

func TestListTicketsFiltersAndSorts(t *testing.T) {
	st, clk := newMemory()
	ctx := context.Background()

	put := func(id string, status string, at time.Time) {
		require.NoError(t, st.Update(ctx, func(tx store.Tx) error {
			return tx.SaveTicket(&domain.KitchenTicket{ID: id, TableID: "t-01", Status: status, CreatedAt: at})
		}))
	}
	put("k2", domain.TicketPending, t0.Add(2*time.Minute))
	put("k1", domain.TicketPending, t0)
	put("k3", domain.TicketReady, t0.Add(time.Minute))
	clk.Advance(time.Minute)

	pending, err := st.ListTickets(ctx, domain.TicketPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "k1", pending[0].ID)
	assert.Equal(t, "k2", pending[1].ID)

	all, err := st.ListTickets(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestShiftLifecycleInsideUpdate(t *testing.T) {
	st, _ := newMemory()
	ctx := context.Background()
	shift := domain.Shift{ID: "sh1", StaffID: "w1", StartTime: t0, EndTime: t0.Add(10 * time.Hour)}

	require.NoError(t, st.Update(ctx, func(tx store.Tx) error {
		if _, ok, err := tx.ActiveShift("w1", t0); err != nil {
			return err
		} else if ok {
			return fmt.Errorf("no shift expected yet")
		}
		if err := tx.PutShift(shift); err != nil {
			return err
		}
		// A put staged in this write is already visible to ActiveShift.
		_, ok, err := tx.ActiveShift("w1", t0.Add(time.Hour))
		if err != nil {
			return err
		}
		require.True(t, ok)
		return nil
	}))

	require.NoError(t, st.Update(ctx, func(tx store.Tx) error {
		if err := tx.DeleteShift("sh1"); err != nil {
			return err
		}
		_, ok, err := tx.ActiveShift("w1", t0.Add(time.Hour))
		require.NoError(t, err)
		require.False(t, ok, "staged delete must hide the shift")
		return nil
	}))

	shifts, err := st.ListShifts(ctx)
	require.NoError(t, err)
	assert.Empty(t, shifts)
}

func TestGetMissingEntities(t *testing.T) {
	st, _ := newMemory()
	ctx := context.Background()

	_, err := st.GetTable(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = st.GetTicket(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, st.Update(ctx, func(tx store.Tx) error {
		_, err := tx.Ticket("nope")
		return err
	}), domain.ErrNotFound)
}
