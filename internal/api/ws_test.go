package api_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comanda/internal/api"
	"comanda/internal/coordinator"
	"comanda/internal/domain"
	"comanda/internal/kitchen"
	"comanda/internal/settlement"
	"comanda/internal/shifts"
	"comanda/internal/store"
)

func newFeedServer(t *testing.T) (*httptest.Server, *store.Memory) {
	t.Helper()
	clk := testclock.NewClock(t0)
	st := store.NewMemory(clk)
	require.NoError(t, st.EnsureTable(context.Background(), domain.NewTable("t-01", "Mesa 1")))
	coord := coordinator.New(st, clk, nil)
	h := api.New(coord, kitchen.New(st, clk, nil), settlement.New(st, coord, clk, nil),
		shifts.New(st, clk, nil), st, clk, nil)
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return srv, st
}

func TestFeedStreamsCommittedWrites(t *testing.T) {
	srv, st := newFeedServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?staff_id=w1&name=Ana&role=waiter"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		defer resp.Body.Close()
	}
	defer conn.Close()

	require.NoError(t, st.Update(context.Background(), func(tx store.Tx) error {
		tb, err := tx.Table("t-01")
		if err != nil {
			return err
		}
		if err := tb.Claim(domain.Staff{ID: "w1", Name: "Ana"}); err != nil {
			return err
		}
		return tx.SaveTable(tb)
	}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev domain.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, domain.CollectionTables, ev.Collection)
	assert.Equal(t, "t-01", ev.ID)
}

func TestFeedRejectsUnknownRole(t *testing.T) {
	srv, _ := newFeedServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?staff_id=w1&role=sommelier"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, 400, resp.StatusCode)
}
