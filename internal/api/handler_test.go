package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

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

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	clk := testclock.NewClock(t0)
	st := store.NewMemory(clk)
	for i := 1; i <= 2; i++ {
		require.NoError(t, st.EnsureTable(context.Background(), domain.NewTable(fmt.Sprintf("t-%02d", i), fmt.Sprintf("Mesa %d", i))))
	}
	coord := coordinator.New(st, clk, nil)
	router := kitchen.New(st, clk, nil)
	engine := settlement.New(st, coord, clk, nil)
	sh := shifts.New(st, clk, nil)
	h := api.New(coord, router, engine, sh, st, clk, nil)
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var decoded map[string]any
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	}
	return resp, decoded
}

var (
	anaJSON  = map[string]any{"id": "w1", "name": "Ana", "tag": "#ff0000", "role": "waiter"}
	rosaJSON = map[string]any{"id": "c1", "name": "Rosa", "role": "cashier"}
)

func startShift(t *testing.T, srv *httptest.Server, staff map[string]any) {
	t.Helper()
	resp, _ := do(t, srv, http.MethodPost, "/shifts", map[string]any{"staff": staff})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestFullServiceFlow(t *testing.T) {
	srv := newServer(t)
	startShift(t, srv, anaJSON)

	resp, table := do(t, srv, http.MethodPost, "/tables/t-01/claim", map[string]any{"actor": anaJSON})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "occupied", table["status"])
	assert.Equal(t, "w1", table["owner_id"])

	resp, table = do(t, srv, http.MethodPost, "/tables/t-01/order", map[string]any{
		"actor_id": "w1",
		"mutation": map[string]any{"op": "add_line", "product_id": "p1", "name": "Lomo", "unit_price": 10, "quantity": 2},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	order := table["order"].(map[string]any)
	assert.Equal(t, "edited", order["phase"])
	items := order["items"].([]any)
	require.Len(t, items, 1)
	lineID := items[0].(map[string]any)["line_id"].(string)
	require.NotEmpty(t, lineID)

	resp, ticket := do(t, srv, http.MethodPost, "/tables/t-01/route", map[string]any{"actor_id": "w1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "pending", ticket["status"])
	ticketID := ticket["id"].(string)

	resp, ticket = do(t, srv, http.MethodPost, "/tickets/"+ticketID+"/ready", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready", ticket["status"])

	resp, table = do(t, srv, http.MethodPost, "/tables/t-01/ready", map[string]any{"actor_id": "w1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "billing", table["status"])

	resp, sale := do(t, srv, http.MethodPost, "/tables/t-01/payments/all", map[string]any{
		"method": "cash", "cashier": rosaJSON,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, 20.0, sale["total"])
	assert.Equal(t, "Consumidor Final", sale["customer_label"])

	resp, table = do(t, srv, http.MethodGet, "/tables/t-01", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "free", table["status"])
}

func TestPartialPaymentFlow(t *testing.T) {
	srv := newServer(t)
	startShift(t, srv, anaJSON)

	do(t, srv, http.MethodPost, "/tables/t-01/claim", map[string]any{"actor": anaJSON})
	_, table := do(t, srv, http.MethodPost, "/tables/t-01/order", map[string]any{
		"actor_id": "w1",
		"mutation": map[string]any{"op": "add_line", "product_id": "p1", "name": "Lomo", "unit_price": 10, "quantity": 2},
	})
	lineID := table["order"].(map[string]any)["items"].([]any)[0].(map[string]any)["line_id"].(string)
	do(t, srv, http.MethodPost, "/tables/t-01/order", map[string]any{
		"actor_id": "w1",
		"mutation": map[string]any{"op": "add_line", "product_id": "p2", "name": "Chicha", "unit_price": 5, "quantity": 1},
	})

	resp, _ := do(t, srv, http.MethodPost, "/tables/t-01/force", map[string]any{"cashier": rosaJSON})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, sale := do(t, srv, http.MethodPost, "/tables/t-01/payments", map[string]any{
		"line_ids": []string{lineID}, "method": "card", "cashier": rosaJSON,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, 20.0, sale["total"])

	_, table = do(t, srv, http.MethodGet, "/tables/t-01", nil)
	assert.Equal(t, "billing", table["status"])

	resp, problem := do(t, srv, http.MethodPost, "/tables/t-01/payments", map[string]any{
		"line_ids": []string{lineID}, "method": "card", "cashier": rosaJSON,
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "already_paid", problem["type"])
}

func TestErrorMapping(t *testing.T) {
	srv := newServer(t)

	resp, problem := do(t, srv, http.MethodPost, "/tables/t-01/claim", map[string]any{"actor": anaJSON})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "off_shift", problem["type"])

	startShift(t, srv, anaJSON)
	do(t, srv, http.MethodPost, "/tables/t-01/claim", map[string]any{"actor": anaJSON})

	betoJSON := map[string]any{"id": "w2", "name": "Beto", "role": "waiter"}
	startShift(t, srv, betoJSON)
	resp, problem = do(t, srv, http.MethodPost, "/tables/t-01/claim", map[string]any{"actor": betoJSON})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "already_claimed", problem["type"])

	resp, problem = do(t, srv, http.MethodPost, "/tables/t-01/order", map[string]any{
		"actor_id": "w2",
		"mutation": map[string]any{"op": "add_line", "product_id": "p1", "unit_price": 5, "quantity": 1},
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "not_owner", problem["type"])

	resp, problem = do(t, srv, http.MethodPost, "/tables/t-99/claim", map[string]any{"actor": betoJSON})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", problem["type"])

	resp, problem = do(t, srv, http.MethodPost, "/tables/t-01/route", map[string]any{"actor_id": "w1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "empty_order", problem["type"])

	resp, problem = do(t, srv, http.MethodPost, "/tables/t-01/order", map[string]any{
		"actor_id": "w1",
		"mutation": map[string]any{"op": "teleport"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "bad_request", problem["type"])
}

func TestRoleGates(t *testing.T) {
	srv := newServer(t)

	chefJSON := map[string]any{"id": "ch1", "name": "Coco", "role": "chef"}
	resp, problem := do(t, srv, http.MethodPost, "/tables/t-01/claim", map[string]any{"actor": chefJSON})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "forbidden", problem["type"])

	resp, problem = do(t, srv, http.MethodPost, "/tables/t-01/payments/all", map[string]any{
		"method": "cash", "cashier": anaJSON,
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "forbidden", problem["type"])
}

func TestTicketQueues(t *testing.T) {
	srv := newServer(t)
	startShift(t, srv, anaJSON)
	do(t, srv, http.MethodPost, "/tables/t-01/claim", map[string]any{"actor": anaJSON})
	do(t, srv, http.MethodPost, "/tables/t-01/order", map[string]any{
		"actor_id": "w1",
		"mutation": map[string]any{"op": "add_line", "product_id": "p1", "name": "Lomo", "unit_price": 10, "quantity": 1},
	})
	resp, ticket := do(t, srv, http.MethodPost, "/tables/t-01/route", map[string]any{"actor_id": "w1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := do(t, srv, http.MethodGet, "/tickets?status=pending", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["tickets"].([]any), 1)

	do(t, srv, http.MethodPost, "/tickets/"+ticket["id"].(string)+"/ready", nil)
	resp, body = do(t, srv, http.MethodGet, "/tickets?status=ready", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["tickets"].([]any), 1)

	resp, _ = do(t, srv, http.MethodGet, "/tickets?status=flambeed", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestShiftEndpoints(t *testing.T) {
	srv := newServer(t)
	startShift(t, srv, anaJSON)

	resp, _ := do(t, srv, http.MethodDelete, "/shifts/w1", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, problem := do(t, srv, http.MethodDelete, "/shifts/w1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", problem["type"])
}

func TestRoleViews(t *testing.T) {
	srv := newServer(t)
	startShift(t, srv, anaJSON)
	do(t, srv, http.MethodPost, "/tables/t-01/claim", map[string]any{"actor": anaJSON})

	resp, view := do(t, srv, http.MethodGet, "/views/waiter?staff_id=w1&name=Ana&role=waiter", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, view["on_shift"])
	require.Len(t, view["own_tables"].([]any), 1)

	resp, _ = do(t, srv, http.MethodGet, "/views/chef?staff_id=ch1&role=chef", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodGet, "/views/cashier?staff_id=w1&role=waiter", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodGet, "/views/sommelier?staff_id=w1&role=waiter", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	srv := newServer(t)
	resp, body := do(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}
