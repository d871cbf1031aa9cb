// Package api exposes the coordination commands over HTTP and pushes the
// change feed to connected front ends over websockets.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"comanda/internal/common/logger"
	"comanda/internal/coordinator"
	"comanda/internal/domain"
	"comanda/internal/kitchen"
	"comanda/internal/settlement"
	"comanda/internal/shifts"
	"comanda/internal/store"
)

type Handler struct {
	coord  *coordinator.Coordinator
	router *kitchen.Router
	engine *settlement.Engine
	shifts *shifts.Service
	store  store.Store
	clock  clock.Clock
	log    *logger.Logger
	newID  func() string
}

func New(coord *coordinator.Coordinator, router *kitchen.Router, engine *settlement.Engine,
	sh *shifts.Service, st store.Store, clk clock.Clock, log *logger.Logger) *Handler {
	if clk == nil {
		clk = clock.WallClock
	}
	if log == nil {
		log = logger.New("api")
	}
	return &Handler{
		coord: coord, router: router, engine: engine, shifts: sh,
		store: st, clock: clk, log: log, newID: uuid.NewString,
	}
}

// Routes registers every command and read endpoint on a fresh mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /tables/{id}/claim", h.claimTable)
	mux.HandleFunc("POST /tables/{id}/order", h.editOrder)
	mux.HandleFunc("POST /tables/{id}/route", h.routeToKitchen)
	mux.HandleFunc("POST /tables/{id}/ready", h.markReadyForBilling)
	mux.HandleFunc("POST /tables/{id}/payments", h.applyPayment)
	mux.HandleFunc("POST /tables/{id}/payments/all", h.payAll)
	mux.HandleFunc("POST /tables/{id}/force", h.forceToBilling)
	mux.HandleFunc("POST /tickets/{id}/ready", h.markTicketReady)
	mux.HandleFunc("GET /tables", h.listTables)
	mux.HandleFunc("GET /tables/{id}", h.getTable)
	mux.HandleFunc("GET /tickets", h.listTickets)
	mux.HandleFunc("POST /shifts", h.startShift)
	mux.HandleFunc("DELETE /shifts/{staffId}", h.endShift)
	mux.HandleFunc("GET /views/{role}", h.roleView)
	mux.HandleFunc("GET /ws", h.watch)
	mux.HandleFunc("GET /health", h.health)
	return mux
}

type staffDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Tag  string `json:"tag"`
	Role string `json:"role"`
}

func (d staffDTO) toStaff() (domain.Staff, error) {
	if d.ID == "" {
		return domain.Staff{}, fmt.Errorf("missing staff id")
	}
	role, err := domain.ParseRole(d.Role)
	if err != nil {
		return domain.Staff{}, err
	}
	return domain.Staff{ID: d.ID, Name: d.Name, Tag: d.Tag, Role: role}, nil
}

func (h *Handler) claimTable(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Actor staffDTO `json:"actor"`
	}
	if !decode(w, r, &req) {
		return
	}
	actor, err := req.Actor.toStaff()
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if !allow(w, actor.Role, domain.CapClaimTables) {
		return
	}
	if err := h.coord.Claim(r.Context(), r.PathValue("id"), actor); err != nil {
		h.fail(w, err)
		return
	}
	h.replyTable(w, r, r.PathValue("id"))
}

type mutationDTO struct {
	Op        string  `json:"op"`
	LineID    string  `json:"line_id"`
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	UnitPrice float64 `json:"unit_price"`
	Quantity  int     `json:"quantity"`
	Note      string  `json:"note"`
	Label     string  `json:"label"`
}

func (d mutationDTO) toMutation(newID func() string) (domain.OrderMutation, error) {
	switch d.Op {
	case "add_line":
		return domain.AddLine{
			LineID:    newID(),
			ProductID: d.ProductID,
			Name:      d.Name,
			UnitPrice: d.UnitPrice,
			Quantity:  d.Quantity,
			Note:      d.Note,
		}, nil
	case "set_quantity":
		return domain.SetQuantity{LineID: d.LineID, Quantity: d.Quantity}, nil
	case "remove_line":
		return domain.RemoveLine{LineID: d.LineID}, nil
	case "set_note":
		return domain.SetNote{LineID: d.LineID, Note: d.Note}, nil
	case "set_customer_label":
		return domain.SetCustomerLabel{Label: d.Label}, nil
	}
	return nil, fmt.Errorf("unknown mutation op %q", d.Op)
}

func (h *Handler) editOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ActorID  string      `json:"actor_id"`
		Mutation mutationDTO `json:"mutation"`
	}
	if !decode(w, r, &req) {
		return
	}
	m, err := req.Mutation.toMutation(h.newID)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := h.coord.EditOrder(r.Context(), r.PathValue("id"), req.ActorID, m); err != nil {
		h.fail(w, err)
		return
	}
	h.replyTable(w, r, r.PathValue("id"))
}

func (h *Handler) routeToKitchen(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ActorID string `json:"actor_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	ticket, err := h.router.Route(r.Context(), r.PathValue("id"), req.ActorID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

func (h *Handler) markReadyForBilling(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ActorID string `json:"actor_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.coord.MarkReadyForBilling(r.Context(), r.PathValue("id"), req.ActorID); err != nil {
		h.fail(w, err)
		return
	}
	h.replyTable(w, r, r.PathValue("id"))
}

func (h *Handler) applyPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LineIDs []string `json:"line_ids"`
		Method  string   `json:"method"`
		Cashier staffDTO `json:"cashier"`
	}
	if !decode(w, r, &req) {
		return
	}
	cashier, err := req.Cashier.toStaff()
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if !allow(w, cashier.Role, domain.CapSettlePayments) {
		return
	}
	sale, err := h.engine.ApplyPayment(r.Context(), r.PathValue("id"), req.LineIDs,
		domain.PaymentMethod(req.Method), cashier)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sale)
}

func (h *Handler) payAll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Method  string   `json:"method"`
		Cashier staffDTO `json:"cashier"`
	}
	if !decode(w, r, &req) {
		return
	}
	cashier, err := req.Cashier.toStaff()
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if !allow(w, cashier.Role, domain.CapSettlePayments) {
		return
	}
	sale, err := h.engine.PayAll(r.Context(), r.PathValue("id"), domain.PaymentMethod(req.Method), cashier)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sale)
}

func (h *Handler) forceToBilling(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Cashier staffDTO `json:"cashier"`
	}
	if !decode(w, r, &req) {
		return
	}
	cashier, err := req.Cashier.toStaff()
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if !allow(w, cashier.Role, domain.CapForceClosure) {
		return
	}
	closure, err := h.engine.ForceToBilling(r.Context(), r.PathValue("id"), cashier)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, closure)
}

func (h *Handler) markTicketReady(w http.ResponseWriter, r *http.Request) {
	if err := h.router.MarkTicketReady(r.Context(), r.PathValue("id")); err != nil {
		h.fail(w, err)
		return
	}
	ticket, err := h.store.GetTicket(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) listTables(w http.ResponseWriter, r *http.Request) {
	tables, err := h.store.ListTables(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": tables})
}

func (h *Handler) getTable(w http.ResponseWriter, r *http.Request) {
	h.replyTable(w, r, r.PathValue("id"))
}

func (h *Handler) listTickets(w http.ResponseWriter, r *http.Request) {
	var (
		tickets []domain.KitchenTicket
		err     error
	)
	switch status := r.URL.Query().Get("status"); status {
	case "", domain.TicketPending:
		tickets, err = h.router.PendingTickets(r.Context())
	case domain.TicketReady:
		tickets, err = h.router.ReadyTickets(r.Context())
	default:
		writeProblem(w, http.StatusBadRequest, "bad_request", "unknown ticket status "+status)
		return
	}
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tickets": tickets})
}

func (h *Handler) startShift(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Staff staffDTO `json:"staff"`
		Hours int      `json:"hours"`
	}
	if !decode(w, r, &req) {
		return
	}
	staff, err := req.Staff.toStaff()
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	shift, err := h.shifts.Start(r.Context(), staff, time.Duration(req.Hours)*time.Hour)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, shift)
}

func (h *Handler) endShift(w http.ResponseWriter, r *http.Request) {
	if err := h.shifts.End(r.Context(), r.PathValue("staffId")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok", "service": "comanda", "time": h.clock.Now().UTC(),
	})
}

func (h *Handler) replyTable(w http.ResponseWriter, r *http.Request, id string) {
	t, err := h.store.GetTable(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// fail maps a core error onto problem+json. Validation failures mean the
// caller's view is stale; 503 means the backoff budget for the store ran
// out.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrNotOwner):
		writeProblem(w, http.StatusForbidden, "not_owner", err.Error())
	case errors.Is(err, domain.ErrAlreadyClaimed):
		writeProblem(w, http.StatusConflict, "already_claimed", err.Error())
	case errors.Is(err, domain.ErrAlreadyPaid):
		writeProblem(w, http.StatusConflict, "already_paid", err.Error())
	case errors.Is(err, domain.ErrWrongStatus):
		writeProblem(w, http.StatusConflict, "wrong_status", err.Error())
	case errors.Is(err, domain.ErrEmptyOrder):
		writeProblem(w, http.StatusConflict, "empty_order", err.Error())
	case errors.Is(err, domain.ErrOffShift):
		writeProblem(w, http.StatusConflict, "off_shift", err.Error())
	case domain.IsStoreUnavailable(err):
		h.log.Error("store_unavailable", err, nil)
		writeProblem(w, http.StatusServiceUnavailable, "store_unavailable", "entity store unavailable, retry later")
	default:
		h.log.Error("command_failed", err, nil)
		writeProblem(w, http.StatusBadRequest, "bad_request", err.Error())
	}
}

func allow(w http.ResponseWriter, role domain.Role, c domain.Capability) bool {
	if !role.Can(c) {
		writeProblem(w, http.StatusForbidden, "forbidden",
			fmt.Sprintf("role %s may not perform this command", role))
		return false
	}
	return true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeProblem(w, http.StatusBadRequest, "bad_json", err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeProblem renders the shared error shape (simplified problem+json).
func writeProblem(w http.ResponseWriter, code int, typ, detail string) {
	writeJSON(w, code, map[string]any{
		"type":   typ,
		"title":  http.StatusText(code),
		"status": code,
		"detail": detail,
	})
}
