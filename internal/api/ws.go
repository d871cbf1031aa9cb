package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"comanda/internal/domain"
	"comanda/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	// eventBuffer absorbs bursts while the client socket drains.
	eventBuffer = 64
)

// roleView serves the read model a front end renders for one role.
// The session is opened and closed within the request.
func (h *Handler) roleView(w http.ResponseWriter, r *http.Request) {
	staff, ok := h.sessionStaff(w, r)
	if !ok {
		return
	}
	sess := session.New(staff, h.store, h.clock)
	defer sess.Close()

	var (
		view any
		err  error
	)
	switch r.PathValue("role") {
	case "waiter":
		view, err = sess.Waiter(r.Context())
	case "chef":
		view, err = sess.Chef(r.Context())
	case "cashier":
		view, err = sess.Cashier(r.Context())
	default:
		writeProblem(w, http.StatusNotFound, "not_found", "unknown view "+r.PathValue("role"))
		return
	}
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// watch upgrades to a websocket and streams every committed change for the
// collections the client's role cares about.
func (h *Handler) watch(w http.ResponseWriter, r *http.Request) {
	staff, ok := h.sessionStaff(w, r)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("ws_upgrade_failed", err, nil)
		return
	}

	sess := session.New(staff, h.store, h.clock)
	events := make(chan domain.Event, eventBuffer)
	for _, collection := range watchCollections(staff.Role) {
		err := sess.Watch(collection, func(ev domain.Event) {
			select {
			case events <- ev:
			default:
				// Slow consumer; dropping beats blocking the feed.
			}
		})
		if err != nil {
			h.log.Error("ws_subscribe_failed", err, map[string]any{"collection": collection})
			sess.Close()
			_ = conn.Close()
			return
		}
	}
	h.log.Info("ws_connected", map[string]any{
		"session_id": sess.ID, "staff_id": staff.ID, "role": staff.Role.String(),
	})

	done := make(chan struct{})
	go h.writePump(conn, events, done)

	// Reader loop only watches for the client going away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	close(done)
	sess.Close()
	_ = conn.Close()
	h.log.Info("ws_disconnected", map[string]any{"session_id": sess.ID, "staff_id": staff.ID})
}

func (h *Handler) writePump(conn *websocket.Conn, events <-chan domain.Event, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case ev := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func watchCollections(role domain.Role) []string {
	switch role {
	case domain.RoleChef:
		return []string{domain.CollectionTickets}
	case domain.RoleCashier:
		return []string{domain.CollectionTables, domain.CollectionSales, domain.CollectionClosures}
	case domain.RoleAdmin:
		return []string{
			domain.CollectionTables, domain.CollectionTickets,
			domain.CollectionSales, domain.CollectionClosures, domain.CollectionShifts,
		}
	default:
		return []string{domain.CollectionTables, domain.CollectionTickets}
	}
}

func (h *Handler) sessionStaff(w http.ResponseWriter, r *http.Request) (domain.Staff, bool) {
	q := r.URL.Query()
	staff, err := staffDTO{
		ID:   q.Get("staff_id"),
		Name: q.Get("name"),
		Tag:  q.Get("tag"),
		Role: q.Get("role"),
	}.toStaff()
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "bad_request", err.Error())
		return domain.Staff{}, false
	}
	return staff, true
}
