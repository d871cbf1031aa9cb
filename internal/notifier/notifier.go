// Package notifier turns the committed change feed into human-readable
// floor announcements: a ticket left the kitchen, a table opened up, a
// forced closure needs eyes.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	"comanda/internal/common/logger"
	"comanda/internal/common/mq"
	"comanda/internal/domain"
	"comanda/internal/store"
)

type Notifier struct {
	log *logger.Logger
}

func New(log *logger.Logger) *Notifier {
	if log == nil {
		log = logger.New("notifier")
	}
	return &Notifier{log: log}
}

// rawEvent defers entity decoding until the collection is known.
type rawEvent struct {
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Deleted    bool            `json:"deleted"`
	Value      json.RawMessage `json:"value"`
}

// Run drains the notifications queue until ctx is cancelled. Messages that
// fail to decode are rejected without requeue; everything else is acked
// after the announcement is logged.
func (n *Notifier) Run(ctx context.Context, client *mq.Client, consumer string) error {
	deliveries, err := client.Consume(mq.NotificationsQueue, consumer, 10)
	if err != nil {
		return fmt.Errorf("consume %s: %w", mq.NotificationsQueue, err)
	}
	n.log.Info("notifier_started", map[string]any{"queue": mq.NotificationsQueue})
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			var raw rawEvent
			if err := json.Unmarshal(d.Body, &raw); err != nil {
				n.log.Error("event_decode_failed", err, map[string]any{"correlation_id": d.CorrelationId})
				_ = d.Nack(false, false)
				continue
			}
			n.announce(raw)
			_ = d.Ack(false)
		}
	}
}

// RunLocal serves the same announcements from the in-process feed, for
// single-node deployments without a broker. Blocks until ctx is done.
func (n *Notifier) RunLocal(ctx context.Context, st store.Store) error {
	collections := []string{
		domain.CollectionTables, domain.CollectionTickets,
		domain.CollectionSales, domain.CollectionClosures,
	}
	for _, collection := range collections {
		cancel := st.Subscribe(collection, func(ev domain.Event) {
			body, err := json.Marshal(ev.Value)
			if err != nil {
				return
			}
			n.announce(rawEvent{Collection: ev.Collection, ID: ev.ID, Deleted: ev.Deleted, Value: body})
		})
		defer cancel()
	}
	n.log.Info("notifier_started", map[string]any{"mode": "local"})
	<-ctx.Done()
	return ctx.Err()
}

func (n *Notifier) announce(raw rawEvent) {
	switch raw.Collection {
	case domain.CollectionTickets:
		var k domain.KitchenTicket
		if err := json.Unmarshal(raw.Value, &k); err != nil {
			n.log.Error("event_decode_failed", err, map[string]any{"collection": raw.Collection, "id": raw.ID})
			return
		}
		if k.Status == domain.TicketReady {
			n.log.Info("ticket_ready", map[string]any{
				"ticket_id": k.ID, "table": k.TableName, "waiter": k.OwnerName,
			})
		}
	case domain.CollectionTables:
		var t domain.Table
		if err := json.Unmarshal(raw.Value, &t); err != nil {
			n.log.Error("event_decode_failed", err, map[string]any{"collection": raw.Collection, "id": raw.ID})
			return
		}
		switch t.Status {
		case domain.TableFree:
			n.log.Info("table_freed", map[string]any{"table_id": t.ID, "table": t.Name})
		case domain.TableBilling:
			n.log.Info("table_billing", map[string]any{"table_id": t.ID, "table": t.Name, "waiter": t.OwnerName})
		}
	case domain.CollectionSales:
		var s domain.Sale
		if err := json.Unmarshal(raw.Value, &s); err != nil {
			n.log.Error("event_decode_failed", err, map[string]any{"collection": raw.Collection, "id": raw.ID})
			return
		}
		n.log.Info("sale_recorded", map[string]any{
			"sale_id": s.ID, "table_id": s.TableID, "total": s.Total, "method": string(s.Method),
		})
	case domain.CollectionClosures:
		var fc domain.ForcedClosure
		if err := json.Unmarshal(raw.Value, &fc); err != nil {
			n.log.Error("event_decode_failed", err, map[string]any{"collection": raw.Collection, "id": raw.ID})
			return
		}
		n.log.Warn("forced_closure", map[string]any{
			"closure_id": fc.ID, "table_id": fc.TableID, "waiter": fc.OwnerName, "cashier": fc.CashierName,
		})
	}
}
