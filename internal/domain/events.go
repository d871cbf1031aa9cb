package domain

import "time"

// Collections persisted as independent keyed records.
const (
	CollectionTables   = "tables"
	CollectionTickets  = "kitchen_tickets"
	CollectionSales    = "sales"
	CollectionClosures = "forced_closures"
	CollectionShifts   = "shifts"
)

// Event is one change-feed delivery: the current value of an entity after a
// committed write, or a deletion marker. Subscribers on a collection receive
// an event for every write to it, including their own.
type Event struct {
	Collection string    `json:"collection"`
	ID         string    `json:"id"`
	Deleted    bool      `json:"deleted,omitempty"`
	Value      any       `json:"value,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
