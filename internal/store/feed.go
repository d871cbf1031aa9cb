package store

import (
	"github.com/juju/pubsub/v2"

	"comanda/internal/domain"
)

// feed fans committed writes out to subscribers. Topics are collection
// names; every publish carries the entity's post-commit value.
type feed struct {
	hub *pubsub.SimpleHub
}

func newFeed() *feed {
	return &feed{hub: pubsub.NewSimpleHub(nil)}
}

// publish delivers events from one committed write. Called after commit
// only; subscribers never observe a partial write.
func (f *feed) publish(events []domain.Event) {
	for _, ev := range events {
		_ = f.hub.Publish(ev.Collection, ev)
	}
}

func (f *feed) subscribe(collection string, fn func(domain.Event)) func() {
	return f.hub.Subscribe(collection, func(_ string, data interface{}) {
		if ev, ok := data.(domain.Event); ok {
			fn(ev)
		}
	})
}
