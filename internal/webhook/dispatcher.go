package webhook

import (
	"context"
	"encoding/json"
	"fmt"

	"wasmindexer/internal/model"
)

// Store is the persistence surface the dispatcher needs. Implemented by
// *store.DB; named narrowly so webhook does not import store.
type Store interface {
	InsertPendingWebhook(ctx context.Context, w model.PendingWebhook) (int64, error)
	PreviousValue(ctx context.Context, contract, key string, beforeBlock uint64) (*model.WasmEvent, error)
}

// Dispatcher matches a flush's changed events against compiled subscriptions
// and enqueues pending deliveries (spec §4.6 enqueue step).
type Dispatcher struct {
	store Store
	subs  []Subscription
}

// New builds a Dispatcher bound to the store and a compiled subscription
// set.
func New(store Store, subs []Subscription) *Dispatcher {
	return &Dispatcher{store: store, subs: subs}
}

// Enqueue matches every event in the flush batch against the subscription
// set, inserting one pending_webhooks row per (event, matching subscription)
// pair. The value delivered is a deliveryPayload carrying the event's own
// ValueJSON and its previous value; getPrevious() is resolved here at
// enqueue time and stored in the payload, so a failed delivery that's
// retried later still reflects the value prevailing just before this event,
// not whatever the chain looked like at retry time.
func (d *Dispatcher) Enqueue(ctx context.Context, events []model.WasmEvent) error {
	for i, e := range events {
		for _, sub := range d.subs {
			if !sub.Matches(e.ContractAddress, e.Key) {
				continue
			}
			// getPrevious(): scan earlier events for the same key within this
			// batch first, falling back to the store for the rest.
			prev := previousInBatch(events[:i], e.ContractAddress, e.Key)
			if prev == nil {
				stored, err := d.store.PreviousValue(ctx, e.ContractAddress, e.Key, e.BlockHeight)
				if err != nil {
					return fmt.Errorf("resolve previous value: %w", err)
				}
				if stored != nil {
					prev = stored.ValueJSON
				}
			}

			payload, err := json.Marshal(deliveryPayload{
				Contract: e.ContractAddress,
				Key:      e.Key,
				Value:    e.ValueJSON,
				Previous: prev,
				Delete:   e.Delete,
				Block:    e.BlockHeight,
			})
			if err != nil {
				return fmt.Errorf("marshal delivery payload: %w", err)
			}

			if _, err := d.store.InsertPendingWebhook(ctx, sub.pendingWebhookFor(e.BlockHeight, payload)); err != nil {
				return fmt.Errorf("enqueue pending webhook %s: %w", sub.Name, err)
			}
		}
	}
	return nil
}

// deliveryPayload is the JSON body handed to a webhook endpoint.
type deliveryPayload struct {
	Contract string          `json:"contract"`
	Key      string          `json:"key"`
	Value    json.RawMessage `json:"value"`
	Previous json.RawMessage `json:"previous,omitempty"`
	Delete   bool            `json:"delete"`
	Block    uint64          `json:"block"`
}

func previousInBatch(earlier []model.WasmEvent, contract, key string) json.RawMessage {
	for i := len(earlier) - 1; i >= 0; i-- {
		if earlier[i].ContractAddress == contract && earlier[i].Key == key {
			return earlier[i].ValueJSON
		}
	}
	return nil
}
