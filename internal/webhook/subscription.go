// Package webhook is the Webhook Dispatcher (spec §4.6): matches newly
// written keys against configured subscriptions, enqueues pending
// deliveries, and drains them with bounded concurrency and retry.
package webhook

import (
	"context"
	"encoding/json"
	"strings"

	"wasmindexer/internal/keycodec"
	"wasmindexer/internal/model"
	"wasmindexer/pkg/config"
)

// Subscription is a compiled config.WebhookDef: a (contract, key-prefix)
// filter paired with an endpoint descriptor ready to enqueue. KeyPrefix is
// stored in the same comma-separated decimal-byte canonical form
// keycodec gives every WasmEvent.Key, not the human-authored literal from
// config — Matches compares it directly against an event's Key.
type Subscription struct {
	Name      string
	Contract  string
	KeyPrefix string

	endpointType string
	endpoint     json.RawMessage
}

// urlEndpoint is the JSON shape stored for an EndpointType "url" row.
type urlEndpoint struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// soketiEndpoint is the JSON shape stored for an EndpointType "soketi" row.
type soketiEndpoint struct {
	Channel string `json:"channel"`
	Event   string `json:"event"`
}

// CompileSubscriptions turns config-driven webhook definitions into
// Subscriptions, pre-encoding each endpoint descriptor once up front rather
// than on every match.
func CompileSubscriptions(defs []config.WebhookDef) ([]Subscription, error) {
	subs := make([]Subscription, 0, len(defs))
	for _, def := range defs {
		var raw json.RawMessage
		var err error
		switch def.EndpointType {
		case "url":
			method := def.Method
			if method == "" {
				method = "POST"
			}
			raw, err = json.Marshal(urlEndpoint{Method: method, URL: def.URL, Headers: def.Headers})
		case "soketi":
			raw, err = json.Marshal(soketiEndpoint{Channel: def.Channel, Event: def.Event})
		default:
			continue
		}
		if err != nil {
			return nil, err
		}
		subs = append(subs, Subscription{
			Name:         def.Name,
			Contract:     def.Contract,
			KeyPrefix:    keycodec.BytesToEventKey([]byte(def.KeyPrefix)),
			endpointType: def.EndpointType,
			endpoint:     raw,
		})
	}
	return subs, nil
}

// Matches reports whether this subscription watches a given (contract, key)
// write, using the same prefix-intersection rule as a formula's Prefix
// dependency: the key must start with KeyPrefix, and the contract must equal
// Contract unless Contract is empty, in which case every contract matches.
func (s Subscription) Matches(contract, key string) bool {
	if s.Contract != "" && s.Contract != contract {
		return false
	}
	return strings.HasPrefix(key, s.KeyPrefix)
}

// pendingWebhookFor builds the PendingWebhook row to enqueue for an event
// this subscription matched.
func (s Subscription) pendingWebhookFor(eventID int64, value json.RawMessage) model.PendingWebhook {
	return model.PendingWebhook{
		EventID:      eventID,
		EndpointType: s.endpointType,
		Endpoint:     s.endpoint,
		Value:        value,
	}
}

// previousValueLookup resolves getPrevious() for a changed key: scan the
// current flush batch first (events earlier in the same batch may have
// already written this key at a lower block height than the current one),
// falling back to the store for anything not present in-batch.
type previousValueLookup func(ctx context.Context, contract, key string, beforeBlock uint64) (json.RawMessage, error)
