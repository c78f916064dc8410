package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"wasmindexer/internal/keycodec"
	"wasmindexer/internal/model"
	"wasmindexer/pkg/config"
)

// canonKey mirrors ingest.parseLine's key canonicalization, so these tests
// exercise Matches/Enqueue against the same key form real ingested events
// carry, not a human-readable literal.
func canonKey(literal string) string {
	return keycodec.BytesToEventKey([]byte(literal))
}

func TestCompileSubscriptionsSkipsUnknownEndpointType(t *testing.T) {
	subs, err := CompileSubscriptions([]config.WebhookDef{
		{Name: "a", EndpointType: "carrier-pigeon"},
		{Name: "b", EndpointType: "url", URL: "http://example.com"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(subs) != 1 || subs[0].Name != "b" {
		t.Fatalf("expected only the url subscription to survive, got %+v", subs)
	}
}

func TestSubscriptionMatchesContractAndPrefix(t *testing.T) {
	subs, err := CompileSubscriptions([]config.WebhookDef{
		{Name: "balances", Contract: "c1", KeyPrefix: "balance:", EndpointType: "url", URL: "http://example.com"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sub := subs[0]

	if !sub.Matches("c1", canonKey("balance:addr1")) {
		t.Fatal("expected match on contract+prefix")
	}
	if sub.Matches("c2", canonKey("balance:addr1")) {
		t.Fatal("expected no match on different contract")
	}
	if sub.Matches("c1", canonKey("supply:total")) {
		t.Fatal("expected no match on non-matching key prefix")
	}
}

type stubDispatcherStore struct {
	inserted []model.PendingWebhook
	prior    map[string]json.RawMessage
}

func (s *stubDispatcherStore) InsertPendingWebhook(ctx context.Context, w model.PendingWebhook) (int64, error) {
	s.inserted = append(s.inserted, w)
	return int64(len(s.inserted)), nil
}

func (s *stubDispatcherStore) PreviousValue(ctx context.Context, contract, key string, beforeBlock uint64) (*model.WasmEvent, error) {
	if v, ok := s.prior[contract+"/"+key]; ok {
		return &model.WasmEvent{ContractAddress: contract, Key: key, ValueJSON: v}, nil
	}
	return nil, nil
}

func TestEnqueueUsesInBatchPreviousValueBeforeStoreFallback(t *testing.T) {
	subs, _ := CompileSubscriptions([]config.WebhookDef{
		{Name: "balances", Contract: "c1", KeyPrefix: "balance:", EndpointType: "url", URL: "http://example.com"},
	})
	key := canonKey("balance:a")
	store := &stubDispatcherStore{prior: map[string]json.RawMessage{"c1/" + key: json.RawMessage(`"stale"`)}}
	d := New(store, subs)

	events := []model.WasmEvent{
		{BlockHeight: 1, ContractAddress: "c1", Key: key, ValueJSON: json.RawMessage(`"10"`)},
		{BlockHeight: 2, ContractAddress: "c1", Key: key, ValueJSON: json.RawMessage(`"20"`)},
	}
	if err := d.Enqueue(context.Background(), events); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.inserted) != 2 {
		t.Fatalf("expected one enqueued delivery per matching event, got %d", len(store.inserted))
	}

	var firstPayload, secondPayload deliveryPayload
	if err := json.Unmarshal(store.inserted[0].Value, &firstPayload); err != nil {
		t.Fatalf("unmarshal first payload: %v", err)
	}
	if err := json.Unmarshal(store.inserted[1].Value, &secondPayload); err != nil {
		t.Fatalf("unmarshal second payload: %v", err)
	}
	if string(firstPayload.Previous) != `"stale"` {
		t.Fatalf("expected the first event to fall back to the store's previous value, got %s", firstPayload.Previous)
	}
	if string(secondPayload.Previous) != `"10"` {
		t.Fatalf("expected the second event to see the first event's value from within the same batch, got %s", secondPayload.Previous)
	}
}

func TestEnqueueSkipsNonMatchingEvents(t *testing.T) {
	subs, _ := CompileSubscriptions([]config.WebhookDef{
		{Name: "balances", Contract: "c1", KeyPrefix: "balance:", EndpointType: "url", URL: "http://example.com"},
	})
	store := &stubDispatcherStore{}
	d := New(store, subs)

	events := []model.WasmEvent{
		{BlockHeight: 1, ContractAddress: "c2", Key: canonKey("balance:a"), ValueJSON: json.RawMessage(`"10"`)},
	}
	if err := d.Enqueue(context.Background(), events); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.inserted) != 0 {
		t.Fatalf("expected no deliveries for a non-matching contract, got %d", len(store.inserted))
	}
}

type stubDrainStore struct {
	pending  []model.PendingWebhook
	deleted  []int64
	failures map[int64]int
}

func (s *stubDrainStore) ListPendingWebhooks(ctx context.Context, limit int) ([]model.PendingWebhook, error) {
	return s.pending, nil
}

func (s *stubDrainStore) DeletePendingWebhook(ctx context.Context, id int64) error {
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *stubDrainStore) IncrementFailures(ctx context.Context, id int64) error {
	if s.failures == nil {
		s.failures = make(map[int64]int)
	}
	s.failures[id]++
	return nil
}

func TestDrainOnceDeliversURLEndpointAndDeletesOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ep, _ := json.Marshal(urlEndpoint{Method: "POST", URL: srv.URL})
	store := &stubDrainStore{pending: []model.PendingWebhook{
		{ID: 1, EndpointType: "url", Endpoint: ep, Value: json.RawMessage(`{"ok":true}`)},
	}}
	d := NewDrainer(store, config.Config{}, 2, zap.NewNop().Sugar(), nil)

	if err := d.DrainOnce(context.Background(), 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.deleted) != 1 || store.deleted[0] != 1 {
		t.Fatalf("expected the delivered webhook to be deleted, got %+v", store.deleted)
	}
}

func TestDrainOnceIncrementsFailuresOnUnreachableEndpoint(t *testing.T) {
	ep, _ := json.Marshal(urlEndpoint{Method: "POST", URL: "http://127.0.0.1:0"})
	store := &stubDrainStore{pending: []model.PendingWebhook{
		{ID: 7, EndpointType: "url", Endpoint: ep, Value: json.RawMessage(`{}`)},
	}}
	d := NewDrainer(store, config.Config{}, 2, zap.NewNop().Sugar(), nil)

	if err := d.DrainOnce(context.Background(), 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.failures[7] != 1 {
		t.Fatalf("expected one failure increment, got %d", store.failures[7])
	}
	if len(store.deleted) != 0 {
		t.Fatal("expected the failed webhook to remain pending, not deleted")
	}
}

func TestFireRejectsUnknownEndpointType(t *testing.T) {
	d := NewDrainer(&stubDrainStore{}, config.Config{}, 1, zap.NewNop().Sugar(), nil)
	err := d.fire(model.PendingWebhook{EndpointType: "carrier-pigeon"})
	if err == nil {
		t.Fatal("expected an error for an unknown endpoint type")
	}
}
