package ingest

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"go.uber.org/zap"

	"wasmindexer/internal/model"
	"wasmindexer/internal/transform"
)

type stubStore struct {
	contractBatches []int
	events          []model.WasmEvent
	transformations []model.WasmEventTransformation
	advances        []model.State
	state           model.State
}

func (s *stubStore) UpsertContracts(ctx context.Context, batch []model.WasmEvent) error {
	s.contractBatches = append(s.contractBatches, len(batch))
	return nil
}

func (s *stubStore) UpsertEvents(ctx context.Context, batch []model.WasmEvent) ([]model.WasmEvent, error) {
	s.events = append(s.events, batch...)
	return batch, nil
}

func (s *stubStore) UpsertTransformations(ctx context.Context, rows []model.WasmEventTransformation) error {
	s.transformations = append(s.transformations, rows...)
	return nil
}

func (s *stubStore) AdvanceState(ctx context.Context, height, timeUnixMs uint64) error {
	s.state.Advance(height, timeUnixMs)
	s.advances = append(s.advances, s.state)
	return nil
}

func (s *stubStore) GetState(ctx context.Context) (*model.State, error) {
	st := s.state
	return &st, nil
}

type stubCache struct{ calls int }

func (c *stubCache) UpdateComputationValidityDependentOnChanges(ctx context.Context, changes []model.ChangeKey) (model.InvalidationResult, error) {
	c.calls++
	return model.InvalidationResult{}, nil
}

type stubIndexer struct{ reindexed [][]string }

func (s *stubIndexer) Reindex(ctx context.Context, contracts []string) error {
	s.reindexed = append(s.reindexed, contracts)
	return nil
}

func lineFor(blockHeight uint64, contract, rawKey, value string, delete bool) string {
	key := base64.StdEncoding.EncodeToString([]byte(rawKey))
	var valField string
	if delete {
		valField = `null`
	} else {
		valField = `"` + base64.StdEncoding.EncodeToString([]byte(value)) + `"`
	}
	return `{"blockHeight":` + itoaHelper(blockHeight) + `,"blockTimeUnixMs":0,"contractAddress":"` + contract + `","codeId":1,"key":"` + key + `","value":` + valField + `,"delete":` + boolStr(delete) + `}`
}

func itoaHelper(h uint64) string {
	if h == 0 {
		return "0"
	}
	digits := []byte{}
	for h > 0 {
		digits = append([]byte{byte('0' + h%10)}, digits...)
		h /= 10
	}
	return string(digits)
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func newTestDriver(t *testing.T, store *stubStore, cache *stubCache, indexer *stubIndexer, batch int) *Driver {
	t.Helper()
	d, err := New(context.Background(), store, transform.New(), cache, nil, indexer, zap.NewNop().Sugar(), Options{Batch: batch}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func TestFlushTriggersOnBatchThresholdAtBlockBoundary(t *testing.T) {
	store := &stubStore{}
	cache := &stubCache{}
	indexer := &stubIndexer{}
	d := newTestDriver(t, store, cache, indexer, 2)

	lines := strings.Join([]string{
		lineFor(1, "c1", "k1", "v1", false),
		lineFor(1, "c1", "k2", "v2", false),
		lineFor(2, "c1", "k3", "v3", false),
	}, "\n")

	if err := d.Run(context.Background(), strings.NewReader(lines)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Batch=2 is reached after the two block-1 events, but the flush trigger
	// requires the NEXT record to start a new block — so the flush only
	// fires once the block-2 record arrives, never splitting block 1.
	if len(store.contractBatches) != 2 {
		t.Fatalf("expected two flushes (at the block boundary, then at stream end), got %d: %v", len(store.contractBatches), store.contractBatches)
	}
	if store.contractBatches[0] != 2 {
		t.Fatalf("expected the first flush to contain exactly the 2 block-1 events, got %d", store.contractBatches[0])
	}
}

func TestFlushIsNoOpOnEmptyBuffer(t *testing.T) {
	store := &stubStore{}
	cache := &stubCache{}
	indexer := &stubIndexer{}
	d := newTestDriver(t, store, cache, indexer, 100)

	if err := d.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(store.contractBatches) != 0 {
		t.Fatal("expected no upsert on an empty buffer")
	}
}

func TestRunSkipsRecordsBeforeInitialBlock(t *testing.T) {
	store := &stubStore{state: model.State{LastWasmBlockHeightExported: 5}}
	cache := &stubCache{}
	indexer := &stubIndexer{}
	d := newTestDriver(t, store, cache, indexer, 100)

	lines := strings.Join([]string{
		lineFor(3, "c1", "k1", "v1", false),
		lineFor(6, "c1", "k2", "v2", false),
	}, "\n")

	if err := d.Run(context.Background(), strings.NewReader(lines)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.events) != 1 || store.events[0].BlockHeight != 6 {
		t.Fatalf("expected only the block-6 event to be ingested, got %+v", store.events)
	}
}

func TestRunSkipsMalformedLinesWithoutHalting(t *testing.T) {
	store := &stubStore{}
	cache := &stubCache{}
	indexer := &stubIndexer{}
	d := newTestDriver(t, store, cache, indexer, 100)

	lines := strings.Join([]string{
		`not valid json`,
		lineFor(1, "c1", "k1", "v1", false),
	}, "\n")

	if err := d.Run(context.Background(), strings.NewReader(lines)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.events) != 1 {
		t.Fatalf("expected the malformed line to be skipped and the valid one ingested, got %+v", store.events)
	}
}
