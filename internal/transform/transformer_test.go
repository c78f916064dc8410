package transform

import (
	"encoding/json"
	"testing"

	"wasmindexer/internal/keycodec"
	"wasmindexer/internal/model"
)

func balanceKey(addr string) string {
	return keycodec.BytesToEventKey(append([]byte("balance:"), []byte(addr)...))
}

func TestTransformerDedupesByBlockContractName(t *testing.T) {
	rule := Rule{
		Name: "balance",
		NameTemplate: func(segs [][]byte) string {
			return "balance"
		},
	}
	tr := New(rule)

	events := []model.WasmEvent{
		{BlockHeight: 1, ContractAddress: "c1", Key: balanceKey("a"), ValueJSON: json.RawMessage(`"10"`)},
		{BlockHeight: 1, ContractAddress: "c1", Key: balanceKey("b"), ValueJSON: json.RawMessage(`"20"`)},
	}
	out := tr.Run(events)
	if len(out) != 1 {
		t.Fatalf("expected dedup to one row per (block,contract,name), got %d: %+v", len(out), out)
	}
	if string(out[0].Value) != `"20"` {
		t.Fatalf("expected the later match to win, got %s", out[0].Value)
	}
}

func TestTransformerSkipsTombstoneWithoutPropagateDeletes(t *testing.T) {
	rule := Rule{Name: "no-deletes", PropagateDeletes: false}
	tr := New(rule)

	out := tr.Run([]model.WasmEvent{
		{BlockHeight: 1, ContractAddress: "c1", Key: "1,2,3", Delete: true},
	})
	if len(out) != 0 {
		t.Fatalf("expected tombstone to be dropped, got %+v", out)
	}
}

func TestTransformerPropagatesDeleteAsNull(t *testing.T) {
	rule := Rule{Name: "with-deletes", PropagateDeletes: true}
	tr := New(rule)

	out := tr.Run([]model.WasmEvent{
		{BlockHeight: 1, ContractAddress: "c1", Key: "1,2,3", Delete: true},
	})
	if len(out) != 1 {
		t.Fatalf("expected one tombstone row, got %+v", out)
	}
	if out[0].Value != nil {
		t.Fatalf("expected null value for propagated delete, got %s", out[0].Value)
	}
}

func TestTransformerContractFilterExcludesNonMatching(t *testing.T) {
	rule := Rule{
		Name:           "only-c1",
		ContractFilter: func(c string) bool { return c == "c1" },
	}
	tr := New(rule)

	out := tr.Run([]model.WasmEvent{
		{BlockHeight: 1, ContractAddress: "c2", Key: "1,2,3", ValueJSON: json.RawMessage(`1`)},
	})
	if len(out) != 0 {
		t.Fatalf("expected non-matching contract to be filtered, got %+v", out)
	}
}
