package formulas

import (
	"context"
	"encoding/json"
	"testing"

	"wasmindexer/internal/formula"
	"wasmindexer/internal/keycodec"
	"wasmindexer/internal/model"
)

// stubReader serves fixed values keyed by the canonical comma-byte form, the
// same form ingest.parseLine stores every WasmEvent.Key as.
type stubReader struct {
	values map[string]string
}

func (s *stubReader) LatestValueAtOrBefore(ctx context.Context, contract, key string, atBlock uint64) (*model.WasmEvent, error) {
	v, ok := s.values[contract+"/"+key]
	if !ok {
		return nil, nil
	}
	return &model.WasmEvent{ContractAddress: contract, Key: key, ValueJSON: json.RawMessage(v)}, nil
}

func (s *stubReader) RangeAtOrBefore(ctx context.Context, contract, keyPrefix string, atBlock uint64) ([]model.WasmEvent, error) {
	var out []model.WasmEvent
	for k, v := range s.values {
		prefix := contract + "/" + keyPrefix
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, model.WasmEvent{ContractAddress: contract, Key: k[len(contract)+1:], ValueJSON: json.RawMessage(v)})
		}
	}
	return out, nil
}

func (s *stubReader) FirstWriteTime(ctx context.Context, contract, key string) (*uint64, *uint64, error) {
	return nil, nil, nil
}

func (s *stubReader) GetContract(ctx context.Context, address string) (*model.Contract, error) {
	return nil, nil
}

func canonStoredKey(literal string) string {
	return keycodec.BytesToEventKey([]byte(literal))
}

func TestBalanceReadsCanonicalizedKey(t *testing.T) {
	reader := &stubReader{values: map[string]string{
		"c1/" + canonStoredKey("balance:addr1"): `"42"`,
	}}
	rt := formula.NewRuntime(reader, registryWith("balance", Balance), "test-chain")

	out, _, err := rt.Evaluate(context.Background(), "balance", "c1", map[string]string{"address": "addr1"}, 1, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != `"42"` {
		t.Fatalf("expected the canonical-key row to be found, got %s", out)
	}
}

func TestBalancePrefersV2KeyOverLegacy(t *testing.T) {
	reader := &stubReader{values: map[string]string{
		"c1/" + canonStoredKey("balance_v2:addr1"): `"100"`,
		"c1/" + canonStoredKey("balance:addr1"):    `"1"`,
	}}
	rt := formula.NewRuntime(reader, registryWith("balance", Balance), "test-chain")

	out, _, err := rt.Evaluate(context.Background(), "balance", "c1", map[string]string{"address": "addr1"}, 1, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != `"100"` {
		t.Fatalf("expected the v2 key to win, got %s", out)
	}
}

func TestBalanceDefaultsToZeroWhenUnwritten(t *testing.T) {
	reader := &stubReader{values: map[string]string{}}
	rt := formula.NewRuntime(reader, registryWith("balance", Balance), "test-chain")

	out, _, err := rt.Evaluate(context.Background(), "balance", "c1", map[string]string{"address": "addr1"}, 1, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != `"0"` {
		t.Fatalf("expected zero balance for an unwritten address, got %s", out)
	}
}

func TestTotalSupplySumsCanonicalizedPrefixRange(t *testing.T) {
	reader := &stubReader{values: map[string]string{
		"c1/" + canonStoredKey("balance:a"): `"10"`,
		"c1/" + canonStoredKey("balance:b"): `"15"`,
		"c1/" + canonStoredKey("supply:x"):  `"999"`,
	}}
	rt := formula.NewRuntime(reader, registryWith("total_supply", TotalSupply), "test-chain")

	out, _, err := rt.Evaluate(context.Background(), "total_supply", "c1", nil, 1, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != `"25"` {
		t.Fatalf("expected the balance: prefix rows to sum to 25 excluding supply:x, got %s", out)
	}
}

func registryWith(name string, f formula.Formula) *formula.Registry {
	reg := formula.NewRegistry()
	reg.Register(name, f)
	return reg
}
