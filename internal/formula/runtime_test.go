package formula

import (
	"context"
	"encoding/json"
	"testing"

	"wasmindexer/internal/model"
)

// stubReader serves fixed values for a single (contract, key) regardless of
// block height, enough to exercise ComputeContractRange's run-length
// compression without a database.
type stubReader struct {
	values map[string]string
}

func (s *stubReader) LatestValueAtOrBefore(ctx context.Context, contract, key string, atBlock uint64) (*model.WasmEvent, error) {
	v, ok := s.values[contract+"/"+key]
	if !ok {
		return nil, nil
	}
	raw := json.RawMessage(v)
	return &model.WasmEvent{ContractAddress: contract, Key: key, ValueJSON: raw}, nil
}

func (s *stubReader) RangeAtOrBefore(ctx context.Context, contract, keyPrefix string, atBlock uint64) ([]model.WasmEvent, error) {
	return nil, nil
}

func (s *stubReader) FirstWriteTime(ctx context.Context, contract, key string) (*uint64, *uint64, error) {
	return nil, nil, nil
}

func (s *stubReader) GetContract(ctx context.Context, address string) (*model.Contract, error) {
	return nil, nil
}

func echoBalance(ctx context.Context, env Env, args map[string]string) (json.RawMessage, error) {
	return env.Get(ctx, env.TargetContract(), "balance:"+args["address"])
}

func TestComputeContractRangeCompressesEqualOutputs(t *testing.T) {
	reg := NewRegistry()
	reg.Register("balance", echoBalance)
	reader := &stubReader{values: map[string]string{"c1/balance:a": `"5"`}}
	rt := NewRuntime(reader, reg, "test-chain")

	intervals, err := rt.ComputeContractRange(context.Background(), "balance", "c1",
		map[string]string{"address": "a"}, []uint64{1, 2, 3, 10}, nil, 1, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(intervals) != 1 {
		t.Fatalf("expected all equal outputs to compress to one interval, got %d: %+v", len(intervals), intervals)
	}
	if intervals[0].BlockValid != 1 || intervals[0].BlockLatest != 10 {
		t.Fatalf("unexpected interval bounds: %+v", intervals[0])
	}
}

func TestComputeContractRangeSplitsOnOutputChange(t *testing.T) {
	reg := NewRegistry()
	seen := 0
	reg.Register("stepped", func(ctx context.Context, env Env, args map[string]string) (json.RawMessage, error) {
		seen++
		if env.BlockHeight() < 5 {
			return json.RawMessage(`"low"`), nil
		}
		return json.RawMessage(`"high"`), nil
	})
	reader := &stubReader{}
	rt := NewRuntime(reader, reg, "test-chain")

	intervals, err := rt.ComputeContractRange(context.Background(), "stepped", "c1", nil,
		[]uint64{1, 4, 5, 9}, nil, 1, 9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(intervals) != 2 {
		t.Fatalf("expected a split at the output change, got %d: %+v", len(intervals), intervals)
	}
	if intervals[0].BlockValid != 1 || intervals[0].BlockLatest != 4 {
		t.Fatalf("unexpected first interval: %+v", intervals[0])
	}
	if intervals[1].BlockValid != 5 || intervals[1].BlockLatest != 9 {
		t.Fatalf("unexpected second interval: %+v", intervals[1])
	}
}

func TestEvaluateRecordsPointDependency(t *testing.T) {
	reg := NewRegistry()
	reg.Register("balance", echoBalance)
	reader := &stubReader{values: map[string]string{"c1/balance:a": `"5"`}}
	rt := NewRuntime(reader, reg, "test-chain")

	_, deps, err := rt.Evaluate(context.Background(), "balance", "c1", map[string]string{"address": "a"}, 1, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deps) != 1 || deps[0].Kind != model.DependencyPoint || deps[0].KeyOrPfx != "balance:a" {
		t.Fatalf("unexpected dependencies: %+v", deps)
	}
}

func TestEvaluateUnknownFormula(t *testing.T) {
	rt := NewRuntime(&stubReader{}, NewRegistry(), "test-chain")
	if _, _, err := rt.Evaluate(context.Background(), "nope", "c1", nil, 1, 0); err == nil {
		t.Fatal("expected error for unregistered formula")
	}
}
