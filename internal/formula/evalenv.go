package formula

import (
	"context"
	"encoding/json"
	"strings"

	"wasmindexer/internal/model"
)

// evalEnv is the concrete Env passed to a Formula during Runtime.Evaluate.
// It is pinned to one (contract, block) for its lifetime; Call spawns a
// nested evalEnv sharing the same dependency accumulator so nested formula
// calls' reads transit into the caller's recorded set (spec §9).
type evalEnv struct {
	rt       *Runtime
	acc      *depAccumulator
	contract string
	block    uint64
	blockT   uint64
}

func (e *evalEnv) Get(ctx context.Context, contract, key string) (json.RawMessage, error) {
	e.acc.addPoint(contract, key)
	ev, err := e.rt.reader.LatestValueAtOrBefore(ctx, contract, key, e.block)
	if err != nil {
		return nil, err
	}
	if ev == nil || ev.Delete {
		return nil, nil
	}
	if len(ev.ValueJSON) > 0 {
		return ev.ValueJSON, nil
	}
	if ev.Value != nil {
		b, _ := json.Marshal(*ev.Value)
		return b, nil
	}
	return nil, nil
}

func (e *evalEnv) GetMap(ctx context.Context, contract, prefix string) (map[string]json.RawMessage, error) {
	e.acc.addPrefix(contract, prefix)
	rows, err := e.rt.reader.RangeAtOrBefore(ctx, contract, prefix, e.block)
	if err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage, len(rows))
	for _, ev := range rows {
		if ev.Delete {
			continue
		}
		rest := strings.TrimPrefix(ev.Key, prefix)
		if len(ev.ValueJSON) > 0 {
			out[rest] = ev.ValueJSON
		} else if ev.Value != nil {
			b, _ := json.Marshal(*ev.Value)
			out[rest] = b
		}
	}
	return out, nil
}

func (e *evalEnv) GetCreatedAt(ctx context.Context, contract, key string) (*uint64, error) {
	e.acc.addPoint(contract, key)
	_, t, err := e.rt.reader.FirstWriteTime(ctx, contract, key)
	return t, err
}

func (e *evalEnv) GetCreatedAtBlock(ctx context.Context, contract, key string) (*uint64, error) {
	e.acc.addPoint(contract, key)
	h, _, err := e.rt.reader.FirstWriteTime(ctx, contract, key)
	return h, err
}

func (e *evalEnv) TargetContract() string  { return e.contract }
func (e *evalEnv) BlockHeight() uint64     { return e.block }
func (e *evalEnv) BlockTimeUnixMs() uint64 { return e.blockT }
func (e *evalEnv) ChainID() string         { return e.rt.chainID }

func (e *evalEnv) KnownContract(ctx context.Context, address string) (*model.Contract, error) {
	return e.rt.reader.GetContract(ctx, address)
}

func (e *evalEnv) Call(ctx context.Context, formulaName, contract string, args map[string]string) (json.RawMessage, error) {
	f, ok := e.rt.registry.Lookup(formulaName)
	if !ok {
		return nil, errUnknownFormula
	}
	nested := &evalEnv{rt: e.rt, acc: e.acc, contract: contract, block: e.block, blockT: e.blockT}
	return f(ctx, nested, args)
}
