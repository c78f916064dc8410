package formula

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"wasmindexer/internal/model"
)

// Registry maps formula names to implementations. voting_power /
// total_power style polymorphic formulas dispatch internally on the
// contract's canonical name (spec §9); register each concrete variant
// under its own name and let a thin wrapper formula choose among them.
type Registry struct {
	formulas map[string]Formula
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{formulas: make(map[string]Formula)}
}

// Register adds a formula under name, overwriting any previous registration.
func (r *Registry) Register(name string, f Formula) {
	r.formulas[name] = f
}

// Lookup returns the formula registered under name.
func (r *Registry) Lookup(name string) (Formula, bool) {
	f, ok := r.formulas[name]
	return f, ok
}

// Runtime evaluates formulas at a pinned block against an EventReader,
// accumulating the (contract, key-or-prefix) dependency set touched by the
// evaluation (spec §4.3).
type Runtime struct {
	reader   EventReader
	registry *Registry
	chainID  string
}

// NewRuntime builds a Runtime bound to a store and formula registry.
func NewRuntime(reader EventReader, registry *Registry, chainID string) *Runtime {
	return &Runtime{reader: reader, registry: registry, chainID: chainID}
}

// Evaluate runs formula f (looked up by name) for contract with args,
// pinned to block h, returning its output and the accumulated dependency
// set. A panic inside f is recovered and reported as a FormulaError,
// matching spec §7's "caught; the computation is not cached".
func (rt *Runtime) Evaluate(ctx context.Context, name, contract string, args map[string]string, h uint64, blockTimeUnixMs uint64) (out json.RawMessage, deps []model.Dependency, err error) {
	f, ok := rt.registry.Lookup(name)
	if !ok {
		return nil, nil, fmt.Errorf("formula %q: %w", name, errUnknownFormula)
	}

	acc := newDepAccumulator()
	env := &evalEnv{
		rt:       rt,
		acc:      acc,
		contract: contract,
		block:    h,
		blockT:   blockTimeUnixMs,
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("formula %q panicked: %v: %w", name, r, errFormulaEval)
		}
	}()

	out, err = f(ctx, env, args)
	if err != nil {
		return nil, nil, fmt.Errorf("formula %q: %w", name, err)
	}
	return out, acc.list(), nil
}

// Interval is one run of computeContractRange: f evaluated to output over
// [BlockValid, BlockLatest] inclusive.
type Interval struct {
	BlockValid  uint64
	BlockLatest uint64
	Output      json.RawMessage
	Deps        []model.Dependency
}

// ComputeContractRange evaluates f at every block in blockHeights (already
// filtered by the caller to blocks where a relevant event occurred) in
// [fromBlock, toBlock], run-length-compressing
// adjacent blocks with byte-identical output into a single Interval (spec
// §4.3).
func (rt *Runtime) ComputeContractRange(ctx context.Context, name, contract string, args map[string]string, blockHeights []uint64, blockTimes map[uint64]uint64, fromBlock, toBlock uint64) ([]Interval, error) {
	sorted := make([]uint64, 0, len(blockHeights))
	for _, h := range blockHeights {
		if h >= fromBlock && h <= toBlock {
			sorted = append(sorted, h)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var out []Interval
	for _, h := range sorted {
		output, deps, err := rt.Evaluate(ctx, name, contract, args, h, blockTimes[h])
		if err != nil {
			return nil, err
		}
		if len(out) > 0 {
			last := &out[len(out)-1]
			if bytesEqualJSON(last.Output, output) {
				last.BlockLatest = h
				last.Deps = mergeDeps(last.Deps, deps)
				continue
			}
		}
		out = append(out, Interval{BlockValid: h, BlockLatest: h, Output: output, Deps: deps})
	}
	return out, nil
}

func bytesEqualJSON(a, b json.RawMessage) bool {
	return strings.TrimSpace(string(a)) == strings.TrimSpace(string(b))
}

func mergeDeps(a, b []model.Dependency) []model.Dependency {
	seen := make(map[string]model.Dependency, len(a)+len(b))
	for _, d := range append(append([]model.Dependency{}, a...), b...) {
		seen[depKey(d)] = d
	}
	out := make([]model.Dependency, 0, len(seen))
	for _, d := range seen {
		out = append(out, d)
	}
	return out
}

func depKey(d model.Dependency) string {
	return fmt.Sprintf("%d:%s:%s", d.Kind, d.Contract, d.KeyOrPfx)
}
