package formula

import (
	"errors"
	"sync"

	"wasmindexer/internal/model"
)

var (
	errUnknownFormula = errors.New("unknown formula")
	errFormulaEval    = errors.New("formula evaluation failed")
)

// depAccumulator is the per-evaluation dependency set (spec §4.3). It is
// safe for concurrent use since a formula may fan its own reads out
// concurrently (e.g. getMap callers iterating results in parallel).
type depAccumulator struct {
	mu   sync.Mutex
	seen map[string]model.Dependency
}

func newDepAccumulator() *depAccumulator {
	return &depAccumulator{seen: make(map[string]model.Dependency)}
}

func (a *depAccumulator) addPoint(contract, key string) {
	a.add(model.Dependency{Kind: model.DependencyPoint, Contract: contract, KeyOrPfx: key})
}

func (a *depAccumulator) addPrefix(contract, prefix string) {
	a.add(model.Dependency{Kind: model.DependencyPrefix, Contract: contract, KeyOrPfx: prefix})
}

func (a *depAccumulator) add(d model.Dependency) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seen[depKey(d)] = d
}

func (a *depAccumulator) merge(other []model.Dependency) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, d := range other {
		a.seen[depKey(d)] = d
	}
}

func (a *depAccumulator) list() []model.Dependency {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.Dependency, 0, len(a.seen))
	for _, d := range a.seen {
		out = append(out, d)
	}
	return out
}
