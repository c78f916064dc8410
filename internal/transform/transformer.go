package transform

import (
	"strconv"

	"wasmindexer/internal/model"
)

// Transformer holds the registered rules and evaluates them over a batch of
// parsed events (spec §4.2).
type Transformer struct {
	rules []Rule
}

// New builds a Transformer with the given rule set.
func New(rules ...Rule) *Transformer {
	return &Transformer{rules: rules}
}

// Run enumerates rules against every event, returning one
// WasmEventTransformation per (block, contract, name) match — the last
// matching rule's value wins for a given name within this call, matching
// the store's upsert-on-duplicate semantics for the same call.
func (t *Transformer) Run(events []model.WasmEvent) []model.WasmEventTransformation {
	byKey := make(map[[3]string]model.WasmEventTransformation)
	order := make([][3]string, 0)

	for _, e := range events {
		for _, rule := range t.rules {
			segs, ok := rule.matches(e)
			if !ok {
				continue
			}
			if e.Delete && !rule.PropagateDeletes {
				continue
			}

			var res ProjectResult
			if rule.Project != nil {
				res = rule.Project(e, segs)
			} else if e.Delete {
				res = ProjectResult{Value: nil}
			} else {
				res = ProjectResult{Value: e.ValueJSON}
			}
			if res.Skipped {
				continue
			}

			name := e.Key
			if rule.NameTemplate != nil {
				name = rule.NameTemplate(segs)
			}
			key := [3]string{strconv.FormatUint(e.BlockHeight, 10), e.ContractAddress, name}
			if _, seen := byKey[key]; !seen {
				order = append(order, key)
			}
			byKey[key] = model.WasmEventTransformation{
				BlockHeight:     e.BlockHeight,
				ContractAddress: e.ContractAddress,
				Name:            name,
				Value:           res.Value,
				BlockTimeUnixMs: e.BlockTimeUnixMs,
			}
		}
	}

	out := make([]model.WasmEventTransformation, 0, len(order))
	for _, k := range order {
		out = append(out, byKey[k])
	}
	return out
}
