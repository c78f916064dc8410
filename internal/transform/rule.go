// Package transform is the Transformer: pattern-matches parsed events
// against transformation rules and writes derived WasmEventTransformation
// rows (spec §4.2).
package transform

import (
	"encoding/json"

	"wasmindexer/internal/keycodec"
	"wasmindexer/internal/model"
)

// ProjectResult is the outcome of a rule's Project call: either a value
// (possibly null, representing a delete under the rule's delete policy) or
// Skipped=true, the rule's "⊥" skip signal (spec §4.2).
type ProjectResult struct {
	Skipped bool
	Value   json.RawMessage
}

// Rule is one transformation rule shape (spec §4.2): a contract filter, a
// key filter over decoded key segments, a name template, and a projection.
type Rule struct {
	// Name identifies the rule for logging; NameTemplate produces the
	// stored transformation name from the matched event's decoded key
	// segments. A nil NameTemplate uses the event's canonical key as the name.
	Name         string
	ContractFilter func(contractAddress string) bool
	KeyFilter      func(segments [][]byte) bool
	NameTemplate   func(segments [][]byte) string
	Project        func(e model.WasmEvent, segments [][]byte) ProjectResult
	// PropagateDeletes: if true, a tombstone event projects to a null
	// value row; if false, a tombstone event is dropped (no row written).
	PropagateDeletes bool
}

// matches reports whether rule applies to e, decoding its key once.
func (r Rule) matches(e model.WasmEvent) (segments [][]byte, ok bool) {
	if r.ContractFilter != nil && !r.ContractFilter(e.ContractAddress) {
		return nil, false
	}
	raw, err := keycodec.EventKeyToBytes(e.Key)
	if err != nil {
		return nil, false
	}
	segs, err := keycodec.DecodeSegments(raw)
	if err != nil {
		return nil, false
	}
	if r.KeyFilter != nil && !r.KeyFilter(segs) {
		return nil, false
	}
	return segs, true
}
