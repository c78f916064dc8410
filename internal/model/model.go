// Package model holds the persisted shapes shared by every subsystem of the
// indexer: events as they arrive off the chain, the derived rows the
// transformer and computation cache own, and the singleton pipeline
// checkpoint.
package model

import "encoding/json"

// Block is a height-indexed point in the chain's history.
type Block struct {
	Height     uint64
	TimeUnixMs uint64
}

// Contract is the primary-key row for a contract address. CodeID mutates on
// chain migration; InstantiatedAtBlock is write-once and reflects the
// earliest event ever observed for the address, not the earliest event in
// any one batch.
type Contract struct {
	Address             string
	CodeID              uint64
	InstantiatedAtBlock uint64
	InstantiatedAtTime  uint64
}

// WasmEvent is a single contract state write or tombstone. The tuple
// (BlockHeight, ContractAddress, Key) is unique; Key is the canonical
// comma-separated-decimal-byte form produced by keycodec.
type WasmEvent struct {
	BlockHeight     uint64
	ContractAddress string
	CodeID          uint64
	Key             string
	Value           *string
	ValueJSON       json.RawMessage
	Delete          bool
	BlockTimeUnixMs uint64
}

// WasmEventTransformation is a rule-derived normalized projection of one or
// more raw events, keyed by (BlockHeight, ContractAddress, Name).
type WasmEventTransformation struct {
	BlockHeight     uint64
	ContractAddress string
	Name            string
	Value           json.RawMessage
	BlockTimeUnixMs uint64
}

// Computation is a cached formula output valid over [BlockHeightValid,
// BlockHeightLatest] for (Formula, TargetContract, ArgsHash).
type Computation struct {
	ID                int64
	Formula           string
	TargetContract    string
	Args              map[string]string
	ArgsHash          string
	BlockHeightValid  uint64
	BlockHeightLatest uint64
	Output            json.RawMessage
	Dependencies      []Dependency
}

// DependencyKind distinguishes a point read from a prefix (range) read.
type DependencyKind int

const (
	// DependencyPoint is a single-key read: get(contract, key).
	DependencyPoint DependencyKind = iota
	// DependencyPrefix is a range read: getMap(contract, prefix).
	DependencyPrefix
)

// Dependency is one (contract, key-or-prefix) read recorded during formula
// evaluation. A Point dependency intersects a change at exactly the same
// key; a Prefix dependency intersects any change whose key starts with it.
type Dependency struct {
	Kind     DependencyKind
	Contract string
	KeyOrPfx string
}

// Intersects reports whether a changed (contract, key) pair invalidates this
// dependency.
func (d Dependency) Intersects(contract, key string) bool {
	if d.Contract != contract {
		return false
	}
	switch d.Kind {
	case DependencyPoint:
		return d.KeyOrPfx == key
	case DependencyPrefix:
		return len(key) >= len(d.KeyOrPfx) && key[:len(d.KeyOrPfx)] == d.KeyOrPfx
	default:
		return false
	}
}

// ChangeKey is one (contract, key) write observed during a flush — the
// union of new WasmEvent and WasmEventTransformation rows fed into
// invalidation (spec §4.4).
type ChangeKey struct {
	Contract    string
	Key         string
	BlockHeight uint64
}

// State is the singleton pipeline checkpoint row. All updates are
// monotonic-max: a field never regresses under crash-restart or replay.
type State struct {
	LastWasmBlockHeightExported uint64
	LatestBlockHeight           uint64
	LatestBlockTimeUnixMs       uint64
}

// Advance folds in a newly observed block height/time using monotonic max.
func (s *State) Advance(height, timeUnixMs uint64) {
	if height > s.LastWasmBlockHeightExported {
		s.LastWasmBlockHeightExported = height
	}
	if height > s.LatestBlockHeight {
		s.LatestBlockHeight = height
	}
	if timeUnixMs > s.LatestBlockTimeUnixMs {
		s.LatestBlockTimeUnixMs = timeUnixMs
	}
}

// InvalidationResult reports how many computations an invalidation pass
// destroyed versus truncated (spec §4.4). Lives in model, not compute, so
// that narrow consumer-side interfaces (e.g. ingest.Cache) can name this
// return type without importing compute.
type InvalidationResult struct {
	Updated   int
	Destroyed int
}

// PendingWebhook is a queued delivery: created on event match, deleted on
// success, retained with an incremented Failures count on failure. Endpoint
// is the JSON-encoded endpoint descriptor (Url{method,headers,url} or
// Soketi{channel,event}); EndpointType discriminates it without a parse.
type PendingWebhook struct {
	ID           int64
	EventID      int64
	EndpointType string
	Endpoint     json.RawMessage
	Value        json.RawMessage
	Failures     int
}
