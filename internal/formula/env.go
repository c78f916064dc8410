// Package formula is the Formula Runtime: a read-through, block-scoped view
// over contract state that evaluates named formulas and records their
// value-dependency set (spec §4.3).
package formula

import (
	"context"
	"encoding/json"

	"wasmindexer/internal/model"
)

// EventReader is the subset of the Event Store the runtime reads through.
// Implemented by *store.DB; named narrowly here so formula does not import
// store (store is a leaf; formula and compute sit above it).
type EventReader interface {
	LatestValueAtOrBefore(ctx context.Context, contract, key string, atBlock uint64) (*model.WasmEvent, error)
	RangeAtOrBefore(ctx context.Context, contract, keyPrefix string, atBlock uint64) ([]model.WasmEvent, error)
	FirstWriteTime(ctx context.Context, contract, key string) (*uint64, *uint64, error)
	GetContract(ctx context.Context, address string) (*model.Contract, error)
}

// Env is the environment exposed to a Formula during evaluation (spec
// §4.3). Every read transits through the runtime so dependencies are
// recorded regardless of call depth (spec §9 — "must transit nested
// calls").
type Env interface {
	// Get reads the latest value at or before the pinned block for
	// (contract, key). Returns nil if never written or the latest write is
	// a tombstone. Records a Point dependency.
	Get(ctx context.Context, contract, key string) (json.RawMessage, error)

	// GetMap performs a range read over a key prefix, returning a mapping
	// from the remainder of the key (after the prefix) to its value.
	// Records a Prefix dependency.
	GetMap(ctx context.Context, contract, prefix string) (map[string]json.RawMessage, error)

	// GetCreatedAt returns the block time of the first write to
	// (contract, key), or nil if never written.
	GetCreatedAt(ctx context.Context, contract, key string) (*uint64, error)

	// GetCreatedAtBlock returns the block height of the first write to
	// (contract, key), or nil if never written. SPEC_FULL supplement to
	// getCreatedAt, avoiding a second read for age-in-blocks formulas.
	GetCreatedAtBlock(ctx context.Context, contract, key string) (*uint64, error)

	// BlockHeight, BlockTimeUnixMs, ChainID and KnownContract implement
	// getEnv() (spec §4.3): blockHeight, blockTimeUnixMs, chainId, and a
	// cache of known contracts.
	BlockHeight() uint64
	BlockTimeUnixMs() uint64
	ChainID() string
	KnownContract(ctx context.Context, address string) (*model.Contract, error)

	// Call evaluates another formula by name against the same pinned
	// block, transiting its dependencies into this evaluation's
	// accumulator (spec §9 — formulas may call other formulas).
	Call(ctx context.Context, formulaName, contract string, args map[string]string) (json.RawMessage, error)

	// TargetContract returns the contract this evaluation was pinned
	// against by Runtime.Evaluate (or by the Call that spawned a nested
	// evaluation).
	TargetContract() string
}

// Formula is a deterministic function of the environment plus its args.
// Implementations must be pure: same (env snapshot, args) always yields the
// same output (spec §4.3). The runtime does not detect non-determinism.
type Formula func(ctx context.Context, env Env, args map[string]string) (json.RawMessage, error)
