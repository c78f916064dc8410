package compute

import (
	"context"
	"fmt"

	"wasmindexer/internal/errs"
	"wasmindexer/internal/formula"
	"wasmindexer/internal/metrics"
	"wasmindexer/internal/model"
)

// Store is the persistence surface the cache drives. Implemented by
// *store.DB; named narrowly here so compute does not import store.
type Store interface {
	FindComputation(ctx context.Context, formulaName, targetContract, argsHash string, atBlock uint64) (*model.Computation, error)
	InsertComputation(ctx context.Context, c model.Computation) (int64, error)
	ExtendComputationLatest(ctx context.Context, id int64, newLatest uint64) error
	ReplaceDependencies(ctx context.Context, computationID int64, deps []model.Dependency) error
	LoadDependencies(ctx context.Context, computationID int64) ([]model.Dependency, error)
	TruncateComputation(ctx context.Context, id int64, newLatest uint64) error
	DeleteComputation(ctx context.Context, id int64) error
	ComputationsTouchedByChanges(ctx context.Context, changes []model.ChangeKey) ([]model.Computation, error)
	GetState(ctx context.Context) (*model.State, error)
}

// Cache is the Computation Cache (spec §4.4).
type Cache struct {
	store   Store
	runtime *formula.Runtime
	metrics *metrics.Collectors
}

// New builds a Cache bound to a store and the formula runtime used to fill
// misses on the read path. m may be nil to disable instrumentation.
func New(store Store, runtime *formula.Runtime, m *metrics.Collectors) *Cache {
	return &Cache{store: store, runtime: runtime, metrics: m}
}

// Query implements the read path (spec §4.4): return a cached computation
// covering atBlock if one exists; otherwise evaluate, store, and return —
// unless atBlock is beyond what has been indexed, in which case
// ErrNotYetIndexed is returned.
func (c *Cache) Query(ctx context.Context, formulaName, contract string, args map[string]string, atBlock *uint64) (*model.Computation, error) {
	st, err := c.store.GetState(ctx)
	if err != nil {
		return nil, fmt.Errorf("query state: %w", err)
	}
	h := st.LatestBlockHeight
	if atBlock != nil {
		h = *atBlock
	}

	argsHash := ArgsHash(args)
	existing, err := c.store.FindComputation(ctx, formulaName, contract, argsHash, h)
	if err != nil {
		return nil, fmt.Errorf("find computation: %w", err)
	}
	if existing != nil {
		if c.metrics != nil {
			c.metrics.CacheHits.Inc()
		}
		existing.Args = args
		return existing, nil
	}
	if c.metrics != nil {
		c.metrics.CacheMisses.Inc()
	}

	if h > st.LatestBlockHeight {
		return nil, errs.ErrNotYetIndexed
	}

	// Only the checkpoint's own time is tracked on State; a query pinned to
	// an earlier block still evaluates correctly (formulas key reads off
	// BlockHeight, not BlockTimeUnixMs) but sees the checkpoint's time for
	// getEnv().blockTimeUnixMs rather than that historical block's own time.
	blockTime := st.LatestBlockTimeUnixMs
	output, deps, err := c.runtime.Evaluate(ctx, formulaName, contract, args, h, blockTime)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrFormulaEval, err)
	}

	id, err := c.store.InsertComputation(ctx, model.Computation{
		Formula:           formulaName,
		TargetContract:    contract,
		Args:              args,
		ArgsHash:          argsHash,
		BlockHeightValid:  h,
		BlockHeightLatest: h,
		Output:            output,
		Dependencies:      deps,
	})
	if err != nil {
		return nil, fmt.Errorf("insert computation: %w", err)
	}
	return &model.Computation{
		ID: id, Formula: formulaName, TargetContract: contract, Args: args, ArgsHash: argsHash,
		BlockHeightValid: h, BlockHeightLatest: h, Output: output, Dependencies: deps,
	}, nil
}

// CreateFromComputationOutputs upserts computation rows from a
// computeContractRange result (spec §4.4 write path): each interval either
// extends a rightward-adjacent equal-output row (one ending at
// BlockValid-1) or is inserted as a new row. Existing rows that overlap an
// interval are not looked up, trimmed or removed, so the ranges for the
// identity stay disjoint only when the intervals do not overlap stored rows.
func (c *Cache) CreateFromComputationOutputs(ctx context.Context, formulaName, contract string, args map[string]string, intervals []formula.Interval) error {
	if len(intervals) == 0 {
		return nil
	}
	argsHash := ArgsHash(args)

	for _, iv := range intervals {
		// An existing row ending exactly where this interval begins, with
		// the same output, extends rightward rather than inserting a new
		// row (spec §4.4).
		var adjacent *model.Computation
		var err error
		if iv.BlockValid > 0 {
			adjacent, err = c.store.FindComputation(ctx, formulaName, contract, argsHash, iv.BlockValid-1)
		}
		if err == nil && adjacent != nil && adjacent.BlockHeightLatest == iv.BlockValid-1 && sameOutput(adjacent.Output, iv.Output) {
			if err := c.store.ExtendComputationLatest(ctx, adjacent.ID, iv.BlockLatest); err != nil {
				return fmt.Errorf("extend computation: %w", err)
			}
			existingDeps, derr := c.store.LoadDependencies(ctx, adjacent.ID)
			if derr != nil {
				return fmt.Errorf("load existing dependencies: %w", derr)
			}
			merged := mergeDependencies(existingDeps, iv.Deps)
			if err := c.store.ReplaceDependencies(ctx, adjacent.ID, merged); err != nil {
				return fmt.Errorf("replace dependencies: %w", err)
			}
			continue
		}

		if _, err := c.store.InsertComputation(ctx, model.Computation{
			Formula:           formulaName,
			TargetContract:    contract,
			Args:              args,
			ArgsHash:          argsHash,
			BlockHeightValid:  iv.BlockValid,
			BlockHeightLatest: iv.BlockLatest,
			Output:            iv.Output,
			Dependencies:      iv.Deps,
		}); err != nil {
			return fmt.Errorf("insert computation: %w", err)
		}
	}
	return nil
}

func sameOutput(a, b []byte) bool {
	return string(a) == string(b)
}

func mergeDependencies(a, b []model.Dependency) []model.Dependency {
	seen := make(map[string]model.Dependency, len(a)+len(b))
	key := func(d model.Dependency) string {
		return fmt.Sprintf("%d:%s:%s", d.Kind, d.Contract, d.KeyOrPfx)
	}
	for _, d := range a {
		seen[key(d)] = d
	}
	for _, d := range b {
		seen[key(d)] = d
	}
	out := make([]model.Dependency, 0, len(seen))
	for _, d := range seen {
		out = append(out, d)
	}
	return out
}

// UpdateComputationValidityDependentOnChanges is the invalidation algorithm
// (spec §4.4). For every computation whose dependency set intersects the
// change set:
//
//  1. hmin = minimum block height among intersecting changes.
//  2. hmin > C.BlockHeightLatest  -> no action.
//  3. hmin <= C.BlockHeightValid  -> destroy C entirely.
//  4. else                        -> truncate: C.BlockHeightLatest = hmin-1.
func (c *Cache) UpdateComputationValidityDependentOnChanges(ctx context.Context, changes []model.ChangeKey) (model.InvalidationResult, error) {
	var res model.InvalidationResult
	if len(changes) == 0 {
		return res, nil
	}

	touched, err := c.store.ComputationsTouchedByChanges(ctx, changes)
	if err != nil {
		return res, fmt.Errorf("find touched computations: %w", err)
	}

	minHeightPerComputation := make(map[int64]uint64, len(touched))
	deps := make(map[int64][]model.Dependency, len(touched))
	for _, comp := range touched {
		d, err := c.store.LoadDependencies(ctx, comp.ID)
		if err != nil {
			return res, fmt.Errorf("load dependencies for %d: %w", comp.ID, err)
		}
		deps[comp.ID] = d
	}

	for _, comp := range touched {
		var hmin uint64
		found := false
		for _, ch := range changes {
			for _, d := range deps[comp.ID] {
				if d.Intersects(ch.Contract, ch.Key) {
					if !found || ch.BlockHeight < hmin {
						hmin = ch.BlockHeight
						found = true
					}
					break
				}
			}
		}
		if !found {
			continue
		}
		minHeightPerComputation[comp.ID] = hmin

		switch {
		case hmin > comp.BlockHeightLatest:
			// Still valid through its bound; lazily recomputed on next read.
		case hmin <= comp.BlockHeightValid:
			if err := c.store.DeleteComputation(ctx, comp.ID); err != nil {
				return res, fmt.Errorf("destroy computation %d: %w", comp.ID, err)
			}
			res.Destroyed++
			if c.metrics != nil {
				c.metrics.ComputationsDestroyed.Inc()
			}
		default:
			if err := c.store.TruncateComputation(ctx, comp.ID, hmin-1); err != nil {
				return res, fmt.Errorf("truncate computation %d: %w", comp.ID, err)
			}
			res.Updated++
			if c.metrics != nil {
				c.metrics.ComputationsTruncated.Inc()
			}
		}
	}
	return res, nil
}
