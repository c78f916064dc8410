// Package ingest is the Ingestion Driver (spec §4.5): reads a line-oriented
// event stream, buffers records, and flushes them through the rest of the
// pipeline at block boundaries.
package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"wasmindexer/internal/metrics"
	"wasmindexer/internal/model"
	"wasmindexer/internal/search"
	"wasmindexer/internal/transform"
)

// Dispatcher is the narrow surface the driver needs from the webhook
// subsystem; nil disables step 6 entirely.
type Dispatcher interface {
	Enqueue(ctx context.Context, events []model.WasmEvent) error
}

// Cache is the narrow surface the driver needs from the computation cache.
type Cache interface {
	UpdateComputationValidityDependentOnChanges(ctx context.Context, changes []model.ChangeKey) (model.InvalidationResult, error)
}

// Store is the persistence surface the driver's flush procedure needs.
// Implemented by *store.DB; named narrowly so ingest does not import store
// directly, matching the layering the rest of the module uses.
type Store interface {
	UpsertContracts(ctx context.Context, batch []model.WasmEvent) error
	UpsertEvents(ctx context.Context, batch []model.WasmEvent) ([]model.WasmEvent, error)
	UpsertTransformations(ctx context.Context, rows []model.WasmEventTransformation) error
	AdvanceState(ctx context.Context, height, timeUnixMs uint64) error
	GetState(ctx context.Context) (*model.State, error)
}

// Options configures a Driver.
type Options struct {
	Batch               int
	InitialBlockHeight  *uint64
	CacheUpdatesEnabled bool
	WebhooksEnabled     bool
}

// Driver owns the pending buffer and the caught-up/flush protocol described
// in spec §4.5.
type Driver struct {
	db          Store
	transformer *transform.Transformer
	cache       Cache
	dispatcher  Dispatcher
	indexer     search.Indexer
	log         *zap.SugaredLogger
	opts        Options
	metrics     *metrics.Collectors

	pending             []model.WasmEvent
	lastBlockHeightSeen uint64
	initialBlock        uint64
	caughtUp            bool
}

// New builds a Driver. initialBlock is resolved once at construction from
// opts.InitialBlockHeight or the store's current checkpoint
// (lastWasmBlockHeightExported + 1). m may be nil to disable instrumentation.
func New(ctx context.Context, db Store, transformer *transform.Transformer, cache Cache, dispatcher Dispatcher, indexer search.Indexer, log *zap.SugaredLogger, opts Options, m *metrics.Collectors) (*Driver, error) {
	initial := uint64(0)
	if opts.InitialBlockHeight != nil {
		initial = *opts.InitialBlockHeight
	} else {
		st, err := db.GetState(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve initial block height: %w", err)
		}
		initial = st.LastWasmBlockHeightExported + 1
	}
	if opts.Batch <= 0 {
		opts.Batch = 5000
	}
	return &Driver{
		db:           db,
		transformer:  transformer,
		cache:        cache,
		dispatcher:   dispatcher,
		indexer:      indexer,
		log:          log,
		opts:         opts,
		initialBlock: initial,
		metrics:      m,
	}, nil
}

// Run reads newline-delimited JSON records from r until EOF or ctx is
// cancelled, flushing at block boundaries per the batch threshold, and
// performs a final flush before returning (spec §4.5: "an explicit flush()
// is also invoked at stream end or on shutdown").
func (d *Driver) Run(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return d.Flush(ctx)
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		e, err := parseLine(line)
		if err != nil {
			d.log.Warnw("skipping malformed record", "error", err)
			continue
		}

		if !d.caughtUp {
			if e.BlockHeight < d.initialBlock {
				continue
			}
			d.caughtUp = true
			d.log.Infow("caught up", "blockHeight", e.BlockHeight)
		}

		if len(d.pending) >= d.opts.Batch && e.BlockHeight > d.lastBlockHeightSeen {
			if err := d.Flush(ctx); err != nil {
				return err
			}
		}

		d.pending = append(d.pending, e)
		if e.BlockHeight > d.lastBlockHeightSeen {
			d.lastBlockHeightSeen = e.BlockHeight
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read event stream: %w", err)
	}
	return d.Flush(ctx)
}

// Flush runs the nine-step flush procedure (spec §4.5) over the pending
// buffer, then clears it. A call on an empty buffer is a no-op.
func (d *Driver) Flush(ctx context.Context) error {
	if len(d.pending) == 0 {
		return nil
	}
	if d.metrics != nil {
		start := time.Now()
		defer func() { d.metrics.FlushLatency.Observe(time.Since(start).Seconds()) }()
	}
	batch := dedupeBatch(d.pending)

	if err := d.db.UpsertContracts(ctx, batch); err != nil {
		return fmt.Errorf("flush: upsert contracts: %w", err)
	}
	final, err := d.db.UpsertEvents(ctx, batch)
	if err != nil {
		return fmt.Errorf("flush: upsert events: %w", err)
	}

	transformations := d.transformer.Run(final)
	if err := d.upsertTransformations(ctx, transformations); err != nil {
		return err
	}

	if d.opts.CacheUpdatesEnabled {
		changes := changeKeys(final, transformations)
		if _, err := d.cache.UpdateComputationValidityDependentOnChanges(ctx, changes); err != nil {
			return fmt.Errorf("flush: invalidate computations: %w", err)
		}
	}

	if d.opts.WebhooksEnabled && d.dispatcher != nil {
		if err := d.dispatcher.Enqueue(ctx, final); err != nil {
			return fmt.Errorf("flush: enqueue webhooks: %w", err)
		}
	}

	maxHeight, maxTime := batchMax(final)
	if err := d.db.AdvanceState(ctx, maxHeight, maxTime); err != nil {
		return fmt.Errorf("flush: advance state: %w", err)
	}

	if err := d.indexer.Reindex(ctx, touchedContracts(final)); err != nil {
		return fmt.Errorf("flush: reindex: %w", err)
	}

	if d.metrics != nil {
		d.metrics.EventsPerFlush.Observe(float64(len(final)))
	}
	d.log.Infow("flush complete", "events", len(final), "toBlock", maxHeight)
	d.pending = d.pending[:0]
	return nil
}

func (d *Driver) upsertTransformations(ctx context.Context, rows []model.WasmEventTransformation) error {
	if len(rows) == 0 {
		return nil
	}
	if err := d.db.UpsertTransformations(ctx, rows); err != nil {
		return fmt.Errorf("flush: upsert transformations: %w", err)
	}
	return nil
}

// dedupeBatch keeps the last record for each (blockHeight, contractAddress,
// key), preserving first-seen order for everything else (spec §4.5 step 1).
func dedupeBatch(in []model.WasmEvent) []model.WasmEvent {
	type key struct {
		height   uint64
		contract string
		k        string
	}
	byKey := make(map[key]model.WasmEvent, len(in))
	var order []key
	for _, e := range in {
		k := key{e.BlockHeight, e.ContractAddress, e.Key}
		if _, seen := byKey[k]; !seen {
			order = append(order, k)
		}
		byKey[k] = e
	}
	out := make([]model.WasmEvent, 0, len(order))
	for _, k := range order {
		out = append(out, byKey[k])
	}
	return out
}

func changeKeys(events []model.WasmEvent, transformations []model.WasmEventTransformation) []model.ChangeKey {
	out := make([]model.ChangeKey, 0, len(events)+len(transformations))
	for _, e := range events {
		out = append(out, model.ChangeKey{Contract: e.ContractAddress, Key: e.Key, BlockHeight: e.BlockHeight})
	}
	for _, t := range transformations {
		out = append(out, model.ChangeKey{Contract: t.ContractAddress, Key: t.Name, BlockHeight: t.BlockHeight})
	}
	return out
}

func batchMax(events []model.WasmEvent) (height, timeUnixMs uint64) {
	for _, e := range events {
		if e.BlockHeight > height {
			height = e.BlockHeight
		}
		if e.BlockTimeUnixMs > timeUnixMs {
			timeUnixMs = e.BlockTimeUnixMs
		}
	}
	return
}

func touchedContracts(events []model.WasmEvent) []string {
	seen := make(map[string]struct{}, len(events))
	var order []string
	for _, e := range events {
		if _, ok := seen[e.ContractAddress]; ok {
			continue
		}
		seen[e.ContractAddress] = struct{}{}
		order = append(order, e.ContractAddress)
	}
	return order
}
