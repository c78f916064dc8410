package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"wasmindexer/internal/model"
)

// UpsertContracts extracts the unique contract addresses touched by batch
// and upserts them: CodeID is updated on conflict (last value wins within
// the batch, picked by highest block height seen), InstantiatedAt* columns
// are insert-only (spec §4.1 — they reflect the earliest event ever
// observed for the address, never overwritten on a later sighting or a
// differing codeId).
//
// Retries up to 3 times on transient conflict/deadlock before failing the
// batch (spec §4.1, §7).
func (d *DB) UpsertContracts(ctx context.Context, batch []model.WasmEvent) error {
	type entry struct {
		codeID    uint64
		codeBlock uint64
		atBlock   uint64
		atTime    uint64
	}
	seen := make(map[string]*entry)
	for _, e := range batch {
		ent, ok := seen[e.ContractAddress]
		if !ok {
			seen[e.ContractAddress] = &entry{codeID: e.CodeID, codeBlock: e.BlockHeight, atBlock: e.BlockHeight, atTime: e.BlockTimeUnixMs}
			continue
		}
		if e.BlockHeight < ent.atBlock {
			ent.atBlock = e.BlockHeight
			ent.atTime = e.BlockTimeUnixMs
		}
		if e.BlockHeight >= ent.codeBlock {
			ent.codeID = e.CodeID
			ent.codeBlock = e.BlockHeight
		}
	}
	if len(seen) == 0 {
		return nil
	}

	return retryTransient(ctx, func() error {
		tx, err := d.Pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin upsert contracts: %w", err)
		}
		defer tx.Rollback(ctx)

		b := &pgx.Batch{}
		n := 0
		for addr, ent := range seen {
			b.Queue(`
				INSERT INTO contracts (address, code_id, instantiated_at_block, instantiated_at_time_unix_ms)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (address) DO UPDATE SET code_id = excluded.code_id`,
				addr, ent.codeID, ent.atBlock, ent.atTime)
			n++
		}
		br := tx.SendBatch(ctx, b)
		for i := 0; i < n; i++ {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("upsert contract row: %w", err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("close contract batch: %w", err)
		}
		return tx.Commit(ctx)
	})
}

// GetContract looks up a single contract by address.
func (d *DB) GetContract(ctx context.Context, address string) (*model.Contract, error) {
	row := d.Pool.QueryRow(ctx, `
		SELECT address, code_id, instantiated_at_block, instantiated_at_time_unix_ms
		FROM contracts WHERE address = $1`, address)
	var c model.Contract
	if err := row.Scan(&c.Address, &c.CodeID, &c.InstantiatedAtBlock, &c.InstantiatedAtTime); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get contract: %w", err)
	}
	return &c, nil
}
