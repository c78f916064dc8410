package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"wasmindexer/internal/model"
)

// UpsertTransformations bulk-upserts WasmEventTransformation rows, keyed by
// (block_height, contract_address, name), replacing the stored value on
// conflict with the latest (spec §4.2).
func (d *DB) UpsertTransformations(ctx context.Context, rows []model.WasmEventTransformation) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := d.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert transformations: %w", err)
	}
	defer tx.Rollback(ctx)

	b := &pgx.Batch{}
	for _, r := range rows {
		b.Queue(`
			INSERT INTO wasm_event_transformations (block_height, contract_address, name, value, block_time_unix_ms)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (block_height, contract_address, name)
			DO UPDATE SET value = excluded.value`,
			r.BlockHeight, r.ContractAddress, r.Name, r.Value, r.BlockTimeUnixMs)
	}
	br := tx.SendBatch(ctx, b)
	for range rows {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("upsert transformation row: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close transformation batch: %w", err)
	}
	return tx.Commit(ctx)
}
