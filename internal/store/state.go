package store

import (
	"context"
	"fmt"

	"wasmindexer/internal/model"
)

// GetState reads the singleton checkpoint row, creating it with zero values
// if it does not yet exist (init-on-first-start per spec §9).
func (d *DB) GetState(ctx context.Context) (*model.State, error) {
	var s model.State
	row := d.Pool.QueryRow(ctx, `
		SELECT last_wasm_block_height_exported, latest_block_height, latest_block_time_unix_ms
		FROM state WHERE id = 1`)
	if err := row.Scan(&s.LastWasmBlockHeightExported, &s.LatestBlockHeight, &s.LatestBlockTimeUnixMs); err != nil {
		if _, execErr := d.Pool.Exec(ctx, `
			INSERT INTO state (id, last_wasm_block_height_exported, latest_block_height, latest_block_time_unix_ms)
			VALUES (1, 0, 0, 0) ON CONFLICT (id) DO NOTHING`); execErr != nil {
			return nil, fmt.Errorf("init state row: %w", execErr)
		}
		return &model.State{}, nil
	}
	return &s, nil
}

// AdvanceState applies a monotonic-max update to the singleton state row:
// lastWasmBlockHeightExported and latestBlockHeight only ever increase
// (spec §3, §5 — "SQL GREATEST").
func (d *DB) AdvanceState(ctx context.Context, height, timeUnixMs uint64) error {
	_, err := d.Pool.Exec(ctx, `
		UPDATE state SET
			last_wasm_block_height_exported = GREATEST(last_wasm_block_height_exported, $1),
			latest_block_height = GREATEST(latest_block_height, $1),
			latest_block_time_unix_ms = GREATEST(latest_block_time_unix_ms, $2)
		WHERE id = 1`, height, timeUnixMs)
	if err != nil {
		return fmt.Errorf("advance state: %w", err)
	}
	return nil
}
