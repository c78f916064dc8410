package store

import (
	"context"
	"fmt"

	"wasmindexer/internal/model"
)

// InsertPendingWebhook enqueues a delivery with Failures = 0 (spec §4.6).
func (d *DB) InsertPendingWebhook(ctx context.Context, w model.PendingWebhook) (int64, error) {
	var id int64
	row := d.Pool.QueryRow(ctx, `
		INSERT INTO pending_webhooks (event_id, endpoint_type, endpoint, value, failures)
		VALUES ($1, $2, $3, $4, 0) RETURNING id`,
		w.EventID, w.EndpointType, w.Endpoint, w.Value)
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("insert pending webhook: %w", err)
	}
	return id, nil
}

// ListPendingWebhooks returns up to limit pending deliveries ordered by
// oldest first, for the drain loop's bounded-concurrency retry.
func (d *DB) ListPendingWebhooks(ctx context.Context, limit int) ([]model.PendingWebhook, error) {
	rows, err := d.Pool.Query(ctx, `
		SELECT id, event_id, endpoint_type, endpoint, value, failures
		FROM pending_webhooks ORDER BY id ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending webhooks: %w", err)
	}
	defer rows.Close()

	var out []model.PendingWebhook
	for rows.Next() {
		var w model.PendingWebhook
		if err := rows.Scan(&w.ID, &w.EventID, &w.EndpointType, &w.Endpoint, &w.Value, &w.Failures); err != nil {
			return nil, fmt.Errorf("scan pending webhook: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// DeletePendingWebhook removes a row after successful delivery.
func (d *DB) DeletePendingWebhook(ctx context.Context, id int64) error {
	_, err := d.Pool.Exec(ctx, `DELETE FROM pending_webhooks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete pending webhook: %w", err)
	}
	return nil
}

// IncrementFailures persists a failed delivery attempt, keeping the row for
// retry (spec §4.6, §7 DeliveryError).
func (d *DB) IncrementFailures(ctx context.Context, id int64) error {
	_, err := d.Pool.Exec(ctx, `UPDATE pending_webhooks SET failures = failures + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("increment webhook failures: %w", err)
	}
	return nil
}
