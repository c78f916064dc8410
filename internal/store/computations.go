package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"wasmindexer/internal/model"
)

// FindComputation returns the computation row (if any) whose
// [blockHeightValid, blockHeightLatest] range covers atBlock, for the given
// identity (formula, targetContract, argsHash). Spec §4.4 read path.
func (d *DB) FindComputation(ctx context.Context, formula, targetContract, argsHash string, atBlock uint64) (*model.Computation, error) {
	row := d.Pool.QueryRow(ctx, `
		SELECT id, formula, target_contract, args_hash, block_height_valid, block_height_latest, output
		FROM computations
		WHERE formula = $1 AND target_contract = $2 AND args_hash = $3
		  AND block_height_valid <= $4 AND $4 <= block_height_latest`,
		formula, targetContract, argsHash, atBlock)
	var c model.Computation
	if err := row.Scan(&c.ID, &c.Formula, &c.TargetContract, &c.ArgsHash, &c.BlockHeightValid, &c.BlockHeightLatest, &c.Output); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find computation: %w", err)
	}
	return &c, nil
}

// InsertComputation persists a new computation row and its dependency set
// in one transaction, returning the assigned ID.
func (d *DB) InsertComputation(ctx context.Context, c model.Computation) (int64, error) {
	tx, err := d.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin insert computation: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	row := tx.QueryRow(ctx, `
		INSERT INTO computations (formula, target_contract, args, args_hash, block_height_valid, block_height_latest, output)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		c.Formula, c.TargetContract, argsToJSON(c.Args), c.ArgsHash, c.BlockHeightValid, c.BlockHeightLatest, c.Output)
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("insert computation row: %w", err)
	}
	if err := insertDependencies(ctx, tx, id, c.Dependencies); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit insert computation: %w", err)
	}
	return id, nil
}

// ExtendComputationLatest extends an existing computation's upper bound
// rightward (spec §4.4 createFromComputationOutputs: "extending
// rightward-adjacent equal outputs by increasing blockHeightLatest rather
// than inserting a new row").
func (d *DB) ExtendComputationLatest(ctx context.Context, id int64, newLatest uint64) error {
	_, err := d.Pool.Exec(ctx, `UPDATE computations SET block_height_latest = $2 WHERE id = $1`, id, newLatest)
	if err != nil {
		return fmt.Errorf("extend computation: %w", err)
	}
	return nil
}

// ReplaceDependencies atomically replaces a computation's dependency set.
func (d *DB) ReplaceDependencies(ctx context.Context, computationID int64, deps []model.Dependency) error {
	tx, err := d.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace dependencies: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM computation_dependencies WHERE computation_id = $1`, computationID); err != nil {
		return fmt.Errorf("clear dependencies: %w", err)
	}
	if err := insertDependencies(ctx, tx, computationID, deps); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertDependencies(ctx context.Context, tx pgx.Tx, computationID int64, deps []model.Dependency) error {
	if len(deps) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, dep := range deps {
		kind := "point"
		if dep.Kind == model.DependencyPrefix {
			kind = "prefix"
		}
		b.Queue(`
			INSERT INTO computation_dependencies (computation_id, contract, key_prefix, kind)
			VALUES ($1, $2, $3, $4)`, computationID, dep.Contract, dep.KeyOrPfx, kind)
	}
	br := tx.SendBatch(ctx, b)
	for range deps {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("insert dependency row: %w", err)
		}
	}
	return br.Close()
}

// TruncateComputation sets blockHeightLatest = newLatest (spec §4.4 step 4),
// narrowing the asserted-valid range.
func (d *DB) TruncateComputation(ctx context.Context, id int64, newLatest uint64) error {
	_, err := d.Pool.Exec(ctx, `UPDATE computations SET block_height_latest = $2 WHERE id = $1`, id, newLatest)
	if err != nil {
		return fmt.Errorf("truncate computation: %w", err)
	}
	return nil
}

// DeleteComputation destroys a computation row and its dependencies (spec
// §4.4 step 3).
func (d *DB) DeleteComputation(ctx context.Context, id int64) error {
	_, err := d.Pool.Exec(ctx, `DELETE FROM computations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete computation: %w", err)
	}
	return nil
}

// ComputationsTouchedByChanges returns every computation whose dependency
// set intersects at least one of the given (contract, key) changes, using
// the reverse index on (contract, key_prefix) with prefix-match semantics
// (spec §4.4: "a change to (c, k) intersects a dependency entry (c, p) iff
// k starts with p").
func (d *DB) ComputationsTouchedByChanges(ctx context.Context, changes []model.ChangeKey) ([]model.Computation, error) {
	if len(changes) == 0 {
		return nil, nil
	}
	seen := make(map[int64]*model.Computation)
	minHeight := make(map[int64]uint64)

	for _, ch := range changes {
		rows, err := d.Pool.Query(ctx, `
			SELECT c.id, c.formula, c.target_contract, c.args_hash, c.block_height_valid, c.block_height_latest, c.output
			FROM computation_dependencies cd
			JOIN computations c ON c.id = cd.computation_id
			WHERE cd.contract = $1
			  AND ((cd.kind = 'point' AND cd.key_prefix = $2)
			    OR (cd.kind = 'prefix' AND $2 LIKE (cd.key_prefix || '%')))`,
			ch.Contract, ch.Key)
		if err != nil {
			return nil, fmt.Errorf("query dependents: %w", err)
		}
		for rows.Next() {
			var c model.Computation
			if err := rows.Scan(&c.ID, &c.Formula, &c.TargetContract, &c.ArgsHash, &c.BlockHeightValid, &c.BlockHeightLatest, &c.Output); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan dependent: %w", err)
			}
			seen[c.ID] = &c
			if h, ok := minHeight[c.ID]; !ok || ch.BlockHeight < h {
				minHeight[c.ID] = ch.BlockHeight
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	out := make([]model.Computation, 0, len(seen))
	for id, c := range seen {
		_ = id
		out = append(out, *c)
	}
	return out, nil
}

// LoadDependencies returns the dependency set recorded for a computation.
func (d *DB) LoadDependencies(ctx context.Context, computationID int64) ([]model.Dependency, error) {
	rows, err := d.Pool.Query(ctx, `
		SELECT contract, key_prefix, kind FROM computation_dependencies WHERE computation_id = $1`, computationID)
	if err != nil {
		return nil, fmt.Errorf("load dependencies: %w", err)
	}
	defer rows.Close()

	var out []model.Dependency
	for rows.Next() {
		var dep model.Dependency
		var kind string
		if err := rows.Scan(&dep.Contract, &dep.KeyOrPfx, &kind); err != nil {
			return nil, fmt.Errorf("scan dependency: %w", err)
		}
		if kind == "prefix" {
			dep.Kind = model.DependencyPrefix
		} else {
			dep.Kind = model.DependencyPoint
		}
		out = append(out, dep)
	}
	return out, rows.Err()
}

func argsToJSON(args map[string]string) []byte {
	b, err := json.Marshal(args)
	if err != nil || len(args) == 0 {
		return []byte("{}")
	}
	return b
}
