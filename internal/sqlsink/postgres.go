package sqlsink

import (
	"context"
	"fmt"

	"daq/internal/daqerr"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// uploadRows creates the target table if it does not exist (timestamp
// column plus K float columns, matching C4's CSV schema) and bulk-loads rows
// via pgx.CopyFrom inside a transaction, the same pattern an OHLCV buffer's
// doCopyMerge uses for its staging-table flush.
func uploadRows(ctx context.Context, pool *pgxpool.Pool, table string, rows []stagingRow) error {
	if len(rows) == 0 {
		return nil
	}
	k := len(rows[0].columns)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", daqerr.ErrUpload, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SET synchronous_commit = off"); err != nil {
		return fmt.Errorf("%w: %v", daqerr.ErrUpload, err)
	}

	createSQL := buildCreateTableSQL(table, k)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return fmt.Errorf("%w: create table %s: %v", daqerr.ErrUpload, table, err)
	}

	columns := make([]string, 0, k+1)
	columns = append(columns, "timestamp")
	for c := 1; c <= k; c++ {
		columns = append(columns, fmt.Sprintf("channel_%d", c))
	}

	copyRows := make([][]interface{}, len(rows))
	for i, r := range rows {
		rec := make([]interface{}, 0, k+1)
		rec = append(rec, r.ts)
		for _, v := range r.columns {
			rec = append(rec, v)
		}
		copyRows[i] = rec
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(copyRows)); err != nil {
		return fmt.Errorf("%w: copy into %s: %v", daqerr.ErrUpload, table, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", daqerr.ErrUpload, err)
	}
	return nil
}

func buildCreateTableSQL(table string, k int) string {
	sql := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (timestamp timestamptz`, table)
	for c := 1; c <= k; c++ {
		sql += fmt.Sprintf(", channel_%d double precision", c)
	}
	sql += ")"
	return sql
}
