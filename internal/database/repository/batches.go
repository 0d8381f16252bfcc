package repository

import (
	"context"
	"database/sql"
)

// BatchRepo handles the settlement store.
type BatchRepo struct {
	q DBTX
}

func NewBatchRepo(q DBTX) *BatchRepo { return &BatchRepo{q: q} }

const batchColumns = `id, title, date, status, total_profit_cents, distributable_cents,
 notes, legacy_line_ids, created_at, updated_at`

func (r *BatchRepo) Insert(ctx context.Context, b Batch) error {
	_, err := r.q.ExecContext(ctx, `
	INSERT INTO settlement_batches(
	 id, title, date, status, total_profit_cents, distributable_cents,
	 notes, legacy_line_ids, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP);
	`,
		b.ID, b.Title, b.Date, b.Status, b.TotalProfitCents, b.DistributableCents,
		b.Notes, b.LegacyLineIDs)
	return err
}

// Upsert inserts or fully replaces a batch keyed by id. Used by snapshot restore.
func (r *BatchRepo) Upsert(ctx context.Context, b Batch) error {
	_, err := r.q.ExecContext(ctx, `
	INSERT INTO settlement_batches(
	 id, title, date, status, total_profit_cents, distributable_cents,
	 notes, legacy_line_ids, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
	 title = excluded.title,
	 date = excluded.date,
	 status = excluded.status,
	 total_profit_cents = excluded.total_profit_cents,
	 distributable_cents = excluded.distributable_cents,
	 notes = excluded.notes,
	 legacy_line_ids = excluded.legacy_line_ids,
	 created_at = excluded.created_at,
	 updated_at = excluded.updated_at;
	`,
		b.ID, b.Title, b.Date, b.Status, b.TotalProfitCents, b.DistributableCents,
		b.Notes, b.LegacyLineIDs, b.CreatedAt, b.UpdatedAt)
	return err
}

func (r *BatchRepo) Get(ctx context.Context, id string) (*Batch, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM settlement_batches WHERE id = ?`, id)
	b, err := scanBatch(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *BatchRepo) List(ctx context.Context) ([]Batch, error) {
	return r.queryBatches(ctx, `SELECT `+batchColumns+` FROM settlement_batches ORDER BY date, created_at`)
}

func (r *BatchRepo) UpdateStatus(ctx context.Context, id, status string) error {
	_, err := r.q.ExecContext(ctx, `
	UPDATE settlement_batches SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, status, id)
	return err
}

func (r *BatchRepo) UpdateTotals(ctx context.Context, id string, totalProfit, distributable int64) error {
	_, err := r.q.ExecContext(ctx, `
	UPDATE settlement_batches SET total_profit_cents = ?, distributable_cents = ?,
	 updated_at = CURRENT_TIMESTAMP WHERE id = ?`, totalProfit, distributable, id)
	return err
}

// ClearLegacy drops the raw legacy payload once membership is normalized.
func (r *BatchRepo) ClearLegacy(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx, `
	UPDATE settlement_batches SET legacy_line_ids = NULL, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	return err
}

func (r *BatchRepo) queryBatches(ctx context.Context, query string, args ...any) ([]Batch, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBatch(s rowScanner) (Batch, error) {
	var b Batch
	var legacy sql.NullString
	err := s.Scan(&b.ID, &b.Title, &b.Date, &b.Status, &b.TotalProfitCents,
		&b.DistributableCents, &b.Notes, &legacy, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return Batch{}, err
	}
	if legacy.Valid {
		b.LegacyLineIDs = &legacy.String
	}
	return b, nil
}
