package repository

import (
	"context"
	"database/sql"
	"strings"
)

// LineRepo handles the transaction ledger.
type LineRepo struct {
	q DBTX
}

func NewLineRepo(q DBTX) *LineRepo { return &LineRepo{q: q} }

const lineColumns = `id, client, product, order_ref, value_cents, profit_cents, date,
 settlement_status, settlement_ref, created_at, updated_at`

func (r *LineRepo) Insert(ctx context.Context, l Line) error {
	_, err := r.q.ExecContext(ctx, `
	INSERT INTO lines(
	 id, client, product, order_ref, value_cents, profit_cents, date,
	 settlement_status, settlement_ref, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP);
	`,
		l.ID, l.Client, l.Product, l.OrderRef, l.ValueCents, l.ProfitCents, l.Date,
		l.SettlementStatus, l.SettlementRef)
	return err
}

// Upsert inserts or fully replaces a line keyed by id. Used by snapshot restore.
func (r *LineRepo) Upsert(ctx context.Context, l Line) error {
	_, err := r.q.ExecContext(ctx, `
	INSERT INTO lines(
	 id, client, product, order_ref, value_cents, profit_cents, date,
	 settlement_status, settlement_ref, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
	 client = excluded.client,
	 product = excluded.product,
	 order_ref = excluded.order_ref,
	 value_cents = excluded.value_cents,
	 profit_cents = excluded.profit_cents,
	 date = excluded.date,
	 settlement_status = excluded.settlement_status,
	 settlement_ref = excluded.settlement_ref,
	 created_at = excluded.created_at,
	 updated_at = excluded.updated_at;
	`,
		l.ID, l.Client, l.Product, l.OrderRef, l.ValueCents, l.ProfitCents, l.Date,
		l.SettlementStatus, l.SettlementRef, l.CreatedAt, l.UpdatedAt)
	return err
}

func (r *LineRepo) Get(ctx context.Context, id string) (*Line, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+lineColumns+` FROM lines WHERE id = ?`, id)
	l, err := scanLine(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *LineRepo) List(ctx context.Context) ([]Line, error) {
	return r.queryLines(ctx, `SELECT `+lineColumns+` FROM lines ORDER BY date, created_at`)
}

// ListPending returns lines not claimed by any batch.
func (r *LineRepo) ListPending(ctx context.Context) ([]Line, error) {
	return r.queryLines(ctx, `SELECT `+lineColumns+` FROM lines
	 WHERE settlement_status = ? ORDER BY date, created_at`, LineStatusPending)
}

// ListByIDs returns the subset of ids that exist, in no particular order.
func (r *LineRepo) ListByIDs(ctx context.Context, ids []string) ([]Line, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return r.queryLines(ctx, `SELECT `+lineColumns+` FROM lines WHERE id IN (`+placeholders+`)`, args...)
}

// UpdateSettlement stamps a line's settlement pointer. A nil ref together
// with LineStatusPending releases the line.
func (r *LineRepo) UpdateSettlement(ctx context.Context, id, status string, ref *string) error {
	_, err := r.q.ExecContext(ctx, `
	UPDATE lines SET settlement_status = ?, settlement_ref = ?, updated_at = CURRENT_TIMESTAMP
	WHERE id = ?`, status, ref, id)
	return err
}

func (r *LineRepo) queryLines(ctx context.Context, query string, args ...any) ([]Line, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Line
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLine(s rowScanner) (Line, error) {
	var l Line
	var ref sql.NullString
	err := s.Scan(&l.ID, &l.Client, &l.Product, &l.OrderRef, &l.ValueCents, &l.ProfitCents,
		&l.Date, &l.SettlementStatus, &ref, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return Line{}, err
	}
	if ref.Valid {
		l.SettlementRef = &ref.String
	}
	return l, nil
}
