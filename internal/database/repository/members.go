package repository

import (
	"context"
	"strings"
)

// MemberRepo handles the normalized membership relation.
type MemberRepo struct {
	q DBTX
}

func NewMemberRepo(q DBTX) *MemberRepo { return &MemberRepo{q: q} }

// ListByBatch returns member line ids in stored order.
func (r *MemberRepo) ListByBatch(ctx context.Context, batchID string) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, `
	SELECT line_id FROM settlement_members WHERE batch_id = ? ORDER BY position`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// BatchOf returns the batch claiming a line, or nil.
func (r *MemberRepo) BatchOf(ctx context.Context, lineID string) (*string, error) {
	rows, err := r.q.QueryContext(ctx, `
	SELECT batch_id FROM settlement_members WHERE line_id = ? LIMIT 1`, lineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var batchID string
	if err := rows.Scan(&batchID); err != nil {
		return nil, err
	}
	return &batchID, nil
}

// ReplaceForBatch rewrites a batch's membership to exactly ids, preserving order.
func (r *MemberRepo) ReplaceForBatch(ctx context.Context, batchID string, ids []string) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM settlement_members WHERE batch_id = ?`, batchID); err != nil {
		return err
	}
	for i, id := range ids {
		if _, err := r.q.ExecContext(ctx, `
		INSERT INTO settlement_members(batch_id, line_id, position) VALUES(?, ?, ?)`, batchID, id, i); err != nil {
			return err
		}
	}
	return nil
}

// ReleaseLines drops any claim on the given lines, whichever batch holds
// it. Snapshot restore uses this to evict claims that moved after the
// export, before reinstalling the document's membership.
func (r *MemberRepo) ReleaseLines(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM settlement_members WHERE line_id IN (`+placeholders+`)`, args...)
	return err
}

// All returns every membership row, ordered by batch then position.
func (r *MemberRepo) All(ctx context.Context) ([]Member, error) {
	rows, err := r.q.QueryContext(ctx, `
	SELECT batch_id, line_id, position FROM settlement_members ORDER BY batch_id, position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.BatchID, &m.LineID, &m.Position); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
