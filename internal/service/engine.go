package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Emerchan23/sisvendas1-sub000/internal/database"
	"github.com/Emerchan23/sisvendas1-sub000/internal/database/repository"
	"github.com/Emerchan23/sisvendas1-sub000/internal/event"
)

// Engine enforces the membership/pointer consistency between the
// transaction ledger and the settlement store. Every mutating operation
// runs inside a single transaction; change notifications are published
// only after commit.
type Engine struct {
	db  *sql.DB
	bus *event.Bus
	log *zap.Logger
}

func NewEngine(db *sql.DB, bus *event.Bus, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{db: db, bus: bus, log: log}
}

// NewBatch describes a batch to create.
type NewBatch struct {
	Title     string
	Notes     string
	Date      time.Time
	MemberIDs []string
}

// BatchView is a batch together with its ordered member ids.
type BatchView struct {
	repository.Batch
	MemberIDs []string
}

// CreateBatch persists a new open batch claiming the given lines. Member
// lines are stamped settled immediately: assignment, not closing, is what
// claims a line. Fails with ConflictError naming the first line already
// claimed elsewhere.
func (e *Engine) CreateBatch(ctx context.Context, nb NewBatch) (string, error) {
	if err := validateIDSet(nb.MemberIDs); err != nil {
		return "", err
	}
	if nb.Date.IsZero() {
		nb.Date = database.Now()
	}

	id := uuid.NewString()
	err := database.WithTx(e.db, func(tx *sql.Tx) error {
		lines := repository.NewLineRepo(tx)
		batches := repository.NewBatchRepo(tx)
		members := repository.NewMemberRepo(tx)

		memberLines, err := e.claimableLines(ctx, lines, members, "", nb.MemberIDs)
		if err != nil {
			return err
		}

		totalProfit := sumProfit(memberLines)
		if err := batches.Insert(ctx, repository.Batch{
			ID:                 id,
			Title:              nb.Title,
			Date:               nb.Date,
			Status:             repository.BatchStatusOpen,
			TotalProfitCents:   totalProfit,
			DistributableCents: totalProfit,
			Notes:              nb.Notes,
		}); err != nil {
			return fmt.Errorf("insert batch: %w", err)
		}
		if err := members.ReplaceForBatch(ctx, id, nb.MemberIDs); err != nil {
			return fmt.Errorf("write membership: %w", err)
		}
		return stampSettled(ctx, lines, id, nb.MemberIDs)
	})
	if err != nil {
		return "", err
	}

	e.log.Info("batch created",
		zap.String("batch_id", id), zap.Int("members", len(nb.MemberIDs)))
	e.notifyBatch(id, nb.MemberIDs)
	return id, nil
}

// AssignMembers reconciles a batch's membership to exactly desired.
// Additions are validated for existence and exclusivity; removals revert
// to pending. Requires an open batch. Idempotent: an identical desired
// set performs no writes.
func (e *Engine) AssignMembers(ctx context.Context, batchID string, desired []string) error {
	if err := validateIDSet(desired); err != nil {
		return err
	}

	var touched []string
	err := database.WithTx(e.db, func(tx *sql.Tx) error {
		lines := repository.NewLineRepo(tx)
		batches := repository.NewBatchRepo(tx)
		members := repository.NewMemberRepo(tx)

		batch, err := batches.Get(ctx, batchID)
		if err != nil {
			return err
		}
		if batch == nil {
			return &NotFoundError{Entity: "batch", ID: batchID}
		}
		if batch.Status != repository.BatchStatusOpen {
			return &InvalidTransitionError{BatchID: batchID, Status: batch.Status}
		}

		current, err := members.ListByBatch(ctx, batchID)
		if err != nil {
			return err
		}
		if equalOrdered(current, desired) {
			return nil
		}

		additions := diff(desired, current)
		removals := diff(current, desired)

		if _, err := e.claimableLines(ctx, lines, members, batchID, additions); err != nil {
			return err
		}

		if err := members.ReplaceForBatch(ctx, batchID, desired); err != nil {
			return fmt.Errorf("write membership: %w", err)
		}
		if err := stampSettled(ctx, lines, batchID, additions); err != nil {
			return err
		}
		for _, id := range removals {
			if err := lines.UpdateSettlement(ctx, id, repository.LineStatusPending, nil); err != nil {
				return fmt.Errorf("release line %s: %w", id, err)
			}
		}

		memberLines, err := lines.ListByIDs(ctx, desired)
		if err != nil {
			return err
		}
		totalProfit := sumProfit(memberLines)
		if err := batches.UpdateTotals(ctx, batchID, totalProfit, totalProfit); err != nil {
			return fmt.Errorf("update totals: %w", err)
		}

		touched = append(additions, removals...)
		return nil
	})
	if err != nil {
		return err
	}

	if len(touched) > 0 {
		e.log.Info("membership reconciled",
			zap.String("batch_id", batchID), zap.Int("changed", len(touched)))
		e.notifyBatch(batchID, touched)
	}
	return nil
}

// AddMember is AssignMembers with a singleton addition.
func (e *Engine) AddMember(ctx context.Context, batchID, lineID string) error {
	view, err := e.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	for _, id := range view.MemberIDs {
		if id == lineID {
			return nil
		}
	}
	return e.AssignMembers(ctx, batchID, append(view.MemberIDs, lineID))
}

// RemoveMember is AssignMembers with a singleton removal.
func (e *Engine) RemoveMember(ctx context.Context, batchID, lineID string) error {
	view, err := e.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	desired := make([]string, 0, len(view.MemberIDs))
	for _, id := range view.MemberIDs {
		if id != lineID {
			desired = append(desired, id)
		}
	}
	if len(desired) == len(view.MemberIDs) {
		return nil
	}
	return e.AssignMembers(ctx, batchID, desired)
}

// CloseBatch freezes membership and stamps every member settled. Closing
// an already-closed batch succeeds and re-applies the stamps, the same
// defensive re-apply the legacy close path performed.
func (e *Engine) CloseBatch(ctx context.Context, batchID string) error {
	var memberIDs []string
	err := database.WithTx(e.db, func(tx *sql.Tx) error {
		lines := repository.NewLineRepo(tx)
		batches := repository.NewBatchRepo(tx)
		members := repository.NewMemberRepo(tx)

		batch, err := batches.Get(ctx, batchID)
		if err != nil {
			return err
		}
		if batch == nil {
			return &NotFoundError{Entity: "batch", ID: batchID}
		}

		memberIDs, err = members.ListByBatch(ctx, batchID)
		if err != nil {
			return err
		}
		// re-stamp only members that still exist; a dangling member is
		// the auditor's problem, not a reason to fail the close
		existing, err := lines.ListByIDs(ctx, memberIDs)
		if err != nil {
			return err
		}
		for _, l := range existing {
			if err := lines.UpdateSettlement(ctx, l.ID, repository.LineStatusSettled, &batchID); err != nil {
				return fmt.Errorf("stamp line %s: %w", l.ID, err)
			}
		}

		if batch.Status != repository.BatchStatusClosed {
			return batches.UpdateStatus(ctx, batchID, repository.BatchStatusClosed)
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.log.Info("batch closed", zap.String("batch_id", batchID))
	e.notifyBatch(batchID, memberIDs)
	return nil
}

// ReopenBatch sets the batch open again. Membership and member stamps are
// untouched; members stay settled until explicitly removed.
func (e *Engine) ReopenBatch(ctx context.Context, batchID string) error {
	err := database.WithTx(e.db, func(tx *sql.Tx) error {
		batches := repository.NewBatchRepo(tx)
		batch, err := batches.Get(ctx, batchID)
		if err != nil {
			return err
		}
		if batch == nil {
			return &NotFoundError{Entity: "batch", ID: batchID}
		}
		if batch.Status == repository.BatchStatusOpen {
			return nil
		}
		return batches.UpdateStatus(ctx, batchID, repository.BatchStatusOpen)
	})
	if err != nil {
		return err
	}

	e.log.Info("batch reopened", zap.String("batch_id", batchID))
	e.notifyBatch(batchID, nil)
	return nil
}

// GetBatch returns a batch with its ordered member ids.
func (e *Engine) GetBatch(ctx context.Context, batchID string) (BatchView, error) {
	batch, err := repository.NewBatchRepo(e.db).Get(ctx, batchID)
	if err != nil {
		return BatchView{}, err
	}
	if batch == nil {
		return BatchView{}, &NotFoundError{Entity: "batch", ID: batchID}
	}
	memberIDs, err := repository.NewMemberRepo(e.db).ListByBatch(ctx, batchID)
	if err != nil {
		return BatchView{}, err
	}
	return BatchView{Batch: *batch, MemberIDs: memberIDs}, nil
}

// ListBatches returns all batches ordered by date.
func (e *Engine) ListBatches(ctx context.Context) ([]repository.Batch, error) {
	return repository.NewBatchRepo(e.db).List(ctx)
}

// PendingLines returns lines not yet claimed by any batch.
func (e *Engine) PendingLines(ctx context.Context) ([]repository.Line, error) {
	return repository.NewLineRepo(e.db).ListPending(ctx)
}

// NormalizeLine recomputes a line's settlement pointer from the membership
// relation, which is the source of truth for invariant repair: a claimed
// line is settled with its owner's id, an unclaimed line is pending with a
// null pointer. Idempotent; reports whether anything changed.
func (e *Engine) NormalizeLine(ctx context.Context, lineID string) (bool, error) {
	var changed bool
	err := database.WithTx(e.db, func(tx *sql.Tx) error {
		lines := repository.NewLineRepo(tx)
		members := repository.NewMemberRepo(tx)

		line, err := lines.Get(ctx, lineID)
		if err != nil {
			return err
		}
		if line == nil {
			return &NotFoundError{Entity: "line", ID: lineID}
		}

		owner, err := members.BatchOf(ctx, lineID)
		if err != nil {
			return err
		}
		wantStatus, wantRef := repository.LineStatusPending, (*string)(nil)
		if owner != nil {
			wantStatus, wantRef = repository.LineStatusSettled, owner
		}
		if line.SettlementStatus == wantStatus && equalRef(line.SettlementRef, wantRef) {
			return nil
		}
		changed = true
		return lines.UpdateSettlement(ctx, lineID, wantStatus, wantRef)
	})
	if err != nil {
		return false, err
	}
	if changed {
		e.log.Info("line normalized", zap.String("line_id", lineID))
		if e.bus != nil {
			e.bus.Publish(event.Change{Entity: event.EntityLine, ID: lineID})
		}
	}
	return changed, nil
}

func equalRef(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// claimableLines checks each id references an existing line not claimed by
// a different batch. Returns the line rows for total computation.
func (e *Engine) claimableLines(ctx context.Context, lines *repository.LineRepo,
	members *repository.MemberRepo, batchID string, ids []string) ([]repository.Line, error) {

	found, err := lines.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]repository.Line, len(found))
	for _, l := range found {
		byID[l.ID] = l
	}

	out := make([]repository.Line, 0, len(ids))
	for _, id := range ids {
		l, ok := byID[id]
		if !ok {
			return nil, &NotFoundError{Entity: "line", ID: id}
		}
		owner, err := members.BatchOf(ctx, id)
		if err != nil {
			return nil, err
		}
		if owner != nil && *owner != batchID {
			return nil, &ConflictError{LineID: id, CurrentBatchID: *owner}
		}
		out = append(out, l)
	}
	return out, nil
}

func (e *Engine) notifyBatch(batchID string, lineIDs []string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(event.Change{Entity: event.EntityBatch, ID: batchID})
	for _, id := range lineIDs {
		e.bus.Publish(event.Change{Entity: event.EntityLine, ID: id})
	}
}

func stampSettled(ctx context.Context, lines *repository.LineRepo, batchID string, ids []string) error {
	for _, id := range ids {
		if err := lines.UpdateSettlement(ctx, id, repository.LineStatusSettled, &batchID); err != nil {
			return fmt.Errorf("stamp line %s: %w", id, err)
		}
	}
	return nil
}

func validateIDSet(ids []string) error {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			return &ValidationError{Field: "member ids", Reason: "empty id"}
		}
		if _, dup := seen[id]; dup {
			return &ValidationError{Field: "member ids", Reason: "duplicate id " + id}
		}
		seen[id] = struct{}{}
	}
	return nil
}

func sumProfit(lines []repository.Line) int64 {
	var total int64
	for _, l := range lines {
		total += l.ProfitCents
	}
	return total
}

func equalOrdered(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// diff returns the elements of a not present in b, preserving a's order.
func diff(a, b []string) []string {
	inB := make(map[string]struct{}, len(b))
	for _, id := range b {
		inB[id] = struct{}{}
	}
	var out []string
	for _, id := range a {
		if _, ok := inB[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
