package repository

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Emerchan23/sisvendas1-sub000/internal/database"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(db))
	return db
}

func TestLineRepoCRUD(t *testing.T) {
	t.Parallel()
	ctx := testCtx(t)
	db := newTestDB(t)
	repo := NewLineRepo(db)

	id := uuid.NewString()
	require.NoError(t, repo.Insert(ctx, Line{
		ID:               id,
		Client:           "Maria",
		Product:          "Tinta",
		OrderRef:         "OF-001",
		ValueCents:       12500,
		ProfitCents:      3200,
		Date:             database.Now(),
		SettlementStatus: LineStatusPending,
	}))

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "Maria", got.Client)
	require.Equal(t, int64(3200), got.ProfitCents)
	require.Nil(t, got.SettlementRef)
	require.False(t, got.CreatedAt.IsZero())

	missing, err := repo.Get(ctx, uuid.NewString())
	require.NoError(t, err)
	require.Nil(t, missing)

	ref := uuid.NewString()
	require.NoError(t, repo.UpdateSettlement(ctx, id, LineStatusSettled, &ref))
	got, err = repo.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, LineStatusSettled, got.SettlementStatus)
	require.Equal(t, ref, *got.SettlementRef)

	require.NoError(t, repo.UpdateSettlement(ctx, id, LineStatusPending, nil))
	got, err = repo.Get(ctx, id)
	require.NoError(t, err)
	require.Nil(t, got.SettlementRef)
}

func TestLineRepoListPending(t *testing.T) {
	t.Parallel()
	ctx := testCtx(t)
	db := newTestDB(t)
	repo := NewLineRepo(db)

	pending := uuid.NewString()
	settled := uuid.NewString()
	ref := uuid.NewString()
	for _, l := range []Line{
		{ID: pending, Client: "a", Date: database.Now(), SettlementStatus: LineStatusPending},
		{ID: settled, Client: "b", Date: database.Now(), SettlementStatus: LineStatusSettled, SettlementRef: &ref},
	} {
		require.NoError(t, repo.Insert(ctx, l))
	}

	got, err := repo.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, pending, got[0].ID)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestLineRepoListByIDs(t *testing.T) {
	t.Parallel()
	ctx := testCtx(t)
	db := newTestDB(t)
	repo := NewLineRepo(db)

	ids := make([]string, 3)
	for i := range ids {
		ids[i] = uuid.NewString()
		require.NoError(t, repo.Insert(ctx, Line{
			ID: ids[i], Date: database.Now(), SettlementStatus: LineStatusPending,
		}))
	}

	got, err := repo.ListByIDs(ctx, []string{ids[0], ids[2], uuid.NewString()})
	require.NoError(t, err)
	require.Len(t, got, 2, "unknown ids are simply absent")

	none, err := repo.ListByIDs(ctx, nil)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestLineRepoUpsertPreservesTimestamps(t *testing.T) {
	t.Parallel()
	ctx := testCtx(t)
	db := newTestDB(t)
	repo := NewLineRepo(db)

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l := Line{
		ID:               uuid.NewString(),
		Client:           "antes",
		Date:             created,
		SettlementStatus: LineStatusPending,
		CreatedAt:        created,
		UpdatedAt:        created,
	}
	require.NoError(t, repo.Upsert(ctx, l))

	l.Client = "depois"
	require.NoError(t, repo.Upsert(ctx, l))

	got, err := repo.Get(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, "depois", got.Client)
	require.True(t, got.CreatedAt.Equal(created), "restore keeps original timestamps")
}

func TestBatchRepoLifecycle(t *testing.T) {
	t.Parallel()
	ctx := testCtx(t)
	db := newTestDB(t)
	repo := NewBatchRepo(db)

	id := uuid.NewString()
	require.NoError(t, repo.Insert(ctx, Batch{
		ID:     id,
		Title:  "Acerto Maio",
		Date:   database.Now(),
		Status: BatchStatusOpen,
		Notes:  "obs",
	}))

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, BatchStatusOpen, got.Status)
	require.Nil(t, got.LegacyLineIDs)

	require.NoError(t, repo.UpdateTotals(ctx, id, 5000, 4500))
	require.NoError(t, repo.UpdateStatus(ctx, id, BatchStatusClosed))
	got, err = repo.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int64(5000), got.TotalProfitCents)
	require.Equal(t, int64(4500), got.DistributableCents)
	require.Equal(t, BatchStatusClosed, got.Status)
}

func TestBatchRepoLegacyPayload(t *testing.T) {
	t.Parallel()
	ctx := testCtx(t)
	db := newTestDB(t)
	repo := NewBatchRepo(db)

	raw := `["a","b"]`
	withRaw := uuid.NewString()
	require.NoError(t, repo.Insert(ctx, Batch{ID: withRaw, Date: database.Now(), Status: BatchStatusOpen}))
	_, err := db.ExecContext(ctx,
		`UPDATE settlement_batches SET legacy_line_ids = ? WHERE id = ?`, raw, withRaw)
	require.NoError(t, err)

	got, err := repo.Get(ctx, withRaw)
	require.NoError(t, err)
	require.NotNil(t, got.LegacyLineIDs)
	require.Equal(t, raw, *got.LegacyLineIDs)

	require.NoError(t, repo.ClearLegacy(ctx, withRaw))
	got, err = repo.Get(ctx, withRaw)
	require.NoError(t, err)
	require.Nil(t, got.LegacyLineIDs)
}

func TestMemberRepo(t *testing.T) {
	t.Parallel()
	ctx := testCtx(t)
	db := newTestDB(t)
	repo := NewMemberRepo(db)

	batch := uuid.NewString()
	l1, l2, l3 := uuid.NewString(), uuid.NewString(), uuid.NewString()

	require.NoError(t, repo.ReplaceForBatch(ctx, batch, []string{l1, l2, l3}))
	ids, err := repo.ListByBatch(ctx, batch)
	require.NoError(t, err)
	require.Equal(t, []string{l1, l2, l3}, ids, "position order preserved")

	owner, err := repo.BatchOf(ctx, l2)
	require.NoError(t, err)
	require.NotNil(t, owner)
	require.Equal(t, batch, *owner)

	owner, err = repo.BatchOf(ctx, uuid.NewString())
	require.NoError(t, err)
	require.Nil(t, owner)

	// rewrite shrinks and reorders
	require.NoError(t, repo.ReplaceForBatch(ctx, batch, []string{l3, l1}))
	ids, err = repo.ListByBatch(ctx, batch)
	require.NoError(t, err)
	require.Equal(t, []string{l3, l1}, ids)

	require.NoError(t, repo.ReleaseLines(ctx, []string{l3, uuid.NewString()}))
	all, err := repo.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, l1, all[0].LineID)

	require.NoError(t, repo.ReleaseLines(ctx, nil))
}

func TestMembershipExclusivityEnforcedBySchema(t *testing.T) {
	t.Parallel()
	ctx := testCtx(t)
	db := newTestDB(t)
	repo := NewMemberRepo(db)

	line := uuid.NewString()
	require.NoError(t, repo.ReplaceForBatch(ctx, uuid.NewString(), []string{line}))

	// a second batch claiming the same line violates UNIQUE(line_id)
	err := repo.ReplaceForBatch(ctx, uuid.NewString(), []string{line})
	require.Error(t, err)
}
