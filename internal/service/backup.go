package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/Emerchan23/sisvendas1-sub000/internal/database"
	"github.com/Emerchan23/sisvendas1-sub000/internal/database/repository"
)

// SnapshotVersion is the current snapshot document version.
const SnapshotVersion = 1

// Snapshot is a portable, versioned copy of the full entity set. Raw legacy
// membership payloads are carried verbatim: an export never masks malformed
// persisted state.
type Snapshot struct {
	Version   int           `json:"version"`
	CreatedAt time.Time     `json:"created_at"`
	Lines     []LineRecord  `json:"lines"`
	Batches   []BatchRecord `json:"batches"`
}

// LineRecord is one ledger row in a snapshot.
type LineRecord struct {
	ID               string    `json:"id"`
	Client           string    `json:"client"`
	Product          string    `json:"product"`
	OrderRef         string    `json:"order_ref"`
	ValueCents       int64     `json:"value_cents"`
	ProfitCents      int64     `json:"profit_cents"`
	Date             time.Time `json:"date"`
	SettlementStatus string    `json:"settlement_status"`
	SettlementRef    *string   `json:"settlement_ref"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// BatchRecord is one settlement batch in a snapshot, with its normalized
// membership and, when still present, the raw legacy payload.
type BatchRecord struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	Date               time.Time `json:"date"`
	Status             string    `json:"status"`
	TotalProfitCents   int64     `json:"total_profit_cents"`
	DistributableCents int64     `json:"distributable_cents"`
	Notes              string    `json:"notes"`
	MemberIDs          []string  `json:"member_ids"`
	LegacyLineIDs      *string   `json:"legacy_line_ids,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Backup coordinates snapshot export and transactional restore. Import
// expects no concurrent writers; the single sqlite writer connection
// enforces that.
type Backup struct {
	db  *sql.DB
	log *zap.Logger
}

func NewBackup(db *sql.DB, log *zap.Logger) *Backup {
	if log == nil {
		log = zap.NewNop()
	}
	return &Backup{db: db, log: log}
}

// ExportSnapshot reads every entity into a versioned, timestamped document.
func (b *Backup) ExportSnapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{Version: SnapshotVersion, CreatedAt: database.Now()}

	err := database.WithTx(b.db, func(tx *sql.Tx) error {
		lines, err := repository.NewLineRepo(tx).List(ctx)
		if err != nil {
			return fmt.Errorf("export lines: %w", err)
		}
		for _, l := range lines {
			snap.Lines = append(snap.Lines, LineRecord(l))
		}

		batches, err := repository.NewBatchRepo(tx).List(ctx)
		if err != nil {
			return fmt.Errorf("export batches: %w", err)
		}
		members := repository.NewMemberRepo(tx)
		for _, bt := range batches {
			ids, err := members.ListByBatch(ctx, bt.ID)
			if err != nil {
				return fmt.Errorf("export membership %s: %w", bt.ID, err)
			}
			snap.Batches = append(snap.Batches, BatchRecord{
				ID:                 bt.ID,
				Title:              bt.Title,
				Date:               bt.Date,
				Status:             bt.Status,
				TotalProfitCents:   bt.TotalProfitCents,
				DistributableCents: bt.DistributableCents,
				Notes:              bt.Notes,
				MemberIDs:          ids,
				LegacyLineIDs:      bt.LegacyLineIDs,
				CreatedAt:          bt.CreatedAt,
				UpdatedAt:          bt.UpdatedAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.log.Info("snapshot exported",
		zap.Int("lines", len(snap.Lines)), zap.Int("batches", len(snap.Batches)))
	return snap, nil
}

// ImportSnapshot applies the document in one transaction with upsert
// semantics keyed by id, so a restore is safely re-runnable. Referential
// validation is deferred until every row is applied; any violation rolls
// the whole import back with a SnapshotValidationError listing all of them.
func (b *Backup) ImportSnapshot(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return &ValidationError{Field: "snapshot", Reason: "nil document"}
	}
	if snap.Version != SnapshotVersion {
		return &ValidationError{Field: "snapshot version",
			Reason: fmt.Sprintf("got %d, want %d", snap.Version, SnapshotVersion)}
	}

	err := database.WithTx(b.db, func(tx *sql.Tx) error {
		lines := repository.NewLineRepo(tx)
		batches := repository.NewBatchRepo(tx)
		members := repository.NewMemberRepo(tx)

		lineIDs := make([]string, 0, len(snap.Lines))
		for _, l := range snap.Lines {
			if err := lines.Upsert(ctx, repository.Line(l)); err != nil {
				return fmt.Errorf("import line %s: %w", l.ID, err)
			}
			lineIDs = append(lineIDs, l.ID)
		}
		// claims that moved since the export would collide with the
		// document's membership; the document wins for every line it carries
		if err := members.ReleaseLines(ctx, lineIDs); err != nil {
			return fmt.Errorf("release stale claims: %w", err)
		}
		for _, bt := range snap.Batches {
			if err := batches.Upsert(ctx, repository.Batch{
				ID:                 bt.ID,
				Title:              bt.Title,
				Date:               bt.Date,
				Status:             bt.Status,
				TotalProfitCents:   bt.TotalProfitCents,
				DistributableCents: bt.DistributableCents,
				Notes:              bt.Notes,
				LegacyLineIDs:      bt.LegacyLineIDs,
				CreatedAt:          bt.CreatedAt,
				UpdatedAt:          bt.UpdatedAt,
			}); err != nil {
				return fmt.Errorf("import batch %s: %w", bt.ID, err)
			}
			if err := members.ReleaseLines(ctx, bt.MemberIDs); err != nil {
				return fmt.Errorf("import membership %s: %w", bt.ID, err)
			}
			if err := members.ReplaceForBatch(ctx, bt.ID, bt.MemberIDs); err != nil {
				return fmt.Errorf("import membership %s: %w", bt.ID, err)
			}
		}

		if violations := validateSnapshot(snap); len(violations) > 0 {
			return &SnapshotValidationError{Violations: violations}
		}
		return nil
	})
	if err != nil {
		return err
	}

	b.log.Info("snapshot imported",
		zap.Int("lines", len(snap.Lines)), zap.Int("batches", len(snap.Batches)))
	return nil
}

// validateSnapshot checks referential existence, bidirectionality and
// closed-batch consistency over the whole document. Batches still carrying
// a legacy payload are exempt from bidirectionality: their membership has
// not been normalized yet and the auditor owns that migration.
func validateSnapshot(snap *Snapshot) []string {
	lineByID := make(map[string]LineRecord, len(snap.Lines))
	for _, l := range snap.Lines {
		lineByID[l.ID] = l
	}
	batchByID := make(map[string]BatchRecord, len(snap.Batches))
	ownerOfLine := make(map[string]string)
	for _, bt := range snap.Batches {
		batchByID[bt.ID] = bt
		for _, id := range bt.MemberIDs {
			ownerOfLine[id] = bt.ID
		}
	}

	var violations []string
	for _, bt := range snap.Batches {
		for _, id := range bt.MemberIDs {
			l, ok := lineByID[id]
			if !ok {
				violations = append(violations,
					fmt.Sprintf("batch %s member %s: line does not exist", bt.ID, id))
				continue
			}
			if l.SettlementRef == nil || *l.SettlementRef != bt.ID {
				violations = append(violations,
					fmt.Sprintf("batch %s member %s: line pointer disagrees", bt.ID, id))
			}
			if bt.Status == repository.BatchStatusClosed && l.SettlementStatus != repository.LineStatusSettled {
				violations = append(violations,
					fmt.Sprintf("closed batch %s member %s: line not settled", bt.ID, id))
			}
		}
	}
	for _, l := range snap.Lines {
		if l.SettlementRef == nil {
			continue
		}
		bt, ok := batchByID[*l.SettlementRef]
		if !ok {
			violations = append(violations,
				fmt.Sprintf("line %s: points at missing batch %s", l.ID, *l.SettlementRef))
			continue
		}
		if bt.LegacyLineIDs != nil {
			continue
		}
		if ownerOfLine[l.ID] != bt.ID {
			violations = append(violations,
				fmt.Sprintf("line %s: batch %s does not list it", l.ID, bt.ID))
		}
	}
	return violations
}

// WriteFile stores a snapshot under dir with a timestamped name and
// returns the path.
func (b *Backup) WriteFile(ctx context.Context, dir string) (string, error) {
	snap, err := b.ExportSnapshot(ctx)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir backup dir: %w", err)
	}

	name := fmt.Sprintf("sisvendas-backup-%s.json", snap.CreatedAt.Format("20060102-150405"))
	path := filepath.Join(dir, name)
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return path, nil
}

// ReadFile loads and decodes a snapshot document.
func ReadFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, &ValidationError{Field: "snapshot", Reason: err.Error()}
	}
	return &snap, nil
}

// Prune keeps the newest keep snapshot files in dir and removes the rest.
func Prune(dir string, keep int) error {
	if keep <= 0 {
		return nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, "sisvendas-backup-*.json"))
	if err != nil {
		return err
	}
	if len(matches) <= keep {
		return nil
	}
	sort.Strings(matches) // timestamped names sort chronologically
	for _, path := range matches[:len(matches)-keep] {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("prune %s: %w", path, err)
		}
	}
	return nil
}
