package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/Emerchan23/sisvendas1-sub000/internal/database"
	"github.com/Emerchan23/sisvendas1-sub000/internal/database/repository"
)

// DivergenceKind classifies a consistency violation between the ledger and
// the settlement store.
type DivergenceKind string

const (
	// DivergenceDanglingMember: a batch's membership references a line that
	// does not exist.
	DivergenceDanglingMember DivergenceKind = "dangling_member"
	// DivergenceOrphanPointer: a line points at a batch that does not exist.
	DivergenceOrphanPointer DivergenceKind = "orphan_pointer"
	// DivergencePointerMismatch: a line's pointer disagrees with the
	// membership relation.
	DivergencePointerMismatch DivergenceKind = "pointer_mismatch"
	// DivergenceStaleStatus: a line's settlement status disagrees with its
	// (correct) pointer, e.g. a pending member of a closed batch.
	DivergenceStaleStatus DivergenceKind = "stale_status"
	// DivergenceDuplicateMember: the same line claimed by more than one
	// batch, possible only through legacy payloads.
	DivergenceDuplicateMember DivergenceKind = "duplicate_member"
	// DivergenceMalformedLegacy: a raw legacy membership payload that did
	// not survive strict decoding.
	DivergenceMalformedLegacy DivergenceKind = "malformed_membership"
	// DivergenceLegacyPayload: a batch still carrying a raw membership
	// payload that has not been normalized into the membership relation.
	DivergenceLegacyPayload DivergenceKind = "legacy_payload"
)

// Finding is one detected divergence.
type Finding struct {
	Kind       DivergenceKind `json:"kind"`
	BatchID    string         `json:"batch_id,omitempty"`
	LineID     string         `json:"line_id,omitempty"`
	Detail     string         `json:"detail"`
	Repairable bool           `json:"repairable"`
	Suggestion string         `json:"suggestion,omitempty"`
}

// Report is the outcome of a full scan (and, for Repair, the applied fixes).
// A scan always completes the whole pass; one bad batch never hides others.
type Report struct {
	ScannedLines   int       `json:"scanned_lines"`
	ScannedBatches int       `json:"scanned_batches"`
	Findings       []Finding `json:"findings"`
	Changes        int       `json:"changes"`
}

// Counts returns findings per divergence kind.
func (r Report) Counts() map[DivergenceKind]int {
	out := make(map[DivergenceKind]int)
	for _, f := range r.Findings {
		out[f.Kind]++
	}
	return out
}

// ManualReview returns the findings the auditor refuses to repair on its own.
func (r Report) ManualReview() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if !f.Repairable {
			out = append(out, f)
		}
	}
	return out
}

// HasDivergence reports whether the scan found anything at all.
func (r Report) HasDivergence() bool { return len(r.Findings) > 0 }

// Auditor scans the ledger and settlement store for divergence and applies
// idempotent repairs by replaying engine operations. It never deletes data
// to fix a problem it cannot unambiguously resolve.
type Auditor struct {
	db     *sql.DB
	engine *Engine
	log    *zap.Logger
}

func NewAuditor(db *sql.DB, engine *Engine, log *zap.Logger) *Auditor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Auditor{db: db, engine: engine, log: log}
}

// Scan performs a full read-only pass and reports every divergence found.
func (a *Auditor) Scan(ctx context.Context) (Report, error) {
	state, err := a.loadState(ctx)
	if err != nil {
		return Report{}, err
	}
	return a.diagnose(state), nil
}

// Repair scans, applies every repairable fix in its own transaction, and
// returns the report with Changes set to the number of repairs applied.
// Running it twice with no new corruption in between changes nothing the
// second time.
func (a *Auditor) Repair(ctx context.Context) (Report, error) {
	state, err := a.loadState(ctx)
	if err != nil {
		return Report{}, err
	}
	report := a.diagnose(state)

	// membership-level fixes first so line normalization sees final truth
	if err := a.repairMembership(ctx, state, &report); err != nil {
		return report, err
	}
	if err := a.repairLines(ctx, &report); err != nil {
		return report, err
	}

	if report.Changes > 0 {
		a.log.Info("repair applied",
			zap.Int("changes", report.Changes),
			zap.Int("findings", len(report.Findings)))
	}
	return report, nil
}

// auditState is one consistent read of everything the auditor looks at.
type auditState struct {
	lines       []repository.Line
	batches     []repository.Batch
	members     []repository.Member
	lineByID    map[string]repository.Line
	batchByID   map[string]repository.Batch
	ownerOfLine map[string]string
}

func (a *Auditor) loadState(ctx context.Context) (*auditState, error) {
	s := &auditState{}
	err := database.WithTx(a.db, func(tx *sql.Tx) error {
		var err error
		if s.lines, err = repository.NewLineRepo(tx).List(ctx); err != nil {
			return fmt.Errorf("load lines: %w", err)
		}
		if s.batches, err = repository.NewBatchRepo(tx).List(ctx); err != nil {
			return fmt.Errorf("load batches: %w", err)
		}
		if s.members, err = repository.NewMemberRepo(tx).All(ctx); err != nil {
			return fmt.Errorf("load membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.lineByID = make(map[string]repository.Line, len(s.lines))
	for _, l := range s.lines {
		s.lineByID[l.ID] = l
	}
	s.batchByID = make(map[string]repository.Batch, len(s.batches))
	for _, b := range s.batches {
		s.batchByID[b.ID] = b
	}
	s.ownerOfLine = make(map[string]string, len(s.members))
	for _, m := range s.members {
		s.ownerOfLine[m.LineID] = m.BatchID
	}
	return s, nil
}

func (a *Auditor) diagnose(s *auditState) Report {
	report := Report{
		ScannedLines:   len(s.lines),
		ScannedBatches: len(s.batches),
	}

	// membership rows pointing at missing lines
	for _, m := range s.members {
		if _, ok := s.lineByID[m.LineID]; ok {
			continue
		}
		batch := s.batchByID[m.BatchID]
		f := Finding{
			Kind:    DivergenceDanglingMember,
			BatchID: m.BatchID,
			LineID:  m.LineID,
			Detail:  "membership references a line that does not exist",
			// a closed batch's membership is frozen history; dropping a
			// member would rewrite it, so only open batches are repaired
			Repairable: batch.Status == repository.BatchStatusOpen,
		}
		if !f.Repairable {
			f.Detail += " (batch is closed, needs manual review)"
		}
		report.Findings = append(report.Findings, f)
	}

	// line pointers vs membership truth
	for _, l := range s.lines {
		owner, claimed := s.ownerOfLine[l.ID]

		if l.SettlementRef != nil {
			if _, ok := s.batchByID[*l.SettlementRef]; !ok {
				report.Findings = append(report.Findings, Finding{
					Kind:       DivergenceOrphanPointer,
					LineID:     l.ID,
					Detail:     fmt.Sprintf("line points at missing batch %s", *l.SettlementRef),
					Repairable: true,
				})
				continue
			}
		}

		switch {
		case claimed && (l.SettlementRef == nil || *l.SettlementRef != owner):
			// a pointer into a batch still carrying a raw payload is frozen
			// until that payload is resolved
			frozen := l.SettlementRef != nil && legacyBatch(s, *l.SettlementRef)
			report.Findings = append(report.Findings, Finding{
				Kind:       DivergencePointerMismatch,
				BatchID:    owner,
				LineID:     l.ID,
				Detail:     "line is a member but its pointer disagrees",
				Repairable: !frozen,
			})
		case !claimed && l.SettlementRef != nil && !legacyBatch(s, *l.SettlementRef):
			report.Findings = append(report.Findings, Finding{
				Kind:       DivergencePointerMismatch,
				BatchID:    *l.SettlementRef,
				LineID:     l.ID,
				Detail:     "line points at a batch that does not list it",
				Repairable: true,
			})
		case claimed && l.SettlementStatus != repository.LineStatusSettled:
			detail := "member line still marked pending"
			if s.batchByID[owner].Status == repository.BatchStatusClosed {
				detail = "pending member of a closed batch"
			}
			report.Findings = append(report.Findings, Finding{
				Kind:       DivergenceStaleStatus,
				BatchID:    owner,
				LineID:     l.ID,
				Detail:     detail,
				Repairable: true,
			})
		case !claimed && l.SettlementRef == nil && l.SettlementStatus != repository.LineStatusPending:
			report.Findings = append(report.Findings, Finding{
				Kind:       DivergenceStaleStatus,
				LineID:     l.ID,
				Detail:     "unclaimed line marked settled",
				Repairable: true,
			})
		}
	}

	// batches still carrying a raw legacy payload, oldest first so
	// duplicate claims resolve deterministically
	for _, b := range legacyBatches(s) {
		res := a.resolveLegacy(s, b)
		report.Findings = append(report.Findings, res.findings(s)...)
	}
	return report
}

// legacyResolution is the outcome of validating one batch's raw payload.
type legacyResolution struct {
	batch     repository.Batch
	valid     []string // decoded ids that exist and are claimable by this batch
	dangling  []string // decoded ids with no matching line
	dupClean  []string // ids claimed elsewhere, line pointer confirms the other claim
	dupTorn   []string // ids claimed elsewhere, line pointer names this batch
	badTokens []string
	strict    bool
	decoded   int
}

// clearable reports whether the raw payload can be dropped after
// normalization: no torn duplicate, and either a clean strict parse or at
// least one token salvaged (the legacy repair scripts kept whatever
// validated and rewrote the rest).
func (r legacyResolution) clearable() bool {
	if len(r.dupTorn) > 0 {
		return false
	}
	if len(r.valid) > 0 {
		return true
	}
	return r.decoded == 0 && r.strict && len(r.badTokens) == 0
}

func (a *Auditor) resolveLegacy(s *auditState, b repository.Batch) legacyResolution {
	res := legacyResolution{batch: b}
	dec := DecodeLegacyMembers(*b.LegacyLineIDs)
	res.strict = dec.Strict
	res.badTokens = dec.BadTokens
	res.decoded = len(dec.IDs)

	for _, id := range dec.IDs {
		line, ok := s.lineByID[id]
		if !ok {
			res.dangling = append(res.dangling, id)
			continue
		}
		if owner, claimed := s.ownerOfLine[id]; claimed && owner != b.ID {
			if line.SettlementRef != nil && *line.SettlementRef == b.ID {
				res.dupTorn = append(res.dupTorn, id)
			} else {
				res.dupClean = append(res.dupClean, id)
			}
			continue
		}
		res.valid = append(res.valid, id)
	}
	return res
}

func (r legacyResolution) findings(s *auditState) []Finding {
	var out []Finding
	clearable := r.clearable()

	out = append(out, Finding{
		Kind:    DivergenceLegacyPayload,
		BatchID: r.batch.ID,
		Detail: fmt.Sprintf("raw membership payload with %d token(s) pending normalization",
			r.decoded+len(r.badTokens)),
		Repairable: clearable,
	})

	for _, id := range r.dangling {
		out = append(out, Finding{
			Kind:       DivergenceDanglingMember,
			BatchID:    r.batch.ID,
			LineID:     id,
			Detail:     "legacy payload references a line that does not exist",
			Repairable: clearable,
		})
	}
	for _, id := range r.dupClean {
		out = append(out, Finding{
			Kind:       DivergenceDuplicateMember,
			BatchID:    r.batch.ID,
			LineID:     id,
			Detail:     fmt.Sprintf("already claimed by batch %s", s.ownerOfLine[id]),
			Repairable: true,
		})
	}
	for _, id := range r.dupTorn {
		out = append(out, Finding{
			Kind:       DivergenceDuplicateMember,
			BatchID:    r.batch.ID,
			LineID:     id,
			Detail:     fmt.Sprintf("also claimed by batch %s, pointers disagree", s.ownerOfLine[id]),
			Repairable: false,
		})
	}

	knownIDs := make([]string, 0, len(s.lines))
	for _, l := range s.lines {
		knownIDs = append(knownIDs, l.ID)
	}
	for _, tok := range r.badTokens {
		f := Finding{
			Kind:       DivergenceMalformedLegacy,
			BatchID:    r.batch.ID,
			Detail:     fmt.Sprintf("unusable membership token %q", tok),
			Repairable: clearable,
		}
		if suggestion, ok := SuggestLineID(tok, knownIDs); ok {
			f.Suggestion = suggestion
		}
		out = append(out, f)
	}

	if !clearable && len(r.valid) == 0 && (r.decoded > 0 || len(r.badTokens) > 0) {
		out = append(out, Finding{
			Kind:       DivergenceMalformedLegacy,
			BatchID:    r.batch.ID,
			Detail:     "no usable membership tokens, treating membership as empty",
			Repairable: false,
		})
	}
	return out
}

// repairMembership normalizes legacy payloads and drops dangling members of
// open batches, replaying engine membership operations per batch. Closed
// batches are reopened, reassigned and closed again so every write goes
// through the same invariant-preserving path.
func (a *Auditor) repairMembership(ctx context.Context, s *auditState, report *Report) error {
	// claims made earlier in this pass; two raw payloads naming the same
	// unclaimed line resolve to whichever batch is processed first
	claimed := make(map[string]string, len(s.ownerOfLine))
	for id, owner := range s.ownerOfLine {
		claimed[id] = owner
	}

	for _, b := range s.batches {
		desired, clearRaw, changed := a.desiredMembership(s, b, claimed)
		if changed {
			wasClosed := b.Status == repository.BatchStatusClosed
			if wasClosed {
				if err := a.engine.ReopenBatch(ctx, b.ID); err != nil {
					return fmt.Errorf("reopen batch %s: %w", b.ID, err)
				}
			}
			if err := a.engine.AssignMembers(ctx, b.ID, desired); err != nil {
				return fmt.Errorf("reassign batch %s: %w", b.ID, err)
			}
			if wasClosed {
				if err := a.engine.CloseBatch(ctx, b.ID); err != nil {
					return fmt.Errorf("reclose batch %s: %w", b.ID, err)
				}
			}
			report.Changes++
		}

		if clearRaw {
			if err := database.WithTx(a.db, func(tx *sql.Tx) error {
				return repository.NewBatchRepo(tx).ClearLegacy(ctx, b.ID)
			}); err != nil {
				return fmt.Errorf("clear legacy payload %s: %w", b.ID, err)
			}
			report.Changes++
		}
	}
	return nil
}

// desiredMembership computes the validated membership an engine replay
// should install for a batch: normalized members that still exist, plus
// legacy tokens that validated cleanly and were not claimed earlier in
// this pass. Accepted ids are recorded in claimed.
func (a *Auditor) desiredMembership(s *auditState, b repository.Batch,
	claimed map[string]string) (desired []string, clearRaw, changed bool) {

	var current []string
	for _, m := range s.members {
		if m.BatchID == b.ID {
			current = append(current, m.LineID)
		}
	}

	for _, id := range current {
		if _, ok := s.lineByID[id]; ok {
			desired = append(desired, id)
		} else if b.Status == repository.BatchStatusClosed {
			// frozen history stays untouched; reported, not repaired
			desired = append(desired, id)
		}
	}

	if b.LegacyLineIDs != nil {
		res := a.resolveLegacy(s, b)
		clearRaw = res.clearable()
		for _, id := range res.valid {
			if owner, taken := claimed[id]; taken && owner != b.ID {
				// lost the race to an earlier payload; keep the raw so the
				// next scan reports the duplicate
				clearRaw = false
				continue
			}
			if !contains(desired, id) {
				desired = append(desired, id)
			}
		}
	}

	for _, id := range desired {
		claimed[id] = b.ID
	}
	return desired, clearRaw, !sameSet(current, desired)
}

// repairLines re-runs line normalization after membership repair.
func (a *Auditor) repairLines(ctx context.Context, report *Report) error {
	state, err := a.loadState(ctx)
	if err != nil {
		return err
	}
	for _, l := range state.lines {
		// lines pointing into a still-unnormalized legacy batch are left
		// alone until the payload is resolved
		if l.SettlementRef != nil && legacyBatch(state, *l.SettlementRef) {
			continue
		}
		changed, err := a.engine.NormalizeLine(ctx, l.ID)
		if err != nil {
			return fmt.Errorf("normalize line %s: %w", l.ID, err)
		}
		if changed {
			report.Changes++
		}
	}
	return nil
}

// legacyBatch reports whether id names a batch still carrying a raw payload.
func legacyBatch(s *auditState, id string) bool {
	b, ok := s.batchByID[id]
	return ok && b.LegacyLineIDs != nil
}

func legacyBatches(s *auditState) []repository.Batch {
	out := make([]repository.Batch, 0)
	for _, b := range s.batches {
		if b.LegacyLineIDs != nil {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]struct{}, len(a))
	for _, id := range a {
		seen[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := seen[id]; !ok {
			return false
		}
	}
	return true
}
