package service

import "fmt"

// ValidationError reports malformed input shape.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports an unknown entity id.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// ConflictError reports an exclusivity violation: the line is already
// claimed by another batch. Callers may retry after resolving the claim.
type ConflictError struct {
	LineID         string
	CurrentBatchID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("line %s already assigned to batch %s", e.LineID, e.CurrentBatchID)
}

// InvalidTransitionError reports a batch operation not allowed in its
// current status, e.g. mutating membership of a closed batch.
type InvalidTransitionError struct {
	BatchID string
	Status  string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("batch %s is %s", e.BatchID, e.Status)
}

// SnapshotValidationError lists every referential violation found when a
// snapshot import failed validation. The import was rolled back.
type SnapshotValidationError struct {
	Violations []string
}

func (e *SnapshotValidationError) Error() string {
	return fmt.Sprintf("snapshot validation failed with %d violation(s): %s",
		len(e.Violations), e.Violations[0])
}
