package repository

import (
	"context"
	"database/sql"
	"time"
)

// Settlement status of a sale line.
const (
	LineStatusPending = "pending"
	LineStatusSettled = "settled"
)

// Lifecycle status of a settlement batch.
const (
	BatchStatusOpen   = "open"
	BatchStatusClosed = "closed"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so repositories can run
// standalone reads or participate in an engine transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Line represents a sale transaction row awaiting or having undergone settlement.
type Line struct {
	ID               string
	Client           string
	Product          string
	OrderRef         string
	ValueCents       int64
	ProfitCents      int64
	Date             time.Time
	SettlementStatus string
	SettlementRef    *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Batch represents a settlement batch ("acerto") row.
type Batch struct {
	ID                 string
	Title              string
	Date               time.Time
	Status             string
	TotalProfitCents   int64
	DistributableCents int64
	Notes              string
	LegacyLineIDs      *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Member is one row of the normalized membership relation.
type Member struct {
	BatchID  string
	LineID   string
	Position int
}
