package store

import (
	"context"
	"errors"
	"time"

	"FundLedger/internal/model"

	"github.com/shopspring/decimal"
)

// ErrNotFound signals a missing fund state, account, or manager.
var ErrNotFound = errors.New("not found")

// ErrVersionConflict signals that a fund-state write lost an optimistic
// version check: the row changed since it was read.
var ErrVersionConflict = errors.New("version conflict")

// FundStateStore persists one document per fund type.
type FundStateStore interface {
	// GetFund returns ErrNotFound for an uninitialized fund.
	GetFund(ctx context.Context, ft model.FundType) (*model.FundState, error)
	// InsertFund creates the document at version 1.
	InsertFund(ctx context.Context, state *model.FundState) error
	// UpdateFund writes the document only if state.Version still matches
	// the stored row, then bumps the version. Returns ErrVersionConflict
	// otherwise.
	UpdateFund(ctx context.Context, state *model.FundState) error
}

// HistoryFilter narrows a history query. Zero fields are ignored; set
// fields combine with AND.
type HistoryFilter struct {
	FundType model.FundType
	Start    time.Time
	End      time.Time
	Manager  string
	Action   model.ActionType
	Limit    int
}

// HistoryStore is the append-only audit trail.
type HistoryStore interface {
	AppendHistory(ctx context.Context, rec *model.HistoryRecord) error
	// QueryHistory returns records newest first.
	QueryHistory(ctx context.Context, f HistoryFilter) ([]model.HistoryRecord, error)
}

// AccountAllocationUpdate mirrors a committed allocation onto an account.
type AccountAllocationUpdate struct {
	AllocatedCapital decimal.Decimal
	ManagerAssigned  string
	FundType         model.FundType
	AllocationType   string
}

// AccountRegistry is read-mostly reference data about brokerage accounts.
type AccountRegistry interface {
	GetAccount(ctx context.Context, accountNumber int64) (*model.Account, error)
	UpsertAccount(ctx context.Context, acct *model.Account) error
	UpdateAccountAllocation(ctx context.Context, accountNumber int64, upd AccountAllocationUpdate) error
	// ClearAccountAssignment releases the account for reassignment.
	ClearAccountAssignment(ctx context.Context, accountNumber int64) error
}

// ManagerRegistry is read-mostly reference data about money managers.
type ManagerRegistry interface {
	GetManager(ctx context.Context, name string) (*model.Manager, error)
	ListManagers(ctx context.Context) ([]model.Manager, error)
	UpsertManager(ctx context.Context, mgr *model.Manager) error
	SetManagerAllocation(ctx context.Context, name string, amount decimal.Decimal) error
}

// SnapshotStore records periodic per-fund capital snapshots for dashboards.
// Snapshots are reporting data, not part of the audit trail.
type SnapshotStore interface {
	RecordSnapshot(ctx context.Context, state *model.FundState) error
}
