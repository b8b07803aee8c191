package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ActionType classifies an entry in the allocation audit trail.
type ActionType string

const (
	ActionManagerAdded        ActionType = "manager_added"
	ActionAllocationIncreased ActionType = "allocation_increased"
	ActionAllocationDecreased ActionType = "allocation_decreased"
	ActionManagerRemoved      ActionType = "manager_removed"
)

// AdjustmentReason is the closed set of accepted capital-adjustment causes.
// The reason becomes the history record's action type.
type AdjustmentReason string

const (
	ReasonDeposit     AdjustmentReason = "deposit"
	ReasonWithdrawal  AdjustmentReason = "withdrawal"
	ReasonRevaluation AdjustmentReason = "revaluation"
	ReasonCorrection  AdjustmentReason = "correction"
)

// ParseAdjustmentReason validates a raw reason string at the boundary.
func ParseAdjustmentReason(s string) (AdjustmentReason, error) {
	switch r := AdjustmentReason(s); r {
	case ReasonDeposit, ReasonWithdrawal, ReasonRevaluation, ReasonCorrection:
		return r, nil
	}
	return "", fmt.Errorf("unknown adjustment reason %q", s)
}

// LossPolicy governs how a manager-removal shortfall is absorbed.
type LossPolicy string

const (
	// AbsorbLoss writes the shortfall off against total capital.
	AbsorbLoss LossPolicy = "absorb_loss"
	// CoverFromReserves draws the shortfall from cash reserves, keeping
	// total capital whole.
	CoverFromReserves LossPolicy = "cover_from_reserves"
	// MarkReceivable writes the shortfall down now and tags it for
	// external recovery tracking.
	MarkReceivable LossPolicy = "mark_receivable"
)

// ParseLossPolicy validates a raw loss policy string at the boundary.
func ParseLossPolicy(s string) (LossPolicy, error) {
	switch p := LossPolicy(s); p {
	case AbsorbLoss, CoverFromReserves, MarkReceivable:
		return p, nil
	}
	return "", fmt.Errorf("unknown loss policy %q", s)
}

// StateSummary captures the capital pools at one point in time.
type StateSummary struct {
	TotalCapital       decimal.Decimal `json:"total_capital"`
	AllocatedCapital   decimal.Decimal `json:"allocated_capital"`
	UnallocatedCapital decimal.Decimal `json:"unallocated_capital"`
	CashReserves       decimal.Decimal `json:"cash_reserves"`
	ManagerCount       int             `json:"manager_count"`
}

// FinancialImpact quantifies what a ledger operation did to the fund.
type FinancialImpact struct {
	CapitalChange    decimal.Decimal `json:"capital_change"`
	LossAmount       decimal.Decimal `json:"loss_amount"`
	GainAmount       decimal.Decimal `json:"gain_amount"`
	AllocationChange decimal.Decimal `json:"allocation_change"`
}

// HistoryRecord is one immutable entry in the append-only audit trail.
// Exactly one is written per successful mutating ledger operation.
type HistoryRecord struct {
	ID          string          `json:"id"`
	Timestamp   time.Time       `json:"timestamp"`
	FundType    FundType        `json:"fund_type"`
	Action      ActionType      `json:"action_type"`
	PerformedBy string          `json:"performed_by"`
	Manager     string          `json:"affected_manager,omitempty"`
	Accounts    []int64         `json:"affected_accounts,omitempty"`
	Before      StateSummary    `json:"before_state"`
	After       StateSummary    `json:"after_state"`
	Impact      FinancialImpact `json:"financial_impact"`
	Notes       string          `json:"notes,omitempty"`
}
