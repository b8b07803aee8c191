package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// FundType identifies one of the managed capital pools.
type FundType string

const (
	FundCore       FundType = "CORE"
	FundBalance    FundType = "BALANCE"
	FundDynamic    FundType = "DYNAMIC"
	FundSeparation FundType = "SEPARATION"
)

// AllFundTypes lists every known fund pool, in reporting order.
var AllFundTypes = []FundType{FundCore, FundBalance, FundDynamic, FundSeparation}

// ParseFundType validates a raw fund type string at the boundary.
func ParseFundType(s string) (FundType, error) {
	ft := FundType(s)
	for _, known := range AllFundTypes {
		if ft == known {
			return ft, nil
		}
	}
	return "", fmt.Errorf("unknown fund type %q", s)
}

// FundStatus marks whether a fund is still accepting operations.
type FundStatus string

const (
	FundActive   FundStatus = "active"
	FundInactive FundStatus = "inactive"
)

// AccountDistribution splits a manager's allocation across brokerage accounts.
type AccountDistribution struct {
	AccountNumber int64           `json:"account_number"`
	Amount        decimal.Decimal `json:"amount"`
	Type          string          `json:"type"` // "master" unless stated otherwise
}

// ManagerAllocation is the portion of a fund assigned to one money manager.
type ManagerAllocation struct {
	ManagerName          string                `json:"manager_name"`
	AllocatedAmount      decimal.Decimal       `json:"allocated_amount"`
	AllocationPercentage decimal.Decimal       `json:"allocation_percentage"`
	Accounts             []AccountDistribution `json:"account_distribution"`
}

// DistributionTotal sums the per-account amounts.
func (m ManagerAllocation) DistributionTotal() decimal.Decimal {
	total := decimal.Zero
	for _, a := range m.Accounts {
		total = total.Add(a.Amount)
	}
	return total
}

// AccountNumbers returns the account numbers touched by this allocation.
func (m ManagerAllocation) AccountNumbers() []int64 {
	nums := make([]int64, 0, len(m.Accounts))
	for _, a := range m.Accounts {
		nums = append(nums, a.AccountNumber)
	}
	return nums
}

// FundState tracks one fund's capital pools and manager allocations.
// All mutation goes through the ledger service; Version backs the
// optimistic write check at the store.
type FundState struct {
	FundType           FundType            `json:"fund_type"`
	TotalCapital       decimal.Decimal     `json:"total_capital"`
	AllocatedCapital   decimal.Decimal     `json:"allocated_capital"`
	UnallocatedCapital decimal.Decimal     `json:"unallocated_capital"`
	CashReserves       decimal.Decimal     `json:"cash_reserves"`
	ManagerAllocations []ManagerAllocation `json:"manager_allocations"`
	Status             FundStatus          `json:"status"`
	LastUpdated        time.Time           `json:"last_updated"`
	UpdatedBy          string              `json:"updated_by"`
	Version            int64               `json:"version"`
}

// NewFundState returns a zero-valued active state for a fresh fund.
func NewFundState(ft FundType) *FundState {
	return &FundState{
		FundType:           ft,
		TotalCapital:       decimal.Zero,
		AllocatedCapital:   decimal.Zero,
		UnallocatedCapital: decimal.Zero,
		CashReserves:       decimal.Zero,
		ManagerAllocations: []ManagerAllocation{},
		Status:             FundActive,
	}
}

// Allocation returns the entry for a manager, if present.
func (s *FundState) Allocation(managerName string) (ManagerAllocation, bool) {
	for _, m := range s.ManagerAllocations {
		if m.ManagerName == managerName {
			return m, true
		}
	}
	return ManagerAllocation{}, false
}

// Clone deep-copies the state so callers can mutate freely.
func (s *FundState) Clone() *FundState {
	out := *s
	out.ManagerAllocations = make([]ManagerAllocation, len(s.ManagerAllocations))
	for i, m := range s.ManagerAllocations {
		mc := m
		mc.Accounts = make([]AccountDistribution, len(m.Accounts))
		copy(mc.Accounts, m.Accounts)
		out.ManagerAllocations[i] = mc
	}
	return &out
}

// Summary condenses the capital pools for audit records.
func (s *FundState) Summary() StateSummary {
	return StateSummary{
		TotalCapital:       s.TotalCapital,
		AllocatedCapital:   s.AllocatedCapital,
		UnallocatedCapital: s.UnallocatedCapital,
		CashReserves:       s.CashReserves,
		ManagerCount:       len(s.ManagerAllocations),
	}
}
