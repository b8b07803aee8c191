package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ManagerStatus is a money manager's lifecycle stage.
type ManagerStatus string

const (
	ManagerActive            ManagerStatus = "active"
	ManagerPendingActivation ManagerStatus = "pending_activation"
	ManagerInactive          ManagerStatus = "inactive"
)

// Manager is reference data about a money manager. The registry entry
// survives fund removal so the manager can be reassigned later.
type Manager struct {
	Name              string          `json:"name"`
	Status            ManagerStatus   `json:"status"`
	AssignedAccounts  []int64         `json:"assigned_accounts"`
	CurrentAllocation decimal.Decimal `json:"current_allocation"`
}

// Account is reference data about a brokerage account.
type Account struct {
	AccountNumber        int64           `json:"account_number"`
	Equity               decimal.Decimal `json:"equity"`
	AllocatedCapital     decimal.Decimal `json:"allocated_capital"`
	ManagerAssigned      string          `json:"manager_assigned,omitempty"`
	FundType             FundType        `json:"fund_type,omitempty"`
	AllocationType       string          `json:"allocation_type,omitempty"`
	LastAllocationUpdate time.Time       `json:"last_allocation_update"`
}
