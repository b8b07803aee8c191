package ledger

import (
	"fmt"

	"FundLedger/internal/model"

	"github.com/shopspring/decimal"
)

// distributionTolerance allows caller-supplied per-account splits to be
// off by at most one cent against the manager's allocation.
var distributionTolerance = decimal.NewFromFloat(0.01)

// CheckInvariants verifies the fund's accounting identities:
//
//	allocated + unallocated == total (exact, decimal arithmetic)
//	allocated == sum of manager allocations (exact)
//	per manager: sum of account distribution amounts == allocated amount
//	(within distributionTolerance, the splits come from callers)
//	all pools non-negative
//
// It is run before every persisted write and by the scheduled audit job.
func CheckInvariants(s *model.FundState) error {
	if sum := s.AllocatedCapital.Add(s.UnallocatedCapital); !sum.Equal(s.TotalCapital) {
		return &IntegrityError{
			FundType: string(s.FundType),
			Detail: fmt.Sprintf("allocated %s + unallocated %s != total %s",
				s.AllocatedCapital.StringFixed(2), s.UnallocatedCapital.StringFixed(2),
				s.TotalCapital.StringFixed(2)),
		}
	}

	managerSum := decimal.Zero
	for _, m := range s.ManagerAllocations {
		managerSum = managerSum.Add(m.AllocatedAmount)
		if len(m.Accounts) > 0 && m.DistributionTotal().Sub(m.AllocatedAmount).Abs().GreaterThan(distributionTolerance) {
			return &IntegrityError{
				FundType: string(s.FundType),
				Detail: fmt.Sprintf("manager %s distribution %s != allocation %s",
					m.ManagerName, m.DistributionTotal().StringFixed(2),
					m.AllocatedAmount.StringFixed(2)),
			}
		}
	}
	if !managerSum.Equal(s.AllocatedCapital) {
		return &IntegrityError{
			FundType: string(s.FundType),
			Detail: fmt.Sprintf("manager allocations sum %s != allocated %s",
				managerSum.StringFixed(2), s.AllocatedCapital.StringFixed(2)),
		}
	}

	for name, v := range map[string]decimal.Decimal{
		"total_capital":       s.TotalCapital,
		"allocated_capital":   s.AllocatedCapital,
		"unallocated_capital": s.UnallocatedCapital,
		"cash_reserves":       s.CashReserves,
	} {
		if v.IsNegative() {
			return &IntegrityError{
				FundType: string(s.FundType),
				Detail:   fmt.Sprintf("%s is negative: %s", name, v.StringFixed(2)),
			}
		}
	}
	return nil
}
