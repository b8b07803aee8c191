package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFundType(t *testing.T) {
	for _, raw := range []string{"CORE", "BALANCE", "DYNAMIC", "SEPARATION"} {
		ft, err := ParseFundType(raw)
		require.NoError(t, err)
		assert.Equal(t, FundType(raw), ft)
	}
	for _, raw := range []string{"", "core", "HEDGE"} {
		_, err := ParseFundType(raw)
		assert.Error(t, err, "raw %q", raw)
	}
}

func TestParseLossPolicy(t *testing.T) {
	p, err := ParseLossPolicy("cover_from_reserves")
	require.NoError(t, err)
	assert.Equal(t, CoverFromReserves, p)

	_, err = ParseLossPolicy("write_off")
	assert.Error(t, err)
}

func TestParseAdjustmentReason(t *testing.T) {
	r, err := ParseAdjustmentReason("deposit")
	require.NoError(t, err)
	assert.Equal(t, ReasonDeposit, r)

	_, err = ParseAdjustmentReason("because")
	assert.Error(t, err)
}

func TestManagerAllocation_DistributionTotal(t *testing.T) {
	m := ManagerAllocation{
		AllocatedAmount: decimal.RequireFromString("5000"),
		Accounts: []AccountDistribution{
			{AccountNumber: 1, Amount: decimal.RequireFromString("3000.25")},
			{AccountNumber: 2, Amount: decimal.RequireFromString("1999.75")},
		},
	}
	assert.True(t, m.DistributionTotal().Equal(m.AllocatedAmount))
	assert.Equal(t, []int64{1, 2}, m.AccountNumbers())
}

func TestFundState_Clone(t *testing.T) {
	s := NewFundState(FundCore)
	s.ManagerAllocations = []ManagerAllocation{{
		ManagerName:     "M1",
		AllocatedAmount: decimal.RequireFromString("100"),
		Accounts:        []AccountDistribution{{AccountNumber: 1, Amount: decimal.RequireFromString("100")}},
	}}

	c := s.Clone()
	c.ManagerAllocations[0].ManagerName = "changed"
	c.ManagerAllocations[0].Accounts[0].AccountNumber = 9

	assert.Equal(t, "M1", s.ManagerAllocations[0].ManagerName)
	assert.EqualValues(t, 1, s.ManagerAllocations[0].Accounts[0].AccountNumber)
}
