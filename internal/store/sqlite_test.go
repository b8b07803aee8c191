package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"FundLedger/internal/model"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ledger.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestSQLite_FundStateRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetFund(ctx, model.FundCore)
	require.ErrorIs(t, err, ErrNotFound)

	state := model.NewFundState(model.FundCore)
	state.TotalCapital = d("100000")
	state.UnallocatedCapital = d("60000")
	state.AllocatedCapital = d("40000")
	state.CashReserves = d("2500.75")
	state.ManagerAllocations = []model.ManagerAllocation{{
		ManagerName:          "M1",
		AllocatedAmount:      d("40000"),
		AllocationPercentage: d("40"),
		Accounts: []model.AccountDistribution{
			{AccountNumber: 101, Amount: d("40000"), Type: "master"},
		},
	}}
	state.UpdatedBy = "ops"
	state.LastUpdated = time.Now().UTC()
	require.NoError(t, s.InsertFund(ctx, state))
	assert.EqualValues(t, 1, state.Version)

	got, err := s.GetFund(ctx, model.FundCore)
	require.NoError(t, err)
	assert.True(t, got.TotalCapital.Equal(d("100000")))
	assert.True(t, got.CashReserves.Equal(d("2500.75")))
	assert.Equal(t, "ops", got.UpdatedBy)
	assert.EqualValues(t, 1, got.Version)
	require.Len(t, got.ManagerAllocations, 1)
	assert.Equal(t, "M1", got.ManagerAllocations[0].ManagerName)
	require.Len(t, got.ManagerAllocations[0].Accounts, 1)
	assert.EqualValues(t, 101, got.ManagerAllocations[0].Accounts[0].AccountNumber)
}

func TestSQLite_UpdateFundVersionCheck(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	state := model.NewFundState(model.FundCore)
	state.LastUpdated = time.Now().UTC()
	require.NoError(t, s.InsertFund(ctx, state))

	fresh, err := s.GetFund(ctx, model.FundCore)
	require.NoError(t, err)

	fresh.TotalCapital = d("500")
	fresh.UnallocatedCapital = d("500")
	require.NoError(t, s.UpdateFund(ctx, fresh))
	assert.EqualValues(t, 2, fresh.Version)

	// A writer holding the old version loses.
	stale := model.NewFundState(model.FundCore)
	stale.Version = 1
	stale.LastUpdated = time.Now().UTC()
	err = s.UpdateFund(ctx, stale)
	require.ErrorIs(t, err, ErrVersionConflict)

	got, err := s.GetFund(ctx, model.FundCore)
	require.NoError(t, err)
	assert.True(t, got.TotalCapital.Equal(d("500")), "stale write must not land")
}

func TestSQLite_HistoryQuery(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	recs := []model.HistoryRecord{
		{ID: "a", Timestamp: base, FundType: model.FundCore, Action: model.ActionManagerAdded, Manager: "M1"},
		{ID: "b", Timestamp: base.Add(time.Second), FundType: model.FundCore, Action: model.ActionAllocationIncreased, Manager: "M1"},
		{ID: "c", Timestamp: base.Add(2 * time.Second), FundType: model.FundBalance, Action: model.ActionManagerAdded, Manager: "M2"},
	}
	for i := range recs {
		require.NoError(t, s.AppendHistory(ctx, &recs[i]))
	}

	got, err := s.QueryHistory(ctx, HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].ID, "newest first")
	assert.Equal(t, "a", got[2].ID)

	got, err = s.QueryHistory(ctx, HistoryFilter{FundType: model.FundCore, Manager: "M1"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.QueryHistory(ctx, HistoryFilter{Action: model.ActionManagerAdded})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.QueryHistory(ctx, HistoryFilter{Start: base.Add(time.Second)})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.QueryHistory(ctx, HistoryFilter{End: base.Add(time.Second), Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
}

func TestSQLite_AccountRegistry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetAccount(ctx, 42)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.UpsertAccount(ctx, &model.Account{
		AccountNumber: 42, Equity: d("12000.50"),
		AllocatedCapital: d("0"),
	}))

	require.NoError(t, s.UpdateAccountAllocation(ctx, 42, AccountAllocationUpdate{
		AllocatedCapital: d("10000"),
		ManagerAssigned:  "M1",
		FundType:         model.FundCore,
		AllocationType:   "master",
	}))

	acct, err := s.GetAccount(ctx, 42)
	require.NoError(t, err)
	assert.True(t, acct.Equity.Equal(d("12000.50")))
	assert.True(t, acct.AllocatedCapital.Equal(d("10000")))
	assert.Equal(t, "M1", acct.ManagerAssigned)
	assert.Equal(t, model.FundCore, acct.FundType)

	require.NoError(t, s.ClearAccountAssignment(ctx, 42))
	acct, err = s.GetAccount(ctx, 42)
	require.NoError(t, err)
	assert.Empty(t, acct.ManagerAssigned)
	assert.True(t, acct.AllocatedCapital.IsZero())

	err = s.UpdateAccountAllocation(ctx, 99, AccountAllocationUpdate{AllocatedCapital: d("1")})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_ManagerRegistry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertManager(ctx, &model.Manager{
		Name: "M1", Status: model.ManagerActive,
		AssignedAccounts:  []int64{1, 2},
		CurrentAllocation: d("0"),
	}))
	require.NoError(t, s.UpsertManager(ctx, &model.Manager{
		Name: "M2", Status: model.ManagerPendingActivation,
		AssignedAccounts:  []int64{},
		CurrentAllocation: d("0"),
	}))

	require.NoError(t, s.SetManagerAllocation(ctx, "M1", d("7500")))

	mgr, err := s.GetManager(ctx, "M1")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, mgr.AssignedAccounts)
	assert.True(t, mgr.CurrentAllocation.Equal(d("7500")))

	all, err := s.ListManagers(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "M1", all[0].Name)

	err = s.SetManagerAllocation(ctx, "ghost", d("1"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_RecordSnapshot(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	state := model.NewFundState(model.FundDynamic)
	state.TotalCapital = d("50000")
	state.UnallocatedCapital = d("50000")
	require.NoError(t, s.RecordSnapshot(ctx, state))
	require.NoError(t, s.RecordSnapshot(ctx, state))

	var n int
	require.NoError(t, s.db.QueryRow(
		`SELECT COUNT(*) FROM fund_snapshots WHERE fund_type = ?`,
		string(model.FundDynamic)).Scan(&n))
	assert.Equal(t, 2, n)
}
