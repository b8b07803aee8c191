package store

import (
	"context"
	"sort"
	"sync"

	"FundLedger/internal/model"

	"github.com/shopspring/decimal"
)

// Memory is an in-process implementation of every store interface. It is
// used when no SQLite path is configured, and as the test double for the
// ledger service.
type Memory struct {
	mu       sync.Mutex
	funds    map[model.FundType]*model.FundState
	history  []model.HistoryRecord
	accounts map[int64]*model.Account
	managers map[string]*model.Manager
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		funds:    make(map[model.FundType]*model.FundState),
		accounts: make(map[int64]*model.Account),
		managers: make(map[string]*model.Manager),
	}
}

// GetFund implements FundStateStore.
func (m *Memory) GetFund(_ context.Context, ft model.FundType) (*model.FundState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.funds[ft]
	if !ok {
		return nil, ErrNotFound
	}
	return state.Clone(), nil
}

// InsertFund implements FundStateStore.
func (m *Memory) InsertFund(_ context.Context, state *model.FundState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state.Version = 1
	m.funds[state.FundType] = state.Clone()
	return nil
}

// UpdateFund implements FundStateStore with the same optimistic version
// check as the SQLite store.
func (m *Memory) UpdateFund(_ context.Context, state *model.FundState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.funds[state.FundType]
	if !ok || current.Version != state.Version {
		return ErrVersionConflict
	}
	state.Version++
	m.funds[state.FundType] = state.Clone()
	return nil
}

// AppendHistory implements HistoryStore.
func (m *Memory) AppendHistory(_ context.Context, rec *model.HistoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, *rec)
	return nil
}

// QueryHistory implements HistoryStore, newest first.
func (m *Memory) QueryHistory(_ context.Context, f HistoryFilter) ([]model.HistoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.HistoryRecord
	for _, rec := range m.history {
		if f.FundType != "" && rec.FundType != f.FundType {
			continue
		}
		if !f.Start.IsZero() && rec.Timestamp.Before(f.Start) {
			continue
		}
		if !f.End.IsZero() && rec.Timestamp.After(f.End) {
			continue
		}
		if f.Manager != "" && rec.Manager != f.Manager {
			continue
		}
		if f.Action != "" && rec.Action != f.Action {
			continue
		}
		out = append(out, rec)
	}

	// Appended order is commit order; reverse for newest-first reads.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetAccount implements AccountRegistry.
func (m *Memory) GetAccount(_ context.Context, accountNumber int64) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[accountNumber]
	if !ok {
		return nil, ErrNotFound
	}
	out := *acct
	return &out, nil
}

// UpsertAccount implements AccountRegistry.
func (m *Memory) UpsertAccount(_ context.Context, acct *model.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *acct
	m.accounts[acct.AccountNumber] = &stored
	return nil
}

// UpdateAccountAllocation implements AccountRegistry.
func (m *Memory) UpdateAccountAllocation(_ context.Context, accountNumber int64, upd AccountAllocationUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[accountNumber]
	if !ok {
		return ErrNotFound
	}
	acct.AllocatedCapital = upd.AllocatedCapital
	acct.ManagerAssigned = upd.ManagerAssigned
	acct.FundType = upd.FundType
	acct.AllocationType = upd.AllocationType
	return nil
}

// ClearAccountAssignment implements AccountRegistry.
func (m *Memory) ClearAccountAssignment(_ context.Context, accountNumber int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[accountNumber]
	if !ok {
		return nil
	}
	acct.AllocatedCapital = decimal.Zero
	acct.ManagerAssigned = ""
	acct.FundType = ""
	acct.AllocationType = ""
	return nil
}

// GetManager implements ManagerRegistry.
func (m *Memory) GetManager(_ context.Context, name string) (*model.Manager, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mgr, ok := m.managers[name]
	if !ok {
		return nil, ErrNotFound
	}
	out := *mgr
	out.AssignedAccounts = append([]int64(nil), mgr.AssignedAccounts...)
	return &out, nil
}

// ListManagers implements ManagerRegistry.
func (m *Memory) ListManagers(_ context.Context) ([]model.Manager, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.managers))
	for name := range m.managers {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]model.Manager, 0, len(names))
	for _, name := range names {
		mgr := *m.managers[name]
		mgr.AssignedAccounts = append([]int64(nil), mgr.AssignedAccounts...)
		out = append(out, mgr)
	}
	return out, nil
}

// UpsertManager implements ManagerRegistry.
func (m *Memory) UpsertManager(_ context.Context, mgr *model.Manager) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *mgr
	stored.AssignedAccounts = append([]int64(nil), mgr.AssignedAccounts...)
	m.managers[mgr.Name] = &stored
	return nil
}

// SetManagerAllocation implements ManagerRegistry.
func (m *Memory) SetManagerAllocation(_ context.Context, name string, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mgr, ok := m.managers[name]
	if !ok {
		return ErrNotFound
	}
	mgr.CurrentAllocation = amount
	return nil
}

// RecordSnapshot implements SnapshotStore. Snapshots are reporting data;
// the in-memory store drops them.
func (m *Memory) RecordSnapshot(_ context.Context, _ *model.FundState) error {
	return nil
}
