package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"FundLedger/internal/model"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// SQLite persists ledger state, registries, and the audit trail in a
// single SQLite database.
type SQLite struct {
	db  *sql.DB
	mu  sync.Mutex
	log zerolog.Logger
}

// Open opens (or creates) the database and runs migrations.
func Open(dbPath string, log zerolog.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode for better concurrent read performance (dashboards read
	// while the ledger writes).
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLite{db: db, log: log.With().Str("component", "store").Logger()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s.log.Info().Str("path", dbPath).Msg("sqlite store opened")
	return s, nil
}

func (s *SQLite) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS fund_states (
			fund_type           TEXT PRIMARY KEY,
			total_capital       TEXT NOT NULL,
			allocated_capital   TEXT NOT NULL,
			unallocated_capital TEXT NOT NULL,
			cash_reserves       TEXT NOT NULL,
			allocations         TEXT NOT NULL,
			status              TEXT NOT NULL,
			updated_by          TEXT,
			updated_at          INTEGER NOT NULL,
			version             INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS fund_history (
			id                TEXT PRIMARY KEY,
			timestamp         INTEGER NOT NULL,
			fund_type         TEXT NOT NULL,
			action            TEXT NOT NULL,
			performed_by      TEXT,
			manager           TEXT,
			accounts          TEXT,
			before_state      TEXT NOT NULL,
			after_state       TEXT NOT NULL,
			capital_change    TEXT NOT NULL,
			loss_amount       TEXT NOT NULL,
			gain_amount       TEXT NOT NULL,
			allocation_change TEXT NOT NULL,
			notes             TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_fund_ts ON fund_history(fund_type, timestamp)`,

		`CREATE TABLE IF NOT EXISTS accounts (
			account_number         INTEGER PRIMARY KEY,
			equity                 TEXT NOT NULL,
			allocated_capital      TEXT NOT NULL,
			manager_assigned       TEXT,
			fund_type              TEXT,
			allocation_type        TEXT,
			last_allocation_update INTEGER
		)`,

		`CREATE TABLE IF NOT EXISTS managers (
			name               TEXT PRIMARY KEY,
			status             TEXT NOT NULL,
			assigned_accounts  TEXT NOT NULL,
			current_allocation TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS fund_snapshots (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp           INTEGER NOT NULL,
			fund_type           TEXT NOT NULL,
			total_capital       TEXT NOT NULL,
			allocated_capital   TEXT NOT NULL,
			unallocated_capital TEXT NOT NULL,
			cash_reserves       TEXT NOT NULL,
			manager_count       INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_ts ON fund_snapshots(timestamp)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// GetFund implements FundStateStore.
func (s *SQLite) GetFund(ctx context.Context, ft model.FundType) (*model.FundState, error) {
	row := s.db.QueryRowContext(ctx, `SELECT total_capital, allocated_capital,
		unallocated_capital, cash_reserves, allocations, status, updated_by,
		updated_at, version
		FROM fund_states WHERE fund_type = ?`, string(ft))

	var (
		total, allocated, unallocated, reserves string
		allocations, status                     string
		updatedBy                               sql.NullString
		updatedAt, version                      int64
	)
	err := row.Scan(&total, &allocated, &unallocated, &reserves,
		&allocations, &status, &updatedBy, &updatedAt, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query fund state: %w", err)
	}

	state := &model.FundState{
		FundType:  ft,
		Status:    model.FundStatus(status),
		UpdatedBy: updatedBy.String,
		Version:   version,
	}
	if state.TotalCapital, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("parse total_capital: %w", err)
	}
	if state.AllocatedCapital, err = decimal.NewFromString(allocated); err != nil {
		return nil, fmt.Errorf("parse allocated_capital: %w", err)
	}
	if state.UnallocatedCapital, err = decimal.NewFromString(unallocated); err != nil {
		return nil, fmt.Errorf("parse unallocated_capital: %w", err)
	}
	if state.CashReserves, err = decimal.NewFromString(reserves); err != nil {
		return nil, fmt.Errorf("parse cash_reserves: %w", err)
	}
	if err := json.Unmarshal([]byte(allocations), &state.ManagerAllocations); err != nil {
		return nil, fmt.Errorf("parse allocations: %w", err)
	}
	state.LastUpdated = time.Unix(0, updatedAt)
	return state, nil
}

// InsertFund implements FundStateStore.
func (s *SQLite) InsertFund(ctx context.Context, state *model.FundState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	allocations, err := json.Marshal(state.ManagerAllocations)
	if err != nil {
		return fmt.Errorf("marshal allocations: %w", err)
	}

	state.Version = 1
	_, err = s.db.ExecContext(ctx, `INSERT INTO fund_states
		(fund_type, total_capital, allocated_capital, unallocated_capital,
		 cash_reserves, allocations, status, updated_by, updated_at, version)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		string(state.FundType),
		state.TotalCapital.String(), state.AllocatedCapital.String(),
		state.UnallocatedCapital.String(), state.CashReserves.String(),
		string(allocations), string(state.Status), state.UpdatedBy,
		state.LastUpdated.UnixNano(), state.Version,
	)
	if err != nil {
		return fmt.Errorf("insert fund state: %w", err)
	}
	return nil
}

// UpdateFund implements FundStateStore with an optimistic version check.
func (s *SQLite) UpdateFund(ctx context.Context, state *model.FundState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	allocations, err := json.Marshal(state.ManagerAllocations)
	if err != nil {
		return fmt.Errorf("marshal allocations: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `UPDATE fund_states SET
		total_capital = ?, allocated_capital = ?, unallocated_capital = ?,
		cash_reserves = ?, allocations = ?, status = ?, updated_by = ?,
		updated_at = ?, version = version + 1
		WHERE fund_type = ? AND version = ?`,
		state.TotalCapital.String(), state.AllocatedCapital.String(),
		state.UnallocatedCapital.String(), state.CashReserves.String(),
		string(allocations), string(state.Status), state.UpdatedBy,
		state.LastUpdated.UnixNano(),
		string(state.FundType), state.Version,
	)
	if err != nil {
		return fmt.Errorf("update fund state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update fund state: %w", err)
	}
	if n == 0 {
		return ErrVersionConflict
	}
	state.Version++
	return nil
}

// AppendHistory implements HistoryStore.
func (s *SQLite) AppendHistory(ctx context.Context, rec *model.HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := json.Marshal(rec.Accounts)
	if err != nil {
		return fmt.Errorf("marshal accounts: %w", err)
	}
	before, err := json.Marshal(rec.Before)
	if err != nil {
		return fmt.Errorf("marshal before state: %w", err)
	}
	after, err := json.Marshal(rec.After)
	if err != nil {
		return fmt.Errorf("marshal after state: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO fund_history
		(id, timestamp, fund_type, action, performed_by, manager, accounts,
		 before_state, after_state, capital_change, loss_amount, gain_amount,
		 allocation_change, notes)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.Timestamp.UnixNano(), string(rec.FundType), string(rec.Action),
		rec.PerformedBy, rec.Manager, string(accounts),
		string(before), string(after),
		rec.Impact.CapitalChange.String(), rec.Impact.LossAmount.String(),
		rec.Impact.GainAmount.String(), rec.Impact.AllocationChange.String(),
		rec.Notes,
	)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// QueryHistory implements HistoryStore. Records come back newest first;
// rowid breaks timestamp ties so per-fund append order is preserved.
func (s *SQLite) QueryHistory(ctx context.Context, f HistoryFilter) ([]model.HistoryRecord, error) {
	query := `SELECT id, timestamp, fund_type, action, performed_by, manager,
		accounts, before_state, after_state, capital_change, loss_amount,
		gain_amount, allocation_change, notes
		FROM fund_history WHERE 1=1`
	var args []any

	if f.FundType != "" {
		query += " AND fund_type = ?"
		args = append(args, string(f.FundType))
	}
	if !f.Start.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, f.Start.UnixNano())
	}
	if !f.End.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, f.End.UnixNano())
	}
	if f.Manager != "" {
		query += " AND manager = ?"
		args = append(args, f.Manager)
	}
	if f.Action != "" {
		query += " AND action = ?"
		args = append(args, string(f.Action))
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY timestamp DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var records []model.HistoryRecord
	for rows.Next() {
		rec, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return records, nil
}

func scanHistory(rows *sql.Rows) (model.HistoryRecord, error) {
	var (
		rec                                           model.HistoryRecord
		ts                                            int64
		fundType, action, before, after               string
		performedBy, manager, accounts, notes         sql.NullString
		capitalChange, lossAmount, gainAmount, change string
	)
	err := rows.Scan(&rec.ID, &ts, &fundType, &action, &performedBy, &manager,
		&accounts, &before, &after, &capitalChange, &lossAmount, &gainAmount,
		&change, &notes)
	if err != nil {
		return rec, fmt.Errorf("scan history: %w", err)
	}

	rec.Timestamp = time.Unix(0, ts)
	rec.FundType = model.FundType(fundType)
	rec.Action = model.ActionType(action)
	rec.PerformedBy = performedBy.String
	rec.Manager = manager.String
	rec.Notes = notes.String

	if accounts.Valid && accounts.String != "" {
		if err := json.Unmarshal([]byte(accounts.String), &rec.Accounts); err != nil {
			return rec, fmt.Errorf("parse accounts: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(before), &rec.Before); err != nil {
		return rec, fmt.Errorf("parse before state: %w", err)
	}
	if err := json.Unmarshal([]byte(after), &rec.After); err != nil {
		return rec, fmt.Errorf("parse after state: %w", err)
	}
	if rec.Impact.CapitalChange, err = decimal.NewFromString(capitalChange); err != nil {
		return rec, fmt.Errorf("parse capital_change: %w", err)
	}
	if rec.Impact.LossAmount, err = decimal.NewFromString(lossAmount); err != nil {
		return rec, fmt.Errorf("parse loss_amount: %w", err)
	}
	if rec.Impact.GainAmount, err = decimal.NewFromString(gainAmount); err != nil {
		return rec, fmt.Errorf("parse gain_amount: %w", err)
	}
	if rec.Impact.AllocationChange, err = decimal.NewFromString(change); err != nil {
		return rec, fmt.Errorf("parse allocation_change: %w", err)
	}
	return rec, nil
}

// GetAccount implements AccountRegistry.
func (s *SQLite) GetAccount(ctx context.Context, accountNumber int64) (*model.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT equity, allocated_capital,
		manager_assigned, fund_type, allocation_type, last_allocation_update
		FROM accounts WHERE account_number = ?`, accountNumber)

	var (
		equity, allocated                    string
		managerAssigned, fundType, allocType sql.NullString
		lastUpdate                           sql.NullInt64
	)
	err := row.Scan(&equity, &allocated, &managerAssigned, &fundType,
		&allocType, &lastUpdate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}

	acct := &model.Account{
		AccountNumber:   accountNumber,
		ManagerAssigned: managerAssigned.String,
		FundType:        model.FundType(fundType.String),
		AllocationType:  allocType.String,
	}
	if acct.Equity, err = decimal.NewFromString(equity); err != nil {
		return nil, fmt.Errorf("parse equity: %w", err)
	}
	if acct.AllocatedCapital, err = decimal.NewFromString(allocated); err != nil {
		return nil, fmt.Errorf("parse allocated_capital: %w", err)
	}
	if lastUpdate.Valid {
		acct.LastAllocationUpdate = time.Unix(0, lastUpdate.Int64)
	}
	return acct, nil
}

// UpsertAccount implements AccountRegistry.
func (s *SQLite) UpsertAccount(ctx context.Context, acct *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT INTO accounts
		(account_number, equity, allocated_capital, manager_assigned,
		 fund_type, allocation_type, last_allocation_update)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(account_number) DO UPDATE SET
		 equity = excluded.equity,
		 allocated_capital = excluded.allocated_capital,
		 manager_assigned = excluded.manager_assigned,
		 fund_type = excluded.fund_type,
		 allocation_type = excluded.allocation_type,
		 last_allocation_update = excluded.last_allocation_update`,
		acct.AccountNumber, acct.Equity.String(), acct.AllocatedCapital.String(),
		acct.ManagerAssigned, string(acct.FundType), acct.AllocationType,
		acct.LastAllocationUpdate.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

// UpdateAccountAllocation implements AccountRegistry.
func (s *SQLite) UpdateAccountAllocation(ctx context.Context, accountNumber int64, upd AccountAllocationUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE accounts SET
		allocated_capital = ?, manager_assigned = ?, fund_type = ?,
		allocation_type = ?, last_allocation_update = ?
		WHERE account_number = ?`,
		upd.AllocatedCapital.String(), upd.ManagerAssigned,
		string(upd.FundType), upd.AllocationType, time.Now().UnixNano(),
		accountNumber,
	)
	if err != nil {
		return fmt.Errorf("update account allocation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update account allocation: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearAccountAssignment implements AccountRegistry.
func (s *SQLite) ClearAccountAssignment(ctx context.Context, accountNumber int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `UPDATE accounts SET
		allocated_capital = '0', manager_assigned = '', fund_type = '',
		allocation_type = '', last_allocation_update = ?
		WHERE account_number = ?`,
		time.Now().UnixNano(), accountNumber,
	)
	if err != nil {
		return fmt.Errorf("clear account assignment: %w", err)
	}
	return nil
}

// GetManager implements ManagerRegistry.
func (s *SQLite) GetManager(ctx context.Context, name string) (*model.Manager, error) {
	row := s.db.QueryRowContext(ctx, `SELECT status, assigned_accounts,
		current_allocation FROM managers WHERE name = ?`, name)

	var status, assigned, allocation string
	err := row.Scan(&status, &assigned, &allocation)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query manager: %w", err)
	}
	return buildManager(name, status, assigned, allocation)
}

// ListManagers implements ManagerRegistry.
func (s *SQLite) ListManagers(ctx context.Context) ([]model.Manager, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, status, assigned_accounts,
		current_allocation FROM managers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query managers: %w", err)
	}
	defer rows.Close()

	var managers []model.Manager
	for rows.Next() {
		var name, status, assigned, allocation string
		if err := rows.Scan(&name, &status, &assigned, &allocation); err != nil {
			return nil, fmt.Errorf("scan manager: %w", err)
		}
		mgr, err := buildManager(name, status, assigned, allocation)
		if err != nil {
			return nil, err
		}
		managers = append(managers, *mgr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate managers: %w", err)
	}
	return managers, nil
}

func buildManager(name, status, assigned, allocation string) (*model.Manager, error) {
	mgr := &model.Manager{Name: name, Status: model.ManagerStatus(status)}
	if err := json.Unmarshal([]byte(assigned), &mgr.AssignedAccounts); err != nil {
		return nil, fmt.Errorf("parse assigned_accounts: %w", err)
	}
	var err error
	if mgr.CurrentAllocation, err = decimal.NewFromString(allocation); err != nil {
		return nil, fmt.Errorf("parse current_allocation: %w", err)
	}
	return mgr, nil
}

// UpsertManager implements ManagerRegistry.
func (s *SQLite) UpsertManager(ctx context.Context, mgr *model.Manager) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	assigned, err := json.Marshal(mgr.AssignedAccounts)
	if err != nil {
		return fmt.Errorf("marshal assigned_accounts: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO managers
		(name, status, assigned_accounts, current_allocation)
		VALUES (?,?,?,?)
		ON CONFLICT(name) DO UPDATE SET
		 status = excluded.status,
		 assigned_accounts = excluded.assigned_accounts,
		 current_allocation = excluded.current_allocation`,
		mgr.Name, string(mgr.Status), string(assigned),
		mgr.CurrentAllocation.String(),
	)
	if err != nil {
		return fmt.Errorf("upsert manager: %w", err)
	}
	return nil
}

// SetManagerAllocation implements ManagerRegistry.
func (s *SQLite) SetManagerAllocation(ctx context.Context, name string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE managers SET current_allocation = ? WHERE name = ?`,
		amount.String(), name,
	)
	if err != nil {
		return fmt.Errorf("set manager allocation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set manager allocation: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordSnapshot implements SnapshotStore.
func (s *SQLite) RecordSnapshot(ctx context.Context, state *model.FundState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT INTO fund_snapshots
		(timestamp, fund_type, total_capital, allocated_capital,
		 unallocated_capital, cash_reserves, manager_count)
		VALUES (?,?,?,?,?,?,?)`,
		time.Now().UnixNano(), string(state.FundType),
		state.TotalCapital.String(), state.AllocatedCapital.String(),
		state.UnallocatedCapital.String(), state.CashReserves.String(),
		len(state.ManagerAllocations),
	)
	if err != nil {
		return fmt.Errorf("record snapshot: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	s.log.Info().Msg("closing sqlite store")
	return s.db.Close()
}
