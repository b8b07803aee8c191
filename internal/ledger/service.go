package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"FundLedger/internal/model"
	"FundLedger/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Service owns all mutation of fund allocation state. Mutating operations
// serialize on a per-fund lock, and every state write carries the store's
// optimistic version check on top.
type Service struct {
	states   store.FundStateStore
	history  store.HistoryStore
	accounts store.AccountRegistry
	managers store.ManagerRegistry
	log      zerolog.Logger

	mu        sync.Mutex
	fundLocks map[model.FundType]*sync.Mutex
}

// NewService wires the ledger against its collaborator stores.
func NewService(states store.FundStateStore, history store.HistoryStore,
	accounts store.AccountRegistry, managers store.ManagerRegistry,
	log zerolog.Logger) *Service {
	return &Service{
		states:    states,
		history:   history,
		accounts:  accounts,
		managers:  managers,
		log:       log.With().Str("component", "ledger").Logger(),
		fundLocks: make(map[model.FundType]*sync.Mutex),
	}
}

// fundLock returns the mutex serializing mutations for one fund type.
func (s *Service) fundLock(ft model.FundType) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.fundLocks[ft]
	if !ok {
		lock = &sync.Mutex{}
		s.fundLocks[ft] = lock
	}
	return lock
}

// GetFundState returns the persisted state for a fund, or ErrFundNotFound
// so the caller may initialize it.
func (s *Service) GetFundState(ctx context.Context, ft model.FundType) (*model.FundState, error) {
	if _, err := model.ParseFundType(string(ft)); err != nil {
		return nil, newValidationError(err.Error())
	}
	state, err := s.states.GetFund(ctx, ft)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrFundNotFound, ft)
	}
	if err != nil {
		return nil, fmt.Errorf("load fund %s: %w", ft, err)
	}
	return state, nil
}

// InitializeFund creates a zero-valued active state for a fund type.
// Initializing an existing fund is a caller error.
func (s *Service) InitializeFund(ctx context.Context, ft model.FundType, userID string) (*model.FundState, error) {
	if _, err := model.ParseFundType(string(ft)); err != nil {
		return nil, newValidationError(err.Error())
	}

	lock := s.fundLock(ft)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.states.GetFund(ctx, ft); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrFundExists, ft)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load fund %s: %w", ft, err)
	}

	state := model.NewFundState(ft)
	state.LastUpdated = time.Now().UTC()
	state.UpdatedBy = userID
	if err := s.states.InsertFund(ctx, state); err != nil {
		return nil, fmt.Errorf("insert fund %s: %w", ft, err)
	}

	s.log.Info().Str("fund", string(ft)).Str("user", userID).Msg("fund initialized")
	return state, nil
}

// AllocationImpact is the dry-run arithmetic of a proposed allocation.
type AllocationImpact struct {
	UnallocatedBefore  decimal.Decimal `json:"unallocated_before"`
	UnallocatedAfter   decimal.Decimal `json:"unallocated_after"`
	ManagerBefore      decimal.Decimal `json:"manager_allocation_before"`
	ManagerAfter       decimal.Decimal `json:"manager_allocation_after"`
	TotalCapitalChange decimal.Decimal `json:"total_capital_change"`
}

// PreviewResult is the outcome of a pure validation pass.
type PreviewResult struct {
	IsValid  bool             `json:"is_valid"`
	Impact   AllocationImpact `json:"impact"`
	Warnings []string         `json:"warnings,omitempty"`
	Errors   []string         `json:"errors,omitempty"`
}

// PreviewAllocation validates a proposed manager allocation without
// persisting anything. The returned error covers store failures only;
// validation problems land in the result's Errors.
func (s *Service) PreviewAllocation(ctx context.Context, ft model.FundType,
	managerName string, newAllocation decimal.Decimal,
	distribution []model.AccountDistribution) (*PreviewResult, error) {

	if _, err := model.ParseFundType(string(ft)); err != nil {
		return &PreviewResult{Errors: []string{err.Error()}}, nil
	}

	state, err := s.states.GetFund(ctx, ft)
	if errors.Is(err, store.ErrNotFound) {
		return &PreviewResult{Errors: []string{"Fund not initialized"}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load fund %s: %w", ft, err)
	}

	return previewOnState(state, managerName, newAllocation, distribution), nil
}

// previewOnState runs the validation rules, in order, against an already
// loaded state. ApplyAllocation reuses it under the fund lock so preview
// and apply cannot diverge.
func previewOnState(state *model.FundState, managerName string,
	newAllocation decimal.Decimal, distribution []model.AccountDistribution) *PreviewResult {

	res := &PreviewResult{}

	if !newAllocation.IsPositive() {
		res.Errors = append(res.Errors,
			fmt.Sprintf("allocation amount must be positive, got %s", newAllocation.StringFixed(2)))
	}

	current := decimal.Zero
	if existing, ok := state.Allocation(managerName); ok {
		current = existing.AllocatedAmount
	}

	required := newAllocation.Sub(current)
	if required.GreaterThan(state.UnallocatedCapital) {
		res.Errors = append(res.Errors,
			fmt.Sprintf("insufficient unallocated capital: required %s, available %s",
				required.StringFixed(2), state.UnallocatedCapital.StringFixed(2)))
	}

	if len(distribution) > 0 {
		distTotal := decimal.Zero
		for _, d := range distribution {
			if d.Amount.IsNegative() {
				res.Errors = append(res.Errors,
					fmt.Sprintf("account %d amount is negative: %s", d.AccountNumber, d.Amount.StringFixed(2)))
			}
			distTotal = distTotal.Add(d.Amount)
		}
		if distTotal.Sub(newAllocation).Abs().GreaterThan(distributionTolerance) {
			res.Errors = append(res.Errors,
				fmt.Sprintf("account distribution total %s does not match allocation %s",
					distTotal.StringFixed(2), newAllocation.StringFixed(2)))
		}
	} else {
		res.Warnings = append(res.Warnings, "no account distribution provided")
	}

	if required.IsNegative() {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("allocation decrease releases %s back to unallocated", required.Neg().StringFixed(2)))
	}

	res.Impact = AllocationImpact{
		UnallocatedBefore:  state.UnallocatedCapital,
		UnallocatedAfter:   state.UnallocatedCapital.Sub(required),
		ManagerBefore:      current,
		ManagerAfter:       newAllocation,
		TotalCapitalChange: decimal.Zero,
	}
	res.IsValid = len(res.Errors) == 0
	return res
}

// ApplyAllocation sets a manager's allocation, adjusts the capital pools,
// mirrors the result onto the account and manager registries, and appends
// one history record.
func (s *Service) ApplyAllocation(ctx context.Context, ft model.FundType,
	managerName string, amount decimal.Decimal,
	distribution []model.AccountDistribution, notes, userID string) (*model.FundState, error) {

	if _, err := model.ParseFundType(string(ft)); err != nil {
		return nil, newValidationError(err.Error())
	}

	lock := s.fundLock(ft)
	lock.Lock()
	defer lock.Unlock()

	state, err := s.states.GetFund(ctx, ft)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrFundNotFound, ft)
	}
	if err != nil {
		return nil, fmt.Errorf("load fund %s: %w", ft, err)
	}

	preview := previewOnState(state, managerName, amount, distribution)
	if !preview.IsValid {
		return nil, &ValidationError{Reasons: preview.Errors}
	}

	before := state.Summary()
	oldAmount := decimal.Zero

	entry := model.ManagerAllocation{
		ManagerName:     managerName,
		AllocatedAmount: amount,
		Accounts:        distribution,
	}
	replaced := false
	for i, m := range state.ManagerAllocations {
		if m.ManagerName == managerName {
			oldAmount = m.AllocatedAmount
			state.ManagerAllocations[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		state.ManagerAllocations = append(state.ManagerAllocations, entry)
	}

	required := amount.Sub(oldAmount)
	state.AllocatedCapital = state.AllocatedCapital.Add(required)
	state.UnallocatedCapital = state.UnallocatedCapital.Sub(required)
	state.LastUpdated = time.Now().UTC()
	state.UpdatedBy = userID
	s.recomputePercentages(state)

	if err := s.commit(ctx, state); err != nil {
		return nil, err
	}

	// Mirror onto the registries. The registries are reference data with
	// no transactional guarantee; a missing row is logged, not fatal.
	for _, d := range distribution {
		err := s.accounts.UpdateAccountAllocation(ctx, d.AccountNumber, store.AccountAllocationUpdate{
			AllocatedCapital: d.Amount,
			ManagerAssigned:  managerName,
			FundType:         ft,
			AllocationType:   d.Type,
		})
		if err != nil {
			s.log.Warn().Err(err).Int64("account", d.AccountNumber).Msg("mirror account allocation")
		}
	}
	if err := s.managers.SetManagerAllocation(ctx, managerName, amount); err != nil {
		s.log.Warn().Err(err).Str("manager", managerName).Msg("mirror manager allocation")
	}

	var action model.ActionType
	switch {
	case oldAmount.IsZero():
		action = model.ActionManagerAdded
	case amount.GreaterThan(oldAmount):
		action = model.ActionAllocationIncreased
	default:
		action = model.ActionAllocationDecreased
	}

	if err := s.appendHistory(ctx, &model.HistoryRecord{
		FundType:    ft,
		Action:      action,
		PerformedBy: userID,
		Manager:     managerName,
		Accounts:    entry.AccountNumbers(),
		Before:      before,
		After:       state.Summary(),
		Impact: model.FinancialImpact{
			CapitalChange:    decimal.Zero,
			LossAmount:       decimal.Zero,
			GainAmount:       decimal.Zero,
			AllocationChange: required,
		},
		Notes: notes,
	}); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("fund", string(ft)).
		Str("manager", managerName).
		Str("action", string(action)).
		Str("amount", amount.StringFixed(2)).
		Msg("allocation applied")
	return state, nil
}

// RemovalSummary reports the outcome of a manager removal.
type RemovalSummary struct {
	FundType model.FundType     `json:"fund_type"`
	Manager  string             `json:"manager_name"`
	Policy   model.LossPolicy   `json:"loss_handling"`
	Loss     decimal.Decimal    `json:"loss"` // positive = loss, negative = gain
	Before   model.StateSummary `json:"before_state"`
	After    model.StateSummary `json:"after_state"`
}

// RemoveManager settles a manager out of the fund. The difference between
// the expected allocation and the balance actually returned is absorbed
// according to the loss policy.
func (s *Service) RemoveManager(ctx context.Context, ft model.FundType,
	managerName string, actualBalance, expectedAllocation decimal.Decimal,
	policy model.LossPolicy, notes, userID string) (*RemovalSummary, error) {

	if _, err := model.ParseFundType(string(ft)); err != nil {
		return nil, newValidationError(err.Error())
	}
	if _, err := model.ParseLossPolicy(string(policy)); err != nil {
		return nil, newValidationError(err.Error())
	}

	lock := s.fundLock(ft)
	lock.Lock()
	defer lock.Unlock()

	state, err := s.states.GetFund(ctx, ft)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrFundNotFound, ft)
	}
	if err != nil {
		return nil, fmt.Errorf("load fund %s: %w", ft, err)
	}

	idx := -1
	for i, m := range state.ManagerAllocations {
		if m.ManagerName == managerName {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s in fund %s", ErrManagerNotFound, managerName, ft)
	}
	removed := state.ManagerAllocations[idx]

	loss := expectedAllocation.Sub(actualBalance)
	if policy == model.CoverFromReserves && loss.GreaterThan(state.CashReserves) {
		return nil, newValidationError(fmt.Sprintf(
			"insufficient cash reserves: required %s, available %s",
			loss.StringFixed(2), state.CashReserves.StringFixed(2)))
	}

	before := state.Summary()
	state.ManagerAllocations = append(
		state.ManagerAllocations[:idx], state.ManagerAllocations[idx+1:]...)

	switch policy {
	case model.AbsorbLoss:
		state.TotalCapital = state.TotalCapital.Sub(loss)
		state.UnallocatedCapital = state.UnallocatedCapital.Add(actualBalance)
	case model.CoverFromReserves:
		// Reserves make the pool whole: the returned balance plus the
		// covered shortfall goes back to unallocated.
		state.CashReserves = state.CashReserves.Sub(loss)
		state.UnallocatedCapital = state.UnallocatedCapital.Add(expectedAllocation)
	case model.MarkReceivable:
		// Written down like an absorbed loss until a receivable module
		// exists; the shortfall stays visible in the audit record.
		// TODO: create a trackable receivable entity once receivables
		// are modeled.
		state.TotalCapital = state.TotalCapital.Sub(loss)
		state.UnallocatedCapital = state.UnallocatedCapital.Add(actualBalance)
	}
	state.AllocatedCapital = state.AllocatedCapital.Sub(expectedAllocation)
	state.LastUpdated = time.Now().UTC()
	state.UpdatedBy = userID
	s.recomputePercentages(state)

	if err := s.commit(ctx, state); err != nil {
		return nil, err
	}

	for _, num := range removed.AccountNumbers() {
		if err := s.accounts.ClearAccountAssignment(ctx, num); err != nil {
			s.log.Warn().Err(err).Int64("account", num).Msg("clear account assignment")
		}
	}
	if err := s.managers.SetManagerAllocation(ctx, managerName, decimal.Zero); err != nil {
		s.log.Warn().Err(err).Str("manager", managerName).Msg("clear manager allocation")
	}

	recordNotes := notes
	if policy == model.MarkReceivable && loss.IsPositive() {
		if recordNotes != "" {
			recordNotes += " "
		}
		recordNotes += fmt.Sprintf("[receivable pending: %s]", loss.StringFixed(2))
	}

	after := state.Summary()
	if err := s.appendHistory(ctx, &model.HistoryRecord{
		FundType:    ft,
		Action:      model.ActionManagerRemoved,
		PerformedBy: userID,
		Manager:     managerName,
		Accounts:    removed.AccountNumbers(),
		Before:      before,
		After:       after,
		Impact: model.FinancialImpact{
			CapitalChange:    after.TotalCapital.Sub(before.TotalCapital),
			LossAmount:       decimal.Max(loss, decimal.Zero),
			GainAmount:       decimal.Max(loss.Neg(), decimal.Zero),
			AllocationChange: expectedAllocation.Neg(),
		},
		Notes: recordNotes,
	}); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("fund", string(ft)).
		Str("manager", managerName).
		Str("policy", string(policy)).
		Str("loss", loss.StringFixed(2)).
		Msg("manager removed")

	return &RemovalSummary{
		FundType: ft,
		Manager:  managerName,
		Policy:   policy,
		Loss:     loss,
		Before:   before,
		After:    after,
	}, nil
}

// AdjustmentSummary reports the outcome of a capital adjustment.
type AdjustmentSummary struct {
	FundType      model.FundType         `json:"fund_type"`
	Reason        model.AdjustmentReason `json:"reason"`
	CapitalChange decimal.Decimal        `json:"capital_change"`
	Before        model.StateSummary     `json:"before_state"`
	After         model.StateSummary     `json:"after_state"`
}

// AdjustFundCapital moves total capital to a new level. The total can
// never drop below what is already committed to managers.
func (s *Service) AdjustFundCapital(ctx context.Context, ft model.FundType,
	newTotalCapital decimal.Decimal, reason model.AdjustmentReason,
	notes, userID string) (*AdjustmentSummary, error) {

	if _, err := model.ParseFundType(string(ft)); err != nil {
		return nil, newValidationError(err.Error())
	}
	if _, err := model.ParseAdjustmentReason(string(reason)); err != nil {
		return nil, newValidationError(err.Error())
	}
	if newTotalCapital.IsNegative() {
		return nil, newValidationError(fmt.Sprintf(
			"total capital cannot be negative, got %s", newTotalCapital.StringFixed(2)))
	}

	lock := s.fundLock(ft)
	lock.Lock()
	defer lock.Unlock()

	state, err := s.states.GetFund(ctx, ft)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrFundNotFound, ft)
	}
	if err != nil {
		return nil, fmt.Errorf("load fund %s: %w", ft, err)
	}

	if newTotalCapital.LessThan(state.AllocatedCapital) {
		return nil, newValidationError(fmt.Sprintf(
			"new total capital %s is below allocated capital %s",
			newTotalCapital.StringFixed(2), state.AllocatedCapital.StringFixed(2)))
	}

	before := state.Summary()
	change := newTotalCapital.Sub(state.TotalCapital)
	state.TotalCapital = newTotalCapital
	state.UnallocatedCapital = state.UnallocatedCapital.Add(change)
	state.LastUpdated = time.Now().UTC()
	state.UpdatedBy = userID
	s.recomputePercentages(state)

	if err := s.commit(ctx, state); err != nil {
		return nil, err
	}

	after := state.Summary()
	if err := s.appendHistory(ctx, &model.HistoryRecord{
		FundType:    ft,
		Action:      model.ActionType(reason),
		PerformedBy: userID,
		Before:      before,
		After:       after,
		Impact: model.FinancialImpact{
			CapitalChange:    change,
			LossAmount:       decimal.Zero,
			GainAmount:       decimal.Zero,
			AllocationChange: decimal.Zero,
		},
		Notes: notes,
	}); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("fund", string(ft)).
		Str("reason", string(reason)).
		Str("change", change.StringFixed(2)).
		Msg("fund capital adjusted")

	return &AdjustmentSummary{
		FundType:      ft,
		Reason:        reason,
		CapitalChange: change,
		Before:        before,
		After:         after,
	}, nil
}

// GetHistory returns audit records newest first. All set filters combine
// with AND; the limit defaults to 50.
func (s *Service) GetHistory(ctx context.Context, f store.HistoryFilter) ([]model.HistoryRecord, error) {
	if f.FundType != "" {
		if _, err := model.ParseFundType(string(f.FundType)); err != nil {
			return nil, newValidationError(err.Error())
		}
	}
	records, err := s.history.QueryHistory(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return records, nil
}

// AccountAvailability flags whether an account can take a new assignment.
type AccountAvailability struct {
	AccountNumber int64           `json:"account_number"`
	Equity        decimal.Decimal `json:"equity"`
	AssignedTo    string          `json:"assigned_to,omitempty"`
	IsAvailable   bool            `json:"is_available"`
}

// ManagerAvailability pairs a manager with the state of their accounts.
type ManagerAvailability struct {
	Manager  model.Manager         `json:"manager"`
	Accounts []AccountAvailability `json:"accounts"`
}

// GetAvailableManagers lists managers eligible for allocation (active or
// pending activation) with per-account availability. An account is
// available when it is unassigned or already assigned to the same
// manager; with a fund type given, accounts tied to another fund are
// unavailable too.
func (s *Service) GetAvailableManagers(ctx context.Context, ft model.FundType) ([]ManagerAvailability, error) {
	if ft != "" {
		if _, err := model.ParseFundType(string(ft)); err != nil {
			return nil, newValidationError(err.Error())
		}
	}

	managers, err := s.managers.ListManagers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list managers: %w", err)
	}

	var out []ManagerAvailability
	for _, mgr := range managers {
		if mgr.Status != model.ManagerActive && mgr.Status != model.ManagerPendingActivation {
			continue
		}

		avail := ManagerAvailability{Manager: mgr}
		for _, num := range mgr.AssignedAccounts {
			acct, err := s.accounts.GetAccount(ctx, num)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("load account %d: %w", num, err)
			}

			available := acct.ManagerAssigned == "" || acct.ManagerAssigned == mgr.Name
			if available && ft != "" && acct.FundType != "" && acct.FundType != ft {
				available = false
			}
			avail.Accounts = append(avail.Accounts, AccountAvailability{
				AccountNumber: acct.AccountNumber,
				Equity:        acct.Equity,
				AssignedTo:    acct.ManagerAssigned,
				IsAvailable:   available,
			})
		}
		out = append(out, avail)
	}
	return out, nil
}

// GetManagerActualBalance sums current equity across a manager's assigned
// accounts. An unknown manager yields zero.
func (s *Service) GetManagerActualBalance(ctx context.Context, managerName string) (decimal.Decimal, error) {
	mgr, err := s.managers.GetManager(ctx, managerName)
	if errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("load manager %s: %w", managerName, err)
	}

	total := decimal.Zero
	for _, num := range mgr.AssignedAccounts {
		acct, err := s.accounts.GetAccount(ctx, num)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return decimal.Zero, fmt.Errorf("load account %d: %w", num, err)
		}
		total = total.Add(acct.Equity)
	}
	return total, nil
}

// recomputePercentages refreshes each manager's share of total capital.
func (s *Service) recomputePercentages(state *model.FundState) {
	hundred := decimal.NewFromInt(100)
	for i, m := range state.ManagerAllocations {
		if state.TotalCapital.IsZero() {
			state.ManagerAllocations[i].AllocationPercentage = decimal.Zero
			continue
		}
		state.ManagerAllocations[i].AllocationPercentage =
			m.AllocatedAmount.Div(state.TotalCapital).Mul(hundred)
	}
}

// commit verifies the post-conditions and writes the state. A version
// conflict here means something mutated the fund outside the lock, which
// is an integrity problem, not a retry case.
func (s *Service) commit(ctx context.Context, state *model.FundState) error {
	if err := CheckInvariants(state); err != nil {
		return err
	}
	err := s.states.UpdateFund(ctx, state)
	if errors.Is(err, store.ErrVersionConflict) {
		return &IntegrityError{
			FundType: string(state.FundType),
			Detail:   "state version changed outside the fund lock",
		}
	}
	if err != nil {
		return fmt.Errorf("persist fund %s: %w", state.FundType, err)
	}
	return nil
}

// appendHistory stamps and writes one audit record. The write happens
// after the state commit, inside the fund lock, so per-fund append order
// matches commit order.
func (s *Service) appendHistory(ctx context.Context, rec *model.HistoryRecord) error {
	rec.ID = uuid.NewString()
	rec.Timestamp = time.Now().UTC()
	if err := s.history.AppendHistory(ctx, rec); err != nil {
		s.log.Error().Err(err).
			Str("fund", string(rec.FundType)).
			Str("action", string(rec.Action)).
			Msg("state committed but history append failed")
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}
