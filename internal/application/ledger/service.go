package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fidus-backend/internal/application/audit"
	"fidus-backend/internal/domain"
	"fidus-backend/internal/pkg/validation"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Service is the allocation ledger: it owns the life cycle of every external
// account record and the investment→account mappings. All writes go through
// conditional updates keyed on the current status, so two racing callers can
// never both win the same account.
type Service struct {
	DB        *gorm.DB
	Audit     *audit.Service
	Tolerance decimal.Decimal
	MinNotes  int
}

// AddAccountInput describes one account being added to the pool.
type AddAccountInput struct {
	AccountNumber string `json:"account_number"`
	Broker        string `json:"broker"`
	Server        string `json:"server"`
	AccountType   string `json:"account_type"`
}

// AddAccountToPool registers a new external account as available. The
// account number is the natural key: adding it twice fails regardless of the
// existing record's status.
func (s *Service) AddAccountToPool(ctx context.Context, in AddAccountInput, adminID uuid.UUID) (*domain.ExternalAccount, error) {
	if !validation.IsValidAccountNumber(in.AccountNumber) {
		return nil, fmt.Errorf("invalid account number %q", in.AccountNumber)
	}
	if in.Broker == "" {
		return nil, errors.New("broker is required")
	}

	var count int64
	if err := s.DB.WithContext(ctx).Model(&domain.ExternalAccount{}).
		Where("account_number = ?", in.AccountNumber).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if count > 0 {
		return nil, ErrDuplicateAccount
	}

	account := &domain.ExternalAccount{
		AccountNumber: in.AccountNumber,
		Broker:        in.Broker,
		Server:        in.Server,
		AccountType:   in.AccountType,
		Status:        domain.AccountAvailable,
	}
	if err := s.DB.WithContext(ctx).Create(account).Error; err != nil {
		// The unique index is authoritative; the pre-check only improves the error.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateAccount
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.Audit.Record(ctx, &domain.AuditLogEntry{
		ActionType:    domain.AuditPoolAdd,
		AccountNumber: account.AccountNumber,
		NewValues:     audit.Snapshot(account),
		AdminID:       adminID,
		Notes:         "Account added to pool",
	})
	return account, nil
}

// MappingInput is one account share inside an allocate request.
type MappingInput struct {
	AccountNumber string          `json:"account_number"`
	Amount        decimal.Decimal `json:"amount"`
	Notes         string          `json:"notes"`
}

// AllocateInput binds an investment's principal to a set of accounts.
type AllocateInput struct {
	InvestmentID uuid.UUID       `json:"investment_id"`
	ClientID     uuid.UUID       `json:"client_id"`
	FundCode     string          `json:"fund_code"`
	Principal    decimal.Decimal `json:"principal"`
	Mappings     []MappingInput  `json:"mappings"`
}

// Allocate validates every precondition before touching any account, then
// commits the request as an ordered saga: each account's Available→Allocated
// transition is a conditional update, and the first failure reverts every
// transition already applied in this call before the error is returned.
// Rejections carry all violated preconditions at once.
func (s *Service) Allocate(ctx context.Context, in AllocateInput, adminID uuid.UUID) ([]domain.AllocationMapping, error) {
	violations := s.validateAllocate(ctx, in)
	if len(violations) > 0 {
		return nil, &AllocationRejectedError{Violations: violations}
	}

	now := time.Now().UTC()
	applied := make([]MappingInput, 0, len(in.Mappings))
	for _, m := range in.Mappings {
		res := s.DB.WithContext(ctx).Model(&domain.ExternalAccount{}).
			Where("account_number = ? AND status = ?", m.AccountNumber, domain.AccountAvailable).
			Updates(map[string]interface{}{
				"status":                  domain.AccountAllocated,
				"allocated_investment_id": in.InvestmentID,
				"allocated_client_id":     in.ClientID,
				"allocated_amount":        m.Amount,
				"allocation_timestamp":    now,
				"allocating_admin_id":     adminID,
			})
		if res.Error != nil {
			s.compensate(ctx, applied, in.InvestmentID)
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, res.Error)
		}
		if res.RowsAffected == 0 {
			// Lost the conditional transition to a concurrent allocator.
			s.compensate(ctx, applied, in.InvestmentID)
			return nil, &AllocationRejectedError{
				Retryable: true,
				Violations: []Violation{{
					Code:          ViolationAccountUnavailable,
					AccountNumber: m.AccountNumber,
					Message:       fmt.Sprintf("Account %s was allocated concurrently", m.AccountNumber),
				}},
			}
		}
		applied = append(applied, m)
	}

	mappings := make([]domain.AllocationMapping, 0, len(in.Mappings))
	for _, m := range in.Mappings {
		row := domain.AllocationMapping{
			InvestmentID:    in.InvestmentID,
			ClientID:        in.ClientID,
			FundCode:        in.FundCode,
			AccountNumber:   m.AccountNumber,
			AllocatedAmount: m.Amount,
			AllocationNotes: m.Notes,
			Status:          domain.MappingActive,
		}
		if err := s.DB.WithContext(ctx).Create(&row).Error; err != nil {
			s.supersede(ctx, mappings)
			s.compensate(ctx, applied, in.InvestmentID)
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		mappings = append(mappings, row)

		s.Audit.Record(ctx, &domain.AuditLogEntry{
			ActionType:    domain.AuditAllocate,
			AccountNumber: m.AccountNumber,
			InvestmentID:  &in.InvestmentID,
			ClientID:      &in.ClientID,
			OldValues:     audit.Snapshot(map[string]interface{}{"status": domain.AccountAvailable}),
			NewValues:     audit.Snapshot(row),
			AdminID:       adminID,
			Notes:         m.Notes,
		})
	}
	return mappings, nil
}

// validateAllocate checks every precondition without mutating anything and
// collects all failures.
func (s *Service) validateAllocate(ctx context.Context, in AllocateInput) []Violation {
	var violations []Violation
	if len(in.Mappings) == 0 {
		return []Violation{{Code: ViolationInvalidAmount, Message: "At least one account mapping is required"}}
	}

	seen := map[string]bool{}
	total := decimal.Zero
	for _, m := range in.Mappings {
		if seen[m.AccountNumber] {
			violations = append(violations, Violation{
				Code:          ViolationDuplicateInRequest,
				AccountNumber: m.AccountNumber,
				Message:       fmt.Sprintf("Account %s appears more than once in the request", m.AccountNumber),
			})
		}
		seen[m.AccountNumber] = true

		if !m.Amount.IsPositive() {
			violations = append(violations, Violation{
				Code:          ViolationInvalidAmount,
				AccountNumber: m.AccountNumber,
				Message:       fmt.Sprintf("Allocated amount for %s must be positive", m.AccountNumber),
			})
		}
		if !validation.HasSufficientNotes(m.Notes, s.MinNotes) {
			violations = append(violations, Violation{
				Code:          ViolationInsufficientNotes,
				AccountNumber: m.AccountNumber,
				Message:       fmt.Sprintf("Allocation notes for %s must record a rationale (min %d characters)", m.AccountNumber, s.MinNotes),
			})
		}
		total = total.Add(m.Amount)
	}

	if diff := total.Sub(in.Principal); diff.Abs().GreaterThan(s.Tolerance) {
		violations = append(violations, Violation{
			Code:    ViolationSumMismatch,
			Message: fmt.Sprintf("Mapped total %s differs from principal %s by %s", total, in.Principal, diff.Abs()),
		})
	}

	for number := range seen {
		var account domain.ExternalAccount
		err := s.DB.WithContext(ctx).Where("account_number = ?", number).First(&account).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			violations = append(violations, Violation{
				Code:          ViolationAccountNotFound,
				AccountNumber: number,
				Message:       fmt.Sprintf("Account %s is not in the pool", number),
			})
			continue
		}
		if err != nil {
			violations = append(violations, Violation{
				Code:          ViolationAccountNotFound,
				AccountNumber: number,
				Message:       fmt.Sprintf("Account %s could not be read: %v", number, err),
			})
			continue
		}
		if account.Status != domain.AccountAvailable {
			violations = append(violations, Violation{
				Code:          ViolationAccountUnavailable,
				AccountNumber: number,
				Message:       fmt.Sprintf("Account %s is %s, not available", number, account.Status),
			})
		}
	}
	return violations
}

// compensate reverts tentative Available→Allocated transitions applied
// earlier in the same call. The investment-id guard makes the revert a no-op
// for any account a different caller won in the meantime.
func (s *Service) compensate(ctx context.Context, applied []MappingInput, investmentID uuid.UUID) {
	for _, m := range applied {
		res := s.DB.WithContext(ctx).Model(&domain.ExternalAccount{}).
			Where("account_number = ? AND status = ? AND allocated_investment_id = ?",
				m.AccountNumber, domain.AccountAllocated, investmentID).
			Updates(map[string]interface{}{
				"status":                  domain.AccountAvailable,
				"allocated_investment_id": nil,
				"allocated_client_id":     nil,
				"allocated_amount":        nil,
				"allocation_timestamp":    nil,
				"allocating_admin_id":     nil,
			})
		if res.Error != nil {
			log.Error().Err(res.Error).
				Str("account_number", m.AccountNumber).
				Str("investment_id", investmentID.String()).
				Msg("Compensation failed; account left allocated to a rejected request")
		}
	}
}

// supersede marks mapping rows created by a failed saga. Mappings are never
// hard-deleted.
func (s *Service) supersede(ctx context.Context, created []domain.AllocationMapping) {
	for _, row := range created {
		if err := s.DB.WithContext(ctx).Model(&domain.AllocationMapping{}).
			Where("mapping_id = ?", row.MappingID).
			Update("status", domain.MappingSuperseded).Error; err != nil {
			log.Error().Err(err).Str("mapping_id", row.MappingID.String()).Msg("Failed to supersede mapping from aborted allocation")
		}
	}
}

// ExclusivityReport answers a pre-flight availability check. It is advisory
// only: the conditional update inside Allocate stays authoritative.
type ExclusivityReport struct {
	AccountNumber       string               `json:"account_number"`
	Available           bool                 `json:"available"`
	Status              domain.AccountStatus `json:"status"`
	HolderInvestmentID  *uuid.UUID           `json:"holder_investment_id,omitempty"`
	HolderClientID      *uuid.UUID           `json:"holder_client_id,omitempty"`
	AllocationTimestamp *time.Time           `json:"allocation_timestamp,omitempty"`
}

// CheckExclusivity reports whether an account is free and, if not, who holds it.
func (s *Service) CheckExclusivity(ctx context.Context, accountNumber string) (*ExclusivityReport, error) {
	var account domain.ExternalAccount
	err := s.DB.WithContext(ctx).Where("account_number = ?", accountNumber).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	report := &ExclusivityReport{
		AccountNumber: account.AccountNumber,
		Available:     account.Status == domain.AccountAvailable,
		Status:        account.Status,
	}
	if account.IsAllocated() {
		report.HolderInvestmentID = account.AllocatedInvestmentID
		report.HolderClientID = account.AllocatedClientID
		report.AllocationTimestamp = account.AllocationTimestamp
	}
	return report, nil
}

// PoolStatistics aggregates pool composition. Read-only; eventual
// consistency with in-flight allocations is acceptable.
type PoolStatistics struct {
	Total    int64            `json:"total"`
	ByStatus map[string]int64 `json:"by_status"`
	ByBroker map[string]int64 `json:"by_broker"`
}

func (s *Service) GetPoolStatistics(ctx context.Context) (*PoolStatistics, error) {
	type bucket struct {
		Key   string
		Count int64
	}

	stats := &PoolStatistics{ByStatus: map[string]int64{}, ByBroker: map[string]int64{}}

	var byStatus []bucket
	if err := s.DB.WithContext(ctx).Model(&domain.ExternalAccount{}).
		Select("status AS key, COUNT(*) AS count").Group("status").Scan(&byStatus).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	for _, b := range byStatus {
		stats.ByStatus[b.Key] = b.Count
		stats.Total += b.Count
	}

	var byBroker []bucket
	if err := s.DB.WithContext(ctx).Model(&domain.ExternalAccount{}).
		Select("broker AS key, COUNT(*) AS count").Group("broker").Scan(&byBroker).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	for _, b := range byBroker {
		stats.ByBroker[b.Key] = b.Count
	}
	return stats, nil
}

// ListAccounts returns pool accounts, optionally filtered by status.
func (s *Service) ListAccounts(ctx context.Context, status domain.AccountStatus) ([]domain.ExternalAccount, error) {
	q := s.DB.WithContext(ctx).Order("account_number ASC")
	if status != "" {
		if !status.Valid() {
			return nil, fmt.Errorf("unknown account status %q", status)
		}
		q = q.Where("status = ?", status)
	}
	var accounts []domain.ExternalAccount
	if err := q.Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return accounts, nil
}

// GetMappingsByInvestment returns the active mappings of one investment.
func (s *Service) GetMappingsByInvestment(ctx context.Context, investmentID uuid.UUID) ([]domain.AllocationMapping, error) {
	var mappings []domain.AllocationMapping
	if err := s.DB.WithContext(ctx).
		Where("investment_id = ? AND status = ?", investmentID, domain.MappingActive).
		Order(`"createdAt" ASC`).
		Find(&mappings).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return mappings, nil
}

// MappingValidationReport is the on-demand recomputation of the sum-match
// and exclusivity invariants for one investment.
type MappingValidationReport struct {
	IsValid           bool            `json:"is_valid"`
	TotalMapped       decimal.Decimal `json:"total_mapped"`
	Difference        decimal.Decimal `json:"difference"`
	DuplicateAccounts []string        `json:"duplicate_accounts"`
}

// ValidateInvestmentMappings recomputes the sum-match invariant against the
// expected principal and flags accounts that hold more than one active
// mapping anywhere in the system.
func (s *Service) ValidateInvestmentMappings(ctx context.Context, investmentID uuid.UUID, expectedPrincipal decimal.Decimal) (*MappingValidationReport, error) {
	mappings, err := s.GetMappingsByInvestment(ctx, investmentID)
	if err != nil {
		return nil, err
	}

	report := &MappingValidationReport{DuplicateAccounts: []string{}}
	total := decimal.Zero
	for _, m := range mappings {
		total = total.Add(m.AllocatedAmount)

		var count int64
		if err := s.DB.WithContext(ctx).Model(&domain.AllocationMapping{}).
			Where("account_number = ? AND status = ?", m.AccountNumber, domain.MappingActive).
			Count(&count).Error; err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if count > 1 {
			report.DuplicateAccounts = append(report.DuplicateAccounts, m.AccountNumber)
		}
	}
	report.TotalMapped = total
	report.Difference = total.Sub(expectedPrincipal)
	report.IsValid = report.Difference.Abs().LessThanOrEqual(s.Tolerance) && len(report.DuplicateAccounts) == 0
	return report, nil
}

// CorrectMapping supersedes one active mapping and records a replacement
// with a corrected amount. The replacement keeps the account bound to the
// same investment; callers re-run ValidateInvestmentMappings afterwards.
func (s *Service) CorrectMapping(ctx context.Context, mappingID uuid.UUID, newAmount decimal.Decimal, notes string, adminID uuid.UUID) (*domain.AllocationMapping, error) {
	if !newAmount.IsPositive() {
		return nil, errors.New("corrected amount must be positive")
	}
	if !validation.HasSufficientNotes(notes, s.MinNotes) {
		return nil, ErrInsufficientNotes
	}

	var old domain.AllocationMapping
	err := s.DB.WithContext(ctx).Where("mapping_id = ?", mappingID).First(&old).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.New("Mapping not found")
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	// Conditional supersede: only one correction of a given row can win.
	res := s.DB.WithContext(ctx).Model(&domain.AllocationMapping{}).
		Where("mapping_id = ? AND status = ?", mappingID, domain.MappingActive).
		Update("status", domain.MappingSuperseded)
	if res.Error != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, errors.New("Mapping is not active")
	}

	replacement := domain.AllocationMapping{
		InvestmentID:    old.InvestmentID,
		ClientID:        old.ClientID,
		FundCode:        old.FundCode,
		AccountNumber:   old.AccountNumber,
		AllocatedAmount: newAmount,
		AllocationNotes: notes,
		Status:          domain.MappingActive,
	}
	if err := s.DB.WithContext(ctx).Create(&replacement).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	// Keep the account record's allocated amount in step with the mapping.
	if err := s.DB.WithContext(ctx).Model(&domain.ExternalAccount{}).
		Where("account_number = ? AND status = ?", old.AccountNumber, domain.AccountAllocated).
		Update("allocated_amount", newAmount).Error; err != nil {
		log.Error().Err(err).Str("account_number", old.AccountNumber).Msg("Failed to sync corrected amount onto account record")
	}

	s.Audit.Record(ctx, &domain.AuditLogEntry{
		ActionType:    domain.AuditMappingUpdate,
		AccountNumber: old.AccountNumber,
		InvestmentID:  &old.InvestmentID,
		ClientID:      &old.ClientID,
		OldValues:     audit.Snapshot(old),
		NewValues:     audit.Snapshot(replacement),
		AdminID:       adminID,
		Notes:         notes,
	})
	return &replacement, nil
}

// SetAccountStatus moves an account between Available and the administrative
// side-states (maintenance, inactive). Allocated accounts must be
// deallocated first; the transition table rejects everything else.
func (s *Service) SetAccountStatus(ctx context.Context, accountNumber string, next domain.AccountStatus, adminID uuid.UUID, notes string) (*domain.ExternalAccount, error) {
	if !next.Valid() {
		return nil, fmt.Errorf("unknown account status %q", next)
	}
	if next == domain.AccountAllocated || next == domain.AccountPendingDeallocation {
		return nil, ErrIllegalTransition
	}

	var account domain.ExternalAccount
	err := s.DB.WithContext(ctx).Where("account_number = ?", accountNumber).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !account.Status.CanTransitionTo(next) {
		return nil, ErrIllegalTransition
	}

	res := s.DB.WithContext(ctx).Model(&domain.ExternalAccount{}).
		Where("account_number = ? AND status = ?", accountNumber, account.Status).
		Update("status", next)
	if res.Error != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrIllegalTransition
	}

	s.Audit.Record(ctx, &domain.AuditLogEntry{
		ActionType:    domain.AuditMappingUpdate,
		AccountNumber: accountNumber,
		OldValues:     audit.Snapshot(map[string]interface{}{"status": account.Status}),
		NewValues:     audit.Snapshot(map[string]interface{}{"status": next}),
		AdminID:       adminID,
		Notes:         notes,
	})
	account.Status = next
	return &account, nil
}
