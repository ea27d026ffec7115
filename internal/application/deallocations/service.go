package deallocations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fidus-backend/internal/application/audit"
	"fidus-backend/internal/application/ledger"
	"fidus-backend/internal/domain"
	"fidus-backend/internal/pkg/validation"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrRequestNotFound   = errors.New("Deallocation request not found")
	ErrRequestNotPending = errors.New("Deallocation request is no longer pending")
)

// Service is the two-phase deallocation workflow: a first admin requests the
// release of an allocated account, a second admin approves or rejects it.
// Both resolution paths gate on a conditional request-status update so a
// double approval loses cleanly.
type Service struct {
	DB       *gorm.DB
	Audit    *audit.Service
	MinNotes int
}

// Request flips an allocated account to pending-deallocation and records a
// request carrying a snapshot of the binding being released.
func (s *Service) Request(ctx context.Context, accountNumber string, adminID uuid.UUID, reasonNotes string) (*domain.DeallocationRequest, error) {
	if !validation.HasSufficientNotes(reasonNotes, s.MinNotes) {
		return nil, ledger.ErrInsufficientNotes
	}

	var account domain.ExternalAccount
	err := s.DB.WithContext(ctx).Where("account_number = ?", accountNumber).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrStoreUnavailable, err)
	}
	if account.Status != domain.AccountAllocated ||
		account.AllocatedInvestmentID == nil || account.AllocatedClientID == nil || !account.AllocatedAmount.Valid {
		return nil, ledger.ErrNotAllocated
	}

	res := s.DB.WithContext(ctx).Model(&domain.ExternalAccount{}).
		Where("account_number = ? AND status = ?", accountNumber, domain.AccountAllocated).
		Update("status", domain.AccountPendingDeallocation)
	if res.Error != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrStoreUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		// Someone else changed the account between the read and the transition.
		return nil, ledger.ErrNotAllocated
	}

	request := &domain.DeallocationRequest{
		AccountNumber:        accountNumber,
		OriginalClientID:     *account.AllocatedClientID,
		OriginalInvestmentID: *account.AllocatedInvestmentID,
		OriginalAmount:       account.AllocatedAmount.Decimal,
		ReasonNotes:          reasonNotes,
		RequestedByAdminID:   adminID,
		RequestDate:          time.Now().UTC(),
		Status:               domain.DeallocationPendingApproval,
	}
	if err := s.DB.WithContext(ctx).Create(request).Error; err != nil {
		// Put the account back so a failed request insert does not strand it.
		s.DB.WithContext(ctx).Model(&domain.ExternalAccount{}).
			Where("account_number = ? AND status = ?", accountNumber, domain.AccountPendingDeallocation).
			Update("status", domain.AccountAllocated)
		return nil, fmt.Errorf("%w: %v", ledger.ErrStoreUnavailable, err)
	}

	s.Audit.Record(ctx, &domain.AuditLogEntry{
		ActionType:    domain.AuditDeallocationRequest,
		AccountNumber: accountNumber,
		InvestmentID:  account.AllocatedInvestmentID,
		ClientID:      account.AllocatedClientID,
		OldValues:     audit.Snapshot(map[string]interface{}{"status": domain.AccountAllocated}),
		NewValues:     audit.Snapshot(request),
		AdminID:       adminID,
		Notes:         reasonNotes,
	})
	return request, nil
}

// Approve resolves a pending request: the request flips to approved, the
// account's allocation fields are cleared and it returns to the pool, and
// the investment's active mappings for that account are superseded. The
// request-status conditional update is the commit point for the
// double-approval race.
func (s *Service) Approve(ctx context.Context, requestID, adminID uuid.UUID, notes string) (*domain.DeallocationRequest, error) {
	return s.resolve(ctx, requestID, adminID, notes, true)
}

// Reject resolves a pending request by reverting the account to allocated;
// the original binding snapshot on the request is untouched because the
// account still carries its allocation fields.
func (s *Service) Reject(ctx context.Context, requestID, adminID uuid.UUID, notes string) (*domain.DeallocationRequest, error) {
	return s.resolve(ctx, requestID, adminID, notes, false)
}

func (s *Service) resolve(ctx context.Context, requestID, adminID uuid.UUID, notes string, approve bool) (*domain.DeallocationRequest, error) {
	var request domain.DeallocationRequest
	err := s.DB.WithContext(ctx).Where("request_id = ?", requestID).First(&request).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrStoreUnavailable, err)
	}

	next := domain.DeallocationApproved
	if !approve {
		next = domain.DeallocationRejected
	}
	now := time.Now().UTC()

	res := s.DB.WithContext(ctx).Model(&domain.DeallocationRequest{}).
		Where("request_id = ? AND status = ?", requestID, domain.DeallocationPendingApproval).
		Updates(map[string]interface{}{
			"status":               next,
			"approved_by_admin_id": adminID,
			"approval_date":        now,
			"approval_notes":       notes,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrStoreUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrRequestNotPending
	}

	if approve {
		if err := s.releaseAccount(ctx, &request); err != nil {
			return nil, err
		}
	} else {
		if err := s.restoreAccount(ctx, &request); err != nil {
			return nil, err
		}
	}

	action := domain.AuditDeallocationApproved
	if !approve {
		action = domain.AuditDeallocationRejected
	}
	s.Audit.Record(ctx, &domain.AuditLogEntry{
		ActionType:    action,
		AccountNumber: request.AccountNumber,
		InvestmentID:  &request.OriginalInvestmentID,
		ClientID:      &request.OriginalClientID,
		OldValues:     audit.Snapshot(request),
		NewValues: audit.Snapshot(map[string]interface{}{
			"status":               next,
			"approved_by_admin_id": adminID,
			"approval_date":        now,
		}),
		AdminID: adminID,
		Notes:   notes,
	})

	request.Status = next
	request.ApprovedByAdminID = &adminID
	request.ApprovalDate = &now
	request.ApprovalNotes = &notes
	return &request, nil
}

// releaseAccount clears the allocation fields, returns the account to the
// pool, and supersedes the account's active mappings.
func (s *Service) releaseAccount(ctx context.Context, request *domain.DeallocationRequest) error {
	res := s.DB.WithContext(ctx).Model(&domain.ExternalAccount{}).
		Where("account_number = ? AND status = ?", request.AccountNumber, domain.AccountPendingDeallocation).
		Updates(map[string]interface{}{
			"status":                  domain.AccountAvailable,
			"allocated_investment_id": nil,
			"allocated_client_id":     nil,
			"allocated_amount":        nil,
			"allocation_timestamp":    nil,
			"allocating_admin_id":     nil,
		})
	if res.Error != nil {
		return fmt.Errorf("%w: %v", ledger.ErrStoreUnavailable, res.Error)
	}

	if err := s.DB.WithContext(ctx).Model(&domain.AllocationMapping{}).
		Where("account_number = ? AND investment_id = ? AND status = ?",
			request.AccountNumber, request.OriginalInvestmentID, domain.MappingActive).
		Update("status", domain.MappingSuperseded).Error; err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrStoreUnavailable, err)
	}
	return nil
}

// restoreAccount reverts a rejected release back to allocated.
func (s *Service) restoreAccount(ctx context.Context, request *domain.DeallocationRequest) error {
	res := s.DB.WithContext(ctx).Model(&domain.ExternalAccount{}).
		Where("account_number = ? AND status = ?", request.AccountNumber, domain.AccountPendingDeallocation).
		Update("status", domain.AccountAllocated)
	if res.Error != nil {
		return fmt.Errorf("%w: %v", ledger.ErrStoreUnavailable, res.Error)
	}
	return nil
}

// GetPendingRequests lists the operator backlog, newest first.
func (s *Service) GetPendingRequests(ctx context.Context) ([]domain.DeallocationRequest, error) {
	var requests []domain.DeallocationRequest
	if err := s.DB.WithContext(ctx).
		Where("status = ?", domain.DeallocationPendingApproval).
		Order("request_date DESC").
		Find(&requests).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrStoreUnavailable, err)
	}
	return requests, nil
}

// GetRequest returns one request by id.
func (s *Service) GetRequest(ctx context.Context, requestID uuid.UUID) (*domain.DeallocationRequest, error) {
	var request domain.DeallocationRequest
	err := s.DB.WithContext(ctx).Where("request_id = ?", requestID).First(&request).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrStoreUnavailable, err)
	}
	return &request, nil
}
