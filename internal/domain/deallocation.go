package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DeallocationStatus is the approval state of a release request.
type DeallocationStatus string

const (
	DeallocationPendingApproval DeallocationStatus = "pending_approval"
	DeallocationApproved        DeallocationStatus = "approved"
	DeallocationRejected        DeallocationStatus = "rejected"
)

// DeallocationRequest is a pending release of one allocated account back to
// the pool. It snapshots the allocation being released so approval (which
// clears the account's allocation fields) loses nothing, and rejection can
// restore the exact prior binding.
//
// A request left pending indefinitely is a valid state, not an error; the
// operator backlog is surfaced through GetPendingRequests.
type DeallocationRequest struct {
	RequestID            uuid.UUID          `gorm:"column:request_id;type:uuid;primaryKey" json:"request_id"`
	AccountNumber        string             `gorm:"column:account_number;type:varchar(50);not null;index" json:"account_number"`
	OriginalClientID     uuid.UUID          `gorm:"column:original_client_id;type:uuid;not null" json:"original_client_id"`
	OriginalInvestmentID uuid.UUID          `gorm:"column:original_investment_id;type:uuid;not null" json:"original_investment_id"`
	OriginalAmount       decimal.Decimal    `gorm:"column:original_amount;type:decimal(18,2);not null" json:"original_amount"`
	ReasonNotes          string             `gorm:"column:reason_notes;type:text;not null" json:"reason_notes"`
	RequestedByAdminID   uuid.UUID          `gorm:"column:requested_by_admin_id;type:uuid;not null" json:"requested_by_admin_id"`
	RequestDate          time.Time          `gorm:"column:request_date;not null;index" json:"request_date"`
	Status               DeallocationStatus `gorm:"column:status;type:varchar(30);not null;index" json:"status"`
	ApprovedByAdminID    *uuid.UUID         `gorm:"column:approved_by_admin_id;type:uuid" json:"approved_by_admin_id"`
	ApprovalDate         *time.Time         `gorm:"column:approval_date" json:"approval_date"`
	ApprovalNotes        *string            `gorm:"column:approval_notes;type:text" json:"approval_notes"`
	CreatedAt            time.Time          `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt            time.Time          `gorm:"column:updatedAt" json:"updatedAt"`
}

func (DeallocationRequest) TableName() string {
	return "DeallocationRequests"
}

func (r *DeallocationRequest) BeforeCreate(tx *gorm.DB) error {
	if r.RequestID == uuid.Nil {
		r.RequestID = uuid.New()
	}
	return nil
}
