package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditAction is the kind of ledger mutation an audit entry records.
type AuditAction string

const (
	AuditPoolAdd              AuditAction = "POOL_ADD"
	AuditAllocate             AuditAction = "ALLOCATE"
	AuditDeallocationRequest  AuditAction = "DEALLOCATION_REQUEST"
	AuditDeallocationApproved AuditAction = "DEALLOCATION_APPROVED"
	AuditDeallocationRejected AuditAction = "DEALLOCATION_REJECTED"
	AuditMappingUpdate        AuditAction = "MAPPING_UPDATE"
)

// AuditLogEntry is an immutable record of one ledger mutation. Append-only
// by contract: no update or delete path exists anywhere in the codebase.
type AuditLogEntry struct {
	EntryID       uuid.UUID      `gorm:"column:entry_id;type:uuid;primaryKey" json:"entry_id"`
	ActionType    AuditAction    `gorm:"column:action_type;type:varchar(40);not null;index" json:"action_type"`
	AccountNumber string         `gorm:"column:account_number;type:varchar(50);not null;index" json:"account_number"`
	InvestmentID  *uuid.UUID     `gorm:"column:investment_id;type:uuid" json:"investment_id"`
	ClientID      *uuid.UUID     `gorm:"column:client_id;type:uuid" json:"client_id"`
	OldValues     datatypes.JSON `gorm:"column:old_values;type:jsonb" json:"old_values"`
	NewValues     datatypes.JSON `gorm:"column:new_values;type:jsonb" json:"new_values"`
	AdminID       uuid.UUID      `gorm:"column:admin_id;type:uuid;not null" json:"admin_id"`
	Notes         string         `gorm:"column:notes;type:text" json:"notes"`
	CreatedAt     time.Time      `gorm:"column:createdAt;index" json:"createdAt"`
}

func (AuditLogEntry) TableName() string {
	return "AuditLog"
}

func (e *AuditLogEntry) BeforeCreate(tx *gorm.DB) error {
	if e.EntryID == uuid.Nil {
		e.EntryID = uuid.New()
	}
	return nil
}
