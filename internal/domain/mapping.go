package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// MappingStatus is the state of an investment↔account binding row.
type MappingStatus string

const (
	MappingActive     MappingStatus = "active"
	MappingSuperseded MappingStatus = "superseded"
)

// AllocationMapping is one row per (investment, account) pair. Rows are never
// hard-deleted; corrections and deallocations mark the row superseded so the
// allocation history stays reconstructible.
//
// Invariants enforced by the ledger service:
//   - the sum of AllocatedAmount over active rows of one investment equals
//     the investment principal within the configured tolerance;
//   - no account number appears in more than one active row system-wide.
type AllocationMapping struct {
	MappingID       uuid.UUID       `gorm:"column:mapping_id;type:uuid;primaryKey" json:"mapping_id"`
	InvestmentID    uuid.UUID       `gorm:"column:investment_id;type:uuid;not null;index" json:"investment_id"`
	ClientID        uuid.UUID       `gorm:"column:client_id;type:uuid;not null;index" json:"client_id"`
	FundCode        string          `gorm:"column:fund_code;type:varchar(20)" json:"fund_code"`
	AccountNumber   string          `gorm:"column:account_number;type:varchar(50);not null;index" json:"account_number"`
	AllocatedAmount decimal.Decimal `gorm:"column:allocated_amount;type:decimal(18,2);not null" json:"allocated_amount"`
	AllocationNotes string          `gorm:"column:allocation_notes;type:text;not null" json:"allocation_notes"`
	Status          MappingStatus   `gorm:"column:status;type:varchar(20);not null;index" json:"status"`
	CreatedAt       time.Time       `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt       time.Time       `gorm:"column:updatedAt" json:"updatedAt"`
}

func (AllocationMapping) TableName() string {
	return "AllocationMappings"
}

func (m *AllocationMapping) BeforeCreate(tx *gorm.DB) error {
	if m.MappingID == uuid.Nil {
		m.MappingID = uuid.New()
	}
	return nil
}
