package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AccountStatus is the life-cycle state of an external trading account.
type AccountStatus string

const (
	AccountAvailable           AccountStatus = "available"
	AccountAllocated           AccountStatus = "allocated"
	AccountPendingDeallocation AccountStatus = "pending_deallocation"
	AccountMaintenance         AccountStatus = "maintenance"
	AccountInactive            AccountStatus = "inactive"
)

// accountTransitions enumerates every legal status transition. Anything not
// listed here is rejected before touching the store.
var accountTransitions = map[AccountStatus][]AccountStatus{
	AccountAvailable:           {AccountAllocated, AccountMaintenance, AccountInactive},
	AccountAllocated:           {AccountPendingDeallocation},
	AccountPendingDeallocation: {AccountAvailable, AccountAllocated},
	AccountMaintenance:         {AccountAvailable},
	AccountInactive:            {AccountAvailable},
}

// CanTransitionTo reports whether moving from s to next is a legal transition.
func (s AccountStatus) CanTransitionTo(next AccountStatus) bool {
	for _, allowed := range accountTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is one of the five known statuses.
func (s AccountStatus) Valid() bool {
	switch s {
	case AccountAvailable, AccountAllocated, AccountPendingDeallocation, AccountMaintenance, AccountInactive:
		return true
	}
	return false
}

// ExternalAccount is one vendor trading account in the allocation pool.
// The account number is issued externally and never changes; accounts are
// never deleted, only status-transitioned, so they can be reused after
// deallocation.
type ExternalAccount struct {
	AccountID     uuid.UUID     `gorm:"column:account_id;type:uuid;primaryKey" json:"account_id"`
	AccountNumber string        `gorm:"column:account_number;type:varchar(50);not null;uniqueIndex" json:"account_number"`
	Broker        string        `gorm:"column:broker;type:varchar(100);not null" json:"broker"`
	Server        string        `gorm:"column:server;type:varchar(100)" json:"server"`
	AccountType   string        `gorm:"column:account_type;type:varchar(50)" json:"account_type"`
	Status        AccountStatus `gorm:"column:status;type:varchar(30);not null;index" json:"status"`

	// Allocation fields: all four set iff Status == allocated (or
	// pending_deallocation, which keeps them until approval clears them).
	AllocatedInvestmentID *uuid.UUID          `gorm:"column:allocated_investment_id;type:uuid" json:"allocated_investment_id"`
	AllocatedClientID     *uuid.UUID          `gorm:"column:allocated_client_id;type:uuid" json:"allocated_client_id"`
	AllocatedAmount       decimal.NullDecimal `gorm:"column:allocated_amount;type:decimal(18,2)" json:"allocated_amount"`
	AllocationTimestamp   *time.Time          `gorm:"column:allocation_timestamp" json:"allocation_timestamp"`
	AllocatingAdminID     *uuid.UUID          `gorm:"column:allocating_admin_id;type:uuid" json:"allocating_admin_id"`

	CreatedAt time.Time `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updatedAt" json:"updatedAt"`
}

func (ExternalAccount) TableName() string {
	return "ExternalAccounts"
}

func (a *ExternalAccount) BeforeCreate(tx *gorm.DB) error {
	if a.AccountID == uuid.Nil {
		a.AccountID = uuid.New()
	}
	return nil
}

// IsAllocated reports whether the account currently serves an investment
// (allocated or awaiting deallocation approval, which preserves the binding).
func (a *ExternalAccount) IsAllocated() bool {
	return a.Status == AccountAllocated || a.Status == AccountPendingDeallocation
}
