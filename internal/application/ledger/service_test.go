package ledger

import (
	"context"
	"sync"
	"testing"

	"fidus-backend/internal/application/audit"
	"fidus-backend/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupLedgerTest(t *testing.T) (*Service, *gorm.DB) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	// A single connection keeps the in-memory database shared across goroutines.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&domain.ExternalAccount{},
		&domain.AllocationMapping{},
		&domain.DeallocationRequest{},
		&domain.AuditLogEntry{},
	))
	svc := &Service{
		DB:        db,
		Audit:     &audit.Service{DB: db},
		Tolerance: decimal.RequireFromString("0.01"),
		MinNotes:  10,
	}
	return svc, db
}

func addAccount(t *testing.T, svc *Service, number string) *domain.ExternalAccount {
	t.Helper()
	account, err := svc.AddAccountToPool(context.Background(), AddAccountInput{
		AccountNumber: number,
		Broker:        "Multibank",
		Server:        "MB-Live-03",
		AccountType:   "hedge",
	}, uuid.New())
	require.NoError(t, err)
	return account
}

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

const goodNotes = "Initial allocation per subscription agreement"

func TestAddAccountToPool(t *testing.T) {
	svc, db := setupLedgerTest(t)
	ctx := context.Background()

	account := addAccount(t, svc, "886528")
	assert.Equal(t, domain.AccountAvailable, account.Status)
	assert.NotEqual(t, uuid.Nil, account.AccountID)

	// Same number again fails regardless of status.
	_, err := svc.AddAccountToPool(ctx, AddAccountInput{AccountNumber: "886528", Broker: "Multibank"}, uuid.New())
	assert.ErrorIs(t, err, ErrDuplicateAccount)

	var entries []domain.AuditLogEntry
	require.NoError(t, db.Where("account_number = ?", "886528").Find(&entries).Error)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.AuditPoolAdd, entries[0].ActionType)
}

func TestAddAccountToPool_RejectsBadInput(t *testing.T) {
	svc, _ := setupLedgerTest(t)
	ctx := context.Background()

	_, err := svc.AddAccountToPool(ctx, AddAccountInput{AccountNumber: "", Broker: "Multibank"}, uuid.New())
	assert.Error(t, err)
	_, err = svc.AddAccountToPool(ctx, AddAccountInput{AccountNumber: "886528", Broker: ""}, uuid.New())
	assert.Error(t, err)
}

func TestAllocate_SplitAcrossTwoAccounts(t *testing.T) {
	svc, db := setupLedgerTest(t)
	ctx := context.Background()
	addAccount(t, svc, "886528")
	addAccount(t, svc, "886529")

	investmentID := uuid.New()
	clientID := uuid.New()
	adminID := uuid.New()

	mappings, err := svc.Allocate(ctx, AllocateInput{
		InvestmentID: investmentID,
		ClientID:     clientID,
		FundCode:     "CORE",
		Principal:    money("100000"),
		Mappings: []MappingInput{
			{AccountNumber: "886528", Amount: money("80000"), Notes: goodNotes},
			{AccountNumber: "886529", Amount: money("20000"), Notes: goodNotes},
		},
	}, adminID)
	require.NoError(t, err)
	require.Len(t, mappings, 2)

	for _, number := range []string{"886528", "886529"} {
		var account domain.ExternalAccount
		require.NoError(t, db.Where("account_number = ?", number).First(&account).Error)
		assert.Equal(t, domain.AccountAllocated, account.Status)
		require.NotNil(t, account.AllocatedInvestmentID)
		assert.Equal(t, investmentID, *account.AllocatedInvestmentID)
		require.NotNil(t, account.AllocatedClientID)
		assert.Equal(t, clientID, *account.AllocatedClientID)
		assert.True(t, account.AllocatedAmount.Valid)
		assert.NotNil(t, account.AllocationTimestamp)
		require.NotNil(t, account.AllocatingAdminID)
		assert.Equal(t, adminID, *account.AllocatingAdminID)
	}

	var active []domain.AllocationMapping
	require.NoError(t, db.Where("investment_id = ? AND status = ?", investmentID, domain.MappingActive).Find(&active).Error)
	assert.Len(t, active, 2)

	var auditCount int64
	require.NoError(t, db.Model(&domain.AuditLogEntry{}).Where("action_type = ?", domain.AuditAllocate).Count(&auditCount).Error)
	assert.EqualValues(t, 2, auditCount)
}

func TestAllocate_ExclusivityAgainstSecondInvestment(t *testing.T) {
	svc, _ := setupLedgerTest(t)
	ctx := context.Background()
	addAccount(t, svc, "886528")
	addAccount(t, svc, "886529")
	addAccount(t, svc, "886530")

	_, err := svc.Allocate(ctx, AllocateInput{
		InvestmentID: uuid.New(), ClientID: uuid.New(), Principal: money("100000"),
		Mappings: []MappingInput{
			{AccountNumber: "886528", Amount: money("80000"), Notes: goodNotes},
			{AccountNumber: "886529", Amount: money("20000"), Notes: goodNotes},
		},
	}, uuid.New())
	require.NoError(t, err)

	// Account 886528 is taken; a second investment referencing it is rejected.
	_, err = svc.Allocate(ctx, AllocateInput{
		InvestmentID: uuid.New(), ClientID: uuid.New(), Principal: money("50000"),
		Mappings: []MappingInput{
			{AccountNumber: "886528", Amount: money("25000"), Notes: goodNotes},
			{AccountNumber: "886530", Amount: money("25000"), Notes: goodNotes},
		},
	}, uuid.New())
	var rejected *AllocationRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.True(t, rejected.HasCode(ViolationAccountUnavailable))

	// All-or-nothing: the free account in the failed request is untouched.
	report, err := svc.CheckExclusivity(ctx, "886530")
	require.NoError(t, err)
	assert.True(t, report.Available)
}

func TestAllocate_SumMismatchLeavesPoolUntouched(t *testing.T) {
	svc, db := setupLedgerTest(t)
	ctx := context.Background()
	addAccount(t, svc, "886528")
	addAccount(t, svc, "886529")

	_, err := svc.Allocate(ctx, AllocateInput{
		InvestmentID: uuid.New(), ClientID: uuid.New(), Principal: money("100000"),
		Mappings: []MappingInput{
			{AccountNumber: "886528", Amount: money("80000"), Notes: goodNotes},
			{AccountNumber: "886529", Amount: money("19000"), Notes: goodNotes},
		},
	}, uuid.New())
	var rejected *AllocationRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.True(t, rejected.HasCode(ViolationSumMismatch))
	assert.False(t, rejected.Retryable)

	for _, number := range []string{"886528", "886529"} {
		var account domain.ExternalAccount
		require.NoError(t, db.Where("account_number = ?", number).First(&account).Error)
		assert.Equal(t, domain.AccountAvailable, account.Status)
		assert.Nil(t, account.AllocatedInvestmentID)
		assert.Nil(t, account.AllocatedClientID)
		assert.False(t, account.AllocatedAmount.Valid)
		assert.Nil(t, account.AllocationTimestamp)
	}

	var mappingCount int64
	require.NoError(t, db.Model(&domain.AllocationMapping{}).Count(&mappingCount).Error)
	assert.EqualValues(t, 0, mappingCount)
}

func TestAllocate_SumWithinToleranceAccepted(t *testing.T) {
	svc, _ := setupLedgerTest(t)
	addAccount(t, svc, "886528")

	_, err := svc.Allocate(context.Background(), AllocateInput{
		InvestmentID: uuid.New(), ClientID: uuid.New(), Principal: money("100000"),
		Mappings: []MappingInput{
			{AccountNumber: "886528", Amount: money("99999.99"), Notes: goodNotes},
		},
	}, uuid.New())
	assert.NoError(t, err)
}

func TestAllocate_ReportsEveryViolationAtOnce(t *testing.T) {
	svc, _ := setupLedgerTest(t)
	addAccount(t, svc, "886528")

	_, err := svc.Allocate(context.Background(), AllocateInput{
		InvestmentID: uuid.New(), ClientID: uuid.New(), Principal: money("100000"),
		Mappings: []MappingInput{
			{AccountNumber: "886528", Amount: money("40000"), Notes: "stub"},
			{AccountNumber: "886528", Amount: money("40000"), Notes: goodNotes},
			{AccountNumber: "999999", Amount: money("10000"), Notes: goodNotes},
		},
	}, uuid.New())
	var rejected *AllocationRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.True(t, rejected.HasCode(ViolationInsufficientNotes))
	assert.True(t, rejected.HasCode(ViolationDuplicateInRequest))
	assert.True(t, rejected.HasCode(ViolationAccountNotFound))
	assert.True(t, rejected.HasCode(ViolationSumMismatch))
}

func TestAllocate_ConcurrentCallersOneWinner(t *testing.T) {
	svc, db := setupLedgerTest(t)
	addAccount(t, svc, "886528")

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Allocate(context.Background(), AllocateInput{
				InvestmentID: uuid.New(), ClientID: uuid.New(), Principal: money("10000"),
				Mappings: []MappingInput{
					{AccountNumber: "886528", Amount: money("10000"), Notes: goodNotes},
				},
			}, uuid.New())
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		var rejected *AllocationRejectedError
		require.ErrorAs(t, err, &rejected)
		assert.True(t, rejected.HasCode(ViolationAccountUnavailable))
	}
	assert.Equal(t, 1, winners, "exactly one concurrent allocator may win")

	var active int64
	require.NoError(t, db.Model(&domain.AllocationMapping{}).
		Where("account_number = ? AND status = ?", "886528", domain.MappingActive).
		Count(&active).Error)
	assert.EqualValues(t, 1, active)
}

func TestAllocate_SucceedsWhenAuditStoreIsBroken(t *testing.T) {
	svc, db := setupLedgerTest(t)
	addAccount(t, svc, "886528")

	// Audit writes are best-effort: losing the audit table must not block allocation.
	require.NoError(t, db.Migrator().DropTable(&domain.AuditLogEntry{}))

	_, err := svc.Allocate(context.Background(), AllocateInput{
		InvestmentID: uuid.New(), ClientID: uuid.New(), Principal: money("10000"),
		Mappings: []MappingInput{
			{AccountNumber: "886528", Amount: money("10000"), Notes: goodNotes},
		},
	}, uuid.New())
	assert.NoError(t, err)
}

func TestCheckExclusivity(t *testing.T) {
	svc, _ := setupLedgerTest(t)
	ctx := context.Background()
	addAccount(t, svc, "886528")

	report, err := svc.CheckExclusivity(ctx, "886528")
	require.NoError(t, err)
	assert.True(t, report.Available)
	assert.Nil(t, report.HolderInvestmentID)

	investmentID := uuid.New()
	_, err = svc.Allocate(ctx, AllocateInput{
		InvestmentID: investmentID, ClientID: uuid.New(), Principal: money("10000"),
		Mappings: []MappingInput{
			{AccountNumber: "886528", Amount: money("10000"), Notes: goodNotes},
		},
	}, uuid.New())
	require.NoError(t, err)

	report, err = svc.CheckExclusivity(ctx, "886528")
	require.NoError(t, err)
	assert.False(t, report.Available)
	require.NotNil(t, report.HolderInvestmentID)
	assert.Equal(t, investmentID, *report.HolderInvestmentID)
	assert.NotNil(t, report.AllocationTimestamp)

	_, err = svc.CheckExclusivity(ctx, "000000")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestGetPoolStatistics(t *testing.T) {
	svc, _ := setupLedgerTest(t)
	ctx := context.Background()
	addAccount(t, svc, "886528")
	addAccount(t, svc, "886529")
	addAccount(t, svc, "886530")

	_, err := svc.Allocate(ctx, AllocateInput{
		InvestmentID: uuid.New(), ClientID: uuid.New(), Principal: money("10000"),
		Mappings: []MappingInput{
			{AccountNumber: "886528", Amount: money("10000"), Notes: goodNotes},
		},
	}, uuid.New())
	require.NoError(t, err)

	stats, err := svc.GetPoolStatistics(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.Total)
	assert.EqualValues(t, 1, stats.ByStatus[string(domain.AccountAllocated)])
	assert.EqualValues(t, 2, stats.ByStatus[string(domain.AccountAvailable)])
	assert.EqualValues(t, 3, stats.ByBroker["Multibank"])
}

func TestValidateInvestmentMappings(t *testing.T) {
	svc, _ := setupLedgerTest(t)
	ctx := context.Background()
	addAccount(t, svc, "886528")
	addAccount(t, svc, "886529")

	investmentID := uuid.New()
	_, err := svc.Allocate(ctx, AllocateInput{
		InvestmentID: investmentID, ClientID: uuid.New(), Principal: money("100000"),
		Mappings: []MappingInput{
			{AccountNumber: "886528", Amount: money("80000"), Notes: goodNotes},
			{AccountNumber: "886529", Amount: money("20000"), Notes: goodNotes},
		},
	}, uuid.New())
	require.NoError(t, err)

	report, err := svc.ValidateInvestmentMappings(ctx, investmentID, money("100000"))
	require.NoError(t, err)
	assert.True(t, report.IsValid)
	assert.True(t, report.TotalMapped.Equal(money("100000")))
	assert.True(t, report.Difference.IsZero())
	assert.Empty(t, report.DuplicateAccounts)

	report, err = svc.ValidateInvestmentMappings(ctx, investmentID, money("101000"))
	require.NoError(t, err)
	assert.False(t, report.IsValid)
	assert.True(t, report.Difference.Equal(money("-1000")))
}

func TestCorrectMapping(t *testing.T) {
	svc, db := setupLedgerTest(t)
	ctx := context.Background()
	addAccount(t, svc, "886528")

	investmentID := uuid.New()
	mappings, err := svc.Allocate(ctx, AllocateInput{
		InvestmentID: investmentID, ClientID: uuid.New(), Principal: money("10000"),
		Mappings: []MappingInput{
			{AccountNumber: "886528", Amount: money("10000"), Notes: goodNotes},
		},
	}, uuid.New())
	require.NoError(t, err)

	replacement, err := svc.CorrectMapping(ctx, mappings[0].MappingID, money("10500"), "Corrected after wire reconciliation", uuid.New())
	require.NoError(t, err)
	assert.True(t, replacement.AllocatedAmount.Equal(money("10500")))
	assert.Equal(t, domain.MappingActive, replacement.Status)

	var old domain.AllocationMapping
	require.NoError(t, db.Where("mapping_id = ?", mappings[0].MappingID).First(&old).Error)
	assert.Equal(t, domain.MappingSuperseded, old.Status)

	// Correcting the superseded row again loses.
	_, err = svc.CorrectMapping(ctx, mappings[0].MappingID, money("9000"), "Second correction attempt on old row", uuid.New())
	assert.Error(t, err)

	var account domain.ExternalAccount
	require.NoError(t, db.Where("account_number = ?", "886528").First(&account).Error)
	require.True(t, account.AllocatedAmount.Valid)
	assert.True(t, account.AllocatedAmount.Decimal.Equal(money("10500")))
}

func TestSetAccountStatus(t *testing.T) {
	svc, _ := setupLedgerTest(t)
	ctx := context.Background()
	addAccount(t, svc, "886528")
	addAccount(t, svc, "886529")

	account, err := svc.SetAccountStatus(ctx, "886528", domain.AccountMaintenance, uuid.New(), "Broker-side migration window")
	require.NoError(t, err)
	assert.Equal(t, domain.AccountMaintenance, account.Status)

	account, err = svc.SetAccountStatus(ctx, "886528", domain.AccountAvailable, uuid.New(), "Migration complete")
	require.NoError(t, err)
	assert.Equal(t, domain.AccountAvailable, account.Status)

	// Allocated accounts cannot be pushed into a side-state; deallocate first.
	_, err = svc.Allocate(ctx, AllocateInput{
		InvestmentID: uuid.New(), ClientID: uuid.New(), Principal: money("10000"),
		Mappings: []MappingInput{
			{AccountNumber: "886529", Amount: money("10000"), Notes: goodNotes},
		},
	}, uuid.New())
	require.NoError(t, err)
	_, err = svc.SetAccountStatus(ctx, "886529", domain.AccountInactive, uuid.New(), "Attempting to retire funded account")
	assert.ErrorIs(t, err, ErrIllegalTransition)

	_, err = svc.SetAccountStatus(ctx, "886528", domain.AccountAllocated, uuid.New(), "Direct allocation is not a status change")
	assert.ErrorIs(t, err, ErrIllegalTransition)
}
