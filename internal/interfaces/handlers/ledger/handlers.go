package ledger

import (
	"errors"

	auditsvc "fidus-backend/internal/application/audit"
	balancesvc "fidus-backend/internal/application/balances"
	ledgersvc "fidus-backend/internal/application/ledger"
	"fidus-backend/internal/domain"
	"fidus-backend/internal/middleware"
	"fidus-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Handlers exposes the allocation ledger to the admin console.
type Handlers struct {
	Service  *ledgersvc.Service
	Audit    *auditsvc.Service
	Balances *balancesvc.Cache
}

// mapLedgerError translates service errors into the standard error envelope.
func mapLedgerError(c *fiber.Ctx, err error) error {
	var rejected *ledgersvc.AllocationRejectedError
	if errors.As(err, &rejected) {
		code := fiber.StatusUnprocessableEntity
		if rejected.Retryable {
			code = fiber.StatusConflict
		}
		return response.Error(c, "Allocation rejected", code, fiber.Map{
			"violations": rejected.Violations,
			"retryable":  rejected.Retryable,
		})
	}
	switch {
	case errors.Is(err, ledgersvc.ErrDuplicateAccount):
		return response.Error(c, err.Error(), fiber.StatusConflict, nil)
	case errors.Is(err, ledgersvc.ErrAccountNotFound):
		return response.NotFound(c, err.Error())
	case errors.Is(err, ledgersvc.ErrNotAllocated), errors.Is(err, ledgersvc.ErrIllegalTransition):
		return response.Error(c, err.Error(), fiber.StatusConflict, nil)
	case errors.Is(err, ledgersvc.ErrInsufficientNotes):
		return response.Error(c, err.Error(), fiber.StatusUnprocessableEntity, nil)
	case errors.Is(err, ledgersvc.ErrStoreUnavailable):
		return response.Error(c, "Store unavailable, retry later", fiber.StatusServiceUnavailable, nil)
	}
	return response.Error(c, err.Error(), fiber.StatusBadRequest, nil)
}

// AddAccount POST /api/v1/accounts — add one account to the pool.
func (h *Handlers) AddAccount(c *fiber.Ctx) error {
	adminID, ok := middleware.GetAdminID(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	var body ledgersvc.AddAccountInput
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	account, err := h.Service.AddAccountToPool(c.UserContext(), body, adminID)
	if err != nil {
		return mapLedgerError(c, err)
	}
	return response.SuccessCreated(c, "Account added to pool", account, nil)
}

// ListAccounts GET /api/v1/accounts?status=available
func (h *Handlers) ListAccounts(c *fiber.Ctx) error {
	accounts, err := h.Service.ListAccounts(c.UserContext(), domain.AccountStatus(c.Query("status")))
	if err != nil {
		return mapLedgerError(c, err)
	}
	return response.Success(c, "Accounts fetched", accounts, fiber.Map{"count": len(accounts)})
}

// Allocate POST /api/v1/allocations — bind an investment to accounts.
func (h *Handlers) Allocate(c *fiber.Ctx) error {
	adminID, ok := middleware.GetAdminID(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	var body ledgersvc.AllocateInput
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	if body.InvestmentID == uuid.Nil || body.ClientID == uuid.Nil {
		return response.Error(c, "investment_id and client_id are required", fiber.StatusBadRequest, nil)
	}
	mappings, err := h.Service.Allocate(c.UserContext(), body, adminID)
	if err != nil {
		return mapLedgerError(c, err)
	}
	return response.SuccessCreated(c, "Investment allocated", mappings, fiber.Map{"count": len(mappings)})
}

// CheckExclusivity GET /api/v1/accounts/:accountNumber/exclusivity
func (h *Handlers) CheckExclusivity(c *fiber.Ctx) error {
	report, err := h.Service.CheckExclusivity(c.UserContext(), c.Params("accountNumber"))
	if err != nil {
		return mapLedgerError(c, err)
	}
	return response.Success(c, "Exclusivity checked", report, nil)
}

// SetStatus PATCH /api/v1/accounts/:accountNumber/status
func (h *Handlers) SetStatus(c *fiber.Ctx) error {
	adminID, ok := middleware.GetAdminID(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	var body struct {
		Status domain.AccountStatus `json:"status"`
		Notes  string               `json:"notes"`
	}
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	account, err := h.Service.SetAccountStatus(c.UserContext(), c.Params("accountNumber"), body.Status, adminID, body.Notes)
	if err != nil {
		return mapLedgerError(c, err)
	}
	return response.Success(c, "Account status updated", account, nil)
}

// PoolStatistics GET /api/v1/pool/statistics
func (h *Handlers) PoolStatistics(c *fiber.Ctx) error {
	stats, err := h.Service.GetPoolStatistics(c.UserContext())
	if err != nil {
		return mapLedgerError(c, err)
	}
	return response.Success(c, "Pool statistics", stats, nil)
}

// MappingsByInvestment GET /api/v1/investments/:investmentId/mappings
func (h *Handlers) MappingsByInvestment(c *fiber.Ctx) error {
	investmentID, err := uuid.Parse(c.Params("investmentId"))
	if err != nil {
		return response.Error(c, "Invalid UUID format for investment_id", fiber.StatusBadRequest, nil)
	}
	mappings, err := h.Service.GetMappingsByInvestment(c.UserContext(), investmentID)
	if err != nil {
		return mapLedgerError(c, err)
	}
	return response.Success(c, "Mappings fetched", mappings, fiber.Map{"count": len(mappings)})
}

// ValidateMappings POST /api/v1/investments/:investmentId/validate-mappings
func (h *Handlers) ValidateMappings(c *fiber.Ctx) error {
	investmentID, err := uuid.Parse(c.Params("investmentId"))
	if err != nil {
		return response.Error(c, "Invalid UUID format for investment_id", fiber.StatusBadRequest, nil)
	}
	var body struct {
		ExpectedPrincipal decimal.Decimal `json:"expected_principal"`
	}
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	report, err := h.Service.ValidateInvestmentMappings(c.UserContext(), investmentID, body.ExpectedPrincipal)
	if err != nil {
		return mapLedgerError(c, err)
	}
	return response.Success(c, "Mappings validated", report, nil)
}

// CorrectMapping POST /api/v1/mappings/:mappingId/correct
func (h *Handlers) CorrectMapping(c *fiber.Ctx) error {
	adminID, ok := middleware.GetAdminID(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	mappingID, err := uuid.Parse(c.Params("mappingId"))
	if err != nil {
		return response.Error(c, "Invalid UUID format for mapping_id", fiber.StatusBadRequest, nil)
	}
	var body struct {
		Amount decimal.Decimal `json:"amount"`
		Notes  string          `json:"notes"`
	}
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	replacement, err := h.Service.CorrectMapping(c.UserContext(), mappingID, body.Amount, body.Notes, adminID)
	if err != nil {
		return mapLedgerError(c, err)
	}
	return response.Success(c, "Mapping corrected", replacement, nil)
}

// AuditTrail GET /api/v1/audit?account_number=&limit=
func (h *Handlers) AuditTrail(c *fiber.Ctx) error {
	entries, err := h.Audit.ListByAccount(c.UserContext(), c.Query("account_number"), c.QueryInt("limit"))
	if err != nil {
		return response.Error(c, err.Error(), fiber.StatusInternalServerError, nil)
	}
	return response.Success(c, "Audit entries fetched", entries, fiber.Map{"count": len(entries)})
}

// AccountBalance GET /api/v1/accounts/:accountNumber/balance — reads the
// vendor snapshot cache only; live balances are never computed here.
func (h *Handlers) AccountBalance(c *fiber.Ctx) error {
	if h.Balances == nil {
		return response.Error(c, "Balance feed not configured", fiber.StatusNotImplemented, nil)
	}
	snap, err := h.Balances.Get(c.UserContext(), c.Params("accountNumber"))
	if errors.Is(err, balancesvc.ErrSnapshotMissing) {
		return response.NotFound(c, "No recent balance snapshot for account")
	}
	if err != nil {
		return response.Error(c, err.Error(), fiber.StatusServiceUnavailable, nil)
	}
	return response.Success(c, "Balance snapshot", snap, nil)
}
