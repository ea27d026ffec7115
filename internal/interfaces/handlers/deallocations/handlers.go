package deallocations

import (
	"errors"

	deallocsvc "fidus-backend/internal/application/deallocations"
	ledgersvc "fidus-backend/internal/application/ledger"
	"fidus-backend/internal/middleware"
	"fidus-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Handlers exposes the two-phase deallocation workflow.
type Handlers struct {
	Service *deallocsvc.Service
}

func mapWorkflowError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, deallocsvc.ErrRequestNotFound):
		return response.NotFound(c, err.Error())
	case errors.Is(err, deallocsvc.ErrRequestNotPending):
		return response.Error(c, err.Error(), fiber.StatusConflict, nil)
	case errors.Is(err, ledgersvc.ErrAccountNotFound):
		return response.NotFound(c, err.Error())
	case errors.Is(err, ledgersvc.ErrNotAllocated):
		return response.Error(c, err.Error(), fiber.StatusConflict, nil)
	case errors.Is(err, ledgersvc.ErrInsufficientNotes):
		return response.Error(c, err.Error(), fiber.StatusUnprocessableEntity, nil)
	case errors.Is(err, ledgersvc.ErrStoreUnavailable):
		return response.Error(c, "Store unavailable, retry later", fiber.StatusServiceUnavailable, nil)
	}
	return response.Error(c, err.Error(), fiber.StatusBadRequest, nil)
}

// Create POST /api/v1/deallocations — request release of an allocated account.
func (h *Handlers) Create(c *fiber.Ctx) error {
	adminID, ok := middleware.GetAdminID(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	var body struct {
		AccountNumber string `json:"account_number"`
		ReasonNotes   string `json:"reason_notes"`
	}
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	if body.AccountNumber == "" {
		return response.Error(c, "account_number is required", fiber.StatusBadRequest, nil)
	}
	request, err := h.Service.Request(c.UserContext(), body.AccountNumber, adminID, body.ReasonNotes)
	if err != nil {
		return mapWorkflowError(c, err)
	}
	return response.SuccessCreated(c, "Deallocation requested", request, nil)
}

// Pending GET /api/v1/deallocations/pending — operator backlog, newest first.
func (h *Handlers) Pending(c *fiber.Ctx) error {
	requests, err := h.Service.GetPendingRequests(c.UserContext())
	if err != nil {
		return mapWorkflowError(c, err)
	}
	return response.Success(c, "Pending deallocation requests", requests, fiber.Map{"count": len(requests)})
}

// Approve POST /api/v1/deallocations/:requestId/approve
func (h *Handlers) Approve(c *fiber.Ctx) error {
	return h.resolve(c, true)
}

// Reject POST /api/v1/deallocations/:requestId/reject
func (h *Handlers) Reject(c *fiber.Ctx) error {
	return h.resolve(c, false)
}

func (h *Handlers) resolve(c *fiber.Ctx, approve bool) error {
	adminID, ok := middleware.GetAdminID(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	requestID, err := uuid.Parse(c.Params("requestId"))
	if err != nil {
		return response.Error(c, "Invalid UUID format for request_id", fiber.StatusBadRequest, nil)
	}
	var body struct {
		Notes string `json:"notes"`
	}
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}

	var request interface{}
	if approve {
		request, err = h.Service.Approve(c.UserContext(), requestID, adminID, body.Notes)
	} else {
		request, err = h.Service.Reject(c.UserContext(), requestID, adminID, body.Notes)
	}
	if err != nil {
		return mapWorkflowError(c, err)
	}
	message := "Deallocation approved"
	if !approve {
		message = "Deallocation rejected"
	}
	return response.Success(c, message, request, nil)
}
