package timeline

import (
	"errors"
	"time"

	"fidus-backend/internal/pkg/response"
	"fidus-backend/internal/timeline"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// Handlers exposes the timeline engine for schedule previews. Stateless:
// everything is computed from the request body.
type Handlers struct{}

type previewRequest struct {
	Plan        timeline.FundPlan `json:"plan"`
	DepositDate string            `json:"deposit_date"`
	Principal   decimal.Decimal   `json:"principal"`
	AsOfDate    string            `json:"as_of_date"`
}

type previewResponse struct {
	Schedule           timeline.Schedule `json:"schedule"`
	AsOfDate           time.Time         `json:"as_of_date"`
	AccruedInterest    decimal.Decimal   `json:"accrued_interest"`
	CanRedeemPrincipal bool              `json:"can_redeem_principal"`
	CanRedeemInterest  bool              `json:"can_redeem_interest"`
	LatestCheckpoint   *time.Time        `json:"latest_checkpoint,omitempty"`
}

// Preview POST /api/v1/timeline/preview — derive the entitlement schedule
// and accrued interest for a plan, deposit date and as-of date.
func (h *Handlers) Preview(c *fiber.Ctx) error {
	var body previewRequest
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}

	depositDate, err := time.Parse("2006-01-02", body.DepositDate)
	if err != nil {
		return response.Error(c, "deposit_date must be YYYY-MM-DD", fiber.StatusBadRequest, nil)
	}
	asOf := time.Now().UTC()
	if body.AsOfDate != "" {
		asOf, err = time.Parse("2006-01-02", body.AsOfDate)
		if err != nil {
			return response.Error(c, "as_of_date must be YYYY-MM-DD", fiber.StatusBadRequest, nil)
		}
	}

	sched, err := timeline.Compute(body.Plan, depositDate)
	if errors.Is(err, timeline.ErrInvalidDepositDate) || errors.Is(err, timeline.ErrInvalidPlan) {
		return response.Error(c, err.Error(), fiber.StatusBadRequest, nil)
	}
	if err != nil {
		return response.Error(c, err.Error(), fiber.StatusInternalServerError, nil)
	}

	accrued, err := timeline.AccruedInterest(body.Plan, body.Principal, depositDate, asOf)
	if err != nil {
		return response.Error(c, err.Error(), fiber.StatusBadRequest, nil)
	}

	out := previewResponse{
		Schedule:           sched,
		AsOfDate:           asOf,
		AccruedInterest:    accrued,
		CanRedeemPrincipal: timeline.CanRedeemPrincipal(sched, asOf),
		CanRedeemInterest:  timeline.CanRedeemInterest(sched, asOf),
	}
	if cp, ok := timeline.LatestCheckpoint(sched, asOf); ok {
		out.LatestCheckpoint = &cp
	}
	return response.Success(c, "Timeline computed", out, nil)
}
