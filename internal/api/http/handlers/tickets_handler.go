package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-orchestrator/internal/repository"
	"github.com/spec-kit/support-orchestrator/internal/status"
	"github.com/spec-kit/support-orchestrator/internal/workflow"
	apperrors "github.com/spec-kit/support-orchestrator/pkg/util"
)

// TicketsHandler serves the progress polling and cancellation surface.
// Ticket creation lives in the external gateway, not here.
type TicketsHandler struct {
	statuses status.Store
	cancels  status.CancelRegistry
	results  repository.ResultRepository
}

// NewTicketsHandler returns a new handler instance. results may be nil
// when the result writer is disabled.
func NewTicketsHandler(statuses status.Store, cancels status.CancelRegistry, results repository.ResultRepository) *TicketsHandler {
	return &TicketsHandler{statuses: statuses, cancels: cancels, results: results}
}

// Status reports the current progress projection for a ticket. When the
// live record has expired, the long-term result store is consulted so
// finished tickets keep answering polls.
func (h *TicketsHandler) Status(c *fiber.Ctx) error {
	ticketID := c.Params("id")
	if ticketID == "" {
		return apperrors.NewValidationError("ticket id required", nil)
	}

	rec, err := h.statuses.Get(c.UserContext(), ticketID)
	if err == nil {
		return c.JSON(fiber.Map{
			"ticket_id":        rec.TicketID,
			"stage":            rec.Stage,
			"progress_percent": rec.Progress,
			"updated_at":       rec.UpdatedAt,
		})
	}
	if !errors.Is(err, status.ErrNotFound) {
		return apperrors.NewInternalError(err)
	}

	if h.results != nil {
		result, resErr := h.results.GetByTicketID(c.UserContext(), ticketID)
		if resErr == nil {
			stage := workflow.StageForStatus(result.Status)
			return c.JSON(fiber.Map{
				"ticket_id":        result.TicketID,
				"stage":            stage,
				"progress_percent": workflow.ProgressFor(stage),
				"updated_at":       result.ResolvedAt,
			})
		}
		if !errors.Is(resErr, repository.ErrNoResult) {
			return apperrors.NewInternalError(resErr)
		}
	}

	return apperrors.NewNotFound("ticket status", fiber.Map{"ticket_id": ticketID})
}

// Cancel requests cancellation of an in-flight ticket. The engine
// observes the request before its next stage commit.
func (h *TicketsHandler) Cancel(c *fiber.Ctx) error {
	ticketID := c.Params("id")
	if ticketID == "" {
		return apperrors.NewValidationError("ticket id required", nil)
	}
	if err := h.cancels.RequestCancel(c.UserContext(), ticketID); err != nil {
		return apperrors.NewInternalError(err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"ticket_id": ticketID,
		"cancel":    "requested",
	})
}
