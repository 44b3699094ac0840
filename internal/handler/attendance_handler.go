package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutor-ledger-api/internal/dto"
	"github.com/noah-isme/tutor-ledger-api/internal/models"
	appErrors "github.com/noah-isme/tutor-ledger-api/pkg/errors"
	"github.com/noah-isme/tutor-ledger-api/pkg/response"
)

type ledgerService interface {
	RecordOutcome(ctx context.Context, reservationID string, req dto.RecordOutcomeRequest) (*models.AttendanceLog, error)
	VoidEntry(ctx context.Context, logID string) (*models.AttendanceLog, error)
	ForReservation(ctx context.Context, reservationID string) (*models.AttendanceLog, error)
	History(ctx context.Context, contractID string, from, to *time.Time) ([]models.AttendanceLog, error)
}

type substitutionService interface {
	Substitute(ctx context.Context, reservationID string, target models.Slot) (*dto.SubstitutionResult, error)
	Reset(ctx context.Context, actorID, reservationID string) (*dto.SubstitutionResult, error)
}

// AttendanceHandler exposes the attendance ledger and the substitution resolver.
type AttendanceHandler struct {
	ledger       ledgerService
	substitution substitutionService
}

// NewAttendanceHandler constructs the handler.
func NewAttendanceHandler(ledger ledgerService, substitution substitutionService) *AttendanceHandler {
	return &AttendanceHandler{ledger: ledger, substitution: substitution}
}

// Record godoc
// @Summary Record the outcome of an occurrence
// @Description Creates the ledger entry or updates it in place. occurred_at never changes.
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Reservation ID"
// @Param payload body dto.RecordOutcomeRequest true "Outcome"
// @Success 200 {object} response.Envelope
// @Router /reservations/{id}/attendance [put]
func (h *AttendanceHandler) Record(c *gin.Context) {
	var req dto.RecordOutcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid attendance payload"))
		return
	}
	entry, err := h.ledger.RecordOutcome(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry)
}

// Get godoc
// @Summary Get the ledger entry of an occurrence
// @Tags Attendance
// @Produce json
// @Param id path string true "Reservation ID"
// @Success 200 {object} response.Envelope
// @Router /reservations/{id}/attendance [get]
func (h *AttendanceHandler) Get(c *gin.Context) {
	entry, err := h.ledger.ForReservation(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry)
}

// Void godoc
// @Summary Void a ledger entry
// @Description Idempotent. The entry is kept for audit and excluded from statistics.
// @Tags Attendance
// @Produce json
// @Param id path string true "Attendance log ID"
// @Success 200 {object} response.Envelope
// @Router /attendance/{id}/void [post]
func (h *AttendanceHandler) Void(c *gin.Context) {
	entry, err := h.ledger.VoidEntry(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry)
}

// History godoc
// @Summary List a contract's ledger including voided entries
// @Tags Attendance
// @Produce json
// @Param id path string true "Contract ID"
// @Param from query string false "From date (YYYY-MM-DD)"
// @Param to query string false "To date (YYYY-MM-DD), exclusive"
// @Success 200 {object} response.Envelope
// @Router /contracts/{id}/attendance [get]
func (h *AttendanceHandler) History(c *gin.Context) {
	from, err := optionalDateQuery(c, "from")
	if err != nil {
		response.Error(c, err)
		return
	}
	to, err := optionalDateQuery(c, "to")
	if err != nil {
		response.Error(c, err)
		return
	}
	entries, err := h.ledger.History(c.Request.Context(), c.Param("id"), from, to)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries)
}

// Substitute godoc
// @Summary Move an occurrence to a substitute slot
// @Tags Substitutions
// @Accept json
// @Produce json
// @Param id path string true "Reservation ID"
// @Param payload body dto.SubstituteRequest true "Target slot"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /reservations/{id}/substitute [post]
func (h *AttendanceHandler) Substitute(c *gin.Context) {
	var req dto.SubstituteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid substitution payload"))
		return
	}
	target, err := models.ParseSlot(req.Date, req.Time)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, err.Error()))
		return
	}
	result, err := h.substitution.Substitute(c.Request.Context(), c.Param("id"), target)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// ResetSubstitution godoc
// @Summary Undo a substitution
// @Description Restores the slot archived in the ledger entry. Audited under the caller.
// @Tags Substitutions
// @Produce json
// @Param id path string true "Reservation ID"
// @Success 200 {object} response.Envelope
// @Router /reservations/{id}/substitution/reset [post]
func (h *AttendanceHandler) ResetSubstitution(c *gin.Context) {
	result, err := h.substitution.Reset(c.Request.Context(), actorID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}
