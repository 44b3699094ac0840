package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutor-ledger-api/internal/dto"
	"github.com/noah-isme/tutor-ledger-api/internal/models"
	"github.com/noah-isme/tutor-ledger-api/pkg/response"
)

type correctionService interface {
	VoidAttendance(ctx context.Context, actorID, logID string) (*models.AttendanceLog, error)
	ResetReservationDate(ctx context.Context, actorID, reservationID string) (*dto.SubstitutionResult, error)
	OverrideReservationDate(ctx context.Context, actorID, reservationID string, req dto.OverrideDateRequest) (*models.Reservation, error)
	CancelReservation(ctx context.Context, actorID, reservationID string, req dto.CancelReservationRequest) (*models.Reservation, error)
	PurgeContractAttendance(ctx context.Context, actorID, contractID string) (*dto.PurgeResult, error)
	AuditTrail(ctx context.Context, resource, resourceID string, limit int) ([]models.AuditLog, error)
}

// CorrectionHandler exposes the administrative correction tools.
type CorrectionHandler struct {
	service correctionService
}

// NewCorrectionHandler constructs the handler.
func NewCorrectionHandler(service correctionService) *CorrectionHandler {
	return &CorrectionHandler{service: service}
}

// VoidAttendance godoc
// @Summary Void a ledger entry (audited)
// @Tags Corrections
// @Produce json
// @Param id path string true "Attendance log ID"
// @Success 200 {object} response.Envelope
// @Router /admin/attendance/{id}/void [post]
func (h *CorrectionHandler) VoidAttendance(c *gin.Context) {
	entry, err := h.service.VoidAttendance(c.Request.Context(), actorID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry)
}

// ResetReservation godoc
// @Summary Restore a reservation's archived slot (audited)
// @Tags Corrections
// @Produce json
// @Param id path string true "Reservation ID"
// @Success 200 {object} response.Envelope
// @Router /admin/reservations/{id}/reset [post]
func (h *CorrectionHandler) ResetReservation(c *gin.Context) {
	result, err := h.service.ResetReservationDate(c.Request.Context(), actorID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// OverrideDate godoc
// @Summary Override a reservation's date (trusted operator)
// @Description Leaves the ledger entry untouched. A reason is required and audited.
// @Tags Corrections
// @Accept json
// @Produce json
// @Param id path string true "Reservation ID"
// @Param payload body dto.OverrideDateRequest true "Override"
// @Success 200 {object} response.Envelope
// @Router /admin/reservations/{id}/override-date [post]
func (h *CorrectionHandler) OverrideDate(c *gin.Context) {
	var req dto.OverrideDateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid override payload"))
		return
	}
	res, err := h.service.OverrideReservationDate(c.Request.Context(), actorID(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res)
}

// CancelReservation godoc
// @Summary Cancel an occurrence that will not take place (audited)
// @Tags Corrections
// @Accept json
// @Produce json
// @Param id path string true "Reservation ID"
// @Param payload body dto.CancelReservationRequest true "Cancellation"
// @Success 200 {object} response.Envelope
// @Router /admin/reservations/{id}/cancel [post]
func (h *CorrectionHandler) CancelReservation(c *gin.Context) {
	var req dto.CancelReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid cancellation payload"))
		return
	}
	res, err := h.service.CancelReservation(c.Request.Context(), actorID(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res)
}

// PurgeAttendance godoc
// @Summary Hard-delete a contract's ledger (audited)
// @Tags Corrections
// @Produce json
// @Param id path string true "Contract ID"
// @Success 200 {object} response.Envelope
// @Router /admin/contracts/{id}/attendance [delete]
func (h *CorrectionHandler) PurgeAttendance(c *gin.Context) {
	result, err := h.service.PurgeContractAttendance(c.Request.Context(), actorID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// AuditTrail godoc
// @Summary List correction audit records for a resource
// @Tags Corrections
// @Produce json
// @Param resource path string true "attendance_log, reservation or contract"
// @Param id path string true "Resource ID"
// @Param limit query int false "Maximum records" default(50)
// @Success 200 {object} response.Envelope
// @Router /admin/audit/{resource}/{id} [get]
func (h *CorrectionHandler) AuditTrail(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			response.Error(c, invalidPayload(err, "limit must be an integer"))
			return
		}
		limit = parsed
	}
	entries, err := h.service.AuditTrail(c.Request.Context(), c.Param("resource"), c.Param("id"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries)
}
