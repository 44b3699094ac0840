package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutor-ledger-api/internal/dto"
	"github.com/noah-isme/tutor-ledger-api/internal/middleware"
	"github.com/noah-isme/tutor-ledger-api/internal/models"
	appErrors "github.com/noah-isme/tutor-ledger-api/pkg/errors"
)

type correctionServiceMock struct {
	actor    string
	override dto.OverrideDateRequest
	reason   string
	resource string
	limit    int
	err      error
}

func (m *correctionServiceMock) VoidAttendance(ctx context.Context, actorID, logID string) (*models.AttendanceLog, error) {
	m.actor = actorID
	return &models.AttendanceLog{ID: logID, Outcome: models.Attended{}, Voided: true}, m.err
}

func (m *correctionServiceMock) ResetReservationDate(ctx context.Context, actorID, reservationID string) (*dto.SubstitutionResult, error) {
	m.actor = actorID
	return &dto.SubstitutionResult{}, m.err
}

func (m *correctionServiceMock) OverrideReservationDate(ctx context.Context, actorID, reservationID string, req dto.OverrideDateRequest) (*models.Reservation, error) {
	m.actor = actorID
	m.override = req
	return &models.Reservation{ID: reservationID}, m.err
}

func (m *correctionServiceMock) CancelReservation(ctx context.Context, actorID, reservationID string, req dto.CancelReservationRequest) (*models.Reservation, error) {
	m.actor = actorID
	m.reason = req.Reason
	return &models.Reservation{ID: reservationID, Voided: true}, m.err
}

func (m *correctionServiceMock) PurgeContractAttendance(ctx context.Context, actorID, contractID string) (*dto.PurgeResult, error) {
	m.actor = actorID
	return &dto.PurgeResult{ContractID: contractID, Deleted: 3}, m.err
}

func (m *correctionServiceMock) AuditTrail(ctx context.Context, resource, resourceID string, limit int) ([]models.AuditLog, error) {
	m.resource = resource
	m.limit = limit
	return []models.AuditLog{{ID: "a1", ActorID: "admin-1", Resource: resource, ResourceID: resourceID}}, m.err
}

func withOperator(c *gin.Context) {
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})
}

func TestCorrectionHandlerPassesOperator(t *testing.T) {
	svc := &correctionServiceMock{}
	handler := NewCorrectionHandler(svc)

	c, w := newTestContext(http.MethodPost, "/admin/attendance/log-1/void", nil)
	withOperator(c)
	handler.VoidAttendance(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "admin-1", svc.actor)

	c, w = newTestContext(http.MethodPost, "/admin/reservations/r1/reset", nil)
	withOperator(c)
	handler.ResetReservation(c)
	assert.Equal(t, http.StatusOK, w.Code)

	c, w = newTestContext(http.MethodDelete, "/admin/contracts/C/attendance", nil)
	withOperator(c)
	handler.PurgeAttendance(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"deleted":3`)
}

func TestCorrectionHandlerOverride(t *testing.T) {
	svc := &correctionServiceMock{}
	handler := NewCorrectionHandler(svc)

	c, w := newTestContext(http.MethodPost, "/admin/reservations/r1/override-date", []byte(`{"date":"2025-01-15","time":"18:00","reason":"wrong weekday"}`))
	withOperator(c)
	handler.OverrideDate(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "wrong weekday", svc.override.Reason)

	c, w = newTestContext(http.MethodPost, "/admin/reservations/r1/override-date", []byte(`not json`))
	handler.OverrideDate(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCorrectionHandlerWithoutOperator(t *testing.T) {
	svc := &correctionServiceMock{err: appErrors.Clone(appErrors.ErrUnauthorized, "operator identity is required")}
	handler := NewCorrectionHandler(svc)

	c, w := newTestContext(http.MethodPost, "/admin/attendance/log-1/void", nil)
	handler.VoidAttendance(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, svc.actor)
}

func TestCorrectionHandlerAuditTrail(t *testing.T) {
	svc := &correctionServiceMock{}
	handler := NewCorrectionHandler(svc)

	c, w := newTestContext(http.MethodGet, "/admin/audit/reservation/r1?limit=5", nil)
	c.Params = gin.Params{{Key: "resource", Value: "reservation"}, {Key: "id", Value: "r1"}}
	handler.AuditTrail(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "reservation", svc.resource)
	assert.Equal(t, 5, svc.limit)
	assert.Contains(t, w.Body.String(), `"actor_id":"admin-1"`)

	c, w = newTestContext(http.MethodGet, "/admin/audit/reservation/r1?limit=many", nil)
	handler.AuditTrail(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, appErrors.ErrValidation.Code, decodeError(t, w))
}

func TestCorrectionHandlerCancelReservation(t *testing.T) {
	svc := &correctionServiceMock{}
	handler := NewCorrectionHandler(svc)

	c, w := newTestContext(http.MethodPost, "/admin/reservations/r1/cancel", []byte(`{"reason":"public holiday"}`))
	c.Params = gin.Params{{Key: "id", Value: "r1"}}
	withOperator(c)
	handler.CancelReservation(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "admin-1", svc.actor)
	assert.Equal(t, "public holiday", svc.reason)

	c, w = newTestContext(http.MethodPost, "/admin/reservations/r1/cancel", []byte(`{`))
	handler.CancelReservation(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
