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

type contractService interface {
	Upsert(ctx context.Context, id string, req dto.UpsertContractRequest) (*models.Contract, error)
	Get(ctx context.Context, id string) (*models.Contract, error)
}

type occurrenceService interface {
	Generate(ctx context.Context, contractID string, horizonEnd time.Time) (*dto.GenerateReservationsResponse, error)
	List(ctx context.Context, contractID string, from, to *time.Time) ([]models.Reservation, error)
}

// ContractHandler exposes the contract read model and its occurrences.
type ContractHandler struct {
	contracts   contractService
	occurrences occurrenceService
}

// NewContractHandler constructs the handler.
func NewContractHandler(contracts contractService, occurrences occurrenceService) *ContractHandler {
	return &ContractHandler{contracts: contracts, occurrences: occurrences}
}

// Upsert godoc
// @Summary Upsert a contract snapshot
// @Description Called by the contract lifecycle service. The rate snapshot is kept from the first write.
// @Tags Contracts
// @Accept json
// @Produce json
// @Param id path string true "Contract ID"
// @Param payload body dto.UpsertContractRequest true "Contract snapshot"
// @Success 200 {object} response.Envelope
// @Router /contracts/{id} [put]
func (h *ContractHandler) Upsert(c *gin.Context) {
	var req dto.UpsertContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid contract payload"))
		return
	}
	contract, err := h.contracts.Upsert(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, contract)
}

// Get godoc
// @Summary Get a contract
// @Tags Contracts
// @Produce json
// @Param id path string true "Contract ID"
// @Success 200 {object} response.Envelope
// @Router /contracts/{id} [get]
func (h *ContractHandler) Get(c *gin.Context) {
	contract, err := h.contracts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, contract)
}

// Generate godoc
// @Summary Materialise reservations up to a horizon
// @Description Idempotent. Only slots missing from the contract's reservations are created.
// @Tags Reservations
// @Accept json
// @Produce json
// @Param id path string true "Contract ID"
// @Param payload body dto.GenerateReservationsRequest true "Horizon"
// @Success 201 {object} response.Envelope
// @Router /contracts/{id}/reservations/generate [post]
func (h *ContractHandler) Generate(c *gin.Context) {
	var req dto.GenerateReservationsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid generation payload"))
		return
	}
	horizon, err := time.Parse(models.DateLayout, req.HorizonEnd)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "horizonEnd must be YYYY-MM-DD"))
		return
	}
	result, err := h.occurrences.Generate(c.Request.Context(), c.Param("id"), horizon)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// ListReservations godoc
// @Summary List a contract's reservations
// @Tags Reservations
// @Produce json
// @Param id path string true "Contract ID"
// @Param from query string false "From date (YYYY-MM-DD)"
// @Param to query string false "To date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /contracts/{id}/reservations [get]
func (h *ContractHandler) ListReservations(c *gin.Context) {
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
	items, err := h.occurrences.List(c.Request.Context(), c.Param("id"), from, to)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items)
}
