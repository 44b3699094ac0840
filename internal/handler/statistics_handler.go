package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/tutor-ledger-api/internal/dto"
	"github.com/noah-isme/tutor-ledger-api/internal/middleware"
	"github.com/noah-isme/tutor-ledger-api/internal/models"
	"github.com/noah-isme/tutor-ledger-api/internal/service"
	appErrors "github.com/noah-isme/tutor-ledger-api/pkg/errors"
	"github.com/noah-isme/tutor-ledger-api/pkg/response"
)

type rollupService interface {
	Rollup(ctx context.Context, year, month int) (*models.Rollup, bool, error)
	RollupRange(ctx context.Context, yearFrom, yearTo int) ([]models.YearRollup, bool, error)
}

type statementService interface {
	Export(ctx context.Context, yearFrom, yearTo int, format string) (*service.StatementDocument, error)
}

// StatisticsHandler exposes the reconciliation aggregator.
type StatisticsHandler struct {
	rollups    rollupService
	statements statementService
	validator  *validator.Validate
}

// NewStatisticsHandler constructs the handler.
func NewStatisticsHandler(rollups rollupService, statements statementService, validate *validator.Validate) *StatisticsHandler {
	if validate == nil {
		validate = validator.New()
	}
	return &StatisticsHandler{rollups: rollups, statements: statements, validator: validate}
}

func (h *StatisticsHandler) bindQuery(c *gin.Context, dest interface{}) error {
	if err := c.ShouldBindQuery(dest); err != nil {
		return invalidPayload(err, "invalid query parameters")
	}
	if err := h.validator.Struct(dest); err != nil {
		return invalidPayload(err, "invalid query parameters")
	}
	return nil
}

// Monthly godoc
// @Summary Lesson statistics for a month or a whole year
// @Tags Statistics
// @Produce json
// @Param year query int true "Year"
// @Param month query int false "Month (1-12). Omit for the whole year"
// @Success 200 {object} response.Envelope
// @Router /statistics/monthly [get]
func (h *StatisticsHandler) Monthly(c *gin.Context) {
	var query dto.MonthlyStatisticsQuery
	if err := h.bindQuery(c, &query); err != nil {
		response.Error(c, err)
		return
	}
	rollup, cacheHit, err := h.rollups.Rollup(c.Request.Context(), query.Year, query.Month)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	middleware.SetPeriod(c, periodLabel(query.Year, query.Month))
	response.JSON(c, http.StatusOK, rollup, middleware.ExtractMeta(c))
}

// Yearly godoc
// @Summary Lesson statistics per year with monthly breakdown
// @Tags Statistics
// @Produce json
// @Param from query int true "First year"
// @Param to query int true "Last year (inclusive)"
// @Success 200 {object} response.Envelope
// @Router /statistics/yearly [get]
func (h *StatisticsHandler) Yearly(c *gin.Context) {
	var query dto.YearlyStatisticsQuery
	if err := h.bindQuery(c, &query); err != nil {
		response.Error(c, err)
		return
	}
	years, cacheHit, err := h.rollups.RollupRange(c.Request.Context(), query.From, query.To)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	middleware.SetPeriod(c, fmt.Sprintf("%04d..%04d", query.From, query.To))
	response.JSON(c, http.StatusOK, dto.YearlyStatisticsResponse{From: query.From, To: query.To, Years: years}, middleware.ExtractMeta(c))
}

// Export godoc
// @Summary Download a lesson statement
// @Tags Statistics
// @Produce text/csv
// @Produce application/pdf
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param from query int true "First year"
// @Param to query int true "Last year (inclusive)"
// @Param format query string false "csv, pdf or xlsx" default(csv)
// @Success 200 {file} file
// @Router /statistics/export [get]
func (h *StatisticsHandler) Export(c *gin.Context) {
	var query dto.ExportStatisticsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, invalidPayload(err, "invalid query parameters"))
		return
	}
	query.Format = strings.ToLower(strings.TrimSpace(query.Format))
	switch query.Format {
	case "", "csv", "pdf", "xlsx":
	default:
		response.Error(c, appErrors.Clone(appErrors.ErrUnsupportedExportFormat, "unsupported export format "+strconv.Quote(query.Format)))
		return
	}
	if err := h.validator.Struct(query); err != nil {
		response.Error(c, invalidPayload(err, "invalid query parameters"))
		return
	}
	doc, err := h.statements.Export(c.Request.Context(), query.From, query.To, query.Format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, doc.Filename, doc.ContentType, doc.Body)
}

// Axis godoc
// @Summary Nice chart axis maximum
// @Description Rounds max up to 1, 2 or 5 times a power of ten.
// @Tags Statistics
// @Produce json
// @Param max query int true "Largest plotted value"
// @Success 200 {object} response.Envelope
// @Router /statistics/axis [get]
func (h *StatisticsHandler) Axis(c *gin.Context) {
	value, err := strconv.ParseInt(strings.TrimSpace(c.Query("max")), 10, 64)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "max must be an integer"))
		return
	}
	response.JSON(c, http.StatusOK, dto.AxisResponse{Max: value, NiceMax: service.NiceCeil(value)})
}

func periodLabel(year, month int) string {
	if month == 0 {
		return fmt.Sprintf("%04d", year)
	}
	return models.PeriodKey{Year: year, Month: month}.String()
}
