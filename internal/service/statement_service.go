package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/tutor-ledger-api/internal/models"
	appErrors "github.com/noah-isme/tutor-ledger-api/pkg/errors"
	"github.com/noah-isme/tutor-ledger-api/pkg/export"
)

type rangeRollupProvider interface {
	RollupRange(ctx context.Context, yearFrom, yearTo int) ([]models.YearRollup, bool, error)
}

// StatementDocument is a rendered statistics statement.
type StatementDocument struct {
	Filename    string
	ContentType string
	Body        []byte
}

// StatementService renders per-month rollups as downloadable statements.
type StatementService struct {
	rollups   rangeRollupProvider
	renderers map[string]export.Renderer
	logger    *zap.Logger
}

// NewStatementService registers the CSV, PDF and XLSX renderers.
func NewStatementService(rollups rangeRollupProvider, logger *zap.Logger) *StatementService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatementService{
		rollups: rollups,
		renderers: map[string]export.Renderer{
			"csv":  export.NewCSVExporter(),
			"pdf":  export.NewPDFExporter(),
			"xlsx": export.NewXLSXExporter(),
		},
		logger: logger,
	}
}

// Export renders the statement for [yearFrom, yearTo] in format (csv by default).
func (s *StatementService) Export(ctx context.Context, yearFrom, yearTo int, format string) (*StatementDocument, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = "csv"
	}
	renderer, ok := s.renderers[format]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrUnsupportedExportFormat, fmt.Sprintf("unsupported export format %q", format))
	}

	years, _, err := s.rollups.RollupRange(ctx, yearFrom, yearTo)
	if err != nil {
		return nil, err
	}

	body, err := renderer.Render(statementTable(yearFrom, yearTo, years))
	if err != nil {
		s.logger.Error("render statement", zap.String("format", format), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render statement")
	}
	return &StatementDocument{
		Filename:    fmt.Sprintf("lesson-statement-%d-%d.%s", yearFrom, yearTo, renderer.Extension()),
		ContentType: renderer.ContentType(),
		Body:        body,
	}, nil
}

func statementTable(yearFrom, yearTo int, years []models.YearRollup) export.Table {
	table := export.Table{
		Title:   fmt.Sprintf("Lesson statement %d-%d", yearFrom, yearTo),
		Columns: []string{"Year", "Month", "Lessons", "Contracts", "Revenue"},
	}
	row := func(label string, r models.Rollup) []string {
		return []string{
			strconv.Itoa(r.Year),
			label,
			strconv.Itoa(r.LessonCount),
			strconv.Itoa(r.ContractCount),
			strconv.FormatInt(r.Revenue, 10),
		}
	}
	for _, year := range years {
		for _, month := range year.Months {
			table.Rows = append(table.Rows, row(fmt.Sprintf("%02d", month.Month), month))
		}
		table.Rows = append(table.Rows, row("Total", year.Total))
	}
	return table
}
