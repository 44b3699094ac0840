package dto

import "github.com/noah-isme/tutor-ledger-api/internal/models"

// MonthlyStatisticsQuery selects a month, or the whole year when Month is 0.
type MonthlyStatisticsQuery struct {
	Year  int `form:"year" validate:"required,gte=2000,lte=2100"`
	Month int `form:"month" validate:"omitempty,gte=1,lte=12"`
}

// YearlyStatisticsQuery selects an inclusive range of years.
type YearlyStatisticsQuery struct {
	From int `form:"from" validate:"required,gte=2000,lte=2100"`
	To   int `form:"to" validate:"required,gte=2000,lte=2100,gtefield=From"`
}

// ExportStatisticsQuery selects the statement range and document format.
type ExportStatisticsQuery struct {
	From   int    `form:"from" validate:"required,gte=2000,lte=2100"`
	To     int    `form:"to" validate:"required,gte=2000,lte=2100,gtefield=From"`
	Format string `form:"format" validate:"omitempty,oneof=csv pdf xlsx"`
}

// YearlyStatisticsResponse wraps rollups for a year range.
type YearlyStatisticsResponse struct {
	From  int                 `json:"from"`
	To    int                 `json:"to"`
	Years []models.YearRollup `json:"years"`
}

// AxisResponse carries a chart axis maximum.
type AxisResponse struct {
	Max     int64 `json:"max"`
	NiceMax int64 `json:"niceMax"`
}
