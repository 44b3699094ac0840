package models

import (
	"fmt"
	"time"
)

// Rollup aggregates lesson activity for a month, or a whole year when Month is 0.
// Revenue is in minor currency units.
type Rollup struct {
	Year          int   `json:"year"`
	Month         int   `json:"month,omitempty"`
	LessonCount   int   `json:"lesson_count"`
	ContractCount int   `json:"contract_count"`
	Revenue       int64 `json:"revenue"`
}

// YearRollup carries a year's total and its twelve months.
type YearRollup struct {
	Year   int      `json:"year"`
	Total  Rollup   `json:"total"`
	Months []Rollup `json:"months"`
}

// RollupSourceRow is one non-voided ledger entry joined with its contract's
// rate snapshot, as read by the aggregator.
type RollupSourceRow struct {
	LogID        string           `db:"log_id"`
	ContractID   string           `db:"contract_id"`
	Status       AttendanceStatus `db:"status"`
	OccurredAt   time.Time        `db:"occurred_at"`
	SubstituteAt *time.Time       `db:"substitute_at"`
	RateAmount   int64            `db:"rate_amount"`
	RateBasis    RateBasis        `db:"rate_basis"`
}

// EffectiveAt mirrors AttendanceLog.EffectiveAt for raw rows.
func (r RollupSourceRow) EffectiveAt() time.Time {
	if r.Status == AttendanceSubstitute && r.SubstituteAt != nil {
		return *r.SubstituteAt
	}
	return r.OccurredAt
}

// PeriodKey identifies a calendar month.
type PeriodKey struct {
	Year  int
	Month int
}

// PeriodOf returns the month containing t in loc.
func PeriodOf(t time.Time, loc *time.Location) PeriodKey {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return PeriodKey{Year: local.Year(), Month: int(local.Month())}
}

// Bounds returns the half-open [start, end) instants of the month in loc.
func (p PeriodKey) Bounds(loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	start := time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 1, 0)
}

func (p PeriodKey) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// ContractPeriod names a (contract, month) pair touched by a write.
type ContractPeriod struct {
	ContractID string
	Period     PeriodKey
}
