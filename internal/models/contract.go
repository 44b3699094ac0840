package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// ContractStatus tracks the lifecycle owned by the contract service.
type ContractStatus string

const (
	ContractStatusDraft      ContractStatus = "draft"
	ContractStatusSent       ContractStatus = "sent"
	ContractStatusSigned     ContractStatus = "signed"
	ContractStatusActive     ContractStatus = "active"
	ContractStatusCompleted  ContractStatus = "completed"
	ContractStatusTerminated ContractStatus = "terminated"
)

// Valid returns true when the status is a supported value.
func (s ContractStatus) Valid() bool {
	switch s {
	case ContractStatusDraft, ContractStatusSent, ContractStatusSigned, ContractStatusActive, ContractStatusCompleted, ContractStatusTerminated:
		return true
	default:
		return false
	}
}

// RateBasis decides how a contract's rate snapshot turns into revenue.
type RateBasis string

const (
	RateBasisPerLesson RateBasis = "per_lesson"
	RateBasisPerMonth  RateBasis = "per_month"
)

// Valid returns true when the basis is a supported value.
func (b RateBasis) Valid() bool {
	return b == RateBasisPerLesson || b == RateBasisPerMonth
}

// Contract is the read model of a tutoring contract. The rate is a snapshot
// taken when the contract was issued, in minor currency units.
type Contract struct {
	ID           string         `db:"id" json:"id"`
	StudentID    string         `db:"student_id" json:"student_id"`
	TutorID      string         `db:"tutor_id" json:"tutor_id"`
	Subject      string         `db:"subject" json:"subject"`
	Recurrence   types.JSONText `db:"recurrence" json:"recurrence"`
	StartDate    time.Time      `db:"start_date" json:"start_date"`
	EndDate      *time.Time     `db:"end_date" json:"end_date,omitempty"`
	Status       ContractStatus `db:"status" json:"status"`
	RateAmount   int64          `db:"rate_amount" json:"rate_amount"`
	RateBasis    RateBasis      `db:"rate_basis" json:"rate_basis"`
	Currency     string         `db:"currency" json:"currency"`
	TerminatedAt *time.Time     `db:"terminated_at" json:"terminated_at,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// Issued reports whether the contract has left draft.
func (c *Contract) Issued() bool {
	return c.Status != ContractStatusDraft
}

// ScheduleEnd returns the last day lessons may be scheduled, or nil when open
// ended. A terminated contract owes nothing from its termination date on.
func (c *Contract) ScheduleEnd() *time.Time {
	end := c.EndDate
	if c.Status == ContractStatusTerminated && c.TerminatedAt != nil {
		last := c.TerminatedAt.AddDate(0, 0, -1)
		if end == nil || last.Before(*end) {
			end = &last
		}
	}
	return end
}

// ClosedAt reports whether an occurrence scheduled on t falls on or after the
// termination date.
func (c *Contract) ClosedAt(t time.Time) bool {
	if c.Status != ContractStatusTerminated {
		return false
	}
	if c.TerminatedAt == nil {
		return true
	}
	return !t.Before(*c.TerminatedAt)
}

// Recurrence is the stored schedule definition: weekday/time pairs repeated
// every IntervalWeeks, and/or an explicit list of dates.
type Recurrence struct {
	Weekly        []WeeklySlot `json:"weekly,omitempty"`
	IntervalWeeks int          `json:"intervalWeeks,omitempty"`
	Dates         []string     `json:"dates,omitempty"`
}

// WeeklySlot is a weekday with an optional HH:MM time of day.
type WeeklySlot struct {
	Weekday string `json:"weekday"`
	Time    string `json:"time,omitempty"`
}
