package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// AttendanceStatus names the outcome of a lesson occurrence.
type AttendanceStatus string

const (
	AttendanceAttended   AttendanceStatus = "attended"
	AttendanceAbsent     AttendanceStatus = "absent"
	AttendanceSubstitute AttendanceStatus = "substitute"
	AttendancePending    AttendanceStatus = "pending"
)

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendanceAttended, AttendanceAbsent, AttendanceSubstitute, AttendancePending:
		return true
	default:
		return false
	}
}

// Outcome is the closed set of attendance outcomes. Only Substituted carries
// a rescheduled instant, so a substitute time cannot exist without the
// substitute status.
type Outcome interface {
	Status() AttendanceStatus
	outcome()
}

// Attended means the lesson took place.
type Attended struct{}

// Absent means the student missed the lesson.
type Absent struct{}

// Pending means the outcome has not been decided.
type Pending struct{}

// Substituted means the lesson was moved to At.
type Substituted struct {
	At time.Time
}

func (Attended) Status() AttendanceStatus    { return AttendanceAttended }
func (Absent) Status() AttendanceStatus      { return AttendanceAbsent }
func (Pending) Status() AttendanceStatus     { return AttendancePending }
func (Substituted) Status() AttendanceStatus { return AttendanceSubstitute }

func (Attended) outcome()    {}
func (Absent) outcome()      {}
func (Pending) outcome()     {}
func (Substituted) outcome() {}

// NewOutcome builds an outcome from a status and optional substitute instant.
func NewOutcome(status AttendanceStatus, substituteAt *time.Time) (Outcome, error) {
	switch status {
	case AttendanceAttended:
		if substituteAt != nil {
			return nil, fmt.Errorf("substitute time only allowed for status %q", AttendanceSubstitute)
		}
		return Attended{}, nil
	case AttendanceAbsent:
		if substituteAt != nil {
			return nil, fmt.Errorf("substitute time only allowed for status %q", AttendanceSubstitute)
		}
		return Absent{}, nil
	case AttendancePending:
		if substituteAt != nil {
			return nil, fmt.Errorf("substitute time only allowed for status %q", AttendanceSubstitute)
		}
		return Pending{}, nil
	case AttendanceSubstitute:
		if substituteAt == nil || substituteAt.IsZero() {
			return nil, fmt.Errorf("status %q requires a substitute time", AttendanceSubstitute)
		}
		return Substituted{At: substituteAt.UTC()}, nil
	default:
		return nil, fmt.Errorf("unknown attendance status %q", status)
	}
}

// AttendanceLog is the ledger entry for one occurrence. OccurredAt is the
// originally scheduled instant and never changes after creation.
type AttendanceLog struct {
	ID            string
	ReservationID string
	ContractID    string
	StudentID     string
	OccurredAt    time.Time
	Outcome       Outcome
	Voided        bool
	VoidedAt      *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Status returns the outcome status, pending when unset.
func (l *AttendanceLog) Status() AttendanceStatus {
	if l.Outcome == nil {
		return AttendancePending
	}
	return l.Outcome.Status()
}

// SubstituteAt returns the rescheduled instant for substituted entries.
func (l *AttendanceLog) SubstituteAt() *time.Time {
	if s, ok := l.Outcome.(Substituted); ok {
		at := s.At
		return &at
	}
	return nil
}

// EffectiveAt is the instant used to attribute the entry to a period.
func (l *AttendanceLog) EffectiveAt() time.Time {
	if s, ok := l.Outcome.(Substituted); ok {
		return s.At
	}
	return l.OccurredAt
}

// CountsAsLesson reports whether the entry represents a delivered or owed
// lesson: attended, or moved to its substitute date.
func (l *AttendanceLog) CountsAsLesson() bool {
	switch l.Outcome.(type) {
	case Attended, Substituted:
		return true
	default:
		return false
	}
}

type attendanceLogJSON struct {
	ID            string           `json:"id"`
	ReservationID string           `json:"reservation_id"`
	ContractID    string           `json:"contract_id"`
	StudentID     string           `json:"student_id"`
	OccurredAt    time.Time        `json:"occurred_at"`
	Status        AttendanceStatus `json:"status"`
	SubstituteAt  *time.Time       `json:"substitute_at"`
	EffectiveAt   time.Time        `json:"effective_at"`
	Voided        bool             `json:"voided"`
	VoidedAt      *time.Time       `json:"voided_at,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// MarshalJSON flattens the outcome into status/substitute_at fields.
func (l AttendanceLog) MarshalJSON() ([]byte, error) {
	return json.Marshal(attendanceLogJSON{
		ID:            l.ID,
		ReservationID: l.ReservationID,
		ContractID:    l.ContractID,
		StudentID:     l.StudentID,
		OccurredAt:    l.OccurredAt,
		Status:        l.Status(),
		SubstituteAt:  l.SubstituteAt(),
		EffectiveAt:   l.EffectiveAt(),
		Voided:        l.Voided,
		VoidedAt:      l.VoidedAt,
		CreatedAt:     l.CreatedAt,
		UpdatedAt:     l.UpdatedAt,
	})
}

// UnmarshalJSON rebuilds the outcome variant.
func (l *AttendanceLog) UnmarshalJSON(data []byte) error {
	var raw attendanceLogJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	outcome, err := NewOutcome(raw.Status, raw.SubstituteAt)
	if err != nil {
		return err
	}
	*l = AttendanceLog{
		ID:            raw.ID,
		ReservationID: raw.ReservationID,
		ContractID:    raw.ContractID,
		StudentID:     raw.StudentID,
		OccurredAt:    raw.OccurredAt,
		Outcome:       outcome,
		Voided:        raw.Voided,
		VoidedAt:      raw.VoidedAt,
		CreatedAt:     raw.CreatedAt,
		UpdatedAt:     raw.UpdatedAt,
	}
	return nil
}

// AttendanceFilter scopes ledger history queries.
type AttendanceFilter struct {
	ContractID    string
	From          *time.Time
	To            *time.Time
	IncludeVoided bool
}
