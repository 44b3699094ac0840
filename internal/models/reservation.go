package models

import (
	"fmt"
	"time"
)

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// TimeLayout is the wire format for times of day.
const TimeLayout = "15:04"

// Slot is a calendar date with an optional time of day.
type Slot struct {
	Date time.Time `json:"date"`
	Time string    `json:"time,omitempty"`
}

// NewSlot normalises date to midnight UTC.
func NewSlot(date time.Time, tod string) Slot {
	y, m, d := date.Date()
	return Slot{Date: time.Date(y, m, d, 0, 0, 0, 0, time.UTC), Time: tod}
}

// Key identifies the slot within a contract.
func (s Slot) Key() string {
	if s.Time == "" {
		return s.Date.Format(DateLayout)
	}
	return s.Date.Format(DateLayout) + "T" + s.Time
}

// Instant resolves the slot to a point in time in loc. Slots without a time
// resolve to local midnight.
func (s Slot) Instant(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	hour, minute := 0, 0
	if s.Time != "" {
		if t, err := time.Parse(TimeLayout, s.Time); err == nil {
			hour, minute = t.Hour(), t.Minute()
		}
	}
	y, m, d := s.Date.Date()
	return time.Date(y, m, d, hour, minute, 0, 0, loc)
}

func (s Slot) String() string { return s.Key() }

// SlotFromInstant converts an instant back to a slot in loc. withTime controls
// whether the time of day is kept.
func SlotFromInstant(t time.Time, loc *time.Location, withTime bool) Slot {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	tod := ""
	if withTime {
		tod = local.Format(TimeLayout)
	}
	return NewSlot(local, tod)
}

// ParseSlot parses a YYYY-MM-DD date and optional HH:MM time.
func ParseSlot(date, tod string) (Slot, error) {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return Slot{}, fmt.Errorf("invalid date %q", date)
	}
	if tod != "" {
		if _, err := time.Parse(TimeLayout, tod); err != nil {
			return Slot{}, fmt.Errorf("invalid time %q", tod)
		}
	}
	return NewSlot(d, tod), nil
}

// Reservation is one concrete lesson occurrence of a contract. ScheduledDate
// and ScheduledTime record the slot the recurrence produced and never change;
// ReservedDate and ReservedTime are where the lesson currently sits.
type Reservation struct {
	ID            string    `db:"id" json:"id"`
	ContractID    string    `db:"contract_id" json:"contract_id"`
	ScheduledDate time.Time `db:"scheduled_date" json:"scheduled_date"`
	ScheduledTime *string   `db:"scheduled_time" json:"scheduled_time,omitempty"`
	ReservedDate  time.Time `db:"reserved_date" json:"reserved_date"`
	ReservedTime  *string   `db:"reserved_time" json:"reserved_time,omitempty"`
	Voided        bool      `db:"voided" json:"voided"`
	Version       int       `db:"version" json:"version"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// NewReservation builds an unsaved reservation sitting on its scheduled slot.
func NewReservation(contractID string, slot Slot) Reservation {
	var tod *string
	if slot.Time != "" {
		v := slot.Time
		tod = &v
	}
	return Reservation{
		ContractID:    contractID,
		ScheduledDate: slot.Date,
		ScheduledTime: tod,
		ReservedDate:  slot.Date,
		ReservedTime:  cloneString(tod),
	}
}

// Slot returns where the reservation currently sits.
func (r *Reservation) Slot() Slot {
	return NewSlot(r.ReservedDate, derefString(r.ReservedTime))
}

// ScheduledSlot returns the slot produced by the recurrence.
func (r *Reservation) ScheduledSlot() Slot {
	return NewSlot(r.ScheduledDate, derefString(r.ScheduledTime))
}

// Moved reports whether the reservation no longer sits on its scheduled slot.
func (r *Reservation) Moved() bool {
	return r.Slot().Key() != r.ScheduledSlot().Key()
}

// ReservationFilter scopes listing queries.
type ReservationFilter struct {
	ContractID    string
	From          *time.Time
	To            *time.Time
	IncludeVoided bool
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
