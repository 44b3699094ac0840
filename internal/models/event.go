package models

import "time"

// EventLessonSubstituted is emitted after a substitution commits.
const EventLessonSubstituted = "lesson.substituted"

// SubstitutionEvent tells the notification service a lesson moved.
type SubstitutionEvent struct {
	EventID       string    `json:"event_id"`
	Type          string    `json:"type"`
	ReservationID string    `json:"reservation_id"`
	ContractID    string    `json:"contract_id"`
	StudentID     string    `json:"student_id"`
	OriginalAt    time.Time `json:"original_at"`
	SubstituteAt  time.Time `json:"substitute_at"`
	EmittedAt     time.Time `json:"emitted_at"`
}
