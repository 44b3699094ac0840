package models

import "time"

// Audit actions recorded for correction tools.
const (
	AuditActionVoidAttendance   = "ATTENDANCE_VOID"
	AuditActionUndoSubstitution = "RESERVATION_UNDO_SUBSTITUTION"
	AuditActionOverrideDate     = "RESERVATION_OVERRIDE_DATE"
	AuditActionPurgeAttendance  = "CONTRACT_ATTENDANCE_PURGE"
	AuditActionCancelOccurrence = "RESERVATION_CANCEL"
	AuditResourceAttendance     = "attendance_log"
	AuditResourceReservation    = "reservation"
	AuditResourceContract       = "contract"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	ActorID    string    `db:"actor_id" json:"actor_id"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID string    `db:"resource_id" json:"resource_id"`
	Reason     *string   `db:"reason" json:"reason,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
